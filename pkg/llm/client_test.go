package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablescout/tablescout/pkg/config"
)

// fakeProvider returns scripted replies/errors in sequence.
type fakeProvider struct {
	replies []string
	errs    []error
	calls   int
}

func (f *fakeProvider) Complete(_ context.Context, _ CompletionRequest) (string, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.replies) {
		return f.replies[i], nil
	}
	return f.replies[len(f.replies)-1], nil
}

func fastConfig() *config.LLMConfig {
	cfg := config.DefaultLLMConfig()
	cfg.MaxRetries = 2
	cfg.RetryBaseDelay = time.Millisecond
	return cfg
}

var gateSchema = MustCompileSchema("gate.json", `{
	"type": "object",
	"properties": {
		"is_food_query": {"type": "boolean"},
		"confidence": {"type": "number"}
	},
	"required": ["is_food_query", "confidence"],
	"additionalProperties": false
}`)

type gateReply struct {
	IsFoodQuery bool    `json:"is_food_query"`
	Confidence  float64 `json:"confidence"`
}

func TestInvoke_ValidReply(t *testing.T) {
	provider := &fakeProvider{replies: []string{`{"is_food_query": true, "confidence": 0.92}`}}
	client := NewClient(provider, fastConfig())

	var out gateReply
	err := client.Invoke(context.Background(), config.PurposeGate, Prompt{User: "pizza?"}, gateSchema, &out, Options{})
	require.NoError(t, err)
	assert.True(t, out.IsFoodQuery)
	assert.InDelta(t, 0.92, out.Confidence, 0.001)
	assert.Equal(t, 1, provider.calls)
}

func TestInvoke_FencedReply(t *testing.T) {
	provider := &fakeProvider{replies: []string{
		"```json\n{\"is_food_query\": false, \"confidence\": 0.3}\n```",
	}}
	client := NewClient(provider, fastConfig())

	var out gateReply
	err := client.Invoke(context.Background(), config.PurposeGate, Prompt{User: "tax advice"}, gateSchema, &out, Options{})
	require.NoError(t, err)
	assert.False(t, out.IsFoodQuery)
}

func TestInvoke_SchemaInvalidNotRetried(t *testing.T) {
	provider := &fakeProvider{replies: []string{`{"is_food_query": "yes"}`}}
	client := NewClient(provider, fastConfig())

	var out gateReply
	err := client.Invoke(context.Background(), config.PurposeGate, Prompt{}, gateSchema, &out, Options{})
	require.Error(t, err)

	var lerr *Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, KindSchemaInvalid, lerr.Kind)
	assert.False(t, lerr.Retriable())
	assert.Equal(t, 1, provider.calls, "schema failures must not be retried")
}

func TestInvoke_Retries5xxThenSucceeds(t *testing.T) {
	provider := &fakeProvider{
		errs:    []error{&ProviderError{StatusCode: 503, Err: errors.New("overloaded")}, nil},
		replies: []string{"", `{"is_food_query": true, "confidence": 0.8}`},
	}
	client := NewClient(provider, fastConfig())

	var out gateReply
	err := client.Invoke(context.Background(), config.PurposeGate, Prompt{}, gateSchema, &out, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, provider.calls)
}

func TestInvoke_AuthErrorFatal(t *testing.T) {
	provider := &fakeProvider{errs: []error{&ProviderError{StatusCode: 401, Err: errors.New("bad key")}}}
	client := NewClient(provider, fastConfig())

	var out gateReply
	err := client.Invoke(context.Background(), config.PurposeGate, Prompt{}, gateSchema, &out, Options{})
	require.Error(t, err)

	var lerr *Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, KindProviderAuth, lerr.Kind)
	assert.Equal(t, 1, provider.calls)
}

func TestInvoke_RetriesExhausted(t *testing.T) {
	boom := &ProviderError{StatusCode: 502, Err: errors.New("bad gateway")}
	provider := &fakeProvider{errs: []error{boom, boom, boom, boom}}
	client := NewClient(provider, fastConfig())

	var out gateReply
	err := client.Invoke(context.Background(), config.PurposeGate, Prompt{}, gateSchema, &out, Options{})
	require.Error(t, err)
	assert.Equal(t, KindProvider5xx, KindOf(err))
	// 1 initial + MaxRetries additional attempts
	assert.Equal(t, 3, provider.calls)
}

func TestInvoke_UnknownPurpose(t *testing.T) {
	client := NewClient(&fakeProvider{replies: []string{"{}"}}, fastConfig())

	var out map[string]any
	err := client.Invoke(context.Background(), config.Purpose("bogus"), Prompt{}, nil, &out, Options{})
	assert.Error(t, err)
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"Sure, here you go:\n{\"a\":1}", `{"a":1}`},
		{"```\n[1,2]\n```", `[1,2]`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, extractJSON(tt.in))
	}
}

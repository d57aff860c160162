package pipeline

import "github.com/tablescout/tablescout/pkg/models"

// outcome is the stage-boundary result: plain success, success via a
// recorded fallback, or a pipeline-terminating state. The orchestrator
// dispatches on it instead of threading errors through control flow.
type outcome struct {
	fallbackReason string
	terminal       *terminalState
}

// terminalState ends the pipeline. failed=false is a non-failure terminal
// (gate rejection, clarify) that still produces a DONE_SUCCESS record with
// an assistant message and no places.
type terminalState struct {
	failed    bool
	code      string
	message   string
	errType   string
	assistant *models.AssistantMessage
}

func success() outcome                   { return outcome{} }
func fallback(reason string) outcome     { return outcome{fallbackReason: reason} }
func terminate(t *terminalState) outcome { return outcome{terminal: t} }

// Reply documents for purposes without a dedicated model type.

type gateReply struct {
	IsPlaceQuery  bool    `json:"is_place_query"`
	QueryLanguage string  `json:"query_language"`
	Confidence    float64 `json:"confidence"`
	Reply         string  `json:"reply"`
}

type cuisineReply struct {
	KeepIDs    []string `json:"keep_ids"`
	Relaxation string   `json:"relaxation"`
}

type profileReply struct {
	Profile string `json:"profile"`
}

type assistantReply struct {
	Kind         string `json:"kind"`
	Text         string `json:"text"`
	BlocksSearch bool   `json:"blocks_search"`
}

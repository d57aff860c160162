package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablescout/tablescout/pkg/models"
)

func testClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func intPtr(v int) *int { return &v }

func newTestRecord(requestID, fingerprint string) *models.JobRecord {
	return &models.JobRecord{
		RequestID:    requestID,
		Fingerprint:  fingerprint,
		Status:       models.StatusPending,
		OwnerSession: "sess-abc",
	}
}

func TestJobStoreCreateAndGet(t *testing.T) {
	_, rdb := testClient(t)
	js := NewJobStore(rdb, 24*time.Hour)
	ctx := context.Background()

	rec := newTestRecord("req-1", "fp-1")
	require.NoError(t, js.CreateJob(ctx, rec))
	assert.False(t, rec.CreatedAt.IsZero())

	got, err := js.GetJob(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, "req-1", got.RequestID)
	assert.Equal(t, "fp-1", got.Fingerprint)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, 0, got.Progress)
	assert.Equal(t, "sess-abc", got.OwnerSession)
}

func TestJobStoreCreateDuplicateFails(t *testing.T) {
	_, rdb := testClient(t)
	js := NewJobStore(rdb, 24*time.Hour)
	ctx := context.Background()

	require.NoError(t, js.CreateJob(ctx, newTestRecord("req-1", "fp-1")))
	err := js.CreateJob(ctx, newTestRecord("req-1", "fp-2"))
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestJobStoreGetMissing(t *testing.T) {
	_, rdb := testClient(t)
	js := NewJobStore(rdb, 24*time.Hour)

	_, err := js.GetJob(context.Background(), "no-such")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJobStoreFindByFingerprint(t *testing.T) {
	_, rdb := testClient(t)
	js := NewJobStore(rdb, 24*time.Hour)
	ctx := context.Background()

	require.NoError(t, js.CreateJob(ctx, newTestRecord("req-1", "fp-1")))

	got, err := js.FindByFingerprint(ctx, "fp-1")
	require.NoError(t, err)
	assert.Equal(t, "req-1", got.RequestID)

	_, err = js.FindByFingerprint(ctx, "fp-unknown")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJobStoreFingerprintIndexFirstOwnerKept(t *testing.T) {
	_, rdb := testClient(t)
	js := NewJobStore(rdb, 24*time.Hour)
	ctx := context.Background()

	require.NoError(t, js.CreateJob(ctx, newTestRecord("req-1", "fp-1")))
	require.NoError(t, js.CreateJob(ctx, newTestRecord("req-2", "fp-1")))

	// A second create never steals the index from the first owner.
	got, err := js.FindByFingerprint(ctx, "fp-1")
	require.NoError(t, err)
	assert.Equal(t, "req-1", got.RequestID)
}

func TestJobStoreClaimFingerprint(t *testing.T) {
	_, rdb := testClient(t)
	js := NewJobStore(rdb, 24*time.Hour)
	ctx := context.Background()

	owner, claimed, err := js.ClaimFingerprint(ctx, "fp-1", "req-1")
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, "req-1", owner)

	owner, claimed, err = js.ClaimFingerprint(ctx, "fp-1", "req-2")
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, "req-1", owner)
}

func TestJobStoreClaimExpiresWithoutCreate(t *testing.T) {
	mr, rdb := testClient(t)
	js := NewJobStore(rdb, 24*time.Hour)
	ctx := context.Background()

	_, claimed, err := js.ClaimFingerprint(ctx, "fp-1", "req-1")
	require.NoError(t, err)
	require.True(t, claimed)

	// The claim was never followed by a create: it evaporates on its own.
	mr.FastForward(time.Minute)
	_, claimed, err = js.ClaimFingerprint(ctx, "fp-1", "req-2")
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestJobStoreCreateExtendsClaim(t *testing.T) {
	mr, rdb := testClient(t)
	js := NewJobStore(rdb, 24*time.Hour)
	ctx := context.Background()

	_, claimed, err := js.ClaimFingerprint(ctx, "fp-1", "req-1")
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, js.CreateJob(ctx, newTestRecord("req-1", "fp-1")))

	// Well past the claim window but within the record TTL.
	mr.FastForward(10 * time.Minute)
	got, err := js.FindByFingerprint(ctx, "fp-1")
	require.NoError(t, err)
	assert.Equal(t, "req-1", got.RequestID)
}

func TestJobStoreTakeOverFingerprint(t *testing.T) {
	_, rdb := testClient(t)
	js := NewJobStore(rdb, 24*time.Hour)
	ctx := context.Background()

	_, claimed, err := js.ClaimFingerprint(ctx, "fp-1", "req-1")
	require.NoError(t, err)
	require.True(t, claimed)

	// A takeover naming the wrong current owner loses.
	took, err := js.TakeOverFingerprint(ctx, "fp-1", "req-x", "req-2")
	require.NoError(t, err)
	assert.False(t, took)
	owner, _, err := js.ClaimFingerprint(ctx, "fp-1", "req-3")
	require.NoError(t, err)
	assert.Equal(t, "req-1", owner)

	took, err = js.TakeOverFingerprint(ctx, "fp-1", "req-1", "req-2")
	require.NoError(t, err)
	assert.True(t, took)
	owner, _, err = js.ClaimFingerprint(ctx, "fp-1", "req-4")
	require.NoError(t, err)
	assert.Equal(t, "req-2", owner)
}

func TestJobStoreReleaseFingerprint(t *testing.T) {
	_, rdb := testClient(t)
	js := NewJobStore(rdb, 24*time.Hour)
	ctx := context.Background()

	_, claimed, err := js.ClaimFingerprint(ctx, "fp-1", "req-1")
	require.NoError(t, err)
	require.True(t, claimed)

	// A non-owner release is a no-op.
	require.NoError(t, js.ReleaseFingerprint(ctx, "fp-1", "req-other"))
	_, claimed, err = js.ClaimFingerprint(ctx, "fp-1", "req-2")
	require.NoError(t, err)
	assert.False(t, claimed)

	require.NoError(t, js.ReleaseFingerprint(ctx, "fp-1", "req-1"))
	_, claimed, err = js.ClaimFingerprint(ctx, "fp-1", "req-2")
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestJobStoreStatusTransitions(t *testing.T) {
	_, rdb := testClient(t)
	js := NewJobStore(rdb, 24*time.Hour)
	ctx := context.Background()

	require.NoError(t, js.CreateJob(ctx, newTestRecord("req-1", "fp-1")))

	require.NoError(t, js.SetStatus(ctx, "req-1", models.StatusRunning, intPtr(25)))
	require.NoError(t, js.SetStatus(ctx, "req-1", models.StatusDoneSuccess, intPtr(100)))

	// Terminal states are sticky.
	err := js.SetStatus(ctx, "req-1", models.StatusRunning, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	err = js.SetStatus(ctx, "req-1", models.StatusDoneFailed, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// Repeating the terminal status is an idempotent no-op.
	assert.NoError(t, js.SetStatus(ctx, "req-1", models.StatusDoneSuccess, nil))
}

func TestJobStorePendingMayFailDirectly(t *testing.T) {
	_, rdb := testClient(t)
	js := NewJobStore(rdb, 24*time.Hour)
	ctx := context.Background()

	require.NoError(t, js.CreateJob(ctx, newTestRecord("req-1", "fp-1")))
	require.NoError(t, js.SetStatus(ctx, "req-1", models.StatusDoneFailed, nil))

	got, err := js.GetJob(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDoneFailed, got.Status)
}

func TestJobStoreRejectsLegacyStatusWrite(t *testing.T) {
	_, rdb := testClient(t)
	js := NewJobStore(rdb, 24*time.Hour)
	ctx := context.Background()

	require.NoError(t, js.CreateJob(ctx, newTestRecord("req-1", "fp-1")))
	err := js.SetStatus(ctx, "req-1", models.JobStatus("FAILED"), nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestJobStoreNormalizesLegacyStatusOnRead(t *testing.T) {
	mr, rdb := testClient(t)
	js := NewJobStore(rdb, 24*time.Hour)
	ctx := context.Background()

	// A record written by an older build.
	mr.Set("job:req-old", `{"request_id":"req-old","fingerprint":"fp","status":"FAILED","progress":50}`)

	got, err := js.GetJob(ctx, "req-old")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDoneFailed, got.Status)
}

func TestJobStoreProgressMonotonic(t *testing.T) {
	_, rdb := testClient(t)
	js := NewJobStore(rdb, 24*time.Hour)
	ctx := context.Background()

	require.NoError(t, js.CreateJob(ctx, newTestRecord("req-1", "fp-1")))
	require.NoError(t, js.SetStatus(ctx, "req-1", models.StatusRunning, intPtr(60)))

	err := js.SetStatus(ctx, "req-1", models.StatusRunning, intPtr(40))
	assert.ErrorIs(t, err, ErrNonMonotonicProgress)

	got, err := js.GetJob(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, 60, got.Progress)

	// Equal progress is allowed.
	assert.NoError(t, js.SetStatus(ctx, "req-1", models.StatusRunning, intPtr(60)))
}

func TestJobStoreSetResultAndError(t *testing.T) {
	_, rdb := testClient(t)
	js := NewJobStore(rdb, 24*time.Hour)
	ctx := context.Background()

	require.NoError(t, js.CreateJob(ctx, newTestRecord("req-1", "fp-1")))

	result := &models.SearchResult{
		Places: []models.Place{{ID: "p1", Name: "Cafe Uno", Rating: 4.4}},
		Assistant: models.AssistantMessage{
			Kind: models.AssistantSummary,
			Text: "Found one cafe.",
		},
		Meta: models.ResultMeta{ReturnedCount: 1, ContractsVersion: "search_contracts_v1"},
	}
	require.NoError(t, js.SetResult(ctx, "req-1", result))

	jobErr := &models.JobError{Code: "PROVIDER_TIMEOUT", Message: "upstream timed out"}
	require.NoError(t, js.SetError(ctx, "req-1", jobErr))

	got, err := js.GetJob(ctx, "req-1")
	require.NoError(t, err)
	require.NotNil(t, got.Result)
	assert.Equal(t, "Cafe Uno", got.Result.Places[0].Name)
	require.NotNil(t, got.Error)
	assert.Equal(t, "PROVIDER_TIMEOUT", got.Error.Code)
}

func TestJobStoreTouchBumpsUpdatedAt(t *testing.T) {
	_, rdb := testClient(t)
	js := NewJobStore(rdb, 24*time.Hour)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	js.now = func() time.Time { return base }
	require.NoError(t, js.CreateJob(ctx, newTestRecord("req-1", "fp-1")))

	js.now = func() time.Time { return base.Add(30 * time.Second) }
	require.NoError(t, js.Touch(ctx, "req-1"))

	got, err := js.GetJob(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, base.Add(30*time.Second), got.UpdatedAt)
	assert.Equal(t, base, got.CreatedAt)
}

func TestJobStoreRecordExpires(t *testing.T) {
	mr, rdb := testClient(t)
	js := NewJobStore(rdb, time.Hour)
	ctx := context.Background()

	require.NoError(t, js.CreateJob(ctx, newTestRecord("req-1", "fp-1")))
	mr.FastForward(2 * time.Hour)

	_, err := js.GetJob(ctx, "req-1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = js.FindByFingerprint(ctx, "fp-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJobStoreUpdateKeepsTTL(t *testing.T) {
	mr, rdb := testClient(t)
	js := NewJobStore(rdb, time.Hour)
	ctx := context.Background()

	require.NoError(t, js.CreateJob(ctx, newTestRecord("req-1", "fp-1")))
	mr.FastForward(50 * time.Minute)
	require.NoError(t, js.SetStatus(ctx, "req-1", models.StatusRunning, intPtr(10)))

	// The update must not extend the record's lifetime.
	mr.FastForward(20 * time.Minute)
	_, err := js.GetJob(ctx, "req-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTicketIssueAndRedeem(t *testing.T) {
	_, rdb := testClient(t)
	ts := NewTicketStore(rdb, time.Minute)
	ctx := context.Background()

	ticket, err := ts.Issue(ctx, "sess-abc")
	require.NoError(t, err)
	assert.NotEmpty(t, ticket.ID)

	redeemed, err := ts.Redeem(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, "sess-abc", redeemed.SessionHash)

	// Single use: a second redemption fails.
	_, err = ts.Redeem(ctx, ticket.ID)
	assert.ErrorIs(t, err, ErrTicketInvalid)
}

func TestTicketExpires(t *testing.T) {
	mr, rdb := testClient(t)
	ts := NewTicketStore(rdb, time.Minute)
	ctx := context.Background()

	ticket, err := ts.Issue(ctx, "sess-abc")
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)
	_, err = ts.Redeem(ctx, ticket.ID)
	assert.ErrorIs(t, err, ErrTicketInvalid)
}

func TestTicketRedeemUnknown(t *testing.T) {
	_, rdb := testClient(t)
	ts := NewTicketStore(rdb, time.Minute)

	_, err := ts.Redeem(context.Background(), "bogus")
	assert.ErrorIs(t, err, ErrTicketInvalid)
}

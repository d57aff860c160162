package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tablescout/tablescout/pkg/models"
)

// JobStore persists search job records keyed by request id, with a
// fingerprint index for dedup lookups.
type JobStore struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

// NewJobStore creates a job store. ttl applies to both the record and its
// fingerprint index entry.
func NewJobStore(rdb *redis.Client, ttl time.Duration) *JobStore {
	return &JobStore{rdb: rdb, ttl: ttl, now: time.Now}
}

func jobKey(requestID string) string  { return "job:" + requestID }
func fpKey(fingerprint string) string { return "jobfp:" + fingerprint }

// claimTTL bounds a fingerprint claim whose record never gets written, so a
// crash between claim and create cannot wedge dedup for the record TTL.
const claimTTL = 30 * time.Second

// setIfOwner retargets or extends the fingerprint index only while the
// expected owner still holds it.
var setIfOwner = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
  return 1
end
return 0
`)

// delIfOwner drops the index only while the expected owner still holds it.
var delIfOwner = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// bindIfFree writes the index when it is unset or already points at the
// caller, leaving a claim another submitter holds untouched.
var bindIfFree = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur == false or cur == ARGV[1] then
  redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
  return 1
end
return 0
`)

// ClaimFingerprint takes the dedup index for requestID when it is free.
// Identical concurrent submits race here and exactly one wins; losers get
// the winning request id back. A fresh claim holds a short TTL until
// CreateJob extends it to the record TTL.
func (s *JobStore) ClaimFingerprint(ctx context.Context, fingerprint, requestID string) (string, bool, error) {
	for i := 0; i < 2; i++ {
		ok, err := s.rdb.SetNX(ctx, fpKey(fingerprint), requestID, claimTTL).Result()
		if err != nil {
			return "", false, fmt.Errorf("claiming fingerprint: %w", err)
		}
		if ok {
			return requestID, true, nil
		}
		owner, err := s.rdb.Get(ctx, fpKey(fingerprint)).Result()
		if errors.Is(err, redis.Nil) {
			continue // owner expired between SETNX and GET
		}
		if err != nil {
			return "", false, fmt.Errorf("reading fingerprint claim: %w", err)
		}
		return owner, false, nil
	}
	return "", false, fmt.Errorf("fingerprint claim for %s kept expiring", fingerprint)
}

// TakeOverFingerprint retargets the dedup index from oldID to newID, used
// when arbitration finds the claimed job no longer reusable. Returns false
// when a concurrent submitter won the takeover first.
func (s *JobStore) TakeOverFingerprint(ctx context.Context, fingerprint, oldID, newID string) (bool, error) {
	n, err := setIfOwner.Run(ctx, s.rdb, []string{fpKey(fingerprint)}, oldID, newID, s.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("retargeting fingerprint index: %w", err)
	}
	return n == 1, nil
}

// ReleaseFingerprint drops the claim while requestID still owns it. Called
// when record creation fails after a successful claim.
func (s *JobStore) ReleaseFingerprint(ctx context.Context, fingerprint, requestID string) error {
	if err := delIfOwner.Run(ctx, s.rdb, []string{fpKey(fingerprint)}, requestID).Err(); err != nil {
		return fmt.Errorf("releasing fingerprint claim: %w", err)
	}
	return nil
}

// CreateJob writes a fresh PENDING record. Fails with ErrAlreadyExists when
// the request id is taken. The fingerprint index is bound to the new record
// only when it is free or already claimed by it; a claim held by a
// concurrent submit is never stolen.
func (s *JobStore) CreateJob(ctx context.Context, record *models.JobRecord) error {
	if record.RequestID == "" {
		return fmt.Errorf("request id is required")
	}
	now := s.now().UTC()
	record.CreatedAt = now
	record.UpdatedAt = now
	if record.Status == "" {
		record.Status = models.StatusPending
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshaling job record: %w", err)
	}

	ok, err := s.rdb.SetNX(ctx, jobKey(record.RequestID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("writing job record: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, record.RequestID)
	}

	if record.Fingerprint != "" {
		if err := bindIfFree.Run(ctx, s.rdb, []string{fpKey(record.Fingerprint)}, record.RequestID, s.ttl.Milliseconds()).Err(); err != nil {
			return fmt.Errorf("writing fingerprint index: %w", err)
		}
	}
	return nil
}

// GetJob loads a record. Legacy status spellings are normalized on read.
func (s *JobStore) GetJob(ctx context.Context, requestID string) (*models.JobRecord, error) {
	data, err := s.rdb.Get(ctx, jobKey(requestID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, requestID)
	}
	if err != nil {
		return nil, fmt.Errorf("reading job record: %w", err)
	}

	var record models.JobRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("unmarshaling job record: %w", err)
	}
	record.Status = models.NormalizeStatus(record.Status)
	return &record, nil
}

// FindByFingerprint resolves the fingerprint index to its record. Returns
// ErrNotFound when either the index or the record has expired.
func (s *JobStore) FindByFingerprint(ctx context.Context, fingerprint string) (*models.JobRecord, error) {
	requestID, err := s.rdb.Get(ctx, fpKey(fingerprint)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: fingerprint %s", ErrNotFound, fingerprint)
	}
	if err != nil {
		return nil, fmt.Errorf("reading fingerprint index: %w", err)
	}
	return s.GetJob(ctx, requestID)
}

// SetStatus transitions a job's status and optionally raises its progress.
// Transitions must follow the DAG (PENDING → RUNNING → terminal); setting
// the current status again is an idempotent no-op, which makes terminal
// writes safe to retry. Progress never decreases.
func (s *JobStore) SetStatus(ctx context.Context, requestID string, status models.JobStatus, progress *int) error {
	if !status.Valid() {
		return fmt.Errorf("%w: status %q", ErrInvalidTransition, status)
	}
	return s.update(ctx, requestID, func(r *models.JobRecord) error {
		if !canTransition(r.Status, status) {
			return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, r.Status, status)
		}
		if progress != nil {
			if *progress < r.Progress {
				return fmt.Errorf("%w: %d → %d", ErrNonMonotonicProgress, r.Progress, *progress)
			}
			r.Progress = *progress
		}
		r.Status = status
		return nil
	})
}

// SetResult attaches the search result. Callers treat failures as
// non-fatal: the terminal status transition is what ends the job.
func (s *JobStore) SetResult(ctx context.Context, requestID string, result *models.SearchResult) error {
	return s.update(ctx, requestID, func(r *models.JobRecord) error {
		r.Result = result
		return nil
	})
}

// SetError attaches failure detail. Best-effort, like SetResult.
func (s *JobStore) SetError(ctx context.Context, requestID string, jobErr *models.JobError) error {
	return s.update(ctx, requestID, func(r *models.JobRecord) error {
		r.Error = jobErr
		return nil
	})
}

// Touch refreshes updatedAt without other changes. Serves as the heartbeat
// that keeps a RUNNING record out of stale reclamation.
func (s *JobStore) Touch(ctx context.Context, requestID string) error {
	return s.update(ctx, requestID, func(*models.JobRecord) error { return nil })
}

// LookupOwner reports the owning session of a job for subscription
// ownership checks. A missing record is not an error: the subscription
// just stays pending.
func (s *JobStore) LookupOwner(ctx context.Context, requestID string) (string, bool, error) {
	record, err := s.GetJob(ctx, requestID)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return record.OwnerSession, true, nil
}

// ScanStale walks all job records and returns the ids of PENDING/RUNNING
// jobs whose last update is older than cutoff. Record reads race with
// writers, so callers must re-check status before reclaiming.
func (s *JobStore) ScanStale(ctx context.Context, cutoff time.Time) ([]string, error) {
	var stale []string
	iter := s.rdb.Scan(ctx, 0, jobKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.rdb.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // expired between scan and read
		}
		if err != nil {
			return nil, fmt.Errorf("reading job record during scan: %w", err)
		}
		var record models.JobRecord
		if err := json.Unmarshal(data, &record); err != nil {
			continue // skip corrupt records, the TTL will clear them
		}
		switch models.NormalizeStatus(record.Status) {
		case models.StatusPending, models.StatusRunning:
			if record.UpdatedAt.Before(cutoff) {
				stale = append(stale, record.RequestID)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scanning job records: %w", err)
	}
	return stale, nil
}

// update is the shared read-modify-write. Only the owning pipeline writes a
// given record (the fingerprint claim hands ownership over at submit time),
// so optimistic concurrency is unnecessary here.
func (s *JobStore) update(ctx context.Context, requestID string, mutate func(*models.JobRecord) error) error {
	record, err := s.GetJob(ctx, requestID)
	if err != nil {
		return err
	}
	if err := mutate(record); err != nil {
		return err
	}
	record.UpdatedAt = s.now().UTC()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshaling job record: %w", err)
	}
	if err := s.rdb.Set(ctx, jobKey(requestID), data, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("writing job record: %w", err)
	}
	return nil
}

// canTransition encodes the status DAG. PENDING may fail directly (stale
// reclamation of never-started jobs); terminal states accept only repeats.
func canTransition(from, to models.JobStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case models.StatusPending:
		return to == models.StatusRunning || to == models.StatusDoneSuccess || to == models.StatusDoneFailed
	case models.StatusRunning:
		return to == models.StatusDoneSuccess || to == models.StatusDoneFailed
	}
	return false
}

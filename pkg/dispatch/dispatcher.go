// Package dispatch owns the job submission path: idempotency arbitration,
// record creation, and handing accepted jobs to the pipeline under a
// concurrency bound.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tablescout/tablescout/pkg/config"
	"github.com/tablescout/tablescout/pkg/models"
	"github.com/tablescout/tablescout/pkg/store"
)

// Executor runs a search job to its terminal state. The pipeline is the
// production implementation.
type Executor interface {
	Execute(ctx context.Context, requestID string, req *models.SearchRequest)
}

// SubscriptionActivator promotes socket subscriptions that arrived before
// the job existed. The push registry is the production implementation.
type SubscriptionActivator interface {
	ActivatePending(requestID, ownerSession string)
}

// Decision names the dedup arbitration outcome for a submit.
type Decision string

// Arbitration outcomes.
const (
	DecisionNewJob            Decision = "NEW_JOB"
	DecisionReuseFreshSuccess Decision = "REUSE_FRESH_SUCCESS"
	DecisionReuseInFlight     Decision = "REUSE_IN_FLIGHT"
	DecisionReclaimedStale    Decision = "RECLAIMED_STALE"
)

// Submission is the outcome of a submit: either a fresh job or a pointer to
// an equivalent one already in flight or freshly completed.
type Submission struct {
	RequestID string
	Status    models.JobStatus
	Reused    bool
	Decision  Decision
}

// Dispatcher arbitrates duplicates and runs accepted jobs on background
// goroutines, at most MaxConcurrentSearches at a time. Jobs past the bound
// wait in PENDING until a slot frees.
type Dispatcher struct {
	log   *slog.Logger
	cfg   *config.Config
	jobs  *store.JobStore
	exec  Executor
	subs  SubscriptionActivator
	newID func() string
	now   func() time.Time

	sem     chan struct{}
	wg      sync.WaitGroup
	runCtx  context.Context
	cancel  context.CancelFunc
	stopped bool
	mu      sync.Mutex
}

// New creates a dispatcher. Jobs run under a context independent of the
// submitting HTTP request, so a client disconnect never cancels a search.
func New(log *slog.Logger, cfg *config.Config, jobs *store.JobStore, exec Executor, subs SubscriptionActivator) *Dispatcher {
	runCtx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		log:    log,
		cfg:    cfg,
		jobs:   jobs,
		exec:   exec,
		subs:   subs,
		newID:  uuid.NewString,
		now:    time.Now,
		sem:    make(chan struct{}, cfg.Dispatch.MaxConcurrentSearches),
		runCtx: runCtx,
		cancel: cancel,
	}
}

// Submit arbitrates the request against any equal-fingerprint job and either
// reuses it or creates and dispatches a new one. The fingerprint claim is
// taken atomically before the record is written, so identical concurrent
// submits converge on a single job.
func (d *Dispatcher) Submit(ctx context.Context, req *models.SearchRequest) (*Submission, error) {
	fingerprint := models.Fingerprint(req)
	log := d.log.With("fingerprint", fingerprint, "session_hash", req.SessionHash)

	requestID := d.newID()
	decision := DecisionNewJob
	owned := false

	owner, claimed, err := d.jobs.ClaimFingerprint(ctx, fingerprint, requestID)
	switch {
	case err != nil:
		// Dedup is best-effort: a broken index must not block new searches.
		log.Warn("dedup claim failed, treating as new job", "error", err)
	case claimed:
		owned = true
	default:
		sub, dec, took := d.arbitrate(ctx, fingerprint, requestID, owner, log)
		if sub != nil {
			return sub, nil
		}
		decision = dec
		owned = took
	}

	record := &models.JobRecord{
		RequestID:    requestID,
		Fingerprint:  fingerprint,
		Status:       models.StatusPending,
		OwnerSession: req.SessionHash,
		OwnerUser:    req.UserHash,
	}
	if err := d.jobs.CreateJob(ctx, record); err != nil {
		if owned {
			if relErr := d.jobs.ReleaseFingerprint(ctx, fingerprint, requestID); relErr != nil {
				log.Warn("fingerprint claim release failed", "error", relErr)
			}
		}
		return nil, fmt.Errorf("creating job record: %w", err)
	}

	attrs := []any{"decision", decision, "request_id", requestID}
	if decision == DecisionReclaimedStale {
		attrs = append(attrs, "reason", reasonStaleNoHeartbeat)
	}
	log.Info("dedup_decision", attrs...)

	// Sockets that subscribed before the job existed attach now that
	// ownership is knowable.
	d.subs.ActivatePending(requestID, record.OwnerSession)

	d.dispatch(requestID, req)
	return &Submission{RequestID: requestID, Status: models.StatusPending, Decision: decision}, nil
}

// arbitrate resolves a lost fingerprint claim. Fresh candidates are reused;
// anything else moves the claim onto newID so exactly one submitter creates
// the replacement job. Returns the reuse submission, or nil with the
// decision for the new job and whether the claim now belongs to newID.
// Stuck candidates are reclaimed as a side effect.
func (d *Dispatcher) arbitrate(ctx context.Context, fingerprint, newID, ownerID string, log *slog.Logger) (*Submission, Decision, bool) {
	existing, err := d.jobs.GetJob(ctx, ownerID)
	if errors.Is(err, store.ErrNotFound) {
		// The claim exists but its record is still being written: a
		// concurrent submit won moments ago. Attach to its job.
		log.Info("dedup_decision", "decision", DecisionReuseInFlight, "request_id", ownerID)
		return &Submission{
			RequestID: ownerID,
			Status:    models.StatusPending,
			Reused:    true,
			Decision:  DecisionReuseInFlight,
		}, "", false
	}
	if err != nil {
		log.Warn("dedup candidate read failed, treating as new job", "error", err)
		return nil, DecisionNewJob, false
	}

	age := d.now().UTC().Sub(existing.UpdatedAt)
	log.Info("dedup_candidate_found",
		"candidate_request_id", existing.RequestID,
		"candidate_status", existing.Status,
		"age_ms", age.Milliseconds())

	decision := DecisionNewJob
	switch existing.Status {
	case models.StatusDoneSuccess:
		if age <= d.cfg.Dedup.SuccessFreshWindow {
			log.Info("dedup_decision", "decision", DecisionReuseFreshSuccess,
				"request_id", existing.RequestID)
			return &Submission{
				RequestID: existing.RequestID,
				Status:    existing.Status,
				Reused:    true,
				Decision:  DecisionReuseFreshSuccess,
			}, "", false
		}
	case models.StatusPending, models.StatusRunning:
		if age <= d.cfg.Dedup.RunningMaxAge {
			log.Info("dedup_decision", "decision", DecisionReuseInFlight,
				"request_id", existing.RequestID)
			return &Submission{
				RequestID: existing.RequestID,
				Status:    existing.Status,
				Reused:    true,
				Decision:  DecisionReuseInFlight,
			}, "", false
		}
		if err := reclaimStale(ctx, d.jobs, existing.RequestID); err != nil {
			log.Error("failed to reclaim stale job", "request_id", existing.RequestID, "error", err)
		}
		decision = DecisionReclaimedStale
	}

	// The candidate is not reusable: take its claim. Losing the takeover
	// means a concurrent submit replaced it first, so attach to that job.
	took, err := d.jobs.TakeOverFingerprint(ctx, fingerprint, ownerID, newID)
	if err != nil {
		log.Warn("fingerprint takeover failed, treating as new job", "error", err)
		return nil, decision, false
	}
	if took {
		return nil, decision, true
	}
	replacement, err := d.jobs.FindByFingerprint(ctx, fingerprint)
	if err != nil {
		log.Warn("dedup reattach failed, treating as new job", "error", err)
		return nil, decision, false
	}
	log.Info("dedup_decision", "decision", DecisionReuseInFlight, "request_id", replacement.RequestID)
	return &Submission{
		RequestID: replacement.RequestID,
		Status:    replacement.Status,
		Reused:    true,
		Decision:  DecisionReuseInFlight,
	}, "", false
}

// dispatch hands the job to the executor on a background goroutine. The
// semaphore bounds concurrent pipelines; waiting jobs stay PENDING.
func (d *Dispatcher) dispatch(requestID string, req *models.SearchRequest) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		d.log.Warn("submit after shutdown, job stays pending for sweeper reclamation",
			"request_id", requestID)
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		select {
		case d.sem <- struct{}{}:
			defer func() { <-d.sem }()
		case <-d.runCtx.Done():
			return
		}
		d.exec.Execute(d.runCtx, requestID, req)
	}()
}

// ActiveSlots reports how many pipelines are currently running.
func (d *Dispatcher) ActiveSlots() int { return len(d.sem) }

// Shutdown stops accepting work and waits for in-flight jobs up to the
// configured grace period, then cancels whatever remains.
func (d *Dispatcher) Shutdown(ctx context.Context) {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	grace := d.cfg.Dispatch.GracefulShutdown
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
		d.log.Info("dispatcher drained")
	case <-timer.C:
		d.log.Warn("graceful shutdown grace period expired, cancelling in-flight jobs",
			"grace", grace)
		d.cancel()
		<-done
	case <-ctx.Done():
		d.cancel()
		<-done
	}
	d.cancel()
}

// reasonStaleNoHeartbeat marks reclaims of jobs whose progress writes
// stopped refreshing updatedAt.
const reasonStaleNoHeartbeat = "STALE_RUNNING_NO_HEARTBEAT"

// reclaimStale terminates a PENDING/RUNNING job whose heartbeat went quiet.
// The write is idempotent so concurrent reclaimers are safe.
func reclaimStale(ctx context.Context, jobs *store.JobStore, requestID string) error {
	slog.Warn("reclaiming stale job",
		"request_id", requestID,
		"reason", reasonStaleNoHeartbeat)

	if err := jobs.SetError(ctx, requestID, &models.JobError{
		Code:      models.ErrCodeStaleRunning,
		Message:   models.DefaultFailureMessage,
		ErrorType: "terminal",
	}); err != nil {
		return err
	}
	return jobs.SetStatus(ctx, requestID, models.StatusDoneFailed, nil)
}

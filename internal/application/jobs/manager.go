// Package jobs runs matching batches in the background for the HTTP API.
//
// At most one job runs per owner at a time, so two batches never compete
// for the same owner's transactions. Job state lives in memory; the durable
// record of every batch is the run history kept by the reconcile service.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eshaffer321/vat-reconcile/internal/application/reconcile"
	"github.com/eshaffer321/vat-reconcile/internal/domain/ledger"
)

// Kind selects the batch a job runs.
type Kind string

const (
	KindMatchCreditCards Kind = "match_credit_cards"
	KindMatchLineItems   Kind = "match_line_items"
)

// Status represents the current state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// DefaultMaxDuration is how long a job may run before its context expires.
const DefaultMaxDuration = 30 * time.Minute

var (
	// ErrJobNotFound is returned for an unknown job or another owner's job.
	ErrJobNotFound = fmt.Errorf("job %w", ledger.ErrNotFound)

	// ErrOwnerBusy is returned when the owner already has a job in flight.
	ErrOwnerBusy = errors.New("a matching job is already running for this owner")

	// ErrJobFinished is returned when cancelling a job that already ended.
	ErrJobFinished = errors.New("job already finished")
)

// Matcher runs the batches. *reconcile.Service implements it.
type Matcher interface {
	RunCreditCardMatching(ctx context.Context, owner ledger.OwnerID, overrides *reconcile.SettlementOverrides) (*reconcile.CreditCardRunResult, error)
	RunLineItemMatching(ctx context.Context, owner ledger.OwnerID, req reconcile.LineItemRunRequest) (*reconcile.BatchResult, error)
}

// Request holds the parameters of a job. Only the section matching Kind is used.
type Request struct {
	Kind        Kind                           `json:"kind"`
	CreditCards *reconcile.SettlementOverrides `json:"credit_cards,omitempty"`
	LineItems   reconcile.LineItemRunRequest   `json:"line_items"`
}

// Job is a snapshot of a background job.
type Job struct {
	ID          string         `json:"id"`
	OwnerID     ledger.OwnerID `json:"owner_id"`
	Kind        Kind           `json:"kind"`
	Status      Status         `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Error       string         `json:"error,omitempty"`

	CreditCards *reconcile.CreditCardRunResult `json:"credit_cards,omitempty"`
	LineItems   *reconcile.BatchResult         `json:"line_items,omitempty"`
}

// Finished reports whether the job has stopped.
func (j Job) Finished() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed || j.Status == StatusCancelled
}

type entry struct {
	job    Job
	req    Request
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager starts, tracks and cancels jobs.
type Manager struct {
	matcher     Matcher
	logger      *slog.Logger
	maxDuration time.Duration

	mu      sync.Mutex
	jobs    map[string]*entry
	running map[ledger.OwnerID]string // Owner -> job id in flight

	cleanupStop chan struct{}
	cleanupDone chan struct{}
}

// NewManager creates a job manager. A zero maxDuration selects DefaultMaxDuration.
func NewManager(matcher Matcher, logger *slog.Logger, maxDuration time.Duration) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if maxDuration <= 0 {
		maxDuration = DefaultMaxDuration
	}
	return &Manager{
		matcher:     matcher,
		logger:      logger,
		maxDuration: maxDuration,
		jobs:        make(map[string]*entry),
		running:     make(map[ledger.OwnerID]string),
	}
}

// Start starts a job asynchronously and returns its initial snapshot.
//
// The job does not inherit a request context: it outlives the HTTP request
// that started it and is stopped only by Cancel or the max duration.
func (m *Manager) Start(owner ledger.OwnerID, req Request) (Job, error) {
	if req.Kind != KindMatchCreditCards && req.Kind != KindMatchLineItems {
		return Job{}, fmt.Errorf("%w: job kind %q", ledger.ErrInvalidInput, req.Kind)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if id, busy := m.running[owner]; busy {
		return Job{}, fmt.Errorf("%w (job %s)", ErrOwnerBusy, id)
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.maxDuration)
	e := &entry{
		job: Job{
			ID:        uuid.NewString(),
			OwnerID:   owner,
			Kind:      req.Kind,
			Status:    StatusPending,
			StartedAt: time.Now().UTC(),
		},
		req:    req,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.jobs[e.job.ID] = e
	m.running[owner] = e.job.ID

	go m.run(ctx, e)

	m.logger.Info("job started", "job_id", e.job.ID, "owner", string(owner), "kind", req.Kind)
	return e.job, nil
}

func (m *Manager) run(ctx context.Context, e *entry) {
	owner := e.job.OwnerID
	var (
		cards *reconcile.CreditCardRunResult
		items *reconcile.BatchResult
		err   error
	)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
		m.finish(e, cards, items, err)
		e.cancel()
	}()

	m.mu.Lock()
	if e.job.Status == StatusPending {
		e.job.Status = StatusRunning
	}
	m.mu.Unlock()

	switch e.req.Kind {
	case KindMatchCreditCards:
		cards, err = m.matcher.RunCreditCardMatching(ctx, owner, e.req.CreditCards)
	case KindMatchLineItems:
		items, err = m.matcher.RunLineItemMatching(ctx, owner, e.req.LineItems)
	}
}

// finish records the outcome. A cancelled job keeps its status but gets
// the partial result.
func (m *Manager) finish(e *entry, cards *reconcile.CreditCardRunResult, items *reconcile.BatchResult, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job := &e.job
	job.CreditCards = cards
	job.LineItems = items
	if job.Status != StatusCancelled {
		now := time.Now().UTC()
		job.CompletedAt = &now
		if err != nil {
			job.Status = StatusFailed
			job.Error = err.Error()
		} else {
			job.Status = StatusCompleted
		}
	}
	if m.running[job.OwnerID] == job.ID {
		delete(m.running, job.OwnerID)
	}
	close(e.done)

	if err != nil && job.Status == StatusFailed {
		m.logger.Error("job failed", "job_id", job.ID, "owner", string(job.OwnerID), "error", err)
		return
	}
	m.logger.Info("job finished", "job_id", job.ID, "owner", string(job.OwnerID), "status", job.Status)
}

// Get returns a snapshot of one of the owner's jobs.
func (m *Manager) Get(owner ledger.OwnerID, id string) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.jobs[id]
	if !ok || e.job.OwnerID != owner {
		return Job{}, ErrJobNotFound
	}
	return e.job, nil
}

// List returns the owner's jobs, newest first.
func (m *Manager) List(owner ledger.OwnerID) []Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	jobs := make([]Job, 0)
	for _, e := range m.jobs {
		if e.job.OwnerID == owner {
			jobs = append(jobs, e.job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].StartedAt.After(jobs[j].StartedAt) })
	return jobs
}

// Cancel stops a pending or running job. The owner's lock is released once
// the batch has returned.
func (m *Manager) Cancel(owner ledger.OwnerID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.jobs[id]
	if !ok || e.job.OwnerID != owner {
		return ErrJobNotFound
	}
	if e.job.Finished() {
		return fmt.Errorf("%w: status=%s", ErrJobFinished, e.job.Status)
	}

	e.cancel()
	now := time.Now().UTC()
	e.job.Status = StatusCancelled
	e.job.CompletedAt = &now

	m.logger.Info("job cancelled", "job_id", id, "owner", string(owner))
	return nil
}

// Wait blocks until the job finishes or ctx is done.
func (m *Manager) Wait(ctx context.Context, owner ledger.OwnerID, id string) (Job, error) {
	m.mu.Lock()
	e, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok || e.job.OwnerID != owner {
		return Job{}, ErrJobNotFound
	}

	select {
	case <-e.done:
		return m.Get(owner, id)
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

// Cleanup removes finished jobs older than maxAge.
func (m *Manager) Cleanup(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, e := range m.jobs {
		if !isClosed(e.done) {
			continue
		}
		if e.job.CompletedAt != nil && e.job.CompletedAt.Before(cutoff) {
			delete(m.jobs, id)
			removed++
		}
	}

	if removed > 0 {
		m.logger.Debug("cleaned up old jobs", "removed", removed)
	}
	return removed
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// StartBackgroundCleanup periodically removes finished jobs older than
// maxAge. Call StopBackgroundCleanup to stop it.
func (m *Manager) StartBackgroundCleanup(interval, maxAge time.Duration) {
	m.cleanupStop = make(chan struct{})
	m.cleanupDone = make(chan struct{})

	go func() {
		defer close(m.cleanupDone)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-m.cleanupStop:
				return
			case <-ticker.C:
				m.Cleanup(maxAge)
			}
		}
	}()
}

// StopBackgroundCleanup stops the cleanup goroutine and waits for it.
func (m *Manager) StopBackgroundCleanup() {
	if m.cleanupStop == nil {
		return
	}
	close(m.cleanupStop)
	<-m.cleanupDone
	m.cleanupStop = nil
}

// Shutdown cancels every job in flight and waits for them to return or for
// ctx to be done.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.StopBackgroundCleanup()

	m.mu.Lock()
	var pending []*entry
	for _, e := range m.jobs {
		if !isClosed(e.done) {
			e.cancel()
			now := time.Now().UTC()
			e.job.Status = StatusCancelled
			e.job.CompletedAt = &now
			pending = append(pending, e)
		}
	}
	m.mu.Unlock()

	for _, e := range pending {
		select {
		case <-e.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

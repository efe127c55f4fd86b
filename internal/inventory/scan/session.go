package scan

import (
	"context"
	"sync"
	"time"

	"github.com/branchpos/branchpos-backend/internal/inventory/domain"
	"github.com/branchpos/branchpos-backend/internal/inventory/events"
	"github.com/branchpos/branchpos-backend/pkg/errors"
	"github.com/branchpos/branchpos-backend/pkg/logger"
	"github.com/branchpos/branchpos-backend/pkg/metrics"
	"github.com/google/uuid"
)

// Session is one operator's stock-entry grid
type Session struct {
	ID        string    `json:"id"`
	BranchID  string    `json:"branch_id,omitempty"`
	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	Buffer *Buffer `json:"-"`

	mu         sync.Mutex
	lastActive time.Time
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastActive = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Registry holds the live sessions of this process
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	committer     Committer
	publisher     *events.InventoryEventPublisher
	metrics       *metrics.Metrics
	logger        *logger.Logger
	feedbackDelay time.Duration
	now           func() time.Time
}

// NewRegistry creates an empty registry
func NewRegistry(committer Committer, publisher *events.InventoryEventPublisher, m *metrics.Metrics, feedbackDelay time.Duration, log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Nop()
	}
	return &Registry{
		sessions:      make(map[string]*Session),
		committer:     committer,
		publisher:     publisher,
		metrics:       m,
		logger:        log.WithComponent("scan-sessions"),
		feedbackDelay: feedbackDelay,
		now:           time.Now,
	}
}

// Create opens a session with a fresh catalog snapshot for the branch
func (r *Registry) Create(ctx context.Context, branchID, userID string) (*Session, error) {
	products, err := r.committer.ListProducts(ctx, branchID)
	if err != nil {
		return nil, err
	}

	now := r.now()
	s := &Session{
		ID:         uuid.NewString(),
		BranchID:   branchID,
		CreatedBy:  userID,
		CreatedAt:  now,
		Buffer:     NewBuffer(branchID, products, r.feedbackDelay, r.now),
		lastActive: now,
	}

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()

	r.logger.Info().Str("session_id", s.ID).Str("branch_id", branchID).Msg("scan session opened")
	return s, nil
}

// Owned returns a session only to the user who opened it. Another user, or a
// caller scoped to a different branch, gets NotFound as if the ID were unknown.
func (r *Registry) Owned(id, userID, branchID string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok || s.CreatedBy != userID || (branchID != "" && s.BranchID != branchID) {
		return nil, errors.NotFound("scan session")
	}
	s.touch(r.now())
	return s, nil
}

// Delete discards a session and its uncommitted rows
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return errors.NotFound("scan session")
	}
	delete(r.sessions, id)
	return nil
}

// Len returns the number of live sessions
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Scan records one scan in the session and counts the outcome. The session's
// catalog is re-read first so products added since it opened are recognised;
// if that read fails the previous snapshot is used and the save re-matches.
func (r *Registry) Scan(ctx context.Context, s *Session, rec domain.ScanRecord) (ScanResult, error) {
	if products, err := r.committer.ListProducts(ctx, s.BranchID); err != nil {
		r.logger.WithSession(s.ID).Warn().Err(err).Msg("catalog refresh failed, matching against the session snapshot")
	} else {
		s.Buffer.SetCatalog(products)
	}

	res, err := s.Buffer.Scan(rec)
	if err != nil {
		return res, err
	}
	r.metrics.ObserveScan(res.Result)
	return res, nil
}

// Save commits the session grid and reports the outcome
func (r *Registry) Save(ctx context.Context, s *Session) (*CommitReport, error) {
	log := r.logger.WithSession(s.ID)

	report, err := s.Buffer.SaveAll(ctx, r.committer)
	if report == nil {
		return nil, err
	}

	failed := 0
	if err != nil {
		failed = 1
		for _, row := range report.Rows {
			if row.Error != "" {
				log.Error().Err(err).Int("row_index", row.Index).Str("row_id", row.RowID).Msg("stock entry save stopped")
			}
		}
	} else {
		log.Info().Int("applied", report.Applied).Int("skipped", report.Skipped).Msg("stock entry saved")
	}

	r.metrics.ObserveCommit(report.Applied, failed)
	r.publisher.PublishScanBatchCommitted(ctx, s.ID, s.BranchID, report.Applied, report.Remaining)
	return report, err
}

// Reap drops sessions idle for longer than ttl and returns how many it removed
func (r *Registry) Reap(ttl time.Duration) int {
	cutoff := r.now().Add(-ttl)

	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, s := range r.sessions {
		if s.idleSince().Before(cutoff) {
			delete(r.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		r.logger.Info().Int("removed", removed).Int("remaining", len(r.sessions)).Msg("idle scan sessions reaped")
	}
	return removed
}

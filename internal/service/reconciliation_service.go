package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"showledger/internal/broker"
	"showledger/internal/models"
	"showledger/internal/reconcile"
	"showledger/internal/redisclient"
	"showledger/internal/util"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var (
	ErrReviewNotFound   = errors.New("no reconciliation in progress for session")
	ErrReviewChanged    = errors.New("reconciliation was modified concurrently, reload and retry")
	ErrCommitInProgress = errors.New("a commit for this session is already running")
)

// SessionStore is the persistence the reconciliation flow reads and writes through
type SessionStore interface {
	reconcile.Ledger
	GetSession(ctx context.Context, id int64) (*models.Session, error)
	GetSessionSlots(ctx context.Context, sessionID int64) ([]models.SessionSlot, error)
}

// ReviewCache keeps review working state between requests and serializes commits
type ReviewCache interface {
	SaveReview(ctx context.Context, sessionID int64, expectedVersion int64, payload []byte, ttl time.Duration) (int64, error)
	LoadReview(ctx context.Context, sessionID int64) ([]byte, int64, error)
	DeleteReview(ctx context.Context, sessionID int64) error
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, lockKey, token string) error
	GetIdempotencyKey(ctx context.Context, key string) ([]byte, error)
	SetIdempotencyKey(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// SalePublisher announces committed sales
type SalePublisher interface {
	PublishSaleCreated(ctx context.Context, event *models.SaleCreatedEvent) error
	PublishSessionReconciled(ctx context.Context, event *models.SessionReconciledEvent) error
}

// ReconciliationConfig holds defaults applied to every review
type ReconciliationConfig struct {
	DefaultFeeRate decimal.Decimal
	DefaultTaxRate decimal.Decimal
	ShippingCost   decimal.Decimal
	AutoThreshold  float64
	ReviewTTL      time.Duration
	CommitLockTTL  time.Duration
	IdempotencyTTL time.Duration
}

// ReconciliationService drives the upload, review and commit loop for a session
type ReconciliationService struct {
	store     SessionStore
	cache     ReviewCache
	publisher SalePublisher
	committer *reconcile.Committer
	cfg       ReconciliationConfig
	logger    *zap.Logger
}

// NewReconciliationService creates a new reconciliation service
func NewReconciliationService(
	store SessionStore,
	cache ReviewCache,
	publisher SalePublisher,
	cfg ReconciliationConfig,
) *ReconciliationService {
	if cfg.AutoThreshold <= 0 {
		cfg.AutoThreshold = reconcile.DefaultAutoThreshold
	}
	if cfg.ReviewTTL <= 0 {
		cfg.ReviewTTL = 24 * time.Hour
	}
	if cfg.CommitLockTTL <= 0 {
		cfg.CommitLockTTL = 2 * time.Minute
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 24 * time.Hour
	}

	return &ReconciliationService{
		store:     store,
		cache:     cache,
		publisher: publisher,
		committer: reconcile.NewCommitter(store),
		cfg:       cfg,
		logger:    util.ComponentLogger("reconciliation"),
	}
}

// StartOptions are the operator's choices for a new review
type StartOptions struct {
	Mode      string           `json:"mode"`
	StartSlot int              `json:"start_slot"`
	Include   []string         `json:"include"`
	Exclude   []string         `json:"exclude"`
	FeeRate   *decimal.Decimal `json:"fee_rate,omitempty"`
	TaxRate   *decimal.Decimal `json:"tax_rate,omitempty"`
}

// ReviewView is what the reviewer sees
type ReviewView struct {
	Review  *reconcile.Review `json:"review"`
	Summary reconcile.Summary `json:"summary"`
}

func newView(r *reconcile.Review) *ReviewView {
	return &ReviewView{Review: r, Summary: r.Summary()}
}

// StartReview parses an uploaded CSV, matches it against the session plan and stores the
// result as the session's working review, replacing any earlier one
func (s *ReconciliationService) StartReview(ctx context.Context, sessionID int64, csvText string, opts StartOptions) (*ReviewView, error) {
	ctx, span := util.StartSpan(ctx, "ReconciliationService.StartReview",
		attribute.Int64("session_id", sessionID))
	defer span.End()

	mode, err := reconcile.ParseMode(opts.Mode)
	if err != nil {
		return nil, err
	}

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	slots, err := s.store.GetSessionSlots(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session slots: %w", err)
	}

	sales, err := s.store.GetExistingSales(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing sales: %w", err)
	}
	sold := make([]int64, 0, len(sales))
	for _, sale := range sales {
		sold = append(sold, sale.ItemID)
	}

	parsed := reconcile.ParseCSV(csvText)
	util.CSVParseErrorsTotal.Add(float64(len(parsed.Errors)))

	review, err := reconcile.NewReview(sessionID, slots, parsed, sold, reconcile.ReviewOptions{
		Mode:          mode,
		StartSlot:     opts.StartSlot,
		Rates:         s.rates(session, opts),
		AutoThreshold: s.cfg.AutoThreshold,
		Include:       opts.Include,
		Exclude:       opts.Exclude,
	})
	if err != nil {
		return nil, err
	}

	if err := s.save(ctx, review, 0); err != nil {
		util.SpanError(span, err)
		return nil, err
	}

	util.ReconciliationRunsTotal.WithLabelValues(string(review.Mode)).Inc()
	for _, res := range review.Results {
		util.ReconciliationSlotsTotal.WithLabelValues(string(res.MatchStatus)).Inc()
	}

	view := newView(review)
	s.logger.Info("Reconciliation review started",
		zap.Int64("session_id", sessionID),
		zap.String("mode", string(review.Mode)),
		zap.Int("rows", view.Summary.TotalRows),
		zap.Int("matched", view.Summary.Matched),
		zap.Int("missing", view.Summary.Missing),
		zap.Int("duplicate", view.Summary.Duplicate))

	return view, nil
}

// rates picks request overrides first, then the session's own rates, then configured defaults
func (s *ReconciliationService) rates(session *models.Session, opts StartOptions) reconcile.Rates {
	rates := reconcile.Rates{
		FeeRate:      s.cfg.DefaultFeeRate,
		TaxRate:      s.cfg.DefaultTaxRate,
		ShippingCost: s.cfg.ShippingCost,
	}
	if !session.FeeRate.IsZero() {
		rates.FeeRate = session.FeeRate
	}
	if !session.TaxRate.IsZero() {
		rates.TaxRate = session.TaxRate
	}
	if opts.FeeRate != nil {
		rates.FeeRate = *opts.FeeRate
	}
	if opts.TaxRate != nil {
		rates.TaxRate = *opts.TaxRate
	}
	return rates
}

// GetReview returns the session's working review
func (s *ReconciliationService) GetReview(ctx context.Context, sessionID int64) (*ReviewView, error) {
	review, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return newView(review), nil
}

// Shift moves every binding one slot up or down
func (s *ReconciliationService) Shift(ctx context.Context, sessionID int64, dir reconcile.Direction, confirm bool) (*ReviewView, error) {
	return s.mutate(ctx, sessionID, "shift", func(r *reconcile.Review) error {
		return r.ShiftMapping(dir, confirm)
	})
}

// Assign binds a CSV row to a slot by hand
func (s *ReconciliationService) Assign(ctx context.Context, sessionID int64, slotNumber, csvRowNumber int) (*ReviewView, error) {
	return s.mutate(ctx, sessionID, "assign", func(r *reconcile.Review) error {
		return r.ManualAssign(slotNumber, csvRowNumber)
	})
}

// Clear detaches a slot's row
func (s *ReconciliationService) Clear(ctx context.Context, sessionID int64, slotNumber int) (*ReviewView, error) {
	return s.mutate(ctx, sessionID, "clear", func(r *reconcile.Review) error {
		return r.ClearAssignment(slotNumber)
	})
}

// MarkUnsold records that a slot's item did not sell
func (s *ReconciliationService) MarkUnsold(ctx context.Context, sessionID int64, slotNumber int) (*ReviewView, error) {
	return s.mutate(ctx, sessionID, "unsold", func(r *reconcile.Review) error {
		return r.MarkUnsold(slotNumber)
	})
}

// SwitchMode re-runs matching with another strategy
func (s *ReconciliationService) SwitchMode(ctx context.Context, sessionID int64, mode string, confirm bool) (*ReviewView, error) {
	parsed, err := reconcile.ParseMode(mode)
	if err != nil {
		return nil, err
	}
	return s.mutate(ctx, sessionID, "mode", func(r *reconcile.Review) error {
		return r.ToggleMode(parsed, confirm)
	})
}

func (s *ReconciliationService) mutate(ctx context.Context, sessionID int64, op string, fn func(*reconcile.Review) error) (*ReviewView, error) {
	ctx, span := util.StartSpan(ctx, "ReconciliationService."+op,
		attribute.Int64("session_id", sessionID))
	defer span.End()

	review, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if err := fn(review); err != nil {
		return nil, err
	}

	if err := s.save(ctx, review, review.Version); err != nil {
		util.SpanError(span, err)
		return nil, err
	}

	util.ReviewOperationsTotal.WithLabelValues(op).Inc()
	return newView(review), nil
}

// Commit writes sales for every matched slot. A repeated request carrying the same
// idempotency key gets the first result back without touching the ledger.
func (s *ReconciliationService) Commit(ctx context.Context, sessionID int64, idempotencyKey string) (*reconcile.CommitResult, error) {
	ctx, span := util.StartSpan(ctx, "ReconciliationService.Commit",
		attribute.Int64("session_id", sessionID))
	defer span.End()

	idemKey := ""
	if idempotencyKey != "" {
		idemKey = fmt.Sprintf("commit:%d:%s", sessionID, idempotencyKey)
		if cached, err := s.cache.GetIdempotencyKey(ctx, idemKey); err == nil {
			var result reconcile.CommitResult
			if err := json.Unmarshal(cached, &result); err == nil {
				s.logger.Info("Duplicate commit request detected",
					zap.Int64("session_id", sessionID),
					zap.String("idempotency_key", idempotencyKey))
				return &result, nil
			}
		} else if !errors.Is(err, redisclient.ErrMiss) {
			s.logger.Warn("Idempotency lookup failed", zap.Error(err))
		}
	}

	lockKey := fmt.Sprintf("commit:session:%d", sessionID)
	token, ok, err := s.cache.AcquireLock(ctx, lockKey, s.cfg.CommitLockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire commit lock: %w", err)
	}
	if !ok {
		return nil, ErrCommitInProgress
	}
	defer func() {
		if err := s.cache.ReleaseLock(context.Background(), lockKey, token); err != nil {
			s.logger.Warn("Failed to release commit lock", zap.Int64("session_id", sessionID), zap.Error(err))
		}
	}()

	review, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	result, err := s.committer.Commit(ctx, sessionID, review.Results)
	if err != nil {
		util.SpanError(span, err)
		return nil, err
	}

	s.publishCommit(ctx, sessionID, result)

	if result.Reconciled {
		if err := s.cache.DeleteReview(ctx, sessionID); err != nil {
			s.logger.Warn("Failed to drop reconciled review", zap.Int64("session_id", sessionID), zap.Error(err))
		}
	} else if len(result.Sales) > 0 {
		// keep the review for a re-run; committed slots now read as conflict
		sold := make([]int64, 0, len(result.Sales))
		for _, cs := range result.Sales {
			sold = append(sold, cs.Sale.ItemID)
		}
		review.MarkSold(sold...)
		if err := s.save(ctx, review, review.Version); err != nil {
			s.logger.Warn("Failed to refresh review after partial commit", zap.Int64("session_id", sessionID), zap.Error(err))
		}
	}

	if idemKey != "" {
		if payload, err := json.Marshal(result); err == nil {
			if err := s.cache.SetIdempotencyKey(ctx, idemKey, payload, s.cfg.IdempotencyTTL); err != nil {
				s.logger.Warn("Failed to store idempotency key", zap.Error(err))
			}
		}
	}

	return result, nil
}

func (s *ReconciliationService) publishCommit(ctx context.Context, sessionID int64, result *reconcile.CommitResult) {
	for _, cs := range result.Sales {
		event := &models.SaleCreatedEvent{
			BaseEvent:  broker.NewBaseEvent(models.EventTypeSaleCreated),
			SaleID:     cs.Sale.ID,
			SessionID:  sessionID,
			ItemID:     cs.Sale.ItemID,
			SlotNumber: cs.SlotNumber,
			SoldPrice:  cs.Sale.SoldPrice,
			NetProfit:  cs.Sale.NetProfit,
		}
		if err := s.publisher.PublishSaleCreated(ctx, event); err != nil {
			s.logger.Error("Failed to publish SaleCreated event", zap.Int64("sale_id", cs.Sale.ID), zap.Error(err))
		}
	}

	if !result.Reconciled {
		return
	}
	event := &models.SessionReconciledEvent{
		BaseEvent:    broker.NewBaseEvent(models.EventTypeSessionReconciled),
		SessionID:    sessionID,
		SalesCreated: result.Created,
	}
	if err := s.publisher.PublishSessionReconciled(ctx, event); err != nil {
		s.logger.Error("Failed to publish SessionReconciled event", zap.Int64("session_id", sessionID), zap.Error(err))
	}
}

// Export writes the matched result as CSV
func (s *ReconciliationService) Export(ctx context.Context, sessionID int64, w io.Writer) error {
	review, err := s.load(ctx, sessionID)
	if err != nil {
		return err
	}
	return reconcile.ExportCSV(w, review)
}

func (s *ReconciliationService) load(ctx context.Context, sessionID int64) (*reconcile.Review, error) {
	payload, version, err := s.cache.LoadReview(ctx, sessionID)
	if errors.Is(err, redisclient.ErrMiss) {
		return nil, ErrReviewNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load review: %w", err)
	}

	var review reconcile.Review
	if err := json.Unmarshal(payload, &review); err != nil {
		return nil, fmt.Errorf("failed to decode review: %w", err)
	}
	review.Version = version
	return &review, nil
}

func (s *ReconciliationService) save(ctx context.Context, review *reconcile.Review, expectedVersion int64) error {
	payload, err := json.Marshal(review)
	if err != nil {
		return fmt.Errorf("failed to encode review: %w", err)
	}

	version, err := s.cache.SaveReview(ctx, review.SessionID, expectedVersion, payload, s.cfg.ReviewTTL)
	if errors.Is(err, redisclient.ErrVersionConflict) {
		return ErrReviewChanged
	}
	if err != nil {
		return fmt.Errorf("failed to save review: %w", err)
	}
	review.Version = version
	return nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"showledger/internal/broker"
	"showledger/internal/comps"
	"showledger/internal/listing"
	"showledger/internal/models"
	"showledger/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// FailureKind classifies why a comp refresh failed
type FailureKind string

const (
	FailureAuth        FailureKind = "AUTH_ERROR"
	FailureSearch      FailureKind = "SEARCH_ERROR"
	FailurePersistence FailureKind = "PERSISTENCE_ERROR"
)

// ErrEmptyQuery is returned for items with neither structured metadata nor a name
var ErrEmptyQuery = errors.New("item has nothing to search for")

// RefreshError is the typed failure of one item refresh
type RefreshError struct {
	ItemID int64
	Kind   FailureKind
	Err    error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("comp refresh for item %d: %s: %v", e.ItemID, e.Kind, e.Err)
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}

// KindOf returns the failure kind carried by err, or "" if err is not a RefreshError
func KindOf(err error) FailureKind {
	var re *RefreshError
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}

// CompStore is the persistence the comp engine reads and writes through
type CompStore interface {
	GetItemMetadata(ctx context.Context, itemID int64) (*models.ItemMetadata, error)
	SaveCompSnapshot(ctx context.Context, record *models.CompHistoryRecord) error
	UpdateItemCompFields(ctx context.Context, itemID int64, stats models.CompStats) error
	GetCompHistory(ctx context.Context, itemID int64, limit int) ([]models.CompHistoryRecord, error)
}

// CompPublisher announces refresh requests and outcomes
type CompPublisher interface {
	PublishCompRefreshRequested(ctx context.Context, event *models.CompRefreshRequestedEvent) error
	PublishCompRefreshed(ctx context.Context, event *models.CompRefreshedEvent) error
	PublishCompRefreshAborted(ctx context.Context, event *models.CompRefreshAbortedEvent) error
}

// CompConfig tunes outbound searches
type CompConfig struct {
	CategoryID   string
	SearchLimit  int
	RefreshDelay time.Duration
}

// CompService estimates item value from external comparables
type CompService struct {
	store     CompStore
	searcher  listing.Searcher
	publisher CompPublisher
	cfg       CompConfig
	logger    *zap.Logger
	nowFunc   func() time.Time
}

// NewCompService creates a new comp service
func NewCompService(store CompStore, searcher listing.Searcher, publisher CompPublisher, cfg CompConfig) *CompService {
	return &CompService{
		store:     store,
		searcher:  searcher,
		publisher: publisher,
		cfg:       cfg,
		logger:    util.ComponentLogger("comps"),
		nowFunc:   time.Now,
	}
}

// RefreshOutcome is the result of one successful item refresh
type RefreshOutcome struct {
	ItemID        int64            `json:"item_id"`
	Query         string           `json:"query"`
	Stats         models.CompStats `json:"stats"`
	Observations  int              `json:"observations"`
	Trimmed       int              `json:"trimmed"`
	GradeFiltered bool             `json:"grade_filtered"`
	RetrievedAt   time.Time        `json:"retrieved_at"`
}

// RefreshItem searches comparables for one item, stores a history snapshot and updates the
// item's comp fields. Every error is a *RefreshError.
func (s *CompService) RefreshItem(ctx context.Context, itemID int64) (*RefreshOutcome, error) {
	ctx, span := util.StartSpan(ctx, "CompService.RefreshItem", attribute.Int64("item_id", itemID))
	defer span.End()

	outcome, err := s.refresh(ctx, itemID)
	if err != nil {
		util.CompRefreshTotal.WithLabelValues(string(KindOf(err))).Inc()
		util.SpanError(span, err)
		return nil, err
	}

	util.CompRefreshTotal.WithLabelValues("ok").Inc()
	util.CompSampleSize.Observe(float64(outcome.Stats.SampleSize))
	return outcome, nil
}

func (s *CompService) refresh(ctx context.Context, itemID int64) (*RefreshOutcome, error) {
	meta, err := s.store.GetItemMetadata(ctx, itemID)
	if err != nil {
		return nil, &RefreshError{ItemID: itemID, Kind: FailurePersistence, Err: err}
	}

	query := comps.BuildQuery(*meta)
	if query == "" {
		return nil, &RefreshError{ItemID: itemID, Kind: FailureSearch, Err: ErrEmptyQuery}
	}
	grade := comps.GradeLabel(*meta)

	raws, err := s.searcher.Search(ctx, listing.SearchRequest{
		Query:      query,
		CategoryID: s.cfg.CategoryID,
		Grade:      grade,
		Limit:      s.cfg.SearchLimit,
	})
	if err != nil {
		kind := FailureSearch
		if errors.Is(err, listing.ErrAuth) {
			kind = FailureAuth
		}
		return nil, &RefreshError{ItemID: itemID, Kind: kind, Err: err}
	}

	observations := comps.NormalizeAll(raws)
	observations, gradeApplied := comps.FilterByGrade(observations, grade)
	trimmed, removed := comps.Trim(observations)
	stats := comps.Compute(trimmed)

	record := &models.CompHistoryRecord{
		ItemID:       itemID,
		Query:        query,
		Stats:        stats,
		Observations: observations,
		TrimmedCount: removed,
		RetrievedAt:  s.nowFunc(),
	}
	if err := s.store.SaveCompSnapshot(ctx, record); err != nil {
		return nil, &RefreshError{ItemID: itemID, Kind: FailurePersistence, Err: err}
	}
	if err := s.store.UpdateItemCompFields(ctx, itemID, stats); err != nil {
		return nil, &RefreshError{ItemID: itemID, Kind: FailurePersistence, Err: err}
	}

	event := &models.CompRefreshedEvent{
		BaseEvent:  broker.NewBaseEvent(models.EventTypeCompRefreshed),
		ItemID:     itemID,
		SampleSize: stats.SampleSize,
		Median:     stats.MedianPrice,
		Confidence: stats.Confidence,
	}
	if err := s.publisher.PublishCompRefreshed(ctx, event); err != nil {
		s.logger.Error("Failed to publish CompRefreshed event", zap.Int64("item_id", itemID), zap.Error(err))
	}

	s.logger.Info("Comps refreshed",
		zap.Int64("item_id", itemID),
		zap.String("query", query),
		zap.Int("listings", len(raws)),
		zap.Int("sample_size", stats.SampleSize),
		zap.Int("trimmed", removed),
		zap.String("confidence", stats.Confidence))

	return &RefreshOutcome{
		ItemID:        itemID,
		Query:         query,
		Stats:         stats,
		Observations:  len(observations),
		Trimmed:       removed,
		GradeFiltered: gradeApplied,
		RetrievedAt:   record.RetrievedAt,
	}, nil
}

// ItemFailure is one failed item of a bulk refresh
type ItemFailure struct {
	ItemID int64       `json:"item_id"`
	Kind   FailureKind `json:"kind"`
	Reason string      `json:"reason"`
}

// BulkResult reports a bulk refresh
type BulkResult struct {
	Refreshed []RefreshOutcome `json:"refreshed"`
	Failed    []ItemFailure    `json:"failed"`
	Aborted   bool             `json:"aborted"`
	Reason    string           `json:"reason,omitempty"`
	Remaining []int64          `json:"remaining,omitempty"`
}

// BulkRefresh refreshes items one at a time, spacing external lookups by the configured
// delay. An auth failure or a cancelled ctx stops the batch; the untouched ids are returned.
func (s *CompService) BulkRefresh(ctx context.Context, itemIDs []int64) *BulkResult {
	ctx, span := util.StartSpan(ctx, "CompService.BulkRefresh", attribute.Int("items", len(itemIDs)))
	defer span.End()

	limit := rate.Inf
	if s.cfg.RefreshDelay > 0 {
		limit = rate.Every(s.cfg.RefreshDelay)
	}
	limiter := rate.NewLimiter(limit, 1)

	result := &BulkResult{}
	for i, itemID := range itemIDs {
		if err := limiter.Wait(ctx); err != nil {
			s.abort(ctx, result, "cancelled", itemIDs[i:])
			break
		}

		outcome, err := s.RefreshItem(ctx, itemID)
		if err == nil {
			result.Refreshed = append(result.Refreshed, *outcome)
			continue
		}

		kind := KindOf(err)
		result.Failed = append(result.Failed, ItemFailure{ItemID: itemID, Kind: kind, Reason: err.Error()})
		if kind == FailureAuth {
			s.abort(ctx, result, string(FailureAuth), itemIDs[i+1:])
			break
		}
	}

	s.logger.Info("Bulk comp refresh finished",
		zap.Int("requested", len(itemIDs)),
		zap.Int("refreshed", len(result.Refreshed)),
		zap.Int("failed", len(result.Failed)),
		zap.Bool("aborted", result.Aborted))
	return result
}

func (s *CompService) abort(ctx context.Context, result *BulkResult, reason string, remaining []int64) {
	result.Aborted = true
	result.Reason = reason
	result.Remaining = append([]int64(nil), remaining...)

	s.logger.Warn("Bulk comp refresh aborted",
		zap.String("reason", reason),
		zap.Int("remaining", len(remaining)))

	event := &models.CompRefreshAbortedEvent{
		BaseEvent: broker.NewBaseEvent(models.EventTypeCompRefreshAborted),
		Reason:    reason,
		Remaining: result.Remaining,
	}
	// ctx may already be cancelled
	if err := s.publisher.PublishCompRefreshAborted(context.WithoutCancel(ctx), event); err != nil {
		s.logger.Error("Failed to publish CompRefreshAborted event", zap.Error(err))
	}
}

// RequestBulkRefresh queues a bulk refresh for the background worker
func (s *CompService) RequestBulkRefresh(ctx context.Context, itemIDs []int64) (string, error) {
	if len(itemIDs) == 0 {
		return "", errors.New("no items to refresh")
	}
	event := &models.CompRefreshRequestedEvent{
		BaseEvent: broker.NewBaseEvent(models.EventTypeCompRefreshRequested),
		ItemIDs:   itemIDs,
	}
	if err := s.publisher.PublishCompRefreshRequested(ctx, event); err != nil {
		return "", fmt.Errorf("failed to queue comp refresh: %w", err)
	}
	return event.EventID, nil
}

// HandleRefreshRequested runs a queued bulk refresh. Item failures are reported through
// events and logs, not returned, so the message is committed.
func (s *CompService) HandleRefreshRequested(ctx context.Context, event *models.CompRefreshRequestedEvent) error {
	s.logger.Info("Processing queued comp refresh",
		zap.String("event_id", event.EventID),
		zap.Int("items", len(event.ItemIDs)))
	s.BulkRefresh(ctx, event.ItemIDs)
	return nil
}

// History returns recent snapshots for an item
func (s *CompService) History(ctx context.Context, itemID int64, limit int) ([]models.CompHistoryRecord, error) {
	history, err := s.store.GetCompHistory(ctx, itemID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load comp history: %w", err)
	}
	return history, nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"showledger/internal/listing"
	"showledger/internal/models"
	"showledger/internal/redisclient"
	"showledger/internal/store"
)

type fakeSessionStore struct {
	mu        sync.Mutex
	sessions  map[int64]*models.Session
	slots     map[int64][]models.SessionSlot
	sales     []models.Sale
	createErr map[int64]error
	statusErr map[int64]error
	statuses  map[int64]string
	items     map[int64]string
	nextID    int64
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{
		sessions:  map[int64]*models.Session{},
		slots:     map[int64][]models.SessionSlot{},
		createErr: map[int64]error{},
		statusErr: map[int64]error{},
		statuses:  map[int64]string{},
		items:     map[int64]string{},
	}
}

func (f *fakeSessionStore) GetSession(ctx context.Context, id int64) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %d: %w", id, store.ErrNotFound)
	}
	return s, nil
}

func (f *fakeSessionStore) GetSessionSlots(ctx context.Context, sessionID int64) ([]models.SessionSlot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.slots[sessionID], nil
}

func (f *fakeSessionStore) GetExistingSales(ctx context.Context, sessionID int64) ([]models.Sale, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Sale
	for _, s := range f.sales {
		if s.SessionID == sessionID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSessionStore) CreateSale(ctx context.Context, sale *models.Sale) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.createErr[sale.ItemID]; err != nil {
		return err
	}
	f.nextID++
	sale.ID = f.nextID
	f.sales = append(f.sales, *sale)
	return nil
}

func (f *fakeSessionStore) UpdateItemStatus(ctx context.Context, itemID int64, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.statusErr[itemID]; err != nil {
		return err
	}
	f.items[itemID] = status
	return nil
}

func (f *fakeSessionStore) UpdateSessionStatus(ctx context.Context, sessionID int64, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[sessionID] = status
	return nil
}

func (f *fakeSessionStore) salesCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sales)
}

type storedReview struct {
	payload []byte
	version int64
}

// fakeReviewCache mirrors the redis semantics: versioned saves, SETNX locks and ErrMiss
type fakeReviewCache struct {
	mu          sync.Mutex
	reviews     map[int64]storedReview
	locks       map[string]string
	idempotency map[string][]byte
	conflict    bool
	released    []string
}

func newFakeReviewCache() *fakeReviewCache {
	return &fakeReviewCache{
		reviews:     map[int64]storedReview{},
		locks:       map[string]string{},
		idempotency: map[string][]byte{},
	}
}

func (f *fakeReviewCache) SaveReview(ctx context.Context, sessionID int64, expectedVersion int64, payload []byte, ttl time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	current := f.reviews[sessionID]
	if f.conflict || (expectedVersion != 0 && expectedVersion != current.version) {
		return 0, redisclient.ErrVersionConflict
	}
	next := current.version + 1
	f.reviews[sessionID] = storedReview{payload: payload, version: next}
	return next, nil
}

func (f *fakeReviewCache) LoadReview(ctx context.Context, sessionID int64) ([]byte, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reviews[sessionID]
	if !ok {
		return nil, 0, redisclient.ErrMiss
	}
	return r.payload, r.version, nil
}

func (f *fakeReviewCache) DeleteReview(ctx context.Context, sessionID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.reviews, sessionID)
	return nil
}

func (f *fakeReviewCache) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, held := f.locks[lockKey]; held {
		return "", false, nil
	}
	token := fmt.Sprintf("token-%d", len(f.locks)+len(f.released)+1)
	f.locks[lockKey] = token
	return token, true, nil
}

func (f *fakeReviewCache) ReleaseLock(ctx context.Context, lockKey, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locks[lockKey] == token {
		delete(f.locks, lockKey)
		f.released = append(f.released, lockKey)
	}
	return nil
}

func (f *fakeReviewCache) GetIdempotencyKey(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.idempotency[key]
	if !ok {
		return nil, redisclient.ErrMiss
	}
	return v, nil
}

func (f *fakeReviewCache) SetIdempotencyKey(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.idempotency[key] = value
	return nil
}

func (f *fakeReviewCache) version(sessionID int64) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reviews[sessionID].version
}

// fakePublisher records every event; it serves both services
type fakePublisher struct {
	mu         sync.Mutex
	sales      []*models.SaleCreatedEvent
	reconciled []*models.SessionReconciledEvent
	requested  []*models.CompRefreshRequestedEvent
	refreshed  []*models.CompRefreshedEvent
	aborted    []*models.CompRefreshAbortedEvent
	err        error
}

func (p *fakePublisher) PublishSaleCreated(ctx context.Context, event *models.SaleCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sales = append(p.sales, event)
	return p.err
}

func (p *fakePublisher) PublishSessionReconciled(ctx context.Context, event *models.SessionReconciledEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reconciled = append(p.reconciled, event)
	return p.err
}

func (p *fakePublisher) PublishCompRefreshRequested(ctx context.Context, event *models.CompRefreshRequestedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.requested = append(p.requested, event)
	return nil
}

func (p *fakePublisher) PublishCompRefreshed(ctx context.Context, event *models.CompRefreshedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshed = append(p.refreshed, event)
	return p.err
}

func (p *fakePublisher) PublishCompRefreshAborted(ctx context.Context, event *models.CompRefreshAbortedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	p.aborted = append(p.aborted, event)
	return p.err
}

type fakeCompStore struct {
	mu        sync.Mutex
	meta      map[int64]*models.ItemMetadata
	snapshots []*models.CompHistoryRecord
	updates   map[int64]models.CompStats
	saveErr   error
	history   []models.CompHistoryRecord
	lastLimit int
}

func newFakeCompStore() *fakeCompStore {
	return &fakeCompStore{
		meta:    map[int64]*models.ItemMetadata{},
		updates: map[int64]models.CompStats{},
	}
}

func (f *fakeCompStore) GetItemMetadata(ctx context.Context, itemID int64) (*models.ItemMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.meta[itemID]
	if !ok {
		return nil, fmt.Errorf("item %d: %w", itemID, store.ErrNotFound)
	}
	return m, nil
}

func (f *fakeCompStore) SaveCompSnapshot(ctx context.Context, record *models.CompHistoryRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	record.ID = int64(len(f.snapshots) + 1)
	f.snapshots = append(f.snapshots, record)
	return nil
}

func (f *fakeCompStore) UpdateItemCompFields(ctx context.Context, itemID int64, stats models.CompStats) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates[itemID] = stats
	return nil
}

func (f *fakeCompStore) GetCompHistory(ctx context.Context, itemID int64, limit int) ([]models.CompHistoryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLimit = limit
	return f.history, nil
}

// fakeSearcher answers by query; unknown queries return an empty result
type fakeSearcher struct {
	mu       sync.Mutex
	results  map[string][]models.RawListing
	errs     map[string]error
	requests []listing.SearchRequest
}

func (f *fakeSearcher) Search(ctx context.Context, req listing.SearchRequest) ([]models.RawListing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if err := f.errs[req.Query]; err != nil {
		return nil, err
	}
	return f.results[req.Query], nil
}

var errBoom = errors.New("boom")

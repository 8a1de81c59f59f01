// Package listing talks to the external marketplace search API used for comparables.
package listing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"showledger/internal/models"
	"showledger/internal/util"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

var (
	// ErrAuth means the API rejected our credentials; every following call would fail too
	ErrAuth = errors.New("listing api rejected credentials")
	// ErrUnavailable covers timeouts, transport errors, non-2xx replies and an open breaker
	ErrUnavailable = errors.New("listing api unavailable")
)

// SearchRequest is one outbound search
type SearchRequest struct {
	Query      string
	CategoryID string
	Grade      string
	Limit      int
}

// Searcher is the black-box listing search the comp engine depends on
type Searcher interface {
	Search(ctx context.Context, req SearchRequest) ([]models.RawListing, error)
}

// Options configures a Client
type Options struct {
	BaseURL          string
	Timeout          time.Duration
	DefaultLimit     int
	FailureThreshold uint32
	BreakerTimeout   time.Duration
}

// Client is an HTTP JSON search client with an injected token source
type Client struct {
	baseURL string
	http    *http.Client
	tokens  *TokenSource
	limit   int
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewClient creates a new listing client
func NewClient(opts Options, tokens *TokenSource) (*Client, error) {
	base := strings.TrimSpace(opts.BaseURL)
	if base == "" {
		return nil, errors.New("listing base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid listing base url: %w", err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	limit := opts.DefaultLimit
	if limit <= 0 {
		limit = 50
	}
	threshold := opts.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	breakerTimeout := opts.BreakerTimeout
	if breakerTimeout <= 0 {
		breakerTimeout = 30 * time.Second
	}

	logger := util.ComponentLogger("listing")
	c := &Client{
		baseURL: strings.TrimRight(base, "/"),
		http:    &http.Client{Timeout: timeout},
		tokens:  tokens,
		limit:   limit,
		logger:  logger,
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "listing-search",
		Timeout: breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// auth failures are a configuration problem, not an outage
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrAuth)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return c, nil
}

type searchResponse struct {
	ItemSummaries []struct {
		ItemID string `json:"itemId"`
		Title  string `json:"title"`
		Price  struct {
			Value    string `json:"value"`
			Currency string `json:"currency"`
		} `json:"price"`
		ShippingOptions []struct {
			ShippingCost struct {
				Value string `json:"value"`
			} `json:"shippingCost"`
		} `json:"shippingOptions"`
	} `json:"itemSummaries"`
}

// Search runs one query. Errors are always ErrAuth or ErrUnavailable (wrapped).
func (c *Client) Search(ctx context.Context, req SearchRequest) ([]models.RawListing, error) {
	ctx, span := util.StartSpan(ctx, "ListingClient.Search")
	defer span.End()

	start := time.Now()
	defer func() {
		util.ListingSearchLatency.Observe(time.Since(start).Seconds())
	}()

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.search(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		kind := "unavailable"
		if errors.Is(err, ErrAuth) {
			kind = "auth"
		}
		util.ListingSearchFailures.WithLabelValues(kind).Inc()
		util.SpanError(span, err)
		return nil, err
	}

	return out.([]models.RawListing), nil
}

func (c *Client) search(ctx context.Context, req SearchRequest) ([]models.RawListing, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(c.baseURL + "/buy/browse/v1/item_summary/search")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = c.limit
	}
	q := u.Query()
	q.Set("q", req.Query)
	q.Set("limit", strconv.Itoa(limit))
	if req.CategoryID != "" {
		q.Set("category_ids", req.CategoryID)
	}
	if req.Grade != "" {
		q.Set("grade", req.Grade)
	}
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.tokens.Invalidate()
		return nil, fmt.Errorf("%w: status %d", ErrAuth, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}

	listings := make([]models.RawListing, 0, len(parsed.ItemSummaries))
	for _, it := range parsed.ItemSummaries {
		l := models.RawListing{
			SourceID: it.ItemID,
			Title:    it.Title,
			Price:    it.Price.Value,
			Currency: it.Price.Currency,
		}
		if len(it.ShippingOptions) > 0 {
			l.ShippingCost = it.ShippingOptions[0].ShippingCost.Value
		}
		listings = append(listings, l)
	}

	c.logger.Debug("Listing search completed",
		zap.String("query", req.Query),
		zap.Int("results", len(listings)))
	return listings, nil
}

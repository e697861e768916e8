// Package bookingapi is the typed HTTP client for the remote booking API.
package bookingapi

import (
	"bytes"
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

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"bookingdesk/internal/metrics"
	"bookingdesk/internal/models"
	"bookingdesk/internal/slots"
)

const (
	defaultPageLimit = 100
	maxPages         = 50
	cachePrefix      = "bookings"
)

// Client calls the booking API. Authentication is the transport's job.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *zerolog.Logger

	redis    *redis.Client
	cacheTTL time.Duration
	role     func() string
	loc      *time.Location
}

// CacheOptions configure the optional Redis read cache.
type CacheOptions struct {
	TTL time.Duration
	// Role distinguishes public and admin responses so a redacted list is
	// never served to an admin.
	Role func() string
	// Location decides which calendar day a window belongs to.
	Location *time.Location
}

// APIError is a non-2xx answer from the API. The {code, message} body is kept.
type APIError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: http %d: %s", e.Method, e.Path, e.Status, e.Message)
	}
	return fmt.Sprintf("%s %s: http %d", e.Method, e.Path, e.Status)
}

// Is maps HTTP statuses onto the shared sentinels.
func (e *APIError) Is(target error) bool {
	switch e.Status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return target == models.ErrValidation
	case http.StatusUnauthorized, http.StatusForbidden:
		return target == models.ErrAuthRequired
	case http.StatusNotFound:
		return target == models.ErrNotFound
	case http.StatusConflict:
		return target == models.ErrConflict
	}
	return false
}

// NewClient constructs a client. transport is usually an *auth.Transport.
func NewClient(baseURL string, transport http.RoundTripper, timeout time.Duration, logger *zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
		log:        logger,
	}
}

// UseRedisCache enables caching of single-day window reads.
func (c *Client) UseRedisCache(redisClient *redis.Client, opts CacheOptions) {
	c.redis = redisClient
	c.cacheTTL = opts.TTL
	c.role = opts.Role
	c.loc = opts.Location
	if c.loc == nil {
		c.loc = time.Local
	}
}

type freshKey struct{}

// Fresh marks ctx so window listings bypass the read cache. Conflict checks
// and bulk mutations read through it; the fresh result still refills the cache.
func Fresh(ctx context.Context) context.Context {
	return context.WithValue(ctx, freshKey{}, true)
}

// IsFresh reports whether ctx was marked with Fresh.
func IsFresh(ctx context.Context) bool {
	v, _ := ctx.Value(freshKey{}).(bool)
	return v
}

// ListWindow fetches one page of bookings overlapping [q.From, q.To).
func (c *Client) ListWindow(ctx context.Context, q models.WindowQuery) (*models.Paginated[models.Booking], error) {
	if q.Limit <= 0 {
		q.Limit = defaultPageLimit
	}
	if q.Page <= 0 {
		q.Page = 1
	}
	params := url.Values{}
	params.Set("from", q.From.UTC().Format(time.RFC3339))
	params.Set("to", q.To.UTC().Format(time.RFC3339))
	if q.Type != "" {
		params.Set("type", q.Type)
	}
	if q.SortBy != "" {
		params.Set("sortBy", q.SortBy)
	}
	params.Set("page", strconv.Itoa(q.Page))
	params.Set("limit", strconv.Itoa(q.Limit))

	cacheKey := c.windowCacheKey(q)
	var page models.Paginated[models.Booking]
	if cacheKey != "" && !IsFresh(ctx) && c.readCache(ctx, cacheKey, &page) {
		return &page, nil
	}

	if err := c.doJSON(ctx, http.MethodGet, "/bookings", "/bookings?"+params.Encode(), nil, &page); err != nil {
		return nil, err
	}
	if cacheKey != "" {
		c.writeCache(ctx, cacheKey, page)
	}
	return &page, nil
}

// ListAllWindow follows pagination until every booking of the window is read.
func (c *Client) ListAllWindow(ctx context.Context, from, to time.Time, bookingType string) ([]models.Booking, error) {
	var all []models.Booking
	q := models.WindowQuery{From: from, To: to, Type: bookingType, Page: 1, Limit: defaultPageLimit, SortBy: "start_time:asc"}
	for ; q.Page <= maxPages; q.Page++ {
		page, err := c.ListWindow(ctx, q)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Results...)
		if page.Page >= page.TotalPages || len(page.Results) == 0 {
			return all, nil
		}
	}
	c.log.Warn().Time("from", from).Time("to", to).Int("pages", maxPages).Msg("window listing truncated")
	return all, nil
}

// Get returns a single booking.
func (c *Client) Get(ctx context.Context, id string) (*models.Booking, error) {
	var b models.Booking
	if err := c.doJSON(ctx, http.MethodGet, "/bookings/:id", "/bookings/"+url.PathEscape(id), nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// Create persists a new booking.
func (c *Client) Create(ctx context.Context, in models.BookingInput) (*models.Booking, error) {
	var b models.Booking
	if err := c.doJSON(ctx, http.MethodPost, "/bookings", "/bookings", in, &b); err != nil {
		return nil, err
	}
	c.InvalidateDay(ctx, in.StartTime)
	return &b, nil
}

// Update patches a booking.
func (c *Client) Update(ctx context.Context, id string, patch models.BookingPatch) (*models.Booking, error) {
	var b models.Booking
	if err := c.doJSON(ctx, http.MethodPatch, "/bookings/:id", "/bookings/"+url.PathEscape(id), patch, &b); err != nil {
		return nil, err
	}
	c.InvalidateAll(ctx)
	return &b, nil
}

// Confirm marks a requested booking as confirmed.
func (c *Client) Confirm(ctx context.Context, id string) (*models.Booking, error) {
	var b models.Booking
	if err := c.doJSON(ctx, http.MethodPatch, "/bookings/:id/confirm", "/bookings/"+url.PathEscape(id)+"/confirm", nil, &b); err != nil {
		return nil, err
	}
	c.InvalidateAll(ctx)
	return &b, nil
}

// Reject removes a requested booking; the server notifies the customer with message.
func (c *Client) Reject(ctx context.Context, id, message string) error {
	body := map[string]string{"message": message}
	if err := c.doJSON(ctx, http.MethodDelete, "/bookings/:id/reject", "/bookings/"+url.PathEscape(id)+"/reject", body, nil); err != nil {
		return err
	}
	c.InvalidateAll(ctx)
	return nil
}

// Delete removes a booking or a block record.
func (c *Client) Delete(ctx context.Context, id string) error {
	if err := c.doJSON(ctx, http.MethodDelete, "/bookings/:id", "/bookings/"+url.PathEscape(id), nil, nil); err != nil {
		return err
	}
	c.InvalidateAll(ctx)
	return nil
}

// ListUnconfirmed returns bookings awaiting an admin decision. The API may
// answer with a bare array or a paginated envelope.
func (c *Client) ListUnconfirmed(ctx context.Context) ([]models.Booking, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, "/bookings/unconfirmed", "/bookings/unconfirmed", nil, &raw); err != nil {
		return nil, err
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if raw[0] == '[' {
		var list []models.Booking
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("decode unconfirmed bookings: %w", err)
		}
		return list, nil
	}
	var page models.Paginated[models.Booking]
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("decode unconfirmed bookings: %w", err)
	}
	return page.Results, nil
}

// InvalidateDay drops cached windows of the day containing t.
func (c *Client) InvalidateDay(ctx context.Context, t time.Time) {
	if t.IsZero() {
		c.InvalidateAll(ctx)
		return
	}
	if c.redis == nil {
		return
	}
	c.invalidate(ctx, fmt.Sprintf("%s:%s:*", cachePrefix, t.In(c.loc).Format("2006-01-02")))
}

// InvalidateAll drops every cached window.
func (c *Client) InvalidateAll(ctx context.Context) {
	c.invalidate(ctx, cachePrefix+":*")
}

func (c *Client) invalidate(ctx context.Context, pattern string) {
	if c.redis == nil {
		return
	}
	iter := c.redis.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.log.Warn().Err(err).Str("pattern", pattern).Msg("cache scan failed")
		return
	}
	if len(keys) > 0 {
		if err := c.redis.Del(ctx, keys...).Err(); err != nil {
			c.log.Warn().Err(err).Msg("cache invalidation failed")
		}
	}
}

// windowCacheKey returns "" for windows that are not contained in one day;
// multi-day reads such as the week status always go to the API.
func (c *Client) windowCacheKey(q models.WindowQuery) string {
	if c.redis == nil || c.cacheTTL <= 0 {
		return ""
	}
	dayStart, dayEnd := slots.DayBounds(q.From.In(c.loc))
	if q.To.After(dayEnd) || q.From.Before(dayStart) {
		return ""
	}
	role := "public"
	if c.role != nil {
		role = c.role()
	}
	return fmt.Sprintf("%s:%s:%s:%d:%d:%s:%d:%d",
		cachePrefix, dayStart.Format("2006-01-02"), role,
		q.From.Unix(), q.To.Unix(), q.Type+"|"+q.SortBy, q.Page, q.Limit)
}

func (c *Client) readCache(ctx context.Context, key string, out any) bool {
	val, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		metrics.IncCacheLookup(false)
		return false
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		metrics.IncCacheLookup(false)
		return false
	}
	metrics.IncCacheLookup(true)
	return true
}

func (c *Client) writeCache(ctx context.Context, key string, val any) {
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.cacheTTL).Err()
}

// doJSON sends body (if any) as JSON and decodes a 2xx answer into out.
// endpoint is the templated path used as the metrics label.
func (c *Client) doJSON(ctx context.Context, method, endpoint, path string, body, out any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveAPIRequest(method, endpoint, 0, time.Since(start))
		return fmt.Errorf("%s %s: %w", method, endpoint, unwrapURLError(err))
	}
	defer resp.Body.Close()
	metrics.ObserveAPIRequest(method, endpoint, resp.StatusCode, time.Since(start))

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		apiErr := &APIError{Method: method, Path: endpoint, Status: resp.StatusCode, Message: decodeMessage(data)}
		c.log.Debug().Err(apiErr).Msg("booking api error")
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, endpoint, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, endpoint, err)
	}
	return nil
}

func decodeMessage(data []byte) string {
	var e struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &e) == nil && e.Message != "" {
		return e.Message
	}
	s := strings.TrimSpace(string(data))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// unwrapURLError strips the *url.Error wrapper so the message does not repeat the URL.
func unwrapURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err
	}
	return err
}

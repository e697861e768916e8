package bookingapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookingdesk/internal/models"
)

var day = time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

func booking(id string, h, m int) models.Booking {
	start := day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
	return models.Booking{ID: id, StartTime: start, EndTime: start.Add(30 * time.Minute), Type: "Swedish", Name: "Ann"}
}

func newClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	logger := zerolog.New(io.Discard)
	return NewClient(srv.URL, nil, time.Second, &logger)
}

func TestListAllWindow_FollowsPages(t *testing.T) {
	var lastQuery atomic.Value
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastQuery.Store(r.URL.Query())
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		_ = json.NewEncoder(w).Encode(models.Paginated[models.Booking]{
			Results:    []models.Booking{booking("b"+strconv.Itoa(page), 9+page, 0)},
			Page:       page,
			Limit:      100,
			TotalPages: 3,
		})
	}))

	all, err := c.ListAllWindow(context.Background(), day, day.Add(24*time.Hour), models.TypeUnavailable)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "b3", all[2].ID)

	q := lastQuery.Load().(url.Values)
	assert.Equal(t, []string{"unavailable"}, q["type"])
	assert.Equal(t, []string{"2024-06-10T00:00:00Z"}, q["from"])
	assert.Equal(t, []string{"2024-06-11T00:00:00Z"}, q["to"])
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		status int
		target error
	}{
		{http.StatusBadRequest, models.ErrValidation},
		{http.StatusUnauthorized, models.ErrAuthRequired},
		{http.StatusNotFound, models.ErrNotFound},
		{http.StatusConflict, models.ErrConflict},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"code":` + strconv.Itoa(tt.status) + `,"message":"nope"}`))
			}))
			_, err := c.Get(context.Background(), "x")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.target)
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestRejectSendsMessageBody(t *testing.T) {
	var method, path string
	var body map[string]string
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusNoContent)
	}))

	require.NoError(t, c.Reject(context.Background(), "abc", "fully booked"))
	assert.Equal(t, http.MethodDelete, method)
	assert.Equal(t, "/bookings/abc/reject", path)
	assert.Equal(t, "fully booked", body["message"])
}

func TestListUnconfirmed_AcceptsArrayAndEnvelope(t *testing.T) {
	list := []models.Booking{booking("p1", 10, 0)}

	arr := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(list)
	}))
	got, err := arr.ListUnconfirmed(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)

	env := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(models.Paginated[models.Booking]{Results: list, Page: 1, TotalPages: 1})
	}))
	got, err = env.ListUnconfirmed(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "p1", got[0].ID)
}

func TestRedisCache_RoleKeyedAndInvalidated(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	var hits atomic.Int32
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_ = json.NewEncoder(w).Encode(booking("new", 12, 0))
			return
		}
		hits.Add(1)
		_ = json.NewEncoder(w).Encode(models.Paginated[models.Booking]{Results: []models.Booking{booking("a", 9, 0)}, Page: 1, TotalPages: 1})
	}))
	role := "public"
	c.UseRedisCache(rdb, CacheOptions{TTL: time.Minute, Role: func() string { return role }, Location: time.UTC})

	ctx := context.Background()
	q := models.WindowQuery{From: day, To: day.Add(24 * time.Hour)}

	_, err := c.ListWindow(ctx, q)
	require.NoError(t, err)
	_, err = c.ListWindow(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())

	role = "admin"
	_, err = c.ListWindow(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())

	_, err = c.Create(ctx, models.BookingInput{StartTime: day.Add(12 * time.Hour)})
	require.NoError(t, err)
	_, err = c.ListWindow(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())

	// multi-day windows bypass the cache
	week := models.WindowQuery{From: day, To: day.AddDate(0, 0, 8)}
	_, err = c.ListWindow(ctx, week)
	require.NoError(t, err)
	_, err = c.ListWindow(ctx, week)
	require.NoError(t, err)
	assert.Equal(t, int32(5), hits.Load())
}

func TestFresh_SkipsCachedReadAndRefills(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	var hits atomic.Int32
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		var list []models.Booking
		if n > 1 {
			list = []models.Booking{booking("late", 10, 0)}
		}
		_ = json.NewEncoder(w).Encode(models.Paginated[models.Booking]{Results: list, Page: 1, TotalPages: 1})
	}))
	c.UseRedisCache(rdb, CacheOptions{TTL: time.Minute, Role: func() string { return "public" }, Location: time.UTC})

	ctx := context.Background()
	got, err := c.ListAllWindow(ctx, day, day.Add(24*time.Hour), "")
	require.NoError(t, err)
	assert.Empty(t, got)

	assert.False(t, IsFresh(ctx))
	got, err = c.ListAllWindow(Fresh(ctx), day, day.Add(24*time.Hour), "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int32(2), hits.Load())

	got, err = c.ListAllWindow(ctx, day, day.Add(24*time.Hour), "")
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, int32(2), hits.Load())
}

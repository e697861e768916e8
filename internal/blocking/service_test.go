package blocking

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookingdesk/internal/bookingapi"
	"bookingdesk/internal/models"
)

// memoryAPI is an in-memory booking store with failure injection.
type memoryAPI struct {
	mu       sync.Mutex
	bookings []models.Booking
	nextID   int
	creates  int
	failAt   map[int64]bool
	failIDs  map[string]bool
	listErr  error
	stale    int
}

func (m *memoryAPI) ListAllWindow(ctx context.Context, from, to time.Time, bookingType string) ([]models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	if to.Sub(from) <= 24*time.Hour && !bookingapi.IsFresh(ctx) {
		m.stale++
	}
	var out []models.Booking
	for _, b := range m.bookings {
		if b.StartTime.Before(to) && b.EndTime.After(from) && (bookingType == "" || b.Type == bookingType) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memoryAPI) Create(ctx context.Context, in models.BookingInput) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	if m.failAt[in.StartTime.Unix()] {
		return nil, errors.New("http 500")
	}
	m.nextID++
	b := models.Booking{
		ID: fmt.Sprintf("id-%d", m.nextID), StartTime: in.StartTime, EndTime: in.EndTime,
		Name: in.Name, Email: in.Email, Phone: in.Phone, Type: in.Type,
	}
	m.bookings = append(m.bookings, b)
	return &b, nil
}

func (m *memoryAPI) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failIDs[id] {
		return models.ErrNotFound
	}
	for i, b := range m.bookings {
		if b.ID == id {
			m.bookings = append(m.bookings[:i], m.bookings[i+1:]...)
			return nil
		}
	}
	return models.ErrNotFound
}

type fakeAuth struct{ admin bool }

func (f fakeAuth) RequireAdmin() error {
	if !f.admin {
		return models.ErrAuthRequired
	}
	return nil
}

var monday = time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

func newTestService(api API, admin bool) *Service {
	logger := zerolog.New(io.Discard)
	return NewService(api, fakeAuth{admin: admin}, nil, Options{Concurrency: 4}, &logger)
}

func TestBlockDay_ThenWeekStatus(t *testing.T) {
	api := &memoryAPI{}
	svc := newTestService(api, true)
	ctx := context.Background()

	require.NoError(t, svc.BlockDay(ctx, monday))
	assert.Len(t, api.bookings, 22)
	for _, b := range api.bookings {
		assert.True(t, b.IsBlock())
		assert.Equal(t, 29*time.Minute+59*time.Second, b.Duration())
		assert.Equal(t, "unavailable@unavailable.com", b.Email)
	}

	ws, err := svc.WeekStatus(ctx, monday)
	require.NoError(t, err)
	assert.Len(t, ws.Days, 8)
	assert.True(t, ws.IsBlocked["Mon Jun 10 2024"])
	assert.False(t, ws.IsBlocked["Tue Jun 11 2024"])
	assert.False(t, ws.HasRealBookings["Mon Jun 10 2024"])
	assert.Contains(t, ws.IsBlocked, "Mon Jun 17 2024")
}

func TestBlockDay_IsIdempotent(t *testing.T) {
	api := &memoryAPI{}
	svc := newTestService(api, true)

	require.NoError(t, svc.BlockDay(context.Background(), monday))
	require.NoError(t, svc.BlockDay(context.Background(), monday))
	assert.Len(t, api.bookings, 22)
	assert.Equal(t, 22, api.creates)
}

func TestBlockDay_PartialFailure(t *testing.T) {
	api := &memoryAPI{failAt: map[int64]bool{
		monday.Add(9 * time.Hour).Unix():  true,
		monday.Add(15 * time.Hour).Unix(): true,
	}}
	svc := newTestService(api, true)

	err := svc.BlockDay(context.Background(), monday)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrPartialFailure)

	var pf *models.PartialFailureError
	require.True(t, errors.As(err, &pf))
	assert.Equal(t, 22, pf.Total)
	assert.Equal(t, 20, pf.Succeeded)
	require.Len(t, pf.Failed, 2)
	assert.True(t, pf.Failed[0].Slot.Equal(monday.Add(9*time.Hour)))
	assert.True(t, pf.Failed[1].Slot.Equal(monday.Add(15*time.Hour)))

	// 20 records still count as a blocked day
	ws, err := svc.WeekStatus(context.Background(), monday)
	require.NoError(t, err)
	assert.True(t, ws.IsBlocked["Mon Jun 10 2024"])

	// a retry only fills the gaps
	api.failAt = nil
	require.NoError(t, svc.BlockDay(context.Background(), monday))
	assert.Len(t, api.bookings, 22)
}

func TestBlockDay_RequiresAdmin(t *testing.T) {
	api := &memoryAPI{}
	svc := newTestService(api, false)

	assert.ErrorIs(t, svc.BlockDay(context.Background(), monday), models.ErrAuthRequired)
	assert.ErrorIs(t, svc.UnblockDay(context.Background(), monday), models.ErrAuthRequired)
	assert.Zero(t, api.creates)
}

func TestUnblockDay_KeepsAppointments(t *testing.T) {
	api := &memoryAPI{}
	svc := newTestService(api, true)
	ctx := context.Background()

	require.NoError(t, svc.BlockDay(ctx, monday))
	api.bookings = append(api.bookings, models.Booking{
		ID: "appt", StartTime: monday.Add(24*time.Hour + 10*time.Hour), EndTime: monday.Add(24*time.Hour + 11*time.Hour), Type: "Thai Massage",
	})

	require.NoError(t, svc.UnblockDay(ctx, monday))
	require.Len(t, api.bookings, 1)
	assert.Equal(t, "appt", api.bookings[0].ID)

	ws, err := svc.WeekStatus(ctx, monday)
	require.NoError(t, err)
	assert.False(t, ws.IsBlocked["Mon Jun 10 2024"])
	assert.True(t, ws.HasRealBookings["Tue Jun 11 2024"])
}

func TestUnblockDay_PartialFailure(t *testing.T) {
	api := &memoryAPI{}
	svc := newTestService(api, true)
	ctx := context.Background()
	require.NoError(t, svc.BlockDay(ctx, monday))

	api.failIDs = map[string]bool{"id-3": true}
	err := svc.UnblockDay(ctx, monday)

	var pf *models.PartialFailureError
	require.True(t, errors.As(err, &pf))
	assert.Equal(t, 21, pf.Succeeded)
	require.Len(t, pf.Failed, 1)
	assert.Equal(t, "id-3", pf.Failed[0].BookingID)
	assert.Len(t, api.bookings, 1)
}

func TestWeekStatus_ThresholdAndLoadError(t *testing.T) {
	api := &memoryAPI{}
	for i := 0; i < BlockedThreshold-1; i++ {
		start := monday.AddDate(0, 0, 2).Add(7*time.Hour + time.Duration(i)*30*time.Minute)
		api.bookings = append(api.bookings, models.Booking{ID: fmt.Sprint(i), StartTime: start, EndTime: start.Add(blockSpan), Type: models.TypeUnavailable})
	}
	svc := newTestService(api, false)

	ws, err := svc.WeekStatus(context.Background(), monday)
	require.NoError(t, err)
	assert.False(t, ws.IsBlocked["Wed Jun 12 2024"])

	api.listErr = errors.New("boom")
	_, err = svc.WeekStatus(context.Background(), monday)
	assert.Error(t, err)
}

func TestFanOut_RespectsCancellation(t *testing.T) {
	api := &memoryAPI{}
	logger := zerolog.New(io.Discard)
	svc := NewService(api, fakeAuth{admin: true}, nil, Options{Concurrency: 2, RatePerSecond: 1}, &logger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	targets := []models.SlotFailure{{Slot: monday}, {Slot: monday.Add(time.Hour)}}
	failed := svc.fanOut(ctx, targets, func(ctx context.Context, t models.SlotFailure) error { return nil })
	require.Len(t, failed, 2)
	assert.ErrorIs(t, failed[0].Err, context.Canceled)
}

func TestWeekStatus_Idempotent(t *testing.T) {
	api := &memoryAPI{}
	svc := newTestService(api, true)
	ctx := context.Background()

	require.NoError(t, svc.BlockDay(ctx, monday.AddDate(0, 0, 3)))
	appt := monday.AddDate(0, 0, 1).Add(9 * time.Hour)
	api.bookings = append(api.bookings, models.Booking{ID: "appt", StartTime: appt, EndTime: appt.Add(time.Hour), Type: "Private Yoga"})

	first, err := svc.WeekStatus(ctx, monday)
	require.NoError(t, err)
	second, err := svc.WeekStatus(ctx, monday)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.True(t, first.IsBlocked["Thu Jun 13 2024"])
	assert.True(t, first.HasRealBookings["Tue Jun 11 2024"])
	assert.False(t, first.IsBlocked["Tue Jun 11 2024"])
}

func TestBulkOperations_ReadDayFresh(t *testing.T) {
	api := &memoryAPI{}
	svc := newTestService(api, true)
	ctx := context.Background()

	require.NoError(t, svc.BlockDay(ctx, monday))
	require.NoError(t, svc.UnblockDay(ctx, monday))
	assert.Zero(t, api.stale, "day reads before bulk mutations must bypass the cache")
}

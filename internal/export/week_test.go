package export

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"bookingdesk/internal/models"
)

type staticFetcher struct{ list []models.Booking }

func (f staticFetcher) ListAllWindow(ctx context.Context, from, to time.Time, bookingType string) ([]models.Booking, error) {
	return f.list, nil
}

type fakeAuth struct{ admin bool }

func (f fakeAuth) RequireAdmin() error {
	if !f.admin {
		return models.ErrAuthRequired
	}
	return nil
}

var monday = time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

func TestExport_Workbook(t *testing.T) {
	no := false
	list := []models.Booking{
		{ID: "a", StartTime: monday.Add(34 * time.Hour), EndTime: monday.Add(35 * time.Hour), Type: "Private Yoga", Name: "Bob", Email: "bob@example.com"},
		{ID: "p", StartTime: monday.Add(33 * time.Hour), EndTime: monday.Add(33*time.Hour + 30*time.Minute), Type: "Thai Massage", Name: "Ann", Confirmed: &no},
	}
	for i := 0; i < 22; i++ {
		start := monday.Add(7*time.Hour + time.Duration(i)*30*time.Minute)
		list = append(list, models.Booking{ID: "u", StartTime: start, EndTime: start.Add(29*time.Minute + 59*time.Second), Type: models.TypeUnavailable})
	}

	var buf bytes.Buffer
	exp := NewWeekExporter(staticFetcher{list: list}, fakeAuth{admin: true}, time.UTC)
	require.NoError(t, exp.Export(context.Background(), monday.Add(15*time.Hour), &buf))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Week", "Bookings"}, f.GetSheetList())

	week, err := f.GetRows("Week")
	require.NoError(t, err)
	require.Len(t, week, 9)
	assert.Equal(t, []string{"Mon Jun 10 2024", "yes", "0", "0"}, week[1])
	assert.Equal(t, []string{"Tue Jun 11 2024", "no", "2", "1"}, week[2])

	rows, err := f.GetRows("Bookings")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Day", rows[0][0])
	// sorted by start time: the pending 9:00 request comes first
	assert.Equal(t, "9:00 AM", rows[1][1])
	assert.Equal(t, "pending", rows[1][5])
	assert.Equal(t, "confirmed", rows[2][5])
	assert.Equal(t, "bob@example.com", rows[2][7])
}

func TestExport_RequiresAdmin(t *testing.T) {
	var buf bytes.Buffer
	exp := NewWeekExporter(staticFetcher{}, fakeAuth{}, time.UTC)
	assert.ErrorIs(t, exp.Export(context.Background(), monday, &buf), models.ErrAuthRequired)
	assert.Zero(t, buf.Len())
}

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	Register()
	Register()

	before := testutil.ToFloat64(tokenRefresh.WithLabelValues("failure"))
	ObserveTokenRefresh(errors.New("boom"))
	assert.Equal(t, before+1, testutil.ToFloat64(tokenRefresh.WithLabelValues("failure")))

	AddBulkSlots("block", 20, 2)
	assert.GreaterOrEqual(t, testutil.ToFloat64(bulkSlots.WithLabelValues("block", "failure")), 2.0)

	SetUnconfirmed(4)
	assert.Equal(t, 4.0, testutil.ToFloat64(unconfirmedGauge))

	ObserveAPIRequest("GET", "/bookings", 200, 15*time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(apiRequestDuration))
}

package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordConnect(t *testing.T) {
	before := testutil.ToFloat64(connectionsActive)
	okBefore := testutil.ToFloat64(connectAttemptsTotal.WithLabelValues("ok"))

	RecordConnect("ok", 10*time.Millisecond)
	RecordConnect("authentication_failed", 0)

	assert.Equal(t, before+1, testutil.ToFloat64(connectionsActive))
	assert.Equal(t, okBefore+1, testutil.ToFloat64(connectAttemptsTotal.WithLabelValues("ok")))

	lostBefore := testutil.ToFloat64(connectionsLostTotal)
	RecordDisconnect(true)
	assert.Equal(t, before, testutil.ToFloat64(connectionsActive))
	assert.Equal(t, lostBefore+1, testutil.ToFloat64(connectionsLostTotal))
}

func TestRecordTransfer(t *testing.T) {
	active := transfersActive.WithLabelValues("upload")
	before := testutil.ToFloat64(active)

	RecordTransferStart("upload")
	assert.Equal(t, before+1, testutil.ToFloat64(active))

	bytesBefore := testutil.ToFloat64(transferBytesTotal.WithLabelValues("upload"))
	RecordTransferBytes("upload", 32768)
	assert.Equal(t, bytesBefore+32768, testutil.ToFloat64(transferBytesTotal.WithLabelValues("upload")))

	doneBefore := testutil.ToFloat64(transfersTotal.WithLabelValues("upload", "completed"))
	RecordTransferFinish("upload", "completed", true, time.Second)
	assert.Equal(t, before, testutil.ToFloat64(active))
	assert.Equal(t, doneBefore+1, testutil.ToFloat64(transfersTotal.WithLabelValues("upload", "completed")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	RecordListing("ok")
	AddDroppedEvents(3)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "rescale_sftp_listings_total"))
	assert.True(t, strings.Contains(body, "rescale_sftp_events_dropped_total"))
}

package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/danmuck/syncgraph/internal/logging"
	"github.com/danmuck/syncgraph/internal/testutil/testlog"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest(0, "GET", "/health", 200, 12*time.Millisecond)
	RecordMutexRequest(0, "ACQUIRE", "granted")
	RecordLockWait(1, "READ", true, 3*time.Millisecond)
	RecordTermination(0, 2, 5*time.Millisecond)
	RecordGhostSync(2, 4, 1, time.Millisecond)
	RecordMigration(1, 3, 2, time.Millisecond)
	RecordSimStep(0)

	logging.Logf("observability/metrics: registration idempotent and recording paths executed")
}

func TestTrafficObserverCountsBothDirections(t *testing.T) {
	testlog.Start(t)
	obs := TrafficObserver{}
	before := testutil.ToFloat64(messages.WithLabelValues("7", "sent"))
	obs.Sent(7, 1, 3, 10)
	obs.Received(7, 1, 3, 4)
	if got := testutil.ToFloat64(messages.WithLabelValues("7", "sent")); got != before+1 {
		t.Fatalf("sent=%v want=%v", got, before+1)
	}
	if got := testutil.ToFloat64(messageBytes.WithLabelValues("7", "received")); got < 4 {
		t.Fatalf("received bytes=%v", got)
	}
}

func TestRequestMiddlewareRecordsRoute(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	var buf strings.Builder
	r := gin.New()
	r.Use(RequestLogger(zerolog.New(&buf)), RequestMetricsMiddleware(3))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusTeapot, "pong") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if w.Code != http.StatusTeapot {
		t.Fatalf("status=%d", w.Code)
	}
	if !strings.Contains(buf.String(), `"path":"/ping"`) || !strings.Contains(buf.String(), `"level":"warn"`) {
		t.Fatalf("log line=%q", buf.String())
	}
	if got := testutil.ToFloat64(httpRequests.WithLabelValues("3", "GET", "/ping", "418")); got != 1 {
		t.Fatalf("http counter=%v", got)
	}
}

package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/danmuck/syncgraph/internal/auth"
	"github.com/danmuck/syncgraph/internal/dist"
	"github.com/danmuck/syncgraph/internal/graph"
	"github.com/danmuck/syncgraph/internal/location"
	"github.com/danmuck/syncgraph/internal/logging"
	"github.com/danmuck/syncgraph/internal/sim"
	"github.com/danmuck/syncgraph/internal/testutil/testlog"
)

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	s.HTTPRouter().ServeHTTP(rr, req)
	return rr
}

func publishSample(s *Server) {
	a := dist.ID{Rank: 0, Seq: 0}
	b := dist.ID{Rank: 1, Seq: 0}
	s.Publish(sim.Status{Rank: 0, Size: 2, Mode: "hard", Step: 7, Local: 1, Distant: 1, Edges: 1}, graph.Snapshot{
		Rank: 0,
		Size: 2,
		Mode: "hard",
		Nodes: []graph.NodeSnapshot{
			{ID: a, State: dist.Local, Owner: 0, Weight: 1},
			{ID: b, State: dist.Distant, Owner: 1},
		},
		Edges: []graph.EdgeSnapshot{
			{ID: dist.ID{Rank: 0, Seq: 0}, Layer: dist.DefaultLayer, Weight: 1, Source: a, Target: b},
		},
		Locations: location.Snapshot{},
	})
}

func TestReadyBeforeAndAfterPublish(t *testing.T) {
	testlog.Start(t)
	s := New(0, ":0", nil, zerolog.Nop())
	s.RegisterRoutes()

	if rr := get(t, s, "/health"); rr.Code != http.StatusOK {
		t.Fatalf("health status=%d", rr.Code)
	}
	if rr := get(t, s, "/ready"); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before the first step, got %d", rr.Code)
	}
	if rr := get(t, s, "/status"); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 status before publish, got %d", rr.Code)
	}

	publishSample(s)
	if rr := get(t, s, "/ready"); rr.Code != http.StatusOK {
		t.Fatalf("expected ready after publish, got %d", rr.Code)
	}
	logging.Infof("server/http: ready after publish")
}

func TestStatusAndSnapshotServeLatestStep(t *testing.T) {
	testlog.Start(t)
	s := New(0, ":0", []string{"http://example.test"}, zerolog.Nop())
	s.RegisterRoutes()
	publishSample(s)

	rr := get(t, s, "/status")
	if rr.Code != http.StatusOK {
		t.Fatalf("status code=%d body=%s", rr.Code, rr.Body.String())
	}
	var st sim.Status
	if err := json.Unmarshal(rr.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.Step != 7 || st.Mode != "hard" || st.Distant != 1 {
		t.Fatalf("unexpected status: %+v", st)
	}

	rr = get(t, s, "/snapshot")
	var snap graph.Snapshot
	if err := json.Unmarshal(rr.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snap.Nodes) != 2 || snap.LocalCount() != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	if rr := get(t, s, "/locations"); rr.Code != http.StatusOK {
		t.Fatalf("locations code=%d", rr.Code)
	}
}

func TestGraphRendersDOTAndRejectsUnknownFormat(t *testing.T) {
	testlog.Start(t)
	s := New(0, ":0", nil, zerolog.Nop())
	s.RegisterRoutes()
	publishSample(s)

	rr := get(t, s, "/graph")
	if rr.Code != http.StatusOK {
		t.Fatalf("graph code=%d body=%s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Sim-Step") != "7" {
		t.Fatalf("missing step header: %v", rr.Header())
	}
	if !strings.Contains(rr.Body.String(), "[1:0]") {
		t.Fatalf("expected proxy node in output: %s", rr.Body.String())
	}

	if rr := get(t, s, "/graph?format=gif"); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown format, got %d", rr.Code)
	}
}

func TestRequireTokenGuardsViewsOnly(t *testing.T) {
	testlog.Start(t)
	s := New(0, ":0", nil, zerolog.Nop())
	s.RequireToken(auth.SharedToken("admin"))
	s.RegisterRoutes()
	publishSample(s)

	if rr := get(t, s, "/ready"); rr.Code != http.StatusOK {
		t.Fatalf("ready must stay open, got %d", rr.Code)
	}
	if rr := get(t, s, "/status"); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer admin")
	rr := httptest.NewRecorder()
	s.HTTPRouter().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rr.Code)
	}
}

func TestMetricsEndpointCountsRequests(t *testing.T) {
	testlog.Start(t)
	s := New(3, ":0", nil, zerolog.Nop())
	s.RegisterRoutes()
	get(t, s, "/health")

	rr := get(t, s, "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics code=%d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `rank="3"`) {
		t.Fatalf("expected rank label in metrics output")
	}
}

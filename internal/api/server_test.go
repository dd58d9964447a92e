package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fluidrower/rowmon/internal/session"
	"github.com/fluidrower/rowmon/internal/storage"
)

type fakeLister struct {
	sessions []storage.SessionData
	err      error
}

func (f *fakeLister) Sessions(context.Context) ([]storage.SessionData, error) {
	return f.sessions, f.err
}

func newTestServer(t *testing.T, stats StatsFunc, lister SessionLister, stop func()) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New("127.0.0.1:0", stats, lister, NewBroadcaster(), stop, logger)
}

func TestServer_LiveStats(t *testing.T) {
	stats := func() session.Stats {
		return session.Stats{NumStrokes: 42, TotalDistanceM: 503.5}
	}
	s := newTestServer(t, stats, &fakeLister{}, func() {})

	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/live/stats", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	var got session.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got.NumStrokes != 42 || got.TotalDistanceM != 503.5 {
		t.Errorf("Unexpected stats: %+v", got)
	}
}

func TestServer_Sessions(t *testing.T) {
	started := time.Date(2026, 8, 29, 7, 30, 0, 0, time.UTC)
	lister := &fakeLister{sessions: []storage.SessionData{
		{
			ID:             1,
			StartTime:      started,
			DeviceType:     "fluid-rower",
			TotalPauseSecs: 30,
			EndedAt:        sql.NullTime{Time: started.Add(10 * time.Minute), Valid: true},
		},
		{
			ID:         2,
			StartTime:  started.Add(time.Hour),
			DeviceType: "fluid-rower",
		},
	}}
	s := newTestServer(t, func() session.Stats { return session.Stats{} }, lister, func() {})

	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	var got []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(got))
	}
	if got[0]["deviceType"] != "fluid-rower" {
		t.Errorf("Unexpected session payload: %+v", got[0])
	}

	// An open session has no end time in the payload.
	if _, ok := got[1]["endedAt"]; ok {
		t.Errorf("Open session must not report an end time: %+v", got[1])
	}
}

func TestServer_Stop(t *testing.T) {
	stopped := 0
	s := newTestServer(t, func() session.Stats { return session.Stats{} }, &fakeLister{}, func() { stopped++ })

	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/session/stop", nil))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d", rec.Code)
	}
	if stopped != 1 {
		t.Errorf("Expected the stop callback to run once, got %d", stopped)
	}

	// Wrong method is rejected by the route pattern.
	rec = httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/session/stop", nil))
	if rec.Code == http.StatusAccepted {
		t.Error("GET on the stop endpoint must not be accepted")
	}
}

package httpserver

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/meetlite/server/internal/config"
	"github.com/meetlite/server/internal/metrics"
	"github.com/meetlite/server/internal/room"
	"github.com/meetlite/server/internal/upload"
)

func newTestServer(t *testing.T) (*httptest.Server, *room.Registry, string) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	rooms := room.NewRegistry(log)
	uploadDir := t.TempDir()
	store, err := upload.NewStore(uploadDir, 1<<20, log)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	cfg := config.Config{
		Port:      0,
		ClientURL: "http://localhost:5173",
	}
	s := New(cfg, Deps{
		Rooms:     rooms,
		Uploads:   upload.NewHandler(store, metrics.New(), log),
		UploadDir: uploadDir,
		Metrics:   metrics.New(),
		Signaling: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusSwitchingProtocols)
		}),
	}, log)

	ts := httptest.NewServer(s.srv.Handler)
	t.Cleanup(ts.Close)
	return ts, rooms, uploadDir
}

func TestHealth(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "OK" {
		t.Fatalf("status field = %q", body.Status)
	}
	if _, err := time.Parse(time.RFC3339, body.Timestamp); err != nil {
		t.Fatalf("timestamp %q not RFC3339: %v", body.Timestamp, err)
	}
}

func TestListRooms(t *testing.T) {
	ts, rooms, _ := newTestServer(t)

	rooms.AddParticipant("r1", room.Participant{ID: "p1"})
	rooms.AddParticipant("r1", room.Participant{ID: "p2"})
	rooms.AddParticipant("r2", room.Participant{ID: "p3"})

	resp, err := http.Get(ts.URL + "/api/rooms")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var infos []room.Info
	if err := json.NewDecoder(resp.Body).Decode(&infos); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("rooms = %+v", infos)
	}
	if infos[0].ID != "r1" || infos[0].ParticipantCount != 2 {
		t.Fatalf("first room = %+v", infos[0])
	}
}

func TestStats(t *testing.T) {
	ts, rooms, _ := newTestServer(t)

	rooms.AddParticipant("r1", room.Participant{ID: "p1"})
	rooms.AddMessage("r1", room.ChatMessage("an", "hi"))

	resp, err := http.Get(ts.URL + "/api/stats")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var stats room.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.TotalRooms != 1 || stats.TotalParticipants != 1 || stats.TotalMessages != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestUploadsStaticServing(t *testing.T) {
	ts, _, uploadDir := newTestServer(t)

	path := filepath.Join(uploadDir, "served.txt")
	if err := os.WriteFile(path, []byte("stored upload"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	resp, err := http.Get(ts.URL + "/uploads/served.txt")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	data, _ := io.ReadAll(resp.Body)
	if string(data) != "stored upload" {
		t.Fatalf("body = %q", data)
	}
}

func TestCORSPreflight(t *testing.T) {
	ts, _, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/rooms", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Fatalf("allow-origin = %q", got)
	}

	// An origin outside the allow-list gets no CORS grant.
	req2, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/rooms", nil)
	req2.Header.Set("Origin", "http://evil.example")
	req2.Header.Set("Access-Control-Request-Method", http.MethodGet)
	resp2, err := http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	defer resp2.Body.Close()
	if got := resp2.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("allow-origin for unlisted origin = %q", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/plain; version=0.0.4; charset=utf-8" {
		t.Fatalf("content-type = %q", ct)
	}
}

func TestUnknownRoute(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gridlight-project/gridlight/internal/config"
	"github.com/gridlight-project/gridlight/internal/events"
	"github.com/gridlight-project/gridlight/internal/registry"
	"github.com/gridlight-project/gridlight/internal/room"
)

type testAPI struct {
	router   *gin.Engine
	registry *registry.Registry
	stopped  chan struct{}
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	cfg := config.DefaultConfig()
	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)
	reg := registry.New(cfg.GetServer(), bus)

	stopped := make(chan struct{})
	srv := NewServer(cfg, reg, nil, func() { close(stopped) })
	return &testAPI{
		router:   srv.buildRouter(),
		registry: reg,
		stopped:  stopped,
	}
}

func (a *testAPI) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *testAPI) post(t *testing.T, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding %q: %v", w.Body.String(), err)
	}
	return out
}

// acceptPeer registers one peer through the registry so handler tests
// have a live directory entry.
func acceptPeer(t *testing.T, reg *registry.Registry) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { client.Close() })
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := client.Read(buf); err != nil {
				return
			}
		}
	}()
	if err := reg.Accept(context.Background(), server); err != nil {
		t.Fatalf("accepting peer: %v", err)
	}
}

func TestHealthzAndPing(t *testing.T) {
	a := newTestAPI(t)

	if w := a.get(t, "/healthz"); w.Code != http.StatusOK {
		t.Fatalf("healthz = %d", w.Code)
	}
	w := a.get(t, "/api/public/ping")
	if w.Code != http.StatusOK {
		t.Fatalf("ping = %d", w.Code)
	}
	if w.Header().Get("Server") != "Gridlight" {
		t.Errorf("Server header = %q", w.Header().Get("Server"))
	}
}

func TestStatusReportsCounts(t *testing.T) {
	a := newTestAPI(t)
	acceptPeer(t, a.registry)
	if _, err := a.registry.CreateRoom(context.Background(), "arena",
		room.Options{IsOpen: true, IsVisible: true}); err != nil {
		t.Fatal(err)
	}

	w := a.get(t, "/api/monitor/status")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decodeJSON(t, w)
	if body["peers"].(float64) != 1 {
		t.Errorf("peers = %v", body["peers"])
	}
	if body["rooms"].(float64) != 1 {
		t.Errorf("rooms = %v", body["rooms"])
	}
}

func TestListRoomsIncludesInvisible(t *testing.T) {
	a := newTestAPI(t)
	ctx := context.Background()
	a.registry.CreateRoom(ctx, "shown", room.Options{IsOpen: true, IsVisible: true})
	a.registry.CreateRoom(ctx, "hidden", room.Options{IsOpen: true, IsVisible: false})

	w := a.get(t, "/api/monitor/rooms")
	if w.Code != http.StatusOK {
		t.Fatalf("rooms = %d", w.Code)
	}
	body := decodeJSON(t, w)
	if body["count"].(float64) != 2 {
		t.Fatalf("count = %v, want 2 (operator view includes invisible rooms)", body["count"])
	}
}

func TestGetRoomNotFound(t *testing.T) {
	a := newTestAPI(t)
	if w := a.get(t, "/api/monitor/rooms/nowhere"); w.Code != http.StatusNotFound {
		t.Fatalf("code = %d, want 404", w.Code)
	}
}

func TestGetPeerValidation(t *testing.T) {
	a := newTestAPI(t)
	if w := a.get(t, "/api/monitor/peers/abc"); w.Code != http.StatusBadRequest {
		t.Fatalf("non-numeric id = %d, want 400", w.Code)
	}
	if w := a.get(t, "/api/monitor/peers/99"); w.Code != http.StatusNotFound {
		t.Fatalf("unknown id = %d, want 404", w.Code)
	}
}

func TestGetPeerDetail(t *testing.T) {
	a := newTestAPI(t)
	acceptPeer(t, a.registry)

	w := a.get(t, "/api/monitor/peers/1")
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	body := decodeJSON(t, w)
	if body["id"].(float64) != 1 {
		t.Errorf("id = %v", body["id"])
	}
	if _, ok := body["stats"]; !ok {
		t.Error("stats block missing")
	}
}

func TestHistoryUnavailableWithoutJournal(t *testing.T) {
	a := newTestAPI(t)
	if w := a.get(t, "/api/monitor/history/sessions"); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("sessions = %d, want 503", w.Code)
	}
	if w := a.get(t, "/api/monitor/history/operations"); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("operations = %d, want 503", w.Code)
	}
}

func TestKickPeerEndpoint(t *testing.T) {
	a := newTestAPI(t)
	acceptPeer(t, a.registry)

	if w := a.post(t, "/api/control/peers/1/kick", ""); w.Code != http.StatusOK {
		t.Fatalf("kick = %d", w.Code)
	}
	if w := a.post(t, "/api/control/peers/42/kick", ""); w.Code != http.StatusNotFound {
		t.Fatalf("kick unknown = %d, want 404", w.Code)
	}
}

func TestDestroyRoomEndpoint(t *testing.T) {
	a := newTestAPI(t)
	a.registry.CreateRoom(context.Background(), "arena",
		room.Options{IsOpen: true, IsVisible: true})

	if w := a.post(t, "/api/control/rooms/arena/destroy", ""); w.Code != http.StatusOK {
		t.Fatalf("destroy = %d", w.Code)
	}
	if a.registry.RoomCount() != 0 {
		t.Error("room survived destroy")
	}
	if w := a.post(t, "/api/control/rooms/arena/destroy", ""); w.Code != http.StatusConflict {
		t.Fatalf("destroy missing room = %d, want 409", w.Code)
	}
}

func TestShutdownEndpointInvokesCallback(t *testing.T) {
	a := newTestAPI(t)
	w := a.post(t, "/api/control/shutdown", "")
	if w.Code != http.StatusOK {
		t.Fatalf("shutdown = %d", w.Code)
	}
	// The handler fires the callback from a goroutine after responding.
	select {
	case <-a.stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown callback never invoked")
	}
}

func TestSetServerConfigValidation(t *testing.T) {
	a := newTestAPI(t)

	if w := a.post(t, "/api/configure/server", "{not json"); w.Code != http.StatusBadRequest {
		t.Fatalf("malformed body = %d, want 400", w.Code)
	}

	bad, err := json.Marshal(config.ServerData{ListenHost: "0.0.0.0"})
	if err != nil {
		t.Fatal(err)
	}
	if w := a.post(t, "/api/configure/server", string(bad)); w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid config = %d, want 422", w.Code)
	}
}

func TestUnknownRouteReturnsJSON(t *testing.T) {
	a := newTestAPI(t)
	w := a.get(t, "/api/none")
	if w.Code != http.StatusNotFound {
		t.Fatalf("code = %d", w.Code)
	}
	if body := decodeJSON(t, w); body["error"] == nil {
		t.Error("404 body has no error field")
	}
}

package telemetry

import (
	"strings"
	"testing"

	"github.com/gridlight-project/gridlight/internal/config"
	"github.com/gridlight-project/gridlight/internal/events"
)

func enabledConfig() *config.Config {
	cfg := config.DefaultConfig()
	app := cfg.GetApplication()
	app.MQTT.Enabled = true
	app.MQTT.BrokerURL = "broker.example.com"
	cfg.SetApplication(app)
	return cfg
}

func TestNewMQTTHandlerRequiresEnabled(t *testing.T) {
	cfg := config.DefaultConfig()
	if _, err := NewMQTTHandler(cfg, events.NewEventBus()); err == nil {
		t.Fatal("disabled MQTT accepted")
	}
}

func TestTopicRootDefaultsAndOverride(t *testing.T) {
	cfg := enabledConfig()
	h, err := NewMQTTHandler(cfg, events.NewEventBus())
	if err != nil {
		t.Fatal(err)
	}
	if got := h.topic("status"); got != "gridlight/status" {
		t.Fatalf("topic = %q", got)
	}

	app := cfg.GetApplication()
	app.MQTT.TopicRoot = "lab/grid"
	cfg.SetApplication(app)
	h, err = NewMQTTHandler(cfg, events.NewEventBus())
	if err != nil {
		t.Fatal(err)
	}
	if got := h.topic("rooms"); got != "lab/grid/rooms" {
		t.Fatalf("topic = %q", got)
	}
}

func TestBuildMessageMergesMetadata(t *testing.T) {
	h, err := NewMQTTHandler(enabledConfig(), events.NewEventBus())
	if err != nil {
		t.Fatal(err)
	}

	msg := h.buildMessage(map[string]any{"event": "room_created"})
	if msg["payload"] == nil {
		t.Error("payload missing")
	}
	if msg["timestamp"] == nil {
		t.Error("timestamp missing")
	}
	if msg["app_version"] == nil {
		t.Error("metadata not merged")
	}
}

func TestSubscribeEventsRegistersHandlers(t *testing.T) {
	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)

	h, err := NewMQTTHandler(enabledConfig(), bus)
	if err != nil {
		t.Fatal(err)
	}
	h.subscribeEvents()

	for _, et := range []events.EventType{
		events.EventHealthSnapshot,
		events.EventRoomCreated,
		events.EventRoomDestroyed,
		events.EventPeerAuthenticated,
		events.EventPeerDisconnected,
		events.EventServerStarted,
		events.EventServerStopping,
	} {
		if bus.HandlerCount(et) != 1 {
			t.Errorf("%s: handler count = %d, want 1", et, bus.HandlerCount(et))
		}
	}
}

func TestClientIDDefaultsToHostname(t *testing.T) {
	h, err := NewMQTTHandler(enabledConfig(), events.NewEventBus())
	if err != nil {
		t.Fatal(err)
	}
	opts := h.client.OptionsReader()
	if !strings.HasPrefix(opts.ClientID(), "gridlight-") {
		t.Fatalf("client id = %q", opts.ClientID())
	}
}

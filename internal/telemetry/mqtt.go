// Package telemetry publishes server lifecycle and health telemetry to
// an MQTT broker. Topics hang off a configurable root: health snapshots
// on <root>/status, room lifecycle on <root>/rooms, peer lifecycle on
// <root>/events.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gridlight-project/gridlight/internal/config"
	"github.com/gridlight-project/gridlight/internal/events"
	"github.com/gridlight-project/gridlight/internal/util"
)

// MQTTHandler manages the broker connection and republishes bus events
// as JSON telemetry messages.
type MQTTHandler struct {
	cfg    *config.Config
	bus    *events.EventBus
	client mqtt.Client
	logger zerolog.Logger

	topicRoot string

	// Metadata merged into every message.
	metadata map[string]any
}

// NewMQTTHandler creates an MQTT telemetry handler. Returns an error if
// MQTT is disabled in the configuration.
func NewMQTTHandler(cfg *config.Config, bus *events.EventBus) (*MQTTHandler, error) {
	mqttCfg := cfg.GetApplication().MQTT
	if !mqttCfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()

	topicRoot := mqttCfg.TopicRoot
	if topicRoot == "" {
		topicRoot = "gridlight"
	}

	h := &MQTTHandler{
		cfg:       cfg,
		bus:       bus,
		logger:    log.With().Str("component", "telemetry").Logger(),
		topicRoot: topicRoot,
		metadata: map[string]any{
			"hostname":    sysInfo.Hostname,
			"os":          sysInfo.OS,
			"app_version": util.Version,
		},
	}

	scheme := "tcp"
	if mqttCfg.UseTLS {
		scheme = "ssl"
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, mqttCfg.BrokerURL, mqttCfg.Port))

	if mqttCfg.ClientID != "" {
		opts.SetClientID(mqttCfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("gridlight-%s", sysInfo.Hostname))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	if mqttCfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		h.logger.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		h.logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	h.client = mqtt.NewClient(opts)
	return h, nil
}

// Start connects to the broker, subscribes to bus events, and blocks
// until ctx is cancelled. A farewell message is published before
// disconnecting.
func (h *MQTTHandler) Start(ctx context.Context) error {
	mqttCfg := h.cfg.GetApplication().MQTT
	h.logger.Info().
		Str("broker", mqttCfg.BrokerURL).
		Int("port", mqttCfg.Port).
		Str("topic_root", h.topicRoot).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.subscribeEvents()

	<-ctx.Done()

	h.publishShutdown()
	h.client.Disconnect(5000)
	h.logger.Info().Msg("MQTT disconnected")
	return nil
}

func (h *MQTTHandler) subscribeEvents() {
	h.bus.Subscribe(events.EventHealthSnapshot, "mqtt.health", h.onHealthSnapshot)
	h.bus.Subscribe(events.EventRoomCreated, "mqtt.roomCreated", h.onRoomEvent("room_created"))
	h.bus.Subscribe(events.EventRoomDestroyed, "mqtt.roomDestroyed", h.onRoomEvent("room_destroyed"))
	h.bus.Subscribe(events.EventPeerAuthenticated, "mqtt.peerAuthenticated", h.onPeerEvent("peer_authenticated"))
	h.bus.Subscribe(events.EventPeerDisconnected, "mqtt.peerDisconnected", h.onPeerEvent("peer_disconnected"))
	h.bus.Subscribe(events.EventServerStarted, "mqtt.serverStarted", h.onServerEvent("server_started"))
	h.bus.Subscribe(events.EventServerStopping, "mqtt.serverStopping", h.onServerEvent("server_stopping"))
}

// publish sends one JSON message at QoS 1.
func (h *MQTTHandler) publish(topic string, payload any) {
	if !h.client.IsConnected() {
		return
	}

	data, err := json.Marshal(h.buildMessage(payload))
	if err != nil {
		h.logger.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.client.Publish(topic, 1, false, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			h.logger.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

func (h *MQTTHandler) buildMessage(payload any) map[string]any {
	msg := make(map[string]any, len(h.metadata)+2)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}

func (h *MQTTHandler) topic(suffix string) string {
	return h.topicRoot + "/" + suffix
}

func (h *MQTTHandler) onHealthSnapshot(ctx context.Context, event events.Event) error {
	h.publish(h.topic("status"), event.Payload)
	return nil
}

func (h *MQTTHandler) onRoomEvent(name string) events.HandlerFunc {
	return func(ctx context.Context, event events.Event) error {
		h.publish(h.topic("rooms"), map[string]any{
			"event":   name,
			"payload": event.Payload,
		})
		return nil
	}
}

func (h *MQTTHandler) onPeerEvent(name string) events.HandlerFunc {
	return func(ctx context.Context, event events.Event) error {
		h.publish(h.topic("events"), map[string]any{
			"event":   name,
			"payload": event.Payload,
		})
		return nil
	}
}

func (h *MQTTHandler) onServerEvent(name string) events.HandlerFunc {
	return func(ctx context.Context, event events.Event) error {
		h.publish(h.topic("events"), map[string]any{
			"event":   name,
			"payload": event.Payload,
		})
		return nil
	}
}

func (h *MQTTHandler) publishShutdown() {
	h.publish(h.topic("events"), map[string]any{
		"event": "server_stopped",
	})
}

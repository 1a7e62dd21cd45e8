// Package control is the optional MQTT control plane: remote commands in,
// playback status events out. The looper runs fine without it; a Handler
// is only constructed when a broker is configured.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/alubbock/rpi-vidlooper/internal/looper"
)

// Command is a control plane command.
type Command struct {
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Response is a command acknowledgement.
type Response struct {
	CommandAck string                 `json:"command_ack"`
	Status     string                 `json:"status"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Timestamp  string                 `json:"timestamp"`
}

// StatusEvent is published on every completed playback transition.
type StatusEvent struct {
	Event     string        `json:"event"`
	Playback  looper.Status `json:"playback"`
	Timestamp string        `json:"timestamp"`
}

// Callbacks wires commands to the state machine.
type Callbacks struct {
	OnGetStatus func() looper.Status
	OnPlay      func(index int) error
	OnStop      func() error
	OnShutdown  func() error
}

// Config contains control plane settings.
type Config struct {
	// Broker is the MQTT broker host:port.
	Broker string
	// InstanceID identifies this looper in topics and as MQTT client id.
	InstanceID string
}

// Handler subscribes to the control topic and publishes responses and
// status events to the status topic.
type Handler struct {
	cfg       Config
	client    mqtt.Client
	commands  chan Command
	callbacks Callbacks

	controlTopic string
	statusTopic  string

	// publish is swappable so tests can capture payloads.
	publish func(topic string, payload []byte) error
}

// NewHandler creates a control plane handler.
func NewHandler(cfg Config, callbacks Callbacks) *Handler {
	h := &Handler{
		cfg:          cfg,
		commands:     make(chan Command, 10),
		callbacks:    callbacks,
		controlTopic: fmt.Sprintf("vidlooper/control/%s", cfg.InstanceID),
		statusTopic:  fmt.Sprintf("vidlooper/status/%s", cfg.InstanceID),
	}
	h.publish = h.publishMQTT
	return h
}

// Connect establishes the broker connection with auto-reconnect.
func (h *Handler) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", h.cfg.Broker))
	opts.SetClientID(h.cfg.InstanceID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		slog.Info("mqtt connection established",
			"broker", h.cfg.Broker,
			"client_id", h.cfg.InstanceID,
		)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		slog.Warn("mqtt connection lost, will auto-reconnect",
			"broker", h.cfg.Broker,
			"error", err,
		)
	}

	h.client = mqtt.NewClient(opts)

	slog.Info("connecting to mqtt broker", "broker", h.cfg.Broker)

	token := h.client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	return nil
}

// Start subscribes to the control topic and begins processing commands.
func (h *Handler) Start(ctx context.Context) error {
	token := h.client.Subscribe(h.controlTopic, 1, h.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control subscription failed: %w", err)
	}

	slog.Info("control plane started", "topic", h.controlTopic)

	go h.processCommands(ctx)

	return nil
}

// Stop unsubscribes and disconnects.
func (h *Handler) Stop() error {
	if h.client != nil && h.client.IsConnected() {
		token := h.client.Unsubscribe(h.controlTopic)
		token.Wait()
		h.client.Disconnect(250)
	}

	slog.Info("control plane stopped")
	return nil
}

// PublishStatus emits a playback status event. Wire it to the looper's
// OnTransition hook.
func (h *Handler) PublishStatus(st looper.Status) {
	ev := StatusEvent{
		Event:     "playback",
		Playback:  st,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Error("failed to marshal status event", "error", err)
		return
	}
	if err := h.publish(h.statusTopic, payload); err != nil {
		slog.Error("failed to publish status event", "error", err)
	}
}

// messageHandler queues an incoming command without blocking the paho
// callback goroutine.
func (h *Handler) messageHandler(client mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		slog.Error("failed to parse control command", "error", err)
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     "error",
			Error:      "invalid JSON",
		})
		return
	}

	slog.Info("control command received", "command", cmd.Command)

	select {
	case h.commands <- cmd:
	default:
		slog.Warn("command queue full, dropping command", "command", cmd.Command)
	}
}

func (h *Handler) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-h.commands:
			if !ok {
				return
			}
			h.handleCommand(cmd)
		}
	}
}

// handleCommand executes one command and sends the acknowledgement.
func (h *Handler) handleCommand(cmd Command) {
	var resp Response
	resp.CommandAck = cmd.Command

	switch cmd.Command {
	case "get_status":
		st := h.callbacks.OnGetStatus()
		resp.Status = "success"
		resp.Data = map[string]interface{}{
			"active_index": st.ActiveIndex,
			"video":        st.Video,
			"session":      st.Session,
			"playing":      st.Playing,
		}

	case "play":
		index, ok := cmd.Params["index"].(float64)
		if !ok {
			resp.Status = "error"
			resp.Error = "missing or invalid 'index' parameter (expected integer)"
			break
		}
		if err := h.callbacks.OnPlay(int(index)); err != nil {
			resp.Status = "error"
			resp.Error = err.Error()
			break
		}
		resp.Status = "success"
		resp.Data = map[string]interface{}{
			"index": int(index),
		}

	case "stop":
		if err := h.callbacks.OnStop(); err != nil {
			resp.Status = "error"
			resp.Error = err.Error()
			break
		}
		resp.Status = "success"
		resp.Data = map[string]interface{}{
			"playing": false,
		}

	case "shutdown":
		slog.Warn("shutdown command received via control plane")
		resp.Status = "success"
		resp.Data = map[string]interface{}{
			"shutdown_initiated": true,
		}
		// Acknowledge before triggering shutdown so the response gets out.
		h.sendResponse(resp)
		go func() {
			time.Sleep(500 * time.Millisecond)
			if err := h.callbacks.OnShutdown(); err != nil {
				slog.Error("shutdown callback failed", "error", err)
			}
		}()
		return

	default:
		resp.Status = "error"
		resp.Error = fmt.Sprintf("unknown command: %s", cmd.Command)
	}

	h.sendResponse(resp)
}

func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339)

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to marshal response", "error", err)
		return
	}

	if err := h.publish(h.statusTopic, payload); err != nil {
		slog.Error("failed to publish response", "error", err)
		return
	}

	slog.Debug("response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}

func (h *Handler) publishMQTT(topic string, payload []byte) error {
	token := h.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	return token.Error()
}

// Package telemetry implements the optional MQTT publisher described in
// §10.4: a fire-and-forget sink for slot lifecycle events that never
// blocks the relay's hot path.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/winter-snowfall/wookiee-unicaster/internal/config"
	"github.com/winter-snowfall/wookiee-unicaster/internal/events"
)

// eventMessage is the JSON body published for every lifecycle event.
type eventMessage struct {
	Event string `json:"event"`
	Role  string `json:"role"`
	Slot  int    `json:"slot"`
	Peer  string `json:"peer,omitempty"`
	At    string `json:"at"`
}

// Publisher connects to an MQTT broker and publishes slot lifecycle
// events handed to it over a buffered channel. A full channel drops the
// event with a WARNING log, the same drop-over-block policy the relay's
// packet queues use.
type Publisher struct {
	client mqtt.Client
	role   config.Role
	log    zerolog.Logger

	events chan events.Event
	done   chan struct{}
}

// New connects to the broker named in cfg. The connection is established
// with auto-reconnect so transient broker outages never affect the relay.
func New(cfg config.TelemetryConfig, role config.Role, log zerolog.Logger) (*Publisher, error) {
	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerURL, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetKeepAlive(30 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10*time.Second) || token.Error() != nil {
		if token.Error() != nil {
			return nil, fmt.Errorf("telemetry: connect: %w", token.Error())
		}
		return nil, fmt.Errorf("telemetry: connect: timed out")
	}

	p := &Publisher{
		client: client,
		role:   role,
		log:    log,
		events: make(chan events.Event, 256),
		done:   make(chan struct{}),
	}
	go p.run()
	return p, nil
}

// Handle is an events.HandlerFunc suitable for EventBus.Subscribe, so the
// publisher is wired in the same way any other event consumer is.
func (p *Publisher) Handle(_ context.Context, event events.Event) error {
	select {
	case p.events <- event:
	default:
		p.log.Warn().Str("event", string(event.Type)).Msg("telemetry channel full, dropping event")
	}
	return nil
}

func (p *Publisher) run() {
	for {
		select {
		case ev := <-p.events:
			p.publish(ev)
		case <-p.done:
			return
		}
	}
}

func (p *Publisher) publish(ev events.Event) {
	topic := topicFor(p.role, ev.Type)
	if topic == "" {
		return
	}

	msg := eventMessage{
		Event: string(ev.Type),
		Role:  string(p.role),
		Slot:  ev.Slot,
		At:    ev.At.Format(time.RFC3339),
	}
	if ev.Peer != nil {
		msg.Peer = ev.Peer.String()
	}

	body, err := json.Marshal(msg)
	if err != nil {
		p.log.Error().Err(err).Msg("telemetry: marshal event")
		return
	}

	token := p.client.Publish(topic, 0, false, body)
	token.WaitTimeout(2 * time.Second)
	if err := token.Error(); err != nil {
		p.log.Warn().Err(err).Str("topic", topic).Msg("telemetry: publish failed")
	}
}

func topicFor(role config.Role, t events.EventType) string {
	switch t {
	case events.SlotAssigned:
		return fmt.Sprintf("wookiee/%s/slot/assigned", role)
	case events.SlotReset:
		return fmt.Sprintf("wookiee/%s/slot/reset", role)
	case events.RegistryPurged:
		return fmt.Sprintf("wookiee/%s/registry/purged", role)
	default:
		return ""
	}
}

// Close disconnects from the broker and stops the publishing goroutine.
func (p *Publisher) Close() {
	close(p.done)
	p.client.Disconnect(250)
}

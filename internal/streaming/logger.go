package streaming

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log"
	"time"
)

// Event is the envelope every sink receives for one published payload.
type Event struct {
	ID        string          `json:"id"`
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
}

// Publisher is the seam between the engine and whichever sink is wired in.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload interface{}) error
	Close() error
}

// LogPublisher is the default Publisher: every event is marshalled and
// written to the standard logger. Grounded on
// control_plane/streaming/logger.go's LogPublisher, with a real random
// event id in place of a placeholder string.
type LogPublisher struct {
	logger *log.Logger
	source string
}

func NewLogPublisher(source string) *LogPublisher {
	return &LogPublisher{logger: log.Default(), source: source}
}

func (p *LogPublisher) Publish(ctx context.Context, topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	event := Event{
		ID:        randomID(),
		Topic:     topic,
		Payload:   data,
		Timestamp: time.Now(),
		Source:    p.source,
	}

	eventBytes, _ := json.Marshal(event)
	p.logger.Printf("[streaming] publish %s: %s", topic, string(eventBytes))
	return nil
}

func (p *LogPublisher) Close() error {
	p.logger.Println("[streaming] closed LogPublisher")
	return nil
}

func randomID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(b[:])
}

// HubPublisher publishes to the structured log, then fans the same event
// out to a DecisionHub for live websocket subscribers. Composition over
// the single-sink LogPublisher, since this domain needs both sinks
// active at once rather than choosing one.
type HubPublisher struct {
	*LogPublisher
	hub *DecisionHub
}

func NewHubPublisher(source string, hub *DecisionHub) *HubPublisher {
	return &HubPublisher{LogPublisher: NewLogPublisher(source), hub: hub}
}

func (p *HubPublisher) Publish(ctx context.Context, topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	event := Event{
		ID:        randomID(),
		Topic:     topic,
		Payload:   data,
		Timestamp: time.Now(),
		Source:    p.source,
	}
	p.logger.Printf("[streaming] publish %s: %s", topic, string(data))
	if p.hub != nil {
		p.hub.Broadcast(event)
	}
	return nil
}

package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/AaronLay10/SmokersTable/internal/events"
	"github.com/AaronLay10/SmokersTable/internal/log"
	"github.com/AaronLay10/SmokersTable/internal/simulation"
)

const statusQueueSize = 64

// Transport is the part of Client the bridge uses.
type Transport interface {
	Subscribe(topic string, handler paho.MessageHandler) error
	Publish(topic string, retained bool, payload []byte) error
}

// PlaceRequest is the payload accepted on the place topic.
type PlaceRequest struct {
	Ingredients []string `json:"ingredients"`
}

// Bridge lets external suppliers place pairs over MQTT and publishes smoker
// status changes as retained messages.
type Bridge struct {
	transport Transport
	sim       *simulation.Simulation
	prefix    string

	statuses chan simulation.Status
	dropped  atomic.Int64

	logger zerolog.Logger
}

// NewBridge creates a bridge and registers it as an observer of sim.
func NewBridge(t Transport, sim *simulation.Simulation, prefix string) *Bridge {
	if prefix == "" {
		prefix = "smokers"
	}
	b := &Bridge{
		transport: t,
		sim:       sim,
		prefix:    prefix,
		statuses:  make(chan simulation.Status, statusQueueSize),
		logger:    log.WithComponent("mqtt-bridge"),
	}
	sim.AddObserver(b)
	return b
}

// PlaceTopic is where external suppliers publish pairs.
func (b *Bridge) PlaceTopic() string { return b.prefix + "/table/place" }

// StatusTopic is where the status of smoker id is published.
func (b *Bridge) StatusTopic(id string) string { return b.prefix + "/smokers/" + id + "/status" }

// AvailabilityTopic carries the retained Online/Offline state of the
// process publishing under prefix. Use it as the client's will topic.
func AvailabilityTopic(prefix string) string { return prefix + "/availability" }

// Subscribe (re)subscribes to the place topic. It is safe to call on every
// reconnect.
func (b *Bridge) Subscribe() error {
	if err := b.transport.Subscribe(b.PlaceTopic(), b.handlePlace); err != nil {
		return err
	}
	b.logger.Info().Str("topic", b.PlaceTopic()).Msg("subscribed")
	return nil
}

// OnConnect subscribes and marks the table online. Run it after every
// (re)connect.
func (b *Bridge) OnConnect() error {
	if err := b.Subscribe(); err != nil {
		return err
	}
	return b.transport.Publish(AvailabilityTopic(b.prefix), true, []byte(Online))
}

// Dropped returns the number of status updates discarded because the
// publish queue was full.
func (b *Bridge) Dropped() int64 { return b.dropped.Load() }

func (b *Bridge) handlePlace(_ paho.Client, msg paho.Message) {
	if err := b.place(msg.Payload()); err != nil {
		b.logger.Warn().Err(err).Str("topic", msg.Topic()).Msg("place rejected")
	}
}

func (b *Bridge) place(payload []byte) error {
	var req PlaceRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return b.rejected(fmt.Errorf("invalid payload: %w", err), nil)
	}
	if len(req.Ingredients) != simulation.Capacity {
		return b.rejected(fmt.Errorf("need exactly %d ingredients, got %d", simulation.Capacity, len(req.Ingredients)), req.Ingredients)
	}
	ings, err := b.sim.Catalog().Resolve(req.Ingredients...)
	if err != nil {
		return b.rejected(err, req.Ingredients)
	}
	// Table.Place reports its own rejections.
	return b.sim.Table().Place(ings[0], ings[1])
}

func (b *Bridge) rejected(err error, ingredients []string) error {
	events.Emit("warning", "supplier.rejected", err.Error(), map[string]interface{}{
		"source":      "mqtt",
		"ingredients": ingredients,
	})
	return err
}

// SmokingStarted queues a status update without blocking.
func (b *Bridge) SmokingStarted(st simulation.Status) { b.enqueue(st) }

// SmokingFinished queues a status update without blocking.
func (b *Bridge) SmokingFinished(st simulation.Status, _ error) { b.enqueue(st) }

func (b *Bridge) enqueue(st simulation.Status) {
	select {
	case b.statuses <- st:
	default:
		b.dropped.Add(1)
	}
}

// Run publishes the current status of every smoker and then every queued
// update until ctx is cancelled. It returns nil on cancellation.
func (b *Bridge) Run(ctx context.Context) error {
	for _, st := range b.sim.Statuses() {
		b.publish(st)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case st := <-b.statuses:
			b.publish(st)
		}
	}
}

func (b *Bridge) publish(st simulation.Status) {
	payload, err := json.Marshal(st)
	if err != nil {
		b.logger.Error().Err(err).Msg("marshal status")
		return
	}
	if err := b.transport.Publish(b.StatusTopic(st.ID), true, payload); err != nil {
		var timeout *PublishTimeoutError
		if errors.As(err, &timeout) {
			b.logger.Warn().Str("topic", timeout.Topic).Msg("publish timed out")
			return
		}
		b.logger.Error().Err(err).Str("smoker_id", st.ID).Msg("publish status")
	}
}

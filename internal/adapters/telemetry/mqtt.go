// Package telemetry publishes pipeline events off the machine.
//
// The MQTT emitter is the primary transport; the log emitter mirrors
// events into the structured log for broker-less runs. Both implement
// events.Emitter and never block the pipeline
package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"sprayer/internal/core/events"
	perr "sprayer/internal/platform/errors"
	"sprayer/internal/platform/logger"
)

// envelope wraps every published event so consumers can attribute
// payloads to one daemon run
type envelope struct {
	RunID string          `json:"run_id"`
	Type  string          `json:"type"`
	TS    time.Time       `json:"ts"`
	Data  json.RawMessage `json:"data"`
}

// Options shapes the MQTT emitter. Zero values take defaults
type Options struct {
	// Broker is host:port, required
	Broker string
	// ClientID defaults to sprayerd- plus a run id fragment
	ClientID string
	// TopicPrefix defaults to sprayer; events land on prefix/events/<type>
	TopicPrefix string
	// QoS applies to every event topic
	QoS byte
	// QueueSize bounds the events waiting behind the publish worker
	QueueSize int
}

// Stats is a point-in-time snapshot of the emitter
type Stats struct {
	RunID     string
	Connected bool
	Published uint64
	Dropped   uint64
	Errors    uint64
}

// MQTT publishes events to a broker. Emit queues behind a single publish
// worker and drops when the queue is full
type MQTT struct {
	opts  Options
	log   logger.Logger
	runID string

	dial   func(*paho.ClientOptions) paho.Client
	client paho.Client

	queue     chan events.Event
	stop      chan struct{}
	done      chan struct{}
	started   atomic.Bool
	closeOnce sync.Once

	mu        sync.Mutex
	connected bool
	published uint64
	dropped   uint64
	errors    uint64
}

// NewMQTT builds the emitter; Connect starts it
func NewMQTT(o Options) *MQTT {
	runID := uuid.NewString()
	if o.ClientID == "" {
		o.ClientID = "sprayerd-" + runID[:8]
	}
	if o.TopicPrefix == "" {
		o.TopicPrefix = "sprayer"
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	return &MQTT{
		opts:  o,
		log:   *logger.Named("telemetry"),
		runID: runID,
		dial:  paho.NewClient,
		queue: make(chan events.Event, o.QueueSize),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// RunID identifies this daemon run in every envelope
func (e *MQTT) RunID() string { return e.runID }

// Connect dials the broker and starts the publish worker. The paho client
// keeps reconnecting on its own afterwards
func (e *MQTT) Connect(ctx context.Context) error {
	if e.opts.Broker == "" {
		return perr.InvalidArgf("mqtt broker not configured")
	}

	opts := paho.NewClientOptions()
	opts.AddBroker("tcp://" + e.opts.Broker)
	opts.SetClientID(e.opts.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(paho.Client) {
		e.setConnected(true)
		e.log.Info().
			Str("broker", e.opts.Broker).
			Str("client_id", e.opts.ClientID).
			Msg("mqtt connected")
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		e.setConnected(false)
		e.log.Warn().Err(err).Str("broker", e.opts.Broker).Msg("mqtt connection lost, auto-reconnecting")
	}

	e.client = e.dial(opts)
	token := e.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return perr.Wrapf(err, perr.ErrorCodeUnavailable, "mqtt connect %s", e.opts.Broker)
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	e.setConnected(true)
	e.started.Store(true)
	go e.pump()
	return nil
}

// Emit implements events.Emitter
func (e *MQTT) Emit(ev events.Event) {
	select {
	case e.queue <- ev:
	default:
		e.mu.Lock()
		e.dropped++
		e.mu.Unlock()
	}
}

// Close flushes the queue and disconnects. Safe without a prior Connect
// and after a failed one
func (e *MQTT) Close() {
	e.closeOnce.Do(func() {
		if e.started.Load() {
			close(e.stop)
			<-e.done
		}
		if e.client != nil {
			e.client.Disconnect(250)
		}
		e.setConnected(false)
	})
}

// Stats snapshots the emitter counters
func (e *MQTT) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		RunID:     e.runID,
		Connected: e.connected,
		Published: e.published,
		Dropped:   e.dropped,
		Errors:    e.errors,
	}
}

func (e *MQTT) pump() {
	defer close(e.done)
	for {
		select {
		case ev := <-e.queue:
			e.publish(ev)
		case <-e.stop:
			for {
				select {
				case ev := <-e.queue:
					e.publish(ev)
				default:
					return
				}
			}
		}
	}
}

func (e *MQTT) publish(ev events.Event) {
	data, err := ev.ToJSON()
	if err != nil {
		e.fail(err, ev, "marshal")
		return
	}
	payload, err := json.Marshal(envelope{RunID: e.runID, Type: ev.Type(), TS: ev.At(), Data: data})
	if err != nil {
		e.fail(err, ev, "marshal")
		return
	}

	topic := e.opts.TopicPrefix + "/events/" + ev.Type()
	token := e.client.Publish(topic, e.opts.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.fail(perr.TimedOutf("publish timed out"), ev, topic)
		return
	}
	if err := token.Error(); err != nil {
		e.fail(err, ev, topic)
		return
	}

	e.mu.Lock()
	e.published++
	e.mu.Unlock()
	e.log.Debug().Str("topic", topic).Int("size", len(payload)).Msg("event published")
}

func (e *MQTT) fail(err error, ev events.Event, what string) {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
	e.log.Warn().Err(err).Str("event", ev.Type()).Str("op", what).Msg("event publish failed")
}

func (e *MQTT) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/switchyard/pkg/log"
	"github.com/cuemby/switchyard/pkg/types"
)

// EventType represents the type of event
type EventType string

const (
	EventCandidateRegistered   EventType = "candidate-registered"
	EventCandidateUnregistered EventType = "candidate-unregistered"
	EventPreSwap               EventType = "pre-swap"
	EventPostSwap              EventType = "post-swap"
	EventSwapFailed            EventType = "swap-failed"
	EventSwapComplete          EventType = "swap-complete"
	EventDomainReady           EventType = "domain-ready"
	EventLifecycleError        EventType = "lifecycle-error"
	EventIntegrityViolation    EventType = "integrity-violation"
)

// Event represents a control-plane event
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Domain    types.Domain
	Key       string
	Provider  string
	Source    types.Source
	Message   string
	Fields    map[string]string
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
	echo        bool
}

// NewBroker creates a new event broker. When echo is true, published events
// are also written to the console log after field redaction.
func NewBroker(echo bool) *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100), // Buffer up to 100 events
		stopCh:      make(chan struct{}),
		echo:        echo,
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50) // Buffer per subscriber
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers
func (b *Broker) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if b.echo {
		b.echoToConsole(event)
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

// Emit builds and publishes an event for a plug point.
func (b *Broker) Emit(t EventType, c *types.Candidate, msg string, fields map[string]string) {
	ev := &Event{Type: t, Message: msg, Fields: fields}
	if c != nil {
		ev.Domain = c.Domain
		ev.Key = c.Key
		ev.Provider = c.Provider
		ev.Source = c.Source
	}
	b.Publish(ev)
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// echoToConsole writes the event to the console sink. Free-form fields are
// redacted first; the structural identity fields are always safe to echo.
func (b *Broker) echoToConsole(event *Event) {
	logger := log.WithComponent("events")
	ev := logger.Info().
		Str("event", string(event.Type)).
		Str("domain", string(event.Domain)).
		Str("key", event.Key)
	if event.Provider != "" {
		ev = ev.Str("provider", event.Provider)
	}
	if event.Source != "" {
		ev = ev.Str("source", string(event.Source))
	}
	for k, v := range Scrub(event.Fields) {
		ev = ev.Str(k, v)
	}
	ev.Msg(event.Message)
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

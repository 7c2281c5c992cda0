// Package events is the engine's only outbound channel. Subscribers get a
// buffered channel each; a full subscriber loses the event instead of
// stalling the publisher.
package events

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"crisis-engine/internal/escalation"
	"crisis-engine/internal/models"
)

// Kind names an event.
type Kind string

const (
	KindRiskAssessed        Kind = "risk-assessed"
	KindHighRiskDetected    Kind = "high-risk-detected"
	KindHumanReviewRequired Kind = "human-review-required"
	KindHealthCheck         Kind = "health-check"
	KindEscalationChanged   Kind = "escalation-changed"
)

// Event is one message on the bus. Exactly one payload field is set,
// depending on Kind.
type Event struct {
	Kind        Kind                         `json:"kind"`
	SubjectID   string                       `json:"subjectId,omitempty"`
	Timestamp   time.Time                    `json:"timestamp"`
	Assessment  *models.CrisisRiskAssessment `json:"assessment,omitempty"`
	Performance *models.ModelPerformance     `json:"performance,omitempty"`
	Transition  *escalation.Transition       `json:"transition,omitempty"`
}

var (
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crisis",
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Events published on the bus",
	}, []string{"kind"})

	eventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crisis",
		Subsystem: "events",
		Name:      "dropped_total",
		Help:      "Events dropped because a subscriber buffer was full",
	}, []string{"kind"})
)

// Bus fans events out to subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
	logger *zap.Logger
}

// Subscription receives events of the kinds it asked for, in publish order.
type Subscription struct {
	id    uint64
	ch    chan Event
	kinds map[Kind]bool
	bus   *Bus
	once  sync.Once

	mu      sync.Mutex
	dropped int64
}

func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		subs:   make(map[uint64]*Subscription),
		logger: logger,
	}
}

// Subscribe registers a subscriber with the given buffer. With no kinds it
// receives every event. Subscribing to a closed bus returns a subscription
// whose channel is already closed.
func (b *Bus) Subscribe(buffer int, kinds ...Kind) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	s := &Subscription{
		ch:  make(chan Event, buffer),
		bus: b,
	}
	if len(kinds) > 0 {
		s.kinds = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = true
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.once.Do(func() { close(s.ch) })
		return s
	}
	b.nextID++
	s.id = b.nextID
	b.subs[s.id] = s
	return s
}

// Publish delivers e to every interested subscriber without blocking.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	eventsPublished.WithLabelValues(string(e.Kind)).Inc()
	for _, s := range b.subs {
		if s.kinds != nil && !s.kinds[e.Kind] {
			continue
		}
		select {
		case s.ch <- e:
		default:
			s.mu.Lock()
			s.dropped++
			s.mu.Unlock()
			eventsDropped.WithLabelValues(string(e.Kind)).Inc()
			b.logger.Warn("Event subscriber is full, dropping event",
				zap.Uint64("subscription", s.id),
				zap.String("kind", string(e.Kind)),
				zap.String("subject_id", e.SubjectID))
		}
	}
}

// Close closes every subscription. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		delete(b.subs, id)
		s.once.Do(func() { close(s.ch) })
	}
}

// C returns the channel events arrive on. It is closed when the
// subscription or the bus is closed.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Dropped is the number of events this subscriber missed.
func (s *Subscription) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, s.id)
	s.once.Do(func() { close(s.ch) })
}

// internal/events/publisher.go
package events

import (
	"context"
	"sync"
	"time"

	"github.com/Gazprom100/TAPDEL-sub000/internal/domain"
	"github.com/Gazprom100/TAPDEL-sub000/internal/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Publisher delivers domain events to a sink
type Publisher interface {
	Publish(ctx context.Context, evt *domain.Event) error
	Close() error
	Name() string
}

// NewEvent stamps an event with an id and the current time
func NewEvent(typ domain.EventType, userID, entityID string) *domain.Event {
	return &domain.Event{
		ID:        uuid.NewString(),
		Type:      typ,
		UserID:    userID,
		EntityID:  entityID,
		Timestamp: time.Now().UTC(),
	}
}

// Bus publishes best-effort: a delivery failure is logged and counted, never
// returned to the state machine that produced the event.
type Bus struct {
	publisher Publisher
	timeout   time.Duration
	logger    *zap.Logger
}

func NewBus(publisher Publisher, logger *zap.Logger) *Bus {
	return &Bus{
		publisher: publisher,
		timeout:   5 * time.Second,
		logger:    logger,
	}
}

func (b *Bus) Emit(ctx context.Context, evt *domain.Event) {
	// state is already committed; a cancelled caller must not drop the event
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
	defer cancel()

	if err := b.publisher.Publish(pubCtx, evt); err != nil {
		metrics.EventPublishErrors.WithLabelValues(b.publisher.Name()).Inc()
		b.logger.Warn("failed to publish event",
			zap.String("type", string(evt.Type)),
			zap.String("entity_id", evt.EntityID),
			zap.Error(err))
	}
}

func (b *Bus) Close() error {
	return b.publisher.Close()
}

// ============================================================================
// LOG + MEMORY SINKS
// ============================================================================

type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, evt *domain.Event) error {
	p.logger.Info("event",
		zap.String("id", evt.ID),
		zap.String("type", string(evt.Type)),
		zap.String("user_id", evt.UserID),
		zap.String("entity_id", evt.EntityID),
		zap.String("amount", evt.Amount),
		zap.String("tx_hash", evt.TxHash),
		zap.String("reason", evt.Reason))
	return nil
}

func (p *LogPublisher) Close() error { return nil }
func (p *LogPublisher) Name() string { return "log" }

// MemoryPublisher records events in order
type MemoryPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Publish(_ context.Context, evt *domain.Event) error {
	p.mu.Lock()
	p.events = append(p.events, *evt)
	p.mu.Unlock()
	return nil
}

func (p *MemoryPublisher) Close() error { return nil }
func (p *MemoryPublisher) Name() string { return "memory" }

func (p *MemoryPublisher) Events() []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.Event, len(p.events))
	copy(out, p.events)
	return out
}

// OfType returns the recorded events of typ
func (p *MemoryPublisher) OfType(typ domain.EventType) []domain.Event {
	var out []domain.Event
	for _, e := range p.Events() {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

package mqtt

import (
	"context"

	"go.uber.org/zap"

	"carwash-backend/internal/session"
)

// Bridge is a session.Observer that forwards states to a Publisher from its
// own goroutine. Observers are called under the bay lock, so Publish only
// enqueues; states that do not fit in the buffer are dropped.
type Bridge struct {
	pub   Publisher
	queue chan session.State
	log   *zap.Logger
	done  chan struct{}
}

// NewBridge creates a Bridge with the given buffer size.
func NewBridge(pub Publisher, buffer int, log *zap.Logger) *Bridge {
	if buffer <= 0 {
		buffer = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Bridge{pub: pub, queue: make(chan session.State, buffer), log: log, done: make(chan struct{})}
}

// Publish implements session.Observer.
func (b *Bridge) Publish(s session.State) {
	select {
	case b.queue <- s:
	default:
		b.log.Warn("mqtt queue full, dropping state", zap.Int64("bay_id", s.BayID), zap.String("event", s.Event))
	}
}

// Run forwards queued states until ctx is cancelled, then drains what is left.
func (b *Bridge) Run(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case s := <-b.queue:
			b.forward(s)
		case <-ctx.Done():
			for {
				select {
				case s := <-b.queue:
					b.forward(s)
				default:
					return
				}
			}
		}
	}
}

// Done is closed when Run returns.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

func (b *Bridge) forward(s session.State) {
	if err := b.pub.Publish(s); err != nil {
		b.log.Warn("mqtt publish failed", zap.Int64("bay_id", s.BayID), zap.Error(err))
	}
}

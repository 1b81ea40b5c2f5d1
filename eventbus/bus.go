package eventbus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/unicitynetwork/uce/internal/logger"
	"github.com/unicitynetwork/uce/internal/observability"
)

// Bus is the single point of fan-out for all intra-process events (§4.1).
// Exactly one Bus is constructed per process; every spawned system
// registers its protocol-module handlers on it.
type Bus struct {
	log *slog.Logger

	mu       sync.Mutex
	queue    []Event
	handlers []Handler
	pending  []Handler

	wake chan struct{}
}

// New constructs an idle Bus and registers its queue-depth gauge with obs's
// Prometheus registerer; call Run to start dispatching. One Bus is
// constructed per process, so the gauge registration below runs exactly
// once — unlike the per-system protocol modules' instruments, which are
// built once in Metrics and merely recorded against per spawn.
func New(obs observability.Observability) *Bus {
	b := &Bus{
		log:  obs.Logger(),
		wake: make(chan struct{}, 1),
	}
	queueDepth := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "ucnode_eventbus_queue_depth",
		Help: "Number of events currently queued for dispatch on the next pass.",
	}, func() float64 { return float64(b.Len()) })
	if err := obs.PrometheusRegisterer().Register(queueDepth); err != nil {
		b.log.Error("register eventbus queue depth gauge", logger.Error(err))
	}
	return b
}

// Push enqueues event for dispatch on the next pass. Non-blocking: the
// queue is unbounded, per §4.1's stated failure model.
func (b *Bus) Push(e Event) {
	b.mu.Lock()
	b.queue = append(b.queue, e)
	b.mu.Unlock()
	b.notify()
}

// Register adds handler. The addition is folded into the active set at the
// start of the next dispatch pass and sees every event delivered from that
// pass on; events left in a batch that is already being delivered do not
// reach it.
func (b *Bus) Register(h Handler) {
	b.mu.Lock()
	b.pending = append(b.pending, h)
	b.mu.Unlock()
	b.notify()
}

func (b *Bus) notify() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Run drains the queue in a loop until ctx is canceled. Each pass: take a
// snapshot of the queue and fold in newly registered handlers, then
// deliver every event in that snapshot to every handler (in registration
// order) that answers ShouldHandle. Events a handler posts during Handle
// are appended to the live queue and so are only visible starting the
// next pass — the dispatcher never re-enters a handler while it is
// running. Run returns when ctx is done, after one final drain of
// whatever is left in the queue.
func (b *Bus) Run(ctx context.Context) {
	for {
		batch, handlers := b.takeBatch()
		b.deliver(batch, handlers)

		if len(batch) == 0 {
			select {
			case <-ctx.Done():
				b.drainOnShutdown()
				return
			case <-b.wake:
			}
			continue
		}

		select {
		case <-ctx.Done():
			b.drainOnShutdown()
			return
		default:
		}
	}
}

func (b *Bus) takeBatch() ([]Event, []Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	batch := b.queue
	b.queue = nil
	if len(b.pending) > 0 {
		b.handlers = append(b.handlers, b.pending...)
		b.pending = nil
	}
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	return batch, handlers
}

func (b *Bus) deliver(batch []Event, handlers []Handler) {
	for _, e := range batch {
		b.log.Log(context.Background(), logger.LevelTrace, "dispatching event", logger.SystemID(e.System), logger.Data(e.String()))
		for _, h := range handlers {
			func() {
				defer func() {
					if r := recover(); r != nil {
						// A handler panic means a protocol invariant was
						// violated; re-panic so it surfaces as fatal (§4.1).
						panic(r)
					}
				}()
				if h.ShouldHandle(e) {
					h.Handle(e)
				}
			}()
		}
	}
}

// drainOnShutdown delivers whatever accumulated in the queue between the
// last pass and ctx being canceled, so a handler's final cleanup event
// (e.g. EpAborted emitted while the process is exiting) is not lost.
func (b *Bus) drainOnShutdown() {
	batch, handlers := b.takeBatch()
	if len(batch) > 0 {
		b.deliver(batch, handlers)
	}
}

// Len reports the current queue depth; exposed for tests asserting the bus
// drains down to zero.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

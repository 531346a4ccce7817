package notification

import (
	"context"
	"log"
	"sync"
)

// Dispatcher delivers alerts asynchronously. Every added notifier gets its
// own buffered queue and worker, so a slow webhook never delays a pass or
// another notifier. When a queue is full the alert is dropped for that
// notifier only.
type Dispatcher struct {
	mu      sync.RWMutex
	sinks   []*sink
	bufSize int

	// OnDrop is called when an alert is dropped for a notifier.
	// sinkIdx is the 0-based index of the slow notifier.
	OnDrop func(sinkIdx int, alert Alert)
}

type sink struct {
	n     Notifier
	queue chan Alert
}

// NewDispatcher creates a Dispatcher with the given per-notifier queue size.
func NewDispatcher(bufSize int) *Dispatcher {
	if bufSize <= 0 {
		bufSize = 1
	}
	return &Dispatcher{bufSize: bufSize}
}

// Add registers a notifier. Call it before Run.
func (d *Dispatcher) Add(n Notifier) {
	d.mu.Lock()
	d.sinks = append(d.sinks, &sink{n: n, queue: make(chan Alert, d.bufSize)})
	d.mu.Unlock()
}

// Send enqueues alert for every notifier without blocking. It never fails;
// delivery errors are logged by the workers.
func (d *Dispatcher) Send(_ context.Context, alert Alert) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for i, s := range d.sinks {
		select {
		case s.queue <- alert:
		default:
			if d.OnDrop != nil {
				d.OnDrop(i, alert)
			} else {
				log.Printf("[notify] queue %d full, dropping %q", i, alert.Title)
			}
		}
	}
	return nil
}

// Run starts one worker per notifier and blocks until ctx is cancelled.
// Alerts still queued at that point are discarded.
func (d *Dispatcher) Run(ctx context.Context) {
	d.mu.RLock()
	sinks := append([]*sink(nil), d.sinks...)
	d.mu.RUnlock()

	var wg sync.WaitGroup
	for i, s := range sinks {
		wg.Add(1)
		go func(i int, s *sink) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case alert := <-s.queue:
					if err := s.n.Send(ctx, alert); err != nil {
						log.Printf("[notify] notifier %d: %v", i, err)
					}
				}
			}
		}(i, s)
	}
	wg.Wait()
}

// QueueStat is the fill level of one notifier queue.
type QueueStat struct {
	Len int
	Cap int
}

// QueueStats returns (length, capacity) for each notifier queue.
func (d *Dispatcher) QueueStats() []QueueStat {
	d.mu.RLock()
	defer d.mu.RUnlock()
	stats := make([]QueueStat, len(d.sinks))
	for i, s := range d.sinks {
		stats[i] = QueueStat{Len: len(s.queue), Cap: cap(s.queue)}
	}
	return stats
}

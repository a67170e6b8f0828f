package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/randalmurphal/modegate/internal/db"
)

const (
	// Buffer flushes when it reaches this size.
	bufferSizeThreshold = 10
	// Buffer flushes automatically at this interval.
	flushInterval = 5 * time.Second
)

// PersistentPublisher wraps MemoryPublisher and adds journal persistence.
// Subscribers keep real-time delivery; events are additionally buffered and
// written to the event_log table in batches.
type PersistentPublisher struct {
	inner   *MemoryPublisher
	journal *db.DB
	source  string
	logger  *slog.Logger

	bufferMu sync.Mutex
	buffer   []*db.EventLog

	flushTicker *time.Ticker
	stopCh      chan struct{}
	wg          sync.WaitGroup
	closeOnce   sync.Once
}

// NewPersistentPublisher creates a publisher journaling to journal. The
// source parameter identifies where events originate (e.g. "engine", "sim").
func NewPersistentPublisher(journal *db.DB, source string, logger *slog.Logger, opts ...PublisherOption) *PersistentPublisher {
	if logger == nil {
		logger = slog.Default()
	}

	p := &PersistentPublisher{
		inner:   NewMemoryPublisher(opts...),
		journal: journal,
		source:  source,
		buffer:  make([]*db.EventLog, 0, bufferSizeThreshold),
		logger:  logger,
		stopCh:  make(chan struct{}),
	}

	p.flushTicker = time.NewTicker(flushInterval)
	p.wg.Add(1)
	go p.flushLoop()

	return p
}

// Publish broadcasts the event to subscribers and buffers it for the journal.
func (p *PersistentPublisher) Publish(event Event) {
	p.inner.Publish(event)

	if p.journal == nil {
		return
	}

	entry := &db.EventLog{
		EventType: string(event.Type),
		Kind:      event.Kind,
		Data:      event.Data,
		Source:    p.source,
		CreatedAt: event.Time,
	}

	p.bufferMu.Lock()
	p.buffer = append(p.buffer, entry)
	flush := len(p.buffer) >= bufferSizeThreshold
	p.bufferMu.Unlock()

	if flush {
		p.Flush()
	}
}

// Subscribe returns a channel that receives events for the given kind.
func (p *PersistentPublisher) Subscribe(kind string) <-chan Event {
	return p.inner.Subscribe(kind)
}

// Unsubscribe removes a subscription channel.
func (p *PersistentPublisher) Unsubscribe(kind string, ch <-chan Event) {
	p.inner.Unsubscribe(kind, ch)
}

// Flush writes all buffered events to the journal.
func (p *PersistentPublisher) Flush() {
	p.bufferMu.Lock()
	batch := p.buffer
	p.buffer = make([]*db.EventLog, 0, bufferSizeThreshold)
	p.bufferMu.Unlock()

	if len(batch) == 0 || p.journal == nil {
		return
	}
	if err := p.journal.SaveEvents(batch); err != nil {
		p.logger.Warn("failed to journal events", "count", len(batch), "error", err)
	}
}

// Close flushes remaining events and shuts down the publisher.
func (p *PersistentPublisher) Close() {
	p.closeOnce.Do(func() {
		close(p.stopCh)
		p.wg.Wait()
		p.flushTicker.Stop()
		p.Flush()
		p.inner.Close()
	})
}

func (p *PersistentPublisher) flushLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case <-p.flushTicker.C:
			p.Flush()
		}
	}
}

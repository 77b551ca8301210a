package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/juju/clock"
	"github.com/sirupsen/logrus"
)

const defaultSubscriberBuffer = 64

// Emitter is implemented by types that publish progress events.
type Emitter interface {
	Emit(t Type, data map[string]interface{}) error
}

// LogConfig holds the options for a Log.
type LogConfig struct {
	// Dir is the directory holding the progress file.
	Dir string

	// Clock stamps events. Defaults to the wall clock.
	Clock clock.Clock

	// Logger receives write failures. Defaults to a discard logger.
	Logger *logrus.Entry
}

// Log appends events to <Dir>/progress.jsonl in emission order and fans
// every appended event out to in-process subscribers.
type Log struct {
	mu     sync.Mutex
	w      io.WriteCloser
	enc    *json.Encoder
	clk    clock.Clock
	logger *logrus.Entry

	subs   map[int]*subscriber
	nextID int
}

type subscriber struct {
	ch   chan Event
	done chan struct{}
}

// OpenLog opens the progress file for appending, creating it if needed.
func OpenLog(cfg LogConfig) (*Log, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(&logrus.Logger{Out: io.Discard})
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create progress dir: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(cfg.Dir, FileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open progress log: %w", err)
	}

	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)

	return &Log{
		w:      f,
		enc:    enc,
		clk:    cfg.Clock,
		logger: cfg.Logger,
		subs:   make(map[int]*subscriber),
	}, nil
}

// Emit appends an event of type t and notifies subscribers. Subscribers
// whose buffer is full miss the event, except for crawl_completed which is
// delivered to every subscriber that has not unsubscribed.
func (l *Log) Emit(t Type, data map[string]interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	evt := Event{Type: t, Timestamp: l.clk.Now().UTC(), Data: data}
	if err := l.enc.Encode(evt); err != nil {
		l.logger.WithFields(logrus.Fields{"err": err, "event": t}).Error("failed to append progress event")
		return fmt.Errorf("emit %s: %w", t, err)
	}

	for id, sub := range l.subs {
		select {
		case sub.ch <- evt:
			continue
		default:
		}

		if t != CrawlCompleted {
			l.logger.WithFields(logrus.Fields{"subscriber": id, "event": t}).Debug("dropping event for slow subscriber")
			continue
		}
		select {
		case sub.ch <- evt:
		case <-sub.done:
		}
	}

	return nil
}

// Subscribe registers an in-process listener. The returned function
// unregisters it and closes the channel.
func (l *Log) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextID
	l.nextID++
	sub := &subscriber{ch: make(chan Event, buffer), done: make(chan struct{})}
	l.subs[id] = sub

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			// Unblocks an Emit waiting on this subscriber before taking the lock.
			close(sub.done)

			l.mu.Lock()
			defer l.mu.Unlock()

			if _, ok := l.subs[id]; ok {
				delete(l.subs, id)
				close(sub.ch)
			}
		})
	}

	return sub.ch, cancel
}

// Tail delivers events appended from now on until a crawl_completed event
// has been delivered, the context is cancelled or deliver returns an error.
// Events already buffered when the context is cancelled are still delivered.
func (l *Log) Tail(ctx context.Context, deliver func(Event) error) error {
	events, cancel := l.Subscribe(0)
	defer cancel()

	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			if err := deliver(evt); err != nil {
				return err
			}
			if evt.Type == CrawlCompleted {
				return nil
			}
		case <-ctx.Done():
			return drain(events, deliver)
		}
	}
}

func drain(events <-chan Event, deliver func(Event) error) error {
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			if err := deliver(evt); err != nil {
				return err
			}
			if evt.Type == CrawlCompleted {
				return nil
			}
		default:
			return nil
		}
	}
}

// Close closes every subscriber channel and the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for id, sub := range l.subs {
		close(sub.ch)
		delete(l.subs, id)
	}

	return l.w.Close()
}

package progress

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/juju/clock"
	"github.com/sirupsen/logrus"
)

// Tailer poll intervals.
const (
	WaitInterval      = time.Second
	HeartbeatInterval = 500 * time.Millisecond
)

// waitingMessage is sent with waiting events.
const waitingMessage = "等待进度文件创建"

// TailerConfig holds the options for a Tailer.
type TailerConfig struct {
	// Dir is the directory holding the progress file.
	Dir string

	// FromStart replays the most recent run recorded in the file, starting at
	// its last crawl_started line, instead of tailing from the current end.
	FromStart bool

	// Clock drives the poll intervals. Defaults to the wall clock.
	Clock clock.Clock

	// Logger receives malformed-line warnings. Defaults to a discard logger.
	Logger *logrus.Entry
}

// Tailer follows a progress file written by another process.
type Tailer struct {
	path      string
	fromStart bool
	clk       clock.Clock
	logger    *logrus.Entry
}

// NewTailer returns a Tailer configured by cfg.
func NewTailer(cfg TailerConfig) *Tailer {
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(&logrus.Logger{Out: io.Discard})
	}

	return &Tailer{
		path:      filepath.Join(cfg.Dir, FileName),
		fromStart: cfg.FromStart,
		clk:       cfg.Clock,
		logger:    cfg.Logger,
	}
}

// Tail delivers events until a crawl_completed event has been delivered, the
// context is cancelled or deliver returns an error. waiting and heartbeat
// events are synthesized while the file is missing or idle.
func (t *Tailer) Tail(ctx context.Context, deliver func(Event) error) error {
	var offset int64
	if t.fromStart {
		start, err := t.lastRunOffset()
		if err != nil {
			return err
		}
		offset = start
	} else if info, err := os.Stat(t.path); err == nil {
		offset = info.Size()
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		info, err := os.Stat(t.path)
		if errors.Is(err, fs.ErrNotExist) {
			if err = deliver(t.synthetic(Waiting, map[string]interface{}{"message": waitingMessage})); err != nil {
				return err
			}
			if !t.sleep(ctx, WaitInterval) {
				return nil
			}
			continue
		} else if err != nil {
			return fmt.Errorf("stat progress log: %w", err)
		}

		// The file was replaced or truncated.
		if info.Size() < offset {
			offset = 0
		}

		if info.Size() == offset {
			if err = deliver(t.synthetic(Heartbeat, nil)); err != nil {
				return err
			}
			if !t.sleep(ctx, HeartbeatInterval) {
				return nil
			}
			continue
		}

		chunk, err := t.readFrom(offset, info.Size())
		if err != nil {
			return err
		}

		// Only complete lines are consumed; a partial trailing line is read
		// again on the next poll.
		end := bytes.LastIndexByte(chunk, '\n')
		if end < 0 {
			if !t.sleep(ctx, HeartbeatInterval) {
				return nil
			}
			continue
		}
		offset += int64(end + 1)

		done, err := t.deliverLines(chunk[:end+1], deliver)
		if err != nil || done {
			return err
		}

		if !t.sleep(ctx, HeartbeatInterval) {
			return nil
		}
	}
}

// lastRunOffset returns the offset of the last crawl_started line, or 0 when
// the file is missing or holds no such line. The file is appended to across
// runs, so earlier runs precede it.
func (t *Tailer) lastRunOffset() (int64, error) {
	f, err := os.Open(t.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("open progress log: %w", err)
	}
	defer func() { _ = f.Close() }()

	var (
		last, pos int64
		r         = bufio.NewReader(f)
	)
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 && line[len(line)-1] == '\n' && bytes.Contains(line, []byte(CrawlStarted)) {
			var evt Event
			if json.Unmarshal(line, &evt) == nil && evt.Type == CrawlStarted {
				last = pos
			}
		}
		pos += int64(len(line))

		if errors.Is(err, io.EOF) {
			return last, nil
		} else if err != nil {
			return 0, fmt.Errorf("read progress log: %w", err)
		}
	}
}

func (t *Tailer) readFrom(offset, size int64) ([]byte, error) {
	f, err := os.Open(t.path)
	if err != nil {
		return nil, fmt.Errorf("open progress log: %w", err)
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, size-offset)
	n, err := f.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read progress log: %w", err)
	}

	return buf[:n], nil
}

func (t *Tailer) deliverLines(chunk []byte, deliver func(Event) error) (bool, error) {
	for _, line := range bytes.Split(chunk, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		var evt Event
		if err := json.Unmarshal(line, &evt); err != nil {
			t.logger.WithField("err", err).Warn("skipping malformed progress line")
			continue
		}

		if err := deliver(evt); err != nil {
			return false, err
		}
		if evt.Type == CrawlCompleted {
			return true, nil
		}
	}

	return false, nil
}

func (t *Tailer) synthetic(typ Type, data map[string]interface{}) Event {
	return Event{Type: typ, Timestamp: t.clk.Now().UTC(), Data: data}
}

// sleep waits for d on the tailer clock; it returns false if ctx expires
// first.
func (t *Tailer) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-t.clk.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

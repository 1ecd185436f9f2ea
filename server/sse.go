package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hupe1980/finmesh/runner"
)

// DefaultHeartbeat is the interval of keep-alive comments.
const DefaultHeartbeat = 25 * time.Second

// stream writes runner events as Server-Sent Events.
type stream struct {
	w         io.Writer
	flush     func()
	heartbeat time.Duration
	seq       int
	mu        sync.Mutex
}

func newStream(w http.ResponseWriter, heartbeat time.Duration) *stream {
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")

	var flushFn func()
	if f, ok := w.(http.Flusher); ok {
		flushFn = f.Flush
	}
	return &stream{w: w, flush: flushFn, heartbeat: heartbeat}
}

// open commits the headers so the client learns the turn id before the
// first event.
func (s *stream) open() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flush != nil {
		s.flush()
	}
}

// pipe forwards events until the channel closes or ctx ends.
func (s *stream) pipe(ctx context.Context, events <-chan runner.StreamEvent) error {
	var ticker *time.Ticker
	if s.heartbeat > 0 {
		ticker = time.NewTicker(s.heartbeat)
		defer ticker.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := s.send(ev); err != nil {
				return err
			}
		case <-heartbeatChan(ticker):
			if err := s.write(fmt.Appendf(nil, ": ping %d\n\n", time.Now().Unix())); err != nil {
				return err
			}
		}
	}
}

func (s *stream) send(ev runner.StreamEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	s.seq++
	frame := "id: " + strconv.Itoa(s.seq) + "\nevent: " + string(ev.Type) + "\ndata: " + string(body) + "\n\n"
	return s.write([]byte(frame))
}

func (s *stream) write(data []byte) error {
	if s.w == nil {
		return errors.New("stream writer not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.w.Write(data); err != nil {
		return err
	}
	if s.flush != nil {
		s.flush()
	}
	return nil
}

func heartbeatChan(t *time.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

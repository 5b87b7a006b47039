// Package sse renders query event streams as Server-Sent Events.
package sse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/custodia-labs/mizan/internal/core/domain"
)

// DefaultHeartbeat is how often a comment line keeps idle connections open.
const DefaultHeartbeat = 15 * time.Second

// Encoder writes events in text/event-stream framing:
//
//	event: content
//	data: {"text":"Murabaha is"}
//
// Each event is flushed as soon as it is written.
type Encoder struct {
	w       io.Writer
	flusher http.Flusher
	buf     bytes.Buffer
}

// NewEncoder creates an encoder over w. If w is an http.Flusher every
// frame is flushed.
func NewEncoder(w io.Writer) *Encoder {
	f, _ := w.(http.Flusher)
	return &Encoder{w: w, flusher: f}
}

// Encode writes one event frame.
func (e *Encoder) Encode(ev domain.Event) error {
	data, err := json.Marshal(ev.Payload())
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	e.buf.Reset()
	e.buf.WriteString("event: ")
	e.buf.WriteString(string(ev.Type))
	e.buf.WriteString("\ndata: ")
	e.buf.Write(data)
	e.buf.WriteString("\n\n")
	return e.write()
}

// Heartbeat writes a comment frame that clients ignore.
func (e *Encoder) Heartbeat() error {
	e.buf.Reset()
	e.buf.WriteString(": heartbeat\n\n")
	return e.write()
}

func (e *Encoder) write() error {
	if _, err := e.w.Write(e.buf.Bytes()); err != nil {
		return err
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}

// Stream copies events to the encoder until the channel closes or ctx is
// done, writing a heartbeat whenever nothing was sent for interval.
// A zero interval disables heartbeats.
func Stream(ctx context.Context, enc *Encoder, events <-chan domain.Event, interval time.Duration) error {
	var tick <-chan time.Time
	if interval > 0 {
		t := time.NewTicker(interval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := enc.Encode(ev); err != nil {
				return err
			}
		case <-tick:
			if err := enc.Heartbeat(); err != nil {
				return err
			}
		}
	}
}

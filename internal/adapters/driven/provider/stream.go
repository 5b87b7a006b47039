package provider

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// maxLine bounds a single SSE line.
const maxLine = 1 << 20

// SSEEvent is one server-sent event from a provider stream.
type SSEEvent struct {
	Event string
	Data  string
}

// ReadSSE calls fn for each event in r until r ends or fn returns an error.
// Multiple data lines are joined with newlines; comments are skipped.
func ReadSSE(r io.Reader, fn func(SSEEvent) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)

	var (
		event string
		data  []string
	)
	dispatch := func() error {
		if len(data) == 0 {
			event = ""
			return nil
		}
		ev := SSEEvent{Event: event, Data: strings.Join(data, "\n")}
		event, data = "", data[:0]
		return fn(ev)
	}

	for scanner.Scan() {
		line := scanner.Bytes()
		switch {
		case len(line) == 0:
			if err := dispatch(); err != nil {
				return err
			}
		case line[0] == ':':
		default:
			field, value, _ := bytes.Cut(line, []byte(":"))
			value = bytes.TrimPrefix(value, []byte(" "))
			switch string(field) {
			case "event":
				event = string(value)
			case "data":
				data = append(data, string(value))
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return dispatch()
}

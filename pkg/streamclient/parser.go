package streamclient

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

const maxLineSize = 1 << 20

// Event is one server-sent event
type Event struct {
	ID   string
	Type string
	Data []byte
}

// parser splits a text/event-stream body into events
type parser struct {
	scanner *bufio.Scanner
}

func newParser(r io.Reader) *parser {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 4096), maxLineSize)
	return &parser{scanner: s}
}

// next returns the next complete event. It returns io.EOF when the stream
// ends cleanly and the scanner error otherwise; a partial event at the end
// of the stream is discarded.
func (p *parser) next() (Event, error) {
	var (
		evt     Event
		data    bytes.Buffer
		hasData bool
	)

	for p.scanner.Scan() {
		line := strings.TrimSuffix(p.scanner.Text(), "\r")

		if line == "" {
			if !hasData && evt.Type == "" {
				continue
			}
			if evt.Type == "" {
				evt.Type = "message"
			}
			evt.Data = data.Bytes()
			return evt, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			evt.Type = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		case "id":
			evt.ID = value
		}
	}

	if err := p.scanner.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}

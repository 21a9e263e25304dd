package tape

import (
	"encoding/json"
	"fmt"
	"io"
)

// doneLine is spec.md §6's terminator line.
const doneLine = "data: [DONE]\n\n"

// WriteSSE renders one Event as a single `data: <json>\n\n` line, the wire
// format spec.md §6 specifies. The HTTP response plumbing itself (headers,
// flushing, route registration) is out of this engine's scope; this is the
// one encoding step the engine owns because the shape of each line is part
// of the component contract under test (spec.md §8 property 8).
func WriteSSE(w io.Writer, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", b)
	return err
}

// WriteDone writes the tape's terminator line.
func WriteDone(w io.Writer) error {
	_, err := io.WriteString(w, doneLine)
	return err
}

// Drain ranges over tape's events, writing each as SSE to w, then writes
// the terminator line once the tape closes. It stops early, without writing
// the terminator, once the tape has been cancelled — matching spec.md §7's
// "Cancelled aborts ... no further events" rule for the consumer side.
func Drain(w io.Writer, t *Tape) error {
	for {
		if t.Cancelled() {
			return nil
		}
		select {
		case ev, ok := <-t.events:
			if !ok {
				if t.Cancelled() {
					return nil
				}
				return WriteDone(w)
			}
			if err := WriteSSE(w, ev); err != nil {
				return err
			}
		case <-t.cancel:
			return nil
		}
	}
}

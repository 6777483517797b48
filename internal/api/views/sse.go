package views

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// SSEWriter provides Server-Sent Events writing capabilities.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter creates a new SSE writer.
func NewSSEWriter(w http.ResponseWriter, flusher http.Flusher) *SSEWriter {
	return &SSEWriter{
		w:       w,
		flusher: flusher,
	}
}

// SendEvent sends an SSE event with the given event type and data.
// Format: event: <type>\ndata: <data>\n\n
func (s *SSEWriter) SendEvent(event, data string) error {
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// SendJSON marshals v onto a single data line.
func (s *SSEWriter) SendJSON(event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	return s.SendEvent(event, string(data))
}

// SendComment sends a comment (ignored by clients, useful for keepalive).
// Format: : <comment>\n\n
func (s *SSEWriter) SendComment(comment string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", comment); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// SendRetry tells the client to wait the specified milliseconds before reconnecting.
// Format: retry: <ms>\n\n
func (s *SSEWriter) SendRetry(milliseconds int) error {
	if _, err := fmt.Fprintf(s.w, "retry: %d\n\n", milliseconds); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

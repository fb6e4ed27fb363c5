package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// sseWriter emits server-sent event frames and flushes after each one so
// fragments reach the client as they are produced.
type sseWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("response writer does not support streaming")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	f.Flush()
	return &sseWriter{w: w, f: f}, nil
}

// Data writes an unnamed data frame with v as its JSON payload.
func (s *sseWriter) Data(v any) {
	s.write("", v)
}

// Event writes a named event frame with v as its JSON payload.
func (s *sseWriter) Event(name string, v any) {
	s.write(name, v)
}

func (s *sseWriter) write(name string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	if name != "" {
		fmt.Fprintf(s.w, "event: %s\n", name)
	}
	fmt.Fprintf(s.w, "data: %s\n\n", payload)
	s.f.Flush()
}

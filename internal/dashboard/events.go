package dashboard

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/devboot/internal/logging"
	"github.com/muurk/devboot/internal/status"
)

// EventName is the SSE event carrying a status snapshot.
const EventName = "message_changed"

// handleEvents streams a status snapshot on connect and after every change,
// with a keep-alive comment when nothing changed for KeepAlive.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	updates := s.config.Status.Subscribe()
	defer s.config.Status.Unsubscribe(updates)

	s.mu.Lock()
	s.streams++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.streams--
		s.mu.Unlock()
	}()

	logging.Debug("Event stream opened", zap.String("remote_addr", r.RemoteAddr))
	if err := writeEvent(w, s.config.Status.Snapshot()); err != nil {
		return
	}
	flusher.Flush()

	keepAlive := time.NewTicker(s.config.KeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			logging.Debug("Event stream closed", zap.String("remote_addr", r.RemoteAddr))
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := writeEvent(w, snap); err != nil {
				return
			}
			keepAlive.Reset(s.config.KeepAlive)
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		}
		flusher.Flush()
	}
}

func writeEvent(w http.ResponseWriter, snap status.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", EventName, data)
	return err
}

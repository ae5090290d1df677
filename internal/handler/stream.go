package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Batyrkajan/Amour/pkg/metrics"
)

const (
	// viewPollInterval is how often the stream checks the session for a
	// changed view. The event volume per conversation is tiny, so polling
	// the reconciled view beats plumbing a notification channel through
	// every store mutation.
	viewPollInterval = 250 * time.Millisecond

	heartbeatInterval = 30 * time.Second
)

// Stream handles GET /api/v1/conversations/{id}/stream
//
// It pushes the reconciled conversation view over SSE whenever it changes:
// optimistic sends, confirmations, remote inserts, status updates, and the
// peer typing signal all surface here.
func (h *SessionHandler) Stream(w http.ResponseWriter, r *http.Request) {
	s, ok := h.get(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.SSEConnectionsActive.Inc()
	defer metrics.SSEConnectionsActive.Dec()

	done := r.Context().Done()

	sendSSEEvent(w, flusher, "connected", map[string]string{
		"conversation_id": s.ConversationID(),
	})

	var last []byte
	if data, err := json.Marshal(s.View()); err == nil {
		sendSSEEvent(w, flusher, "view", json.RawMessage(data))
		last = data
	}

	poll := time.NewTicker(viewPollInterval)
	defer poll.Stop()
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-done:
			return

		case <-poll.C:
			data, err := json.Marshal(s.View())
			if err != nil || bytes.Equal(data, last) {
				continue
			}
			sendSSEEvent(w, flusher, "view", json.RawMessage(data))
			last = data

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", map[string]int64{
				"timestamp": time.Now().Unix(),
			})
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()

	return nil
}

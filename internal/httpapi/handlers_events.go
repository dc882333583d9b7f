package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/JW-TS-QC/Cornell-MOE/internal/events"
)

// sseKeepalive is the interval between comment frames that keep idle
// connections from being dropped by proxies.
const sseKeepalive = 30 * time.Second

func writeSSE(w http.ResponseWriter, f http.Flusher, event, data string) {
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	f.Flush()
}

// SSEHandler streams bandit events over Server-Sent Events. An optional
// ?types=arm_chosen,outcome_recorded parameter restricts the stream to the
// named event types.
func SSEHandler(bus *events.Bus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			jsonError(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		var wanted map[events.EventType]bool
		if raw := r.URL.Query().Get("types"); raw != "" {
			wanted = make(map[events.EventType]bool)
			for _, t := range strings.Split(raw, ",") {
				wanted[events.EventType(strings.TrimSpace(t))] = true
			}
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		sub := bus.Subscribe(64)
		defer bus.Unsubscribe(sub)

		writeSSE(w, flusher, "connected", `{"status":"ok"}`)

		keepalive := time.NewTicker(sseKeepalive)
		defer keepalive.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-keepalive.C:
				_, _ = fmt.Fprint(w, ": keepalive\n\n")
				flusher.Flush()
			case e := <-sub.C:
				if wanted != nil && !wanted[e.Type] {
					continue
				}
				writeSSE(w, flusher, string(e.Type), string(e.JSON()))
			}
		}
	}
}

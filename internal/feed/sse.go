package feed

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/dgnsrekt/leadfeed/internal/wire"
)

// HandleSSE streams the feed as server-sent events. Each message becomes an
// event named after its type; data messages carry their seq as the event id.
func (h *Hub) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client := h.newClient(nil, transportSSE, wire.ProtocolJSON)
	if !h.join(client) {
		http.Error(w, "feed unavailable", http.StatusServiceUnavailable)
		return
	}
	defer h.leave(client)

	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.logger.Info("sse client connected",
		zap.String("connID", client.connID),
		zap.String("remote_addr", r.RemoteAddr),
	)

	for {
		select {
		case <-r.Context().Done():
			h.logger.Info("sse client disconnected", zap.String("connID", client.connID))
			return

		case f, ok := <-client.send:
			if !ok {
				writeCloseEvent(w, client.closeCode, client.closeReason)
				flusher.Flush()
				return
			}
			if _, err := w.Write(formatEvent(f)); err != nil {
				h.logger.Debug("failed to write to sse client", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

func formatEvent(f frame) []byte {
	if f.msgType == wire.TypeHeartbeat {
		return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", f.msgType, f.payload))
	}
	return []byte(fmt.Sprintf("event: %s\nid: %d\ndata: %s\n\n", f.msgType, f.seq, f.payload))
}

func writeCloseEvent(w http.ResponseWriter, code int, reason string) {
	name := "close"
	if code == CloseServiceRestart {
		name = "restart"
	}
	fmt.Fprintf(w, "event: %s\ndata: {\"code\":%d,\"reason\":%q}\n\n", name, code, reason)
}

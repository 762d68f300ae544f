package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"adversary-lab/internal/domain/models"
	"adversary-lab/internal/streaming"
	"adversary-lab/pkg/logger"
)

const sseKeepAlive = 15 * time.Second

// StreamingHandler handles real-time campaign event endpoints
type StreamingHandler struct {
	responder
	wsHub    *streaming.WebSocketHub
	eventBus *streaming.EventBus
}

// NewStreamingHandler creates a new streaming handler. Either side may be nil.
func NewStreamingHandler(wsHub *streaming.WebSocketHub, eventBus *streaming.EventBus, log *logger.Logger) *StreamingHandler {
	return &StreamingHandler{
		responder: responder{logger: log.WithComponent("streaming-handler")},
		wsHub:     wsHub,
		eventBus:  eventBus,
	}
}

// HandleWebSocket handles GET /ws/campaigns
func (h *StreamingHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.wsHub == nil {
		h.respondError(w, http.StatusServiceUnavailable, "websocket streaming not available", nil)
		return
	}

	h.logger.Debug().
		Str("remote_addr", r.RemoteAddr).
		Str("user_agent", r.UserAgent()).
		Msg("websocket connection request")

	h.wsHub.ServeWebSocket(w, r)
}

// Events handles GET /stream/campaigns as server-sent events. The
// campaign_id, persona and type filters are repeatable or comma separated;
// detections_only narrows to detections and completions.
func (h *StreamingHandler) Events(w http.ResponseWriter, r *http.Request) {
	if h.eventBus == nil {
		h.respondError(w, http.StatusServiceUnavailable, "event streaming not available", nil)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.respondError(w, http.StatusInternalServerError, "streaming unsupported", nil)
		return
	}

	q := r.URL.Query()
	detectionsOnly, _ := strconv.ParseBool(q.Get("detections_only"))
	var types []models.CampaignEventType
	for _, t := range splitValues(q["type"]) {
		types = append(types, models.CampaignEventType(t))
	}
	sub := &streaming.Subscription{
		CampaignIDs:    splitValues(q["campaign_id"]),
		Types:          types,
		Personas:       splitValues(q["persona"]),
		DetectionsOnly: detectionsOnly,
	}

	events, unsubscribe := h.eventBus.Subscribe(sub)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, open := <-events:
			if !open {
				return
			}
			if err := writeSSE(w, ev); err != nil {
				h.logger.Debug().Err(err).Msg("event stream closed")
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev *models.CampaignEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, data)
	return err
}

func splitValues(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// GetStats handles GET /api/v1/stream/stats
func (h *StreamingHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]int{
		"websocket_clients":     0,
		"event_bus_subscribers": 0,
	}
	if h.wsHub != nil {
		stats["websocket_clients"] = h.wsHub.ClientCount()
	}
	if h.eventBus != nil {
		stats["event_bus_subscribers"] = h.eventBus.SubscriberCount()
	}
	h.respondJSON(w, http.StatusOK, stats)
}

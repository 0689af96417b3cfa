package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/pubsync/internal/projector"
)

// maxNotificationBytes caps a push payload. Real payloads are a few hundred
// bytes.
const maxNotificationBytes = 64 << 10

func newServeMux(projectors []*projector.Projector, g prometheus.Gatherer, log *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("POST /notifications", NotificationHandler(projectors, log))
	mux.Handle("GET /metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.Handle("GET /healthz", healthHandler(projectors))
	return mux
}

// NotificationHandler offers each push payload to every projector. It
// answers 202 when some projector accepted the payload, 404 when none did
// and 400 when the body cannot be read.
func NotificationHandler(projectors []*projector.Projector, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxNotificationBytes))
		if err != nil || len(body) == 0 {
			http.Error(w, "unreadable notification", http.StatusBadRequest)
			return
		}
		accepted := false
		for _, p := range projectors {
			if p.ProcessNotification(body) {
				accepted = true
			}
		}
		if !accepted {
			log.Debug("notification matched no subscription", "bytes", len(body))
			http.Error(w, "no matching subscription", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})
}

type entityHealth struct {
	Entity       string `json:"entity"`
	RecordType   string `json:"record_type"`
	Subscription string `json:"subscription"`
	Watermark    string `json:"watermark,omitempty"`
	Error        string `json:"error,omitempty"`
}

// healthHandler reports each entity's subscription status and watermark.
// A watermark that cannot be read is reported per entity.
func healthHandler(projectors []*projector.Projector) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out := make([]entityHealth, 0, len(projectors))
		for _, p := range projectors {
			e := p.Engine()
			h := entityHealth{
				Entity:       p.EntityName(),
				RecordType:   e.Config().RecordType,
				Subscription: e.Status().String(),
			}
			if wm, err := e.Watermark(r.Context()); err != nil {
				h.Error = fmt.Sprintf("read watermark: %v", err)
			} else {
				h.Watermark = wm.UTC().Format(time.RFC3339Nano)
			}
			out = append(out, h)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	})
}

package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	"github.com/MrEthical07/goTrust/regionsync"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type healthResponse struct {
	Status string `json:"status"`
	Region string `json:"region"`
	Error  string `json:"error,omitempty"`
}

type syncStatus struct {
	Publisher  *regionsync.PublisherStats  `json:"publisher,omitempty"`
	Breaker    string                      `json:"breaker,omitempty"`
	Subscriber *regionsync.SubscriberStats `json:"subscriber,omitempty"`
}

// opsRouter serves liveness, Prometheus metrics and bus counters. pub and
// sub are nil when sync is disabled.
func opsRouter(region string, p pinger, metrics http.Handler, pub *regionsync.Publisher, sub *regionsync.Subscriber) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok", Region: region}
		code := http.StatusOK
		if err := p.Ping(ctx); err != nil {
			resp.Status = "unavailable"
			resp.Error = err.Error()
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	})

	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Get("/sync", func(w http.ResponseWriter, _ *http.Request) {
		var st syncStatus
		if pub != nil {
			ps := pub.Stats()
			st.Publisher = &ps
			st.Breaker = pub.BreakerState()
		}
		if sub != nil {
			ss := sub.Stats()
			st.Subscriber = &ss
		}
		writeJSON(w, http.StatusOK, st)
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

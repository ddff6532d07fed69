package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/MrCodeEU/gatekeeper/pkg/eventlog"
	"github.com/MrCodeEU/gatekeeper/pkg/logging"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// EventLister is the read side of the event log.
type EventLister interface {
	Recent(ctx context.Context, limit int) ([]eventlog.Event, error)
}

const defaultEventLimit = 20

// NewRouter serves /healthz, /metrics and /events. events may be nil.
func NewRouter(events EventLister) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	if events != nil {
		r.Get("/events", func(w http.ResponseWriter, r *http.Request) {
			limit := defaultEventLimit
			if v := r.URL.Query().Get("limit"); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil || n <= 0 {
					http.Error(w, "invalid limit", http.StatusBadRequest)
					return
				}
				limit = n
			}

			list, err := events.Recent(r.Context(), limit)
			if err != nil {
				logging.Component("metrics").WithError(err).Error("Listing events failed")
				http.Error(w, "failed to list events", http.StatusInternalServerError)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(list)
		})
	}

	return r
}

// Serve runs the status server until ctx is done.
func Serve(ctx context.Context, addr string, events EventLister) error {
	errLog := logging.Writer("metrics")
	defer func() { _ = errLog.Close() }()

	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(events),
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          log.New(errLog, "", 0),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logging.Component("metrics").WithField("addr", addr).Info("Status server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Package control serves a small HTTP surface for a running camera
// session: status, talkback and recording toggles, foreground state and
// Prometheus metrics.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/bbielsa/camstream/internal/camera"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Session is the camera session being controlled.
// *camera.Session implements it.
type Session interface {
	Status() camera.Status
	SetForeground(on bool)
	ToggleRecording(ctx context.Context, on bool) bool
	ToggleTalkback(ctx context.Context, enabled bool) bool
}

type toggleResponse struct {
	OK     bool          `json:"ok"`
	Status camera.Status `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewRouter builds the control routes.
func NewRouter(s Session, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))

	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.Status())
	})

	r.Post("/talkback", func(w http.ResponseWriter, r *http.Request) {
		enabled, ok := parseEnabled(w, r)
		if !ok {
			return
		}
		done := s.ToggleTalkback(r.Context(), enabled)
		writeToggle(w, done, s.Status())
	})

	r.Post("/recording", func(w http.ResponseWriter, r *http.Request) {
		enabled, ok := parseEnabled(w, r)
		if !ok {
			return
		}
		done := s.ToggleRecording(r.Context(), enabled)
		writeToggle(w, done, s.Status())
	})

	r.Post("/foreground", func(w http.ResponseWriter, r *http.Request) {
		enabled, ok := parseEnabled(w, r)
		if !ok {
			return
		}
		s.SetForeground(enabled)
		writeJSON(w, http.StatusAccepted, s.Status())
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

// Serve runs the control server on addr until ctx ends.
func Serve(ctx context.Context, addr string, h http.Handler, logger zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("control server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func parseEnabled(w http.ResponseWriter, r *http.Request) (bool, bool) {
	v, err := strconv.ParseBool(r.URL.Query().Get("enabled"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "enabled must be true or false"})
		return false, false
	}
	return v, true
}

func writeToggle(w http.ResponseWriter, ok bool, st camera.Status) {
	code := http.StatusOK
	if !ok {
		code = http.StatusConflict
	}
	writeJSON(w, code, toggleResponse{OK: ok, Status: st})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("control request")
		})
	}
}

package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 5 * time.Second

// StatusFunc returns a JSON-encodable snapshot of the viewer.
type StatusFunc func() any

type Server struct {
	srv    *http.Server
	logger *logrus.Logger
}

func NewServer(addr string, m *Metrics, status StatusFunc, log *logrus.Logger) *Server {
	return &Server{
		srv:    &http.Server{Addr: addr, Handler: NewRouter(m, status), ReadHeaderTimeout: 5 * time.Second},
		logger: log,
	}
}

func NewRouter(m *Metrics, status StatusFunc) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", m.Handler(nil))
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		var snapshot any = struct{}{}
		if status != nil {
			snapshot = status()
		}
		_ = json.NewEncoder(w).Encode(snapshot)
	})
	return r
}

// Run serves until ctx is done, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("Status server listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}

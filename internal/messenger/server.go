package messenger

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// DefaultShutdownTimeout bounds the webhook server's graceful shutdown.
const DefaultShutdownTimeout = 5 * time.Second

// Server hosts the Messenger webhook over HTTP.
type Server struct {
	httpServer *http.Server
}

// NewServer builds the webhook server for the Messenger client.
func NewServer(addr string, client *Client) *Server {
	router := mux.NewRouter()
	router.HandleFunc("/webhook", client.handleVerify).Methods(http.MethodGet)
	router.HandleFunc("/webhook", client.handleEvents).Methods(http.MethodPost)
	router.HandleFunc("/health", handleHealth).Methods(http.MethodGet)

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// Run serves the webhook until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errs := make(chan error, 1)
	go func() {
		slog.Info("Messenger webhook server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	}
}

package httpt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"eventdelivery/internal/config"

	"github.com/wb-go/wbf/logger"
)

type HTTPServer struct {
	server          *http.Server
	shutdownTimeout time.Duration
	log             logger.Logger
}

func NewHTTPServer(handler *DeliveryHandler, cfg *config.HTTP, log logger.Logger) (*HTTPServer, error) {
	if handler == nil {
		return nil, errors.New("httpt.NewHTTPServer: nil handler")
	}

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:           handler.Engine(),
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	return &HTTPServer{
		server:          srv,
		shutdownTimeout: cfg.ShutdownTimeout,
		log:             log,
	}, nil
}

// Start serves until the context is cancelled, then drains in-flight
// requests within the configured shutdown timeout.
func (s *HTTPServer) Start(ctx context.Context) error {
	const op = "transport.http.Server.Start"

	errCh := make(chan error, 1)
	go func() {
		s.log.LogAttrs(ctx, logger.InfoLevel, "http server listening",
			logger.String("op", op),
			logger.String("addr", s.server.Addr),
		)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("%s: %w", op, err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s: shutdown: %w", op, err)
	}

	s.log.LogAttrs(ctx, logger.InfoLevel, "http server stopped",
		logger.String("op", op),
	)
	return nil
}

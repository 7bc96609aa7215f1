package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	goTrust "github.com/MrEthical07/goTrust"
	"github.com/MrEthical07/goTrust/regionsync"
)

// sweeper runs the reconciliation pass on a fixed interval.
type sweeper struct {
	engine   interface{ Sweep(context.Context) (goTrust.SweepResult, error) }
	interval time.Duration
	logger   zerolog.Logger
}

func (s *sweeper) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			res, err := s.engine.Sweep(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.logger.Warn().Err(err).Msg("sweep failed")
				continue
			}
			if res.Terminated() > 0 || res.Failed > 0 {
				s.logger.Info().
					Int("scanned", res.Scanned).
					Int("expired", res.Expired).
					Int("inactive", res.Inactive).
					Int("trimmed", res.Trimmed).
					Int("failed", res.Failed).
					Bool("incomplete", res.Incomplete).
					Msg("sweep finished")
			}
		}
	}
}

func (s *sweeper) String() string { return "session-sweeper" }

// syncService consumes peer-region events until the context ends.
type syncService struct {
	sub     *regionsync.Subscriber
	applier regionsync.Applier
}

func (s *syncService) Serve(ctx context.Context) error {
	err := s.sub.Run(ctx, s.applier)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err == nil {
		return errors.New("subscriber stopped")
	}
	return err
}

func (s *syncService) String() string { return "region-sync" }

// gcRunner reclaims badger value log space.
type gcRunner struct {
	gc       func(discardRatio float64) error
	interval time.Duration
	logger   zerolog.Logger
}

func (g *gcRunner) Serve(ctx context.Context) error {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := g.gc(0.5); err != nil {
				g.logger.Warn().Err(err).Msg("badger value log gc failed")
			}
		}
	}
}

func (g *gcRunner) String() string { return "badger-gc" }

// httpServer adapts ListenAndServe to the supervisor's context lifecycle.
type httpServer struct {
	server          *http.Server
	shutdownTimeout time.Duration
}

func (h *httpServer) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("ops server shutdown: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *httpServer) String() string { return "ops-server" }

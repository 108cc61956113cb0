package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"

	intrnl "tubechat/internal"
	"tubechat/internal/logging"
)

// newSupervisor builds the root tree. Event hook output goes through zerolog
// so restarts and backoffs show up next to the rest of the server logs.
func newSupervisor(shutdownTimeout time.Duration) *suture.Supervisor {
	return suture.New("tubechat", suture.Spec{
		EventHook: func(e suture.Event) {
			logging.Warn().Fields(e.Map()).Msg(e.String())
		},
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          shutdownTimeout,
	})
}

// hubService runs the realtime hub. A hub cannot be restarted once stopped,
// so any exit other than cancellation takes the whole tree down.
type hubService struct {
	hub *intrnl.Hub
}

func (s *hubService) Serve(ctx context.Context) error {
	err := s.hub.RunWithContext(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	logging.Error().Err(err).Msg("hub stopped unexpectedly")
	return suture.ErrTerminateSupervisorTree
}

func (s *hubService) String() string { return "hub" }

// httpService serves the chi router. The first run uses the listener bound by
// RunServer so callers learn the real port before anything starts; restarts
// listen again on the same address.
type httpService struct {
	server          *http.Server
	shutdownTimeout time.Duration

	mu       sync.Mutex
	listener net.Listener
	addr     string
}

func newHTTPService(server *http.Server, listener net.Listener, shutdownTimeout time.Duration) *httpService {
	return &httpService{
		server:          server,
		shutdownTimeout: shutdownTimeout,
		listener:        listener,
		addr:            listener.Addr().String(),
	}
}

func (s *httpService) takeListener() (net.Listener, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		l := s.listener
		s.listener = nil
		return l, nil
	}
	return net.Listen("tcp", s.addr)
}

func (s *httpService) Serve(ctx context.Context) error {
	listener, err := s.takeListener()
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return suture.ErrDoNotRestart
		}
		logging.Error().Err(err).Str("addr", s.addr).Msg("http server failed")
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logging.Warn().Err(err).Msg("http shutdown incomplete")
		}
		<-errCh
		return ctx.Err()
	}
}

func (s *httpService) String() string { return "http" }

// Package server wires the protocol core (rtmp, hub, admission, auth,
// command) into a running process: TCP and TLS accept loops, the
// authorizer back-end selected by configuration, and the command
// subscriber.
package server

import (
	"context"
	"net"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/riverfeed/rtmpcast/admission"
	"github.com/riverfeed/rtmpcast/auth"
	"github.com/riverfeed/rtmpcast/command"
	"github.com/riverfeed/rtmpcast/config"
	"github.com/riverfeed/rtmpcast/hub"
)

// Server owns every long-lived collaborator and the listeners that feed
// them connections.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	hub         *hub.Hub
	admission   *admission.Controller
	authorizer  auth.Authorizer
	control     *auth.ControlAuthorizer
	subscriber  *command.Subscriber
	certs       *certReloader

	mu        sync.Mutex
	stop      chan struct{}
	listeners []net.Listener
	wg        sync.WaitGroup
}

// New constructs a Server from cfg without starting anything. A
// configuration error here (a certificate that can't be loaded, most
// notably) is the "fatal configuration error" the exit-code contract
// requires the caller to surface before any listener comes up.
func New(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    logger,
		hub:       hub.NewHub(logger, cfg.GopCacheSizeMB),
		admission: admission.New(cfg.MaxIPConcurrentConns, cfg.ConcurrentLimitWhitelist, cfg.PlayWhitelist),
		stop:      make(chan struct{}),
	}

	switch {
	case cfg.ControlUse:
		control := auth.NewControlAuthorizer(logger, cfg.ControlBaseURL, cfg.ControlSecret, cfg.ExternalIP, cfg.ExternalPort, cfg.ExternalSSL)
		control.OnKill = s.hub.KillChannel
		s.control = control
		s.authorizer = control
	case cfg.CallbackURL != "":
		s.authorizer = auth.NewCallbackAuthorizer(logger, cfg.CallbackURL, cfg.JWTSecret, cfg.CustomJWTSubject, cfg.RTMPHost, cfg.RTMPPort)
	default:
		s.logger.Warn("server: no authorizer configured, every publish attempt will be accepted")
	}

	if cfg.RedisUse {
		s.subscriber = command.New(logger, cfg, s.hub)
	}

	if cfg.SSLCert != "" && cfg.SSLKey != "" {
		certs, err := newCertReloader(logger, cfg.SSLCert, cfg.SSLKey, cfg.SSLCheckReloadSeconds)
		if err != nil {
			return nil, err
		}
		s.certs = certs
	}

	return s, nil
}

func (s *Server) stopping() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// Run binds the configured listeners and blocks until Shutdown is called
// or every listener fails. It returns the first listener error encountered,
// or nil on a clean shutdown.
func (s *Server) Run() error {
	bind := net.JoinHostPort(s.cfg.BindAddress, strconv.Itoa(s.cfg.RTMPPort))
	tcpListener, err := net.Listen("tcp", bind)
	if err != nil {
		return errors.Wrap(err, "server: listening on rtmp port")
	}
	s.trackListener(tcpListener)
	s.logger.Info("server: rtmp listener started", zap.String("addr", bind))

	if s.certs != nil {
		tlsBind := net.JoinHostPort(s.cfg.BindAddress, strconv.Itoa(s.cfg.SSLPort))
		rawListener, err := net.Listen("tcp", tlsBind)
		if err != nil {
			return errors.Wrap(err, "server: listening on ssl port")
		}
		tlsListener := newTLSListener(rawListener, s.certs.tlsConfig())
		s.trackListener(tlsListener)
		s.logger.Info("server: rtmps listener started", zap.String("addr", tlsBind))

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.certs.run(s.stop)
		}()
	}

	if s.control != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.control.Run(s.stop)
		}()
	}

	if s.subscriber != nil {
		ctx, cancel := context.WithCancel(context.Background())
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			<-s.stop
			cancel()
		}()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.subscriber.Run(ctx)
		}()
	}

	errCh := make(chan error, len(s.listeners))
	for _, ln := range s.listeners {
		ln := ln
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			errCh <- s.serve(ln)
		}()
	}

	var firstErr error
	for range s.listeners {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	// Every listener has returned; stop the background collaborators too so
	// the wait below does not outlive the listeners.
	s.Shutdown()
	s.wg.Wait()
	return firstErr
}

func (s *Server) trackListener(ln net.Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, ln)
	s.mu.Unlock()
}

// Shutdown closes every listener and stops the background collaborators,
// causing Run to return.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.stop:
		return // already shutting down
	default:
		close(s.stop)
	}
	for _, ln := range s.listeners {
		_ = ln.Close()
	}
}

package server

import (
	"net"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/riverfeed/rtmpcast/rtmp"
)

// serve runs one accept loop against ln until it's closed, handing each
// connection off to a session after an admission check. TCP and TLS share
// this loop: TLS termination happens transparently inside tls.Listener's
// Accept, so by the time a net.Conn reaches here it already speaks plain
// RTMP either way.
func (s *Server) serve(ln net.Listener) error {
	defer ln.Close()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.stopping() {
				return nil
			}
			return errors.Wrap(err, "server: accept")
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	ip := remoteIP(conn)
	if !s.admission.AllowConnect(ip) {
		s.logger.Debug("server: connection rejected by admission control", zap.String("remoteIP", ip))
		_ = conn.Close()
		return
	}

	sess := rtmp.NewSession(conn, rtmp.Deps{
		Hub:        s.hub,
		Authorizer: s.authorizer,
		Admission:  s.admission,
		Config:     s.cfg,
		Logger:     s.logger,
	})

	s.logger.Info("server: session starting", zap.String("session", sess.SessionID()), zap.String("remoteIP", ip))
	if err := sess.Start(); err != nil {
		s.logger.Info("server: session ended", zap.String("session", sess.SessionID()), zap.Error(err))
	} else {
		s.logger.Info("server: session ended", zap.String("session", sess.SessionID()))
	}
}

func remoteIP(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}

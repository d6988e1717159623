package server

import "net"

func (s *session) handleUSER(user string) error {
	s.user = user
	s.reply(331, "User name okay, need password.")
	return nil
}

func (s *session) handlePASS(pass string) error {
	if s.user == "" {
		s.reply(503, "Login with USER first.")
		return nil
	}

	if s.server.throttle != nil {
		if !s.server.throttle.Allow(s.remoteIP, s.user) {
			s.server.logger.Warn("authentication_locked_out",
				"session_id", s.sessionID,
				"remote_ip", s.remoteIP,
				"user", s.user,
			)
			s.reply(421, "Too many failed login attempts, closing control connection.")
			s.setState(stateClosed)
			s.conn.Close()
			return nil
		}
	}

	var ctx StorageBackend
	var err error
	if certAuth, ok := s.server.driver.(PeerCertAuthenticator); ok && len(s.peerCerts) > 0 {
		ctx, err = certAuth.AuthenticateWithCert(s.user, pass, s.host, net.ParseIP(s.remoteIP), s.peerCerts)
	} else {
		ctx, err = s.server.driver.Authenticate(s.user, pass, s.host, net.ParseIP(s.remoteIP))
	}
	if err != nil {
		if s.server.throttle != nil {
			s.server.throttle.Fail(s.remoteIP, s.user)
		}
		// Security audit: failed authentication
		s.server.logger.Warn("authentication_failed",
			"session_id", s.sessionID,
			"remote_ip", s.remoteIP,
			"user", s.user,
			"reason", err.Error(),
		)
		// Metrics collection
		if s.server.metricsCollector != nil {
			s.server.metricsCollector.RecordAuthentication(false, s.user)
		}
		s.reply(530, "Login incorrect.")
		return nil
	}

	if s.server.throttle != nil {
		s.server.throttle.Succeed(s.remoteIP, s.user)
	}

	s.fs = ctx
	s.isLoggedIn = true
	s.principal = Principal{Name: s.user}
	s.setState(stateAuthenticated)

	// Security audit: successful authentication
	s.server.logger.Info("authentication_success",
		"session_id", s.sessionID,
		"remote_ip", s.remoteIP,
		"user", s.user,
	)
	// Metrics collection
	if s.server.metricsCollector != nil {
		s.server.metricsCollector.RecordAuthentication(true, s.user)
	}
	s.server.eventBus.publish(PresenceEvent{Kind: PresenceAuthenticated, SessionID: s.sessionID, RemoteAddr: s.remoteIP, User: s.user})

	s.reply(230, "User logged in, proceed.")
	return nil
}

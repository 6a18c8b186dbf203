package server

import "context"

// handleUSER records the user name. Any name is accepted.
func (s *session) handleUSER(_ context.Context, user string) error {
	s.user = user
	return s.reply(331, "User name okay, need password.")
}

// handlePASS completes the login. Every password is accepted, with or
// without a preceding USER, and a session never logs out again.
func (s *session) handlePASS(_ context.Context, _ string) error {
	s.isLoggedIn = true
	// Security audit: successful authentication
	s.logger.Info("authentication_success", "user", s.user)
	if s.server.metricsCollector != nil {
		s.server.metricsCollector.RecordLogin(s.user)
	}
	return s.reply(230, "User logged in, proceed.")
}

func (s *session) handleACCT(_ context.Context, _ string) error {
	return s.reply(500, "ACCT not supported.")
}

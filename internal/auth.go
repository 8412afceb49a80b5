package internal

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"

	"sharehub/internal/storage"
)

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,20}$`)

const minPasswordLen = 6

func (s *Server) handleRegister(c *Conn, env Envelope) error {
	if !s.authLimiter.Allow(hostOf(c.RemoteAddr())) {
		return s.sendError(c, KindRegisterError, CodeRateLimited, "too many attempts, slow down")
	}
	var req registerRequest
	if err := decodePayload(env.Payload, &req); err != nil {
		return s.sendError(c, KindRegisterError, CodeInvalidData, "username, password and email are required")
	}
	username := strings.TrimSpace(req.Username)
	if !usernameRegex.MatchString(username) {
		return s.sendError(c, KindRegisterError, CodeInvalidData, "username must be 3-20 characters of letters, digits, _ or -")
	}
	if len(req.Password) < minPasswordLen {
		return s.sendError(c, KindRegisterError, CodeInvalidData, fmt.Sprintf("password must be at least %d characters", minPasswordLen))
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		return s.sendError(c, KindRegisterError, CodeStorageError, "could not create account")
	}
	userID, err := s.store.CreateUser(context.Background(), username, hash, strings.TrimSpace(req.Email))
	if err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			return s.sendError(c, KindRegisterError, CodeUsernameExists, "username already taken")
		}
		log.Printf("register %s: %v", username, err)
		return s.sendError(c, KindRegisterError, CodeStorageError, "could not create account")
	}

	s.metrics.IncRegistration()
	log.Printf("registered user %s (%d)", username, userID)
	return s.send(c, KindRegisterSuccess, map[string]any{
		"user_id":  userID,
		"username": username,
	})
}

func (s *Server) handleLogin(c *Conn, env Envelope) error {
	if !s.authLimiter.Allow(hostOf(c.RemoteAddr())) {
		return s.sendError(c, KindLoginError, CodeRateLimited, "too many attempts, slow down")
	}
	var req loginRequest
	if err := decodePayload(env.Payload, &req); err != nil {
		return s.sendError(c, KindLoginError, CodeInvalidData, "username and password are required")
	}
	user, err := s.store.GetUserByUsername(context.Background(), strings.TrimSpace(req.Username))
	if err != nil {
		log.Printf("login %s: %v", req.Username, err)
		return s.sendError(c, KindLoginError, CodeStorageError, "could not look up user")
	}
	if user == nil {
		return s.sendError(c, KindLoginError, CodeUserNotFound, "user not found")
	}
	ok, err := verifyPassword(user.PasswordHash, req.Password)
	if err != nil || !ok {
		return s.sendError(c, KindLoginError, CodeInvalidCredentials, "incorrect password")
	}
	s.authLimiter.Reset(hostOf(c.RemoteAddr()))

	// Re-login on an already authenticated connection replaces its session.
	s.dropConnSession(c)

	sess := s.sessions.Create(user.Username)
	s.registry.Update(c, func(state *ConnState) {
		state.Username = user.Username
		state.SessionToken = sess.Token
	})
	s.presence.Increment(user.Username)
	s.metrics.IncLogin()
	log.Printf("login %s from %s", user.Username, c.RemoteAddr())
	return s.send(c, KindLoginSuccess, map[string]any{
		"user_id":       user.ID,
		"username":      user.Username,
		"session_token": sess.Token,
	})
}

// requireSession validates the token on an authenticated request. On
// failure it reports InvalidSession to the client and returns ok=false;
// every request other than register/login fails closed through here.
func (s *Server) requireSession(c *Conn, token string) (Session, bool) {
	sess, ok := s.sessions.Lookup(token)
	if !ok {
		_ = s.sendError(c, KindError, CodeInvalidSession, "invalid session")
		return Session{}, false
	}
	return sess, true
}

// dropConnSession clears any session bound to the connection, leaving its
// room first so members see a USER_LEFT. Idempotent.
func (s *Server) dropConnSession(c *Conn) {
	state, ok := s.registry.Get(c)
	if !ok || state.SessionToken == "" {
		return
	}
	s.leaveRoom(c)
	s.sessions.Delete(state.SessionToken)
	s.presence.Decrement(state.Username)
	s.registry.Update(c, func(st *ConnState) {
		st.Username = ""
		st.SessionToken = ""
	})
}

func hostOf(addr string) string {
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		return addr[:i]
	}
	return addr
}

package state

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"warden/internal/infrastructure/config"
	"warden/internal/shared/logger"
)

// Server owns the shared reconciliation table. It must run in the main
// process; worker processes reach it through a Client.
type Server struct {
	socketPath string
	key        string
	log        logger.Interface

	listener net.Listener
	wg       sync.WaitGroup

	mu       sync.Mutex
	started  bool
	closed   bool
	users    map[string]*UserState
	reasons  map[string]Reason
	locks    map[string]chan struct{}
	sessions map[*session]struct{}
}

type session struct {
	conn net.Conn
	enc  *json.Encoder
	dec  *json.Decoder
	held map[string]struct{}
}

// NewServer builds the synchronizer server. Clients authenticate with the
// API key.
func NewServer(cfg *config.Config, log logger.Interface) *Server {
	return &Server{
		socketPath: cfg.StateSocketPath(),
		key:        cfg.API.Key,
		log:        log.Named("state"),
		users:      make(map[string]*UserState),
		reasons:    make(map[string]Reason),
		locks:      make(map[string]chan struct{}),
		sessions:   make(map[*session]struct{}),
	}
}

// Run binds the unix socket and serves until Close.
func (s *Server) Run() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("process state synchronizer server is already running")
	}

	if info, err := os.Lstat(s.socketPath); err == nil && info.Mode().Type() == os.ModeSocket {
		if err := os.Remove(s.socketPath); err != nil {
			return fmt.Errorf("failed to remove the stale socket file: %w", err)
		}
		s.log.Infow("removed the socket file from the previous session")
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to bind the state synchronizer socket: %w", err)
	}
	s.listener = listener
	s.started = true

	s.wg.Add(1)
	go s.accept()
	s.log.Debugw("process state synchronizer server is started")
	return nil
}

func (s *Server) accept() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		sess := &session{
			conn: conn,
			enc:  json.NewEncoder(conn),
			dec:  json.NewDecoder(conn),
			held: make(map[string]struct{}),
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.sessions[sess] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(sess)
	}
}

func (s *Server) serve(sess *session) {
	defer s.wg.Done()
	defer s.drop(sess)

	if !s.authenticate(sess) {
		return
	}
	for {
		var req request
		if err := sess.dec.Decode(&req); err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				s.log.Debugw("state session ended", "error", err)
			}
			return
		}
		if err := sess.enc.Encode(s.handle(sess, &req)); err != nil {
			return
		}
	}
}

func (s *Server) authenticate(sess *session) bool {
	var req request
	if err := sess.dec.Decode(&req); err != nil {
		return false
	}
	if req.Op != opAuth ||
		subtle.ConstantTimeCompare([]byte(req.Key), []byte(s.key)) != 1 {
		_ = sess.enc.Encode(&response{Error: "authentication failed"})
		s.log.Warnw("rejected an unauthenticated state session")
		return false
	}
	return sess.enc.Encode(&response{OK: true}) == nil
}

// drop releases every lock the session still holds and forgets it.
func (s *Server) drop(sess *session) {
	sess.conn.Close()
	s.mu.Lock()
	delete(s.sessions, sess)
	locks := make([]chan struct{}, 0, len(sess.held))
	for name := range sess.held {
		if lock, ok := s.locks[name]; ok {
			locks = append(locks, lock)
		}
	}
	sess.held = make(map[string]struct{})
	s.mu.Unlock()
	for _, lock := range locks {
		<-lock
	}
}

func (s *Server) handle(sess *session, req *request) *response {
	switch req.Op {
	case opGet:
		s.mu.Lock()
		defer s.mu.Unlock()
		if state, ok := s.users[req.Username]; ok {
			copied := *state
			return &response{OK: true, Found: true, User: &copied}
		}
		return &response{OK: true}

	case opUsers:
		s.mu.Lock()
		defer s.mu.Unlock()
		users := make(map[string]UserState, len(s.users))
		for username, state := range s.users {
			users[username] = *state
		}
		return &response{OK: true, Users: users}

	case opEnsure:
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.users[req.Username]; !ok {
			services := make(map[string]ServiceState, len(req.Services))
			for _, name := range req.Services {
				services[name] = req.State
			}
			s.users[req.Username] = &UserState{
				Synced:        req.Synced != nil && *req.Synced,
				HasActivePlan: req.Active != nil && *req.Active,
				Services:      services,
			}
		}
		return &response{OK: true}

	case opUpdate:
		s.mu.Lock()
		defer s.mu.Unlock()
		state, ok := s.users[req.Username]
		if !ok {
			return &response{Error: "unknown user " + req.Username}
		}
		if req.Synced != nil {
			state.Synced = *req.Synced
		}
		if req.Active != nil {
			state.HasActivePlan = *req.Active
		}
		return &response{OK: true}

	case opSetService:
		s.mu.Lock()
		defer s.mu.Unlock()
		state, ok := s.users[req.Username]
		if !ok {
			return &response{Error: "unknown user " + req.Username}
		}
		state.Services[req.Service] = req.State
		return &response{OK: true}

	case opDelete:
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.users, req.Username)
		delete(s.reasons, req.Username)
		return &response{OK: true}

	case opLock:
		return s.acquire(sess, req.Username)

	case opUnlock:
		return s.release(sess, req.Username)

	case opGetReason:
		s.mu.Lock()
		defer s.mu.Unlock()
		if reason, ok := s.reasons[req.Username]; ok {
			return &response{OK: true, Found: true, Reason: reason}
		}
		return &response{OK: true}

	case opSetReason:
		s.mu.Lock()
		defer s.mu.Unlock()
		s.reasons[req.Username] = req.Reason
		return &response{OK: true}
	}
	return &response{Error: "unknown operation " + req.Op}
}

func (s *Server) lockFor(name string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[name]
	if !ok {
		lock = make(chan struct{}, 1)
		s.locks[name] = lock
	}
	return lock
}

// acquire blocks the session until the lock is granted. Only this session
// stalls; other connections keep being served.
func (s *Server) acquire(sess *session, name string) *response {
	if name == "" {
		name = globalLockName
	}
	if _, ok := sess.held[name]; ok {
		return &response{Error: "lock already held"}
	}
	s.lockFor(name) <- struct{}{}
	s.mu.Lock()
	sess.held[name] = struct{}{}
	s.mu.Unlock()
	return &response{OK: true}
}

func (s *Server) release(sess *session, name string) *response {
	if name == "" {
		name = globalLockName
	}
	if _, ok := sess.held[name]; !ok {
		return &response{Error: "lock is not held"}
	}
	s.mu.Lock()
	delete(sess.held, name)
	lock := s.locks[name]
	s.mu.Unlock()
	<-lock
	return &response{OK: true}
}

// Close clears the table, drops every session and stops serving.
func (s *Server) Close() {
	s.mu.Lock()
	if !s.started || s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	listener := s.listener
	sessions := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.users = make(map[string]*UserState)
	s.reasons = make(map[string]Reason)
	s.mu.Unlock()

	listener.Close()
	for _, sess := range sessions {
		sess.conn.Close()
	}
	s.wg.Wait()
	_ = os.Remove(s.socketPath)
	s.log.Debugw("process state synchronizer server is stopped")
}

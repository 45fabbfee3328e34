// Package game implements the server core: the admission pipeline that
// authenticates new connections, the matchmaker that pairs waiting
// players by rating, the relay loop that forwards traffic between linked
// partners, and the privileged admin channel.
package game

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"chessrelay/internal/catalog"
	"chessrelay/internal/security"
	"chessrelay/internal/store"
	"chessrelay/internal/user"
)

// Timing and capacity constants for the whole server core.
const (
	MaxBindAttempts  = 5
	AcceptTimeout    = 5 * time.Second
	AcceptBacklog    = 10
	MaxPerIP         = 25
	LinkInterval     = 10 * time.Second
	DBUpdateInterval = time.Hour
	HandshakeTimeout = 900 * time.Millisecond
	CycleFloor       = 50 * time.Millisecond

	ProgramVersion = "V1.04"
)

// Control moves sent to a freshly linked pair.
const (
	NewGameMsg   = "%MOVE -1000"
	PlayBlackMsg = "%MOVE -1001"
	PlayWhiteMsg = "%MOVE -1002"
)

// Config bundles everything Server needs to start, sourced from
// internal/config.Config by cmd/server.
type Config struct {
	Host                string
	Port                int
	Authentication      string
	AdminAuthentication string
	AdminTOTPSecret     string
	DataDir             string
	DatabaseFilename    string
}

// Server is the single process-wide coordinator: one admission listener
// and one relay loop sharing the state below. The admin is served only
// over its network connection; there is no console admin worker.
type Server struct {
	cfg Config

	listener net.Listener
	boundOn  string

	store *store.Gateway

	nextID atomic.Int64

	// mu is the single mutex mediating state shared between the
	// admission listener and the relay loop: allUsers, onlineUsers
	// membership, ipAddresses, and admin. Everything below the mutex
	// block is owned by the relay goroutine alone.
	mu          sync.Mutex
	allUsers    map[int64]*user.User
	onlineUsers map[int64]*user.User
	ipAddresses map[string]int
	admin       *user.User

	// userWaitLoop is the staging set a newly admitted connection lands
	// in; the relay loop merges it into onlineUsers once per cycle,
	// using TryLock so a contended mutex never stalls a cycle. The
	// admission side always acquires blocking.
	userWaitLoop map[int64]*user.User

	// Relay-exclusive state: touched only from the relay goroutine, no
	// lock needed.
	usersToLink       map[int64]*user.User
	linkedUsers       map[int64]int64 // symmetric: both directions present
	unlinkedUsers     map[int64]*user.User
	disconnectedUsers map[int64]*user.User
	lastGame          string
	reverseSort       bool
	lastLink          time.Time

	// workerNames is the admin 'list' command's view of active workers:
	// the two long-lived workers plus one label per in-flight handshake
	// goroutine. Guarded by mu since admission goroutines append and
	// remove concurrently with an admin 'list' read on the relay
	// goroutine.
	workerNames []string

	stopping atomic.Bool
}

// NewServer wires up the in-memory state. The database is opened and
// account ids are seeded separately via LoadAccounts.
func NewServer(cfg Config, gw *store.Gateway) *Server {
	s := &Server{
		cfg:               cfg,
		store:             gw,
		allUsers:          make(map[int64]*user.User),
		onlineUsers:       make(map[int64]*user.User),
		ipAddresses:       make(map[string]int),
		userWaitLoop:      make(map[int64]*user.User),
		usersToLink:       make(map[int64]*user.User),
		linkedUsers:       make(map[int64]int64),
		unlinkedUsers:     make(map[int64]*user.User),
		disconnectedUsers: make(map[int64]*user.User),
		workerNames:       []string{"admission listener", "relay loop"},
		reverseSort:       true,
	}
	s.nextID.Store(1)
	return s
}

// RequestStop flags every cooperating worker to exit at its next cycle.
// Both cmd/server's signal handler and the admin 'stop' command call
// this.
func (s *Server) RequestStop() { s.stopping.Store(true) }

// Stopping reports whether RequestStop has been called.
func (s *Server) Stopping() bool { return s.stopping.Load() }

func (s *Server) addWorkerName(name string) {
	s.mu.Lock()
	s.workerNames = append(s.workerNames, name)
	s.mu.Unlock()
}

func (s *Server) removeWorkerName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, n := range s.workerNames {
		if n == name {
			s.workerNames = append(s.workerNames[:i], s.workerNames[i+1:]...)
			return
		}
	}
}

// decIP decrements ip's online count, dropping the key at zero. Callers
// must hold mu.
func (s *Server) decIP(ip string) {
	if s.ipAddresses[ip] <= 1 {
		delete(s.ipAddresses, ip)
		return
	}
	s.ipAddresses[ip]--
}

// LoadAccounts loads every persisted account and seeds the id counter
// above the highest one seen.
func (s *Server) LoadAccounts() error {
	rows, maxID, err := s.store.LoadAll()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		s.allUsers[r.ID] = user.FromRow(toUserRow(r))
	}
	s.nextID.Store(maxID + 1)
	return nil
}

func toUserRow(r store.Row) user.Row {
	return user.Row{
		ID: r.ID, IP: r.IP, Name: r.Name, PasswordHash: r.Password,
		PlayedGames: r.Games, ScoringZero: r.Zero, ScoringHalf: r.Half, ScoringOne: r.One,
		Rating: r.Rating, EloWeight: r.Weight, LastLogin: r.LastLogin,
	}
}

func fromUserRow(r user.Row) store.Row {
	return store.Row{
		ID: r.ID, IP: r.IP, Name: r.Name, Password: r.PasswordHash,
		Games: r.PlayedGames, Zero: r.ScoringZero, Half: r.ScoringHalf, One: r.ScoringOne,
		Rating: r.Rating, Weight: r.EloWeight, LastLogin: r.LastLogin,
	}
}

// Bind attempts to listen on cfg.Port, then cfg.Port+1, ... up to
// MaxBindAttempts times before giving up.
func (s *Server) Bind() error {
	port := s.cfg.Port
	var lastErr error
	for attempt := 0; attempt < MaxBindAttempts; attempt++ {
		addr := fmt.Sprintf("%s:%d", s.cfg.Host, port)
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			s.listener = ln
			s.boundOn = ln.Addr().String()
			return nil
		}
		lastErr = err
		port++
	}
	return fmt.Errorf("game: binding failed after %d attempts: %w", MaxBindAttempts, lastErr)
}

// BoundAddress returns the address actually bound, after any retry.
func (s *Server) BoundAddress() string { return s.boundOn }

// UpdateDatabase persists every known account. Called by the admin
// 'update' command, the periodic save ticker, and the final save on
// relay exit.
func (s *Server) UpdateDatabase() error {
	s.mu.Lock()
	rows := make([]store.Row, 0, len(s.allUsers))
	for _, u := range s.allUsers {
		rows = append(rows, fromUserRow(u.Row()))
	}
	s.mu.Unlock()
	return s.store.ReplaceAll(rows)
}

func (s *Server) nextUserID() int64 {
	return s.nextID.Add(1) - 1
}

func (s *Server) validateAdminTOTP(code string) bool {
	if s.cfg.AdminTOTPSecret == "" {
		return true
	}
	return security.Validate(s.cfg.AdminTOTPSecret, code)
}

func localize(item any) string { return catalog.String(item) }

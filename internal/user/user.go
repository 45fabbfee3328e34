// Package user implements the registered-account record: identity,
// credentials, stats, rating, Elo weight, connection handle, and the
// per-connection pending-message queue.
package user

import (
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"chessrelay/internal/protocol"
)

// ResetSentinel marks a password as reset: the next presented password
// during a handshake replaces it.
const ResetSentinel = "%RESET_PASSWORD"

const (
	InitialRating      = 1000
	InitialEloWeight   = 40
	EloWeightFloor     = 12
	EloWeightDecrement = 2
)

const timeLayout = "2006.01.02.15:04:05"

// pollDeadline bounds a single steady-state poll read. A deadline that has
// already expired makes net.Conn reads fail before draining buffered data,
// so poll-mode reads arm a fresh short deadline each call instead.
const pollDeadline = time.Millisecond

// User is a registered account plus, while online, its live connection.
//
// Equality is by ID alone: callers must key any map or set by ID()
// rather than relying on struct equality, so a name change can never
// affect membership.
type User struct {
	id int64

	// identityMu guards the handshake-era fields below, which a
	// reconnecting client mutates concurrently with whatever other
	// connection attempt might be probing the same account by name.
	identityMu   sync.Mutex
	name         string
	passwordHash string
	ip           string
	lastLogin    string
	conn         net.Conn
	framer       *protocol.Framer
	polling      bool

	// The remaining fields are touched exclusively by the relay goroutine
	// once a user is online, so they need no lock of their own.
	playedGames  int
	scoringZero  int
	scoringHalf  int
	scoringOne   int
	rating       int
	eloWeight    int
	pending      []string
}

// New creates a brand-new User bound to conn.
func New(id int64, conn net.Conn, ip string) *User {
	return &User{
		id:        id,
		conn:      conn,
		framer:    protocol.NewFramer(conn),
		ip:        ip,
		lastLogin: time.Now().Format(timeLayout),
		rating:    InitialRating,
		eloWeight: InitialEloWeight,
	}
}

// Row mirrors the persistence gateway's on-disk representation so
// store.Row <-> User conversions stay in one place.
type Row struct {
	ID           int64
	IP           string
	Name         string
	PasswordHash string
	PlayedGames  int
	ScoringZero  int
	ScoringHalf  int
	ScoringOne   int
	Rating       int
	EloWeight    int
	LastLogin    string
}

// FromRow rebuilds a User loaded from storage. It has no live connection
// until the holder reconnects.
func FromRow(r Row) *User {
	return &User{
		id:           r.ID,
		name:         r.Name,
		passwordHash: r.PasswordHash,
		ip:           r.IP,
		lastLogin:    r.LastLogin,
		playedGames:  r.PlayedGames,
		scoringZero:  r.ScoringZero,
		scoringHalf:  r.ScoringHalf,
		scoringOne:   r.ScoringOne,
		rating:       r.Rating,
		eloWeight:    r.EloWeight,
	}
}

// Row captures the current state for persistence.
func (u *User) Row() Row {
	u.identityMu.Lock()
	defer u.identityMu.Unlock()
	return Row{
		ID:           u.id,
		IP:           u.ip,
		Name:         u.name,
		PasswordHash: u.passwordHash,
		PlayedGames:  u.playedGames,
		ScoringZero:  u.scoringZero,
		ScoringHalf:  u.scoringHalf,
		ScoringOne:   u.scoringOne,
		Rating:       u.rating,
		EloWeight:    u.eloWeight,
		LastLogin:    u.lastLogin,
	}
}

func (u *User) ID() int64 { return u.id }

func (u *User) Name() string {
	u.identityMu.Lock()
	defer u.identityMu.Unlock()
	return u.name
}

// SetName sets the account name once; renaming is a no-op.
func (u *User) SetName(name string) {
	u.identityMu.Lock()
	defer u.identityMu.Unlock()
	if u.name == "" {
		u.name = name
	}
}

// IsPasswordReset reports whether the stored password is the RESET
// sentinel, i.e. the next presented password should be accepted and
// stored.
func (u *User) IsPasswordReset() bool {
	u.identityMu.Lock()
	defer u.identityMu.Unlock()
	return u.passwordHash == ResetSentinel
}

// SetPassword hashes and stores pw, but only on first registration or
// to fulfil a pending reset. Once a real hash is on file the password
// cannot be changed.
func (u *User) SetPassword(pw string) error {
	u.identityMu.Lock()
	current := u.passwordHash
	u.identityMu.Unlock()
	if current != "" && current != ResetSentinel {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.identityMu.Lock()
	defer u.identityMu.Unlock()
	u.passwordHash = string(hash)
	return nil
}

// ResetPassword marks the account for a password reset on next handshake.
func (u *User) ResetPassword() {
	u.identityMu.Lock()
	defer u.identityMu.Unlock()
	u.passwordHash = ResetSentinel
}

// CheckPassword reports whether pw matches the stored credential. Never
// true against the RESET sentinel.
func (u *User) CheckPassword(pw string) bool {
	u.identityMu.Lock()
	hash := u.passwordHash
	u.identityMu.Unlock()
	if hash == "" || hash == ResetSentinel {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// IP returns the most recently associated peer address.
func (u *User) IP() string {
	u.identityMu.Lock()
	defer u.identityMu.Unlock()
	return u.ip
}

// RenewConnection grafts a fresh socket onto a returning account.
func (u *User) RenewConnection(conn net.Conn, ip string) {
	u.identityMu.Lock()
	defer u.identityMu.Unlock()
	u.conn = conn
	u.framer = protocol.NewFramer(conn)
	u.polling = false
	u.ip = ip
	u.lastLogin = time.Now().Format(timeLayout)
}

// SetReadDeadline arms the connection's read deadline; callers use a short
// deadline during the handshake and a non-positive duration to switch the
// connection into steady-state poll mode, where each NextMessage arms its
// own pollDeadline-bounded read.
func (u *User) SetReadDeadline(d time.Duration) error {
	u.identityMu.Lock()
	conn := u.conn
	u.polling = d <= 0
	u.identityMu.Unlock()
	if conn == nil {
		return net.ErrClosed
	}
	if d <= 0 {
		return nil
	}
	return conn.SetReadDeadline(time.Now().Add(d))
}

// NextMessage reads the next framed record from the connection.
func (u *User) NextMessage() (string, error) {
	u.identityMu.Lock()
	conn, framer, polling := u.conn, u.framer, u.polling
	u.identityMu.Unlock()
	if framer == nil {
		return "", net.ErrClosed
	}
	if polling {
		conn.SetReadDeadline(time.Now().Add(pollDeadline))
	}
	return framer.NextMessage()
}

// Notify writes msg terminated by ETX to the connection.
func (u *User) Notify(msg string) error {
	u.identityMu.Lock()
	conn := u.conn
	u.identityMu.Unlock()
	if conn == nil {
		return net.ErrClosed
	}
	_, err := conn.Write(append([]byte(msg), protocol.ETX))
	return err
}

// Close closes the underlying connection.
func (u *User) Close() error {
	u.identityMu.Lock()
	conn := u.conn
	u.identityMu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Error sends an %INFO record and a short echo probe, then closes the
// socket, without blocking the caller.
func (u *User) Error(message string) {
	go func() {
		u.SetReadDeadline(time.Second)
		u.Notify("%INFO " + message)
		u.Notify("%ECHO?")
		u.NextMessage()
		u.Close()
	}()
}

// EnqueuePending appends a received record to the pending-message queue.
// Relay-exclusive.
func (u *User) EnqueuePending(msg string) {
	u.pending = append(u.pending, msg)
}

// PopPending removes and returns the oldest pending message, FIFO.
// Relay-exclusive.
func (u *User) PopPending() (string, bool) {
	if len(u.pending) == 0 {
		return "", false
	}
	msg := u.pending[0]
	u.pending = u.pending[1:]
	return msg, true
}

// Rating, EloWeight, and the scoring counters are relay-exclusive state
// once a user is online; no locking needed.

func (u *User) Rating() int      { return u.rating }
func (u *User) SetRating(r int)  { u.rating = r }
func (u *User) EloWeight() int   { return u.eloWeight }
func (u *User) PlayedGames() int { return u.playedGames }

// DecEloWeight stops at EloWeightFloor; the weight never drops below
// it.
func (u *User) DecEloWeight() {
	if u.eloWeight > EloWeightFloor {
		u.eloWeight -= EloWeightDecrement
		if u.eloWeight < EloWeightFloor {
			u.eloWeight = EloWeightFloor
		}
	}
}

func (u *User) IncrementPlayed() { u.playedGames++ }
func (u *User) AddScoringZero()  { u.scoringZero++ }
func (u *User) AddScoringHalf()  { u.scoringHalf++ }
func (u *User) AddScoringOne()   { u.scoringOne++ }

// String renders the one-line summary used by admin listings.
func (u *User) String() string {
	u.identityMu.Lock()
	name := u.name
	u.identityMu.Unlock()
	return fmt.Sprintf("ID_%d %s L:%d/D:%d/W:%d/#T:%d ELO:%d(%d)",
		u.id, name, u.scoringZero, u.scoringHalf, u.scoringOne, u.playedGames, u.rating, u.eloWeight)
}

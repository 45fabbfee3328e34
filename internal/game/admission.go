package game

import (
	"errors"
	"log"
	"net"
	"time"

	"github.com/google/uuid"

	"chessrelay/internal/catalog"
	"chessrelay/internal/user"
)

// Serve runs the accept loop until RequestStop is called, admitting
// connections through the handshake state machine and staging them into
// userWaitLoop. The periodic database save runs on its own ticker in
// cmd/server rather than interleaved with the accept loop.
func (s *Server) Serve() error {
	for {
		if s.Stopping() {
			log.Printf("[admission] %s request manager interrupted", s.boundOn)
			return nil
		}

		if tl, ok := s.listener.(*net.TCPListener); ok {
			tl.SetDeadline(time.Now().Add(AcceptTimeout))
		}

		conn, err := s.listener.Accept()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if s.Stopping() {
				return nil
			}
			log.Printf("[admission] accept error: %v", err)
			continue
		}

		go s.admit(conn)
	}
}

// admit runs the handshake state machine for one freshly accepted
// connection: CONNECTED -> AUTHED -> NAMED -> CREDENTIALED -> ADMITTED,
// with the ADMIN shortcut branching off immediately after authentication.
func (s *Server) admit(conn net.Conn) {
	ip := conn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}

	// Correlation id for this handshake attempt, so interleaved log lines
	// from concurrent admissions stay attributable.
	connID := uuid.NewString()[:8]
	label := "handshake " + connID + " " + ip
	s.addWorkerName(label)
	defer s.removeWorkerName(label)

	u := user.New(s.nextUserID(), conn, ip)
	u.SetReadDeadline(HandshakeTimeout)

	authentication, err := u.NextMessage()
	if err != nil {
		s.failHandshake(connID, u, err)
		return
	}

	if s.cfg.AdminAuthentication != "" && authentication == s.cfg.AdminAuthentication {
		s.admitAdmin(u)
		return
	}

	if authentication != s.cfg.Authentication {
		u.Error(localize(catalog.AuthError))
		return
	}

	u.SetReadDeadline(HandshakeTimeout)
	nameMsg, err := u.NextMessage()
	if err != nil {
		s.failHandshake(connID, u, err)
		return
	}
	const namePrefix = "%NAME "
	if len(nameMsg) <= len(namePrefix) || nameMsg[:len(namePrefix)] != namePrefix {
		u.Error(localize(catalog.ProtocolError))
		return
	}
	name := nameMsg[len(namePrefix):]

	known := s.findAccountByName(name)

	var admitted *user.User
	if known != nil {
		if s.isOnline(known.ID()) {
			u.Error(catalog.AlreadyAssigned.Format(name))
			return
		}

		u.SetReadDeadline(HandshakeTimeout)
		password, err := u.NextMessage()
		if err != nil {
			s.failHandshake(connID, u, err)
			return
		}
		if known.IsPasswordReset() {
			known.SetPassword(password)
		} else if !known.CheckPassword(password) {
			u.Error(localize(catalog.IncorrectPW))
			return
		}

		known.RenewConnection(conn, ip)
		admitted = known
	} else {
		u.SetReadDeadline(HandshakeTimeout)
		password, err := u.NextMessage()
		if err != nil {
			s.failHandshake(connID, u, err)
			return
		}
		u.SetPassword(password)
		u.SetName(name)
		admitted = u
	}

	admitted.Notify("WELCOME " + name)

	s.mu.Lock()
	count := s.ipAddresses[admitted.IP()]
	if count >= MaxPerIP {
		s.mu.Unlock()
		admitted.Error(localize(catalog.TooManyIP))
		return
	}
	s.ipAddresses[admitted.IP()]++
	s.allUsers[admitted.ID()] = admitted
	s.userWaitLoop[admitted.ID()] = admitted
	s.mu.Unlock()

	admitted.SetReadDeadline(0)
	log.Printf("[admission] %s: %s has connected", connID, name)
}

// admitAdmin promotes the connection straight to the privileged channel,
// bypassing the steady-state handshake entirely, optionally gated by a
// TOTP code when the server was configured with an admin secret.
func (s *Server) admitAdmin(u *user.User) {
	if s.cfg.AdminTOTPSecret != "" {
		u.SetReadDeadline(HandshakeTimeout)
		code, err := u.NextMessage()
		if err != nil || !s.validateAdminTOTP(code) {
			u.Error(localize(catalog.AuthError))
			return
		}
	}

	s.mu.Lock()
	if s.admin != nil {
		s.admin.Notify("ERROR: ADMIN SIGNED IN TWICE")
		s.admin.Close()
	}
	u.SetName("admin")
	s.admin = u
	s.mu.Unlock()

	u.SetReadDeadline(0)
	u.Notify(s.adminWelcomeBanner())
	log.Printf("[admission] admin connected")
}

func (s *Server) adminWelcomeBanner() string {
	return "database:\n" + s.cfg.DatabaseFilename + "\nprogram version:" + ProgramVersion
}

func (s *Server) failHandshake(connID string, u *user.User, err error) {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		u.Error(localize(catalog.TimeoutError))
		log.Printf("[admission] %s: timeout error (admittance)", connID)
		return
	}
	u.Close()
	log.Printf("[admission] %s: connection error (admittance): %v", connID, err)
}

func (s *Server) findAccountByName(name string) *user.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.allUsers {
		if u.Name() == name {
			return u
		}
	}
	return nil
}

func (s *Server) isOnline(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.onlineUsers[id]
	return ok
}

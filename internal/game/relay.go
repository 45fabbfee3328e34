// The relay loop: a single cooperative worker that polls every online
// user for inbound bytes, dispatches one buffered message per user per
// cycle, runs the matchmaker on its own timer, and services the admin
// channel, all bounded below by a 50ms sleep.
package game

import (
	"errors"
	"log"
	"net"
	"strings"
	"time"

	"chessrelay/internal/catalog"
	"chessrelay/internal/protocol"
	"chessrelay/internal/user"
)

// Run executes the relay loop until RequestStop is called. On exit it
// performs one final persistence pass.
func (s *Server) Run() {
	for {
		if s.Stopping() {
			log.Printf("[relay] %s main loop interrupted", s.boundOn)
			if err := s.UpdateDatabase(); err != nil {
				log.Printf("[relay] final update: %v", err)
			}
			return
		}

		cycleStart := time.Now()

		s.receiveAll()
		s.sweepDisconnected()
		s.dispatchMessages()
		s.sweepDisconnected()
		s.mergeWaitLoop()

		if time.Since(s.lastLink) > LinkInterval {
			s.maybeLink()
		}

		s.serviceAdmin()

		if elapsed := time.Since(cycleStart); elapsed < CycleFloor {
			time.Sleep(CycleFloor - elapsed)
		} else {
			log.Printf("[relay] time limit exceeded")
		}
	}
}

// receiveAll attempts one poll read per online user, buffering whatever
// record completed and marking transport failures for the next disconnect
// sweep. A timed-out read (nothing currently available) is ignored.
func (s *Server) receiveAll() {
	for id, u := range s.onlineUsers {
		msg, err := u.NextMessage()
		if err != nil {
			if isTimeoutErr(err) {
				continue
			}
			log.Printf("[relay] connection error (receiving data from %s)", u.Name())
			s.disconnectedUsers[id] = u
			continue
		}
		if msg == "" || msg == protocol.Incomplete {
			continue
		}
		u.EnqueuePending(msg)
	}
}

// sweepDisconnected closes and forgets every user queued in
// disconnectedUsers.
func (s *Server) sweepDisconnected() {
	if len(s.disconnectedUsers) == 0 {
		return
	}
	for id, u := range s.disconnectedUsers {
		u.Close()
		s.mu.Lock()
		delete(s.onlineUsers, id)
		s.decIP(u.IP())
		s.mu.Unlock()
		delete(s.usersToLink, id)
		if partnerID, ok := s.linkedUsers[id]; ok {
			delete(s.linkedUsers, partnerID)
			delete(s.linkedUsers, id)
		}
		log.Printf("[relay] %s left", u.Name())
	}
	s.disconnectedUsers = make(map[int64]*user.User)
}

// dispatchMessages pops one pending message per online user and either
// hands it to the %SERVER command dispatcher or relays it verbatim to the
// user's linked partner.
func (s *Server) dispatchMessages() {
	for id, u := range s.onlineUsers {
		msg, ok := u.PopPending()
		if !ok {
			continue
		}
		log.Printf("[relay] %s:%s", u.Name(), msg)

		if strings.HasPrefix(msg, "%SERVER") {
			s.dispatchServerCommand(u, msg)
			continue
		}

		partnerID, linked := s.linkedUsers[id]
		if !linked {
			if err := u.Notify("%NOTE " + localize(catalog.NotLinked)); err != nil {
				s.disconnectedUsers[id] = u
			}
			continue
		}
		partner := s.onlineUsers[partnerID]
		if partner == nil {
			continue
		}
		if err := partner.Notify(msg); err != nil {
			log.Printf("[relay] connection error (notify %s)", partner.Name())
			s.disconnectedUsers[partnerID] = partner
		}
	}
}

// mergeWaitLoop merges admission's staging set into onlineUsers, using a
// non-blocking try-lock so a contended mutex simply defers the merge to
// the next cycle.
func (s *Server) mergeWaitLoop() {
	if !s.mu.TryLock() {
		log.Printf("[relay] thread is locked - did not add users")
		return
	}
	defer s.mu.Unlock()
	for id, u := range s.userWaitLoop {
		s.onlineUsers[id] = u
		delete(s.userWaitLoop, id)
	}
}

// serviceAdmin attempts one poll read from the admin connection, if
// any, and executes whatever record arrived as a command.
func (s *Server) serviceAdmin() {
	s.mu.Lock()
	admin := s.admin
	s.mu.Unlock()
	if admin == nil {
		return
	}

	msg, err := admin.NextMessage()
	if err != nil {
		if isTimeoutErr(err) {
			return
		}
		log.Printf("[relay] connection error (receiving data from admin)")
		admin.Close()
		s.mu.Lock()
		s.admin = nil
		s.mu.Unlock()
		return
	}
	if msg == "" || msg == protocol.Incomplete {
		return
	}

	result := s.Execute(msg)
	if err := admin.Notify(result); err != nil {
		log.Printf("[relay] connection error (notify admin)")
		admin.Close()
		s.mu.Lock()
		s.admin = nil
		s.mu.Unlock()
	}
}

// isTimeoutErr reports whether err is a deadline-exceeded error, i.e. a
// poll read that found nothing to read.
func isTimeoutErr(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

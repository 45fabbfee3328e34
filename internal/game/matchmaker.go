package game

import (
	"math/rand"
	"sort"
	"time"

	"chessrelay/internal/catalog"
	"chessrelay/internal/user"
)

// maybeLink runs one matchmaking tick when the relay loop finds
// LinkInterval elapsed since the last one: toggle the sort direction,
// snapshot the unlinked waiters, sort by rating, and pair consecutive
// positions. An odd waiter out carries over to the next tick. The
// alternating direction keeps the tie-break from always favoring the
// same end of the table.
func (s *Server) maybeLink() {
	s.reverseSort = !s.reverseSort

	candidates := make([]*user.User, 0, len(s.usersToLink))
	for id, u := range s.usersToLink {
		if _, linked := s.linkedUsers[id]; linked {
			continue
		}
		candidates = append(candidates, u)
	}

	reverse := s.reverseSort
	sort.Slice(candidates, func(i, j int) bool {
		if reverse {
			return candidates[i].Rating() > candidates[j].Rating()
		}
		return candidates[i].Rating() < candidates[j].Rating()
	})

	for i := 0; i+1 < len(candidates); i += 2 {
		s.link(candidates[i], candidates[i+1])
	}

	s.lastLink = time.Now()
}

// link pairs a and b: symmetric linkedUsers entries, the
// %NAME/%NOTE/NEW_GAME handshake to each side in order, then a
// uniform-random color assignment. Relay-exclusive.
func (s *Server) link(a, b *user.User) {
	a.Notify("%NAME " + b.Name())
	a.Notify("%NOTE " + catalog.ConnectedWith.Format(b.Name(), b.Rating()))
	b.Notify("%NAME " + a.Name())
	b.Notify("%NOTE " + catalog.ConnectedWith.Format(a.Name(), a.Rating()))

	delete(s.usersToLink, a.ID())
	delete(s.usersToLink, b.ID())
	s.linkedUsers[a.ID()] = b.ID()
	s.linkedUsers[b.ID()] = a.ID()

	a.Notify(NewGameMsg)
	b.Notify(NewGameMsg)
	if rand.Intn(2) == 0 {
		a.Notify(PlayWhiteMsg)
		b.Notify(PlayBlackMsg)
	} else {
		a.Notify(PlayBlackMsg)
		b.Notify(PlayWhiteMsg)
	}
}

// findOnlineByName is Relay-exclusive: it only ever runs on the relay
// goroutine (direct %SERVER LINKTO dispatch or admin commands), so it
// reads onlineUsers without mu.
func (s *Server) findOnlineByName(name string) *user.User {
	for _, u := range s.onlineUsers {
		if u.Name() == name {
			return u
		}
	}
	return nil
}

// The admin channel: a single elevated connection whose inbound records
// are executed as server commands and answered on the same socket.
package game

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"chessrelay/internal/catalog"
	"chessrelay/internal/user"
)

const separator = "---------------------------------------"

// Execute runs one admin command line and returns its formatted
// response, wrapped between two separator lines. Verbs take at most two
// further positional arguments, the second of which may itself contain
// spaces.
func (s *Server) Execute(command string) string {
	parts := strings.SplitN(strings.TrimSpace(command), " ", 3)
	if len(parts) == 0 || parts[0] == "" {
		return separator + "\nno arguments\n" + separator
	}
	verb := parts[0]
	args := parts[1:]

	handlers := s.commandTable()
	handler, ok := handlers[verb]
	if !ok {
		var names []string
		for name := range handlers {
			names = append(names, name)
		}
		sort.Strings(names)
		return fmt.Sprintf("%s\ncommand '%s' not found.\nvalid commands:\n#####\n%s\n#####\n%s",
			separator, verb, strings.Join(names, "\n"), separator)
	}

	return separator + "\n" + handler(args) + "\n" + separator
}

func (s *Server) commandTable() map[string]func([]string) string {
	return map[string]func([]string) string{
		"feedback":   s.cmdFeedback,
		"get":        s.cmdGet,
		"info":       s.cmdInfo,
		"ip":         s.cmdIP,
		"links":      s.cmdLinks,
		"list":       s.cmdList,
		"notify":     s.cmdNotify,
		"notify_all": s.cmdNotifyAll,
		"rating":     func([]string) string { return s.ratingChart() },
		"resetpw":    s.cmdResetPW,
		"remove":     s.cmdRemove,
		"setlang":    s.cmdSetLang,
		"signoff":    s.cmdSignoff,
		"stop":       s.cmdStop,
		"shutdown":   s.cmdShutdown,
		"update":     s.cmdUpdate,
	}
}

// cmdGet lists online and offline users with counts.
func (s *Server) cmdGet(_ []string) string {
	var out []string

	if len(s.onlineUsers) > 0 {
		out = append(out, "online:")
		for _, u := range s.onlineUsers {
			out = append(out, u.String())
		}
		out = append(out, fmt.Sprintf("#online:%d", len(s.onlineUsers)))
	} else {
		out = append(out, "no users online")
	}

	out = append(out, separator)

	s.mu.Lock()
	var offline []*user.User
	for id, u := range s.allUsers {
		if _, online := s.onlineUsers[id]; !online {
			offline = append(offline, u)
		}
	}
	s.mu.Unlock()

	if len(offline) > 0 {
		out = append(out, "offline:")
		for _, u := range offline {
			out = append(out, u.String())
		}
		out = append(out, fmt.Sprintf("#offline:%d", len(offline)))
	} else {
		out = append(out, "no users offline")
	}

	return strings.Join(out, "\n")
}

// cmdInfo reports active goroutine, total/online/linked counts.
func (s *Server) cmdInfo(_ []string) string {
	s.mu.Lock()
	total := len(s.allUsers)
	s.mu.Unlock()
	return fmt.Sprintf("active goroutines: %d\nusers: %d\nonline: %d\nlinked users: %d",
		runtime.NumGoroutine(), total, len(s.onlineUsers), len(s.linkedUsers))
}

// cmdIP lists per-IP online counts plus the running total.
func (s *Server) cmdIP(_ []string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	total := 0
	for ip, count := range s.ipAddresses {
		total += count
		out = append(out, fmt.Sprintf("(%s, %d)", ip, count))
	}
	sort.Strings(out)
	out = append(out, fmt.Sprintf("TOTAL: %d", total))
	return strings.Join(out, "\n")
}

// cmdLinks lists current linked pairs and the unlinked online
// remainder. linkedUsers stores both directions, so each pair prints
// twice and the trailing count is the raw entry count.
func (s *Server) cmdLinks(_ []string) string {
	var out []string
	for id, partnerID := range s.linkedUsers {
		u, uOK := s.onlineUsers[id]
		partner, partnerOK := s.onlineUsers[partnerID]
		if uOK && partnerOK {
			out = append(out, u.String()+" <-> "+partner.String())
		}
	}

	s.unlinkedUsers = make(map[int64]*user.User)
	for id, u := range s.onlineUsers {
		if _, linked := s.linkedUsers[id]; !linked {
			s.unlinkedUsers[id] = u
		}
	}
	if len(s.unlinkedUsers) > 0 {
		out = append(out, "unlinked:")
		for _, u := range s.unlinkedUsers {
			out = append(out, u.String())
		}
	}
	out = append(out, fmt.Sprintf("linked: %d / unlinked: %d", len(s.linkedUsers), len(s.unlinkedUsers)))
	return strings.Join(out, "\n")
}

// cmdList names every active worker: the two long-lived goroutines plus
// one label per in-flight handshake. There is no per-online-user
// goroutine in this design to enumerate.
func (s *Server) cmdList(_ []string) string {
	s.mu.Lock()
	names := append([]string(nil), s.workerNames...)
	s.mu.Unlock()
	sort.Strings(names)
	return "threads:\n" + strings.Join(names, "\n")
}

// cmdNotify sends args[1] to the online user named args[0].
func (s *Server) cmdNotify(args []string) string {
	if len(args) < 2 {
		return "too few arguments - notify *name* *message*"
	}
	target := s.findOnlineByName(args[0])
	if target == nil {
		return "no user online named " + args[0]
	}
	target.Notify(args[1])
	return target.Name() + " notified"
}

// cmdNotifyAll broadcasts args[1] to every online user, pushing send
// failures to the disconnect sweep. args[0] is a required but unused
// placeholder.
func (s *Server) cmdNotifyAll(args []string) string {
	if len(args) < 2 {
		return "too few arguments - notify_all users *message*"
	}
	for id, u := range s.onlineUsers {
		if err := u.Notify(args[1]); err != nil {
			s.disconnectedUsers[id] = u
		}
	}
	return "notified users"
}

// cmdResetPW marks name's stored password with the reset sentinel.
func (s *Server) cmdResetPW(args []string) string {
	if len(args) < 1 {
		return "too few arguments - resetpw *username*"
	}
	target := s.findAccountByName(args[0])
	if target == nil {
		return "no user named " + args[0]
	}
	target.ResetPassword()
	return target.Name() + " password reset"
}

// cmdRemove signs name off if online, then drops the account
// entirely.
func (s *Server) cmdRemove(args []string) string {
	if len(args) < 1 {
		return "too few arguments"
	}
	target := s.findAccountByName(args[0])
	if target == nil {
		return "no user named " + args[0]
	}
	s.removeUser(target)
	return "removed user " + args[0]
}

// cmdSetLang sets the active catalog language, taken modulo the number
// of supported languages.
func (s *Server) cmdSetLang(args []string) string {
	if len(args) < 1 {
		return "too few arguments - setlang *n*"
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return "invalid language: " + args[0]
	}
	catalog.SetLanguage(n)
	return "set language to " + catalog.Language().Name()
}

// cmdSignoff closes name's connection and drops it from onlineUsers,
// without removing the persisted account.
func (s *Server) cmdSignoff(args []string) string {
	if len(args) == 0 {
		return "too few arguments - signoff *name*"
	}
	target := s.findOnlineByName(args[0])
	if target == nil {
		return "no user online named " + args[0]
	}
	s.signOff(target)
	return "signed off " + args[0]
}

// cmdFeedback concatenates every *.txt file under the data directory.
func (s *Server) cmdFeedback(_ []string) string {
	entries, err := os.ReadDir(s.cfg.DataDir)
	if err != nil {
		return ""
	}
	var parts []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".txt") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.cfg.DataDir, e.Name()))
		if err != nil {
			continue
		}
		parts = append(parts, string(data))
	}
	return strings.Join(parts, "\n"+separator+"\n")
}

// cmdUpdate invokes the persistence gateway's replace-all
// immediately.
func (s *Server) cmdUpdate(_ []string) string {
	if err := s.UpdateDatabase(); err != nil {
		return "update database not possible. most likely db is locked"
	}
	return "database updated"
}

// cmdStop flags every worker to exit at its next cycle. The listener's
// accept timeout bounds the latency to AcceptTimeout.
func (s *Server) cmdStop(_ []string) string {
	s.RequestStop()
	return fmt.Sprintf("stop server script in %s", AcceptTimeout)
}

// cmdShutdown asks the host OS to halt, best-effort, without blocking the
// admin response (shutdown).
func (s *Server) cmdShutdown(_ []string) string {
	go func() {
		if err := exec.Command("shutdown", "-h", "now").Run(); err != nil {
			log.Printf("[admin] shutdown: %v", err)
		}
	}()
	return "shut server down immediately"
}

// ratingChart renders the top ten users by rating among those with at
// least one completed game, the last recorded game, and global counts.
// Shared by the admin 'rating' verb and the user-facing 'ELO' command.
func (s *Server) ratingChart() string {
	s.mu.Lock()
	all := make([]*user.User, 0, len(s.allUsers))
	for _, u := range s.allUsers {
		all = append(all, u)
	}
	total := len(s.allUsers)
	online := len(s.onlineUsers)
	s.mu.Unlock()

	sort.Slice(all, func(i, j int) bool { return all[i].Rating() > all[j].Rating() })

	var out []string
	n := 0
	for _, u := range all {
		marker := "(o)"
		if s.isOnline(u.ID()) {
			marker = "(*)"
		}
		if u.PlayedGames() > 0 {
			out = append(out, fmt.Sprintf("%d. %s %s - %d", n+1, marker, u.Name(), u.Rating()))
			n++
		}
		if n >= 10 {
			break
		}
	}

	out = append(out, separator)
	if s.lastGame != "" {
		out = append(out, s.lastGame, separator)
	}
	out = append(out, fmt.Sprintf("online: %d / offline: %d", online, total-online))
	out = append(out, "online: (*) / offline: (o)")
	return strings.Join(out, "\n")
}

// removeUser drops target from allUsers entirely, signing it off first
// if it is currently online.
func (s *Server) removeUser(target *user.User) {
	if _, online := s.onlineUsers[target.ID()]; online {
		s.signOff(target)
	}
	s.mu.Lock()
	delete(s.allUsers, target.ID())
	s.mu.Unlock()
}

// signOff removes target from online bookkeeping and closes its socket,
// without touching allUsers. All callers run on the relay goroutine, so
// usersToLink/linkedUsers need no lock; onlineUsers membership and
// ipAddresses are changed under mu.
func (s *Server) signOff(target *user.User) {
	s.mu.Lock()
	delete(s.onlineUsers, target.ID())
	s.decIP(target.IP())
	s.mu.Unlock()
	delete(s.usersToLink, target.ID())
	if partnerID, ok := s.linkedUsers[target.ID()]; ok {
		delete(s.linkedUsers, partnerID)
		delete(s.linkedUsers, target.ID())
	}
	target.Close()
}

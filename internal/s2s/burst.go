package s2s

import (
	"fmt"
	"strings"

	"github.com/brudvik/hugin-ircd/internal/graph"
	"github.com/brudvik/hugin-ircd/internal/ircmsg"
)

// BurstUser describes one locally-known user to announce to a newly
// linked peer via EUID, mirroring sendBurst's per-user loop.
type BurstUser struct {
	UID         graph.UID
	Nick        string
	NickTS      int64
	Username    string
	DisplayHost string
	RealHost    string
	IP          string
	Account     string
	ModeString  string
	RealName    string
	OnServerSID string
}

// EUIDMessage builds the EUID line introducing one user, per TS6's
// extended UID burst command (adds account name and real hostname over
// plain UID).
func EUIDMessage(localSID string, u BurstUser) ircmsg.Message {
	account := u.Account
	if account == "" {
		account = "*"
	}
	return ircmsg.Message{
		Source:  localSID,
		Command: "EUID",
		Params: []string{
			u.Nick,
			"1",
			fmt.Sprintf("%d", u.NickTS),
			"+" + u.ModeString,
			u.Username,
			u.DisplayHost,
			u.IP,
			string(u.UID),
			u.RealHost,
			account,
			u.RealName,
		},
	}
}

// BurstChannel describes one locally-known channel to announce via
// SJOIN, mirroring sendBurst's channel loop.
type BurstChannel struct {
	Name       string
	TS         int64
	ModeString string
	ModeArgs   []string
	// Members maps each member UID to its TS6 status prefix (e.g. "@" for
	// op, "+" for voice, "" for no status), matching sjoinCommand's member
	// token format "<prefix><uid>".
	Members map[graph.UID]string
}

// SJOINMessage builds the SJOIN line introducing one channel and its
// member list with status prefixes.
func SJOINMessage(localSID string, ch BurstChannel) ircmsg.Message {
	params := []string{fmt.Sprintf("%d", ch.TS), ch.Name, "+" + ch.ModeString}
	params = append(params, ch.ModeArgs...)

	tokens := make([]string, 0, len(ch.Members))
	for uid, prefix := range ch.Members {
		tokens = append(tokens, prefix+string(uid))
	}
	params = append(params, strings.Join(tokens, " "))

	return ircmsg.Message{Source: localSID, Command: "SJOIN", Params: params}
}

// BuildBurst renders the full set of EUID/SJOIN lines to send a newly
// linked peer, the outbound half of sendBurst.
func BuildBurst(localSID string, users []BurstUser, channels []BurstChannel) []ircmsg.Message {
	out := make([]ircmsg.Message, 0, len(users)+len(channels))
	for _, u := range users {
		out = append(out, EUIDMessage(localSID, u))
	}
	for _, ch := range channels {
		out = append(out, SJOINMessage(localSID, ch))
	}
	return out
}

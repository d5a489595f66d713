package telegram

import (
	"strconv"
	"strings"
)

// allowEveryone is the wildcard entry that admits any sender.
const allowEveryone = "*"

// AllowList controls which users and groups may talk to the bot. An empty
// or nil AllowList denies everyone.
type AllowList struct {
	users  map[string]struct{}
	groups map[string]struct{}
}

// NewAllowList creates an AllowList. User entries match a numeric user ID
// or a username (with or without '@'); group entries match a chat ID.
func NewAllowList(users, groups []string) *AllowList {
	a := &AllowList{
		users:  make(map[string]struct{}, len(users)),
		groups: make(map[string]struct{}, len(groups)),
	}
	for _, u := range users {
		a.users[normalize(u)] = struct{}{}
	}
	for _, g := range groups {
		a.groups[normalize(g)] = struct{}{}
	}
	return a
}

// IsAllowed reports whether the message sender or chat is permitted.
func (a *AllowList) IsAllowed(msg *Message) bool {
	if a == nil || (len(a.users) == 0 && len(a.groups) == 0) {
		return false
	}
	if _, ok := a.users[allowEveryone]; ok {
		return true
	}

	if msg.From != nil {
		if _, ok := a.users[strconv.FormatInt(msg.From.ID, 10)]; ok {
			return true
		}
		if msg.From.Username != "" {
			if _, ok := a.users[normalize(msg.From.Username)]; ok {
				return true
			}
		}
	}
	if _, ok := a.groups[strconv.FormatInt(msg.Chat.ID, 10)]; ok {
		return true
	}
	return false
}

func normalize(s string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "@")
}

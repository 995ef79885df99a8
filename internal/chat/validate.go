package chat

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Input limits.
const (
	MaxNicknameLength       = 50
	MaxRoomNameLength       = 100
	DefaultMaxMessageLength = 5000
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateNickname checks that nick is a non-empty word of allowed characters.
func ValidateNickname(nick string) error {
	if nick == "" || len(nick) > MaxNicknameLength || !namePattern.MatchString(nick) {
		return ErrInvalidNickname
	}
	return nil
}

// ValidateRoom checks that room is a non-empty word of allowed characters.
func ValidateRoom(room string) error {
	if room == "" || len(room) > MaxRoomNameLength || !namePattern.MatchString(room) {
		return ErrInvalidRoom
	}
	return nil
}

// ParseRooms splits a whitespace separated room list, dropping duplicates
// while keeping first-seen order.
func ParseRooms(field string) []string {
	return dedupe(strings.Fields(field))
}

func dedupe(rooms []string) []string {
	seen := make(map[string]struct{}, len(rooms))
	out := make([]string, 0, len(rooms))
	for _, room := range rooms {
		if _, ok := seen[room]; ok {
			continue
		}
		seen[room] = struct{}{}
		out = append(out, room)
	}
	return out
}

// formatMessage escapes text for direct insertion into HTML and turns line
// breaks into <br /> tags.
func formatMessage(text string) string {
	escaped := html.EscapeString(text)
	escaped = strings.ReplaceAll(escaped, "\r\n", "\n")
	return strings.ReplaceAll(escaped, "\n", "<br />")
}

func messageTooLong(text string, max int) bool {
	return max > 0 && utf8.RuneCountInString(text) > max
}

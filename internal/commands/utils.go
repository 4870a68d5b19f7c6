package commands

import (
	"strings"
	"unicode/utf8"
)

// MessageLimit is Discord's maximum message length.
const MessageLimit = 2000

// SessionKey identifies one user's conversation in one channel.
func SessionKey(channelID, userID string) string {
	return "discord:" + channelID + ":" + userID
}

// ParseSessionKey is the inverse of SessionKey.
func ParseSessionKey(key string) (channelID, userID string, ok bool) {
	rest, found := strings.CutPrefix(key, "discord:")
	if !found {
		return "", "", false
	}
	channelID, userID, ok = strings.Cut(rest, ":")
	if !ok || channelID == "" || userID == "" {
		return "", "", false
	}
	return channelID, userID, true
}

// Chunk splits content into pieces no longer than limit bytes, breaking on
// line boundaries when it can.
func Chunk(content string, limit int) []string {
	if len(content) <= limit {
		return []string{content}
	}

	var chunks []string
	var buffer strings.Builder
	flush := func() {
		if buffer.Len() > 0 {
			chunks = append(chunks, buffer.String())
			buffer.Reset()
		}
	}
	for _, line := range strings.Split(content, "\n") {
		for len(line) > limit {
			flush()
			cut := limit
			for cut > 0 && !utf8.RuneStart(line[cut]) {
				cut--
			}
			if cut == 0 {
				cut = limit
			}
			chunks = append(chunks, line[:cut])
			line = line[cut:]
		}
		if buffer.Len()+len(line)+1 > limit {
			flush()
		}
		if buffer.Len() > 0 {
			buffer.WriteString("\n")
		}
		buffer.WriteString(line)
	}
	flush()
	return chunks
}

package forward

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"strings"
)

// ErrEmptyAlias is returned for a blank placeholder alias.
var ErrEmptyAlias = errors.New("alias cannot be empty")

const placeholderBase = uint64(1)<<62 - 1

// PlaceholderAlias maps an operator-chosen alias to a stable negative
// conversation id, used when a forward's target cannot be resolved.
func PlaceholderAlias(alias string) (int64, error) {
	alias = strings.TrimSpace(alias)
	if alias == "" {
		return 0, ErrEmptyAlias
	}
	digest := sha256.Sum256([]byte(alias))
	v := binary.BigEndian.Uint64(digest[:8])
	return -1 - int64(v%placeholderBase), nil
}

// ScammerName is the counterparty's display name from a forwarded event's meta.
func ScammerName(meta map[string]any) string {
	profile, ok := meta["forward_profile"].(map[string]any)
	if !ok {
		return ""
	}
	if user, ok := profile["sender_user"].(map[string]any); ok {
		if name := displayName(user); name != "" {
			return name
		}
	}
	if chat, ok := profile["sender_chat"].(map[string]any); ok {
		return displayName(chat)
	}
	return ""
}

// BaiterName is the display name of whoever forwarded the copy.
func BaiterName(meta map[string]any) string {
	sender, ok := meta["control_sender"].(map[string]any)
	if !ok {
		return ""
	}
	return displayName(sender)
}

func displayName(identity map[string]any) string {
	if name := stringField(identity, "display_name"); name != "" {
		return name
	}
	first := stringField(identity, "first_name")
	last := stringField(identity, "last_name")
	if first != "" || last != "" {
		return strings.TrimSpace(first + " " + last)
	}
	if username := stringField(identity, "username"); username != "" {
		return "@" + username
	}
	return ""
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}

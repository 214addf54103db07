package forward

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
	"unicode/utf16"
)

const (
	StrategyChannelMessageID = "channel_message_id"
	StrategyOriginSignature  = "origin_signature"
)

// Identity is the best-effort signature of a forwarded message's original.
type Identity struct {
	Strategy   string `json:"strategy"`
	Key        string `json:"key"`
	OriginKind string `json:"origin_kind"`
}

func (i Identity) meta() map[string]any {
	return map[string]any{"strategy": i.Strategy, "key": i.Key, "origin_kind": i.OriginKind}
}

// DeriveIdentity keys a forward by its channel post id when known, otherwise by
// a hash over everything the origin exposes about it.
func DeriveIdentity(origin *Origin, eventType, text, mediaMarker string) Identity {
	kind := "Unknown"
	if origin != nil && origin.Kind != "" {
		kind = origin.Kind
	}

	if origin != nil && origin.MessageID != nil {
		if chatID, ok := origin.senderChatID(); ok {
			return Identity{
				Strategy:   StrategyChannelMessageID,
				Key:        "channel:" + strconv.FormatInt(chatID, 10) + ":" + strconv.FormatInt(*origin.MessageID, 10),
				OriginKind: kind,
			}
		}
	}

	signature := map[string]any{
		"origin_kind":      kind,
		"origin_date_utc":  "",
		"sender_user_id":   nil,
		"sender_chat_id":   nil,
		"sender_user_name": nil,
		"event_type":       eventType,
		"text":             nilIfEmpty(text),
		"media_marker":     nilIfEmpty(mediaMarker),
	}
	if origin != nil {
		if origin.Date != nil {
			signature["origin_date_utc"] = isoUTC(*origin.Date)
		}
		if id, ok := origin.senderUserID(); ok {
			signature["sender_user_id"] = id
		}
		if id, ok := origin.senderChatID(); ok {
			signature["sender_chat_id"] = id
		}
		signature["sender_user_name"] = nilIfEmpty(origin.SenderUserName)
	}

	return Identity{
		Strategy:   StrategyOriginSignature,
		Key:        "sig:" + sha1Hex(asciiJSON(signature)),
		OriginKind: kind,
	}
}

// SourceMessageID is the event external id for a forwarded copy.
func SourceMessageID(identity Identity, eventType, text string) string {
	strategy := identity.Strategy
	if strategy == "" {
		strategy = StrategyOriginSignature
	}
	return fmt.Sprintf("fwd:v2:%s:%s:%s:%s", strategy, sha1Hex(identity.Key)[:16], eventType, sha1Hex(text)[:16])
}

func sha1Hex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// isoUTC renders t like an ISO-8601 UTC timestamp with a Z suffix, keeping
// microseconds only when present.
func isoUTC(t time.Time) string {
	t = t.UTC()
	if t.Nanosecond()/1000 != 0 {
		return t.Format("2006-01-02T15:04:05.000000Z")
	}
	return t.Format("2006-01-02T15:04:05Z")
}

// asciiJSON is compact JSON with sorted keys and every non-ASCII rune escaped,
// so signatures do not depend on the encoder's unicode handling.
func asciiJSON(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return ""
	}
	raw := bytes.TrimRight(buf.Bytes(), "\n")

	var out bytes.Buffer
	for _, r := range string(raw) {
		switch {
		case r < 0x80:
			out.WriteRune(r)
		case r > 0xFFFF:
			hi, lo := utf16.EncodeRune(r)
			fmt.Fprintf(&out, `\u%04x\u%04x`, hi, lo)
		default:
			fmt.Fprintf(&out, `\u%04x`, r)
		}
	}
	return out.String()
}

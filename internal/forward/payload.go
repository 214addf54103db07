package forward

import (
	"strconv"
	"time"

	"basegraph.app/scambait/internal/model"
)

// Payload is a forwarded copy ready to be inserted into a conversation timeline.
type Payload struct {
	TsUTC           *time.Time      `json:"ts_utc,omitempty"`
	OriginMessageID *int64          `json:"origin_message_id,omitempty"`
	Meta            map[string]any  `json:"meta"`
	EventType       string          `json:"event_type"`
	SourceMessageID string          `json:"source_message_id"`
	Role            model.EventRole `json:"role"`
	Text            string          `json:"text,omitempty"`
}

// BuildPayload turns a copy into a timeline payload attributed to role.
func BuildPayload(c Copy, role model.EventRole) Payload {
	eventType := c.EventType()
	text := c.body()
	profile := profileInfo(c.Origin)

	var identity Identity
	if c.Origin != nil {
		marker := ""
		if c.HasPhoto {
			marker = c.PhotoUniqueID
		}
		identity = DeriveIdentity(c.Origin, eventType, text, marker)
	} else {
		identity = Identity{
			Strategy:   StrategyOriginSignature,
			Key:        "sig:missing:" + strconv.FormatInt(c.ControlChatID, 10) + ":" + strconv.FormatInt(c.ControlMessageID, 10),
			OriginKind: "Unknown",
		}
	}

	var originMessageID *int64
	if c.Origin != nil && c.Origin.MessageID != nil {
		id := *c.Origin.MessageID
		originMessageID = &id
	}

	meta := map[string]any{
		"control_chat_id":    c.ControlChatID,
		"control_message_id": c.ControlMessageID,
		"forward_profile":    profile,
		"forward_identity":   identity.meta(),
		"origin_message_id":  nil,
	}
	if originMessageID != nil {
		meta["origin_message_id"] = *originMessageID
	}
	if sender := userInfo(c.ControlSender, false); len(sender) > 0 {
		meta["control_sender"] = sender
	}

	return Payload{
		EventType:       eventType,
		SourceMessageID: SourceMessageID(identity, eventType, text),
		OriginMessageID: originMessageID,
		Role:            role,
		Text:            text,
		TsUTC:           eventTime(c),
		Meta:            meta,
	}
}

// eventTime is the original send time. Some forwards only expose the forward
// time; when the two match the original time is treated as unknown.
func eventTime(c Copy) *time.Time {
	if c.Origin == nil || c.Origin.Date == nil {
		return nil
	}
	if c.Origin.Date.Equal(c.Date) {
		return nil
	}
	t := c.Origin.Date.UTC()
	return &t
}

// profileInfo is the forward_profile meta block: what the origin says about its sender.
func profileInfo(o *Origin) map[string]any {
	info := map[string]any{}
	if o == nil {
		return info
	}
	info["origin_kind"] = o.Kind
	if o.Date != nil {
		info["origin_date_utc"] = isoUTC(*o.Date)
	}
	if o.MessageID != nil {
		info["origin_message_id"] = *o.MessageID
	}
	if user := userInfo(o.SenderUser, true); len(user) > 0 {
		info["sender_user"] = user
	}
	if o.SenderChat != nil {
		chat := map[string]any{}
		if o.SenderChat.ID != nil {
			chat["id"] = *o.SenderChat.ID
		}
		putString(chat, "type", o.SenderChat.Type)
		putString(chat, "title", o.SenderChat.Title)
		putString(chat, "username", o.SenderChat.Username)
		if len(chat) > 0 {
			info["sender_chat"] = chat
		}
	}
	putString(info, "sender_user_name", o.SenderUserName)
	return info
}

func userInfo(u *User, full bool) map[string]any {
	info := map[string]any{}
	if u == nil {
		return info
	}
	if u.ID != nil {
		info["id"] = *u.ID
	}
	putString(info, "username", u.Username)
	putString(info, "first_name", u.FirstName)
	putString(info, "last_name", u.LastName)
	if full {
		putString(info, "language_code", u.LanguageCode)
		if u.IsBot != nil {
			info["is_bot"] = *u.IsBot
		}
	}
	return info
}

func putString(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}

package contract

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

var thinkSegment = regexp.MustCompile(`(?is)<think>.*?</think>`)

var (
	requiredTopLevelKeys = []string{"schema", "analysis", "message", "actions"}
	optionalTopLevelKeys = []string{"conflict"}
)

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02",
}

// StripThinking removes <think> reasoning segments and stray delimiters.
func StripThinking(text string) string {
	cleaned := thinkSegment.ReplaceAllString(text, "")
	cleaned = strings.ReplaceAll(cleaned, "<think>", "")
	cleaned = strings.ReplaceAll(cleaned, "</think>", "")
	return strings.TrimSpace(cleaned)
}

// ValidateText parses a JSON-object reply. A nil Output means the plan was rejected;
// the first violation decides and no partial plan is returned.
func ValidateText(raw string) (*Output, []Issue) {
	fail := func(path, reason, expected, actual string) (*Output, []Issue) {
		return nil, []Issue{{Path: path, Reason: reason, Expected: expected, Actual: actual}}
	}

	decoded, err := decodeJSON([]byte(StripThinking(raw)))
	if err != nil {
		return fail("root", "invalid json", "valid JSON object", "")
	}
	data, ok := decoded.(map[string]any)
	if !ok {
		return fail("root", "must be an object", "object", typeName(decoded))
	}

	var missing []string
	for _, key := range requiredTopLevelKeys {
		if _, ok := data[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fail("root", "missing required top-level keys", strings.Join(requiredTopLevelKeys, ","), fmt.Sprint(missing))
	}
	var extra []string
	for key := range data {
		if !containsString(requiredTopLevelKeys, key) && !containsString(optionalTopLevelKeys, key) {
			extra = append(extra, key)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		return fail("root", "unexpected top-level keys", strings.Join(append(requiredTopLevelKeys, optionalTopLevelKeys...), ","), fmt.Sprint(extra))
	}

	schema, ok := data["schema"].(string)
	if !ok || strings.TrimSpace(schema) != SchemaVersion {
		return fail("schema", "invalid schema", SchemaVersion, fmt.Sprint(data["schema"]))
	}
	analysis, ok := data["analysis"].(map[string]any)
	if !ok {
		return fail("analysis", "analysis must be object", "object", typeName(data["analysis"]))
	}
	message, ok := data["message"].(map[string]any)
	if !ok {
		return fail("message", "message must be object", "object", typeName(data["message"]))
	}
	var conflict map[string]any
	if v := data["conflict"]; v != nil {
		if conflict, ok = v.(map[string]any); !ok {
			return fail("conflict", "conflict must be object", "object", typeName(v))
		}
	}

	fallback, _ := message["text"].(string)
	actions, issues := validateActions(data["actions"], strings.TrimSpace(fallback))
	if actions == nil {
		return nil, issues
	}

	suggestion := FirstSendText(actions)
	if suggestion == "" && conflict == nil {
		if strings.TrimSpace(fallback) == "" {
			return fail("actions", "missing send_message action with message.text",
				"at least one send_message action containing message.text", "")
		}
		suggestion = strings.TrimSpace(fallback)
	}

	return &Output{
		Schema:     SchemaVersion,
		Suggestion: suggestion,
		Analysis:   analysis,
		Message:    message,
		Actions:    actions,
		Conflict:   conflict,
		Raw:        raw,
	}, nil
}

// normalizeAction rewrites the shapes models commonly emit into {"type": ...}.
func normalizeAction(v any) (map[string]any, bool) {
	in, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}

	out := make(map[string]any, len(in))
	_, hasType := in["type"]
	alias, hasAlias := in["action"].(string)
	switch {
	case hasType:
		for k, v := range in {
			out[k] = v
		}
	case hasAlias && Kind(strings.TrimSpace(alias)).Valid():
		for k, v := range in {
			out[k] = v
		}
		delete(out, "action")
		out["type"] = strings.TrimSpace(alias)
	case len(in) == 1:
		for k, v := range in {
			if !Kind(k).Valid() {
				out[k] = v
				break
			}
			out["type"] = k
			if nested, ok := v.(map[string]any); ok {
				for nk, nv := range nested {
					out[nk] = nv
				}
			}
		}
	default:
		for k, v := range in {
			out[k] = v
		}
	}

	if kind, _ := out["type"].(string); strings.TrimSpace(kind) == string(KindSendMessage) {
		if dotted, ok := out["message.text"]; ok {
			delete(out, "message.text")
			msg, ok := out["message"].(map[string]any)
			if !ok {
				msg = map[string]any{}
			}
			if _, ok := msg["text"]; !ok {
				msg["text"] = dotted
			}
			out["message"] = msg
		}
	}
	return out, true
}

// validateActions returns nil actions on the first violation. fallbackText is the
// top-level message.text, used by send_message entries that carry no message.
func validateActions(value any, fallbackText string) ([]Action, []Issue) {
	var issues []Issue
	fail := func(path, reason, expected, actual string) ([]Action, []Issue) {
		issues = append(issues, Issue{Path: path, Reason: reason, Expected: expected, Actual: actual})
		return nil, issues
	}

	if single, ok := value.(map[string]any); ok {
		value = []any{single}
	}
	list, ok := value.([]any)
	if !ok {
		return fail("actions", "must be an array", "array", typeName(value))
	}
	if len(list) > MaxActions {
		return fail("actions", "too many actions", fmt.Sprintf("<=%d", MaxActions), fmt.Sprint(len(list)))
	}
	if len(list) == 0 {
		return fail("actions", "must not be empty", "non-empty array", "")
	}

	actions := make([]Action, 0, len(list))
	for idx, item := range list {
		path := fmt.Sprintf("actions[%d]", idx)
		entry, ok := normalizeAction(item)
		if !ok {
			return fail(path, "must be an object", "object", typeName(item))
		}
		kindName, _ := entry["type"].(string)
		kind := Kind(kindName)
		if !kind.Valid() {
			return fail(path+".type", "unknown or missing action type", "allowed action type", kindName)
		}

		switch kind {
		case KindMarkRead, KindNoop:
			if !hasExactKeys(entry, "type") {
				return fail(path, "unexpected keys for "+kindName, "{type}", sortedKeys(entry))
			}
			if kind == KindMarkRead {
				actions = append(actions, MarkRead{})
			} else {
				actions = append(actions, Noop{})
			}

		case KindSimulateTyping:
			if !hasExactKeys(entry, "type", "duration_seconds") {
				return fail(path, "unexpected keys for simulate_typing", "{type,duration_seconds}", sortedKeys(entry))
			}
			duration, ok := asNumber(entry["duration_seconds"])
			if !ok || duration < 0 || duration > MaxTypingSeconds {
				return fail(path+".duration_seconds", "duration out of range", "number in [0,60]", fmt.Sprint(entry["duration_seconds"]))
			}
			actions = append(actions, SimulateTyping{DurationSeconds: duration})

		case KindWait:
			if !hasExactKeys(entry, "type", "value", "unit") {
				return fail(path, "unexpected keys for wait", "{type,value,unit}", sortedKeys(entry))
			}
			value, okValue := asNumber(entry["value"])
			unitRaw, okUnit := entry["unit"].(string)
			if !okValue || !okUnit {
				return fail(path, "invalid wait payload", "value:number and unit:string",
					fmt.Sprintf("value=%v, unit=%v", entry["value"], entry["unit"]))
			}
			unit := WaitUnit(strings.ToLower(strings.TrimSpace(unitRaw)))
			if unit != UnitSeconds && unit != UnitMinutes {
				return fail(path+".unit", "invalid wait unit", "seconds|minutes", string(unit))
			}
			if value < 0 {
				return fail(path+".value", "wait value must be >= 0", ">=0", fmt.Sprint(value))
			}
			if unit == UnitSeconds && value > MaxWaitSeconds {
				return fail(path+".value", "wait seconds exceed max", fmt.Sprintf("<=%d", MaxWaitSeconds), fmt.Sprint(value))
			}
			if unit == UnitMinutes && value > MaxWaitMinutes {
				return fail(path+".value", "wait minutes exceed max", fmt.Sprintf("<=%d", MaxWaitMinutes), fmt.Sprint(value))
			}
			actions = append(actions, Wait{Value: value, Unit: unit})

		case KindSendMessage:
			if !hasOnlyKeys(entry, "type", "message", "reply_to", "send_at_utc") {
				return fail(path, "unexpected keys for send_message", "subset of {type,message,reply_to,send_at_utc}", sortedKeys(entry))
			}
			var textValue any = fallbackText
			if rawMsg, present := entry["message"]; present {
				msg, ok := rawMsg.(map[string]any)
				if !ok {
					return fail(path+".message", "missing message object", "object with text", typeName(rawMsg))
				}
				textValue = msg["text"]
			}
			text, ok := textValue.(string)
			if !ok {
				return fail(path+".message.text", "missing text", "string", typeName(textValue))
			}
			text = strings.TrimSpace(text)
			if text == "" {
				return fail(path+".message.text", "text must be non-empty", "", "")
			}
			if n := utf8.RuneCountInString(text); n > MaxMessageChars {
				return fail(path+".message.text", "text too long", fmt.Sprintf("<=%d chars", MaxMessageChars), fmt.Sprint(n))
			}
			send := SendMessage{Text: text}
			if rawReply, present := entry["reply_to"]; present {
				ref, ok := asMessageRef(rawReply)
				if !ok {
					return fail(path+".reply_to", "invalid reply_to", "string|int", typeName(rawReply))
				}
				send.ReplyTo = &ref
			}
			if rawAt, present := entry["send_at_utc"]; present {
				at, ok := rawAt.(string)
				if !ok {
					return fail(path+".send_at_utc", "invalid send_at_utc type", "string", typeName(rawAt))
				}
				ts, ok := parseISO(at)
				if !ok {
					return fail(path+".send_at_utc", "invalid ISO timestamp", "ISO8601 UTC string", at)
				}
				send.SendAt = &ts
			}
			actions = append(actions, send)

		case KindEditMessage:
			if !hasExactKeys(entry, "type", "message_id", "new_text") {
				return fail(path, "unexpected keys for edit_message", "{type,message_id,new_text}", sortedKeys(entry))
			}
			ref, okRef := asMessageRef(entry["message_id"])
			newText, okText := entry["new_text"].(string)
			if !okRef || !okText {
				return fail(path, "invalid edit_message payload", "message_id:string|int and new_text:string",
					fmt.Sprintf("message_id=%v, new_text=%s", entry["message_id"], typeName(entry["new_text"])))
			}
			actions = append(actions, EditMessage{MessageID: ref, NewText: newText})

		case KindEscalateToHuman:
			if !hasExactKeys(entry, "type", "reason") {
				return fail(path, "unexpected keys for escalate_to_human", "{type,reason}", sortedKeys(entry))
			}
			reason, ok := entry["reason"].(string)
			if !ok || strings.TrimSpace(reason) == "" {
				return fail(path+".reason", "reason must be non-empty string", "", "")
			}
			actions = append(actions, EscalateToHuman{Reason: strings.TrimSpace(reason)})
		}
	}

	return actions, issues
}

func hasExactKeys(m map[string]any, keys ...string) bool {
	if len(m) != len(keys) {
		return false
	}
	return hasOnlyKeys(m, keys...)
}

func hasOnlyKeys(m map[string]any, keys ...string) bool {
	for k := range m {
		if !containsString(keys, k) {
			return false
		}
	}
	_, hasType := m["type"]
	return hasType
}

func sortedKeys(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return fmt.Sprint(keys)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func asNumber(v any) (float64, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	f, err := n.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// asMessageRef accepts strings and integral numbers.
func asMessageRef(v any) (MessageRef, bool) {
	switch v := v.(type) {
	case string:
		return MessageRef(v), true
	case json.Number:
		if _, err := v.Int64(); err != nil {
			return "", false
		}
		return MessageRef(v.String()), true
	}
	return "", false
}

func parseISO(value string) (time.Time, bool) {
	text := strings.TrimSpace(value)
	if text == "" {
		return time.Time{}, false
	}
	for _, layout := range isoLayouts {
		if ts, err := time.Parse(layout, text); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case json.Number, float64:
		return "number"
	case bool:
		return "boolean"
	default:
		return fmt.Sprintf("%T", v)
	}
}

package contract

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"basegraph.app/scambait/common/llm"
	"github.com/kaptinlin/jsonrepair"
)

const ActToolName = "act"

const actToolDescription = "Execute one or more actions for this turn. " +
	"Include set_memory/add_note before send_message. " +
	"At most one send_message OR one wait per turn."

const handoffDefaultReason = "Handoff requested."

// ActArgs is the argument shape of the act tool.
type ActArgs struct {
	Actions  []ActItem      `json:"actions" jsonschema:"minItems=1,maxItems=10"`
	Analysis map[string]any `json:"analysis,omitempty" jsonschema:"description=Directive acknowledgement and free-form analysis"`
}

// ActItem is a single act tool action. Which fields apply depends on Type.
type ActItem struct {
	Type          string `json:"type" jsonschema:"enum=set_memory,enum=add_note,enum=send_message,enum=send_typing,enum=wait,enum=decide_handoff"`
	Key           string `json:"key,omitempty" jsonschema:"description=set_memory key"`
	Value         string `json:"value,omitempty" jsonschema:"description=set_memory value"`
	Text          string `json:"text,omitempty" jsonschema:"maxLength=4000,description=add_note or send_message text"`
	ReplyTo       int64  `json:"reply_to,omitempty" jsonschema:"description=send_message: id of the message being replied to"`
	DurationClass string `json:"duration_class,omitempty" jsonschema:"enum=short,enum=medium"`
	LatencyClass  string `json:"latency_class,omitempty" jsonschema:"enum=short,enum=medium,enum=long"`
	Reason        string `json:"reason,omitempty" jsonschema:"description=decide_handoff reason"`
}

type latency struct {
	value float64
	unit  WaitUnit
}

var latencyClasses = map[string]latency{
	"short":  {30, UnitSeconds},
	"medium": {3, UnitMinutes},
	"long":   {15, UnitMinutes},
}

var typingClasses = map[string]float64{
	"short":  defaultTypingDelay,
	"medium": 10,
}

// ActTool returns the tool definition offered to the model in tool mode.
func ActTool() llm.Tool {
	return llm.Tool{
		Name:        ActToolName,
		Description: actToolDescription,
		Parameters:  llm.GenerateSchemaFrom(&ActArgs{}),
	}
}

// ValidateToolCalls turns an act() tool call into a plan. Unlike ValidateText it is
// lenient per action: bad entries become issues and are skipped.
func ValidateToolCalls(calls []llm.ToolCall, raw string) (*Output, []Issue, []MemoryPair) {
	var issues []Issue
	fatal := func(path, reason, expected string) (*Output, []Issue, []MemoryPair) {
		issues = append(issues, Issue{Path: path, Reason: reason, Expected: expected})
		return nil, issues, nil
	}

	if len(calls) == 0 {
		return fatal("tool_calls", "no tool calls returned", "at least one tool call")
	}

	var act *llm.ToolCall
	for i := range calls {
		if strings.TrimSpace(calls[i].Name) == ActToolName {
			act = &calls[i]
			break
		}
	}
	if act == nil {
		return fatal("tool_calls", "no act() tool call", "act() tool call")
	}

	args, repaired, err := decodeActArguments(act.Arguments)
	if err != nil {
		return fatal("act.arguments", "invalid JSON in act() arguments", "")
	}
	if repaired {
		issues = append(issues, Issue{Path: "act.arguments", Reason: "repaired malformed JSON in act() arguments"})
	}

	list, _ := args["actions"].([]any)
	if len(list) == 0 {
		return fatal("act.actions", "actions must be a non-empty array", "non-empty array")
	}

	analysis := map[string]any{}
	if extra, ok := args["analysis"].(map[string]any); ok {
		for k, v := range extra {
			analysis[k] = v
		}
	}

	var (
		actions    []Action
		memory     []MemoryPair
		suggestion string
		sends      int
		waits      int
	)
	for _, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		kind := strings.TrimSpace(looseString(entry["type"]))

		switch kind {
		case "set_memory":
			key := strings.TrimSpace(looseString(entry["key"]))
			value := strings.TrimSpace(looseString(entry["value"]))
			if key != "" {
				memory = append(memory, MemoryPair{Key: key, Value: value})
				analysis[key] = value
			}

		case "add_note":
			text := strings.TrimSpace(looseString(entry["text"]))
			if text == "" {
				continue
			}
			notes, _ := analysis["notes"].([]any)
			analysis["notes"] = append(notes, text)

		case "send_message":
			if sends >= 1 {
				issues = append(issues, Issue{Path: "act.actions", Reason: "duplicate send_message action skipped", Expected: "at most one send_message per turn"})
				continue
			}
			text := strings.TrimSpace(looseString(entry["text"]))
			if text == "" {
				issues = append(issues, Issue{Path: "act.actions.send_message.text", Reason: "text must be non-empty"})
				continue
			}
			text = truncateRunes(text, MaxMessageChars)
			send := SendMessage{Text: text}
			if n, ok := looseInt(entry["reply_to"]); ok {
				ref := MessageRef(strconv.FormatInt(n, 10))
				send.ReplyTo = &ref
			}
			actions = append(actions, send)
			suggestion = text
			sends++

		case "send_typing":
			duration := float64(defaultTypingDelay)
			if class, ok := typingClasses[strings.TrimSpace(looseString(entry["duration_class"]))]; ok {
				duration = class
			}
			if raw, present := entry["duration_seconds"]; present {
				if f, ok := looseFloat(raw); ok {
					duration = f
				} else {
					duration = defaultTypingDelay
				}
			}
			duration = max(0, min(MaxTypingSeconds, duration))
			actions = append(actions, SimulateTyping{DurationSeconds: duration})

		case "wait":
			if waits >= 1 {
				issues = append(issues, Issue{Path: "act.actions", Reason: "duplicate wait action skipped", Expected: "at most one wait per turn"})
				continue
			}
			class := strings.TrimSpace(looseString(entry["latency_class"]))
			mapped, ok := latencyClasses[class]
			if !ok {
				mapped = latencyClasses["short"]
			}
			actions = append(actions, Wait{Value: mapped.value, Unit: mapped.unit})
			waits++

		case "decide_handoff":
			reason := strings.TrimSpace(looseString(entry["reason"]))
			if reason == "" {
				reason = handoffDefaultReason
			}
			actions = append(actions, EscalateToHuman{Reason: reason})

		default:
			issues = append(issues, Issue{Path: "act.actions." + kind, Reason: "unknown action type: " + kind})
		}
	}

	if len(actions) == 0 {
		actions = append(actions, Noop{})
	}

	return &Output{
		Schema:     SchemaVersion,
		Suggestion: suggestion,
		Analysis:   analysis,
		Actions:    actions,
		Raw:        raw,
	}, issues, memory
}

// decodeActArguments accepts an object, a JSON string holding an object, or
// malformed JSON that jsonrepair can recover.
func decodeActArguments(raw string) (map[string]any, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, false, nil
	}

	repaired := false
	v, err := decodeJSON([]byte(raw))
	if err != nil {
		fixed, repairErr := jsonrepair.JSONRepair(raw)
		if repairErr != nil {
			return nil, false, fmt.Errorf("repair act arguments: %w", repairErr)
		}
		if v, err = decodeJSON([]byte(fixed)); err != nil {
			return nil, false, fmt.Errorf("decode repaired act arguments: %w", err)
		}
		repaired = true
	}

	if s, ok := v.(string); ok {
		inner, err := decodeJSON([]byte(s))
		if err == nil {
			v = inner
		}
	}

	args, ok := v.(map[string]any)
	if !ok {
		return map[string]any{}, repaired, nil
	}
	return args, repaired, nil
}

func looseString(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		if !v {
			return ""
		}
		return "true"
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

func looseFloat(v any) (float64, bool) {
	switch v := v.(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

func looseInt(v any) (int64, bool) {
	switch v := v.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, true
		}
		if f, err := v.Float64(); err == nil {
			return int64(f), true
		}
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n, err == nil
	}
	return 0, false
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

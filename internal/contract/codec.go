package contract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

type wireMessage struct {
	Text string `json:"text"`
}

type wireAction struct {
	Type            Kind         `json:"type"`
	DurationSeconds *float64     `json:"duration_seconds,omitempty"`
	Value           *float64     `json:"value,omitempty"`
	Unit            WaitUnit     `json:"unit,omitempty"`
	Message         *wireMessage `json:"message,omitempty"`
	ReplyTo         *MessageRef  `json:"reply_to,omitempty"`
	SendAtUTC       string       `json:"send_at_utc,omitempty"`
	MessageID       *MessageRef  `json:"message_id,omitempty"`
	NewText         *string      `json:"new_text,omitempty"`
	Reason          string       `json:"reason,omitempty"`
}

func toWire(a Action) wireAction {
	switch a := a.(type) {
	case SimulateTyping:
		d := a.DurationSeconds
		return wireAction{Type: KindSimulateTyping, DurationSeconds: &d}
	case Wait:
		v := a.Value
		return wireAction{Type: KindWait, Value: &v, Unit: a.Unit}
	case SendMessage:
		w := wireAction{Type: KindSendMessage, Message: &wireMessage{Text: a.Text}, ReplyTo: a.ReplyTo}
		if a.SendAt != nil {
			w.SendAtUTC = a.SendAt.UTC().Format(time.RFC3339)
		}
		return w
	case EditMessage:
		id, text := a.MessageID, a.NewText
		return wireAction{Type: KindEditMessage, MessageID: &id, NewText: &text}
	case EscalateToHuman:
		return wireAction{Type: KindEscalateToHuman, Reason: a.Reason}
	default:
		return wireAction{Type: a.Kind()}
	}
}

// EncodeActions renders a plan in its scambait.llm.v1 wire shape.
func EncodeActions(actions []Action) (json.RawMessage, error) {
	wire := make([]wireAction, len(actions))
	for i, a := range actions {
		wire[i] = toWire(a)
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("encode actions: %w", err)
	}
	return data, nil
}

// DecodeActions parses a stored plan, applying the same rules as ValidateText.
func DecodeActions(data []byte) ([]Action, error) {
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil, nil
	}
	raw, err := decodeJSON(data)
	if err != nil {
		return nil, fmt.Errorf("decode actions: %w", err)
	}
	actions, issues := validateActions(raw, "")
	if actions == nil {
		return nil, &IssuesError{Issues: issues}
	}
	return actions, nil
}

func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	return v, nil
}

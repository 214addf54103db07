package contract

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SchemaVersion is the only accepted value of the top-level "schema" key.
const SchemaVersion = "scambait.llm.v1"

const (
	MaxActions         = 10
	MaxMessageChars    = 4000
	MaxTypingSeconds   = 60
	MaxWaitSeconds     = 86400
	MaxWaitMinutes     = 10080
	MaxWaitDuration    = 7 * 24 * time.Hour
	defaultTypingDelay = 5
)

type Kind string

const (
	KindMarkRead        Kind = "mark_read"
	KindSimulateTyping  Kind = "simulate_typing"
	KindWait            Kind = "wait"
	KindSendMessage     Kind = "send_message"
	KindEditMessage     Kind = "edit_message"
	KindNoop            Kind = "noop"
	KindEscalateToHuman Kind = "escalate_to_human"
)

func (k Kind) Valid() bool {
	switch k {
	case KindMarkRead, KindSimulateTyping, KindWait, KindSendMessage,
		KindEditMessage, KindNoop, KindEscalateToHuman:
		return true
	}
	return false
}

type WaitUnit string

const (
	UnitSeconds WaitUnit = "seconds"
	UnitMinutes WaitUnit = "minutes"
)

// Action is one step of a validated plan. The set of implementations is closed.
type Action interface {
	Kind() Kind
	isAction()
}

type MarkRead struct{}

type SimulateTyping struct {
	DurationSeconds float64
}

type Wait struct {
	Value float64
	Unit  WaitUnit
}

type SendMessage struct {
	Text    string
	ReplyTo *MessageRef
	SendAt  *time.Time
}

type EditMessage struct {
	MessageID MessageRef
	NewText   string
}

type Noop struct{}

type EscalateToHuman struct {
	Reason string
}

func (MarkRead) Kind() Kind        { return KindMarkRead }
func (SimulateTyping) Kind() Kind  { return KindSimulateTyping }
func (Wait) Kind() Kind            { return KindWait }
func (SendMessage) Kind() Kind     { return KindSendMessage }
func (EditMessage) Kind() Kind     { return KindEditMessage }
func (Noop) Kind() Kind            { return KindNoop }
func (EscalateToHuman) Kind() Kind { return KindEscalateToHuman }

func (MarkRead) isAction()        {}
func (SimulateTyping) isAction()  {}
func (Wait) isAction()            {}
func (SendMessage) isAction()     {}
func (EditMessage) isAction()     {}
func (Noop) isAction()            {}
func (EscalateToHuman) isAction() {}

// Duration returns the typing time as a time.Duration.
func (a SimulateTyping) Duration() time.Duration {
	return time.Duration(a.DurationSeconds * float64(time.Second))
}

// Duration converts the wait to a time.Duration, capped at seven days.
func (a Wait) Duration() time.Duration {
	seconds := a.Value
	if a.Unit == UnitMinutes {
		seconds *= 60
	}
	if seconds < 0 {
		seconds = 0
	}
	d := time.Duration(seconds * float64(time.Second))
	if d > MaxWaitDuration {
		d = MaxWaitDuration
	}
	return d
}

// MessageRef is a platform message id that the model may emit as a string or a number.
type MessageRef string

// Int returns the numeric form of the reference, if it has one.
func (r MessageRef) Int() (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(string(r)), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (r MessageRef) MarshalJSON() ([]byte, error) {
	if n, ok := r.Int(); ok {
		return json.Marshal(n)
	}
	return json.Marshal(string(r))
}

func (r *MessageRef) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*r = ""
		return nil
	}
	if len(b) == 0 {
		return fmt.Errorf("message ref empty")
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = MessageRef(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	if _, err := n.Int64(); err != nil {
		return fmt.Errorf("message ref must be an integer: %w", err)
	}
	*r = MessageRef(n.String())
	return nil
}

// FirstSendText returns the text of the first send_message in actions.
func FirstSendText(actions []Action) string {
	for _, a := range actions {
		if send, ok := a.(SendMessage); ok && strings.TrimSpace(send.Text) != "" {
			return strings.TrimSpace(send.Text)
		}
	}
	return ""
}

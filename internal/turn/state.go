package turn

import (
	"encoding/json"
	"time"

	"basegraph.app/scambait/internal/contract"
)

type State string

const (
	StateGenerating    State = "GENERATING"
	StateWaiting       State = "WAITING"
	StateSendingTyping State = "SENDING_TYPING"
	StateSent          State = "SENT"
	StateEscalated     State = "ESCALATED"
	StateCancelled     State = "CANCELLED"
	StateError         State = "ERROR"
)

// Terminal reports whether no task will move the state any further on its own.
func (s State) Terminal() bool {
	switch s {
	case StateSent, StateEscalated, StateCancelled, StateError:
		return true
	}
	return false
}

// Pending is the per-conversation turn state. The machine owns the live copy;
// everything handed out is a snapshot.
type Pending struct {
	UpdatedAt          time.Time         `json:"updated_at"`
	WaitUntil          *time.Time        `json:"wait_until,omitempty"`
	SentMessageID      *int64            `json:"sent_message_id,omitempty"`
	CurrentActionIndex *int              `json:"current_action_index,omitempty"`
	CurrentActionUntil *time.Time        `json:"current_action_until,omitempty"`
	Title              string            `json:"title"`
	Suggestion         string            `json:"suggestion"`
	State              State             `json:"state"`
	Trigger            string            `json:"trigger"`
	LastError          string            `json:"last_error,omitempty"`
	Schema             string            `json:"schema,omitempty"`
	EscalationReason   string            `json:"escalation_reason,omitempty"`
	CurrentActionLabel string            `json:"current_action_label,omitempty"`
	Actions            []contract.Action `json:"-"`
	ConversationID     int64             `json:"conversation_id"`
	AttemptID          int64             `json:"attempt_id,omitempty"`
	EscalationNotified bool              `json:"escalation_notified"`
	SendRequested      bool              `json:"send_requested"`
	AutoMode           bool              `json:"auto_mode"`
}

type pendingJSON Pending

// MarshalJSON renders the action queue in its wire form.
func (p Pending) MarshalJSON() ([]byte, error) {
	actions, err := contract.EncodeActions(p.Actions)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		pendingJSON
		Actions json.RawMessage `json:"actions"`
	}{pendingJSON(p), actions})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (p *Pending) UnmarshalJSON(data []byte) error {
	var aux struct {
		pendingJSON
		Actions json.RawMessage `json:"actions"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*p = Pending(aux.pendingJSON)
	if raw := string(aux.Actions); raw != "" && raw != "null" && raw != "[]" {
		actions, err := contract.DecodeActions(aux.Actions)
		if err != nil {
			return err
		}
		p.Actions = actions
	}
	return nil
}

func (p *Pending) clone() Pending {
	c := *p
	c.Actions = append([]contract.Action(nil), p.Actions...)
	c.WaitUntil = clonePtr(p.WaitUntil)
	c.SentMessageID = clonePtr(p.SentMessageID)
	c.CurrentActionIndex = clonePtr(p.CurrentActionIndex)
	c.CurrentActionUntil = clonePtr(p.CurrentActionUntil)
	return c
}

func (p *Pending) clearCursor() {
	p.CurrentActionIndex = nil
	p.CurrentActionLabel = ""
	p.CurrentActionUntil = nil
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

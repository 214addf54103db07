package turn

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"basegraph.app/scambait/internal/contract"
)

// sleep waits for d unless ctx ends or a skip arrives. A skip returns nil.
func sleep(ctx context.Context, d time.Duration, skip <-chan struct{}) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-skip:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runSend executes the plan in order. Actions already performed are never rolled back.
func (m *Machine) runSend(ctx context.Context, id int64, t *task, skip chan struct{}) {
	// drop a skip that arrived before this flow started
	select {
	case <-skip:
	default:
	}

	snap, ok := m.Pending(id)
	if !ok {
		return
	}

	var (
		markedRead bool
		lastSent   *int64
	)
	markRead := func() error {
		if markedRead {
			return nil
		}
		if err := m.messenger.MarkRead(ctx, id); err != nil {
			return fmt.Errorf("mark read: %w", err)
		}
		markedRead = true
		return nil
	}

	for i, action := range snap.Actions {
		if ctx.Err() != nil {
			return
		}
		idx := i
		if !m.mutate(id, t, func(p *Pending) {
			p.CurrentActionIndex = &idx
			p.CurrentActionLabel = string(action.Kind())
			p.CurrentActionUntil = nil
		}) {
			return
		}

		var err error
		switch a := action.(type) {
		case contract.MarkRead:
			err = markRead()

		case contract.SimulateTyping:
			if err = markRead(); err != nil {
				break
			}
			d := a.Duration()
			if err = m.messenger.ShowTyping(ctx, id, d); err != nil {
				err = fmt.Errorf("typing: %w", err)
				break
			}
			err = m.pause(ctx, id, t, d, skip)

		case contract.Wait:
			err = m.pause(ctx, id, t, a.Duration(), skip)

		case contract.SendMessage:
			if err = markRead(); err != nil {
				break
			}
			if a.SendAt != nil {
				if delay := a.SendAt.Sub(m.now()); delay > 0 {
					until := *a.SendAt
					m.mutate(id, t, func(p *Pending) { p.CurrentActionUntil = &until })
					if err = sleep(ctx, delay, nil); err != nil {
						break
					}
				}
			}
			var replyTo *int64
			if a.ReplyTo != nil {
				if n, ok := a.ReplyTo.Int(); ok {
					replyTo = &n
				}
			}
			var messageID int64
			messageID, err = m.messenger.SendText(ctx, id, a.Text, replyTo)
			if err != nil {
				err = fmt.Errorf("send: %w", err)
				break
			}
			lastSent = &messageID
			m.mutate(id, t, func(p *Pending) { p.SentMessageID = &messageID })

		case contract.EditMessage:
			if err = markRead(); err != nil {
				break
			}
			messageID, ok := a.MessageID.Int()
			if !ok {
				slog.WarnContext(ctx, "edit skipped: message id is not numeric", "message_id", string(a.MessageID))
				break
			}
			if editErr := m.messenger.EditText(ctx, id, messageID, a.NewText); editErr != nil {
				slog.WarnContext(ctx, "edit failed", "message_id", messageID, "error", editErr)
			}

		case contract.EscalateToHuman:
			m.escalate(id, t, a.Reason)
			return

		case contract.Noop:
		}

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.WarnContext(ctx, "send flow failed", "action_index", i, "action", action.Kind(), "error", err)
			m.finish(id, t, func(p *Pending) {
				p.State = StateError
				p.LastError = err.Error()
				p.clearCursor()
			})
			return
		}
	}

	m.finish(id, t, func(p *Pending) {
		p.State = StateSent
		if lastSent != nil {
			p.SentMessageID = lastSent
		}
		p.clearCursor()
	})
}

// pause records the wake time and sleeps. A skip ends it early.
func (m *Machine) pause(ctx context.Context, id int64, t *task, d time.Duration, skip <-chan struct{}) error {
	until := m.now().Add(d)
	m.mutate(id, t, func(p *Pending) { p.CurrentActionUntil = &until })
	return sleep(ctx, d, skip)
}

func (m *Machine) escalate(id int64, t *task, reason string) {
	var notify bool
	m.finish(id, t, func(p *Pending) {
		p.State = StateEscalated
		p.EscalationReason = reason
		p.clearCursor()
		notify = !p.EscalationNotified
		p.EscalationNotified = true
	})
	if notify {
		m.publishWarning(id, "escalated to human: "+reason)
	}
}

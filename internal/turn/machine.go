package turn

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"basegraph.app/scambait/common/logger"
	"basegraph.app/scambait/internal/brain"
	"basegraph.app/scambait/internal/contract"
	"basegraph.app/scambait/internal/messaging"
	"basegraph.app/scambait/internal/model"
	"basegraph.app/scambait/internal/store"
)

const (
	TriggerAutoTimeout = "auto-timeout"
	defaultPacing      = 90 * time.Second
)

type Config struct {
	PacingInterval  time.Duration
	AutoModeDefault bool
}

type taskKind string

const (
	taskGenerate taskKind = "generate"
	taskPacing   taskKind = "pacing"
	taskSend     taskKind = "send"
)

// task is one goroutine owned by the registry. done closes when it has fully returned.
type task struct {
	cancel context.CancelFunc
	done   chan struct{}
	kind   taskKind
}

// Machine is the registry of per-conversation turn states. At most one task
// runs per conversation; a task only writes state while it is still the
// registered task for its conversation.
type Machine struct {
	gen       brain.Generator
	stores    store.Provider
	messenger messaging.Client
	bus       *Bus
	cfg       Config
	now       func() time.Time

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
	mu   sync.Mutex
	// pubMu is taken before mu is released so bus events leave in mutation order.
	pubMu  sync.Mutex
	closed bool

	states map[int64]*Pending
	tasks  map[int64]*task
	// draining holds cancelled tasks that may still be running; the next task
	// for the conversation waits for them.
	draining     map[int64][]*task
	skips        map[int64]chan struct{}
	auto         map[int64]bool
	fingerprints map[int64]string
}

func NewMachine(gen brain.Generator, stores store.Provider, messenger messaging.Client, bus *Bus, cfg Config) *Machine {
	if cfg.PacingInterval <= 0 {
		cfg.PacingInterval = defaultPacing
	}
	if bus == nil {
		bus = NewBus()
	}
	base, stop := context.WithCancel(context.Background())
	base = logger.WithLogFields(base, logger.LogFields{Component: "scambait.turn.machine"})
	return &Machine{
		gen:          gen,
		stores:       stores,
		messenger:    messenger,
		bus:          bus,
		cfg:          cfg,
		now:          time.Now,
		base:         base,
		stop:         stop,
		states:       make(map[int64]*Pending),
		tasks:        make(map[int64]*task),
		draining:     make(map[int64][]*task),
		skips:        make(map[int64]chan struct{}),
		auto:         make(map[int64]bool),
		fingerprints: make(map[int64]string),
	}
}

func (m *Machine) Bus() *Bus { return m.bus }

func (m *Machine) logCtx(id int64) context.Context {
	return logger.WithLogFields(m.base, logger.LogFields{ConversationID: logger.Ptr(id)})
}

// startTaskLocked registers a new task for id and runs fn in its own goroutine.
// The previous task and any dropped ones still draining are cancelled and
// awaited before fn starts. Caller holds m.mu.
func (m *Machine) startTaskLocked(id int64, kind taskKind, fn func(ctx context.Context, t *task)) {
	prev := m.draining[id]
	delete(m.draining, id)
	if old := m.tasks[id]; old != nil {
		old.cancel()
		prev = append(prev, old)
	}

	ctx, cancel := context.WithCancel(m.logCtx(id))
	t := &task{cancel: cancel, done: make(chan struct{}), kind: kind}
	m.tasks[id] = t

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(t.done)
		defer cancel()

		for _, old := range prev {
			<-old.done
		}
		if ctx.Err() == nil {
			fn(ctx, t)
		}

		m.mu.Lock()
		if m.tasks[id] == t {
			delete(m.tasks, id)
		}
		m.forgetDrainedLocked(id, t)
		m.mu.Unlock()
	}()
}

// dropTaskLocked unregisters and cancels the task for id. It keeps draining
// until it returns, so whatever starts next for id still waits for it.
func (m *Machine) dropTaskLocked(id int64) *task {
	t := m.tasks[id]
	if t != nil {
		delete(m.tasks, id)
		t.cancel()
		m.draining[id] = append(m.draining[id], t)
	}
	return t
}

func (m *Machine) forgetDrainedLocked(id int64, t *task) {
	list := m.draining[id]
	for i, d := range list {
		if d == t {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(m.draining, id)
	} else {
		m.draining[id] = list
	}
}

// mutate applies fn to the state of id and publishes the result. With a non-nil
// owner the write only happens while owner is still the registered task.
func (m *Machine) mutate(id int64, owner *task, fn func(p *Pending)) bool {
	m.mu.Lock()
	if owner != nil && m.tasks[id] != owner {
		m.mu.Unlock()
		return false
	}
	p := m.states[id]
	if p == nil {
		m.mu.Unlock()
		return false
	}
	fn(p)
	p.UpdatedAt = m.now()
	m.unlockAndPublish(m.stateEvent(p.clone()))
	return true
}

// finish is mutate for the last write of a task: the task is unregistered in
// the same critical section so no later caller sees it as active.
func (m *Machine) finish(id int64, owner *task, fn func(p *Pending)) bool {
	return m.mutate(id, owner, func(p *Pending) {
		fn(p)
		if owner != nil {
			delete(m.tasks, id)
		}
	})
}

// unlockAndPublish releases m.mu and delivers events. pubMu is acquired
// first, so a later mutation cannot overtake these events on the bus.
// Caller holds m.mu.
func (m *Machine) unlockAndPublish(events ...Event) {
	m.pubMu.Lock()
	m.mu.Unlock()
	defer m.pubMu.Unlock()
	for _, e := range events {
		m.bus.Publish(m.logCtx(e.ConversationID), e)
	}
}

func (m *Machine) stateEvent(snap Pending) Event {
	return Event{
		Kind:           EventStateChanged,
		ConversationID: snap.ConversationID,
		State:          &snap,
		At:             m.now(),
	}
}

func (m *Machine) warningEvent(id int64, warning string) Event {
	return Event{
		Kind:           EventWarningRaised,
		ConversationID: id,
		Warning:        warning,
		At:             m.now(),
	}
}

func (m *Machine) publishWarning(id int64, warning string) {
	m.pubMu.Lock()
	defer m.pubMu.Unlock()
	m.bus.Publish(m.logCtx(id), m.warningEvent(id, warning))
}

// ScheduleGeneration starts a generation unless one is already active or a
// plan is waiting or being sent.
func (m *Machine) ScheduleGeneration(id int64, trigger string) bool {
	m.mu.Lock()
	if m.closed || m.tasks[id] != nil {
		m.mu.Unlock()
		return false
	}
	if p := m.states[id]; p != nil && (p.State == StateWaiting || p.State == StateSendingTyping) {
		m.mu.Unlock()
		return false
	}

	p := &Pending{
		ConversationID: id,
		State:          StateGenerating,
		Trigger:        trigger,
		AutoMode:       m.autoModeLocked(id),
		UpdatedAt:      m.now(),
	}
	m.states[id] = p
	m.startTaskLocked(id, taskGenerate, func(ctx context.Context, t *task) {
		m.runGeneration(ctx, id, trigger, t)
	})
	m.unlockAndPublish(m.stateEvent(p.clone()))
	return true
}

func (m *Machine) runGeneration(ctx context.Context, id int64, trigger string, t *task) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Trigger: logger.Ptr(trigger)})

	result, err := m.gen.Generate(ctx, brain.Request{ConversationID: id, Trigger: trigger})
	if ctx.Err() != nil {
		return
	}
	if err == nil {
		err = m.persistTurn(ctx, id, trigger, result)
	}
	if err != nil {
		slog.WarnContext(ctx, "generation failed", "error", err)
		m.finish(id, t, func(p *Pending) {
			p.State = StateError
			p.LastError = err.Error()
		})
		return
	}

	m.registerPlan(id, result, trigger, t)
}

// persistTurn saves the turn and retires once-directives the model reported applying.
func (m *Machine) persistTurn(ctx context.Context, id int64, trigger string, result *brain.Result) error {
	actions, err := contract.EncodeActions(result.Actions)
	if err != nil {
		return err
	}
	metadata := map[string]any{
		"trigger":    trigger,
		"schema":     result.Schema,
		"attempt_id": result.AttemptID,
	}
	if result.Conflict != nil {
		metadata["conflict"] = result.Conflict
	}

	return m.stores.WithTx(ctx, func(tx store.Provider) error {
		if _, err := tx.Turns().Save(ctx, &model.Turn{
			ConversationID: id,
			Title:          result.Title,
			Suggestion:     result.Suggestion,
			Analysis:       result.Analysis,
			Actions:        actions,
			Metadata:       metadata,
		}); err != nil {
			return fmt.Errorf("saving turn: %w", err)
		}
		return consumeOnceDirectives(ctx, tx.Directives(), id, result.Analysis)
	})
}

func consumeOnceDirectives(ctx context.Context, directives store.DirectiveStore, id int64, analysis map[string]any) error {
	applied := appliedDirectiveIDs(analysis)
	if len(applied) == 0 {
		return nil
	}
	active, err := directives.ListActive(ctx, id)
	if err != nil {
		return fmt.Errorf("listing directives: %w", err)
	}
	var ids []int64
	for _, d := range active {
		if d.Scope == model.DirectiveScopeOnce && applied[d.ID] {
			ids = append(ids, d.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	if _, err := directives.Deactivate(ctx, id, ids); err != nil {
		return fmt.Errorf("deactivating directives: %w", err)
	}
	return nil
}

// appliedDirectiveIDs reads analysis.operator_applied, accepting numbers and numeric strings.
func appliedDirectiveIDs(analysis map[string]any) map[int64]bool {
	list, ok := analysis["operator_applied"].([]any)
	if !ok {
		return nil
	}
	ids := make(map[int64]bool, len(list))
	for _, v := range list {
		switch v := v.(type) {
		case float64:
			ids[int64(v)] = true
		case int64:
			ids[v] = true
		case int:
			ids[int64(v)] = true
		case json.Number:
			if n, err := v.Int64(); err == nil {
				ids[n] = true
			}
		case string:
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				ids[n] = true
			}
		}
	}
	return ids
}

// RegisterPlan installs result as the conversation's plan, replacing any
// waiting or in-flight one.
func (m *Machine) RegisterPlan(id int64, result *brain.Result, trigger string) {
	m.registerPlan(id, result, trigger, nil)
}

func (m *Machine) registerPlan(id int64, result *brain.Result, trigger string, owner *task) bool {
	m.mu.Lock()
	if m.closed || (owner != nil && m.tasks[id] != owner) {
		m.mu.Unlock()
		return false
	}

	var warning string
	prev := m.states[id]
	if prev != nil && owner == nil && (prev.State == StateWaiting || prev.State == StateSendingTyping) && !samePlan(prev.Actions, result.Actions) {
		warning = fmt.Sprintf("plan replaced while %s", prev.State)
	}
	sendRequested := prev != nil && prev.SendRequested

	if owner == nil {
		m.dropTaskLocked(id)
	}

	p := &Pending{
		ConversationID: id,
		Title:          result.Title,
		Suggestion:     result.Suggestion,
		Actions:        append([]contract.Action(nil), result.Actions...),
		Schema:         result.Schema,
		AttemptID:      result.AttemptID,
		Trigger:        trigger,
		State:          StateWaiting,
		AutoMode:       m.autoModeLocked(id),
		UpdatedAt:      m.now(),
	}
	m.states[id] = p

	switch {
	case sendRequested:
		p.State = StateSendingTyping
		m.startSendLocked(id)
	case p.AutoMode:
		until := m.now().Add(m.cfg.PacingInterval)
		p.WaitUntil = &until
		m.startPacingLocked(id, until)
	default:
		if owner != nil {
			m.dropTaskLocked(id)
		}
	}
	var events []Event
	if warning != "" {
		events = append(events, m.warningEvent(id, warning))
	}
	m.unlockAndPublish(append(events, m.stateEvent(p.clone()))...)
	return true
}

func samePlan(a, b []contract.Action) bool {
	ea, errA := contract.EncodeActions(a)
	eb, errB := contract.EncodeActions(b)
	return errA == nil && errB == nil && string(ea) == string(eb)
}

func (m *Machine) startPacingLocked(id int64, until time.Time) {
	m.startTaskLocked(id, taskPacing, func(ctx context.Context, t *task) {
		if err := sleep(ctx, until.Sub(m.now()), nil); err != nil {
			return
		}
		m.triggerSend(id, TriggerAutoTimeout, t)
	})
}

func (m *Machine) startSendLocked(id int64) {
	skip := make(chan struct{}, 1)
	m.skips[id] = skip
	m.startTaskLocked(id, taskSend, func(ctx context.Context, t *task) {
		m.runSend(ctx, id, t, skip)
	})
}

// TriggerSend starts executing the plan now. During generation it only
// records the request; the plan is sent as soon as it is registered.
func (m *Machine) TriggerSend(id int64, trigger string) bool {
	return m.triggerSend(id, trigger, nil)
}

func (m *Machine) triggerSend(id int64, trigger string, owner *task) bool {
	m.mu.Lock()
	if m.closed || (owner != nil && m.tasks[id] != owner) {
		m.mu.Unlock()
		return false
	}
	p := m.states[id]
	if p == nil {
		m.mu.Unlock()
		return false
	}

	switch p.State {
	case StateGenerating:
		p.SendRequested = true
	case StateWaiting, StateError:
		if len(p.Actions) == 0 {
			m.mu.Unlock()
			return false
		}
		p.State = StateSendingTyping
		p.Trigger = trigger
		p.WaitUntil = nil
		p.LastError = ""
		p.SendRequested = false
		m.startSendLocked(id)
	default:
		m.mu.Unlock()
		return false
	}
	p.UpdatedAt = m.now()
	m.unlockAndPublish(m.stateEvent(p.clone()))
	return true
}

// AbortSend stops whatever is running for id. With nothing running it
// deletes the last sent message once. The returned text explains what happened.
func (m *Machine) AbortSend(id int64) (string, bool) {
	m.mu.Lock()
	p := m.states[id]
	t := m.tasks[id]

	if t != nil {
		// CANCELLED is written in the same critical section that drops the
		// task, so nothing scheduled meanwhile can be stamped by this abort.
		m.dropTaskLocked(id)
		prev := StateCancelled
		var events []Event
		if p != nil {
			prev = p.State
			p.State = StateCancelled
			p.LastError = abortExplanation(prev)
			p.WaitUntil = nil
			p.SendRequested = false
			p.clearCursor()
			p.UpdatedAt = m.now()
			events = append(events, m.stateEvent(p.clone()))
		}
		m.unlockAndPublish(events...)

		<-t.done
		return abortExplanation(prev), true
	}

	if p == nil || p.SentMessageID == nil {
		m.mu.Unlock()
		return "", false
	}
	messageID := *p.SentMessageID
	p.SentMessageID = nil
	m.mu.Unlock()

	ctx := m.logCtx(id)
	explanation := "sent message deleted"
	if err := m.messenger.DeleteMessage(ctx, id, messageID); err != nil {
		slog.WarnContext(ctx, "failed to delete sent message", "message_id", messageID, "error", err)
		explanation = "sent message could not be deleted"
	}
	m.mutate(id, nil, func(p *Pending) {
		p.State = StateCancelled
		p.LastError = explanation
	})
	return explanation, true
}

func abortExplanation(s State) string {
	switch s {
	case StateGenerating:
		return "generation aborted"
	case StateWaiting:
		return "pacing ended without sending"
	case StateSendingTyping:
		return "send aborted during typing"
	default:
		return "aborted"
	}
}

// RequestSkip cuts the current typing or wait action short.
func (m *Machine) RequestSkip(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.states[id]
	if p == nil || p.State != StateSendingTyping {
		return false
	}
	if p.CurrentActionLabel != string(contract.KindWait) && p.CurrentActionLabel != string(contract.KindSimulateTyping) {
		return false
	}
	skip := m.skips[id]
	if skip == nil {
		return false
	}
	select {
	case skip <- struct{}{}:
	default:
	}
	return true
}

// SetAutoMode switches pacing for id. A waiting plan gets a deadline when
// turned on and loses it when turned off.
func (m *Machine) SetAutoMode(id int64, on bool) {
	m.mu.Lock()
	m.auto[id] = on
	if m.closed {
		m.mu.Unlock()
		return
	}

	p := m.states[id]
	if p == nil {
		m.mu.Unlock()
		return
	}
	p.AutoMode = on
	if p.State == StateWaiting {
		switch {
		case on && p.WaitUntil == nil:
			until := m.now().Add(m.cfg.PacingInterval)
			p.WaitUntil = &until
			m.startPacingLocked(id, until)
		case !on && p.WaitUntil != nil:
			p.WaitUntil = nil
			m.dropTaskLocked(id)
		}
	}
	p.UpdatedAt = m.now()
	m.unlockAndPublish(m.stateEvent(p.clone()))
}

func (m *Machine) AutoMode(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.autoModeLocked(id)
}

func (m *Machine) autoModeLocked(id int64) bool {
	if on, ok := m.auto[id]; ok {
		return on
	}
	return m.cfg.AutoModeDefault
}

// Pending returns a snapshot of the state for id.
func (m *Machine) Pending(id int64) (Pending, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.states[id]
	if p == nil {
		return Pending{}, false
	}
	return p.clone(), true
}

// PendingAll returns snapshots of every known conversation ordered by id.
func (m *Machine) PendingAll() []Pending {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]Pending, 0, len(m.states))
	for _, p := range m.states {
		result = append(result, p.clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ConversationID < result[j].ConversationID })
	return result
}

// Active reports whether a task is running for id.
func (m *Machine) Active(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tasks[id] != nil
}

// Close cancels every task and waits for all of them to return.
func (m *Machine) Close() {
	m.mu.Lock()
	m.closed = true
	for id := range m.tasks {
		m.dropTaskLocked(id)
	}
	m.mu.Unlock()

	m.stop()
	m.wg.Wait()
}

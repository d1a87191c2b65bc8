// Package turn tracks the single active conversation turn. Starting a turn
// cancels the previous one so that late results of superseded turns can be
// recognised and dropped.
package turn

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Phase string

const (
	PhaseASR          Phase = "asr"
	PhaseChatting     Phase = "chatting"
	PhaseSynthesizing Phase = "synthesizing"
	PhaseDone         Phase = "done"
	PhaseCancelled    Phase = "cancelled"
)

func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseCancelled
}

var (
	// ErrSuperseded is the context cause of a turn replaced by Begin.
	ErrSuperseded = errors.New("turn superseded")
	// ErrAborted is the context cause of a turn stopped by CancelCurrent.
	ErrAborted = errors.New("turn aborted")
	// ErrEnded is the context cause of a turn that finished normally.
	ErrEnded = errors.New("turn ended")
)

// IsCancellation reports whether err means the turn was superseded or aborted.
// Such outcomes are expected and should be discarded rather than reported.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrSuperseded) ||
		errors.Is(err, ErrAborted) ||
		errors.Is(err, context.Canceled)
}

// Token identifies one turn. Its context is cancelled when the turn is
// superseded, aborted or ended.
type Token struct {
	ID        string
	Seq       int64
	StartedAt time.Time

	ctx    context.Context
	cancel context.CancelCauseFunc
	m      *Manager

	mu    sync.Mutex
	phase Phase
}

func (t *Token) Context() context.Context { return t.ctx }

func (t *Token) Phase() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase
}

// Cause returns why the turn's context ended, or nil while it is live.
func (t *Token) Cause() error {
	if t.ctx.Err() == nil {
		return nil
	}
	return context.Cause(t.ctx)
}

// SetPhase moves a live turn to phase. Terminal turns keep their phase.
func (t *Token) SetPhase(phase Phase) bool {
	if phase.Terminal() {
		return false
	}
	t.mu.Lock()
	if t.phase.Terminal() {
		t.mu.Unlock()
		return false
	}
	t.phase = phase
	t.mu.Unlock()
	t.m.notify(t, phase)
	return true
}

func (t *Token) finish(phase Phase, cause error) bool {
	t.mu.Lock()
	if t.phase.Terminal() {
		t.mu.Unlock()
		return false
	}
	t.phase = phase
	t.mu.Unlock()
	t.cancel(cause)
	return true
}

// HookFunc observes phase transitions. It must not call back into the Manager.
type HookFunc func(t *Token, phase Phase)

// Manager owns the current turn token. At most one token is current.
type Manager struct {
	parent context.Context

	mu      sync.Mutex
	current *Token
	seq     int64
	hook    HookFunc
}

func NewManager(parent context.Context) *Manager {
	if parent == nil {
		parent = context.Background()
	}
	return &Manager{parent: parent}
}

func (m *Manager) SetHook(fn HookFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = fn
}

// Begin cancels the current turn, if any, and issues a new current token.
func (m *Manager) Begin() *Token {
	ctx, cancel := context.WithCancelCause(m.parent)

	m.mu.Lock()
	prev := m.current
	m.seq++
	tok := &Token{
		ID:        uuid.NewString(),
		Seq:       m.seq,
		StartedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		m:         m,
		phase:     PhaseASR,
	}
	m.current = tok
	m.mu.Unlock()

	if prev != nil && prev.finish(PhaseCancelled, ErrSuperseded) {
		m.notify(prev, PhaseCancelled)
	}
	m.notify(tok, PhaseASR)
	return tok
}

// CancelCurrent cancels the current turn without starting another one.
// It returns the cancelled token or nil when no turn was active.
func (m *Manager) CancelCurrent() *Token {
	m.mu.Lock()
	tok := m.current
	m.current = nil
	m.mu.Unlock()

	if tok != nil && tok.finish(PhaseCancelled, ErrAborted) {
		m.notify(tok, PhaseCancelled)
		return tok
	}
	return nil
}

// Cancel aborts t whether or not it is still current. It reports whether t
// was live.
func (m *Manager) Cancel(t *Token) bool {
	if t == nil {
		return false
	}
	m.mu.Lock()
	if m.current == t {
		m.current = nil
	}
	m.mu.Unlock()

	if t.finish(PhaseCancelled, ErrAborted) {
		m.notify(t, PhaseCancelled)
		return true
	}
	return false
}

// End completes t normally. It is a no-op for tokens already superseded.
func (m *Manager) End(t *Token) {
	if t == nil {
		return
	}
	m.mu.Lock()
	if m.current == t {
		m.current = nil
	}
	m.mu.Unlock()

	if t.finish(PhaseDone, ErrEnded) {
		m.notify(t, PhaseDone)
	}
}

func (m *Manager) Current() *Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *Manager) IsCurrent(t *Token) bool {
	if t == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current == t
}

// Do runs fn while holding the manager lock, but only if t is still current.
// A concurrent Begin cannot interleave with fn, so results applied inside fn
// never leak from a superseded turn.
func (m *Manager) Do(t *Token, fn func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t == nil || m.current != t {
		return false
	}
	fn()
	return true
}

func (m *Manager) notify(t *Token, phase Phase) {
	m.mu.Lock()
	hook := m.hook
	m.mu.Unlock()
	if hook != nil {
		hook(t, phase)
	}
}

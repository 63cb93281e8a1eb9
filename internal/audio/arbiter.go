package audio

import (
	"fmt"
	"sync"
	"time"
)

// Kind identifies which feature holds the audio device.
type Kind int

const (
	KindNone Kind = iota
	// KindMetering is a level readout with nothing else on the stream. The
	// mic test and answer capture meter inside their KindRecording session,
	// so only a standalone level check acquires it.
	KindMetering
	KindRecording
	KindPlayback
	KindSynthesis
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindMetering:
		return "metering"
	case KindRecording:
		return "recording"
	case KindPlayback:
		return "playback"
	case KindSynthesis:
		return "synthesis"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Session is a snapshot of the session that currently owns the device.
type Session struct {
	Kind      Kind      `json:"kind"`
	ID        uint64    `json:"id"`
	StartedAt time.Time `json:"started_at"`
}

// Observer receives session lifecycle notifications.
type Observer interface {
	SessionStarted(kind string)
	SessionEnded(kind string, held time.Duration)
}

type heldSession struct {
	id        uint64
	kind      Kind
	startedAt time.Time
	handles   []func()
}

// Arbiter grants exclusive ownership of the audio device. Transitions are
// serialized: a new session is installed only after every release handle of
// the previous one has returned. Release handles must not call back into the
// arbiter.
type Arbiter struct {
	transition sync.Mutex

	mu       sync.Mutex
	current  *heldSession
	nextID   uint64
	onChange func(Session)
	observer Observer
	now      func() time.Time
}

func NewArbiter() *Arbiter {
	return &Arbiter{now: time.Now}
}

func (a *Arbiter) OnChange(callback func(Session)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onChange = callback
}

func (a *Arbiter) SetObserver(o Observer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.observer = o
}

// Acquire releases whatever is active and starts a session of the given kind.
func (a *Arbiter) Acquire(kind Kind) (*Lease, error) {
	if kind <= KindNone || kind > KindSynthesis {
		return nil, fmt.Errorf("acquire %s: %w", kind, ErrInvalidKind)
	}

	a.transition.Lock()
	defer a.transition.Unlock()

	a.releaseLocked(0)

	a.mu.Lock()
	a.nextID++
	held := &heldSession{id: a.nextID, kind: kind, startedAt: a.now()}
	a.current = held
	callback := a.onChange
	observer := a.observer
	a.mu.Unlock()

	if observer != nil {
		observer.SessionStarted(kind.String())
	}
	if callback != nil {
		callback(Session{Kind: kind, ID: held.id, StartedAt: held.startedAt})
	}

	return &Lease{arbiter: a, id: held.id, kind: kind}, nil
}

// StopAll releases the active session, if any.
func (a *Arbiter) StopAll() {
	a.transition.Lock()
	defer a.transition.Unlock()
	a.releaseLocked(0)
}

// ReleaseKind releases the active session only when it is of the given kind.
func (a *Arbiter) ReleaseKind(kind Kind) bool {
	a.transition.Lock()
	defer a.transition.Unlock()

	a.mu.Lock()
	current := a.current
	a.mu.Unlock()
	if current == nil || current.kind != kind {
		return false
	}
	return a.releaseLocked(current.id)
}

func (a *Arbiter) Current() Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return Session{Kind: KindNone}
	}
	return Session{Kind: a.current.kind, ID: a.current.id, StartedAt: a.current.startedAt}
}

// releaseLocked must be called with the transition lock held. id 0 releases
// whatever is current.
func (a *Arbiter) releaseLocked(id uint64) bool {
	a.mu.Lock()
	held := a.current
	if held == nil || (id != 0 && held.id != id) {
		a.mu.Unlock()
		return false
	}
	a.current = nil
	handles := held.handles
	held.handles = nil
	callback := a.onChange
	observer := a.observer
	now := a.now()
	a.mu.Unlock()

	for i := len(handles) - 1; i >= 0; i-- {
		handles[i]()
	}

	if observer != nil {
		observer.SessionEnded(held.kind.String(), now.Sub(held.startedAt))
	}
	if callback != nil {
		callback(Session{Kind: KindNone})
	}
	return true
}

func (a *Arbiter) hold(id uint64, release func()) bool {
	a.mu.Lock()
	if a.current == nil || a.current.id != id {
		a.mu.Unlock()
		release()
		return false
	}
	a.current.handles = append(a.current.handles, release)
	a.mu.Unlock()
	return true
}

func (a *Arbiter) active(id uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current != nil && a.current.id == id
}

// Lease is one acquired session. It goes stale once superseded or released.
type Lease struct {
	arbiter *Arbiter
	id      uint64
	kind    Kind
}

func (l *Lease) Kind() Kind { return l.kind }

func (l *Lease) Active() bool { return l.arbiter.active(l.id) }

// Hold attaches a release handle. Handles run in reverse order on release. If
// the lease is already stale the handle runs immediately and Hold returns false.
func (l *Lease) Hold(release func()) bool {
	return l.arbiter.hold(l.id, release)
}

// Release stops this session if it is still the active one.
func (l *Lease) Release() {
	l.arbiter.transition.Lock()
	defer l.arbiter.transition.Unlock()
	l.arbiter.releaseLocked(l.id)
}

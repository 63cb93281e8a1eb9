package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/sjawhar/rehearsal/internal/media"
)

// Handle is an opaque playback reference to a stored clip.
type Handle string

// Slot identifies where a clip lives: the single device-test slot, or one
// slot per question index.
type Slot struct {
	Test  bool
	Index int
}

func TestSlot() Slot { return Slot{Test: true} }

func AnswerSlot(index int) Slot { return Slot{Index: index} }

func (s Slot) String() string {
	if s.Test {
		return "test"
	}
	return fmt.Sprintf("answer-%d", s.Index)
}

// ClipStore holds at most one clip per slot. Replacing or clearing a slot
// revokes its previous handle.
type ClipStore struct {
	mu        sync.Mutex
	slots     map[Slot]Handle
	clips     map[Handle]Clip
	newHandle func() string
}

func NewClipStore() *ClipStore {
	return &ClipStore{
		slots:     make(map[Slot]Handle),
		clips:     make(map[Handle]Clip),
		newHandle: uuid.NewString,
	}
}

func (s *ClipStore) Put(slot Slot, clip Clip) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.slots[slot]; ok {
		delete(s.clips, old)
	}
	h := Handle(s.newHandle())
	s.slots[slot] = h
	s.clips[h] = clip
	return h
}

func (s *ClipStore) Get(slot Slot) (Clip, Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.slots[slot]
	if !ok {
		return Clip{}, "", false
	}
	return s.clips[h], h, true
}

func (s *ClipStore) Resolve(h Handle) (Clip, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clip, ok := s.clips[h]
	return clip, ok
}

func (s *ClipStore) Clear(slot Slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.slots[slot]; ok {
		delete(s.clips, h)
		delete(s.slots, slot)
	}
}

// ResetAnswers revokes every answer slot and keeps the device-test clip.
func (s *ClipStore) ResetAnswers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for slot, h := range s.slots {
		if slot.Test {
			continue
		}
		delete(s.clips, h)
		delete(s.slots, slot)
	}
}

func (s *ClipStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.slots)
	clear(s.clips)
}

func (s *ClipStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clips)
}

// ClipPlayer plays stored clips under a Playback session.
type ClipPlayer struct {
	arbiter *Arbiter
	player  media.Player
	codec   media.Codec
	store   *ClipStore
}

func NewClipPlayer(arbiter *Arbiter, player media.Player, codec media.Codec, store *ClipStore) *ClipPlayer {
	return &ClipPlayer{arbiter: arbiter, player: player, codec: codec, store: store}
}

// Play starts playback of the clip in slot. onDone runs once playback ends,
// with a nil error when it finished or was stopped.
func (p *ClipPlayer) Play(ctx context.Context, slot Slot, volume float64, onDone func(error)) error {
	clip, _, ok := p.store.Get(slot)
	if !ok {
		return fmt.Errorf("play %s: %w", slot, ErrNoClip)
	}
	if p.player == nil {
		return fmt.Errorf("play %s: %w", slot, media.ErrUnsupported)
	}

	lease, err := p.arbiter.Acquire(KindPlayback)
	if err != nil {
		return err
	}

	pcm, rate, err := p.codec.Decode(clip.Bytes, clip.MIMEType)
	if err != nil {
		lease.Release()
		return fmt.Errorf("decode clip %s: %w", clip.ID, err)
	}

	pb, err := p.player.Play(context.WithoutCancel(ctx), pcm, rate, volume)
	if err != nil {
		lease.Release()
		return fmt.Errorf("start playback: %w", err)
	}
	if !lease.Hold(pb.Stop) {
		return fmt.Errorf("play %s: %w", slot, ErrLeaseReleased)
	}

	go func() {
		<-pb.Done()
		lease.Release()
		if err := pb.Err(); err != nil {
			slog.Warn("clip playback failed", "slot", slot.String(), "error", err)
		}
		if onDone != nil {
			onDone(pb.Err())
		}
	}()
	return nil
}

func (p *ClipPlayer) Stop() {
	p.arbiter.ReleaseKind(KindPlayback)
}

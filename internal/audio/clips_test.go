package audio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sjawhar/rehearsal/internal/media"
)

func TestClipStoreReplacingRevokesPreviousHandle(t *testing.T) {
	store := NewClipStore()

	first := store.Put(TestSlot(), Clip{ID: "a"})
	second := store.Put(TestSlot(), Clip{ID: "b"})

	if first == second {
		t.Fatalf("expected a fresh handle for the new clip")
	}
	if _, ok := store.Resolve(first); ok {
		t.Fatalf("expected first handle to be revoked")
	}
	clip, ok := store.Resolve(second)
	if !ok || clip.ID != "b" {
		t.Fatalf("expected second clip, got %+v ok=%v", clip, ok)
	}
	if store.Len() != 1 {
		t.Fatalf("expected one live clip, got %d", store.Len())
	}
}

func TestClipStoreSlotsAreIndependent(t *testing.T) {
	store := NewClipStore()
	test := store.Put(TestSlot(), Clip{ID: "t"})
	a0 := store.Put(AnswerSlot(0), Clip{ID: "0"})
	a1 := store.Put(AnswerSlot(1), Clip{ID: "1"})

	store.ResetAnswers()
	if _, ok := store.Resolve(a0); ok {
		t.Fatalf("expected answer 0 revoked")
	}
	if _, ok := store.Resolve(a1); ok {
		t.Fatalf("expected answer 1 revoked")
	}
	if _, ok := store.Resolve(test); !ok {
		t.Fatalf("expected test clip to survive answer reset")
	}

	store.Reset()
	if store.Len() != 0 {
		t.Fatalf("expected empty store, got %d", store.Len())
	}
}

func TestClipPlayerAcquiresPlayback(t *testing.T) {
	arbiter := NewArbiter()
	store := NewClipStore()
	player := &fakePlayer{}
	cp := NewClipPlayer(arbiter, player, &fakeCodec{}, store)

	if err := cp.Play(context.Background(), TestSlot(), 1, nil); !errors.Is(err, ErrNoClip) {
		t.Fatalf("expected ErrNoClip, got %v", err)
	}

	store.Put(TestSlot(), Clip{ID: "t", Bytes: []byte("pcm"), MIMEType: media.MIMEWav})

	narration, _ := arbiter.Acquire(KindSynthesis)
	narrationStopped := false
	narration.Hold(func() { narrationStopped = true })

	done := make(chan error, 1)
	if err := cp.Play(context.Background(), TestSlot(), 1, func(err error) { done <- err }); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	if !narrationStopped {
		t.Fatalf("expected narration stopped before playback")
	}
	if arbiter.Current().Kind != KindPlayback {
		t.Fatalf("expected playback session, got %v", arbiter.Current().Kind)
	}

	player.plays[0].finish()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected playback error %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected onDone after playback finished")
	}

	deadline := time.Now().Add(time.Second)
	for arbiter.Current().Kind != KindNone && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if arbiter.Current().Kind != KindNone {
		t.Fatalf("expected session released after natural completion")
	}
}

func TestClipPlayerStop(t *testing.T) {
	arbiter := NewArbiter()
	store := NewClipStore()
	player := &fakePlayer{}
	cp := NewClipPlayer(arbiter, player, &fakeCodec{}, store)
	store.Put(AnswerSlot(2), Clip{ID: "x", Bytes: []byte("pcm"), MIMEType: media.MIMEWav})

	if err := cp.Play(context.Background(), AnswerSlot(2), 0.5, nil); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	cp.Stop()

	select {
	case <-player.plays[0].Done():
	default:
		t.Fatalf("expected playback stopped")
	}
	if arbiter.Current().Kind != KindNone {
		t.Fatalf("expected no active session, got %v", arbiter.Current().Kind)
	}
}

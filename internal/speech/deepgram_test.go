package speech

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"

	"github.com/sjawhar/rehearsal/internal/media"
)

type fakeConn struct {
	mu        sync.Mutex
	connectOK bool
	written   [][]byte
	stopped   int
	// onStop runs inside Stop, like the server flushing before it closes.
	onStop func()
}

func (c *fakeConn) Connect() bool { return c.connectOK }

func (c *fakeConn) Stop() {
	c.mu.Lock()
	c.stopped++
	onStop := c.onStop
	c.mu.Unlock()
	if onStop != nil {
		onStop()
	}
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	c.written = append(c.written, p)
	c.mu.Unlock()
	return len(p), nil
}

func (c *fakeConn) writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.written)
}

func newTestDeepgram(conn *fakeConn) (*DeepgramRecognizer, *api.LiveMessageCallback, *interfaces.LiveTranscriptionOptions) {
	var cb api.LiveMessageCallback
	var opts interfaces.LiveTranscriptionOptions
	r := NewDeepgramRecognizer("key", "")
	r.dial = func(_ context.Context, o *interfaces.LiveTranscriptionOptions, c api.LiveMessageCallback) (liveConn, error) {
		cb = c
		opts = *o
		return conn, nil
	}
	return r, &cb, &opts
}

func message(text string, final bool) *api.MessageResponse {
	mr := &api.MessageResponse{IsFinal: final}
	mr.Channel.Alternatives = []api.Alternative{{Transcript: text}}
	return mr
}

func TestDeepgramRecognitionIndexesFinals(t *testing.T) {
	conn := &fakeConn{connectOK: true}
	r, cb, opts := newTestDeepgram(conn)
	src := newFakeSource(16000)

	rec, err := r.NewRecognition(DefaultRecognitionConfig(), src)
	if err != nil {
		t.Fatalf("NewRecognition failed: %v", err)
	}
	var batches []ResultBatch
	rec.OnResult(func(b ResultBatch) { batches = append(batches, b) })

	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if opts.Language != "zh-CN" || opts.Model != DefaultDeepgramModel || !opts.InterimResults || opts.SampleRate != 16000 {
		t.Fatalf("unexpected options %+v", *opts)
	}

	callback := *cb
	_ = callback.Message(message("你好", false))
	_ = callback.Message(message("你好吗", true))
	_ = callback.Message(message("", true))
	_ = callback.Message(message("我很好", true))

	want := []ResultBatch{
		{StartIndex: 0, Results: []Result{{Text: "你好"}}},
		{StartIndex: 0, Results: []Result{{Text: "你好吗", Final: true}}},
		{StartIndex: 1},
		{StartIndex: 1, Results: []Result{{Text: "我很好", Final: true}}},
	}
	if len(batches) != len(want) {
		t.Fatalf("got %d batches, want %d", len(batches), len(want))
	}
	for i := range want {
		if batches[i].StartIndex != want[i].StartIndex || len(batches[i].Results) != len(want[i].Results) {
			t.Fatalf("batch %d: got %+v, want %+v", i, batches[i], want[i])
		}
	}

	src.ch <- []byte{1, 2}
	deadline := time.Now().Add(time.Second)
	for conn.writes() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if conn.writes() != 1 {
		t.Fatalf("expected audio forwarded to deepgram")
	}
	rec.Stop()
}

func TestDeepgramRecognitionEndsOnce(t *testing.T) {
	conn := &fakeConn{connectOK: true}
	r, cb, _ := newTestDeepgram(conn)
	rec, _ := r.NewRecognition(DefaultRecognitionConfig(), newFakeSource(16000))

	ends := make(chan struct{}, 4)
	rec.OnEnd(func(struct{}) { ends <- struct{}{} })
	var errs []RecognitionError
	rec.OnError(func(e RecognitionError) { errs = append(errs, e) })

	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	callback := *cb
	_ = callback.Error(&api.ErrorResponse{ErrCode: "NET-0001", Description: "timeout"})
	_ = callback.Close(&api.CloseResponse{})

	select {
	case <-ends:
	case <-time.After(time.Second):
		t.Fatal("expected end after server close")
	}

	rec.Stop()
	_ = callback.Close(&api.CloseResponse{})
	_ = callback.Message(message("迟到", true))
	time.Sleep(10 * time.Millisecond)

	if len(ends) != 0 {
		t.Fatalf("expected exactly one end")
	}
	if len(errs) != 1 || errs[0].Code != "NET-0001" {
		t.Fatalf("unexpected errors %+v", errs)
	}
}

func TestDeepgramRecognitionKeepsFinalsFlushedOnStop(t *testing.T) {
	conn := &fakeConn{connectOK: true}
	r, cb, _ := newTestDeepgram(conn)
	rec, _ := r.NewRecognition(DefaultRecognitionConfig(), newFakeSource(16000))

	var finals []string
	rec.OnResult(func(b ResultBatch) {
		for _, res := range b.Results {
			if res.Final {
				finals = append(finals, res.Text)
			}
		}
	})
	ended := false
	rec.OnEnd(func(struct{}) { ended = true })

	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	callback := *cb
	conn.onStop = func() {
		_ = callback.Message(message("最后一句", true))
		_ = callback.Close(&api.CloseResponse{})
	}

	rec.Stop()
	_ = callback.Message(message("迟到", true))

	if len(finals) != 1 || finals[0] != "最后一句" {
		t.Fatalf("expected the flushed final only, got %v", finals)
	}
	if !ended || conn.stopped != 1 {
		t.Fatalf("expected one stop and an end, got stopped=%d ended=%v", conn.stopped, ended)
	}
}

func TestDeepgramRecognitionErrors(t *testing.T) {
	if _, err := NewDeepgramRecognizer("", "").NewRecognition(DefaultRecognitionConfig(), newFakeSource(16000)); !errors.Is(err, media.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported without key, got %v", err)
	}

	r, _, _ := newTestDeepgram(&fakeConn{})
	rec, _ := r.NewRecognition(DefaultRecognitionConfig(), newFakeSource(16000))
	if err := rec.Start(context.Background()); !errors.Is(err, errConnect) {
		t.Fatalf("expected connect error, got %v", err)
	}
}

package transcribe

import (
	"strings"
	"sync"
)

// Transcript is the text of one capture session. Finalized utterances only
// grow; the interim hypothesis is replaced on every update.
type Transcript struct {
	mu        sync.Mutex
	final     strings.Builder
	interim   string
	committed map[int]struct{}
	finals    int
}

func NewTranscript() *Transcript {
	return &Transcript{committed: make(map[int]struct{})}
}

// Commit appends text finalized at the given result index. An index is
// accepted once; repeats are ignored and reported as false.
func (t *Transcript) Commit(index int, text string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.committed[index]; ok {
		return false
	}
	t.committed[index] = struct{}{}
	if text == "" {
		return false
	}
	t.final.WriteString(text)
	t.finals++
	return true
}

// Append adds already punctuated text that has no result index.
func (t *Transcript) Append(text string) {
	if text == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.final.WriteString(text)
	t.finals++
}

func (t *Transcript) SetInterim(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.interim = text
}

func (t *Transcript) Final() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.final.String()
}

func (t *Transcript) Interim() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interim
}

func (t *Transcript) HasFinal() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finals > 0
}

// Display renders finalized text followed by the bracketed interim hypothesis.
func (t *Transcript) Display() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.interim == "" {
		return t.final.String()
	}
	return t.final.String() + " [" + t.interim + "]"
}

func (t *Transcript) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.final.Reset()
	t.interim = ""
	t.finals = 0
	clear(t.committed)
}

package practice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sjawhar/rehearsal/internal/audio"
	"github.com/sjawhar/rehearsal/internal/evaluation"
	"github.com/sjawhar/rehearsal/internal/media"
	"github.com/sjawhar/rehearsal/internal/speech"
)

const (
	DefaultAnswerDuration = 300 * time.Second
	DefaultQuestionCount  = 3

	answerPlaybackVolume = 0.8
	progressInterval     = 200 * time.Millisecond
	progressCeiling      = 90

	msgInvalidReport          = "收到的评估结果格式不正确。"
	msgEvaluationUnavailable  = "评估服务暂时不可用"
	msgRecognitionUnavailable = "当前环境不支持语音识别功能，录音仍在进行"
	msgNoAnswerClip           = "没有可播放的录音文件"
	msgAnswerPlaybackFailed   = "录音播放失败"
)

type Deps struct {
	Arbiter    *audio.Arbiter
	Questions  QuestionSource
	Evaluator  Evaluator
	Sink       SessionSink
	Capturer   media.Capturer
	Codec      media.Codec
	Recognizer speech.Recognizer
	Narrator   *speech.Narrator
	Clips      *audio.ClipStore
	Player     *audio.ClipPlayer
	Events     Events
	Observer   Observer
	// Device returns the microphone picked during the device check.
	Device func() string
	// Ready reports whether the device check has completed or been skipped.
	// Nil means practice may start at any time.
	Ready func() bool

	QuestionCount  int
	AnswerDuration time.Duration
	Now            func() time.Time
}

// Controller drives one practice session: question iteration, the answer
// countdown, answer capture and evaluation. Public methods are serialized by
// op; audio callbacks only take mu and never call the arbiter.
type Controller struct {
	deps      Deps
	countdown *Countdown

	op sync.Mutex
	bg sync.WaitGroup

	mu           sync.Mutex
	state        Snapshot
	gen          uint64
	captureGen   uint64
	captureFinal string
	playGen      uint64
}

func New(stage Stage, deps Deps) *Controller {
	if deps.Arbiter == nil {
		deps.Arbiter = audio.NewArbiter()
	}
	if deps.Clips == nil {
		deps.Clips = audio.NewClipStore()
	}
	if deps.QuestionCount <= 0 {
		deps.QuestionCount = DefaultQuestionCount
	}
	if deps.AnswerDuration <= 0 {
		deps.AnswerDuration = DefaultAnswerDuration
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	c := &Controller{deps: deps, state: initialSnapshot(stage)}
	c.countdown = NewCountdown(deps.AnswerDuration, func(remaining int) {
		if c.deps.Events != nil {
			c.deps.Events.TimerTick(remaining)
		}
	})
	return c
}

func initialSnapshot(stage Stage) Snapshot {
	return Snapshot{Stage: stage, Step: StepOverview, PlayingAnswer: -1}
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.state
	s.Questions = slices.Clone(c.state.Questions)
	s.Answers = slices.Clone(c.state.Answers)
	s.Stats.QuestionsByStage = slices.Clone(c.state.Stats.QuestionsByStage)
	if c.state.Report != nil {
		report := *c.state.Report
		s.Report = &report
	}
	s.Clips = make([]audio.Handle, len(s.Questions))
	for i := range s.Questions {
		if _, h, ok := c.deps.Clips.Get(audio.AnswerSlot(i)); ok {
			s.Clips[i] = h
		}
	}
	if s.Step == StepAnswering {
		s.Remaining = c.countdown.Remaining()
	}
	return s
}

func (c *Controller) update(fn func(*Snapshot)) {
	c.mu.Lock()
	fn(&c.state)
	c.mu.Unlock()
}

func (c *Controller) publish() {
	if c.deps.Events != nil {
		c.deps.Events.PracticeChanged(c.Snapshot())
	}
}

func (c *Controller) advise(message string) {
	c.update(func(s *Snapshot) { s.Advisory = message })
	if c.deps.Events != nil {
		c.deps.Events.Advisory(message)
	}
}

// Wait blocks until background evaluation and persistence have finished.
func (c *Controller) Wait() { c.bg.Wait() }

// SelectStage switches to another interview round and reloads its questions.
func (c *Controller) SelectStage(ctx context.Context, stageType string) error {
	stage, ok := LookupStage(stageType)
	if !ok {
		return fmt.Errorf("select stage %q: %w", stageType, ErrNoStage)
	}

	c.op.Lock()
	defer c.op.Unlock()
	c.teardown()
	c.update(func(s *Snapshot) { *s = initialSnapshot(stage) })
	return c.load(ctx)
}

func (c *Controller) LoadQuestions(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()
	return c.load(ctx)
}

func (c *Controller) load(ctx context.Context) error {
	c.update(func(s *Snapshot) {
		s.Loading = true
		s.LoadError = ""
	})
	c.publish()

	stage := c.Snapshot().Stage
	questions, total, stats, err := c.fetch(ctx, stage)
	if err == nil && len(questions) == 0 {
		err = ErrNoQuestions
	}
	if err != nil {
		slog.Warn("load questions failed", "stage", stage.Type, "error", err)
		questions, total = nil, 0
	}

	c.update(func(s *Snapshot) {
		s.Loading = false
		s.Questions = questions
		s.TotalInStage = total
		if err != nil {
			s.LoadError = err.Error()
			return
		}
		s.Stats = stats
	})
	c.publish()
	if err != nil {
		return fmt.Errorf("load questions: %w", err)
	}
	return nil
}

func (c *Controller) fetch(ctx context.Context, stage Stage) ([]Question, int, QuestionStats, error) {
	src := c.deps.Questions
	if src == nil {
		return nil, 0, QuestionStats{}, ErrNoQuestions
	}

	var questions []Question
	var total int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		questions, err = src.RandomQuestions(gctx, stage.ID, nil, c.deps.QuestionCount)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = src.QuestionCount(gctx, stage.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, 0, QuestionStats{}, err
	}

	stats, err := src.QuestionStats(ctx)
	if err != nil {
		return nil, 0, QuestionStats{}, err
	}
	return questions, total, stats, nil
}

// Start enters the answering step at the first question.
func (c *Controller) Start(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()

	snap := c.Snapshot()
	if snap.Step != StepOverview {
		return fmt.Errorf("start in %s step: %w", snap.Step, ErrWrongStep)
	}
	if c.deps.Ready != nil && !c.deps.Ready() {
		return fmt.Errorf("start before device check: %w", ErrWrongStep)
	}
	if len(snap.Questions) == 0 {
		if err := c.load(ctx); err != nil {
			return err
		}
		return fmt.Errorf("start practice: %w", ErrNoQuestions)
	}

	c.deps.Arbiter.StopAll()
	c.deps.Clips.ResetAnswers()
	c.update(func(s *Snapshot) {
		s.Step = StepAnswering
		s.Index = 0
		s.Answers = nil
		s.Draft = ""
		s.Interim = ""
		s.Progress = 0
		s.Advisory = ""
		s.Report = nil
		s.EvaluationError = ""
		s.EvaluationProgress = 0
	})
	c.countdown.Reset()
	c.publish()
	return nil
}

func (c *Controller) SetDraft(text string) error {
	c.op.Lock()
	defer c.op.Unlock()

	var err error
	c.update(func(s *Snapshot) {
		if s.Step != StepAnswering {
			err = fmt.Errorf("edit answer in %s step: %w", s.Step, ErrWrongStep)
			return
		}
		s.Draft = text
	})
	if err == nil {
		c.publish()
	}
	return err
}

// Submit records the current draft as the answer. On the last question it
// moves to evaluation, which runs in the background.
func (c *Controller) Submit(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()

	snap := c.Snapshot()
	if snap.Step != StepAnswering {
		return fmt.Errorf("submit in %s step: %w", snap.Step, ErrWrongStep)
	}
	if strings.TrimSpace(snap.Draft) == "" && !snap.Recording {
		return ErrEmptyAnswer
	}

	// recording, narration and playback all stop before the answer is taken;
	// stopping recognition can still flush finals into the draft
	c.deps.Arbiter.StopAll()
	answer := strings.TrimSpace(c.Snapshot().Draft)
	if answer == "" {
		c.publish()
		return ErrEmptyAnswer
	}

	var last bool
	c.update(func(s *Snapshot) {
		s.Answers = append(s.Answers, answer)
		s.Draft = ""
		s.Interim = ""
		s.Advisory = ""
		s.Progress = float64(s.Index+1) / float64(len(s.Questions)) * 100
		last = s.Index+1 >= len(s.Questions)
		if !last {
			s.Index++
		}
	})

	if !last {
		c.countdown.Reset()
		c.publish()
		return nil
	}
	c.beginEvaluation(ctx)
	return nil
}

func (c *Controller) beginEvaluation(ctx context.Context) {
	c.countdown.Stop()

	c.mu.Lock()
	c.state.Step = StepAnalyzing
	c.state.EvaluationProgress = 0
	c.state.Report = nil
	c.state.EvaluationError = ""
	gen := c.gen
	stage := c.state.Stage
	questions := slices.Clone(c.state.Questions)
	answers := slices.Clone(c.state.Answers)
	c.mu.Unlock()
	c.publish()

	ctx = context.WithoutCancel(ctx)
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		c.runEvaluation(ctx, gen, stage, questions, answers)
	}()
}

func (c *Controller) runEvaluation(ctx context.Context, gen uint64, stage Stage, questions []Question, answers []string) {
	texts := make([]string, len(questions))
	for i, q := range questions {
		texts[i] = q.Text
	}

	stopProgress := c.startProgress(gen)
	started := c.deps.Now()
	report, err := c.evaluate(ctx, evaluation.Request{
		StageType:  stage.Type,
		Questions:  texts,
		Answers:    answers,
		StageTitle: stage.Title,
	})
	stopProgress()

	outcome := "success"
	message := ""
	if err != nil {
		outcome = "fallback"
		message = evaluationMessage(err)
		slog.Warn("evaluation failed, using fallback report", "stage", stage.Type, "error", err)
		report = FallbackReport(texts, answers, c.deps.Now())
	}
	if c.deps.Observer != nil {
		c.deps.Observer.EvaluationFinished(outcome, c.deps.Now().Sub(started))
	}

	c.mu.Lock()
	current := c.gen == gen
	if current {
		c.state.Step = StepResult
		c.state.EvaluationProgress = 100
		c.state.Report = &report
		c.state.EvaluationError = message
	}
	c.mu.Unlock()
	if current {
		c.publish()
	}

	c.persist(ctx, c.record(stage, questions, answers, report, message))
}

func (c *Controller) evaluate(ctx context.Context, req evaluation.Request) (evaluation.Report, error) {
	if c.deps.Evaluator == nil {
		return evaluation.Report{}, errors.New("no evaluator configured")
	}
	return c.deps.Evaluator.Evaluate(ctx, req)
}

func evaluationMessage(err error) string {
	if errors.Is(err, evaluation.ErrInvalidReport) {
		return msgInvalidReport
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return msgEvaluationUnavailable
}

// startProgress advances the analyzing progress by random steps below the
// ceiling until the returned stop func is called.
func (c *Controller) startProgress(gen uint64) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(progressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
			}
			c.mu.Lock()
			if c.gen != gen || c.state.Step != StepAnalyzing {
				c.mu.Unlock()
				continue
			}
			c.state.EvaluationProgress = min(c.state.EvaluationProgress+rand.Float64()*15, progressCeiling)
			c.mu.Unlock()
			c.publish()
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-stopped
		})
	}
}

func (c *Controller) record(stage Stage, questions []Question, answers []string, report evaluation.Report, message string) Record {
	qa := make([]QA, len(questions))
	for i, q := range questions {
		qa[i] = QA{Question: q.Text, QuestionID: q.ID}
		if i < len(answers) {
			qa[i].Answer = answers[i]
		}
	}
	return Record{
		ID:                  uuid.NewString(),
		StageType:           stage.Type,
		StageTitle:          stage.Title,
		QuestionsAndAnswers: qa,
		EvaluationScore:     Score(report.OverallSummary.OverallLevel),
		Feedback: Feedback{
			Summary:      report.OverallSummary.Summary,
			Strengths:    report.OverallSummary.Strengths,
			Improvements: report.OverallSummary.Improvements,
		},
		Report:          report,
		EvaluationError: message,
		CreatedAt:       c.deps.Now(),
	}
}

// persist is best effort: failures are logged and counted, never retried.
func (c *Controller) persist(ctx context.Context, record Record) {
	if c.deps.Sink == nil {
		return
	}
	if err := c.deps.Sink.SavePracticeSession(ctx, record); err != nil {
		slog.Warn("save practice session failed", "id", record.ID, "stage", record.StageType, "error", err)
		if c.deps.Observer != nil {
			c.deps.Observer.PersistFailed()
		}
		return
	}
	slog.Info("practice session saved", "id", record.ID, "stage", record.StageType, "score", record.EvaluationScore)
}

// Narrate reads the current question aloud. Starting synthesis stops any
// other audio first.
func (c *Controller) Narrate(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()

	snap := c.Snapshot()
	if snap.Step != StepAnswering || snap.Index >= len(snap.Questions) {
		return fmt.Errorf("narrate in %s step: %w", snap.Step, ErrWrongStep)
	}
	if c.deps.Narrator == nil {
		return fmt.Errorf("narrate question: %w", media.ErrUnsupported)
	}
	return c.deps.Narrator.Speak(ctx, snap.Questions[snap.Index].Text, speech.NarrationHandlers{
		OnError: func(err error) {
			slog.Warn("question narration failed", "index", snap.Index, "error", err)
		},
	})
}

func (c *Controller) StopNarration() {
	if c.deps.Narrator != nil {
		c.deps.Narrator.Stop()
	}
}

// StartAnswerCapture records the microphone into the current question's
// slot and appends recognized speech to the draft.
func (c *Controller) StartAnswerCapture(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()

	snap := c.Snapshot()
	if snap.Step != StepAnswering {
		return fmt.Errorf("record in %s step: %w", snap.Step, ErrWrongStep)
	}
	if snap.Recording {
		return nil
	}
	if c.deps.Capturer == nil {
		err := fmt.Errorf("open microphone: %w", media.ErrUnsupported)
		c.advise(media.Guidance(err))
		return err
	}

	c.mu.Lock()
	c.captureGen++
	gen := c.captureGen
	c.captureFinal = ""
	index := c.state.Index
	c.mu.Unlock()

	lease, err := c.deps.Arbiter.Acquire(audio.KindRecording)
	if err != nil {
		return err
	}
	stream, err := c.deps.Capturer.OpenInput(ctx, c.device())
	if err != nil {
		lease.Release()
		c.advise(media.Guidance(err))
		return fmt.Errorf("open microphone: %w", err)
	}
	lease.Hold(func() {
		if err := stream.Close(); err != nil {
			slog.Warn("close microphone stream", "error", err)
		}
	})

	c.update(func(s *Snapshot) {
		s.Recording = true
		s.Interim = ""
		s.Advisory = ""
	})
	recorder := audio.StartRecording(stream, c.deps.Codec)
	lease.Hold(func() { c.finishAnswerRecording(gen, index, recorder.Stop()) })

	c.startAnswerRecognition(ctx, lease, stream, gen)
	c.publish()
	return nil
}

func (c *Controller) device() string {
	if c.deps.Device == nil {
		return ""
	}
	return c.deps.Device()
}

func (c *Controller) startAnswerRecognition(ctx context.Context, lease *audio.Lease, stream media.InputStream, gen uint64) {
	if c.deps.Recognizer == nil {
		c.advise(msgRecognitionUnavailable)
		return
	}
	rec, err := c.deps.Recognizer.NewRecognition(speech.DefaultRecognitionConfig(), stream)
	if err != nil {
		slog.Info("speech recognition unavailable for answer", "error", err)
		c.advise(msgRecognitionUnavailable)
		return
	}

	advise := func(message string) {
		if c.captureCurrent(gen) {
			c.advise(message)
		}
	}
	capture, err := speech.StartCapture(ctx, rec, speech.CaptureHandlers{
		OnTranscript: func(final, interim string) { c.applyTranscript(gen, final, interim) },
		OnAdvisory:   advise,
		OnNoSpeech:   advise,
		// the recorder shares the stream, so it ends with recognition
		OnEnd: func() { go lease.Release() },
	})
	if err != nil {
		slog.Warn("start answer recognition", "error", err)
		c.advise(msgRecognitionUnavailable)
		return
	}
	lease.Hold(capture.Stop)
}

func (c *Controller) captureCurrent(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.captureGen == gen
}

// applyTranscript appends newly finalized text to the draft. The transcript
// only grows, so the new part is whatever follows the last seen final text.
func (c *Controller) applyTranscript(gen uint64, final, interim string) {
	c.mu.Lock()
	if c.captureGen != gen {
		c.mu.Unlock()
		return
	}
	if added, ok := strings.CutPrefix(final, c.captureFinal); ok {
		c.state.Draft += added
	}
	c.captureFinal = final
	c.state.Interim = interim
	c.mu.Unlock()

	if c.deps.Events != nil {
		c.deps.Events.TranscriptChanged(final, interim)
	}
	c.publish()
}

func (c *Controller) finishAnswerRecording(gen uint64, index int, res audio.RecordingResult) {
	c.mu.Lock()
	if c.captureGen != gen {
		c.mu.Unlock()
		return
	}
	c.state.Recording = false
	c.state.Interim = ""
	if res.Clip != nil {
		c.deps.Clips.Put(audio.AnswerSlot(index), *res.Clip)
	}
	c.mu.Unlock()

	if res.Status != audio.RecordingSuccess {
		slog.Info("answer recording discarded", "index", index, "captured", res.Captured)
		c.advise(res.Message)
	}
	c.publish()
}

func (c *Controller) StopAnswerCapture() {
	c.op.Lock()
	defer c.op.Unlock()
	c.deps.Arbiter.ReleaseKind(audio.KindRecording)
}

// PlayAnswer replays the recording of the answer at index.
func (c *Controller) PlayAnswer(ctx context.Context, index int) error {
	c.op.Lock()
	defer c.op.Unlock()

	if c.deps.Player == nil {
		return fmt.Errorf("play answer %d: %w", index, media.ErrUnsupported)
	}

	c.mu.Lock()
	c.playGen++
	gen := c.playGen
	c.mu.Unlock()

	err := c.deps.Player.Play(ctx, audio.AnswerSlot(index), answerPlaybackVolume, func(err error) {
		c.mu.Lock()
		if c.playGen != gen {
			c.mu.Unlock()
			return
		}
		c.state.PlayingAnswer = -1
		c.mu.Unlock()
		if err != nil {
			c.advise(msgAnswerPlaybackFailed)
		}
		c.publish()
	})
	if err != nil {
		if errors.Is(err, audio.ErrNoClip) {
			c.advise(msgNoAnswerClip)
		} else {
			c.advise(msgAnswerPlaybackFailed)
		}
		return err
	}

	c.mu.Lock()
	if c.playGen == gen {
		c.state.PlayingAnswer = index
	}
	c.mu.Unlock()
	c.publish()
	return nil
}

func (c *Controller) StopPlayback() {
	c.op.Lock()
	defer c.op.Unlock()
	c.deps.Arbiter.ReleaseKind(audio.KindPlayback)
}

// Restart drops the current session, revokes every answer clip and loads a
// fresh set of questions.
func (c *Controller) Restart(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()

	c.teardown()
	c.update(func(s *Snapshot) { *s = initialSnapshot(s.Stage) })
	return c.load(ctx)
}

// Exit stops all audio and the countdown and returns to the overview.
func (c *Controller) Exit() {
	c.op.Lock()
	defer c.op.Unlock()

	c.deps.Arbiter.StopAll()
	c.countdown.Stop()
	c.mu.Lock()
	c.gen++
	c.captureGen++
	c.playGen++
	c.state.Step = StepOverview
	c.state.Recording = false
	c.state.PlayingAnswer = -1
	c.mu.Unlock()
	c.publish()
}

func (c *Controller) teardown() {
	c.deps.Arbiter.StopAll()
	c.countdown.Stop()
	c.mu.Lock()
	c.gen++
	c.captureGen++
	c.playGen++
	c.mu.Unlock()
	c.deps.Clips.ResetAnswers()
}

package practice

import (
	"context"
	"time"

	"github.com/sjawhar/rehearsal/internal/audio"
	"github.com/sjawhar/rehearsal/internal/evaluation"
)

type Step string

const (
	StepOverview  Step = "overview"
	StepAnswering Step = "answering"
	StepAnalyzing Step = "analyzing"
	StepResult    Step = "result"
)

type Question struct {
	ID         int64  `json:"id"`
	StageID    int    `json:"stage_id"`
	Text       string `json:"question_text"`
	Category   string `json:"category,omitempty"`
	Difficulty string `json:"difficulty,omitempty"`
}

type StageCount struct {
	StageID int `json:"stage_id"`
	Count   int `json:"count"`
}

type QuestionStats struct {
	TotalQuestions   int          `json:"totalQuestions"`
	QuestionsByStage []StageCount `json:"questionsByStage"`
}

type QuestionSource interface {
	RandomQuestions(ctx context.Context, stageID int, excludeIDs []int64, count int) ([]Question, error)
	QuestionCount(ctx context.Context, stageID int) (int, error)
	QuestionStats(ctx context.Context) (QuestionStats, error)
}

type Evaluator interface {
	Evaluate(ctx context.Context, req evaluation.Request) (evaluation.Report, error)
}

type QA struct {
	Question   string `json:"question"`
	Answer     string `json:"answer"`
	QuestionID int64  `json:"question_id"`
}

type Feedback struct {
	Summary      string                   `json:"summary"`
	Strengths    []evaluation.Strength    `json:"strengths"`
	Improvements []evaluation.Improvement `json:"improvements"`
}

// Record is one finished practice session as handed to persistence.
type Record struct {
	ID                  string            `json:"id"`
	StageType           string            `json:"stage_type"`
	StageTitle          string            `json:"stage_title"`
	QuestionsAndAnswers []QA              `json:"questions_and_answers"`
	EvaluationScore     int               `json:"evaluation_score"`
	Feedback            Feedback          `json:"ai_feedback"`
	Report              evaluation.Report `json:"report"`
	EvaluationError     string            `json:"evaluation_error,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
}

type SessionSink interface {
	SavePracticeSession(ctx context.Context, record Record) error
}

type Events interface {
	PracticeChanged(Snapshot)
	TimerTick(remaining int)
	TranscriptChanged(final, interim string)
	Advisory(message string)
}

// Observer receives evaluation and persistence outcomes.
type Observer interface {
	EvaluationFinished(outcome string, took time.Duration)
	PersistFailed()
}

// Snapshot is the externally visible state of a practice session.
type Snapshot struct {
	Stage        Stage         `json:"stage"`
	Step         Step          `json:"step"`
	Questions    []Question    `json:"questions"`
	TotalInStage int           `json:"total_in_stage"`
	Stats        QuestionStats `json:"stats"`
	Loading      bool          `json:"loading"`
	LoadError    string        `json:"load_error,omitempty"`

	Index         int            `json:"index"`
	Answers       []string       `json:"answers"`
	Draft         string         `json:"draft"`
	Interim       string         `json:"interim,omitempty"`
	Recording     bool           `json:"recording"`
	Clips         []audio.Handle `json:"clips"`
	PlayingAnswer int            `json:"playing_answer"`
	Remaining     int            `json:"remaining"`
	Progress      float64        `json:"progress"`
	Advisory      string         `json:"advisory,omitempty"`

	EvaluationProgress float64            `json:"evaluation_progress"`
	Report             *evaluation.Report `json:"report,omitempty"`
	EvaluationError    string             `json:"evaluation_error,omitempty"`
}

package evaluation

import (
	"encoding/json"
	"fmt"
)

// Request is what gets graded: one answer per question, in order.
type Request struct {
	StageType  string   `json:"stageType"`
	Questions  []string `json:"questions"`
	Answers    []string `json:"answers"`
	StageTitle string   `json:"stageTitle"`
	Async      bool     `json:"async"`
}

type Strength struct {
	Competency  string `json:"competency"`
	Description string `json:"description"`
}

type Improvement struct {
	Competency string `json:"competency"`
	Suggestion string `json:"suggestion"`
	Example    string `json:"example"`
}

type OverallSummary struct {
	OverallLevel string        `json:"overallLevel"`
	Summary      string        `json:"summary"`
	Strengths    []Strength    `json:"strengths"`
	Improvements []Improvement `json:"improvements"`
}

type PreliminaryAnalysis struct {
	IsValid  bool   `json:"isValid"`
	Feedback string `json:"feedback"`
}

type AnswerEvaluation struct {
	PreliminaryAnalysis PreliminaryAnalysis `json:"preliminaryAnalysis"`
	PerformanceLevel    string              `json:"performanceLevel"`
	Strengths           []Strength          `json:"strengths"`
	Improvements        []Improvement       `json:"improvements"`
	FollowUpQuestion    string              `json:"followUpQuestion"`
}

type IndividualEvaluation struct {
	Question   string           `json:"question"`
	Answer     string           `json:"answer"`
	Evaluation AnswerEvaluation `json:"evaluation"`
}

// Report is the aggregated evaluation of a practice session. A locally built
// fallback has the same shape.
type Report struct {
	EvaluationID          string                 `json:"evaluationId"`
	OverallSummary        OverallSummary         `json:"overallSummary"`
	IndividualEvaluations []IndividualEvaluation `json:"individualEvaluations"`
}

// Decode parses a report and checks its shape. A body without both
// overallSummary and individualEvaluations is ErrInvalidReport.
func Decode(data []byte) (Report, error) {
	var probe struct {
		OverallSummary        *json.RawMessage `json:"overallSummary"`
		IndividualEvaluations *json.RawMessage `json:"individualEvaluations"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return Report{}, fmt.Errorf("decode report: %w: %v", ErrInvalidReport, err)
	}
	if probe.OverallSummary == nil || probe.IndividualEvaluations == nil {
		return Report{}, fmt.Errorf("decode report: %w: missing overallSummary or individualEvaluations", ErrInvalidReport)
	}

	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return Report{}, fmt.Errorf("decode report: %w: %v", ErrInvalidReport, err)
	}
	return report, nil
}

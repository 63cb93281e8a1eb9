package practice

import (
	"fmt"
	"time"

	"github.com/sjawhar/rehearsal/internal/evaluation"
)

const (
	FallbackLevel = "良好表现"

	defaultScore = 60
)

var levelScores = map[string]int{
	"优秀表现": 90,
	"良好表现": 75,
	"有待提高": 60,
	"初学乍练": 45,
	"无法评估": 0,
}

// Score maps an overall level to the persisted 0-100 score.
func Score(level string) int {
	if s, ok := levelScores[level]; ok {
		return s
	}
	return defaultScore
}

// FallbackReport builds the local report used when evaluation fails. It has
// the same shape as a real one.
func FallbackReport(questions, answers []string, now time.Time) evaluation.Report {
	individual := make([]evaluation.IndividualEvaluation, len(questions))
	for i, q := range questions {
		answer := evaluation.NoAnswer
		if i < len(answers) && answers[i] != "" {
			answer = answers[i]
		}
		individual[i] = evaluation.IndividualEvaluation{
			Question: q,
			Answer:   answer,
			Evaluation: evaluation.AnswerEvaluation{
				PreliminaryAnalysis: evaluation.PreliminaryAnalysis{
					IsValid:  true,
					Feedback: "这是一个备用的评估结果。",
				},
				PerformanceLevel: FallbackLevel,
				Strengths:        []evaluation.Strength{},
				Improvements:     []evaluation.Improvement{},
				FollowUpQuestion: "请尝试重新回答这个问题。",
			},
		}
	}

	return evaluation.Report{
		EvaluationID: fmt.Sprintf("fallback-%d", now.UnixMilli()),
		OverallSummary: evaluation.OverallSummary{
			OverallLevel: FallbackLevel,
			Summary:      "你的回答展现了良好的基础素养和学习态度，在表达逻辑和专业认知方面有不错的表现。",
			Strengths: []evaluation.Strength{
				{Competency: "表达逻辑", Description: "回答结构清晰，能够按照逻辑顺序组织内容，体现了良好的沟通基础。"},
				{Competency: "学习态度", Description: "对AI产品经理角色有基本认知，展现出学习和成长的积极态度。"},
			},
			Improvements: []evaluation.Improvement{
				{
					Competency: "深化理解",
					Suggestion: "建议进一步深化对AI产品经理角色的理解，特别是技术与商业的结合。",
					Example:    "可以通过分析具体的AI产品案例来提升认知深度。",
				},
			},
		},
		IndividualEvaluations: individual,
	}
}

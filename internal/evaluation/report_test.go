package evaluation

import (
	"errors"
	"testing"
)

const validReport = `{
  "evaluationId": "eval-1",
  "overallSummary": {
    "overallLevel": "优秀表现",
    "summary": "回答完整",
    "strengths": [{"competency": "表达逻辑", "description": "结构清晰"}],
    "improvements": [{"competency": "数据驱动", "suggestion": "补充指标", "example": "留存率"}]
  },
  "individualEvaluations": [{
    "question": "请介绍一下你自己",
    "answer": "我是产品经理",
    "evaluation": {
      "preliminaryAnalysis": {"isValid": true, "feedback": "切题"},
      "performanceLevel": "良好表现",
      "strengths": [],
      "improvements": [],
      "followUpQuestion": "你最骄傲的项目是什么？"
    }
  }]
}`

func TestDecodeValidReport(t *testing.T) {
	report, err := Decode([]byte(validReport))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if report.EvaluationID != "eval-1" || report.OverallSummary.OverallLevel != "优秀表现" {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(report.IndividualEvaluations) != 1 || !report.IndividualEvaluations[0].Evaluation.PreliminaryAnalysis.IsValid {
		t.Fatalf("unexpected individual evaluations %+v", report.IndividualEvaluations)
	}
}

func TestDecodeRejectsOtherShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "<html>502</html>"},
		{name: "legacy single evaluation", body: `{"score": 80, "feedback": "ok"}`},
		{name: "missing individual", body: `{"overallSummary": {"overallLevel": "良好表现"}}`},
		{name: "missing overall", body: `{"individualEvaluations": []}`},
		{name: "wrong type", body: `{"overallSummary": "good", "individualEvaluations": []}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode([]byte(tt.body)); !errors.Is(err, ErrInvalidReport) {
				t.Fatalf("expected ErrInvalidReport, got %v", err)
			}
		})
	}
}

package evaluation

import (
	"fmt"
	"strings"
)

const systemPrompt = `你是一位资深的AI产品经理面试官，负责评估候选人的面试回答。
请针对每一道题给出独立评估，并给出整体总结。
表现等级只能使用：优秀表现、良好表现、有待提高、初学乍练、无法评估。
如果回答为空、离题或无法理解，preliminaryAnalysis.isValid 为 false，performanceLevel 为 无法评估。

输出必须是一个 JSON 对象，结构如下：
{
  "overallSummary": {
    "overallLevel": "...",
    "summary": "...",
    "strengths": [{"competency": "...", "description": "..."}],
    "improvements": [{"competency": "...", "suggestion": "...", "example": "..."}]
  },
  "individualEvaluations": [
    {
      "question": "...",
      "answer": "...",
      "evaluation": {
        "preliminaryAnalysis": {"isValid": true, "feedback": "..."},
        "performanceLevel": "...",
        "strengths": [{"competency": "...", "description": "..."}],
        "improvements": [{"competency": "...", "suggestion": "...", "example": "..."}],
        "followUpQuestion": "..."
      }
    }
  ]
}`

// stageFocus is what each interview stage is graded on.
var stageFocus = map[string]string{
	"hr":           "职业动机、自我认知、沟通协作、职业规划",
	"professional": "产品设计思维、技术理解力、商业化能力、数据驱动能力",
	"final":        "战略思维、行业洞察、商业模式设计、复杂场景分析",
}

func userPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "面试阶段：%s\n", req.StageTitle)
	if focus, ok := stageFocus[req.StageType]; ok {
		fmt.Fprintf(&b, "评估重点：%s\n", focus)
	}
	b.WriteString("\n")
	for i, q := range req.Questions {
		answer := ""
		if i < len(req.Answers) {
			answer = strings.TrimSpace(req.Answers[i])
		}
		if answer == "" {
			answer = NoAnswer
		}
		fmt.Fprintf(&b, "第%d题：%s\n回答：%s\n\n", i+1, q, answer)
	}
	b.WriteString("请按要求输出 JSON。")
	return b.String()
}

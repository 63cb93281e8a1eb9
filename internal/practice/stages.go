package practice

// Stage is one interview round. ID keys the question bank.
type Stage struct {
	Type        string `json:"type"`
	ID          int    `json:"stage_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

var stages = []Stage{
	{
		Type:        "hr",
		ID:          1,
		Title:       "HR面 - 职业匹配度与潜力评估",
		Description: "评估职业动机、自我认知、沟通协作、职业规划",
	},
	{
		Type:        "professional",
		ID:          2,
		Title:       "专业面 - 硬核能力与实践评估",
		Description: "评估产品设计思维、技术理解力、商业化能力、数据驱动能力",
	},
	{
		Type:        "final",
		ID:          3,
		Title:       "终面 - 战略思维与行业洞察评估",
		Description: "评估战略思维、行业洞察、商业模式设计、复杂场景分析",
	},
}

func Stages() []Stage {
	out := make([]Stage, len(stages))
	copy(out, stages)
	return out
}

func LookupStage(stageType string) (Stage, bool) {
	for _, s := range stages {
		if s.Type == stageType {
			return s, true
		}
	}
	return Stage{}, false
}

package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sjawhar/rehearsal/internal/practice"
)

// ReportWriter appends finished sessions to one markdown file per day.
type ReportWriter struct {
	dir string
	mu  sync.Mutex
}

func NewReportWriter(dir string) *ReportWriter {
	return &ReportWriter{dir: dir}
}

// Append writes the record and returns the day file it went to.
func (w *ReportWriter) Append(record practice.Record) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", w.dir, err)
	}

	path := w.PathFor(record.CreatedAt)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := fmt.Fprintln(f, FormatMarkdown(record)); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

func (w *ReportWriter) PathFor(t time.Time) string {
	return filepath.Join(w.dir, t.Format("2006-01-02")+".md")
}

func FormatMarkdown(record practice.Record) string {
	var b strings.Builder
	summary := record.Report.OverallSummary

	title := record.StageTitle
	if title == "" {
		title = record.StageType
	}
	fmt.Fprintf(&b, "## %s %s\n\n", record.CreatedAt.Format("15:04"), title)
	fmt.Fprintf(&b, "- 总体评价：%s（%d 分）\n", summary.OverallLevel, record.EvaluationScore)
	if record.EvaluationError != "" {
		fmt.Fprintf(&b, "- 备用评估：%s\n", record.EvaluationError)
	}
	if summary.Summary != "" {
		fmt.Fprintf(&b, "\n%s\n", summary.Summary)
	}

	for _, s := range summary.Strengths {
		fmt.Fprintf(&b, "\n- 优势 · %s：%s", s.Competency, s.Description)
	}
	for _, imp := range summary.Improvements {
		fmt.Fprintf(&b, "\n- 改进 · %s：%s", imp.Competency, imp.Suggestion)
	}
	if len(summary.Strengths)+len(summary.Improvements) > 0 {
		b.WriteString("\n")
	}

	for i, qa := range record.QuestionsAndAnswers {
		fmt.Fprintf(&b, "\n### 第%d题 %s\n\n%s\n", i+1, qa.Question, qa.Answer)
		if i < len(record.Report.IndividualEvaluations) {
			ev := record.Report.IndividualEvaluations[i].Evaluation
			fmt.Fprintf(&b, "\n> %s", ev.PerformanceLevel)
			if ev.FollowUpQuestion != "" {
				fmt.Fprintf(&b, " · 追问：%s", ev.FollowUpQuestion)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

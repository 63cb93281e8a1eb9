package storage

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sjawhar/rehearsal/internal/practice"
)

//go:embed questions.yaml
var defaultQuestions []byte

type questionFile struct {
	Questions []struct {
		Stage      string `yaml:"stage"`
		Text       string `yaml:"text"`
		Category   string `yaml:"category"`
		Difficulty string `yaml:"difficulty"`
	} `yaml:"questions"`
}

// DefaultQuestions is the built-in question bank.
func DefaultQuestions() ([]practice.Question, error) {
	return parseQuestions(defaultQuestions)
}

// LoadQuestionsFile reads a YAML question bank. Each entry names its stage by
// type (hr, professional, final).
func LoadQuestionsFile(path string) ([]practice.Question, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read questions file: %w", err)
	}
	questions, err := parseQuestions(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return questions, nil
}

func parseQuestions(data []byte) ([]practice.Question, error) {
	var f questionFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse questions: %w", err)
	}

	questions := make([]practice.Question, 0, len(f.Questions))
	for i, q := range f.Questions {
		stage, ok := practice.LookupStage(strings.TrimSpace(q.Stage))
		if !ok {
			return nil, fmt.Errorf("question %d: %w: %q", i+1, practice.ErrNoStage, q.Stage)
		}
		text := strings.TrimSpace(q.Text)
		if text == "" {
			return nil, fmt.Errorf("question %d: empty text", i+1)
		}
		questions = append(questions, practice.Question{
			StageID:    stage.ID,
			Text:       text,
			Category:   q.Category,
			Difficulty: q.Difficulty,
		})
	}
	return questions, nil
}

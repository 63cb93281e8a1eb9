package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sjawhar/rehearsal/internal/practice"
)

// SessionSummary is one row of the practice history.
type SessionSummary struct {
	ID              string    `json:"id"`
	StageType       string    `json:"stage_type"`
	StageTitle      string    `json:"stage_title"`
	OverallLevel    string    `json:"overall_level"`
	EvaluationScore int       `json:"evaluation_score"`
	Fallback        bool      `json:"fallback"`
	CreatedAt       time.Time `json:"created_at"`
}

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "rehearsal.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS questions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			stage_id INTEGER NOT NULL,
			question_text TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			difficulty TEXT NOT NULL DEFAULT '',
			UNIQUE(stage_id, question_text)
		);
	`); err != nil {
		return fmt.Errorf("create questions table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS practice_sessions (
			id TEXT PRIMARY KEY,
			stage_type TEXT NOT NULL,
			stage_title TEXT NOT NULL DEFAULT '',
			overall_level TEXT NOT NULL DEFAULT '',
			evaluation_score INTEGER NOT NULL,
			evaluation_error TEXT NOT NULL DEFAULT '',
			record TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("create practice_sessions table: %w", err)
	}

	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_questions_stage ON questions(stage_id)"); err != nil {
		return fmt.Errorf("create questions index: %w", err)
	}
	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_practice_sessions_created_at ON practice_sessions(created_at)"); err != nil {
		return fmt.Errorf("create practice_sessions index: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// SeedQuestions inserts questions that are not in the bank yet and reports
// how many were added.
func (s *SQLiteStore) SeedQuestions(ctx context.Context, questions []practice.Question) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin seed: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	added := 0
	for _, q := range questions {
		text := strings.TrimSpace(q.Text)
		if text == "" {
			continue
		}
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO questions(stage_id, question_text, category, difficulty) VALUES(?, ?, ?, ?)`,
			q.StageID, text, q.Category, q.Difficulty,
		)
		if err != nil {
			return 0, fmt.Errorf("seed question for stage %d: %w", q.StageID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("seed rows affected: %w", err)
		}
		added += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit seed: %w", err)
	}
	return added, nil
}

func (s *SQLiteStore) RandomQuestions(ctx context.Context, stageID int, excludeIDs []int64, count int) ([]practice.Question, error) {
	query := `SELECT id, stage_id, question_text, category, difficulty FROM questions WHERE stage_id = ?`
	args := []any{stageID}
	if len(excludeIDs) > 0 {
		query += ` AND id NOT IN (` + strings.TrimSuffix(strings.Repeat("?,", len(excludeIDs)), ",") + `)`
		for _, id := range excludeIDs {
			args = append(args, id)
		}
	}
	query += ` ORDER BY RANDOM() LIMIT ?`
	args = append(args, count)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query questions for stage %d: %w", stageID, err)
	}
	defer func() { _ = rows.Close() }()

	questions := make([]practice.Question, 0, count)
	for rows.Next() {
		var q practice.Question
		if err := rows.Scan(&q.ID, &q.StageID, &q.Text, &q.Category, &q.Difficulty); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate question rows: %w", err)
	}
	return questions, nil
}

func (s *SQLiteStore) QuestionCount(ctx context.Context, stageID int) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM questions WHERE stage_id = ?`, stageID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count questions for stage %d: %w", stageID, err)
	}
	return n, nil
}

func (s *SQLiteStore) QuestionStats(ctx context.Context) (practice.QuestionStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT stage_id, COUNT(*) FROM questions GROUP BY stage_id ORDER BY stage_id`)
	if err != nil {
		return practice.QuestionStats{}, fmt.Errorf("query question stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	stats := practice.QuestionStats{QuestionsByStage: []practice.StageCount{}}
	for rows.Next() {
		var c practice.StageCount
		if err := rows.Scan(&c.StageID, &c.Count); err != nil {
			return practice.QuestionStats{}, fmt.Errorf("scan question stats: %w", err)
		}
		stats.TotalQuestions += c.Count
		stats.QuestionsByStage = append(stats.QuestionsByStage, c)
	}
	if err := rows.Err(); err != nil {
		return practice.QuestionStats{}, fmt.Errorf("iterate question stats rows: %w", err)
	}
	return stats, nil
}

func (s *SQLiteStore) SavePracticeSession(ctx context.Context, record practice.Record) error {
	if strings.TrimSpace(record.ID) == "" {
		return errors.New("practice session id is required")
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode practice session %s: %w", record.ID, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO practice_sessions(id, stage_type, stage_title, overall_level, evaluation_score, evaluation_error, record, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.StageType,
		record.StageTitle,
		record.Report.OverallSummary.OverallLevel,
		record.EvaluationScore,
		record.EvaluationError,
		string(data),
		record.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save practice session %s: %w", record.ID, err)
	}
	return nil
}

// ListPracticeSessions returns the newest sessions first. An empty date lists
// every day.
func (s *SQLiteStore) ListPracticeSessions(ctx context.Context, date string, limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, stage_type, stage_title, overall_level, evaluation_score, evaluation_error, created_at
		 FROM practice_sessions
		 WHERE ? = '' OR substr(created_at, 1, 10) = ?
		 ORDER BY created_at DESC
		 LIMIT ?`,
		date, date, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query practice sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	sessions := make([]SessionSummary, 0, 16)
	for rows.Next() {
		var sum SessionSummary
		var evalErr, createdAt string
		if err := rows.Scan(&sum.ID, &sum.StageType, &sum.StageTitle, &sum.OverallLevel, &sum.EvaluationScore, &evalErr, &createdAt); err != nil {
			return nil, fmt.Errorf("scan practice session: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse practice session %s created_at: %w", sum.ID, err)
		}
		sum.CreatedAt = parsed
		sum.Fallback = evalErr != ""
		sessions = append(sessions, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate practice session rows: %w", err)
	}
	return sessions, nil
}

func (s *SQLiteStore) GetPracticeSession(ctx context.Context, id string) (practice.Record, error) {
	var data string
	if err := s.db.QueryRowContext(ctx, `SELECT record FROM practice_sessions WHERE id = ?`, id).Scan(&data); err != nil {
		return practice.Record{}, fmt.Errorf("query practice session %s: %w", id, err)
	}
	var record practice.Record
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return practice.Record{}, fmt.Errorf("decode practice session %s: %w", id, err)
	}
	return record, nil
}

func (s *SQLiteStore) PracticeDates(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT substr(created_at, 1, 10) AS date FROM practice_sessions ORDER BY date DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query dates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan date: %w", err)
		}
		dates = append(dates, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dates rows: %w", err)
	}

	return dates, nil
}

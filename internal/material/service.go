package material

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrMaterialNotFound = errors.New("material not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrUnknownSubject   = errors.New("subject not eligible for multi-subject tests")
)

// Service owns the answer-key store. It is the only component that reads the
// raw key column; every student-facing read goes through StudentView, which
// never carries answer letters.
type Service struct {
	db                  *sql.DB
	defaultTimerMinutes int
}

// Material is the staff view of a test material, key included.
type Material struct {
	ID            int64                      `json:"id"`
	Title         string                     `json:"title"`
	Kind          string                     `json:"kind"`
	TimerMinutes  int                        `json:"timer_minutes"`
	AnswerKey     *AnswerKeyConfig           `json:"answer_key,omitempty"`
	SubjectConfig map[string]AnswerKeyConfig `json:"subject_config,omitempty"`
	HasAnswerKey  bool                       `json:"has_answer_key"`
	CreatedAt     time.Time                  `json:"created_at"`
}

// SubjectOutline is the stripped per-subject shape exposed to students:
// enough to render question rows, nothing that reveals correct answers.
type SubjectOutline struct {
	QuestionCount int `json:"question_count"`
	Oficiu        int `json:"oficiu"`
}

// StudentMaterial is the student view. It carries counts and flags only;
// there is no code path that populates answer letters into it.
type StudentMaterial struct {
	ID             int64                     `json:"id"`
	Title          string                    `json:"title"`
	Kind           string                    `json:"kind"`
	TimerMinutes   int                       `json:"timer_minutes"`
	QuestionCount  int                       `json:"question_count"`
	HasAnswerKey   bool                      `json:"has_answer_key"`
	IsMultiSubject bool                      `json:"is_multi_subject"`
	SubjectConfig  map[string]SubjectOutline `json:"subject_config,omitempty"`
}

type CreateInput struct {
	Title        string
	Kind         string
	TimerMinutes int
}

func NewService(db *sql.DB, defaultTimerMinutes int) *Service {
	return &Service{db: db, defaultTimerMinutes: defaultTimerMinutes}
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*Material, error) {
	title := strings.TrimSpace(in.Title)
	kind := strings.TrimSpace(strings.ToLower(in.Kind))
	if title == "" {
		return nil, ErrInvalidInput
	}
	switch kind {
	case "lesson", "examprep", "tvc":
	default:
		return nil, ErrInvalidInput
	}
	if in.TimerMinutes < 0 {
		return nil, ErrInvalidInput
	}
	// Timed tests fall back to the configured default duration.
	if in.TimerMinutes == 0 && kind == "tvc" {
		in.TimerMinutes = s.defaultTimerMinutes
	}

	var id int64
	var createdAt time.Time
	if err := s.db.QueryRowContext(ctx, `
		INSERT INTO materials (title, kind, timer_minutes, created_at)
		VALUES ($1, $2, $3, now())
		RETURNING id, created_at
	`, title, kind, in.TimerMinutes).Scan(&id, &createdAt); err != nil {
		return nil, fmt.Errorf("insert material: %w", err)
	}

	return &Material{
		ID:           id,
		Title:        title,
		Kind:         kind,
		TimerMinutes: in.TimerMinutes,
		CreatedAt:    createdAt,
	}, nil
}

// Get returns the full staff view, raw key included. Callers must gate this
// behind the profesor/admin roles.
func (s *Service) Get(ctx context.Context, materialID int64) (*Material, error) {
	return s.loadMaterial(ctx, materialID)
}

// StudentView returns the stripped view for the student role.
func (s *Service) StudentView(ctx context.Context, materialID int64) (*StudentMaterial, error) {
	m, err := s.loadMaterial(ctx, materialID)
	if err != nil {
		return nil, err
	}
	return StripForStudent(m), nil
}

// List returns all materials in the staff shape.
func (s *Service) List(ctx context.Context) ([]Material, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, kind, timer_minutes, answer_key, subject_config, created_at
		FROM materials
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query materials: %w", err)
	}
	defer rows.Close()

	out := make([]Material, 0)
	for rows.Next() {
		m, err := scanMaterial(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate materials: %w", err)
	}
	return out, nil
}

// ListForStudents returns all materials with keys stripped.
func (s *Service) ListForStudents(ctx context.Context) ([]StudentMaterial, error) {
	items, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]StudentMaterial, 0, len(items))
	for i := range items {
		out = append(out, *StripForStudent(&items[i]))
	}
	return out, nil
}

// QuestionCount is the count-only accessor for non-privileged callers: it
// tells the quiz UI how many rows to render without touching the key. For
// multi-subject materials it returns the sum over configured subjects.
func (s *Service) QuestionCount(ctx context.Context, materialID int64) (int, error) {
	m, err := s.loadMaterial(ctx, materialID)
	if err != nil {
		return 0, err
	}
	if len(m.SubjectConfig) > 0 {
		total := 0
		for _, cfg := range m.SubjectConfig {
			total += cfg.QuestionCount
		}
		return total, nil
	}
	if m.AnswerKey != nil {
		return m.AnswerKey.QuestionCount, nil
	}
	return 0, nil
}

// SaveAnswerKey replaces the single-subject key configuration.
func (s *Service) SaveAnswerKey(ctx context.Context, materialID int64, cfg AnswerKeyConfig) (*Material, error) {
	if cfg.QuestionCount < 1 || cfg.Oficiu < 0 {
		return nil, ErrInvalidInput
	}
	for _, v := range cfg.AnswerKey {
		if !ValidLetter(v) {
			return nil, ErrInvalidInput
		}
	}
	cfg.Normalize()

	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode answer key: %w", err)
	}
	if err := s.updateKeyColumn(ctx, materialID, "answer_key", raw); err != nil {
		return nil, err
	}
	return s.loadMaterial(ctx, materialID)
}

// SaveSubjectKey replaces the key configuration of one subject on a
// multi-subject material. Only the fixed subject set is accepted.
func (s *Service) SaveSubjectKey(ctx context.Context, materialID int64, subject string, cfg AnswerKeyConfig) (*Material, error) {
	subject = strings.TrimSpace(strings.ToLower(subject))
	if !IsSubject(subject) {
		return nil, ErrUnknownSubject
	}
	if cfg.QuestionCount < 1 || cfg.Oficiu < 0 {
		return nil, ErrInvalidInput
	}
	for _, v := range cfg.AnswerKey {
		if !ValidLetter(v) {
			return nil, ErrInvalidInput
		}
	}
	cfg.Normalize()

	m, err := s.loadMaterial(ctx, materialID)
	if err != nil {
		return nil, err
	}
	subjects := m.SubjectConfig
	if subjects == nil {
		subjects = make(map[string]AnswerKeyConfig, 1)
	}
	subjects[subject] = cfg

	raw, err := json.Marshal(subjects)
	if err != nil {
		return nil, fmt.Errorf("encode subject config: %w", err)
	}
	if err := s.updateKeyColumn(ctx, materialID, "subject_config", raw); err != nil {
		return nil, err
	}
	return s.loadMaterial(ctx, materialID)
}

// ResizeQuestionCount changes the question count of the single-subject key,
// preserving existing entries by index.
func (s *Service) ResizeQuestionCount(ctx context.Context, materialID int64, n int) (*Material, error) {
	if n < 1 {
		return nil, ErrInvalidInput
	}
	m, err := s.loadMaterial(ctx, materialID)
	if err != nil {
		return nil, err
	}
	cfg := AnswerKeyConfig{QuestionCount: n}
	if m.AnswerKey != nil {
		cfg = *m.AnswerKey
	}
	cfg.Resize(n)

	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode answer key: %w", err)
	}
	if err := s.updateKeyColumn(ctx, materialID, "answer_key", raw); err != nil {
		return nil, err
	}
	return s.loadMaterial(ctx, materialID)
}

// KeyConfigs exposes the raw key to the grading authority and to nothing
// else. Either the single config or the per-subject map is populated.
func (s *Service) KeyConfigs(ctx context.Context, materialID int64) (*AnswerKeyConfig, map[string]AnswerKeyConfig, error) {
	m, err := s.loadMaterial(ctx, materialID)
	if err != nil {
		return nil, nil, err
	}
	return m.AnswerKey, m.SubjectConfig, nil
}

// StripForStudent produces the student view of a material. Answer letters
// are dropped entirely; subjects keep only their counts and oficiu.
func StripForStudent(m *Material) *StudentMaterial {
	out := &StudentMaterial{
		ID:           m.ID,
		Title:        m.Title,
		Kind:         m.Kind,
		TimerMinutes: m.TimerMinutes,
		HasAnswerKey: m.HasAnswerKey,
	}
	if len(m.SubjectConfig) > 0 {
		out.IsMultiSubject = true
		out.SubjectConfig = make(map[string]SubjectOutline, len(m.SubjectConfig))
		for name, cfg := range m.SubjectConfig {
			out.SubjectConfig[name] = SubjectOutline{
				QuestionCount: cfg.QuestionCount,
				Oficiu:        cfg.Oficiu,
			}
			out.QuestionCount += cfg.QuestionCount
		}
		return out
	}
	if m.AnswerKey != nil {
		out.QuestionCount = m.AnswerKey.QuestionCount
	}
	return out
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMaterial(row rowScanner) (*Material, error) {
	var (
		m          Material
		keyRaw     []byte
		subjectRaw []byte
	)
	if err := row.Scan(&m.ID, &m.Title, &m.Kind, &m.TimerMinutes, &keyRaw, &subjectRaw, &m.CreatedAt); err != nil {
		return nil, err
	}
	if len(keyRaw) > 0 {
		var cfg AnswerKeyConfig
		if err := json.Unmarshal(keyRaw, &cfg); err != nil {
			return nil, fmt.Errorf("decode answer key: %w", err)
		}
		cfg.Normalize()
		m.AnswerKey = &cfg
	}
	if len(subjectRaw) > 0 {
		var subjects map[string]AnswerKeyConfig
		if err := json.Unmarshal(subjectRaw, &subjects); err != nil {
			return nil, fmt.Errorf("decode subject config: %w", err)
		}
		for name, cfg := range subjects {
			cfg.Normalize()
			subjects[name] = cfg
		}
		if len(subjects) > 0 {
			m.SubjectConfig = subjects
		}
	}
	m.HasAnswerKey = materialHasKey(&m)
	return &m, nil
}

func materialHasKey(m *Material) bool {
	if m.AnswerKey != nil && m.AnswerKey.HasKey() {
		return true
	}
	for _, cfg := range m.SubjectConfig {
		if cfg.HasKey() {
			return true
		}
	}
	return false
}

func (s *Service) loadMaterial(ctx context.Context, materialID int64) (*Material, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, kind, timer_minutes, answer_key, subject_config, created_at
		FROM materials
		WHERE id = $1
	`, materialID)

	m, err := scanMaterial(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMaterialNotFound
		}
		return nil, fmt.Errorf("load material: %w", err)
	}
	return m, nil
}

func (s *Service) updateKeyColumn(ctx context.Context, materialID int64, column string, raw []byte) error {
	query := `UPDATE materials SET answer_key = $2::jsonb WHERE id = $1`
	if column == "subject_config" {
		query = `UPDATE materials SET subject_config = $2::jsonb WHERE id = $1`
	}
	res, err := s.db.ExecContext(ctx, query, materialID, raw)
	if err != nil {
		return fmt.Errorf("update %s: %w", column, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s rows: %w", column, err)
	}
	if affected == 0 {
		return ErrMaterialNotFound
	}
	return nil
}

// Package grading is the only component allowed to read the answer key.
// It verifies candidate answers server side, writes the submission ledger,
// and returns per-question verdicts without ever shipping the raw key.
package grading

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"tvcportal/internal/ledger"
	"tvcportal/internal/material"
)

var (
	ErrNoAnswerKey      = errors.New("material has no answer key configured")
	ErrAnswerShape      = errors.New("answers do not match the question count")
	ErrAlreadySubmitted = errors.New("attempt already submitted")
	ErrUnknownSubject   = errors.New("subject not part of this test")
	ErrWrongVariant     = errors.New("material does not match the request variant")
)

// KeyStore is the grading authority's read-only window into the answer-key
// store. material.Service implements it.
type KeyStore interface {
	KeyConfigs(ctx context.Context, materialID int64) (*material.AnswerKeyConfig, map[string]material.AnswerKeyConfig, error)
}

type Service struct {
	keys   KeyStore
	ledger ledger.Store
	now    func() time.Time
}

type VerifyInput struct {
	AttemptID        string
	UserID           int64
	MaterialID       int64
	Answers          []string
	TimeSpentSeconds int
}

type MultiVerifyInput struct {
	AttemptID        string
	UserID           int64
	MaterialID       int64
	AnswersBySubject map[string][]string
	TimeSpentSeconds int
}

type Result struct {
	Score            int              `json:"score"`
	TotalQuestions   int              `json:"total_questions"`
	Oficiu           int              `json:"oficiu"`
	Results          []QuestionResult `json:"results"`
	TimeSpentSeconds int              `json:"time_spent_seconds"`
}

type SubjectResult struct {
	Subject        string           `json:"subject"`
	Score          int              `json:"score"`
	TotalQuestions int              `json:"total_questions"`
	Oficiu         int              `json:"oficiu"`
	BaseGrade      float64          `json:"base_grade"`
	FinalGrade     float64          `json:"final_grade"`
	Results        []QuestionResult `json:"results"`
}

type MultiSubjectResult struct {
	SubjectResults   []SubjectResult `json:"subject_results"`
	WeightedAverage  float64         `json:"weighted_average"`
	TimeSpentSeconds int             `json:"time_spent_seconds"`
}

func NewService(keys KeyStore, store ledger.Store) *Service {
	return &Service{keys: keys, ledger: store, now: time.Now}
}

// Verify grades a single-subject attempt and appends exactly one ledger row.
// A repeated call for the same attempt id fails with ErrAlreadySubmitted and
// leaves the ledger untouched.
func (s *Service) Verify(ctx context.Context, in VerifyInput) (*Result, error) {
	single, subjects, err := s.keys.KeyConfigs(ctx, in.MaterialID)
	if err != nil {
		return nil, fmt.Errorf("load answer key: %w", err)
	}
	if len(subjects) > 0 {
		return nil, ErrWrongVariant
	}
	if single == nil || !single.HasKey() {
		return nil, ErrNoAnswerKey
	}
	if len(in.Answers) != single.QuestionCount {
		return nil, ErrAnswerShape
	}

	results, score := scoreAnswers(single.AnswerKey, in.Answers)

	rawAnswers, err := json.Marshal(in.Answers)
	if err != nil {
		return nil, fmt.Errorf("encode answers: %w", err)
	}
	if err := s.appendRecord(ctx, &ledger.Record{
		AttemptID:        in.AttemptID,
		UserID:           in.UserID,
		MaterialID:       in.MaterialID,
		Answers:          rawAnswers,
		Score:            score,
		TotalQuestions:   single.QuestionCount,
		TimeSpentSeconds: in.TimeSpentSeconds,
	}); err != nil {
		return nil, err
	}

	return &Result{
		Score:            score,
		TotalQuestions:   single.QuestionCount,
		Oficiu:           single.Oficiu,
		Results:          results,
		TimeSpentSeconds: in.TimeSpentSeconds,
	}, nil
}

// VerifyMultiSubject grades one sheet per configured subject, derives the
// per-subject final grades, and combines them with the fixed weights.
// Configured subjects missing from the input are graded as fully unanswered
// (the forced-expiry path submits partial sheets). Subjects absent from the
// test configuration contribute 0 to the weighted average.
func (s *Service) VerifyMultiSubject(ctx context.Context, in MultiVerifyInput) (*MultiSubjectResult, error) {
	_, subjects, err := s.keys.KeyConfigs(ctx, in.MaterialID)
	if err != nil {
		return nil, fmt.Errorf("load answer key: %w", err)
	}
	if len(subjects) == 0 {
		return nil, ErrWrongVariant
	}

	for subject, answers := range in.AnswersBySubject {
		cfg, ok := subjects[subject]
		if !ok {
			return nil, ErrUnknownSubject
		}
		if len(answers) != cfg.QuestionCount {
			return nil, ErrAnswerShape
		}
	}

	names := make([]string, 0, len(subjects))
	for name := range subjects {
		names = append(names, name)
	}
	sort.Strings(names)

	finals := make(map[string]float64, len(subjects))
	subjectResults := make([]SubjectResult, 0, len(subjects))
	totalScore := 0
	totalQuestions := 0
	for _, name := range names {
		cfg := subjects[name]
		answers := in.AnswersBySubject[name]
		if answers == nil {
			answers = make([]string, cfg.QuestionCount)
		}

		results, score := scoreAnswers(cfg.AnswerKey, answers)
		base := baseGrade(score, cfg.QuestionCount)
		final := finalGrade(base, cfg.Oficiu)
		finals[name] = final
		totalScore += score
		totalQuestions += cfg.QuestionCount

		subjectResults = append(subjectResults, SubjectResult{
			Subject:        name,
			Score:          score,
			TotalQuestions: cfg.QuestionCount,
			Oficiu:         cfg.Oficiu,
			BaseGrade:      base,
			FinalGrade:     final,
			Results:        results,
		})
	}

	avg := weightedAverage(finals)

	rawAnswers, err := json.Marshal(in.AnswersBySubject)
	if err != nil {
		return nil, fmt.Errorf("encode answers: %w", err)
	}
	if err := s.appendRecord(ctx, &ledger.Record{
		AttemptID:        in.AttemptID,
		UserID:           in.UserID,
		MaterialID:       in.MaterialID,
		Answers:          rawAnswers,
		Score:            totalScore,
		TotalQuestions:   totalQuestions,
		WeightedAverage:  &avg,
		TimeSpentSeconds: in.TimeSpentSeconds,
	}); err != nil {
		return nil, err
	}

	return &MultiSubjectResult{
		SubjectResults:   subjectResults,
		WeightedAverage:  avg,
		TimeSpentSeconds: in.TimeSpentSeconds,
	}, nil
}

func (s *Service) appendRecord(ctx context.Context, rec *ledger.Record) error {
	rec.SubmittedAt = s.now()
	if err := s.ledger.Append(ctx, rec); err != nil {
		if errors.Is(err, ledger.ErrDuplicateAttempt) {
			return ErrAlreadySubmitted
		}
		return fmt.Errorf("append submission: %w", err)
	}
	return nil
}

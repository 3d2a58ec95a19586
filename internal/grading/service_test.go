package grading

import (
	"context"
	"errors"
	"math"
	"testing"

	"tvcportal/internal/ledger"
	"tvcportal/internal/material"
)

type fakeKeyStore struct {
	keyConfigs func(ctx context.Context, materialID int64) (*material.AnswerKeyConfig, map[string]material.AnswerKeyConfig, error)
}

func (f *fakeKeyStore) KeyConfigs(ctx context.Context, materialID int64) (*material.AnswerKeyConfig, map[string]material.AnswerKeyConfig, error) {
	return f.keyConfigs(ctx, materialID)
}

func singleKeyStore(cfg *material.AnswerKeyConfig) *fakeKeyStore {
	return &fakeKeyStore{
		keyConfigs: func(ctx context.Context, materialID int64) (*material.AnswerKeyConfig, map[string]material.AnswerKeyConfig, error) {
			return cfg, nil, nil
		},
	}
}

func multiKeyStore(subjects map[string]material.AnswerKeyConfig) *fakeKeyStore {
	return &fakeKeyStore{
		keyConfigs: func(ctx context.Context, materialID int64) (*material.AnswerKeyConfig, map[string]material.AnswerKeyConfig, error) {
			return nil, subjects, nil
		},
	}
}

func TestVerifyGradesAndAppendsOnce(t *testing.T) {
	store := ledger.NewMemoryStore()
	svc := NewService(singleKeyStore(&material.AnswerKeyConfig{
		QuestionCount: 4,
		AnswerKey:     []string{"A", "B", "C", "D"},
		Oficiu:        1,
	}), store)

	in := VerifyInput{
		AttemptID:        "att-1",
		UserID:           10,
		MaterialID:       1,
		Answers:          []string{"A", "B", "D", ""},
		TimeSpentSeconds: 120,
	}
	res, err := svc.Verify(context.Background(), in)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.Score != 2 || res.TotalQuestions != 4 || res.Oficiu != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if store.Len() != 1 {
		t.Fatalf("expected one ledger row, got %d", store.Len())
	}

	// The same attempt id must not produce a second row.
	if _, err := svc.Verify(context.Background(), in); !errors.Is(err, ErrAlreadySubmitted) {
		t.Fatalf("expected ErrAlreadySubmitted, got %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("duplicate attempt must leave the ledger untouched, got %d rows", store.Len())
	}
}

func TestVerifyAnswerShape(t *testing.T) {
	store := ledger.NewMemoryStore()
	svc := NewService(singleKeyStore(&material.AnswerKeyConfig{
		QuestionCount: 4,
		AnswerKey:     []string{"A", "B", "C", "D"},
	}), store)

	_, err := svc.Verify(context.Background(), VerifyInput{
		AttemptID:  "att-2",
		MaterialID: 1,
		Answers:    []string{"A", "B"},
	})
	if !errors.Is(err, ErrAnswerShape) {
		t.Fatalf("expected ErrAnswerShape, got %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("rejected attempt must not reach the ledger")
	}
}

func TestVerifyNoAnswerKey(t *testing.T) {
	svc := NewService(singleKeyStore(nil), ledger.NewMemoryStore())
	_, err := svc.Verify(context.Background(), VerifyInput{AttemptID: "att-3", MaterialID: 1})
	if !errors.Is(err, ErrNoAnswerKey) {
		t.Fatalf("expected ErrNoAnswerKey, got %v", err)
	}

	svc = NewService(singleKeyStore(&material.AnswerKeyConfig{
		QuestionCount: 2,
		AnswerKey:     []string{"", ""},
	}), ledger.NewMemoryStore())
	_, err = svc.Verify(context.Background(), VerifyInput{
		AttemptID:  "att-4",
		MaterialID: 1,
		Answers:    []string{"A", "B"},
	})
	if !errors.Is(err, ErrNoAnswerKey) {
		t.Fatalf("an all-empty key must not grade, got %v", err)
	}
}

func TestVerifyRejectsMultiSubjectMaterial(t *testing.T) {
	svc := NewService(multiKeyStore(map[string]material.AnswerKeyConfig{
		"matematica": {QuestionCount: 1, AnswerKey: []string{"A"}},
	}), ledger.NewMemoryStore())

	_, err := svc.Verify(context.Background(), VerifyInput{
		AttemptID:  "att-5",
		MaterialID: 1,
		Answers:    []string{"A"},
	})
	if !errors.Is(err, ErrWrongVariant) {
		t.Fatalf("expected ErrWrongVariant, got %v", err)
	}
}

func TestVerifyPropagatesMaterialNotFound(t *testing.T) {
	ks := &fakeKeyStore{
		keyConfigs: func(ctx context.Context, materialID int64) (*material.AnswerKeyConfig, map[string]material.AnswerKeyConfig, error) {
			return nil, nil, material.ErrMaterialNotFound
		},
	}
	svc := NewService(ks, ledger.NewMemoryStore())
	_, err := svc.Verify(context.Background(), VerifyInput{AttemptID: "att-6", MaterialID: 99})
	if !errors.Is(err, material.ErrMaterialNotFound) {
		t.Fatalf("expected wrapped ErrMaterialNotFound, got %v", err)
	}
}

func TestVerifyMultiSubject(t *testing.T) {
	store := ledger.NewMemoryStore()
	svc := NewService(multiKeyStore(map[string]material.AnswerKeyConfig{
		"matematica":  {QuestionCount: 2, AnswerKey: []string{"A", "B"}, Oficiu: 1},
		"informatica": {QuestionCount: 2, AnswerKey: []string{"C", "D"}, Oficiu: 1},
	}), store)

	res, err := svc.VerifyMultiSubject(context.Background(), MultiVerifyInput{
		AttemptID:  "att-7",
		UserID:     10,
		MaterialID: 2,
		AnswersBySubject: map[string][]string{
			"matematica":  {"A", "B"},
			"informatica": {"C", ""},
		},
	})
	if err != nil {
		t.Fatalf("verify multi: %v", err)
	}
	if len(res.SubjectResults) != 2 {
		t.Fatalf("expected 2 subject results, got %d", len(res.SubjectResults))
	}

	// matematica: 2/2 -> base 9, final 10. informatica: 1/2 -> base 4.5, final 5.5.
	// fizica is not configured and contributes 0 with its weight kept.
	want := 10*0.5 + 5.5*0.3
	if math.Abs(res.WeightedAverage-want) > 1e-9 {
		t.Fatalf("weighted average = %v, want %v", res.WeightedAverage, want)
	}
	if store.Len() != 1 {
		t.Fatalf("expected one ledger row for the whole composite, got %d", store.Len())
	}

	rows, _ := store.ListForMaterials(context.Background(), []int64{2})
	if rows[0].WeightedAverage == nil || math.Abs(*rows[0].WeightedAverage-want) > 1e-9 {
		t.Fatalf("ledger row should carry the weighted average: %+v", rows[0])
	}
}

func TestVerifyMultiSubjectMissingSheetGradedEmpty(t *testing.T) {
	store := ledger.NewMemoryStore()
	svc := NewService(multiKeyStore(map[string]material.AnswerKeyConfig{
		"matematica": {QuestionCount: 2, AnswerKey: []string{"A", "B"}, Oficiu: 1},
		"fizica":     {QuestionCount: 2, AnswerKey: []string{"C", "D"}, Oficiu: 1},
	}), store)

	res, err := svc.VerifyMultiSubject(context.Background(), MultiVerifyInput{
		AttemptID:  "att-8",
		MaterialID: 2,
		AnswersBySubject: map[string][]string{
			"matematica": {"A", "B"},
		},
	})
	if err != nil {
		t.Fatalf("a missing sheet must grade as unanswered, got %v", err)
	}

	for _, sr := range res.SubjectResults {
		if sr.Subject == "fizica" {
			if sr.Score != 0 || sr.FinalGrade != 1.0 {
				t.Fatalf("empty fizica sheet should score 0 with oficiu only: %+v", sr)
			}
		}
	}
}

func TestVerifyMultiSubjectUnknownSubject(t *testing.T) {
	svc := NewService(multiKeyStore(map[string]material.AnswerKeyConfig{
		"matematica": {QuestionCount: 1, AnswerKey: []string{"A"}},
	}), ledger.NewMemoryStore())

	_, err := svc.VerifyMultiSubject(context.Background(), MultiVerifyInput{
		AttemptID:  "att-9",
		MaterialID: 2,
		AnswersBySubject: map[string][]string{
			"istorie": {"A"},
		},
	})
	if !errors.Is(err, ErrUnknownSubject) {
		t.Fatalf("expected ErrUnknownSubject, got %v", err)
	}
}

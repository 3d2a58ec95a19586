package grading

import (
	"strings"

	"tvcportal/internal/material"
)

// QuestionResult is the per-question verdict returned after grading. The
// correct answer is revealed here, post-hoc, and nowhere earlier.
type QuestionResult struct {
	QuestionIndex int    `json:"question_index"`
	UserAnswer    string `json:"user_answer"`
	CorrectAnswer string `json:"correct_answer"`
	IsCorrect     bool   `json:"is_correct"`
}

// scoreAnswers compares a candidate sheet against the key. Both slices have
// the same length (the caller enforces the shape). An empty or unkeyed slot
// is never correct.
func scoreAnswers(key, answers []string) ([]QuestionResult, int) {
	results := make([]QuestionResult, len(key))
	score := 0
	for i := range key {
		correct := strings.ToUpper(strings.TrimSpace(key[i]))
		given := strings.ToUpper(strings.TrimSpace(answers[i]))
		ok := correct != "" && given != "" && given == correct
		if ok {
			score++
		}
		results[i] = QuestionResult{
			QuestionIndex: i,
			UserAnswer:    given,
			CorrectAnswer: correct,
			IsCorrect:     ok,
		}
	}
	return results, score
}

// baseGrade maps a raw score onto the 1-10 grading scale before oficiu:
// 9 points spread across the questions, so a perfect sheet plus the
// customary oficiu of 1 lands exactly on 10.
func baseGrade(score, questionCount int) float64 {
	if questionCount <= 0 {
		return 0
	}
	return 9.0 * float64(score) / float64(questionCount)
}

// finalGrade adds oficiu and caps at 10.
func finalGrade(base float64, oficiu int) float64 {
	g := base + float64(oficiu)
	if g > 10 {
		return 10
	}
	return g
}

// weightedAverage combines per-subject final grades with the fixed subject
// weights. Subjects absent from the test configuration contribute 0; the
// remaining weights are NOT renormalized.
func weightedAverage(finals map[string]float64) float64 {
	total := 0.0
	for subject, grade := range finals {
		total += grade * material.SubjectWeight(subject)
	}
	return total
}

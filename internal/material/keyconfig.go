package material

import "strings"

// AnswerKeyConfig holds the correction key for one test sheet: the ordered
// correct option letters, one per question, plus the "oficiu" bonus granted
// on top of the scaled grade. AnswerKey always has exactly QuestionCount
// entries; an empty entry means the question has no key set yet.
type AnswerKeyConfig struct {
	QuestionCount int      `json:"question_count"`
	AnswerKey     []string `json:"answer_key"`
	Oficiu        int      `json:"oficiu"`
}

// Subject identifiers eligible for multi-subject tests, and their fixed
// composite weights. The weights sum to 1.0.
const (
	SubjectMatematica  = "matematica"
	SubjectInformatica = "informatica"
	SubjectFizica      = "fizica"
)

var subjectWeights = map[string]float64{
	SubjectMatematica:  0.5,
	SubjectInformatica: 0.3,
	SubjectFizica:      0.2,
}

func Subjects() []string {
	return []string{SubjectMatematica, SubjectInformatica, SubjectFizica}
}

func IsSubject(name string) bool {
	_, ok := subjectWeights[strings.TrimSpace(strings.ToLower(name))]
	return ok
}

// SubjectWeight returns the fixed composite weight for a subject, or 0 for
// anything outside the eligible set.
func SubjectWeight(name string) float64 {
	return subjectWeights[strings.TrimSpace(strings.ToLower(name))]
}

// ValidLetter reports whether s is an allowed answer value: one of the four
// option letters or empty (unanswered / no key).
func ValidLetter(s string) bool {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "A", "B", "C", "D":
		return true
	default:
		return false
	}
}

// Normalize trims and upper-cases every key entry and forces the invariant
// len(AnswerKey) == QuestionCount, padding with empty entries or truncating
// as needed. Invalid letters are cleared rather than rejected.
func (c *AnswerKeyConfig) Normalize() {
	if c.QuestionCount < 0 {
		c.QuestionCount = 0
	}
	for i, v := range c.AnswerKey {
		v = strings.ToUpper(strings.TrimSpace(v))
		if !ValidLetter(v) {
			v = ""
		}
		c.AnswerKey[i] = v
	}
	c.Resize(c.QuestionCount)
}

// Resize changes the question count, preserving existing key entries by
// index: shrinking truncates, growing pads with empty entries. Shrinking and
// growing back keeps the original prefix.
func (c *AnswerKeyConfig) Resize(n int) {
	if n < 0 {
		n = 0
	}
	c.QuestionCount = n
	switch {
	case len(c.AnswerKey) > n:
		c.AnswerKey = c.AnswerKey[:n]
	case len(c.AnswerKey) < n:
		padded := make([]string, n)
		copy(padded, c.AnswerKey)
		c.AnswerKey = padded
	}
}

// HasKey reports whether at least one question has a key entry set.
func (c AnswerKeyConfig) HasKey() bool {
	for _, v := range c.AnswerKey {
		if v != "" {
			return true
		}
	}
	return false
}

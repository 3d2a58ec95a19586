// Package session holds the per-attempt quiz state machine and the countdown
// timer that drives it. Sessions are ephemeral: nothing here is persisted,
// only a successful grading call writes to the ledger (through the grading
// authority). Each session owns its timer; tearing the session down stops
// the timer with no side effects.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"tvcportal/internal/grading"
	"tvcportal/internal/material"

	"github.com/google/uuid"
)

type Status string

const (
	StatusNotStarted  Status = "not_started"
	StatusRunning     Status = "running"
	StatusTimeExpired Status = "time_expired"
	StatusSubmitting  Status = "submitting"
	StatusGraded      Status = "graded"
)

// lowTimeWarnSeconds is the remaining-time threshold at which the one-time
// low-time warning fires.
const lowTimeWarnSeconds = 300

var (
	ErrAlreadyStarted  = errors.New("session already started")
	ErrNotRunning      = errors.New("session is not accepting answers")
	ErrUnanswered      = errors.New("all questions must be answered before submitting")
	ErrNotGraded       = errors.New("session is not graded yet")
	ErrInvalidQuestion = errors.New("question index out of range")
	ErrInvalidLetter   = errors.New("answer must be one of A, B, C, D or empty")
	ErrUnknownSubject  = errors.New("subject not part of this test")
	ErrClosed          = errors.New("session closed")
)

// Grader is the session's view of the grading authority.
type Grader interface {
	Verify(ctx context.Context, in grading.VerifyInput) (*grading.Result, error)
	VerifyMultiSubject(ctx context.Context, in grading.MultiVerifyInput) (*grading.MultiSubjectResult, error)
}

// Session is one student's attempt at one timed test. All exported methods
// are safe for concurrent use; the timer goroutine and HTTP handlers
// interleave on the internal mutex.
type Session struct {
	ID         string
	UserID     int64
	MaterialID int64

	grader Grader
	clock  Clock

	mu             sync.Mutex
	attemptID      string
	totalSeconds   int
	remaining      int
	status         Status
	warned         bool
	lowTime        bool
	closed         bool
	stop           chan struct{}
	answers        []string
	subjectCounts  map[string]int
	subjectAnswers map[string][]string
	result         *grading.Result
	multiResult    *grading.MultiSubjectResult
	lastError      string
}

// View is a read-only snapshot of a session, safe to serialize.
type View struct {
	ID               string                      `json:"id"`
	AttemptID        string                      `json:"attempt_id"`
	MaterialID       int64                       `json:"material_id"`
	Status           Status                      `json:"status"`
	TotalSeconds     int                         `json:"total_seconds"`
	RemainingSeconds int                         `json:"remaining_seconds"`
	LowTimeWarning   bool                        `json:"low_time_warning"`
	IsMultiSubject   bool                        `json:"is_multi_subject"`
	Answers          []string                    `json:"answers,omitempty"`
	AnswersBySubject map[string][]string         `json:"answers_by_subject,omitempty"`
	AllAnswered      bool                        `json:"all_answered"`
	Result           *grading.Result             `json:"result,omitempty"`
	MultiResult      *grading.MultiSubjectResult `json:"multi_subject_result,omitempty"`
	LastError        string                      `json:"last_error,omitempty"`
}

func newSession(userID int64, m *material.StudentMaterial, grader Grader, clock Clock) *Session {
	s := &Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		MaterialID:   m.ID,
		grader:       grader,
		clock:        clock,
		attemptID:    uuid.NewString(),
		totalSeconds: m.TimerMinutes * 60,
		status:       StatusNotStarted,
	}
	s.remaining = s.totalSeconds
	if m.IsMultiSubject {
		s.subjectCounts = make(map[string]int, len(m.SubjectConfig))
		s.subjectAnswers = make(map[string][]string, len(m.SubjectConfig))
		for name, outline := range m.SubjectConfig {
			s.subjectCounts[name] = outline.QuestionCount
			s.subjectAnswers[name] = make([]string, outline.QuestionCount)
		}
	} else {
		s.answers = make([]string, m.QuestionCount)
	}
	return s
}

// Start transitions not_started -> running and begins the 1-second cadence.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.status != StatusNotStarted {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.status = StatusRunning
	s.remaining = s.totalSeconds
	stop := make(chan struct{})
	s.stop = stop
	s.mu.Unlock()

	ticker := s.clock.NewTicker(time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.Chan():
				switch s.tick() {
				case tickContinue:
				case tickStop:
					return
				case tickExpire:
					// Exactly one forced submission per expiry; a failure
					// leaves the session in time_expired for a manual retry.
					_ = s.submit(context.Background(), true)
					return
				}
			}
		}
	}()
	return nil
}

type tickAction int

const (
	tickContinue tickAction = iota
	tickStop
	tickExpire
)

func (s *Session) tick() tickAction {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.status {
	case StatusRunning:
	case StatusSubmitting:
		// Countdown pauses while a grading call is in flight.
		return tickContinue
	default:
		return tickStop
	}

	if s.remaining > 0 {
		s.remaining--
	}
	if s.remaining == lowTimeWarnSeconds && !s.warned {
		s.warned = true
		s.lowTime = true
	}
	if s.remaining <= 0 {
		s.status = StatusTimeExpired
		return tickExpire
	}
	return tickContinue
}

// SetAnswer records the selection for one question, replacing any previous
// selection. Only accepted while running.
func (s *Session) SetAnswer(questionIndex int, letter string) error {
	letter = strings.ToUpper(strings.TrimSpace(letter))
	if !material.ValidLetter(letter) {
		return ErrInvalidLetter
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusRunning {
		return ErrNotRunning
	}
	if s.answers == nil {
		return ErrUnknownSubject
	}
	if questionIndex < 0 || questionIndex >= len(s.answers) {
		return ErrInvalidQuestion
	}
	s.answers[questionIndex] = letter
	return nil
}

// SetSubjectAnswer is the multi-subject variant of SetAnswer.
func (s *Session) SetSubjectAnswer(subject string, questionIndex int, letter string) error {
	letter = strings.ToUpper(strings.TrimSpace(letter))
	if !material.ValidLetter(letter) {
		return ErrInvalidLetter
	}
	subject = strings.TrimSpace(strings.ToLower(subject))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusRunning {
		return ErrNotRunning
	}
	sheet, ok := s.subjectAnswers[subject]
	if !ok {
		return ErrUnknownSubject
	}
	if questionIndex < 0 || questionIndex >= len(sheet) {
		return ErrInvalidQuestion
	}
	sheet[questionIndex] = letter
	return nil
}

// Submit is the manual submission path. It requires every question to be
// answered unless the timer has already expired; while a grading call is in
// flight (or after grading) it is a no-op.
func (s *Session) Submit(ctx context.Context) error {
	return s.submit(ctx, false)
}

func (s *Session) submit(ctx context.Context, forced bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	switch s.status {
	case StatusSubmitting, StatusGraded:
		// Whoever reached the guard first won; this call is suppressed.
		s.mu.Unlock()
		return nil
	case StatusRunning:
		if !forced && !s.allAnsweredLocked() {
			s.mu.Unlock()
			return ErrUnanswered
		}
	case StatusTimeExpired:
		// Expiry bypasses the all-answered guard, including manual retries
		// after a failed forced submission.
	default:
		s.mu.Unlock()
		return ErrNotRunning
	}

	prev := s.status
	s.status = StatusSubmitting
	attemptID := s.attemptID
	userID := s.UserID
	materialID := s.MaterialID
	timeSpent := s.totalSeconds - s.remaining
	multi := s.subjectAnswers != nil
	var answers []string
	var bySubject map[string][]string
	if multi {
		bySubject = make(map[string][]string, len(s.subjectAnswers))
		for name, sheet := range s.subjectAnswers {
			bySubject[name] = append([]string(nil), sheet...)
		}
	} else {
		answers = append([]string(nil), s.answers...)
	}
	s.mu.Unlock()

	var (
		result      *grading.Result
		multiResult *grading.MultiSubjectResult
		err         error
	)
	if multi {
		multiResult, err = s.grader.VerifyMultiSubject(ctx, grading.MultiVerifyInput{
			AttemptID:        attemptID,
			UserID:           userID,
			MaterialID:       materialID,
			AnswersBySubject: bySubject,
			TimeSpentSeconds: timeSpent,
		})
	} else {
		result, err = s.grader.Verify(ctx, grading.VerifyInput{
			AttemptID:        attemptID,
			UserID:           userID,
			MaterialID:       materialID,
			Answers:          answers,
			TimeSpentSeconds: timeSpent,
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		// Any failure returns the session to a submittable state with the
		// collected answers intact; nothing is silently swallowed.
		s.status = prev
		s.lastError = err.Error()
		return fmt.Errorf("grading call failed: %w", err)
	}
	s.result = result
	s.multiResult = multiResult
	s.status = StatusGraded
	s.lastError = ""
	s.stopTimerLocked()
	return nil
}

// Reset starts a brand-new attempt on the same material: fresh attempt id,
// cleared answers, timer back at full. The previous attempt's ledger row is
// untouched. Only a graded session can be reset.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.status != StatusGraded {
		return ErrNotGraded
	}
	s.attemptID = uuid.NewString()
	s.status = StatusNotStarted
	s.remaining = s.totalSeconds
	s.warned = false
	s.lowTime = false
	s.result = nil
	s.multiResult = nil
	s.lastError = ""
	if s.answers != nil {
		s.answers = make([]string, len(s.answers))
	}
	for name, count := range s.subjectCounts {
		s.subjectAnswers[name] = make([]string, count)
	}
	return nil
}

// Close tears the session down: the timer stops and the in-progress attempt
// is discarded without any grading call or ledger write.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.stopTimerLocked()
}

func (s *Session) stopTimerLocked() {
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}

func (s *Session) allAnsweredLocked() bool {
	if s.answers != nil {
		for _, v := range s.answers {
			if v == "" {
				return false
			}
		}
		return true
	}
	for _, sheet := range s.subjectAnswers {
		for _, v := range sheet {
			if v == "" {
				return false
			}
		}
	}
	return true
}

// AttemptID returns the identifier of the current attempt.
func (s *Session) AttemptID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attemptID
}

// Status returns the current state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// View snapshots the session for rendering.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		ID:               s.ID,
		AttemptID:        s.attemptID,
		MaterialID:       s.MaterialID,
		Status:           s.status,
		TotalSeconds:     s.totalSeconds,
		RemainingSeconds: s.remaining,
		LowTimeWarning:   s.lowTime,
		IsMultiSubject:   s.subjectAnswers != nil,
		AllAnswered:      s.allAnsweredLocked(),
		Result:           s.result,
		MultiResult:      s.multiResult,
		LastError:        s.lastError,
	}
	if s.answers != nil {
		v.Answers = append([]string(nil), s.answers...)
	}
	if s.subjectAnswers != nil {
		v.AnswersBySubject = make(map[string][]string, len(s.subjectAnswers))
		names := make([]string, 0, len(s.subjectAnswers))
		for name := range s.subjectAnswers {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			v.AnswersBySubject[name] = append([]string(nil), s.subjectAnswers[name]...)
		}
	}
	return v
}

// AcknowledgeWarning clears the low-time flag after the UI has shown it.
// The warning fires at most once per attempt regardless.
func (s *Session) AcknowledgeWarning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lowTime = false
}

package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tvcportal/internal/grading"
	"tvcportal/internal/material"
)

type fakeTicker struct {
	ch chan time.Time
}

func (f *fakeTicker) Chan() <-chan time.Time { return f.ch }
func (f *fakeTicker) Stop()                  {}

type fakeClock struct {
	mu      sync.Mutex
	tickers []*fakeTicker
}

func (c *fakeClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{ch: make(chan time.Time)}
	c.tickers = append(c.tickers, t)
	return t
}

// advance pushes n ticks through the most recent ticker.
func (c *fakeClock) advance(n int) {
	c.mu.Lock()
	t := c.tickers[len(c.tickers)-1]
	c.mu.Unlock()
	for i := 0; i < n; i++ {
		t.ch <- time.Now()
	}
}

type fakeGrader struct {
	mu          sync.Mutex
	verifyCalls int
	multiCalls  int
	lastInput   grading.VerifyInput
	lastMulti   grading.MultiVerifyInput
	fail        bool
}

func (g *fakeGrader) Verify(ctx context.Context, in grading.VerifyInput) (*grading.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifyCalls++
	g.lastInput = in
	if g.fail {
		return nil, errors.New("ledger unavailable")
	}
	return &grading.Result{TotalQuestions: len(in.Answers), TimeSpentSeconds: in.TimeSpentSeconds}, nil
}

func (g *fakeGrader) VerifyMultiSubject(ctx context.Context, in grading.MultiVerifyInput) (*grading.MultiSubjectResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.multiCalls++
	g.lastMulti = in
	if g.fail {
		return nil, errors.New("ledger unavailable")
	}
	return &grading.MultiSubjectResult{TimeSpentSeconds: in.TimeSpentSeconds}, nil
}

func (g *fakeGrader) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.verifyCalls + g.multiCalls
}

func (g *fakeGrader) setFail(v bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fail = v
}

func singleMaterial(timerMinutes, questions int) *material.StudentMaterial {
	return &material.StudentMaterial{
		ID:            1,
		Kind:          "tvc",
		TimerMinutes:  timerMinutes,
		QuestionCount: questions,
		HasAnswerKey:  true,
	}
}

func multiMaterial(timerMinutes int) *material.StudentMaterial {
	return &material.StudentMaterial{
		ID:             2,
		Kind:           "tvc",
		TimerMinutes:   timerMinutes,
		HasAnswerKey:   true,
		IsMultiSubject: true,
		QuestionCount:  4,
		SubjectConfig: map[string]material.SubjectOutline{
			"matematica": {QuestionCount: 2, Oficiu: 1},
			"fizica":     {QuestionCount: 2, Oficiu: 1},
		},
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestExpiryForcesExactlyOneSubmission(t *testing.T) {
	clock := &fakeClock{}
	grader := &fakeGrader{}
	s := newSession(10, singleMaterial(1, 2), grader, clock)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	// One answered, one not: expiry must submit the partial sheet anyway.
	if err := s.SetAnswer(0, "A"); err != nil {
		t.Fatalf("set answer: %v", err)
	}

	clock.advance(60)
	waitFor(t, func() bool { return s.Status() == StatusGraded })

	if n := grader.calls(); n != 1 {
		t.Fatalf("expiry must grade exactly once, got %d calls", n)
	}
	grader.mu.Lock()
	in := grader.lastInput
	grader.mu.Unlock()
	if in.Answers[0] != "A" || in.Answers[1] != "" {
		t.Fatalf("forced submission should carry the partial sheet: %v", in.Answers)
	}
	if in.TimeSpentSeconds != 60 {
		t.Fatalf("time spent = %d, want 60", in.TimeSpentSeconds)
	}
}

func TestManualSubmitRequiresAllAnswered(t *testing.T) {
	clock := &fakeClock{}
	grader := &fakeGrader{}
	s := newSession(10, singleMaterial(5, 2), grader, clock)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := s.SetAnswer(0, "A"); err != nil {
		t.Fatalf("set answer: %v", err)
	}
	if err := s.Submit(context.Background()); !errors.Is(err, ErrUnanswered) {
		t.Fatalf("expected ErrUnanswered, got %v", err)
	}
	if grader.calls() != 0 {
		t.Fatalf("rejected submit must not reach the grader")
	}

	if err := s.SetAnswer(1, "B"); err != nil {
		t.Fatalf("set answer: %v", err)
	}
	if err := s.Submit(context.Background()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if s.Status() != StatusGraded {
		t.Fatalf("expected graded, got %s", s.Status())
	}

	// A second submit is a silent no-op.
	if err := s.Submit(context.Background()); err != nil {
		t.Fatalf("repeat submit should be a no-op, got %v", err)
	}
	if grader.calls() != 1 {
		t.Fatalf("expected a single grading call, got %d", grader.calls())
	}
}

func TestFailedSubmissionRevertsState(t *testing.T) {
	clock := &fakeClock{}
	grader := &fakeGrader{fail: true}
	s := newSession(10, singleMaterial(5, 1), grader, clock)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.SetAnswer(0, "C"); err != nil {
		t.Fatalf("set answer: %v", err)
	}

	if err := s.Submit(context.Background()); err == nil {
		t.Fatalf("expected grading failure to surface")
	}
	if s.Status() != StatusRunning {
		t.Fatalf("failed submit must return to running, got %s", s.Status())
	}
	v := s.View()
	if v.LastError == "" {
		t.Fatalf("failure must be recorded on the session")
	}
	if v.Answers[0] != "C" {
		t.Fatalf("answers must survive a failed submit: %v", v.Answers)
	}

	grader.setFail(false)
	if err := s.Submit(context.Background()); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if s.Status() != StatusGraded {
		t.Fatalf("expected graded after retry, got %s", s.Status())
	}
	if s.View().LastError != "" {
		t.Fatalf("success must clear the recorded error")
	}
}

func TestFailedForcedSubmissionAllowsManualRetry(t *testing.T) {
	clock := &fakeClock{}
	grader := &fakeGrader{fail: true}
	s := newSession(10, singleMaterial(1, 2), grader, clock)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	clock.advance(60)
	waitFor(t, func() bool { return s.Status() == StatusTimeExpired && grader.calls() == 1 })

	// The retry bypasses the all-answered guard because time already expired.
	grader.setFail(false)
	if err := s.Submit(context.Background()); err != nil {
		t.Fatalf("manual retry after expiry: %v", err)
	}
	if s.Status() != StatusGraded {
		t.Fatalf("expected graded, got %s", s.Status())
	}
	if grader.calls() != 2 {
		t.Fatalf("expected 2 grading calls (failed + retry), got %d", grader.calls())
	}
}

func TestLowTimeWarningFiresOnce(t *testing.T) {
	clock := &fakeClock{}
	grader := &fakeGrader{}
	s := newSession(10, singleMaterial(6, 1), grader, clock)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	clock.advance(60)
	waitFor(t, func() bool { return s.View().RemainingSeconds == 300 })
	if !s.View().LowTimeWarning {
		t.Fatalf("warning should fire at the 300s threshold")
	}

	s.AcknowledgeWarning()
	clock.advance(5)
	waitFor(t, func() bool { return s.View().RemainingSeconds == 295 })
	if s.View().LowTimeWarning {
		t.Fatalf("warning must not re-fire after acknowledgement")
	}
}

func TestCloseDiscardsAttempt(t *testing.T) {
	clock := &fakeClock{}
	grader := &fakeGrader{}
	s := newSession(10, singleMaterial(1, 1), grader, clock)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.SetAnswer(0, "A"); err != nil {
		t.Fatalf("set answer: %v", err)
	}

	s.Close()
	if grader.calls() != 0 {
		t.Fatalf("closing must not trigger grading")
	}
	if err := s.Submit(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestResetStartsFreshAttempt(t *testing.T) {
	clock := &fakeClock{}
	grader := &fakeGrader{}
	s := newSession(10, singleMaterial(5, 1), grader, clock)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.SetAnswer(0, "A"); err != nil {
		t.Fatalf("set answer: %v", err)
	}
	if err := s.Submit(context.Background()); err != nil {
		t.Fatalf("submit: %v", err)
	}

	firstAttempt := s.AttemptID()
	if err := s.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}

	v := s.View()
	if v.AttemptID == firstAttempt {
		t.Fatalf("reset must mint a new attempt id")
	}
	if v.Status != StatusNotStarted || v.RemainingSeconds != v.TotalSeconds {
		t.Fatalf("reset must restore the initial state: %+v", v)
	}
	if v.Answers[0] != "" {
		t.Fatalf("reset must clear answers: %v", v.Answers)
	}
	if v.Result != nil {
		t.Fatalf("reset must drop the previous result")
	}
}

func TestResetRequiresGraded(t *testing.T) {
	clock := &fakeClock{}
	s := newSession(10, singleMaterial(5, 1), &fakeGrader{}, clock)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Reset(); !errors.Is(err, ErrNotGraded) {
		t.Fatalf("expected ErrNotGraded, got %v", err)
	}
}

func TestSetAnswerValidation(t *testing.T) {
	clock := &fakeClock{}
	s := newSession(10, singleMaterial(5, 2), &fakeGrader{}, clock)

	// Not started yet.
	if err := s.SetAnswer(0, "A"); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.SetAnswer(0, "E"); !errors.Is(err, ErrInvalidLetter) {
		t.Fatalf("expected ErrInvalidLetter, got %v", err)
	}
	if err := s.SetAnswer(5, "A"); !errors.Is(err, ErrInvalidQuestion) {
		t.Fatalf("expected ErrInvalidQuestion, got %v", err)
	}

	// Replacing a selection is allowed, including clearing it.
	if err := s.SetAnswer(0, "a"); err != nil {
		t.Fatalf("set answer: %v", err)
	}
	if err := s.SetAnswer(0, ""); err != nil {
		t.Fatalf("clear answer: %v", err)
	}
	if got := s.View().Answers[0]; got != "" {
		t.Fatalf("expected cleared answer, got %q", got)
	}
}

func TestMultiSubjectSession(t *testing.T) {
	clock := &fakeClock{}
	grader := &fakeGrader{}
	s := newSession(10, multiMaterial(5), grader, clock)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := s.SetSubjectAnswer("istorie", 0, "A"); !errors.Is(err, ErrUnknownSubject) {
		t.Fatalf("expected ErrUnknownSubject, got %v", err)
	}
	if err := s.SetSubjectAnswer("matematica", 0, "A"); err != nil {
		t.Fatalf("set subject answer: %v", err)
	}
	if err := s.SetSubjectAnswer("MATEMATICA", 1, "b"); err != nil {
		t.Fatalf("subject names should be case-insensitive: %v", err)
	}

	if err := s.Submit(context.Background()); !errors.Is(err, ErrUnanswered) {
		t.Fatalf("expected ErrUnanswered with fizica empty, got %v", err)
	}

	if err := s.SetSubjectAnswer("fizica", 0, "C"); err != nil {
		t.Fatalf("set subject answer: %v", err)
	}
	if err := s.SetSubjectAnswer("fizica", 1, "D"); err != nil {
		t.Fatalf("set subject answer: %v", err)
	}
	if err := s.Submit(context.Background()); err != nil {
		t.Fatalf("submit: %v", err)
	}

	grader.mu.Lock()
	in := grader.lastMulti
	multiCalls := grader.multiCalls
	grader.mu.Unlock()
	if multiCalls != 1 {
		t.Fatalf("expected one multi-subject grading call, got %d", multiCalls)
	}
	if in.AnswersBySubject["matematica"][0] != "A" || in.AnswersBySubject["fizica"][1] != "D" {
		t.Fatalf("unexpected sheets: %v", in.AnswersBySubject)
	}
}

func TestStartTwice(t *testing.T) {
	clock := &fakeClock{}
	s := newSession(10, singleMaterial(5, 1), &fakeGrader{}, clock)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
}

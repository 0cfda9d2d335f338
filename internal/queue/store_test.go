package queue

import (
	"errors"
	"testing"

	"github.com/bobarin/recapmaker/internal/models"
)

func TestStatusUnknownJob(t *testing.T) {
	s := NewStore()
	if got := s.Status("nope"); got.Status != models.JobStatusNotFound {
		t.Errorf("status = %s, want not_found", got.Status)
	}
}

func TestLifecycleSuccess(t *testing.T) {
	s := NewStore()
	s.Create(testJob("a"))

	if err := s.MarkProcessing("a"); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if got := s.Status("a").Status; got != models.JobStatusProcessing {
		t.Errorf("status = %s", got)
	}

	if err := s.Complete("a", "/stream-and-delete/recap_a.mp4"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	got := s.Status("a")
	if got.Status != models.JobStatusSuccess || got.URL != "/stream-and-delete/recap_a.mp4" {
		t.Errorf("status = %+v", got)
	}
}

func TestTerminalStatesAreFinal(t *testing.T) {
	s := NewStore()
	s.Create(testJob("a"))
	s.MarkProcessing("a")
	s.Fail("a", "Rendering Failed: boom")

	if err := s.Complete("a", "/x"); !errors.Is(err, ErrTerminal) {
		t.Errorf("Complete after Fail: got %v, want ErrTerminal", err)
	}
	if err := s.MarkProcessing("a"); !errors.Is(err, ErrTerminal) {
		t.Errorf("MarkProcessing after Fail: got %v, want ErrTerminal", err)
	}

	got := s.Status("a")
	if got.Status != models.JobStatusFailed || got.Message != "Rendering Failed: boom" || got.URL != "" {
		t.Errorf("terminal state changed: %+v", got)
	}
}

func TestTransitionUnknownJob(t *testing.T) {
	s := NewStore()
	if err := s.Fail("ghost", "x"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("got %v, want ErrJobNotFound", err)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := NewStore()
	s.Create(testJob("a"))

	job, _ := s.Get("a")
	job.Status = models.JobStatusSuccess

	if s.Status("a").Status != models.JobStatusQueued {
		t.Error("mutating a returned job must not affect the store")
	}
}

func TestCounts(t *testing.T) {
	s := NewStore()
	s.Create(testJob("a"))
	s.Create(testJob("b"))
	s.MarkProcessing("b")

	counts := s.Counts()
	if counts[models.JobStatusQueued] != 1 || counts[models.JobStatusProcessing] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

package queue

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bobarin/recapmaker/internal/models"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobExists   = errors.New("job already exists")
	ErrTerminal    = errors.New("job already finished")
	ErrInvalidJob  = errors.New("invalid job")
)

// Store is the process-wide job status table. It is safe for concurrent use;
// callers always get copies, never pointers into the table.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*models.RenderJob
	now  func() time.Time
}

func NewStore() *Store {
	return &Store{
		jobs: make(map[string]*models.RenderJob),
		now:  time.Now,
	}
}

// Create records job as queued.
func (s *Store) Create(job models.RenderJob) error {
	if job.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidJob)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("%w: %s", ErrJobExists, job.ID)
	}

	now := s.now()
	job.Status = models.JobStatusQueued
	job.URL = ""
	job.Message = ""
	job.CreatedAt = now
	job.UpdatedAt = now
	s.jobs[job.ID] = &job
	return nil
}

// Get returns a copy of the job.
func (s *Store) Get(id string) (models.RenderJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return models.RenderJob{}, false
	}
	return *job, true
}

// Status returns the poller view of a job; unknown ids report not_found.
func (s *Store) Status(id string) models.StatusResponse {
	job, ok := s.Get(id)
	if !ok {
		return models.StatusResponse{Status: models.JobStatusNotFound}
	}
	return models.StatusOf(job)
}

// MarkProcessing moves a queued job to processing.
func (s *Store) MarkProcessing(id string) error {
	return s.transition(id, func(job *models.RenderJob) {
		job.Status = models.JobStatusProcessing
	})
}

// Complete records a successful render and where to fetch it.
func (s *Store) Complete(id, url string) error {
	return s.transition(id, func(job *models.RenderJob) {
		job.Status = models.JobStatusSuccess
		job.URL = url
		job.Message = ""
	})
}

// Fail records a failed render with a readable message.
func (s *Store) Fail(id, message string) error {
	return s.transition(id, func(job *models.RenderJob) {
		job.Status = models.JobStatusFailed
		job.URL = ""
		job.Message = message
	})
}

// Len returns the number of tracked jobs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// Counts returns how many jobs are in each status.
func (s *Store) Counts() map[models.JobStatus]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[models.JobStatus]int)
	for _, job := range s.jobs {
		counts[job.Status]++
	}
	return counts
}

// transition applies fn to a non-terminal job. Terminal states never change.
func (s *Store) transition(id string, fn func(*models.RenderJob)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if job.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminal, id, job.Status)
	}

	fn(job)
	job.UpdatedAt = s.now()
	return nil
}

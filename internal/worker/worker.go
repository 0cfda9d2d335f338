package worker

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/bobarin/recapmaker/internal/models"
	"github.com/bobarin/recapmaker/internal/queue"
	"github.com/bobarin/recapmaker/internal/services"
	"github.com/getsentry/sentry-go"
)

const dequeueTimeout = 5 * time.Second

// Renderer produces the output file for one job.
type Renderer interface {
	Render(ctx context.Context, inputPath, outputPath string, opts models.EditOptions) services.RenderResult
}

// Publisher turns a finished output file into a URL clients can fetch.
type Publisher interface {
	Publish(ctx context.Context, localPath string) (string, error)
}

// Worker drains the render queue one job at a time.
type Worker struct {
	queue    *queue.Queue
	store    *queue.Store
	renderer Renderer
	links    Publisher // always available, serves from this host
	remote   Publisher // optional, nil when object storage is not configured
	timeout  time.Duration
}

func New(q *queue.Queue, renderer Renderer, links, remote Publisher) *Worker {
	return &Worker{
		queue:    q,
		store:    q.Store(),
		renderer: renderer,
		links:    links,
		remote:   remote,
		timeout:  dequeueTimeout,
	}
}

// Start processes jobs until ctx is cancelled. Exactly one job renders at a time.
func (w *Worker) Start(ctx context.Context) {
	log.Printf("[Worker] Started (remote publishing: %v)", w.remote != nil)

	for {
		select {
		case <-ctx.Done():
			log.Println("[Worker] Shutting down...")
			return
		default:
			job, err := w.queue.Dequeue(ctx, w.timeout)
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				log.Printf("[Worker] Error dequeuing: %v", err)
				continue
			}

			if job == nil {
				continue // No job available, retry
			}

			w.process(ctx, *job)
		}
	}
}

// process runs one job to a terminal state. A panic anywhere in the job is
// recorded as a failure and never stops the loop.
func (w *Worker) process(ctx context.Context, job models.RenderJob) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Worker] Job %s panicked: %v", job.ID, r)
			sentry.CurrentHub().Recover(r)
			w.fail(job.ID, fmt.Sprintf("Rendering Failed: %v", r))
		}
	}()

	log.Printf("[Worker] Processing job %s (%s)", job.ID, filepath.Base(job.InputPath))
	start := time.Now()

	if err := w.store.MarkProcessing(job.ID); err != nil {
		log.Printf("[Worker] Failed to update job %s status: %v", job.ID, err)
	}

	result := w.renderer.Render(ctx, job.InputPath, job.OutputPath, job.Options)
	if !result.OK {
		log.Printf("[Worker] Job %s failed after %v: %s", job.ID, time.Since(start).Round(time.Millisecond), result.Message)
		reportFailure(job, result.Message)
		w.fail(job.ID, "Rendering Failed: "+result.Message)
		return
	}

	url, err := w.publish(ctx, result.OutputPath)
	if err != nil {
		w.fail(job.ID, "Rendering Failed: "+err.Error())
		return
	}

	if err := w.store.Complete(job.ID, url); err != nil {
		log.Printf("[Worker] Failed to complete job %s: %v", job.ID, err)
		return
	}
	log.Printf("[Worker] Job %s completed in %v", job.ID, time.Since(start).Round(time.Millisecond))
}

// publish prefers remote storage and falls back to a local link.
func (w *Worker) publish(ctx context.Context, outputPath string) (string, error) {
	if w.remote != nil {
		url, err := w.remote.Publish(ctx, outputPath)
		if err == nil {
			return url, nil
		}
		log.Printf("[Worker] Remote publish failed, serving locally: %v", err)
	}
	return w.links.Publish(ctx, outputPath)
}

// reportFailure sends a render failure to Sentry. It is a no-op unless
// sentry.Init was called with a DSN.
func reportFailure(job models.RenderJob, message string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("job_id", job.ID)
		scope.SetTag("input", filepath.Base(job.InputPath))
		scope.SetExtra("options", job.Options)
		sentry.CaptureMessage("render failed: " + message)
	})
}

func (w *Worker) fail(id, message string) {
	if err := w.store.Fail(id, message); err != nil {
		log.Printf("[Worker] Failed to record failure for job %s: %v", id, err)
	}
}

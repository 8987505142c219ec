// Package orchestrator composes the asset cache, the ratio predictor and
// the generation client into the avatar pipeline: cache hit or
// predict -> submit -> poll -> download -> cache -> announce.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go-avatar-pipeline/internal/api"
	"go-avatar-pipeline/internal/cache"
	"go-avatar-pipeline/internal/models"
	"go-avatar-pipeline/internal/predictor"

	log "github.com/sirupsen/logrus"
)

// Custom Error Types
var (
	ErrInvalidProfile        = errors.New("invalid profile attributes")
	ErrPredictionFailed      = errors.New("body ratio prediction failed")
	ErrSubmissionFailed      = errors.New("generation submission failed")
	ErrPollFailed            = errors.New("polling generation status failed")
	ErrDownloadFailed        = errors.New("asset download failed")
	ErrServerReportedFailure = errors.New("generation failed on the server")
)

// EventType discriminates the events a generation emits.
type EventType int

const (
	EventProgress EventType = iota
	EventCompleted
	EventFailed
)

// Event is one update on the generation stream. Progress events carry
// Progress and Message; the terminal event is either Completed with the
// asset bytes or Failed with a wrapped error and human-readable message.
type Event struct {
	Type     EventType
	Progress int
	Message  string
	Data     []byte
	Err      error
}

const (
	// DefaultPollInterval is measured from the completion of the previous
	// poll, so slow servers organically throttle the client.
	DefaultPollInterval = 2500 * time.Millisecond
	// DefaultTexture is submitted when the caller configures none.
	DefaultTexture = "shirt.glb"
)

// sleepFunc lets tests simulate time; it must return promptly with a
// non-nil error once ctx is cancelled.
type sleepFunc func(ctx context.Context, d time.Duration) error

// Options tune an Orchestrator.
type Options struct {
	Texture      string
	PollInterval time.Duration
	// Sleep overrides the poll-interval wait. Tests inject a fake clock
	// here; nil means a real timer honoring cancellation.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Orchestrator drives at most one avatar generation at a time. Starting a
// new generation cancels and awaits the previous one, so two polling
// loops never race on the cache.
type Orchestrator struct {
	cache     *cache.AssetCache
	predictor *predictor.Predictor
	client    *api.Client

	texture      string
	pollInterval time.Duration
	sleep        sleepFunc

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New wires an orchestrator from explicitly constructed components.
func New(assetCache *cache.AssetCache, pred *predictor.Predictor, client *api.Client, opts Options) *Orchestrator {
	if opts.Texture == "" {
		opts.Texture = DefaultTexture
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepWithContext
	}
	return &Orchestrator{
		cache:        assetCache,
		predictor:    pred,
		client:       client,
		texture:      opts.Texture,
		pollInterval: opts.PollInterval,
		sleep:        sleep,
	}
}

// GenerateOrFetch returns the asset for the profile, preferring the local
// cache and otherwise running the full generation pipeline. Events arrive
// on the returned channel, which is closed after the terminal event. Any
// generation already in flight is cancelled and awaited first.
func (o *Orchestrator) GenerateOrFetch(profile models.UserProfile) <-chan Event {
	events := make(chan Event, 16)

	ctx, cancelFn := context.WithCancel(context.Background())
	done := make(chan struct{})

	o.mu.Lock()
	prevCancel, prevDone := o.cancel, o.done
	o.cancel, o.done = cancelFn, done
	o.mu.Unlock()

	if prevCancel != nil {
		log.Debug("Superseding in-flight generation")
		prevCancel()
		<-prevDone
	}

	go o.run(ctx, profile, events, done)
	return events
}

// Cancel stops the in-flight generation, if any, and waits for its loop
// to terminate. Safe to call when nothing is running.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	cancelFn, done := o.cancel, o.done
	o.mu.Unlock()

	if cancelFn != nil {
		cancelFn()
		<-done
	}
}

func (o *Orchestrator) run(ctx context.Context, profile models.UserProfile, events chan<- Event, done chan struct{}) {
	defer close(done)
	defer close(events)

	// Cache first: a hit means no network at all.
	if data, ok := o.cache.Lookup(profile); ok {
		emit(ctx, events, Event{Type: EventCompleted, Progress: 100, Message: "Loaded avatar from cache", Data: data})
		return
	}

	if err := profile.Validate(); err != nil {
		o.fail(ctx, events, fmt.Errorf("%w: %v", ErrInvalidProfile, err), "Invalid input: "+err.Error())
		return
	}

	emit(ctx, events, Event{Type: EventProgress, Progress: 0, Message: "Predicting body ratios..."})

	ratios, err := o.predictor.Predict(ctx, float64(profile.Height), float64(profile.Weight))
	if err != nil {
		o.fail(ctx, events, fmt.Errorf("%w: %v", ErrPredictionFailed, err), "Prediction backend failure: "+err.Error())
		return
	}

	taskID, err := o.client.Submit(ctx, profile, ratios, o.texture)
	if err != nil {
		o.fail(ctx, events, fmt.Errorf("%w: %v", ErrSubmissionFailed, err), "Network/server failure: "+err.Error())
		return
	}

	emit(ctx, events, Event{Type: EventProgress, Progress: 10, Message: "Task submitted, generation starting..."})

	job := models.GenerationJob{TaskID: taskID, Status: models.StatusPending, Progress: 10}

	for {
		if ctx.Err() != nil {
			log.Debugf("Generation for task %s cancelled before poll", taskID)
			return
		}

		status, err := o.client.Poll(ctx, profile.Nickname, taskID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			o.fail(ctx, events, fmt.Errorf("%w: %v", ErrPollFailed, err), "Network/server failure: "+err.Error())
			return
		}

		job = api.UpdateJob(job, status)

		switch job.Status {
		case models.StatusCompleted:
			o.complete(ctx, profile, job, events)
			return
		case models.StatusFailed:
			msg := job.Message
			if msg == "" {
				msg = "unknown error"
			}
			o.fail(ctx, events, fmt.Errorf("%w: %s", ErrServerReportedFailure, msg), "Generation failed on the server: "+msg)
			return
		default:
			emit(ctx, events, Event{Type: EventProgress, Progress: job.Progress, Message: job.Message})
		}

		if err := o.sleep(ctx, o.pollInterval); err != nil {
			log.Debugf("Generation for task %s cancelled mid-sleep", taskID)
			return
		}
	}
}

// complete handles a terminal Completed status: download, best-effort
// cache write, then the Completed event. The cache write finishes before
// the event so a subsequent lookup never races a half-committed store,
// but a write failure only costs the cache, not the result.
func (o *Orchestrator) complete(ctx context.Context, profile models.UserProfile, job models.GenerationJob, events chan<- Event) {
	if job.ResultURL == "" {
		o.fail(ctx, events, api.ErrMalformedCompletion, "Malformed server response: completed without an asset URL")
		return
	}

	emit(ctx, events, Event{Type: EventProgress, Progress: 90, Message: "Generation complete, downloading model..."})

	data, err := o.client.DownloadAsset(ctx, job.ResultURL)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		o.fail(ctx, events, fmt.Errorf("%w: %v", ErrDownloadFailed, err), "Network/server failure: "+err.Error())
		return
	}

	if ctx.Err() != nil {
		return
	}

	if err := o.cache.Store(data, profile); err != nil {
		log.WithError(err).Warn("Failed to cache downloaded asset, returning it anyway")
	}

	emit(ctx, events, Event{Type: EventCompleted, Progress: 100, Message: "Avatar ready", Data: data})
}

func (o *Orchestrator) fail(ctx context.Context, events chan<- Event, err error, message string) {
	log.WithError(err).Error("Avatar generation failed")
	emit(ctx, events, Event{Type: EventFailed, Message: message, Err: err})
}

// emit delivers an event unless the generation has been cancelled; after
// the cancellation point no further events reach the caller.
func emit(ctx context.Context, events chan<- Event, ev Event) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Package node implements the reconstruction-node orchestrator: a family of
// commands layered on the queue controller and the raw-socket connection
// that drive the node's request/response contract, chain multi-step
// processing tasks and reconcile the locally cached project view against
// periodic status polls.
package node

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lbujnak/cr-fly/pkg/alert"
	"github.com/lbujnak/cr-fly/pkg/command"
	"github.com/lbujnak/cr-fly/pkg/filestore"
	"github.com/lbujnak/cr-fly/pkg/rawhttp"
	"github.com/lbujnak/cr-fly/pkg/transfer"
)

// Dirs names the local directories the orchestrator works with.
type Dirs struct {
	// MediaDir holds captured media awaiting upload.
	MediaDir string
	// DownloadDir receives the exported model archive.
	DownloadDir string
	// ExportDir receives the unpacked model files.
	ExportDir string
}

// DefaultPollInterval paces the status reconciliation loop.
const DefaultPollInterval = 3 * time.Second

// Service owns the node peer: one queue controller, one transport, the
// cached project state and the transfer sessions. It is constructed once by
// the composition root and handed to the commands that need it.
type Service struct {
	transport Transport
	queue     *command.QueueController
	store     filestore.Store
	alerts    alert.Sink
	dirs      Dirs

	Project *ProjectState

	pollInterval time.Duration
	observerID   string

	uploadMu        sync.Mutex
	uploadState     *transfer.State
	uploadSampler   *transfer.SpeedSampler
	deferredUploads []string
	uploadsPending  atomic.Int32

	downloadState   *transfer.State
	downloadSampler *transfer.SpeedSampler
}

// NewService wires the orchestrator. The queue controller must be started
// by the caller.
func NewService(transport Transport, queue *command.QueueController, store filestore.Store, alerts alert.Sink, dirs Dirs) *Service {
	return &Service{
		transport:       transport,
		queue:           queue,
		store:           store,
		alerts:          alerts,
		dirs:            dirs,
		Project:         NewProjectState(),
		pollInterval:    DefaultPollInterval,
		observerID:      uuid.New().String(),
		uploadSampler:   transfer.NewSpeedSampler(),
		downloadSampler: transfer.NewSpeedSampler(),
	}
}

// SetPollInterval overrides the reconciliation pace. Intended for
// configuration at composition time.
func (s *Service) SetPollInterval(interval time.Duration) {
	if interval > 0 {
		s.pollInterval = interval
	}
}

// Queue exposes the controller for feature code that builds its own
// commands.
func (s *Service) Queue() *command.QueueController {
	return s.queue
}

// Run drives the periodic status poll until the context is cancelled. A
// poll is only scheduled while the project is open and the queue is idle,
// so polls never pile up behind long transfers.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if conn, ok := s.transport.(*rawhttp.Connection); ok {
		conn.Subscribe(s.observerID, func(state rawhttp.State) {
			slog.Info("node connection state changed", "state", state.String())
			if state == rawhttp.StateDisconnected {
				s.Project.SetLoaded(false)
			}
		})
		defer conn.Unsubscribe(s.observerID)
	}

	g.Go(func() error {
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if s.Project.IsLoaded() && !s.queue.IsBusy() {
					s.queue.Push(s.PollCommand())
				}
			}
		}
	})

	return g.Wait()
}

// UploadInFlight reports whether any upload command is queued or running.
func (s *Service) UploadInFlight() bool {
	return s.uploadsPending.Load() > 0
}

// UploadStatus returns a snapshot of the active upload session, or false
// when none exists.
func (s *Service) UploadStatus() (transfer.Status, bool) {
	s.uploadMu.Lock()
	defer s.uploadMu.Unlock()
	if s.uploadState == nil {
		return transfer.Status{}, false
	}
	return s.uploadState.Status(), true
}

// DownloadStatus returns a snapshot of the active model download, or false
// when none exists.
func (s *Service) DownloadStatus() (transfer.Status, bool) {
	s.uploadMu.Lock()
	defer s.uploadMu.Unlock()
	if s.downloadState == nil {
		return transfer.Status{}, false
	}
	return s.downloadState.Status(), true
}

// PauseUploads suspends the upload session: queued-but-unstarted uploads
// are deferred and the sampler freezes. force marks a pause imposed by a
// conflicting operation rather than the user.
func (s *Service) PauseUploads(force bool) {
	s.uploadMu.Lock()
	defer s.uploadMu.Unlock()
	if s.uploadState != nil {
		s.uploadState.Pause(force)
	}
}

// ResumeUploads re-queues deferred uploads and restarts the sampler.
func (s *Service) ResumeUploads() {
	s.uploadMu.Lock()
	state := s.uploadState
	deferred := s.deferredUploads
	s.deferredUploads = nil
	s.uploadMu.Unlock()

	if state == nil {
		return
	}
	state.Resume()
	s.uploadSampler.Start(state)
	for _, name := range deferred {
		s.pushUpload(name, state)
	}
}

// deferUpload parks an upload that found the session paused; Resume
// re-queues it.
func (s *Service) deferUpload(name string) {
	s.uploadMu.Lock()
	s.deferredUploads = append(s.deferredUploads, name)
	s.uploadMu.Unlock()
}

func (s *Service) uploadPaused() bool {
	s.uploadMu.Lock()
	defer s.uploadMu.Unlock()
	return s.uploadState != nil && s.uploadState.IsPaused()
}

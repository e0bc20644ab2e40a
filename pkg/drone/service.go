package drone

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/lbujnak/cr-fly/pkg/command"
	"github.com/lbujnak/cr-fly/pkg/transfer"
)

// Service owns the drone peer: one queue controller, the media manager and
// the cached device media list. Downloads land in the local album
// directory the node-side upload reads from.
type Service struct {
	media    MediaManager
	queue    *command.QueueController
	mediaDir string

	mu      sync.Mutex
	files   []MediaFile
	state   *transfer.State
	sampler *transfer.SpeedSampler
}

// NewService wires the device peer. The queue controller must be started
// by the caller.
func NewService(media MediaManager, queue *command.QueueController, mediaDir string) *Service {
	return &Service{
		media:    media,
		queue:    queue,
		mediaDir: mediaDir,
		sampler:  transfer.NewSpeedSampler(),
	}
}

// Queue exposes the controller for composition.
func (s *Service) Queue() *command.QueueController {
	return s.queue
}

// Files returns the cached device media list.
func (s *Service) Files() []MediaFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]MediaFile(nil), s.files...)
}

// TransferStatus returns a snapshot of the active download session, or
// false when none exists.
func (s *Service) TransferStatus() (transfer.Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return transfer.Status{}, false
	}
	return s.state.Status(), true
}

// RefreshMediaCommand replaces the cached device media list.
func (s *Service) RefreshMediaCommand(ctx context.Context) command.Command {
	return command.Func(func(done func(command.Result)) {
		files, err := s.media.List(ctx)
		if err != nil {
			done(command.Fail(errors.Is(err, ErrUnavailable), "Drone media unavailable", err.Error()))
			return
		}
		s.mu.Lock()
		s.files = files
		s.mu.Unlock()
		slog.Info("drone media list refreshed", "files", len(files))
		done(command.OK())
	})
}

// DownloadMedia opens (or extends) a download session covering the named
// device files and queues one fetch command per file. Names must exist in
// the cached list so the session knows the byte totals up front.
func (s *Service) DownloadMedia(ctx context.Context, names []string) error {
	sizes := make(map[string]int64, len(names))
	s.mu.Lock()
	for _, name := range names {
		found := false
		for _, file := range s.files {
			if file.Name == name {
				sizes[name] = file.Size
				found = true
				break
			}
		}
		if !found {
			s.mu.Unlock()
			return fmt.Errorf("unknown device file: %s", name)
		}
	}
	state := s.state
	if state == nil {
		state = transfer.NewState(0, 0)
		s.state = state
	}
	s.mu.Unlock()

	for _, name := range names {
		state.AddItem(sizes[name])
		s.queue.Push(s.fetchCommand(ctx, name, state))
	}
	s.sampler.Start(state)
	return nil
}

// fetchCommand streams one device file into the album directory.
func (s *Service) fetchCommand(ctx context.Context, name string, state *transfer.State) command.Command {
	return command.Func(func(done func(command.Result)) {
		dest := filepath.Join(s.mediaDir, name)
		err := s.media.Fetch(ctx, name, dest, func(n int) { state.AddBytes(int64(n)) })
		if err != nil {
			done(command.Fail(errors.Is(err, ErrUnavailable), "Media download failed", err.Error()))
			return
		}
		state.CompleteItem()
		slog.Info("media downloaded from drone", "name", name)
		done(command.OK())
	})
}

// DeleteMediaCommand removes one file from the device storage and the
// cached list.
func (s *Service) DeleteMediaCommand(ctx context.Context, name string) command.Command {
	return command.Func(func(done func(command.Result)) {
		if err := s.media.Remove(ctx, name); err != nil {
			done(command.Fail(errors.Is(err, ErrUnavailable), "Media deletion failed", err.Error()))
			return
		}
		s.mu.Lock()
		for i, file := range s.files {
			if file.Name == name {
				s.files = append(s.files[:i], s.files[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		done(command.OK())
	})
}

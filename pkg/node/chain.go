package node

import (
	"errors"
	"log/slog"
	"net/url"
	"path/filepath"

	"github.com/lbujnak/cr-fly/pkg/command"
	"github.com/lbujnak/cr-fly/pkg/filestore"
	"github.com/lbujnak/cr-fly/pkg/rawhttp"
	"github.com/lbujnak/cr-fly/pkg/transfer"
)

// modelArchiveName is the file the node serves for an exported model.
const modelArchiveName = "model.zip"

// Step describes one remote CLI-style processing task and what follows it.
// Chains are plain linked lists of descriptors, so a workflow can be
// inspected and tested without executing it.
type Step struct {
	// Name is the remote command name, e.g. "align".
	Name string
	// Query carries extra query arguments, beginning with "&".
	Query string
	// Next is the task started once this one finishes.
	Next *Step
	// Finalize produces the local follow-up command run after the last
	// remote task of the chain finished.
	Finalize func(s *Service) command.Command
}

// Names lists the remote task names of the chain in execution order.
func (st *Step) Names() []string {
	var names []string
	for step := st; step != nil; step = step.Next {
		names = append(names, step.Name)
	}
	return names
}

// ReconstructionChain builds the full processing workflow:
// align → calculateModel → optional simplify → exportModel, finishing with
// the model download and unpack follow-up.
func ReconstructionChain(detail string, simplify bool, format string) *Step {
	export := &Step{
		Name:  "exportModel",
		Query: "&format=" + url.QueryEscape(format),
		Finalize: func(s *Service) command.Command {
			return s.downloadModelCommand()
		},
	}
	tail := export
	if simplify {
		tail = &Step{Name: "simplify", Next: tail}
	}
	calc := &Step{
		Name:  "calculateModel",
		Query: "&detail=" + url.QueryEscape(detail),
		Next:  tail,
	}
	return &Step{Name: "align", Next: calc}
}

// StartReconstruction queues the first task of a chain.
func (s *Service) StartReconstruction(chain *Step) {
	s.queue.Push(s.TaskCommand(chain))
}

// TaskCommand starts one remote task and registers the follow-up command
// under the returned task id. The follow-up runs only once the status
// poller observes the task reach the finished state.
func (s *Service) TaskCommand(step *Step) command.Command {
	return &nodeCommand{
		svc:     s,
		require: RequireOpened,
		blocks:  true,
		spec: RequestSpec{
			Name:       "start task " + step.Name,
			Method:     "POST",
			Path:       "/project/command?name=" + url.QueryEscape(step.Name) + step.Query,
			WantStatus: 202,
			Shape:      ShapeObject,
			ErrorTitle: "Processing failed",
			Validate: func(resp *rawhttp.Response) command.Result {
				id, ok := resp.Object()["taskID"].(string)
				if !ok || id == "" {
					return command.Fail(false, "Processing failed", "the node did not return a task id")
				}
				var next command.Command
				if step.Next != nil {
					next = s.TaskCommand(step.Next)
				} else if step.Finalize != nil {
					next = step.Finalize(s)
				}
				s.Project.RegisterTask(id, next)
				slog.Info("remote task started", "task", step.Name, "task_id", id)
				return command.OK()
			},
		},
	}
}

// ClearTaskCommand tells the node to drop a task's state so it does not
// retain a stale error after a failure was surfaced locally.
func (s *Service) ClearTaskCommand(taskID string) command.Command {
	return &nodeCommand{
		svc:     s,
		require: RequireAny,
		spec: RequestSpec{
			Name:       "clear task",
			Method:     "POST",
			Path:       "/project/cleartask?taskID=" + url.QueryEscape(taskID),
			WantStatus: 200,
			Shape:      ShapeNone,
			ErrorTitle: "Task cleanup failed",
		},
	}
}

// downloadModelCommand streams the exported archive into the download
// directory with a fresh transfer session, then queues the unpack step.
// A cancelled download removes the partial archive.
func (s *Service) downloadModelCommand() command.Command {
	return command.Func(func(done func(command.Result)) {
		state := transfer.NewState(1, 0)
		s.uploadMu.Lock()
		s.downloadState = state
		s.uploadMu.Unlock()
		s.downloadSampler.Start(state)
		defer s.downloadSampler.Stop()

		spec := RequestSpec{
			Name:       "download model",
			Method:     "GET",
			Path:       "/project/download?name=" + modelArchiveName,
			WantStatus: 200,
			Shape:      ShapeNone,
			ErrorTitle: "Model download failed",
		}
		raw, err := s.transport.DownloadFile(s.newNodeRequest(spec),
			s.dirs.DownloadDir, modelArchiveName,
			func(n int) { state.AddBytes(int64(n)) })
		if err != nil {
			if errors.Is(err, rawhttp.ErrCancelled) {
				_ = s.store.Remove(s.dirs.DownloadDir, modelArchiveName)
				done(command.Fail(false, "Model download cancelled", "the partial archive was removed"))
				return
			}
			done(s.sendFailure(spec, err))
			return
		}

		res := s.acceptResponse(spec, raw)
		if res.Success {
			state.CompleteItem()
			s.queue.Push(s.unpackModelCommand())
		}
		done(res)
	})
}

// unpackModelCommand extracts the downloaded archive into the export
// directory named after the project and removes the archive.
func (s *Service) unpackModelCommand() command.Command {
	return command.Func(func(done func(command.Result)) {
		name, _ := s.Project.Identity()
		if name == "" {
			name = "model"
		}
		zipPath := filepath.Join(s.dirs.DownloadDir, modelArchiveName)
		dest := filepath.Join(s.dirs.ExportDir, name)

		extracted, err := filestore.Unzip(zipPath, dest)
		if err != nil {
			done(command.Fail(false, "Model unpack failed", err.Error()))
			return
		}
		_ = s.store.Remove(s.dirs.DownloadDir, modelArchiveName)
		slog.Info("model exported", "project", name, "files", len(extracted), "dest", dest)
		done(command.OK())
	})
}

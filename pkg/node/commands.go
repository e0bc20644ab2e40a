package node

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/lbujnak/cr-fly/pkg/command"
	"github.com/lbujnak/cr-fly/pkg/filestore"
	"github.com/lbujnak/cr-fly/pkg/rawhttp"
	"github.com/lbujnak/cr-fly/pkg/transfer"
)

// RequiredProject is the layer-2 precondition on remote project state.
type RequiredProject int

const (
	// RequireAny runs regardless of project state.
	RequireAny RequiredProject = iota
	// RequireNone runs only while no project is open; an open project is
	// closed first.
	RequireNone
	// RequireOpened runs only against an open project; the project is
	// opened first.
	RequireOpened
)

// nodeCommand is a project-scoped node request. When its precondition does
// not hold it transparently prepends the open/close prerequisite in front
// of itself instead of failing, then re-attempts. The prerequisite is
// injected at most once per instance so a failing open cannot loop.
type nodeCommand struct {
	svc     *Service
	require RequiredProject
	spec    RequestSpec

	prereqInjected bool
	blocks         bool
}

func (c *nodeCommand) BlocksInteraction() bool {
	return c.blocks
}

func (c *nodeCommand) Execute(done func(command.Result)) {
	loaded := c.svc.Project.IsLoaded()
	switch {
	case c.require == RequireOpened && !loaded:
		done(c.injectPrerequisite(c.svc.OpenProjectCommand()))
		return
	case c.require == RequireNone && loaded:
		done(c.injectPrerequisite(c.svc.CloseProjectCommand()))
		return
	}
	done(c.svc.execute(c.spec))
}

func (c *nodeCommand) injectPrerequisite(prereq command.Command) command.Result {
	if c.prereqInjected {
		return command.Fail(false, c.spec.ErrorTitle,
			"the project is not in the required state and the prerequisite did not fix it")
	}
	c.prereqInjected = true
	c.svc.queue.Prepend(c)
	c.svc.queue.Prepend(prereq)
	return command.OK()
}

// newNodeRequest builds the wire request for a spec, attaching the session
// token when one was issued.
func (s *Service) newNodeRequest(spec RequestSpec) *rawhttp.Request {
	req := rawhttp.NewRequest(spec.Method, spec.Path)
	req.Body = spec.Body
	if token := s.Project.SessionToken(); token != "" {
		req.SetHeader("Session", token)
	}
	return req
}

// executeUpload streams a local file as the request body, then validates
// the reply exactly like a plain exchange. The file's digest rides along
// so the node can verify the streamed bytes.
func (s *Service) executeUpload(spec RequestSpec, path string, onSent func(int)) command.Result {
	req := s.newNodeRequest(spec)
	if sum, err := filestore.Checksum(path); err == nil {
		req.SetHeader("Checksum", sum)
	}
	raw, err := s.transport.SendFile(req, path, onSent)
	if err != nil {
		return s.sendFailure(spec, err)
	}
	return s.acceptResponse(spec, raw)
}

// CheckNodeCommand verifies the node answers on the socket and logs its
// reported version.
func (s *Service) CheckNodeCommand() command.Command {
	return &nodeCommand{
		svc:     s,
		require: RequireAny,
		spec: RequestSpec{
			Name:       "node status",
			Method:     "GET",
			Path:       "/node/status",
			WantStatus: 200,
			Shape:      ShapeObject,
			ErrorTitle: "Node unavailable",
			Validate: func(resp *rawhttp.Response) command.Result {
				if version, ok := resp.Object()["appVersion"].(string); ok {
					slog.Info("node reachable", "app_version", version)
				}
				return command.OK()
			},
		},
	}
}

// CreateProjectCommand creates and opens a fresh project on the node. The
// name must be URL-encodable; an invalid name is a precondition violation,
// not a retryable failure.
func (s *Service) CreateProjectCommand(name string) command.Command {
	if name == "" || !utf8.ValidString(name) {
		return failCommand("Invalid project name", "the project name cannot be encoded")
	}
	return &nodeCommand{
		svc:     s,
		require: RequireNone,
		blocks:  true,
		spec: RequestSpec{
			Name:       "create project",
			Method:     "POST",
			Path:       "/project/create?name=" + url.QueryEscape(name),
			WantStatus: 200,
			Shape:      ShapeObject,
			ErrorTitle: "Project creation failed",
			Validate: func(resp *rawhttp.Response) command.Result {
				guid, ok := resp.Object()["guid"].(string)
				if !ok {
					return command.Fail(false, "Project creation failed", "the node did not return a project id")
				}
				s.Project.SetIdentity(name, guid)
				s.Project.SetLoaded(true)
				slog.Info("project created", "name", name, "guid", guid)
				return command.OK()
			},
		},
	}
}

// OpenProjectCommand opens the known project on the node.
func (s *Service) OpenProjectCommand() command.Command {
	return &nodeCommand{
		svc:     s,
		require: RequireAny,
		blocks:  true,
		spec: RequestSpec{
			Name:       "open project",
			Method:     "POST",
			Path:       "/project/open",
			WantStatus: 200,
			Shape:      ShapeNone,
			ErrorTitle: "Project open failed",
			Validate: func(resp *rawhttp.Response) command.Result {
				s.Project.SetLoaded(true)
				return command.OK()
			},
		},
	}
}

// CloseProjectCommand closes the open project, keeping the session alive.
func (s *Service) CloseProjectCommand() command.Command {
	return &nodeCommand{
		svc:     s,
		require: RequireAny,
		spec: RequestSpec{
			Name:       "close project",
			Method:     "POST",
			Path:       "/project/close",
			WantStatus: 200,
			Shape:      ShapeNone,
			ErrorTitle: "Project close failed",
			Validate: func(resp *rawhttp.Response) command.Result {
				s.Project.SetLoaded(false)
				return command.OK()
			},
		},
	}
}

// SaveProjectCommand persists the open project on the node.
func (s *Service) SaveProjectCommand() command.Command {
	return &nodeCommand{
		svc:     s,
		require: RequireOpened,
		spec: RequestSpec{
			Name:       "save project",
			Method:     "POST",
			Path:       "/project/save",
			WantStatus: 200,
			Shape:      ShapeNone,
			ErrorTitle: "Project save failed",
		},
	}
}

// RefreshFileListCommand replaces the cached remote file list.
func (s *Service) RefreshFileListCommand() command.Command {
	return &nodeCommand{
		svc:     s,
		require: RequireOpened,
		spec: RequestSpec{
			Name:       "list project files",
			Method:     "GET",
			Path:       "/project/list",
			WantStatus: 200,
			Shape:      ShapeStringList,
			ErrorTitle: "File listing failed",
			Validate: func(resp *rawhttp.Response) command.Result {
				names := resp.StringList()
				s.Project.SetFiles(names)
				slog.Info("remote file list refreshed", "files", len(names))
				return command.OK()
			},
		},
	}
}

// DeleteFileCommand removes a file from the open project.
func (s *Service) DeleteFileCommand(name string) command.Command {
	return &nodeCommand{
		svc:     s,
		require: RequireOpened,
		spec: RequestSpec{
			Name:       "delete project file",
			Method:     "POST",
			Path:       "/project/delete?name=" + url.QueryEscape(name),
			WantStatus: 200,
			Shape:      ShapeNone,
			ErrorTitle: "File deletion failed",
			Validate: func(resp *rawhttp.Response) command.Result {
				s.Project.RemoveFile(name)
				return command.OK()
			},
		},
	}
}

// EvaluateInfoCommand re-evaluates the local album against the cached
// remote file list. Purely local; queued by the reconciliation cycle.
func (s *Service) EvaluateInfoCommand() command.Command {
	return command.Func(func(done func(command.Result)) {
		local, err := s.store.List(s.dirs.MediaDir)
		if err != nil {
			done(command.Fail(false, "Album unavailable", err.Error()))
			return
		}
		missing := 0
		for _, name := range local {
			if !s.Project.HasFile(name) {
				missing++
			}
		}
		slog.Info("local album evaluated", "local_files", len(local), "not_uploaded", missing)
		done(command.OK())
	})
}

// UploadMedia opens (or extends) an upload session covering the named
// files in the media directory and queues one upload command per file.
func (s *Service) UploadMedia(names []string) error {
	sizes := make(map[string]int64, len(names))
	for _, name := range names {
		info, err := os.Stat(filepath.Join(s.dirs.MediaDir, name))
		if err != nil {
			return fmt.Errorf("file not found: %s", name)
		}
		sizes[name] = info.Size()
	}

	s.uploadMu.Lock()
	state := s.uploadState
	if state == nil {
		state = transfer.NewState(0, 0)
		s.uploadState = state
	}
	s.uploadMu.Unlock()

	for _, name := range names {
		state.AddItem(sizes[name])
		s.pushUpload(name, state)
	}
	s.uploadSampler.Start(state)
	return nil
}

func (s *Service) pushUpload(name string, state *transfer.State) {
	s.uploadsPending.Add(1)
	s.queue.Push(&uploadCommand{svc: s, name: name, state: state, counted: true})
}

// uploadCommand streams one media file to the open project. A paused
// session defers the file instead of transferring it; Resume re-queues
// deferred files. The counted flag ensures the upload-in-flight counter is
// decremented exactly once per queued lifetime even when the controller
// re-executes the same instance on a retryable failure.
type uploadCommand struct {
	svc            *Service
	name           string
	state          *transfer.State
	prereqInjected bool
	counted        bool
}

func (c *uploadCommand) Execute(done func(command.Result)) {
	finish := func(res command.Result) {
		if c.counted {
			c.svc.uploadsPending.Add(-1)
			c.counted = false
		}
		done(res)
	}

	if c.svc.uploadPaused() {
		c.svc.deferUpload(c.name) // Resume re-queues and re-counts it
		finish(command.OK())
		return
	}

	if !c.svc.Project.IsLoaded() {
		if c.prereqInjected {
			finish(command.Fail(false, "Upload failed", "no project is open on the node"))
			return
		}
		// The count carries over to the re-queued self.
		c.prereqInjected = true
		c.svc.queue.Prepend(c)
		c.svc.queue.Prepend(c.svc.OpenProjectCommand())
		done(command.OK())
		return
	}

	spec := RequestSpec{
		Name:       "upload media",
		Method:     "POST",
		Path:       "/project/upload?name=" + url.QueryEscape(c.name),
		WantStatus: 200,
		Shape:      ShapeNone,
		ErrorTitle: "Upload failed",
		Validate: func(resp *rawhttp.Response) command.Result {
			c.state.CompleteItem()
			c.svc.Project.AddFile(c.name)
			return command.OK()
		},
	}
	path := filepath.Join(c.svc.dirs.MediaDir, c.name)
	finish(c.svc.executeUpload(spec, path, func(n int) { c.state.AddBytes(int64(n)) }))
}

// failCommand completes immediately with a non-retryable failure.
func failCommand(title, message string) command.Command {
	return command.Func(func(done func(command.Result)) {
		done(command.Fail(false, title, message))
	})
}

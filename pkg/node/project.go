package node

import (
	"sync"

	"github.com/lbujnak/cr-fly/pkg/command"
)

// TaskStatus mirrors the remote node's task states.
type TaskStatus string

const (
	TaskQueued   TaskStatus = "queued"
	TaskRunning  TaskStatus = "running"
	TaskFinished TaskStatus = "finished"
	TaskFailed   TaskStatus = "failed"
)

// IsTerminal returns true when the task will not change state again.
func (ts TaskStatus) IsTerminal() bool {
	return ts == TaskFinished || ts == TaskFailed
}

// TaskEntry tracks one remote task and the follow-up command to run when it
// finishes. Entries are removed once the task reaches a terminal state.
type TaskEntry struct {
	ID     string
	Next   command.Command
	Status TaskStatus
}

// ProjectState is the locally cached view of the remote project, mirrored
// from the status endpoint and mutated by commands and the poller. All
// access is synchronized; the task table is the only state shared between
// the poller and the chain builder.
type ProjectState struct {
	mu            sync.Mutex
	name          string
	id            string
	loaded        bool
	sessionToken  string
	progress      float64
	timeEstimate  float64
	errorCode     int
	changeCounter int64
	files         map[string]struct{}
	tasks         map[string]*TaskEntry
}

// NewProjectState creates an empty, unloaded project view.
func NewProjectState() *ProjectState {
	return &ProjectState{
		files: make(map[string]struct{}),
		tasks: make(map[string]*TaskEntry),
	}
}

// SetIdentity records the project name and remote id.
func (p *ProjectState) SetIdentity(name, id string) {
	p.mu.Lock()
	p.name = name
	p.id = id
	p.mu.Unlock()
}

// Identity returns the project name and remote id.
func (p *ProjectState) Identity() (string, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.name, p.id
}

// SetLoaded flips the loaded flag after an open or close succeeded.
func (p *ProjectState) SetLoaded(loaded bool) {
	p.mu.Lock()
	p.loaded = loaded
	p.mu.Unlock()
}

// IsLoaded reports whether the project is currently open on the node.
func (p *ProjectState) IsLoaded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded
}

// SetSessionToken stores the bearer-style token echoed on later requests.
func (p *ProjectState) SetSessionToken(token string) {
	p.mu.Lock()
	p.sessionToken = token
	p.mu.Unlock()
}

// SessionToken returns the current session token, empty when none was
// issued yet.
func (p *ProjectState) SessionToken() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionToken
}

// UpdateStatus mirrors the progress fields from a status poll.
func (p *ProjectState) UpdateStatus(progress, timeEstimate float64, errorCode int) {
	p.mu.Lock()
	p.progress = progress
	p.timeEstimate = timeEstimate
	p.errorCode = errorCode
	p.mu.Unlock()
}

// Progress returns the mirrored progress, time estimate and error code.
func (p *ProjectState) Progress() (float64, float64, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.progress, p.timeEstimate, p.errorCode
}

// ChangeCounter returns the last adopted remote change counter.
func (p *ProjectState) ChangeCounter() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.changeCounter
}

// AdoptChangeCounter records a remote counter after its refresh cycle was
// queued, so each observed increment drives exactly one cycle.
func (p *ProjectState) AdoptChangeCounter(counter int64) {
	p.mu.Lock()
	p.changeCounter = counter
	p.mu.Unlock()
}

// SetFiles replaces the set of known remote file names.
func (p *ProjectState) SetFiles(names []string) {
	files := make(map[string]struct{}, len(names))
	for _, name := range names {
		files[name] = struct{}{}
	}
	p.mu.Lock()
	p.files = files
	p.mu.Unlock()
}

// AddFile records a single file the node now holds.
func (p *ProjectState) AddFile(name string) {
	p.mu.Lock()
	p.files[name] = struct{}{}
	p.mu.Unlock()
}

// RemoveFile drops a file from the known remote set.
func (p *ProjectState) RemoveFile(name string) {
	p.mu.Lock()
	delete(p.files, name)
	p.mu.Unlock()
}

// HasFile reports whether the node is known to hold the named file.
func (p *ProjectState) HasFile(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.files[name]
	return ok
}

// Files returns the known remote file names.
func (p *ProjectState) Files() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.files))
	for name := range p.files {
		names = append(names, name)
	}
	return names
}

// RegisterTask tracks a freshly started remote task and its follow-up.
func (p *ProjectState) RegisterTask(id string, next command.Command) {
	p.mu.Lock()
	p.tasks[id] = &TaskEntry{ID: id, Next: next, Status: TaskQueued}
	p.mu.Unlock()
}

// Task returns a copy of the tracked entry for id.
func (p *ProjectState) Task(id string) (TaskEntry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.tasks[id]
	if !ok {
		return TaskEntry{}, false
	}
	return *entry, true
}

// SetTaskStatus updates the status snapshot of a tracked task.
func (p *ProjectState) SetTaskStatus(id string, status TaskStatus) {
	p.mu.Lock()
	if entry, ok := p.tasks[id]; ok {
		entry.Status = status
	}
	p.mu.Unlock()
}

// RemoveTask drops a task that reached a terminal state.
func (p *ProjectState) RemoveTask(id string) {
	p.mu.Lock()
	delete(p.tasks, id)
	p.mu.Unlock()
}

// PendingTasks returns the number of tracked, non-terminal tasks.
func (p *ProjectState) PendingTasks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tasks)
}

// Clear resets the cached view after the connection or project was torn
// down. The session token survives because the node keeps the session.
func (p *ProjectState) Clear() {
	p.mu.Lock()
	p.loaded = false
	p.progress = 0
	p.timeEstimate = 0
	p.errorCode = 0
	p.changeCounter = 0
	p.files = make(map[string]struct{})
	p.tasks = make(map[string]*TaskEntry)
	p.mu.Unlock()
}

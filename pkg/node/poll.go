package node

import (
	"log/slog"

	"github.com/lbujnak/cr-fly/pkg/command"
	"github.com/lbujnak/cr-fly/pkg/rawhttp"
)

// PollCommand mirrors the remote project status and the remote task table
// into the local cache in one pass. The status half drives change-counter
// reconciliation, the task half dispatches follow-up commands for tasks
// that reached a terminal state.
func (s *Service) PollCommand() command.Command {
	return command.Func(func(done func(command.Result)) {
		res := s.execute(s.statusSpec())
		if !res.Success {
			done(res)
			return
		}
		done(s.execute(s.tasksSpec()))
	})
}

func (s *Service) statusSpec() RequestSpec {
	return RequestSpec{
		Name:       "project status",
		Method:     "GET",
		Path:       "/project/status",
		WantStatus: 200,
		Shape:      ShapeObject,
		ErrorTitle: "Status poll failed",
		Validate: func(resp *rawhttp.Response) command.Result {
			obj := resp.Object()
			s.Project.UpdateStatus(
				numField(obj, "progress"),
				numField(obj, "timeEstimate"),
				int(numField(obj, "errorCode")))
			s.reconcile(int64(numField(obj, "changeCounter")))
			return command.OK()
		},
	}
}

// reconcile re-fetches the remote file list when the node reports a change
// counter the cache has not adopted yet. Refreshing mid upload or while
// tasks are pending would race the very operations that bump the counter,
// so a busy cycle leaves the counter unadopted and the next poll retries.
func (s *Service) reconcile(counter int64) {
	if counter == s.Project.ChangeCounter() {
		return
	}
	if s.UploadInFlight() || s.Project.PendingTasks() > 0 {
		return
	}
	s.queue.Push(s.RefreshFileListCommand())
	s.queue.Push(s.EvaluateInfoCommand())
	s.Project.AdoptChangeCounter(counter)
	slog.Info("remote project changed, refreshing cache", "change_counter", counter)
}

func (s *Service) tasksSpec() RequestSpec {
	return RequestSpec{
		Name:       "task table",
		Method:     "GET",
		Path:       "/project/tasks",
		WantStatus: 200,
		Shape:      ShapeObjectList,
		ErrorTitle: "Task poll failed",
		Validate: func(resp *rawhttp.Response) command.Result {
			for _, obj := range resp.ObjectList() {
				id, _ := obj["taskID"].(string)
				if id == "" {
					continue
				}
				entry, tracked := s.Project.Task(id)
				if !tracked {
					continue
				}
				stateName, _ := obj["state"].(string)
				switch TaskStatus(stateName) {
				case TaskFinished:
					s.Project.RemoveTask(id)
					slog.Info("remote task finished", "task_id", id)
					if entry.Next != nil {
						s.queue.Push(entry.Next)
					}
				case TaskFailed:
					s.Project.RemoveTask(id)
					s.queue.Push(s.ClearTaskCommand(id))
					message, _ := obj["message"].(string)
					if message == "" {
						message = "the node reported a task failure"
					}
					slog.Error("remote task failed", "task_id", id, "message", message)
					s.alerts.Alert("Processing failed", message)
				default:
					s.Project.SetTaskStatus(id, TaskStatus(stateName))
				}
			}
			return command.OK()
		},
	}
}

// numField reads a numeric JSON field, tolerating its absence.
func numField(obj map[string]any, key string) float64 {
	value, _ := obj[key].(float64)
	return value
}

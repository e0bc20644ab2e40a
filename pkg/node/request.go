package node

import (
	"log/slog"

	"github.com/lbujnak/cr-fly/pkg/command"
	"github.com/lbujnak/cr-fly/pkg/rawhttp"
)

// Shape names the JSON body shape a request expects from the node.
type Shape int

const (
	// ShapeNone accepts any body, including an empty one.
	ShapeNone Shape = iota
	// ShapeStringList expects a flat JSON array of strings.
	ShapeStringList
	// ShapeObject expects a single flat JSON object.
	ShapeObject
	// ShapeObjectList expects a JSON array of flat objects.
	ShapeObjectList
)

// RequestSpec declaratively describes one exchange with the node: where to
// send what, which status code and body shape count as success, and a
// validator hook that inspects the parsed response on success. Validators
// mutate shared state and may enqueue follow-up commands.
type RequestSpec struct {
	Name       string
	Method     string
	Path       string
	Body       []byte
	WantStatus int
	Shape      Shape
	ErrorTitle string
	Validate   func(resp *rawhttp.Response) command.Result
}

// Transport is the subset of rawhttp.Connection the orchestrator needs.
type Transport interface {
	Send(req *rawhttp.Request) ([]byte, error)
	SendFile(req *rawhttp.Request, filePath string, onSent func(int)) ([]byte, error)
	DownloadFile(req *rawhttp.Request, destDir, destName string, onReceived func(int)) ([]byte, error)
	Terminate(tryRestart bool)
}

// execute performs one declarative exchange. Connection-level failures are
// retryable; a malformed or misshaped response is a protocol error that
// terminates the connection (the framing state cannot be trusted) and is
// not retried.
func (s *Service) execute(spec RequestSpec) command.Result {
	raw, err := s.transport.Send(s.newNodeRequest(spec))
	if err != nil {
		return s.sendFailure(spec, err)
	}
	return s.acceptResponse(spec, raw)
}

func (s *Service) sendFailure(spec RequestSpec, err error) command.Result {
	slog.Warn("node request failed", "request", spec.Name, "error", err)
	return command.Fail(rawhttp.IsRetryable(err), spec.ErrorTitle, err.Error())
}

// acceptResponse parses and validates a raw reply against the spec. It is
// shared by plain sends and the streaming paths, which produce the same
// buffer shape.
func (s *Service) acceptResponse(spec RequestSpec, raw []byte) command.Result {
	resp := rawhttp.Parse(raw)
	if resp == nil {
		s.transport.Terminate(false)
		slog.Error("malformed response from node", "request", spec.Name)
		return command.Fail(false, spec.ErrorTitle, "the node sent a malformed response")
	}

	if token, ok := resp.Headers["Session"]; ok && token != "" {
		s.Project.SetSessionToken(token)
	}

	if resp.StatusCode != spec.WantStatus || !shapeMatches(resp, spec.Shape) {
		s.transport.Terminate(false)
		perr := &rawhttp.ProtocolError{Status: resp.StatusCode, Message: remoteMessage(resp)}
		slog.Error("unexpected response from node",
			"request", spec.Name,
			"status", resp.StatusCode,
			"want_status", spec.WantStatus)
		return command.Fail(false, spec.ErrorTitle, perr.Error())
	}

	if spec.Validate != nil {
		return spec.Validate(resp)
	}
	return command.OK()
}

func shapeMatches(resp *rawhttp.Response, shape Shape) bool {
	switch shape {
	case ShapeStringList:
		return resp.StringList() != nil
	case ShapeObject:
		return resp.Object() != nil
	case ShapeObjectList:
		return resp.ObjectList() != nil
	default:
		return true
	}
}

// remoteMessage extracts the node's "message" field when the error body
// carries one.
func remoteMessage(resp *rawhttp.Response) string {
	obj := resp.Object()
	if obj == nil {
		return ""
	}
	if msg, ok := obj["message"].(string); ok {
		return msg
	}
	return ""
}

package rawhttp

import (
	"bytes"
	"fmt"
	"sort"
)

// Request is a minimal HTTP/1.1 request: method, path (including any query
// string), headers and an optional raw body. It is serialized directly onto
// the wire by Connection.
type Request struct {
	Method  string
	Path    string
	Headers map[string]string
	Body    []byte
}

// NewRequest creates a request with an empty header map.
func NewRequest(method, path string) *Request {
	return &Request{
		Method:  method,
		Path:    path,
		Headers: make(map[string]string),
	}
}

// SetHeader sets a header, replacing any previous value.
func (r *Request) SetHeader(key, value string) *Request {
	if r.Headers == nil {
		r.Headers = make(map[string]string)
	}
	r.Headers[key] = value
	return r
}

// Encode serializes the request line, headers and body into wire format.
// A Content-Length header is added automatically for non-empty bodies
// unless the caller already set one. Headers are written in sorted order
// so the output is deterministic.
func (r *Request) Encode() []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %s HTTP/1.1\r\n", r.Method, r.Path)

	headers := r.Headers
	if len(r.Body) > 0 {
		if _, ok := headers["Content-Length"]; !ok {
			headers = make(map[string]string, len(r.Headers)+1)
			for k, v := range r.Headers {
				headers[k] = v
			}
			headers["Content-Length"] = fmt.Sprintf("%d", len(r.Body))
		}
	}

	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&buf, "%s: %s\r\n", k, headers[k])
	}
	buf.WriteString("\r\n")
	buf.Write(r.Body)
	return buf.Bytes()
}

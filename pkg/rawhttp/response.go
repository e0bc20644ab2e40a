package rawhttp

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Response is the decoded form of a raw HTTP/1.1 response buffer.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

const headerDelimiter = "\r\n\r\n"

// Parse decodes a raw response buffer into status code, header map and body.
// It returns nil when the buffer is empty, does not start with a well-formed
// status line, or the header block is not terminated by an empty line.
// Header keys are kept exactly as received; on duplicate keys the last value
// wins. Header lines without a separator are skipped, not fatal.
func Parse(raw []byte) *Response {
	if len(raw) == 0 {
		return nil
	}

	end := bytes.Index(raw, []byte(headerDelimiter))
	if end < 0 {
		return nil
	}

	lines := strings.Split(string(raw[:end]), "\r\n")
	status, ok := parseStatusLine(lines[0])
	if !ok {
		return nil
	}

	headers := make(map[string]string)
	for _, line := range lines[1:] {
		sep := strings.Index(line, ":")
		if sep < 0 {
			continue
		}
		key := line[:sep]
		value := strings.TrimLeft(line[sep+1:], " ")
		headers[key] = value
	}

	return &Response{
		StatusCode: status,
		Headers:    headers,
		Body:       raw[end+len(headerDelimiter):],
	}
}

// parseStatusLine accepts "PROTOCOL STATUS-CODE [reason]".
func parseStatusLine(line string) (int, bool) {
	fields := strings.SplitN(line, " ", 3)
	if len(fields) < 2 || fields[0] == "" {
		return 0, false
	}
	status, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, false
	}
	return status, true
}

// StringList decodes the body as a flat JSON array of strings. It returns
// nil when the body is not valid JSON or the top-level shape does not
// match. An empty array decodes to an empty, non-nil slice.
func (r *Response) StringList() []string {
	if !startsWith(r.Body, '[') {
		return nil
	}
	list := []string{}
	if err := json.Unmarshal(r.Body, &list); err != nil {
		return nil
	}
	return list
}

// Object decodes the body as a single flat JSON object. Nested objects or
// arrays reject the shape.
func (r *Response) Object() map[string]any {
	var obj map[string]any
	if err := json.Unmarshal(r.Body, &obj); err != nil {
		return nil
	}
	if !isFlat(obj) {
		return nil
	}
	return obj
}

// ObjectList decodes the body as a JSON array of flat objects. An empty
// array decodes to an empty, non-nil slice.
func (r *Response) ObjectList() []map[string]any {
	if !startsWith(r.Body, '[') {
		return nil
	}
	list := []map[string]any{}
	if err := json.Unmarshal(r.Body, &list); err != nil {
		return nil
	}
	for _, obj := range list {
		if !isFlat(obj) {
			return nil
		}
	}
	return list
}

// startsWith reports whether the first non-whitespace byte of the body is c.
func startsWith(body []byte, c byte) bool {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == c
}

func isFlat(obj map[string]any) bool {
	for _, v := range obj {
		switch v.(type) {
		case map[string]any, []any:
			return false
		}
	}
	return true
}

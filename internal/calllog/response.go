package calllog

import (
	"fmt"
	"strings"
)

const (
	readingPrefix = "AI reading: "
	separator     = " | "
)

// Response accumulates the human-readable outcome of a job.
// It always starts with what was read; later segments are joined by " | ".
type Response struct {
	parts []string
}

func NewResponse(scriptText string) *Response {
	return &Response{parts: []string{readingPrefix + scriptText}}
}

func (r *Response) Add(format string, args ...any) {
	r.parts = append(r.parts, fmt.Sprintf(format, args...))
}

// Exception appends the standard failure segment.
func (r *Response) Exception(err error) {
	r.Add("Exception: %v", err)
}

func (r *Response) String() string {
	return strings.Join(r.parts, separator)
}

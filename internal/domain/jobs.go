package domain

import (
	"fmt"
	"strings"
)

// JobKind names a background job carried on the job queue.
type JobKind string

const (
	JobReconcile JobKind = "reconcile"
	JobRepair    JobKind = "repair"
)

// NewJob encodes a job as "<kind>:<arg>".
func NewJob(kind JobKind, arg string) string {
	return string(kind) + ":" + arg
}

func ParseJob(job string) (JobKind, string, error) {
	kind, arg, ok := strings.Cut(job, ":")
	if !ok || kind == "" || arg == "" {
		return "", "", fmt.Errorf("malformed job %q", job)
	}
	return JobKind(kind), arg, nil
}

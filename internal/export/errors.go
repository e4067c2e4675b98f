package export

import (
	"fmt"
	"time"
)

// PollTimeoutError means the export was accepted but its file never showed
// up as ready within the poll budget.
type PollTimeoutError struct {
	Prefix string
	Budget time.Duration
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf(
		"time limit of %s exceeded: the file %s* never became available for download",
		e.Budget, e.Prefix,
	)
}

// ArchiveError is a downloaded archive that is corrupt or lacks the
// expected csv.
type ArchiveError struct {
	Reason string
	Err    error
}

func (e *ArchiveError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("archive: %s: %v", e.Reason, e.Err)
	}
	return "archive: " + e.Reason
}

func (e *ArchiveError) Unwrap() error {
	return e.Err
}

// FileSystemError is a failure writing, extracting or renaming the
// exported files.
type FileSystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FileSystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileSystemError) Unwrap() error {
	return e.Err
}

// StepError is returned by Run for every failed export. Step is the state
// the export was moving into when it failed.
type StepError struct {
	Step State
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("export failed while %s: %v", e.Step.activity(), e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

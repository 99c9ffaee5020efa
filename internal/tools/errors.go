package tools

import "fmt"

// NotFoundError reports a missing file or directory.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("not found at %s", e.Path) }

// NotADirectoryError reports a path that should be a directory.
type NotADirectoryError struct {
	Path string
}

func (e *NotADirectoryError) Error() string { return fmt.Sprintf("path %s is not a directory", e.Path) }

// OverwriteError reports a write to an existing file that was never read.
type OverwriteError struct {
	Path string
}

func (e *OverwriteError) Error() string {
	return fmt.Sprintf("file already exists and was not read before: %s", e.Path)
}

// ExistsError reports a copy whose target already exists.
type ExistsError struct {
	Path string
}

func (e *ExistsError) Error() string {
	return fmt.Sprintf("target '%s' already exists at destination, copy aborted to prevent overwrite", e.Path)
}

// MatchError reports an edit whose old content matched zero or several times.
type MatchError struct {
	Path  string
	Count int
}

func (e *MatchError) Error() string {
	if e.Count == 0 {
		return fmt.Sprintf("content not found in file: %s", e.Path)
	}
	return fmt.Sprintf("content found %d times in file: %s", e.Count, e.Path)
}

// TimeoutError reports a command that exceeded its timeout.
type TimeoutError struct {
	Seconds int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command timed out after %d seconds", e.Seconds)
}

// RejectedCommandError reports a command refused before execution.
type RejectedCommandError struct {
	Command string
	Reason  string
}

func (e *RejectedCommandError) Error() string {
	return fmt.Sprintf("command %q rejected: %s", e.Command, e.Reason)
}

// Package kerrors defines the closed set of tagged error kinds returned
// by the kanbus engine. Every failure that crosses a package boundary
// is a *Error carrying one of these kinds; no panics cross a package
// boundary and no recovery relies on stack unwinding.
package kerrors

import "fmt"

// Kind is a closed enum of error categories. The CLI layer (out of
// scope for this module) prints Kind and Message to stderr and exits 1.
type Kind string

const (
	NotAGitRepository             Kind = "not_a_git_repository"
	ProjectNotInitialized         Kind = "project_not_initialized"
	AlreadyInitialized            Kind = "already_initialized"
	MultipleProjectsFound         Kind = "multiple_projects_found"
	VirtualProjectPathNotFound    Kind = "virtual_project_path_not_found"
	UnknownConfigurationFields    Kind = "unknown_configuration_fields"
	ConfigurationInvalid          Kind = "configuration_invalid"
	InvalidIssueData              Kind = "invalid_issue_data"
	DuplicateTitle                Kind = "duplicate_title"
	UnknownIssueType              Kind = "unknown_issue_type"
	InvalidPriority               Kind = "invalid_priority"
	InvalidStatus                 Kind = "invalid_status"
	InvalidTransition             Kind = "invalid_transition"
	InvalidHierarchy              Kind = "invalid_hierarchy"
	NotFound                      Kind = "not_found"
	AmbiguousShortID              Kind = "ambiguous_short_id"
	CycleDetected                 Kind = "cycle_detected"
	InvalidDependencyType         Kind = "invalid_dependency_type"
	CommentNotFound               Kind = "comment_not_found"
	AmbiguousCommentPrefix        Kind = "ambiguous_comment_prefix"
	AlreadyExists                 Kind = "already_exists"
	DaemonDisabled                Kind = "daemon_disabled"
	DaemonConnectionFailed        Kind = "daemon_connection_failed"
	EmptyDaemonResponse           Kind = "empty_daemon_response"
	ProtocolVersionMismatch       Kind = "protocol_version_mismatch"
	ProtocolVersionUnsupported    Kind = "protocol_version_unsupported"
	BeadsWriteFailed              Kind = "beads_write_failed"
	BeadsDeleteFailed             Kind = "beads_delete_failed"
	MigrationFailed               Kind = "migration_failed"
	UnknownAction                 Kind = "unknown_action"
	InternalError                 Kind = "internal_error"
)

// Error is the tagged error value returned by every kanbus package.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds a tagged error with no cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a tagged error around an existing error.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Is reports whether err is a *Error of the given kind, so callers can
// write `kerrors.Is(err, kerrors.NotFound)` instead of type-asserting.
func Is(err error, kind Kind) bool {
	var e *Error
	if ok := asError(err, &e); !ok {
		return false
	}
	return e.Kind == kind
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

package sync

import (
	"errors"
	"fmt"
)

var (
	// ErrRemoteFetch is matched by RemoteFetchError.
	ErrRemoteFetch = errors.New("remote fetch failed")
	// ErrStorageCommit is matched by StorageCommitError.
	ErrStorageCommit = errors.New("storage commit failed")
	// ErrSyncInProgress is returned when a cycle is requested while another runs.
	ErrSyncInProgress = errors.New("sync already in progress")
)

// Phase identifies the step of a sync cycle that failed.
type Phase string

const (
	PhaseFetch     Phase = "fetch"
	PhaseCommit    Phase = "commit"
	PhaseWatermark Phase = "watermark"
)

// RemoteFetchError reports a failed remote call for one entity type.
type RemoteFetchError struct {
	EntityType string
	Err        error
}

func (e *RemoteFetchError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrRemoteFetch, e.EntityType, e.Err)
}

func (e *RemoteFetchError) Unwrap() error { return e.Err }

func (e *RemoteFetchError) Is(target error) bool { return target == ErrRemoteFetch }

// StorageCommitError reports a batch the local store refused to apply.
type StorageCommitError struct {
	Err error
}

func (e *StorageCommitError) Error() string {
	return fmt.Sprintf("%s: %v", ErrStorageCommit, e.Err)
}

func (e *StorageCommitError) Unwrap() error { return e.Err }

func (e *StorageCommitError) Is(target error) bool { return target == ErrStorageCommit }

// SyncError is the single failure value a cycle returns.
type SyncError struct {
	Phase Phase
	Err   error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s phase: %v", e.Phase, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// PhaseOf returns the failed phase of a cycle error, or "" when err did not
// come from a cycle.
func PhaseOf(err error) Phase {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Phase
	}
	return ""
}

package vecbuf

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/vecbuf/buffer"
	"github.com/hupe1980/vecbuf/pagestore"
	"github.com/hupe1980/vecbuf/remote"
)

var (
	// ErrInvalidConfig is returned before any page is written when the
	// configuration or the remote collection does not fit the index.
	ErrInvalidConfig = errors.New("vecbuf: invalid configuration")

	// ErrCredentials is returned when the remote service rejects the API key.
	ErrCredentials = errors.New("vecbuf: invalid credentials")

	// ErrCorrupt reports a violated storage invariant. It is never retried.
	ErrCorrupt = buffer.ErrCorrupt

	// ErrRemote is the cause of every RemoteError.
	ErrRemote = remote.ErrRemote

	// ErrClosed is returned by operations on a closed index.
	ErrClosed = errors.New("vecbuf: index closed")
)

// ConfigError describes a rejected configuration field.
//
// It matches ErrInvalidConfig with errors.Is; the underlying error, if any,
// is reachable through errors.Unwrap.
type ConfigError struct {
	Field  string
	Reason string
	cause  error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid configuration: %s", e.Reason)
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() []error {
	if e.cause == nil {
		return []error{ErrInvalidConfig}
	}
	return []error{ErrInvalidConfig, e.cause}
}

func configError(field, reason string, cause error) error {
	return &ConfigError{Field: field, Reason: reason, cause: cause}
}

// RemoteError wraps a failure of the remote ANN service.
//
// During Flush it means the flush checkpoint was not advanced past the
// failed batch; the next flush uploads it again.
type RemoteError struct {
	Op       string
	Provider string
	cause    error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s (%s): %v", e.Op, e.Provider, e.cause)
}

func (e *RemoteError) Unwrap() error { return e.cause }

// Is makes every RemoteError match ErrRemote, whatever the provider
// returned.
func (e *RemoteError) Is(target error) bool { return target == ErrRemote }

func translateError(op, provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, pagestore.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}

	var ce *ConfigError
	var re *RemoteError
	switch {
	case errors.As(err, &ce), errors.As(err, &re), errors.Is(err, buffer.ErrCorrupt):
		return err
	case errors.Is(err, remote.ErrCredentials):
		return fmt.Errorf("%w: %w", ErrCredentials, err)
	case errors.Is(err, remote.ErrSchema):
		return configError("remote.host", "collection does not match the index", err)
	case errors.Is(err, remote.ErrRemote):
		return &RemoteError{Op: op, Provider: provider, cause: err}
	}
	return err
}

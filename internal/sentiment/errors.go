package sentiment

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable matches every BackendUnavailableError.
	ErrUnavailable = errors.New("sentiment: backend unavailable")
	// ErrEnsembleExhausted is returned when no backend produced a score.
	ErrEnsembleExhausted = errors.New("sentiment: no backend responded")
)

// BackendUnavailableError reports that one backend could not score a text.
// The ensemble degrades around it.
type BackendUnavailableError struct {
	Backend string
	Err     error
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("sentiment backend %s unavailable: %v", e.Backend, e.Err)
}

func (e *BackendUnavailableError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrUnavailable) hold for any backend failure.
func (e *BackendUnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

func unavailable(backend string, err error) error {
	var bue *BackendUnavailableError
	if errors.As(err, &bue) {
		return err
	}
	return &BackendUnavailableError{Backend: backend, Err: err}
}

package engine

import (
	"errors"
	"fmt"

	"taskquest/internal/db"
	"taskquest/internal/engine/auth"
	"taskquest/internal/repo"
)

var (
	ErrUnauthenticated    = auth.ErrUnauthenticated
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrAlreadyCompleted   = errors.New("task already completed")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrChallengeCompleted = errors.New("challenge already completed")
	ErrConflict           = db.ErrConflict
	ErrInvalidInput       = errors.New("invalid input")
)

// InputError carries a caller-facing validation message.
type InputError struct {
	Msg string
}

func (e InputError) Error() string { return e.Msg }

func (e InputError) Unwrap() error { return ErrInvalidInput }

func invalidf(format string, args ...any) error {
	return InputError{Msg: fmt.Sprintf(format, args...)}
}

// notFound maps repo.ErrNotFound to ErrNotFound and keeps other errors.
func notFound(err error, what string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}

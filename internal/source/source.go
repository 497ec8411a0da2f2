package source

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/crazysandman/air-quality/internal/models"
)

// ErrorKind classifies adapter failures.
type ErrorKind string

const (
	KindTimeout         ErrorKind = "timeout"
	KindInvalidResponse ErrorKind = "invalid_response"
	KindAuthFailure     ErrorKind = "auth_failure"
)

// Error is a transport-level adapter failure. Partial data never produces
// one; adapters only fail when nothing usable came back.
type Error struct {
	Source string
	Kind   ErrorKind
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("source %s: %s: %v", e.Source, e.Kind, e.Err)
	}
	return fmt.Sprintf("source %s: %s", e.Source, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTimeout reports whether err is an adapter timeout.
func IsTimeout(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == KindTimeout
}

// FetchResult carries the readings an adapter produced plus how many
// upstream entries it dropped as malformed.
type FetchResult struct {
	Readings         []models.StationReading
	SkippedMalformed int
}

// Source fetches raw station readings from one external provider and
// returns them normalized. Implementations are stateless across calls.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (FetchResult, error)
}

func classifyTransport(name string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Source: name, Kind: KindTimeout, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &Error{Source: name, Kind: KindTimeout, Err: err}
	}
	return &Error{Source: name, Kind: KindInvalidResponse, Err: err}
}

func classifyStatus(name string, status int) *Error {
	if status == 401 || status == 403 {
		return &Error{Source: name, Kind: KindAuthFailure, Err: fmt.Errorf("status %d", status)}
	}
	return &Error{Source: name, Kind: KindInvalidResponse, Err: fmt.Errorf("status %d", status)}
}

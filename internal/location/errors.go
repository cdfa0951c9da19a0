package location

import (
	"errors"
	"fmt"

	"meshworld.ai/internal/protocol"
)

const (
	CodeNotFound    = protocol.ErrCodeNotFound
	CodeUnreachable = protocol.ErrCodeUnreachable
	CodeMailboxFull = protocol.ErrCodeMailboxFull
)

var (
	ErrNotFound    = errors.New("actor not found")
	ErrUnreachable = errors.New("actor unreachable")
	ErrMailboxFull = errors.New("mailbox full")
)

// LocationError reports a key or address that could not be resolved or
// delivered to. NotFound is transient: a registration on another node may not
// have propagated yet.
type LocationError struct {
	Code   string
	Key    Key
	Addr   Address
	Reason string
}

func (e *LocationError) Error() string {
	target := string(e.Key)
	if target == "" {
		target = e.Addr.String()
	}
	if e.Reason == "" {
		return fmt.Sprintf("%s: %s", e.Code, target)
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, target, e.Reason)
}

func (e *LocationError) Is(target error) bool {
	switch e.Code {
	case CodeNotFound:
		return target == ErrNotFound
	case CodeUnreachable:
		return target == ErrUnreachable
	case CodeMailboxFull:
		return target == ErrMailboxFull
	}
	return false
}

func notFound(k Key) error { return &LocationError{Code: CodeNotFound, Key: k} }

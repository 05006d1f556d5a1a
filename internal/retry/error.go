package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind enumerates the failure families the association protocol distinguishes.
type Kind string

const (
	// KindNetwork marks transport failures reaching the remote store.
	KindNetwork Kind = "network"
	// KindDatabase marks failures returned by the remote store itself, constraint violations included.
	KindDatabase Kind = "database"
	// KindPermission marks an actor lacking a posting-capable role.
	KindPermission Kind = "permission"
	// KindValidation marks malformed input.
	KindValidation Kind = "validation"
)

// Error is the tagged failure produced at the boundary where an error originates.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	message := e.Message
	if message == "" && e.Err != nil {
		message = e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New returns a tagged error without an underlying cause.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap tags cause with the provided kind.
func Wrap(kind Kind, op string, cause error) *Error {
	message := ""
	if cause != nil {
		message = cause.Error()
	}
	return &Error{Kind: kind, Op: op, Message: message, Err: cause}
}

// FromStore tags an error returned by a database call. Transport-level failures are
// reported as network, everything else as database.
func FromStore(op string, cause error) *Error {
	if cause == nil {
		return nil
	}
	var tagged *Error
	if errors.As(cause, &tagged) {
		return tagged
	}
	if isTransportFailure(cause) {
		return Wrap(KindNetwork, op, cause)
	}
	return Wrap(KindDatabase, op, cause)
}

// Classify assigns a Kind to an arbitrary error. Tagged errors keep their kind; untyped
// errors fall back to matching on the lower-cased message.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	var tagged *Error
	if errors.As(err, &tagged) && tagged.Kind != "" {
		return tagged.Kind
	}
	if isTransportFailure(err) {
		return KindNetwork
	}
	return classifyText(err.Error())
}

// Tag returns err as a tagged error, classifying it when it is not one already.
func Tag(op string, err error) *Error {
	if err == nil {
		return nil
	}
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged
	}
	return Wrap(Classify(err), op, err)
}

func isTransportFailure(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// classifyText is the fallback for legacy error sources that only carry a message.
func classifyText(message string) Kind {
	lowered := strings.ToLower(message)
	switch {
	case strings.Contains(lowered, "network"), strings.Contains(lowered, "fetch"):
		return KindNetwork
	case strings.Contains(lowered, "permission"), strings.Contains(lowered, "unauthorized"):
		return KindPermission
	case strings.Contains(lowered, "validation"), strings.Contains(lowered, "invalid"):
		return KindValidation
	case strings.Contains(lowered, "database"), strings.Contains(lowered, "query"), strings.Contains(lowered, "constraint"):
		return KindDatabase
	default:
		return KindDatabase
	}
}

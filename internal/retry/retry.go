package retry

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

type Class string

const (
	ClassTerminal  Class = "terminal"
	ClassTransient Class = "transient"
)

type Decision struct {
	Class  Class
	Reason string
}

func (d Decision) IsTransient() bool {
	return d.Class == ClassTransient
}

type classifiedError struct {
	err    error
	class  Class
	reason string
}

func (e *classifiedError) Error() string {
	return e.err.Error()
}

func (e *classifiedError) Unwrap() error {
	return e.err
}

func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{
		err:    err,
		class:  ClassTransient,
		reason: "explicit_transient",
	}
}

// Terminal marks err as unrecoverable. The job queue dead-letters such
// failures immediately instead of spending the remaining attempts.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{
		err:    err,
		class:  ClassTerminal,
		reason: "explicit_terminal",
	}
}

// IsExplicitTerminal reports whether err was wrapped with Terminal.
func IsExplicitTerminal(err error) bool {
	var marked *classifiedError
	return errors.As(err, &marked) && marked.class == ClassTerminal
}

func Classify(err error) Decision {
	if err == nil {
		return Decision{Class: ClassTerminal, Reason: "nil_error"}
	}

	var marked *classifiedError
	if errors.As(err, &marked) {
		return Decision{Class: marked.class, Reason: marked.reason}
	}

	if errors.Is(err, context.Canceled) {
		return Decision{Class: ClassTerminal, Reason: "context_canceled"}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Decision{Class: ClassTransient, Reason: "context_deadline_exceeded"}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return classifyPostgresCode(pqErr.Code)
	}

	if errors.Is(err, redis.ErrClosed) {
		return Decision{Class: ClassTerminal, Reason: "redis_closed"}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Decision{Class: ClassTransient, Reason: "net_timeout"}
		}
	}

	lower := strings.ToLower(err.Error())
	if containsAny(lower, terminalMessageTokens) {
		return Decision{Class: ClassTerminal, Reason: "message_terminal"}
	}
	if containsAny(lower, transientMessageTokens) {
		return Decision{Class: ClassTransient, Reason: "message_transient"}
	}

	return Decision{Class: ClassTerminal, Reason: "unknown_terminal_default"}
}

func classifyPostgresCode(code pq.ErrorCode) Decision {
	switch code {
	case "40001":
		return Decision{Class: ClassTransient, Reason: "pg_serialization_failure"}
	case "40P01":
		return Decision{Class: ClassTransient, Reason: "pg_deadlock_detected"}
	case "55P03":
		return Decision{Class: ClassTransient, Reason: "pg_lock_not_available"}
	case "57014":
		return Decision{Class: ClassTransient, Reason: "pg_query_canceled"}
	}
	switch code.Class() {
	case "08":
		return Decision{Class: ClassTransient, Reason: "pg_connection_exception"}
	case "53":
		return Decision{Class: ClassTransient, Reason: "pg_insufficient_resources"}
	case "57":
		return Decision{Class: ClassTransient, Reason: "pg_operator_intervention"}
	}
	return Decision{Class: ClassTerminal, Reason: "pg_" + string(code)}
}

func containsAny(msg string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}

var transientMessageTokens = []string{
	"timeout",
	"timed out",
	"temporar",
	"unavailable",
	"connection reset",
	"connection refused",
	"broken pipe",
	"econnreset",
	"econnrefused",
	"too many clients",
	"loading redis is loading",
	"server closed idle connection",
	"i/o timeout",
}

var terminalMessageTokens = []string{
	"invalid argument",
	"invalid input syntax",
	"malformed payload",
	"constraint violation",
	"violates",
}

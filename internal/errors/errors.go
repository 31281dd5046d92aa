package errors

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Kind categorizes an error the way callers need to branch on it:
// retry, fall back to another source, or surface verbatim.
type Kind int

const (
	// KindNotFound - record absent at the source or in the graph.
	KindNotFound Kind = iota
	// KindRateLimited - honored by the retry layer, does not consume a retry slot.
	KindRateLimited
	// KindAPIError - HTTP 4xx (not 404/429) or a malformed response.
	KindAPIError
	// KindTransient - timeouts, 5xx, graph-store transient errors.
	KindTransient
	// KindCircuitOpen - fast-fail while a circuit breaker is open.
	KindCircuitOpen
	// KindDuplicate - primary-key collision on create.
	KindDuplicate
	// KindValidation - invalid input data.
	KindValidation
	// KindMatcher - concept-matching failure.
	KindMatcher
	// KindAutoLinker - auto-linking transaction failure.
	KindAutoLinker
	// KindPipeline - pipeline-stage failure.
	KindPipeline
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NOT_FOUND"
	case KindRateLimited:
		return "RATE_LIMITED"
	case KindAPIError:
		return "API_ERROR"
	case KindTransient:
		return "TRANSIENT"
	case KindCircuitOpen:
		return "CIRCUIT_OPEN"
	case KindDuplicate:
		return "DUPLICATE"
	case KindValidation:
		return "VALIDATION"
	case KindMatcher:
		return "MATCHER"
	case KindAutoLinker:
		return "AUTO_LINKER"
	case KindPipeline:
		return "PIPELINE"
	default:
		return "UNKNOWN"
	}
}

// Error is a structured error carrying enough context for callers to
// dispatch on its kind without string matching.
type Error struct {
	Kind       Kind
	Message    string
	Cause      error
	Context    map[string]any
	TraceID    string
	RetryAfter time.Duration // only meaningful for KindRateLimited
	Status     int           // only meaningful for KindAPIError
	Body       string        // only meaningful for KindAPIError
	StackTrace string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithContext attaches a key/value pair for diagnostics.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithTraceID attaches the ingest trace id for audit correlation.
func (e *Error) WithTraceID(traceID string) *Error {
	e.TraceID = traceID
	return e
}

func captureStackTrace(skip int) string {
	var sb strings.Builder
	for i := skip; i < skip+10; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			break
		}
		sb.WriteString(fmt.Sprintf("  %s:%d %s\n", file, line, fn.Name()))
	}
	return sb.String()
}

func newErr(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, StackTrace: captureStackTrace(3)}
}

func wrapErr(err error, kind Kind, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: err, StackTrace: captureStackTrace(3)}
}

// NotFound builds a KindNotFound error.
func NotFound(message string) *Error { return newErr(KindNotFound, message) }

// NotFoundf builds a KindNotFound error with formatting.
func NotFoundf(format string, args ...any) *Error {
	return newErr(KindNotFound, fmt.Sprintf(format, args...))
}

// RateLimited builds a KindRateLimited error carrying the advertised wait.
func RateLimited(source string, retryAfter time.Duration) *Error {
	e := newErr(KindRateLimited, fmt.Sprintf("%s: rate limited", source))
	e.RetryAfter = retryAfter
	return e
}

// APIError builds a KindAPIError error from an HTTP status and body.
func APIError(status int, body string) *Error {
	e := newErr(KindAPIError, fmt.Sprintf("unexpected status %d", status))
	e.Status = status
	e.Body = body
	return e
}

// Transient wraps a retryable transport/graph error.
func Transient(err error, message string) *Error {
	return wrapErr(err, KindTransient, message)
}

// CircuitOpen builds a KindCircuitOpen error for a given source.
func CircuitOpen(source string) *Error {
	return newErr(KindCircuitOpen, fmt.Sprintf("circuit open for %s", source))
}

// Duplicate builds a KindDuplicate error for a colliding primary key.
func Duplicate(message string) *Error { return newErr(KindDuplicate, message) }

// Validation builds a KindValidation error.
func Validation(message string) *Error { return newErr(KindValidation, message) }

// Validationf builds a KindValidation error with formatting.
func Validationf(format string, args ...any) *Error {
	return newErr(KindValidation, fmt.Sprintf(format, args...))
}

// Matcher wraps an upstream failure encountered during concept matching.
func Matcher(err error, message string) *Error { return wrapErr(err, KindMatcher, message) }

// AutoLinker wraps an upstream failure encountered while auto-linking.
func AutoLinker(err error, message string) *Error { return wrapErr(err, KindAutoLinker, message) }

// Pipeline wraps an upstream failure encountered during pipeline execution.
func Pipeline(err error, message string) *Error { return wrapErr(err, KindPipeline, message) }

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	return e.Kind == kind
}

// GetRetryAfter extracts the advertised wait from a KindRateLimited error.
func GetRetryAfter(err error) (time.Duration, bool) {
	e, ok := err.(*Error)
	if !ok || e.Kind != KindRateLimited {
		return 0, false
	}
	return e.RetryAfter, true
}

// GetKind returns the Kind of err, or KindTransient if err is not an *Error.
func GetKind(err error) Kind {
	e, ok := err.(*Error)
	if !ok {
		return KindTransient
	}
	return e.Kind
}

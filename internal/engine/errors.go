package engine

import (
	"context"
	"errors"
	"net/http"

	"github.com/wsaxqd/home-work2-sub001/internal/content"
	"github.com/wsaxqd/home-work2-sub001/internal/domain"
	"github.com/wsaxqd/home-work2-sub001/internal/knowledge"
	"github.com/wsaxqd/home-work2-sub001/internal/learnpath"
	"github.com/wsaxqd/home-work2-sub001/internal/llm"
	"github.com/wsaxqd/home-work2-sub001/internal/practice"
)

// Kind groups engine errors by how a caller should react.
type Kind int

const (
	KindNone Kind = iota
	// KindNotFound is a bad id: not retried.
	KindNotFound
	// KindProtocol is caller misuse such as an operation in the wrong
	// session state or malformed input: not retried.
	KindProtocol
	// KindUnavailable is a content or evaluation failure. The session, if
	// any, has been ended with a partial summary; the caller may start over.
	KindUnavailable
	// KindTransient is a write conflict that survived internal retries.
	KindTransient
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindNotFound:
		return "not_found"
	case KindProtocol:
		return "protocol"
	case KindUnavailable:
		return "unavailable"
	case KindTransient:
		return "transient"
	default:
		return "internal"
	}
}

// HTTPStatus maps a kind to the status an HTTP layer would answer with.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindNone:
		return http.StatusOK
	case KindNotFound:
		return http.StatusNotFound
	case KindProtocol:
		return http.StatusConflict
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindTransient:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Classify maps any error returned by the engine to its Kind.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}

	var finished *practice.FinishedError
	var unavailable *llm.ErrProviderUnavailable
	var rateLimited *llm.ErrRateLimit
	switch {
	case errors.As(err, &finished),
		errors.Is(err, content.ErrNoQuestionsAvailable),
		errors.Is(err, practice.ErrEvaluationUnavailable),
		errors.As(err, &unavailable),
		errors.As(err, &rateLimited),
		errors.Is(err, context.DeadlineExceeded):
		return KindUnavailable
	case errors.Is(err, knowledge.ErrUnknownKnowledgePoint),
		errors.Is(err, learnpath.ErrPathNotFound),
		errors.Is(err, practice.ErrSessionNotFound),
		errors.Is(err, domain.ErrNotFound):
		return KindNotFound
	case errors.Is(err, practice.ErrInvalidState),
		errors.Is(err, practice.ErrSessionClosed),
		errors.Is(err, domain.ErrInvalidInput):
		return KindProtocol
	case errors.Is(err, domain.ErrConflict):
		return KindTransient
	default:
		return KindInternal
	}
}

// Package generator produces course and project content trees.
//
// A generator returns bodies only. Unit ids and progress state are assigned
// by the engine when the content is persisted.
package generator

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/felixgeelhaar/courseforge/internal/domain"
)

var (
	// ErrUnavailable means the generator could not be reached or refused
	// the request. The caller may try again later.
	ErrUnavailable = errors.New("content generator unavailable")
	// ErrMalformed means the generator answered with content that does not
	// form a usable tree.
	ErrMalformed = errors.New("malformed generated content")
)

// Generator creates content for a topic at a difficulty.
type Generator interface {
	Name() string
	GenerateCourse(ctx context.Context, topic string, difficulty domain.Difficulty) (domain.CourseContent, error)
	GenerateProject(ctx context.Context, topic string, difficulty domain.Difficulty) (domain.ProjectContent, error)
}

// StatusError is a non-2xx answer from a remote generator.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("generator API error (status %d): %s", e.Code, e.Body)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrUnavailable
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	switch e.Code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// ValidateCourse checks that content has at least one module and every
// module has at least one lesson.
func ValidateCourse(c domain.CourseContent) error {
	if len(c.Modules) == 0 {
		return fmt.Errorf("%w: course has no modules", ErrMalformed)
	}
	for i, m := range c.Modules {
		if len(m.Lessons) == 0 {
			return fmt.Errorf("%w: module %d (%q) has no lessons", ErrMalformed, i, m.Title)
		}
	}
	return nil
}

// ValidateProject checks that content has at least one step.
func ValidateProject(p domain.ProjectContent) error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("%w: project has no steps", ErrMalformed)
	}
	return nil
}

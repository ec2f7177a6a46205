package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/courseforge/internal/progress"
)

// Difficulty is the requested difficulty of generated content
type Difficulty string

const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
)

// ParseDifficulty validates s. An empty string defaults to beginner.
func ParseDifficulty(s string) (Difficulty, error) {
	switch d := Difficulty(strings.ToLower(strings.TrimSpace(s))); d {
	case "":
		return DifficultyBeginner, nil
	case DifficultyBeginner, DifficultyIntermediate, DifficultyAdvanced:
		return d, nil
	default:
		return "", fmt.Errorf("%w: difficulty %q", ErrInvalidInput, s)
	}
}

// -----------------------------------------------------------------------------
// Content trees
// Produced by the content generator. They carry no ids and no progress.
// -----------------------------------------------------------------------------

// CourseContent is a generated course body.
type CourseContent struct {
	Title   string          `json:"title"`
	Modules []ModuleContent `json:"modules"`
}

// ModuleContent groups lessons.
type ModuleContent struct {
	Title   string          `json:"title"`
	Lessons []LessonContent `json:"lessons"`
}

// LessonContent is a single lesson body.
type LessonContent struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// ProjectContent is a generated project body.
type ProjectContent struct {
	Title string        `json:"title"`
	Steps []StepContent `json:"steps"`
}

// StepContent is a single project step body.
type StepContent struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// -----------------------------------------------------------------------------
// Course
// -----------------------------------------------------------------------------

// Course is a learner-owned tree of modules and lessons.
type Course struct {
	ID         uuid.UUID    `json:"id"`
	OwnerID    uuid.UUID    `json:"owner_id"`
	Title      string       `json:"title"`
	Topic      string       `json:"topic"`
	Difficulty Difficulty   `json:"difficulty"`
	Modules    []Module     `json:"modules"`
	Progress   progress.Map `json:"progress"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// Module is a titled group of lessons.
type Module struct {
	Title   string   `json:"title"`
	Lessons []Lesson `json:"lessons"`
}

// Lesson is the completable unit of a course.
type Lesson struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// NewCourse builds a course from generated content, assigning a fresh id to
// every lesson and starting with an empty progress map.
func NewCourse(ownerID uuid.UUID, topic string, difficulty Difficulty, content CourseContent, now time.Time) (*Course, error) {
	if len(content.Modules) == 0 {
		return nil, fmt.Errorf("%w: course content has no modules", ErrInvalidInput)
	}

	c := &Course{
		ID:         uuid.New(),
		OwnerID:    ownerID,
		Title:      content.Title,
		Topic:      topic,
		Difficulty: difficulty,
		Modules:    make([]Module, 0, len(content.Modules)),
		Progress:   progress.New(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, mc := range content.Modules {
		m := Module{Title: mc.Title, Lessons: make([]Lesson, 0, len(mc.Lessons))}
		for _, lc := range mc.Lessons {
			m.Lessons = append(m.Lessons, Lesson{ID: uuid.NewString(), Title: lc.Title, Body: lc.Body})
		}
		c.Modules = append(c.Modules, m)
	}
	if c.Title == "" {
		c.Title = topic
	}
	return c, nil
}

// HasUnit reports whether unitID names a lesson of the course.
func (c *Course) HasUnit(unitID string) bool {
	for _, m := range c.Modules {
		for _, l := range m.Lessons {
			if l.ID == unitID {
				return true
			}
		}
	}
	return false
}

// UnitIDs returns lesson ids in course order.
func (c *Course) UnitIDs() []string {
	var ids []string
	for _, m := range c.Modules {
		for _, l := range m.Lessons {
			ids = append(ids, l.ID)
		}
	}
	return ids
}

// -----------------------------------------------------------------------------
// Project
// -----------------------------------------------------------------------------

// Project is a learner-owned ordered list of steps.
type Project struct {
	ID         uuid.UUID    `json:"id"`
	OwnerID    uuid.UUID    `json:"owner_id"`
	Title      string       `json:"title"`
	Topic      string       `json:"topic"`
	Difficulty Difficulty   `json:"difficulty"`
	Steps      []Step       `json:"steps"`
	Progress   progress.Map `json:"progress"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// Step is the completable unit of a project.
type Step struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// NewProject builds a project from generated content.
func NewProject(ownerID uuid.UUID, topic string, difficulty Difficulty, content ProjectContent, now time.Time) (*Project, error) {
	if len(content.Steps) == 0 {
		return nil, fmt.Errorf("%w: project content has no steps", ErrInvalidInput)
	}

	p := &Project{
		ID:         uuid.New(),
		OwnerID:    ownerID,
		Title:      content.Title,
		Topic:      topic,
		Difficulty: difficulty,
		Steps:      make([]Step, 0, len(content.Steps)),
		Progress:   progress.New(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, sc := range content.Steps {
		p.Steps = append(p.Steps, Step{ID: uuid.NewString(), Title: sc.Title, Body: sc.Body})
	}
	if p.Title == "" {
		p.Title = topic
	}
	return p, nil
}

// HasUnit reports whether stepID names a step of the project.
func (p *Project) HasUnit(stepID string) bool {
	for _, s := range p.Steps {
		if s.ID == stepID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the course.
func (c *Course) Clone() *Course {
	out := *c
	out.Modules = make([]Module, len(c.Modules))
	for i, m := range c.Modules {
		out.Modules[i] = Module{Title: m.Title, Lessons: append([]Lesson(nil), m.Lessons...)}
	}
	out.Progress = c.Progress.Clone()
	return &out
}

// Clone returns a deep copy of the project.
func (p *Project) Clone() *Project {
	out := *p
	out.Steps = append([]Step(nil), p.Steps...)
	out.Progress = p.Progress.Clone()
	return &out
}

package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/courseforge/internal/domain"
)

// Static builds placeholder content without any remote call. It backs the
// local store when no generator is configured.
type Static struct {
	Modules          int
	LessonsPerModule int
	Steps            int
}

// NewStatic returns a Static generator with three modules of three lessons
// and five project steps.
func NewStatic() *Static {
	return &Static{Modules: 3, LessonsPerModule: 3, Steps: 5}
}

func (s *Static) Name() string {
	return "static"
}

// GenerateCourse implements Generator.
func (s *Static) GenerateCourse(ctx context.Context, topic string, difficulty domain.Difficulty) (domain.CourseContent, error) {
	if err := ctx.Err(); err != nil {
		return domain.CourseContent{}, err
	}
	topic = strings.TrimSpace(topic)
	c := domain.CourseContent{Title: fmt.Sprintf("%s (%s)", topic, difficulty)}
	for m := 1; m <= max(s.Modules, 1); m++ {
		mod := domain.ModuleContent{Title: fmt.Sprintf("Module %d", m)}
		for l := 1; l <= max(s.LessonsPerModule, 1); l++ {
			mod.Lessons = append(mod.Lessons, domain.LessonContent{
				Title: fmt.Sprintf("Lesson %d.%d", m, l),
				Body:  fmt.Sprintf("Notes on %s, part %d.%d.", topic, m, l),
			})
		}
		c.Modules = append(c.Modules, mod)
	}
	return c, nil
}

// GenerateProject implements Generator.
func (s *Static) GenerateProject(ctx context.Context, topic string, difficulty domain.Difficulty) (domain.ProjectContent, error) {
	if err := ctx.Err(); err != nil {
		return domain.ProjectContent{}, err
	}
	topic = strings.TrimSpace(topic)
	p := domain.ProjectContent{Title: fmt.Sprintf("Build: %s (%s)", topic, difficulty)}
	for i := 1; i <= max(s.Steps, 1); i++ {
		p.Steps = append(p.Steps, domain.StepContent{
			Title: fmt.Sprintf("Step %d", i),
			Body:  fmt.Sprintf("Work on %s, step %d.", topic, i),
		})
	}
	return p, nil
}

var _ Generator = (*Static)(nil)

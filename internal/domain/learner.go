package domain

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Learner owns courses, projects and folders and carries the gamification
// counters. XP is the surplus inside the current level.
type Learner struct {
	ID         uuid.UUID   `json:"id"`
	Name       string      `json:"name"`
	XP         int         `json:"xp"`
	Level      int         `json:"level"`
	CourseIDs  []uuid.UUID `json:"course_ids"`
	ProjectIDs []uuid.UUID `json:"project_ids"`

	// Revision is bumped by the store on every committed write.
	Revision  int64     `json:"revision"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewLearner creates a learner at level 1 with no XP.
func NewLearner(id uuid.UUID, name string, now time.Time) *Learner {
	return &Learner{
		ID:         id,
		Name:       name,
		XP:         0,
		Level:      1,
		CourseIDs:  []uuid.UUID{},
		ProjectIDs: []uuid.UUID{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// OwnsCourse reports whether courseID is in the learner's course collection.
func (l *Learner) OwnsCourse(courseID uuid.UUID) bool {
	return slices.Contains(l.CourseIDs, courseID)
}

// OwnsProject reports whether projectID is in the learner's project collection.
func (l *Learner) OwnsProject(projectID uuid.UUID) bool {
	return slices.Contains(l.ProjectIDs, projectID)
}

// AddCourse appends courseID if absent.
func (l *Learner) AddCourse(courseID uuid.UUID) {
	if !l.OwnsCourse(courseID) {
		l.CourseIDs = append(l.CourseIDs, courseID)
	}
}

// RemoveCourse drops courseID, keeping order.
func (l *Learner) RemoveCourse(courseID uuid.UUID) {
	l.CourseIDs = slices.DeleteFunc(l.CourseIDs, func(id uuid.UUID) bool { return id == courseID })
}

// AddProject appends projectID if absent.
func (l *Learner) AddProject(projectID uuid.UUID) {
	if !l.OwnsProject(projectID) {
		l.ProjectIDs = append(l.ProjectIDs, projectID)
	}
}

// RemoveProject drops projectID, keeping order.
func (l *Learner) RemoveProject(projectID uuid.UUID) {
	l.ProjectIDs = slices.DeleteFunc(l.ProjectIDs, func(id uuid.UUID) bool { return id == projectID })
}

// Clone returns a deep copy so stores can hand out snapshots.
func (l *Learner) Clone() *Learner {
	c := *l
	c.CourseIDs = slices.Clone(l.CourseIDs)
	c.ProjectIDs = slices.Clone(l.ProjectIDs)
	return &c
}

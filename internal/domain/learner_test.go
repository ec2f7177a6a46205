package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewLearner(t *testing.T) {
	id := uuid.New()
	now := time.Now()
	l := NewLearner(id, "Ada", now)

	if l.ID != id {
		t.Errorf("ID = %v, want %v", l.ID, id)
	}
	if l.XP != 0 || l.Level != 1 {
		t.Errorf("XP/Level = %d/%d, want 0/1", l.XP, l.Level)
	}
	if l.CourseIDs == nil || l.ProjectIDs == nil {
		t.Error("collections should be non-nil")
	}
	if l.Revision != 0 {
		t.Errorf("Revision = %d, want 0", l.Revision)
	}
}

func TestLearner_Courses(t *testing.T) {
	l := NewLearner(uuid.New(), "Ada", time.Now())
	a, b := uuid.New(), uuid.New()

	l.AddCourse(a)
	l.AddCourse(b)
	l.AddCourse(a)

	if len(l.CourseIDs) != 2 {
		t.Fatalf("CourseIDs len = %d, want 2", len(l.CourseIDs))
	}
	if !l.OwnsCourse(a) || !l.OwnsCourse(b) {
		t.Error("OwnsCourse() should be true for added courses")
	}

	l.RemoveCourse(a)
	if l.OwnsCourse(a) {
		t.Error("OwnsCourse() should be false after RemoveCourse")
	}
	if len(l.CourseIDs) != 1 || l.CourseIDs[0] != b {
		t.Errorf("CourseIDs = %v, want [%v]", l.CourseIDs, b)
	}

	l.RemoveCourse(uuid.New())
	if len(l.CourseIDs) != 1 {
		t.Errorf("removing unknown course changed CourseIDs: %v", l.CourseIDs)
	}
}

func TestLearner_Projects(t *testing.T) {
	l := NewLearner(uuid.New(), "Ada", time.Now())
	p := uuid.New()

	l.AddProject(p)
	l.AddProject(p)
	if len(l.ProjectIDs) != 1 || !l.OwnsProject(p) {
		t.Errorf("ProjectIDs = %v, want [%v]", l.ProjectIDs, p)
	}

	l.RemoveProject(p)
	if l.OwnsProject(p) {
		t.Error("OwnsProject() should be false after RemoveProject")
	}
}

func TestLearner_Clone(t *testing.T) {
	l := NewLearner(uuid.New(), "Ada", time.Now())
	l.AddCourse(uuid.New())

	c := l.Clone()
	c.AddCourse(uuid.New())
	c.XP = 42

	if len(l.CourseIDs) != 1 {
		t.Errorf("original CourseIDs len = %d, want 1", len(l.CourseIDs))
	}
	if l.XP != 0 {
		t.Errorf("original XP = %d, want 0", l.XP)
	}
}

package domain

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Folder is a learner-defined group of courses. A course id is a member of
// at most one folder; the folder package is the only code that edits
// CourseIDs.
type Folder struct {
	ID        uuid.UUID   `json:"id"`
	OwnerID   uuid.UUID   `json:"owner_id"`
	Name      string      `json:"name"`
	CourseIDs []uuid.UUID `json:"course_ids"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Contains reports whether courseID is a member.
func (f Folder) Contains(courseID uuid.UUID) bool {
	return slices.Contains(f.CourseIDs, courseID)
}

// Clone returns a copy with its own member slice.
func (f Folder) Clone() Folder {
	f.CourseIDs = slices.Clone(f.CourseIDs)
	if f.CourseIDs == nil {
		f.CourseIDs = []uuid.UUID{}
	}
	return f
}

// CloneFolders deep-copies a folder set.
func CloneFolders(folders []Folder) []Folder {
	out := make([]Folder, len(folders))
	for i, f := range folders {
		out[i] = f.Clone()
	}
	return out
}

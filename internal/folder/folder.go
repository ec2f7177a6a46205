// Package folder maintains a learner's folder index.
//
// Every function takes the current folder set and returns a new one; inputs
// are never modified. After any sequence of calls a course id is a member of
// at most one folder. Failed operations return the input set unchanged.
package folder

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/courseforge/internal/domain"
)

// MaxNameLength bounds folder names.
const MaxNameLength = 100

// Create appends a new empty folder named name.
func Create(folders []domain.Folder, ownerID uuid.UUID, name string, now time.Time) ([]domain.Folder, domain.Folder, error) {
	name, err := normalizeName(name)
	if err != nil {
		return folders, domain.Folder{}, err
	}

	f := domain.Folder{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Name:      name,
		CourseIDs: []uuid.UUID{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	next := append(domain.CloneFolders(folders), f)
	return next, f, nil
}

// MoveCourse removes courseID from every folder and, when target is non-nil,
// adds it to that folder. A target that does not exist fails with a
// not-found error before anything is removed.
func MoveCourse(folders []domain.Folder, courseID uuid.UUID, target *uuid.UUID, now time.Time) ([]domain.Folder, error) {
	ti := -1
	if target != nil {
		ti = indexOf(folders, *target)
		if ti < 0 {
			return folders, domain.NewNotFound(domain.ResourceFolder, *target)
		}
	}

	next := RemoveCourseEverywhere(folders, courseID, now)
	if ti >= 0 && !next[ti].Contains(courseID) {
		next[ti].CourseIDs = append(next[ti].CourseIDs, courseID)
		next[ti].UpdatedAt = now
	}
	return next, nil
}

// RemoveCourseEverywhere drops courseID from every folder. Absent ids are a no-op.
func RemoveCourseEverywhere(folders []domain.Folder, courseID uuid.UUID, now time.Time) []domain.Folder {
	next := domain.CloneFolders(folders)
	for i := range next {
		if !next[i].Contains(courseID) {
			continue
		}
		next[i].CourseIDs = slices.DeleteFunc(next[i].CourseIDs, func(id uuid.UUID) bool { return id == courseID })
		next[i].UpdatedAt = now
	}
	return next
}

// DeleteFolder removes the folder. Its member courses become folder-less.
func DeleteFolder(folders []domain.Folder, folderID uuid.UUID) ([]domain.Folder, domain.Folder, error) {
	i := indexOf(folders, folderID)
	if i < 0 {
		return folders, domain.Folder{}, domain.NewNotFound(domain.ResourceFolder, folderID)
	}
	removed := folders[i].Clone()
	next := domain.CloneFolders(folders)
	next = slices.Delete(next, i, i+1)
	return next, removed, nil
}

// Rename changes a folder's name.
func Rename(folders []domain.Folder, folderID uuid.UUID, newName string, now time.Time) ([]domain.Folder, error) {
	i := indexOf(folders, folderID)
	if i < 0 {
		return folders, domain.NewNotFound(domain.ResourceFolder, folderID)
	}
	name, err := normalizeName(newName)
	if err != nil {
		return folders, err
	}

	next := domain.CloneFolders(folders)
	next[i].Name = name
	next[i].UpdatedAt = now
	return next, nil
}

// Find returns the folder with id.
func Find(folders []domain.Folder, id uuid.UUID) (domain.Folder, bool) {
	i := indexOf(folders, id)
	if i < 0 {
		return domain.Folder{}, false
	}
	return folders[i], true
}

// FolderOf returns the folder holding courseID, or nil.
func FolderOf(folders []domain.Folder, courseID uuid.UUID) *uuid.UUID {
	for _, f := range folders {
		if f.Contains(courseID) {
			id := f.ID
			return &id
		}
	}
	return nil
}

// Validate checks the membership invariants against the learner's course
// collection: members must be owned courses and no course may sit in two
// folders or twice in one folder. It returns one *domain.InvariantError per
// violation.
func Validate(folders []domain.Folder, courseIDs []uuid.UUID) []error {
	owned := make(map[uuid.UUID]bool, len(courseIDs))
	for _, id := range courseIDs {
		owned[id] = true
	}

	var errs []error
	seenIn := make(map[uuid.UUID]uuid.UUID)
	for _, f := range folders {
		for _, cid := range f.CourseIDs {
			if !owned[cid] {
				errs = append(errs, &domain.InvariantError{
					Invariant: domain.InvariantFolderMembership,
					Detail:    fmt.Sprintf("folder %s references course %s not owned by learner", f.ID, cid),
				})
			}
			if prev, dup := seenIn[cid]; dup {
				errs = append(errs, &domain.InvariantError{
					Invariant: domain.InvariantFolderUnique,
					Detail:    fmt.Sprintf("course %s in folder %s and folder %s", cid, prev, f.ID),
				})
				continue
			}
			seenIn[cid] = f.ID
		}
	}
	return errs
}

// Repair drops orphaned members and every duplicate after the first
// occurrence. It returns the repaired set and the number of removed entries.
func Repair(folders []domain.Folder, courseIDs []uuid.UUID, now time.Time) ([]domain.Folder, int) {
	owned := make(map[uuid.UUID]bool, len(courseIDs))
	for _, id := range courseIDs {
		owned[id] = true
	}

	next := domain.CloneFolders(folders)
	seen := make(map[uuid.UUID]bool)
	removed := 0
	for i := range next {
		kept := next[i].CourseIDs[:0]
		for _, cid := range next[i].CourseIDs {
			if !owned[cid] || seen[cid] {
				removed++
				continue
			}
			seen[cid] = true
			kept = append(kept, cid)
		}
		if len(kept) != len(next[i].CourseIDs) {
			next[i].UpdatedAt = now
		}
		next[i].CourseIDs = kept
	}
	return next, removed
}

func indexOf(folders []domain.Folder, id uuid.UUID) int {
	return slices.IndexFunc(folders, func(f domain.Folder) bool { return f.ID == id })
}

func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: folder name is required", domain.ErrInvalidInput)
	}
	if len(name) > MaxNameLength {
		return "", fmt.Errorf("%w: folder name longer than %d characters", domain.ErrInvalidInput, MaxNameLength)
	}
	return name, nil
}

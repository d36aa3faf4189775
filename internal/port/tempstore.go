package port

import "time"

// TempStore defines the filesystem operations around download temp files.
type TempStore interface {
	// TempPath returns the temp file path for a destination stem and resume
	// key (last-modified epoch millis). A zero key means no valid resume
	// identity exists for the resource.
	TempPath(stem string, key int64) string

	// Size returns the current length of a temp file, or 0 if it does not
	// exist.
	Size(path string) (int64, error)

	// Remove deletes a temp file. Removing a missing file is not an error.
	Remove(path string) error

	// Promote moves a finished temp file to its destination, creating parent
	// directories as needed. Falls back to copy+delete across filesystems.
	Promote(tempPath, destPath string) error

	// CleanOld removes temp files older than the given age and returns how
	// many were deleted.
	CleanOld(olderThan time.Duration) (int, error)
}

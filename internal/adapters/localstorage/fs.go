package localstorage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"coursearchiver/internal/util"
)

const structureFile = "course_structure.json"

// ErrNoStructure is returned when no cached course structure exists.
var ErrNoStructure = errors.New("no cached course structure")

// LocalStorage implements ports.Storage for the local filesystem and knows
// the archive layout under BaseDir.
type LocalStorage struct {
	BaseDir string
}

// NewLocalStorage creates a new LocalStorage instance.
func NewLocalStorage(baseDir string) *LocalStorage {
	return &LocalStorage{BaseDir: baseDir}
}

// CourseRoot returns the directory a course is archived into.
func (s *LocalStorage) CourseRoot(courseName string) string {
	name := util.SanitizeFilename(courseName)
	if name == "" {
		name = "course"
	}
	return filepath.Join(s.BaseDir, name)
}

// EnsureDir creates path and its parents.
func (s *LocalStorage) EnsureDir(ctx context.Context, path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

// SaveDocument writes content to path atomically.
func (s *LocalStorage) SaveDocument(ctx context.Context, path string, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := util.WriteFileAtomic(path, content); err != nil {
		return fmt.Errorf("failed to save %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Exists reports whether a regular file exists at path.
func (s *LocalStorage) Exists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular()
}

// SaveStructure caches the raw course structure inside the course root.
func (s *LocalStorage) SaveStructure(ctx context.Context, courseRoot string, data []byte) error {
	return s.SaveDocument(ctx, filepath.Join(courseRoot, structureFile), data)
}

// LoadStructure returns the cached course structure, or ErrNoStructure.
func (s *LocalStorage) LoadStructure(courseRoot string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(courseRoot, structureFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoStructure
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached structure: %w", err)
	}
	return data, nil
}

// FindStructure looks for a cached structure in any course directory under
// BaseDir whose course id matches. It lets a run with -use-cache start
// before the course name is known.
func (s *LocalStorage) FindStructure(match func([]byte) bool) (string, []byte, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil, ErrNoStructure
		}
		return "", nil, err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		root := filepath.Join(s.BaseDir, e.Name())
		data, err := s.LoadStructure(root)
		if err != nil {
			continue
		}
		if match(data) {
			return root, data, nil
		}
	}
	return "", nil, ErrNoStructure
}

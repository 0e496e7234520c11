package ports

import (
	"context"
	"net/http"

	"coursearchiver/internal/core/domain"
)

// HTTPDoer is the shared authenticated session every remote call goes through.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// CourseSource defines the contract for reading course data from the LMS.
type CourseSource interface {
	// CourseStructure returns the raw outline document for the course page URL.
	CourseStructure(ctx context.Context, courseURL string) ([]byte, error)

	// EnrolledCourses lists the courses the logged-in user can archive.
	EnrolledCourses(ctx context.Context) ([]domain.CourseRef, error)
}

// PageRenderer produces the final HTML of a lesson page.
type PageRenderer interface {
	Render(ctx context.Context, pageURL string) (*domain.RenderedPage, error)
}

// VideoDownloader fetches one embedded lecture video into outputDir.
// Returns the path of the written file.
type VideoDownloader interface {
	Download(ctx context.Context, videoID, displayName, referer, outputDir string) (string, error)
}

// PlayerMatcher recognizes embedded player URLs.
type PlayerMatcher interface {
	VideoID(src string) (string, bool)
}

// DocumentLocalizer rewrites a page so that it only references local files.
type DocumentLocalizer interface {
	Localize(ctx context.Context, html, baseURL string, dest domain.AssetLayout) (string, error)
}

// Storage defines the contract for persisting the archive tree.
type Storage interface {
	// EnsureDir creates a directory (and parents) inside the archive.
	EnsureDir(ctx context.Context, path string) error

	// SaveDocument atomically writes a lesson page.
	SaveDocument(ctx context.Context, path string, content []byte) error

	// Exists reports whether a regular file is present at path.
	Exists(path string) bool

	// CourseRoot is the directory a course is archived into.
	CourseRoot(courseName string) string

	// SaveStructure and LoadStructure manage the cached outline document.
	SaveStructure(ctx context.Context, courseRoot string, data []byte) error
	LoadStructure(courseRoot string) ([]byte, error)

	// FindStructure returns the first cached outline accepted by match,
	// together with the course root it was found in.
	FindStructure(match func([]byte) bool) (string, []byte, error)
}

// ProgressLedger records per-node outcomes across runs.
type ProgressLedger interface {
	IsCompleted(id string) bool
	ShouldSkip(id string, force bool) bool
	MarkCompleted(id, displayName, kind, filePath string, hasVideo bool) error
	MarkFailed(id, displayName, kind string, cause error) error
	MarkSkipped(id, displayName, kind, reason string) error
}

package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

// BlockKind tags a node of the course tree.
type BlockKind int

const (
	KindOther BlockKind = iota
	KindCourse
	KindChapter
	KindSequential
	KindVertical
)

// ParseBlockKind maps the LMS "type" field onto a BlockKind.
func ParseBlockKind(t string) BlockKind {
	switch t {
	case "course":
		return KindCourse
	case "chapter":
		return KindChapter
	case "sequential":
		return KindSequential
	case "vertical":
		return KindVertical
	default:
		return KindOther
	}
}

func (k BlockKind) String() string {
	switch k {
	case KindCourse:
		return "course"
	case KindChapter:
		return "chapter"
	case KindSequential:
		return "sequential"
	case KindVertical:
		return "vertical"
	default:
		return "other"
	}
}

// IsContainer reports whether nodes of this kind only group children.
func (k BlockKind) IsContainer() bool {
	return k == KindCourse || k == KindChapter || k == KindSequential
}

// Block is one node of the course tree.
type Block struct {
	ID          string
	Kind        BlockKind
	RawType     string // LMS type string, kept for kinds we do not model
	DisplayName string
	Children    []string
	// LMSWebURL is the rendered page address. Only vertical blocks carry one.
	LMSWebURL string
}

// rawBlock mirrors one entry of course_blocks.blocks.
type rawBlock struct {
	ID          string   `json:"id"`
	Type        string   `json:"type"`
	DisplayName string   `json:"display_name"`
	Children    []string `json:"children"`
	LMSWebURL   string   `json:"lms_web_url"`
}

type rawStructure struct {
	Name         string `json:"name"`
	CourseBlocks *struct {
		Root   string              `json:"root"`
		Blocks map[string]rawBlock `json:"blocks"`
	} `json:"course_blocks"`
}

// ErrNoCourseBlocks is returned when a structure document has no block map.
var ErrNoCourseBlocks = errors.New("course structure has no course_blocks")

// CourseTree is the parsed, id-keyed course outline.
type CourseTree struct {
	Name   string
	RootID string
	Blocks map[string]Block
}

// ParseCourseTree decodes a structure document as returned by the outline
// endpoints (and as cached in course_structure.json).
func ParseCourseTree(data []byte) (*CourseTree, error) {
	var raw rawStructure
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode course structure: %w", err)
	}
	if raw.CourseBlocks == nil || len(raw.CourseBlocks.Blocks) == 0 {
		return nil, ErrNoCourseBlocks
	}

	tree := &CourseTree{
		Name:   raw.Name,
		RootID: raw.CourseBlocks.Root,
		Blocks: make(map[string]Block, len(raw.CourseBlocks.Blocks)),
	}
	for key, rb := range raw.CourseBlocks.Blocks {
		id := rb.ID
		if id == "" {
			id = key
		}
		b := Block{
			ID:          id,
			Kind:        ParseBlockKind(rb.Type),
			RawType:     rb.Type,
			DisplayName: rb.DisplayName,
			Children:    rb.Children,
		}
		if b.Kind == KindVertical {
			b.LMSWebURL = rb.LMSWebURL
		}
		tree.Blocks[key] = b
		if tree.RootID == "" && b.Kind == KindCourse {
			tree.RootID = key
		}
	}
	if _, ok := tree.Blocks[tree.RootID]; !ok {
		return nil, fmt.Errorf("course structure root %q not found among blocks", tree.RootID)
	}
	if tree.Name == "" {
		tree.Name = tree.Blocks[tree.RootID].DisplayName
	}
	return tree, nil
}

// Root returns the course block.
func (t *CourseTree) Root() Block {
	return t.Blocks[t.RootID]
}

// CourseRef is one enrolled course as listed by the LMS.
type CourseRef struct {
	ID   string `json:"course_id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// RenderedPage is a lesson page after client-side content was inlined.
type RenderedPage struct {
	HTML     string
	FinalURL string
}

// AssetLayout says where the assets of one document are written.
type AssetLayout struct {
	DocumentPath string
	CSSDir       string
	JSDir        string
	FontDir      string
	ImageDir     string
	DocumentDir  string
	NotebookDir  string
}

// LayoutFor returns the standard layout: shared css/js/fonts under
// <courseRoot>/_assets, per-lesson media next to the document.
func LayoutFor(courseRoot, documentPath string) AssetLayout {
	shared := filepath.Join(courseRoot, "_assets")
	lessonDir := filepath.Dir(documentPath)
	return AssetLayout{
		DocumentPath: documentPath,
		CSSDir:       filepath.Join(shared, "css"),
		JSDir:        filepath.Join(shared, "js"),
		FontDir:      filepath.Join(shared, "fonts"),
		ImageDir:     filepath.Join(lessonDir, "images"),
		DocumentDir:  filepath.Join(lessonDir, "documents"),
		NotebookDir:  filepath.Join(lessonDir, "notebooks"),
	}
}

// RunResult holds the outcome of one archive run.
type RunResult struct {
	RunID       string
	CourseName  string
	CourseRoot  string
	Pages       int
	Videos      int
	Skipped     int
	Failed      int
	StartedAt   time.Time
	CompletedAt time.Time
}

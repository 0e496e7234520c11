package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"coursearchiver/internal/core/domain"
	"coursearchiver/internal/core/ports"
	"coursearchiver/internal/localize"
	"coursearchiver/internal/metrics"
	"coursearchiver/internal/util"
)

// ErrNoPageURL is recorded for a lesson that has no address to render.
var ErrNoPageURL = errors.New("lesson has no page URL")

// Ledger is the progress record the walk writes through.
type Ledger interface {
	ports.ProgressLedger
	SetRunID(id string)
	ValidateAndCleanup() (int, error)
}

// LedgerOpener opens the ledger of a course stored in dir.
type LedgerOpener func(dir, courseName string) (Ledger, error)

// Options tune one archive run.
type Options struct {
	Force    bool
	NoVideos bool
	UseCache bool
	// XBlockBaseURL, when set, renders lessons from <XBlockBaseURL>/xblock/<id>
	// instead of their lms_web_url.
	XBlockBaseURL string
	IgnoreTitle   func(displayName string) bool
}

// Orchestrator walks a course tree and archives every lesson.
type Orchestrator struct {
	source     ports.CourseSource
	renderer   ports.PageRenderer
	videos     ports.VideoDownloader
	matcher    ports.PlayerMatcher
	localizer  ports.DocumentLocalizer
	storage    ports.Storage
	openLedger LedgerOpener
	opts       Options
	logger     hclog.Logger
	metrics    *metrics.Metrics
}

// NewOrchestrator creates a new Orchestrator. videos may be nil, which
// leaves players on the page untouched.
func NewOrchestrator(
	source ports.CourseSource,
	renderer ports.PageRenderer,
	videos ports.VideoDownloader,
	matcher ports.PlayerMatcher,
	localizer ports.DocumentLocalizer,
	storage ports.Storage,
	openLedger LedgerOpener,
	opts Options,
	logger hclog.Logger,
	m *metrics.Metrics,
) *Orchestrator {
	if opts.IgnoreTitle == nil {
		opts.IgnoreTitle = func(string) bool { return false }
	}
	return &Orchestrator{
		source:     source,
		renderer:   renderer,
		videos:     videos,
		matcher:    matcher,
		localizer:  localizer,
		storage:    storage,
		openLedger: openLedger,
		opts:       opts,
		logger:     logger.Named("walker"),
		metrics:    m,
	}
}

// walk is the state of one Run.
type walk struct {
	*Orchestrator
	logger hclog.Logger
	tree   *domain.CourseTree
	root   string
	ledger Ledger
	result *domain.RunResult
}

// Run archives one course. course.URL is required; ID and Name help find a
// cached structure. The returned result is filled in even when the run was
// cancelled.
func (o *Orchestrator) Run(ctx context.Context, course domain.CourseRef) (*domain.RunResult, error) {
	runID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate run id: %w", err)
	}
	result := &domain.RunResult{RunID: runID.String(), StartedAt: time.Now().UTC()}
	logger := o.logger.With("run", result.RunID)
	logger.Info("starting archive run", "course", course.URL)

	tree, root, err := o.loadTree(ctx, course, logger)
	if err != nil {
		return result, err
	}
	result.CourseName = tree.Name
	result.CourseRoot = root

	if err := o.storage.EnsureDir(ctx, root); err != nil {
		return result, err
	}
	lg, err := o.openLedger(root, tree.Name)
	if err != nil {
		return result, fmt.Errorf("failed to open progress: %w", err)
	}
	lg.SetRunID(result.RunID)
	if dropped, err := lg.ValidateAndCleanup(); err != nil {
		logger.Warn("progress validation not saved", "error", err)
	} else if dropped > 0 {
		logger.Info("stale completions dropped", "count", dropped)
	}

	w := &walk{Orchestrator: o, logger: logger, tree: tree, root: root, ledger: lg, result: result}
	err = w.visit(ctx, tree.RootID, root, nil)
	result.CompletedAt = time.Now().UTC()

	logger.Info("archive run finished",
		"pages", result.Pages, "videos", result.Videos,
		"skipped", result.Skipped, "failed", result.Failed,
		"elapsed", result.CompletedAt.Sub(result.StartedAt).Round(time.Second))
	return result, err
}

// loadTree returns the parsed outline and the course root directory. A
// cached structure is used when allowed and present; a fetched one is
// written through to the cache.
func (o *Orchestrator) loadTree(ctx context.Context, course domain.CourseRef, logger hclog.Logger) (*domain.CourseTree, string, error) {
	if o.opts.UseCache && !o.opts.Force {
		if tree, root, ok := o.cachedTree(course, logger); ok {
			return tree, root, nil
		}
	}

	data, err := o.source.CourseStructure(ctx, course.URL)
	if err != nil {
		return nil, "", fmt.Errorf("failed to get course structure: %w", err)
	}
	tree, err := domain.ParseCourseTree(data)
	if err != nil {
		return nil, "", err
	}
	if course.Name != "" {
		tree.Name = course.Name
	}
	root := o.storage.CourseRoot(tree.Name)
	if err := o.storage.SaveStructure(ctx, root, data); err != nil {
		logger.Warn("course structure not cached", "error", err)
	} else {
		logger.Debug("course structure cached", "dir", root)
	}
	return tree, root, nil
}

func (o *Orchestrator) cachedTree(course domain.CourseRef, logger hclog.Logger) (*domain.CourseTree, string, bool) {
	var (
		root string
		data []byte
		err  error
	)
	switch {
	case course.Name != "":
		root = o.storage.CourseRoot(course.Name)
		data, err = o.storage.LoadStructure(root)
	case course.ID != "":
		key := []byte(strings.TrimPrefix(course.ID, "course-v1:"))
		root, data, err = o.storage.FindStructure(func(b []byte) bool { return bytes.Contains(b, key) })
	default:
		return nil, "", false
	}
	if err != nil {
		logger.Info("no usable cached structure, fetching", "error", err)
		return nil, "", false
	}
	tree, err := domain.ParseCourseTree(data)
	if err != nil {
		logger.Warn("cached structure unreadable, fetching", "dir", root, "error", err)
		return nil, "", false
	}
	if course.Name != "" {
		tree.Name = course.Name
	}
	logger.Info("using cached course structure", "dir", root)
	return tree, root, true
}

// visit processes one node and, for containers, its children. Only
// cancellation stops the walk.
func (w *walk) visit(ctx context.Context, id, dir string, parent *domain.Block) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	block, ok := w.tree.Blocks[id]
	if !ok {
		w.logger.Debug("child block missing from structure", "node", id)
		return nil
	}
	name := block.DisplayName

	if w.ledger.ShouldSkip(id, w.opts.Force) {
		w.logger.Info("already completed", "node", id, "name", name)
		w.result.Skipped++
		w.metrics.Node("cached")
		return nil
	}
	if w.opts.IgnoreTitle(name) {
		w.logger.Info("skipping administrative section", "name", name)
		w.skip(block, "ignored title")
		return nil
	}

	switch {
	case block.Kind.IsContainer():
		sub := dir
		if parent != nil || block.Kind != domain.KindCourse {
			sub = filepath.Join(dir, dirName(name))
		}
		if err := w.storage.EnsureDir(ctx, sub); err != nil {
			w.fail(block, err)
			return nil
		}
		w.logger.Info("entering section", "name", name)
		for _, child := range block.Children {
			if err := w.visit(ctx, child, sub, &block); err != nil {
				return err
			}
		}
	case block.Kind == domain.KindVertical:
		path := filepath.Join(dir, util.PageFileName(name))
		if w.storage.Exists(path) && !w.opts.Force {
			w.logger.Info("lesson file exists", "file", filepath.Base(path))
			w.skip(block, "file already exists")
			return nil
		}
		hasVideo, err := w.archivePage(ctx, block, parent, path)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.fail(block, err)
			return nil
		}
		if err := w.ledger.MarkCompleted(id, name, block.RawType, path, hasVideo); err != nil {
			w.logger.Warn("progress not saved", "node", id, "error", err)
		}
		w.result.Pages++
		w.metrics.Node("completed")
		w.logger.Info("lesson saved", "name", name, "file", path)
	default:
		w.logger.Debug("unsupported block type", "name", name, "type", block.RawType)
		w.skip(block, "unsupported type: "+block.RawType)
	}
	return nil
}

// archivePage renders one lesson, downloads its videos, localizes it and
// writes it to path.
func (w *walk) archivePage(ctx context.Context, block domain.Block, parent *domain.Block, path string) (bool, error) {
	pageURL := block.LMSWebURL
	if w.opts.XBlockBaseURL != "" {
		pageURL = strings.TrimRight(w.opts.XBlockBaseURL, "/") + "/xblock/" + block.ID
	}
	if pageURL == "" {
		return false, ErrNoPageURL
	}
	w.logger.Info("processing lesson", "name", block.DisplayName, "url", pageURL)

	page, err := w.renderer.Render(ctx, pageURL)
	if err != nil {
		return false, fmt.Errorf("render: %w", err)
	}
	doc := page.HTML

	var files map[string]string
	if w.videos != nil && !w.opts.NoVideos {
		files, err = w.fetchVideos(ctx, doc, block.DisplayName, page.FinalURL, filepath.Dir(path))
		if err != nil {
			return false, err
		}
		if len(files) > 0 {
			if doc, err = localize.EmbedVideos(doc, w.matcher, files); err != nil {
				return false, fmt.Errorf("embed videos: %w", err)
			}
		}
	}

	doc, err = w.localizer.Localize(ctx, doc, page.FinalURL, domain.LayoutFor(w.root, path))
	if err != nil {
		return false, err
	}

	if parent != nil {
		if doc, err = localize.RewireNavigation(doc, w.siblings(*parent, block.ID)); err != nil {
			return false, fmt.Errorf("rewire navigation: %w", err)
		}
	}

	if err := w.storage.SaveDocument(ctx, path, []byte(doc)); err != nil {
		return false, err
	}
	return len(files) > 0, nil
}

// fetchVideos downloads every embedded player video of doc into dir and
// returns video id -> file name. Files already on disk are reused. A
// failed video leaves its player in place; only cancellation is returned.
func (w *walk) fetchVideos(ctx context.Context, doc, displayName, referer, dir string) (map[string]string, error) {
	srcs, err := localize.PlayerSources(doc, w.matcher)
	if err != nil {
		return nil, fmt.Errorf("find players: %w", err)
	}
	if len(srcs) == 0 {
		return nil, nil
	}
	w.logger.Info("players found", "count", len(srcs))

	files := make(map[string]string, len(srcs))
	for i, src := range srcs {
		id, _ := w.matcher.VideoID(src)
		name := displayName
		if len(srcs) > 1 {
			name = fmt.Sprintf("%s_video_%d", displayName, i+1)
		}
		file := util.SanitizeFilename(name) + ".mp4"
		if w.storage.Exists(filepath.Join(dir, file)) {
			w.logger.Info("video already downloaded", "file", file)
			files[id] = file
			continue
		}

		out, err := w.videos.Download(ctx, id, name, referer, dir)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			w.logger.Error("video download failed", "video_id", id, "name", name, "error", err)
			continue
		}
		files[id] = filepath.Base(out)
		w.result.Videos++
	}
	return files, nil
}

// siblings places id among the children of parent. Ignored lessons never
// get a page, so they are not link targets.
func (w *walk) siblings(parent domain.Block, id string) localize.Siblings {
	s := localize.Siblings{Index: -1}
	for i, child := range parent.Children {
		b := w.tree.Blocks[child]
		s.Items = append(s.Items, localize.Sibling{
			Name:     b.DisplayName,
			Vertical: b.Kind == domain.KindVertical && !w.opts.IgnoreTitle(b.DisplayName),
		})
		if child == id {
			s.Index = i
		}
	}
	return s
}

func (w *walk) skip(block domain.Block, reason string) {
	if err := w.ledger.MarkSkipped(block.ID, block.DisplayName, block.RawType, reason); err != nil {
		w.logger.Warn("progress not saved", "node", block.ID, "error", err)
	}
	w.result.Skipped++
	w.metrics.Node("skipped")
}

func (w *walk) fail(block domain.Block, cause error) {
	w.logger.Error("lesson failed", "node", block.ID, "name", block.DisplayName, "error", cause)
	if err := w.ledger.MarkFailed(block.ID, block.DisplayName, block.RawType, cause); err != nil {
		w.logger.Warn("progress not saved", "node", block.ID, "error", err)
	}
	w.result.Failed++
	w.metrics.Node("failed")
}

func dirName(displayName string) string {
	if name := util.SanitizeFilename(displayName); name != "" {
		return name
	}
	return "untitled"
}

// Package ledger records per-node outcomes of an archive run in a JSON
// file next to the course, so that an interrupted run can resume.
package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-hclog"

	"coursearchiver/internal/util"
)

// Completion is the record of a node whose output file was written.
type Completion struct {
	DisplayName string    `json:"display_name"`
	Type        string    `json:"type"`
	CompletedAt time.Time `json:"completed_at"`
	FilePath    string    `json:"file_path"`
	FileSizeMB  float64   `json:"file_size_mb"`
	HasVideo    bool      `json:"has_video"`
}

// Failure is the record of a node that could not be processed.
type Failure struct {
	DisplayName string    `json:"display_name"`
	Type        string    `json:"type"`
	FailedAt    time.Time `json:"failed_at"`
	Error       string    `json:"error"`
	Attempts    int       `json:"attempts"`
}

// Skip is the record of a node left out on purpose.
type Skip struct {
	DisplayName string    `json:"display_name"`
	Type        string    `json:"type"`
	SkippedAt   time.Time `json:"skipped_at"`
	Reason      string    `json:"reason"`
}

// Statistics are the aggregate counters kept in the file.
type Statistics struct {
	TotalProcessed   int     `json:"total_processed"`
	TotalSizeMB      float64 `json:"total_size_mb"`
	VideosDownloaded int     `json:"videos_downloaded"`
	HTMLFilesCreated int     `json:"html_files_created"`
}

func (s *Statistics) add(c Completion) {
	s.TotalProcessed++
	s.TotalSizeMB = round2(s.TotalSizeMB + c.FileSizeMB)
	if c.HasVideo {
		s.VideosDownloaded++
	}
	if isHTML(c.FilePath) {
		s.HTMLFilesCreated++
	}
}

func (s *Statistics) remove(c Completion) {
	s.TotalProcessed = max(0, s.TotalProcessed-1)
	s.TotalSizeMB = max(0, round2(s.TotalSizeMB-c.FileSizeMB))
	if c.HasVideo {
		s.VideosDownloaded = max(0, s.VideosDownloaded-1)
	}
	if isHTML(c.FilePath) {
		s.HTMLFilesCreated = max(0, s.HTMLFilesCreated-1)
	}
}

// Summary is Statistics plus the size of each outcome set.
type Summary struct {
	Statistics
	Completed int
	Failed    int
	Skipped   int
}

type document struct {
	CourseName    string                `json:"course_name"`
	CreatedAt     time.Time             `json:"created_at"`
	LastUpdated   time.Time             `json:"last_updated"`
	LastValidated *time.Time            `json:"last_validated,omitempty"`
	RunID         string                `json:"run_id,omitempty"`
	Completed     map[string]Completion `json:"completed"`
	Failed        map[string]Failure    `json:"failed"`
	Skipped       map[string]Skip       `json:"skipped"`
	Statistics    Statistics            `json:"statistics"`
}

// Ledger is the progress file of one course. It is safe for concurrent
// use, although the walker drives it from a single goroutine.
type Ledger struct {
	mu     sync.Mutex
	path   string
	doc    document
	logger hclog.Logger
	now    func() time.Time
}

// FileName is the ledger file name used for a course.
func FileName(courseName string) string {
	name := util.SanitizeFilename(courseName)
	if name == "" {
		name = "course"
	}
	return name + "_progress.json"
}

// Open loads the ledger of courseName from dir, or creates and persists an
// empty one. A file that cannot be parsed is moved aside to <file>.bad and
// replaced.
func Open(dir, courseName string, logger hclog.Logger) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create ledger directory %s: %w", dir, err)
	}
	l := &Ledger{
		path:   filepath.Join(dir, FileName(courseName)),
		logger: logger.Named("ledger"),
		now:    time.Now,
	}

	loaded, err := l.load()
	switch {
	case err == nil:
		l.doc = loaded
		l.logger.Info("progress loaded", "path", l.path, "completed", len(l.doc.Completed), "failed", len(l.doc.Failed))
		return l, nil
	case !errors.Is(err, os.ErrNotExist):
		l.logger.Warn("progress file unreadable, starting over", "path", l.path, "error", err)
		if rerr := os.Rename(l.path, l.path+".bad"); rerr != nil {
			l.logger.Warn("could not move unreadable progress file aside", "error", rerr)
		}
	}

	now := l.now()
	l.doc = document{
		CourseName:  courseName,
		CreatedAt:   now,
		LastUpdated: now,
		Completed:   map[string]Completion{},
		Failed:      map[string]Failure{},
		Skipped:     map[string]Skip{},
	}
	if err := l.persist(); err != nil {
		l.logger.Error("failed to create progress file", "path", l.path, "error", err)
	} else {
		l.logger.Info("progress file created", "path", l.path)
	}
	return l, nil
}

// Load opens an existing progress file for inspection or maintenance. Unlike
// Open it never creates or replaces anything.
func Load(path string, logger hclog.Logger) (*Ledger, error) {
	l := &Ledger{path: path, logger: logger.Named("ledger"), now: time.Now}
	doc, err := l.load()
	if err != nil {
		return nil, fmt.Errorf("open progress %s: %w", path, err)
	}
	l.doc = doc
	return l, nil
}

func (l *Ledger) load() (document, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return document{}, err
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return document{}, fmt.Errorf("parse progress file: %w", err)
	}
	if doc.Completed == nil {
		doc.Completed = map[string]Completion{}
	}
	if doc.Failed == nil {
		doc.Failed = map[string]Failure{}
	}
	if doc.Skipped == nil {
		doc.Skipped = map[string]Skip{}
	}
	return doc, nil
}

// persist writes the whole document. Callers hold l.mu.
func (l *Ledger) persist() error {
	l.doc.LastUpdated = l.now()
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(l.doc); err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	if err := util.WriteFileAtomic(l.path, buf.Bytes()); err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	return nil
}

// Path is the location of the progress file.
func (l *Ledger) Path() string { return l.path }

// SetRunID stamps the document with the current run.
func (l *Ledger) SetRunID(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.doc.RunID = id
}

// IsCompleted reports whether id has a completion record. The file is not
// checked.
func (l *Ledger) IsCompleted(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.doc.Completed[id]
	return ok
}

// ShouldSkip reports whether id can be skipped: it is completed and its
// output still passes ValidFile. A completion whose file is gone or broken
// is demoted and the ledger persisted before returning false.
func (l *Ledger) ShouldSkip(id string, force bool) bool {
	if force {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.doc.Completed[id]
	if !ok {
		return false
	}
	if ValidFile(c.FilePath) {
		return true
	}

	l.logger.Warn("output missing or broken, will process again", "node", id, "name", c.DisplayName, "path", c.FilePath)
	delete(l.doc.Completed, id)
	l.doc.Statistics.remove(c)
	if err := l.persist(); err != nil {
		l.logger.Error("failed to save progress", "error", err)
	}
	return false
}

// MarkCompleted records that id produced filePath. A previous completion of
// the same node is replaced without double counting, and any failure or
// skip record for it is cleared.
func (l *Ledger) MarkCompleted(id, displayName, kind, filePath string, hasVideo bool) error {
	var sizeMB float64
	if st, err := os.Stat(filePath); err == nil {
		sizeMB = round2(float64(st.Size()) / (1024 * 1024))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if prev, ok := l.doc.Completed[id]; ok {
		l.doc.Statistics.remove(prev)
	}
	c := Completion{
		DisplayName: displayName,
		Type:        kind,
		CompletedAt: l.now(),
		FilePath:    filePath,
		FileSizeMB:  sizeMB,
		HasVideo:    hasVideo,
	}
	l.doc.Completed[id] = c
	l.doc.Statistics.add(c)
	delete(l.doc.Failed, id)
	delete(l.doc.Skipped, id)

	l.logger.Debug("node completed", "node", id, "name", displayName)
	return l.persist()
}

// MarkFailed records a failure for id. Attempts counts failures across
// runs; it is informational and never stops a retry.
func (l *Ledger) MarkFailed(id, displayName, kind string, cause error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	l.doc.Failed[id] = Failure{
		DisplayName: displayName,
		Type:        kind,
		FailedAt:    l.now(),
		Error:       msg,
		Attempts:    l.doc.Failed[id].Attempts + 1,
	}
	l.logger.Warn("node failed", "node", id, "name", displayName, "error", msg)
	return l.persist()
}

// MarkSkipped records that id was left out and why.
func (l *Ledger) MarkSkipped(id, displayName, kind, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.doc.Skipped[id] = Skip{
		DisplayName: displayName,
		Type:        kind,
		SkippedAt:   l.now(),
		Reason:      reason,
	}
	l.logger.Debug("node skipped", "node", id, "name", displayName, "reason", reason)
	return l.persist()
}

// ValidateAndCleanup drops completions whose files no longer pass
// ValidFile and recomputes the statistics from the rest. It persists only
// when something changed and returns the number of dropped completions.
func (l *Ledger) ValidateAndCleanup() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var stats Statistics
	removed := 0
	for id, c := range l.doc.Completed {
		if !ValidFile(c.FilePath) {
			l.logger.Warn("dropping completion with missing output", "node", id, "name", c.DisplayName, "path", c.FilePath)
			delete(l.doc.Completed, id)
			removed++
			continue
		}
		stats.add(c)
	}

	if removed == 0 && stats == l.doc.Statistics {
		l.logger.Info("all recorded outputs present")
		return 0, nil
	}
	l.doc.Statistics = stats
	now := l.now()
	l.doc.LastValidated = &now
	l.logger.Info("progress reconciled with disk", "removed", removed)
	return removed, l.persist()
}

// ResetFailed forgets every failure record so the nodes are retried
// without noise from earlier runs.
func (l *Ledger) ResetFailed() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(l.doc.Failed)
	if n == 0 {
		return 0, nil
	}
	l.doc.Failed = map[string]Failure{}
	return n, l.persist()
}

// Statistics returns the counters and the size of each outcome set.
func (l *Ledger) Statistics() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Summary{
		Statistics: l.doc.Statistics,
		Completed:  len(l.doc.Completed),
		Failed:     len(l.doc.Failed),
		Skipped:    len(l.doc.Skipped),
	}
}

// WriteReport prints a human-readable progress table.
func (l *Ledger) WriteReport(w io.Writer) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.doc.Statistics
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Progress: %s\n", l.doc.CourseName)
	fmt.Fprintf(tw, "Completed:\t%d\n", len(l.doc.Completed))
	fmt.Fprintf(tw, "Failed:\t%d\n", len(l.doc.Failed))
	fmt.Fprintf(tw, "Skipped:\t%d\n", len(l.doc.Skipped))
	fmt.Fprintf(tw, "Total size:\t%s\n", humanize.IBytes(uint64(s.TotalSizeMB*1024*1024)))
	fmt.Fprintf(tw, "HTML files:\t%d\n", s.HTMLFilesCreated)
	fmt.Fprintf(tw, "Videos:\t%d\n", s.VideosDownloaded)

	if len(l.doc.Completed) > 0 {
		fmt.Fprintf(tw, "\nCompleted\t\t\n")
		for _, id := range sortedKeys(l.doc.Completed) {
			c := l.doc.Completed[id]
			video := ""
			if c.HasVideo {
				video = "video"
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", clip(c.DisplayName, 60), humanize.IBytes(uint64(c.FileSizeMB*1024*1024)), video)
		}
	}
	if len(l.doc.Failed) > 0 {
		fmt.Fprintf(tw, "\nFailed\t\t\n")
		for _, id := range sortedKeys(l.doc.Failed) {
			f := l.doc.Failed[id]
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", clip(f.DisplayName, 50), clip(f.Error, 60), humanize.Time(f.FailedAt))
		}
	}
	if len(l.doc.Skipped) > 0 {
		fmt.Fprintf(tw, "\nSkipped\t\t\n")
		for _, id := range sortedKeys(l.doc.Skipped) {
			sk := l.doc.Skipped[id]
			fmt.Fprintf(tw, "  %s\t%s\t\n", clip(sk.DisplayName, 50), clip(sk.Reason, 40))
		}
	}
	return tw.Flush()
}

// Find lists the progress files directly inside dir.
func Find(dir string) ([]string, error) {
	return filepath.Glob(filepath.Join(dir, "*_progress.json"))
}

// Remove deletes the progress file. The in-memory state is kept.
func (l *Ledger) Remove() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// ValidFile is the sanity check a completion's output must pass: at least
// 100 bytes, and for .html files a <html or <body tag plus at least 50
// non-blank characters within the first 500 bytes.
func ValidFile(path string) bool {
	if path == "" {
		return false
	}
	st, err := os.Stat(path)
	if err != nil || !st.Mode().IsRegular() || st.Size() < 100 {
		return false
	}
	if !isHTML(path) {
		return true
	}

	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	head := make([]byte, 500)
	n, _ := io.ReadFull(f, head)
	content := strings.ToLower(string(head[:n]))
	if !strings.Contains(content, "<html") && !strings.Contains(content, "<body") {
		return false
	}
	return len(strings.TrimSpace(content)) >= 50
}

func isHTML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".html")
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validPage = "<!DOCTYPE html><html><head><title>Lesson</title></head><body>" +
	"<p>Some lesson content that is long enough to count as a real page.</p></body></html>"

func writePage(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func openLedger(t *testing.T, dir string) *Ledger {
	t.Helper()
	l, err := Open(dir, "Data Science: Basics", hclog.NewNullLogger())
	require.NoError(t, err)
	return l
}

func TestOpenCreatesFile(t *testing.T) {
	dir := t.TempDir()
	l := openLedger(t, dir)

	assert.Equal(t, filepath.Join(dir, "Data Science Basics_progress.json"), l.Path())
	data, err := os.ReadFile(l.Path())
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "Data Science: Basics", doc["course_name"])
	assert.Contains(t, doc, "completed")
	assert.Contains(t, doc, "statistics")
}

func TestMarkCompletedSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	page := writePage(t, dir, "Lesson.html", validPage)

	l := openLedger(t, dir)
	require.NoError(t, l.MarkFailed("block-1", "Lesson", "vertical", errors.New("timeout")))
	require.NoError(t, l.MarkCompleted("block-1", "Lesson", "vertical", page, true))

	reopened := openLedger(t, dir)
	removed, err := reopened.ValidateAndCleanup()
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.True(t, reopened.IsCompleted("block-1"))
	assert.True(t, reopened.ShouldSkip("block-1", false))
	assert.False(t, reopened.ShouldSkip("block-1", true))

	s := reopened.Statistics()
	assert.Equal(t, 1, s.Completed)
	assert.Equal(t, 0, s.Failed, "completion clears the failure")
	assert.Equal(t, 1, s.TotalProcessed)
	assert.Equal(t, 1, s.HTMLFilesCreated)
	assert.Equal(t, 1, s.VideosDownloaded)
}

func TestValidateAndCleanupDropsMissingFiles(t *testing.T) {
	dir := t.TempDir()
	keep := writePage(t, dir, "Keep.html", validPage)
	gone := writePage(t, dir, "Gone.html", validPage)

	l := openLedger(t, dir)
	require.NoError(t, l.MarkCompleted("keep", "Keep", "vertical", keep, false))
	require.NoError(t, l.MarkCompleted("gone", "Gone", "vertical", gone, true))
	require.NoError(t, os.Remove(gone))

	reopened := openLedger(t, dir)
	removed, err := reopened.ValidateAndCleanup()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.True(t, reopened.IsCompleted("keep"))
	assert.False(t, reopened.IsCompleted("gone"))

	s := reopened.Statistics()
	assert.Equal(t, 1, s.TotalProcessed)
	assert.Equal(t, 0, s.VideosDownloaded)

	data, err := os.ReadFile(reopened.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), "last_validated")
}

func TestShouldSkipDemotesBrokenOutput(t *testing.T) {
	dir := t.TempDir()
	page := writePage(t, dir, "Lesson.html", validPage)

	l := openLedger(t, dir)
	require.NoError(t, l.MarkCompleted("b", "Lesson", "vertical", page, false))
	require.NoError(t, os.WriteFile(page, []byte("error"), 0644))

	assert.False(t, l.ShouldSkip("b", false))
	assert.False(t, l.IsCompleted("b"))
	assert.Zero(t, l.Statistics().TotalProcessed)

	// demotion is persisted
	assert.False(t, openLedger(t, dir).IsCompleted("b"))
}

func TestShouldSkipUnknownNode(t *testing.T) {
	l := openLedger(t, t.TempDir())
	assert.False(t, l.ShouldSkip("nope", false))
}

func TestStatisticsNeverNegative(t *testing.T) {
	dir := t.TempDir()
	page := writePage(t, dir, "Lesson.html", validPage)
	l := openLedger(t, dir)
	require.NoError(t, l.MarkCompleted("b", "Lesson", "vertical", page, true))

	l.doc.Statistics = Statistics{}
	require.NoError(t, os.Remove(page))
	assert.False(t, l.ShouldSkip("b", false))

	s := l.Statistics()
	assert.Zero(t, s.TotalProcessed)
	assert.Zero(t, s.VideosDownloaded)
	assert.Zero(t, s.HTMLFilesCreated)
	assert.Zero(t, s.TotalSizeMB)
}

func TestMarkCompletedTwiceCountsOnce(t *testing.T) {
	dir := t.TempDir()
	page := writePage(t, dir, "Lesson.html", validPage)
	l := openLedger(t, dir)

	require.NoError(t, l.MarkCompleted("b", "Lesson", "vertical", page, true))
	require.NoError(t, l.MarkCompleted("b", "Lesson", "vertical", page, true))

	s := l.Statistics()
	assert.Equal(t, 1, s.TotalProcessed)
	assert.Equal(t, 1, s.VideosDownloaded)
}

func TestMarkFailedCountsAttempts(t *testing.T) {
	l := openLedger(t, t.TempDir())
	require.NoError(t, l.MarkFailed("b", "Lesson", "vertical", errors.New("one")))
	require.NoError(t, l.MarkFailed("b", "Lesson", "vertical", errors.New("two")))

	f := l.doc.Failed["b"]
	assert.Equal(t, 2, f.Attempts)
	assert.Equal(t, "two", f.Error)

	n, err := l.ResetFailed()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, l.Statistics().Failed)
}

func TestMarkSkippedAndReport(t *testing.T) {
	dir := t.TempDir()
	page := writePage(t, dir, "Lesson.html", validPage)
	l := openLedger(t, dir)
	require.NoError(t, l.MarkCompleted("a", "Lesson", "vertical", page, true))
	require.NoError(t, l.MarkSkipped("s", "Организационный модуль", "chapter", "ignored title"))
	require.NoError(t, l.MarkFailed("f", "Broken", "vertical", errors.New("render failed")))

	var buf bytes.Buffer
	require.NoError(t, l.WriteReport(&buf))
	out := buf.String()
	for _, want := range []string{"Data Science: Basics", "Lesson", "Организационный модуль", "ignored title", "render failed"} {
		assert.Contains(t, out, want)
	}
}

func TestOpenMovesCorruptFileAside(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName("Data Science: Basics"))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	l := openLedger(t, dir)
	assert.Zero(t, l.Statistics().Completed)
	assert.FileExists(t, path+".bad")

	found, err := Find(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{path}, found)
}

func TestValidFile(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		file    string
		content string
		want    bool
	}{
		{"valid html", "a.html", validPage, true},
		{"too small", "b.html", "<html></html>", false},
		{"html without tags", "c.html", strings.Repeat("x", 200), false},
		{"binary", "d.mp4", strings.Repeat("\x00", 200), true},
		{"tiny binary", "e.mp4", "abc", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidFile(writePage(t, dir, tt.file, tt.content)))
		})
	}
	assert.False(t, ValidFile(filepath.Join(dir, "missing.html")))
	assert.False(t, ValidFile(""))
}

func TestLoadExistingAndRemove(t *testing.T) {
	dir := t.TempDir()
	l := openLedger(t, dir)
	require.NoError(t, l.MarkFailed("v1", "Lesson", "vertical", errors.New("boom")))

	found, err := Find(dir)
	require.NoError(t, err)
	require.Len(t, found, 1)

	loaded, err := Load(found[0], hclog.NewNullLogger())
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Statistics().Failed)

	n, err := loaded.ResetFailed()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, loaded.Remove())
	_, err = Load(found[0], hclog.NewNullLogger())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitRejectsEmptyBatch(t *testing.T) {
	mgr := NewManager(newTestPipeline(newFakeDB(), &fakeExtractor{}, &fakeRefiner{}))
	_, err := mgr.Submit(defaultParams(), nil)
	assert.ErrorIs(t, err, ErrNoFiles)
}

func TestStreamUnknownJob(t *testing.T) {
	mgr := NewManager(newTestPipeline(newFakeDB(), &fakeExtractor{}, &fakeRefiner{}))
	_, err := mgr.Stream(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestStreamSingleConsumerSingleFlight(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "one.txt", "one")

	db := newFakeDB()
	ex := &fakeExtractor{blocks: map[string][]string{"one.txt": {"本文です。"}}}
	mgr := NewManager(newTestPipeline(db, ex, &fakeRefiner{}))

	job1, err := mgr.Submit(defaultParams(), []string{path})
	require.NoError(t, err)
	job2, err := mgr.Submit(defaultParams(), []string{path})
	require.NoError(t, err)

	stream, err := mgr.Stream(context.Background(), job1.ID)
	require.NoError(t, err)

	// While job1 is in flight its handle is consumed and nothing else runs.
	_, err = mgr.Stream(context.Background(), job1.ID)
	assert.ErrorIs(t, err, ErrJobConsumed)
	_, err = mgr.Stream(context.Background(), job2.ID)
	assert.ErrorIs(t, err, ErrJobInFlight)

	collect(stream)

	// Draining the stream releases the slot; the finished job is discarded.
	_, err = mgr.Stream(context.Background(), job1.ID)
	assert.ErrorIs(t, err, ErrUnknownJob)

	stream2, err := mgr.Stream(context.Background(), job2.ID)
	require.NoError(t, err)
	collect(stream2)
}

func TestCancelOnlyMatchesRunningJob(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "one.txt", "one")

	db := newFakeDB()
	ex := &fakeExtractor{blocks: map[string][]string{"one.txt": {"本文です。"}}}
	mgr := NewManager(newTestPipeline(db, ex, &fakeRefiner{}))

	job, err := mgr.Submit(defaultParams(), []string{path})
	require.NoError(t, err)

	assert.False(t, mgr.Cancel(job.ID), "submitted but not streaming")
	assert.False(t, mgr.Cancel("nope"))

	stream, err := mgr.Stream(context.Background(), job.ID)
	require.NoError(t, err)
	assert.True(t, mgr.Cancel(job.ID))
	assert.True(t, job.Aborted())
	collect(stream)
}

func TestSubmitEvictsExpiredUnstreamedJobs(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "one.txt", "one")

	db := newFakeDB()
	ex := &fakeExtractor{blocks: map[string][]string{"one.txt": {"本文です。"}}}
	mgr := NewManager(newTestPipeline(db, ex, &fakeRefiner{}))

	stale, err := mgr.Submit(defaultParams(), []string{path})
	require.NoError(t, err)
	stale.created = time.Now().Add(-jobTTL - time.Minute)

	fresh, err := mgr.Submit(defaultParams(), []string{path})
	require.NoError(t, err)

	_, err = mgr.Stream(context.Background(), stale.ID)
	assert.ErrorIs(t, err, ErrUnknownJob)

	stream, err := mgr.Stream(context.Background(), fresh.ID)
	require.NoError(t, err)
	collect(stream)
}

func TestSubmitKeepsUnexpiredJobs(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "one.txt", "one")

	db := newFakeDB()
	ex := &fakeExtractor{blocks: map[string][]string{"one.txt": {"本文です。"}}}
	mgr := NewManager(newTestPipeline(db, ex, &fakeRefiner{}))

	first, err := mgr.Submit(defaultParams(), []string{path})
	require.NoError(t, err)

	_, err = mgr.Submit(defaultParams(), []string{path})
	require.NoError(t, err)

	stream, err := mgr.Stream(context.Background(), first.ID)
	require.NoError(t, err)
	collect(stream)
}

func TestCollectFiles(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.Mkdir(sub, 0o755))

	writeTestFile(t, dir, "b.txt", "b")
	writeTestFile(t, dir, "a.txt", "a")
	writeTestFile(t, dir, "skip.bin", "x")
	writeTestFile(t, sub, "c.txt", "c")

	t.Run("flat", func(t *testing.T) {
		files, err := CollectFiles(dir, false, []string{".txt"})
		require.NoError(t, err)
		assert.Equal(t, []string{
			filepath.Join(dir, "a.txt"),
			filepath.Join(dir, "b.txt"),
		}, files)
	})

	t.Run("recursive", func(t *testing.T) {
		files, err := CollectFiles(dir, true, []string{".txt"})
		require.NoError(t, err)
		assert.Equal(t, []string{
			filepath.Join(dir, "a.txt"),
			filepath.Join(dir, "b.txt"),
			filepath.Join(sub, "c.txt"),
		}, files)
	})

	t.Run("missing root", func(t *testing.T) {
		_, err := CollectFiles(filepath.Join(dir, "absent"), true, []string{".txt"})
		assert.Error(t, err)
	})
}

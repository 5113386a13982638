package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vikigenius/bugscraper/internal/config"
	"github.com/vikigenius/bugscraper/internal/partition"
	"github.com/vikigenius/bugscraper/internal/pipeline"
	memorypublisher "github.com/vikigenius/bugscraper/internal/publisher/memory"
	"github.com/vikigenius/bugscraper/internal/store"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Scrape.SaveDir = t.TempDir()
	return cfg
}

func build(t *testing.T, cfg config.Config) *App {
	t.Helper()
	app, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })
	return app
}

type fakeRuns struct {
	runs   []store.SweepRun
	err    error
	closed bool
}

func (f *fakeRuns) RecordRun(_ context.Context, run store.SweepRun) error {
	if f.err != nil {
		return f.err
	}
	f.runs = append(f.runs, run)
	return nil
}

func (f *fakeRuns) Close() { f.closed = true }

func TestReportPublishesAndRecords(t *testing.T) {
	app := build(t, testConfig(t))
	runs := &fakeRuns{}
	app.runs = runs

	started := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	stats := pipeline.Stats{
		RunID:     "run-1",
		Subdomain: "kernel",
		Kind:      "bug",
		Units:     4,
		Fetched:   3,
		Saved:     7,
		Status:    pipeline.StatusSuccess,
		Started:   started,
		Finished:  started.Add(time.Minute),
	}
	app.Report(context.Background(), stats)

	pub, ok := app.publisher.(*memorypublisher.Publisher)
	require.True(t, ok)
	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "sweep.success", msgs[0].Event)
	var decoded pipeline.Stats
	require.NoError(t, json.Unmarshal(msgs[0].Data, &decoded))
	assert.Equal(t, "run-1", decoded.RunID)
	assert.Equal(t, 7, decoded.Saved)

	require.Len(t, runs.runs, 1)
	assert.Equal(t, "kernel", runs.runs[0].Subdomain)
	assert.Equal(t, 4, runs.runs[0].Units)
	assert.True(t, started.Add(time.Minute).Equal(runs.runs[0].FinishedAt))

	require.NoError(t, app.Close(context.Background()))
	assert.True(t, runs.closed)
}

func TestReportSwallowsRecordErrors(t *testing.T) {
	app := build(t, testConfig(t))
	app.runs = &fakeRuns{err: errors.New("db down")}

	assert.NotPanics(t, func() {
		app.Report(context.Background(), pipeline.Stats{RunID: "r", Status: pipeline.StatusFailure})
	})
}

func TestServeStatusServer(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Addr = "127.0.0.1:0"
	app := build(t, cfg)

	require.NoError(t, app.Serve(context.Background()))
	require.NotEmpty(t, app.Addr())

	resp, err := http.Get(fmt.Sprintf("http://%s/v1/progress", app.Addr()))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, app.Close(context.Background()))
	require.NoError(t, app.Close(context.Background()))
}

func TestServeDisabled(t *testing.T) {
	app := build(t, testConfig(t))
	require.NoError(t, app.Serve(context.Background()))
	assert.Empty(t, app.Addr())
}

func TestUploaderRequiresArchive(t *testing.T) {
	app := build(t, testConfig(t))
	_, err := app.Uploader("bugs")
	require.Error(t, err)
}

func TestLocalArchive(t *testing.T) {
	cfg := testConfig(t)
	cfg.Archive.Provider = "local"
	cfg.Archive.Dir = filepath.Join(t.TempDir(), "archive")
	app := build(t, cfg)

	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "2002.jsonl"), []byte("{}\n"), 0o600))

	up, err := app.Uploader("kernel")
	require.NoError(t, err)
	uris, err := up.UploadDir(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, uris, 1)

	data, err := os.ReadFile(filepath.Join(cfg.Archive.Dir, "kernel", "2002.jsonl")) // #nosec G304
	require.NoError(t, err)
	assert.Equal(t, "{}\n", string(data))
}

func TestBuildFailsOnBadArchiveDir(t *testing.T) {
	cfg := testConfig(t)
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))
	cfg.Archive.Provider = "local"
	cfg.Archive.Dir = blocker

	_, err := Build(context.Background(), cfg, nil)
	require.Error(t, err)
}

func TestNewDriverSweepsAgainstTracker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("id") == "1" {
			_, _ = w.Write([]byte(`{"bugs":[{"id":1,"creation_time":"2003-04-05T00:00:00Z"},{"id":2,"creation_time":"2004-01-01T00:00:00Z"}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"bugs":[]}`))
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.Trackers = map[string]config.TrackerConfig{"local": {BaseURL: srv.URL + "/rest/bug"}}
	app := build(t, cfg)

	driver, err := app.NewDriver("local")
	require.NoError(t, err)

	dir := cfg.Scrape.BugsDir()
	w, err := partition.OpenForBugs(dir, []int{2003, 2004}, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	ranges, err := pipeline.Chunks(1, 5, 2)
	require.NoError(t, err)
	stats, err := driver.RunBugPass(context.Background(), w, ranges)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Units)
	assert.Equal(t, 1, stats.Fetched)
	assert.Equal(t, 1, stats.Empty)
	assert.Equal(t, 2, stats.Saved)
	assert.Len(t, stats.RunID, 36)

	snap := app.Progress().Snapshot()
	assert.Equal(t, stats.RunID, snap.RunID)
	assert.Equal(t, 2, snap.DoneUnits)

	assert.FileExists(t, filepath.Join(dir, "2003.jsonl"))
	assert.FileExists(t, filepath.Join(dir, "2004.jsonl"))
}

package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/3leaps/demuxmgr/internal/config"
	"github.com/3leaps/demuxmgr/pkg/lock"
	"github.com/3leaps/demuxmgr/pkg/registry"
	"github.com/3leaps/demuxmgr/pkg/run"
	"github.com/3leaps/demuxmgr/pkg/state"
)

const (
	runA = "150101_D00550_0001_AH2K3JADXX"
	runB = "150102_D00550_0002_BH2K3JADXX"
)

type cmdEnv struct {
	dir      string
	registry string
	lockPath string
	roots    string
}

// newCmdEnv points every configuration path into a temp dir through the
// environment, the way an operator would.
func newCmdEnv(t *testing.T) cmdEnv {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	config.SetConfigFile("")
	env := cmdEnv{
		dir:      dir,
		registry: filepath.Join(dir, "state", "runs.db"),
		lockPath: filepath.Join(dir, "demuxmgr.lock"),
		roots:    filepath.Join(dir, "runs"),
	}
	require.NoError(t, os.MkdirAll(env.roots, 0o755))
	t.Setenv("DEMUXMGR_REGISTRY_PATH", env.registry)
	t.Setenv("DEMUXMGR_LOCK_PATH", env.lockPath)
	t.Setenv("DEMUXMGR_ROOTS", env.roots)
	t.Setenv("DEMUXMGR_LABDB_DRIVER", "sqlite")
	t.Setenv("DEMUXMGR_LABDB_DSN", filepath.Join(dir, "lab.db"))
	return env
}

func (e cmdEnv) seed(t *testing.T, runs map[string]state.State) {
	t.Helper()
	ctx := context.Background()
	store, err := registry.Open(ctx, registry.Config{Path: e.registry}, nil)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	for id, st := range runs {
		r := run.New(id, filepath.Join(e.roots, id))
		require.NoError(t, store.Add(ctx, r))
		require.NoError(t, store.SetState(ctx, id, st))
	}
}

func (e cmdEnv) stateOf(t *testing.T, id string) state.State {
	t.Helper()
	ctx := context.Background()
	store, err := registry.Open(ctx, registry.Config{Path: e.registry}, nil)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	rec, err := store.Get(ctx, id)
	require.NoError(t, err)
	return rec.State
}

func testCommand() (*cobra.Command, *bytes.Buffer) {
	var out bytes.Buffer
	c := &cobra.Command{}
	c.SetContext(context.Background())
	c.SetOut(&out)
	return c, &out
}

func withRunsFlags(t *testing.T, output string, active bool) {
	t.Helper()
	origOut, origActive := runsOutput, runsActive
	runsOutput, runsActive = output, active
	t.Cleanup(func() { runsOutput, runsActive = origOut, origActive })
}

func TestRunsList(t *testing.T) {
	env := newCmdEnv(t)
	env.seed(t, map[string]state.State{runA: state.Complete, runB: state.ConvertingSimple})

	t.Run("table", func(t *testing.T) {
		withRunsFlags(t, "table", false)
		c, out := testCommand()
		require.NoError(t, runRunsList(c, nil))

		text := out.String()
		assert.Contains(t, text, "RUN")
		assert.Contains(t, text, runA)
		assert.Contains(t, text, "converting_simple")
	})

	t.Run("json active", func(t *testing.T) {
		withRunsFlags(t, "json", true)
		c, out := testCommand()
		require.NoError(t, runRunsList(c, nil))

		var recs []registry.Record
		require.NoError(t, json.Unmarshal(out.Bytes(), &recs))
		require.Len(t, recs, 1)
		assert.Equal(t, runB, recs[0].ID)
	})

	t.Run("yaml", func(t *testing.T) {
		withRunsFlags(t, "yaml", false)
		c, out := testCommand()
		require.NoError(t, runRunsList(c, nil))

		var recs []map[string]string
		require.NoError(t, yaml.Unmarshal(out.Bytes(), &recs))
		require.Len(t, recs, 2)
		assert.Equal(t, "complete", recs[0]["state"])
	})

	t.Run("bad format", func(t *testing.T) {
		withRunsFlags(t, "xml", false)
		c, _ := testCommand()
		err := runRunsList(c, nil)
		assert.Equal(t, foundry.ExitInvalidArgument, exitCode(err))
	})
}

func TestRunsShow(t *testing.T) {
	env := newCmdEnv(t)
	env.seed(t, map[string]state.State{runA: state.RunningQC})
	withRunsFlags(t, "json", false)

	c, out := testCommand()
	require.NoError(t, runRunsShow(c, []string{runA}))
	assert.Contains(t, out.String(), `"state": "running_qc"`)

	c, _ = testCommand()
	err := runRunsShow(c, []string{"nope"})
	assert.Equal(t, foundry.ExitInvalidArgument, exitCode(err))
}

func TestReprocess(t *testing.T) {
	env := newCmdEnv(t)
	env.seed(t, map[string]state.State{runA: state.Complete})

	c, _ := testCommand()
	require.NoError(t, runReprocess(c, []string{runA}))
	assert.Equal(t, state.Reprocess, env.stateOf(t, runA))

	c, _ = testCommand()
	assert.Equal(t, foundry.ExitInvalidArgument, exitCode(runReprocess(c, []string{"nope"})))
}

func TestReprocessRefusesWhileLocked(t *testing.T) {
	env := newCmdEnv(t)
	env.seed(t, map[string]state.State{runA: state.Complete})

	guard, err := lock.Acquire(env.lockPath)
	require.NoError(t, err)
	defer func() { _ = guard.Release() }()

	c, _ := testCommand()
	err = runReprocess(c, []string{runA})
	require.Error(t, err)
	assert.ErrorIs(t, err, lock.ErrLocked)
	assert.Equal(t, state.Complete, env.stateOf(t, runA))
}

func TestProcessExitsQuietlyWhenLocked(t *testing.T) {
	env := newCmdEnv(t)

	guard, err := lock.Acquire(env.lockPath)
	require.NoError(t, err)
	defer func() { _ = guard.Release() }()

	c, _ := testCommand()
	assert.NoError(t, runProcess(c, nil))
	_, statErr := os.Stat(env.registry)
	assert.True(t, os.IsNotExist(statErr), "a locked-out pass must not touch the registry")
}

func TestProcessRejectsInvalidConfig(t *testing.T) {
	newCmdEnv(t)
	t.Setenv("DEMUXMGR_JOBS_COPY", "0")

	c, _ := testCommand()
	assert.Equal(t, foundry.ExitConfigInvalid, exitCode(runProcess(c, nil)))
}

func TestProcessEmptyPassWritesMetrics(t *testing.T) {
	env := newCmdEnv(t)
	textfile := filepath.Join(env.dir, "metrics", "demuxmgr.prom")
	require.NoError(t, os.MkdirAll(filepath.Dir(textfile), 0o755))
	t.Setenv("DEMUXMGR_METRICS_TEXTFILE", textfile)

	c, _ := testCommand()
	require.NoError(t, runProcess(c, nil))

	_, err := os.Stat(env.registry)
	assert.NoError(t, err, "registry created")
	_, err = os.Stat(textfile)
	assert.NoError(t, err, "metrics textfile written")

	guard, err := lock.Acquire(env.lockPath)
	require.NoError(t, err, "lock released after the pass")
	_ = guard.Release()
}

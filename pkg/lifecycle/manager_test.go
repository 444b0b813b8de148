// pkg/lifecycle/manager_test.go
// TEST TYPE: Integration Test
// DEPENDENCIES: real resolver, orchestrator, installer and state store on
// afero MemMapFs, FakeTransport
// PURPOSE: Test the install/modify/repair/update/uninstall pipeline and its
// all-or-nothing commit

package lifecycle_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arthur-debert/modkit/pkg/cache"
	"github.com/arthur-debert/modkit/pkg/errors"
	"github.com/arthur-debert/modkit/pkg/fetch"
	"github.com/arthur-debert/modkit/pkg/filesystem"
	"github.com/arthur-debert/modkit/pkg/installer"
	"github.com/arthur-debert/modkit/pkg/lifecycle"
	"github.com/arthur-debert/modkit/pkg/manifest"
	"github.com/arthur-debert/modkit/pkg/progress"
	"github.com/arthur-debert/modkit/pkg/state"
	"github.com/arthur-debert/modkit/pkg/testutil"
)

var clock = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
	t         *testing.T
	stateFS   *testutil.FaultFS
	installFS *testutil.FaultFS
	cacheFS   afero.Fs
	cache     *cache.Cache
	transport *testutil.FakeTransport
	store     *state.Store
	mgr       *lifecycle.Manager
	recorder  *progress.Recorder
}

func newHarness(t *testing.T, opts ...lifecycle.Option) *harness {
	h := &harness{
		t:         t,
		stateFS:   testutil.NewFaultFS(filesystem.NewMemory()),
		installFS: testutil.NewFaultFS(filesystem.NewMemory()),
		cacheFS:   filesystem.NewMemory(),
		transport: testutil.NewFakeTransport(),
		recorder:  &progress.Recorder{},
	}
	h.cache = cache.New(h.cacheFS, "/cache/"+t.Name())
	h.store = state.New(h.stateFS, "/state/installations")
	orch := fetch.New(h.cache, h.transport,
		fetch.WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }))

	base := []lifecycle.Option{
		lifecycle.WithInstallRoot("/games"),
		lifecycle.WithClock(func() time.Time { return clock }),
		lifecycle.WithReporter(h.recorder),
	}
	h.mgr = lifecycle.New(h.store, h.cache, orch, installer.New(h.installFS), append(base, opts...)...)
	return h
}

func (h *harness) install(name string, m *manifest.Manifest, ids ...string) *lifecycle.Result {
	h.t.Helper()
	res, err := h.mgr.Install(context.Background(), lifecycle.InstallRequest{
		Name:      name,
		Manifest:  m,
		Selection: lifecycle.Selection{Toggles: ids},
	})
	require.NoError(h.t, err)
	return res
}

func (h *harness) record(name string) *state.Installation {
	h.t.Helper()
	inst, err := h.store.Read(name)
	require.NoError(h.t, err)
	return inst
}

func (h *harness) exists(path string) bool {
	ok, _ := afero.Exists(h.installFS, path)
	return ok
}

func (h *harness) files(dir string) []string {
	h.t.Helper()
	files, err := filesystem.ListFiles(h.installFS, dir)
	require.NoError(h.t, err)
	return files
}

func TestInstall_DependencyClosure(t *testing.T) {
	h := newHarness(t)
	m := testutil.NewManifest("1.0.0").
		Mod("sodium").
		Mod("iris", testutil.DependsOn("sodium")).
		Mod("lithium").
		Load(t)

	res := h.install("main", m, "iris")

	assert.Equal(t, []string{"sodium", "iris"}, res.Plan.IDs())
	inst := h.record("main")
	require.NotNil(t, inst)
	assert.Equal(t, []string{"iris"}, inst.Toggles)
	assert.Equal(t, []string{"iris", "sodium"}, inst.ComponentIDs())
	assert.Equal(t, "/games/main", inst.Dir)
	assert.Equal(t, "1.0.0", inst.ManifestVersion)
	assert.Equal(t, "test-pack", inst.ModpackID)
	assert.Equal(t, clock, inst.CreatedAt)
	assert.Equal(t, []string{"mods/iris-1.0.jar", "mods/sodium-1.0.jar"}, h.files("/games/main"))
	assert.Equal(t, lifecycle.Stable, h.mgr.Phase("main"))
	assert.Equal(t, []progress.Step{progress.StepResolving, progress.StepFetching, progress.StepApplying, progress.StepCommitting},
		h.recorder.Steps())
}

func TestInstall_ConflictFailsBeforeNetwork(t *testing.T) {
	h := newHarness(t)
	m := testutil.NewManifest("1.0.0").
		Mod("sodium", testutil.ConflictsWith("optifine")).
		Mod("optifine").
		Load(t)

	_, err := h.mgr.Install(context.Background(), lifecycle.InstallRequest{
		Name:      "main",
		Manifest:  m,
		Selection: lifecycle.Selection{Toggles: []string{"sodium", "optifine"}},
	})

	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrConflict))
	assert.ElementsMatch(t, []string{"sodium", "optifine"},
		[]string{errors.GetDetail(err, "a").(string), errors.GetDetail(err, "b").(string)})
	assert.Equal(t, "resolving", errors.GetDetail(err, "phase"))
	assert.Equal(t, 0, h.transport.TotalCalls())
	assert.Nil(t, h.record("main"))
	assert.False(t, h.exists("/games/main"))
}

func TestInstall_DefaultsPresetAndOverrides(t *testing.T) {
	m := testutil.NewManifest("1.0.0").
		Mod("fabric-api", testutil.Required()).
		Mod("sodium", testutil.DefaultOn()).
		Mod("iris").
		Mod("lithium").
		Load(t)

	t.Run("manifest defaults", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.mgr.Install(context.Background(), lifecycle.InstallRequest{Name: "main", Manifest: m})
		require.NoError(t, err)
		assert.Equal(t, []string{"fabric-api", "sodium"}, h.record("main").Toggles)
	})

	t.Run("preset recommendations", func(t *testing.T) {
		h := newHarness(t)
		mem, args := 8192, "-XX:+UseZGC"
		p := &manifest.Preset{ID: "shaders", EnabledFeatures: []string{"iris"}, RecommendedMemory: &mem, RecommendedJavaArgs: &args}

		_, err := h.mgr.Install(context.Background(), lifecycle.InstallRequest{
			Name:      "main",
			Dir:       "/custom/dir",
			Manifest:  m,
			Selection: lifecycle.Selection{Preset: p, Toggles: []string{"lithium"}},
		})
		require.NoError(t, err)

		inst := h.record("main")
		assert.Equal(t, []string{"fabric-api", "iris", "lithium"}, inst.Toggles)
		assert.Equal(t, "shaders", inst.PresetID)
		assert.Equal(t, 8192, inst.EffectiveMemory(m))
		assert.Equal(t, "-XX:+UseZGC", inst.EffectiveJavaArgs(m))
		assert.Equal(t, "/custom/dir", inst.Dir)
	})

	t.Run("explicit memory wins", func(t *testing.T) {
		h := newHarness(t)
		mem := 8192
		p := &manifest.Preset{ID: "shaders", EnabledFeatures: []string{"iris"}, RecommendedMemory: &mem}

		_, err := h.mgr.Install(context.Background(), lifecycle.InstallRequest{
			Name:      "main",
			Manifest:  m,
			Selection: lifecycle.Selection{Preset: p},
			MemoryMB:  3072,
		})
		require.NoError(t, err)
		inst := h.record("main")
		assert.Equal(t, 3072, inst.EffectiveMemory(m))
		assert.Equal(t, "-XX:+UseG1GC", inst.EffectiveJavaArgs(m))
	})
}

func TestInstall_AlreadyExists(t *testing.T) {
	h := newHarness(t)
	m := testutil.NewManifest("1.0.0").Mod("sodium").Load(t)
	h.install("main", m, "sodium")

	_, err := h.mgr.Install(context.Background(), lifecycle.InstallRequest{Name: "main", Manifest: m})
	assert.True(t, errors.IsErrorCode(err, errors.ErrAlreadyExists))
}

func TestUpdate_CarriesTogglesForward(t *testing.T) {
	h := newHarness(t)
	v1 := testutil.NewManifest("1.0.0").Mod("A").Mod("B").Load(t)
	v2 := testutil.NewManifest("2.0.0").Mod("A").Mod("C", testutil.Required()).Load(t)

	h.install("main", v1, "A", "B")
	require.True(t, h.exists("/games/main/mods/B-1.0.jar"))

	res, err := h.mgr.Update(context.Background(), "main", v2, lifecycle.UpdateOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"B"}, res.Plan.ToRemove)
	assert.Equal(t, []string{"B"}, res.InstallReport.Removed)

	inst := h.record("main")
	assert.Equal(t, "2.0.0", inst.ManifestVersion)
	assert.Equal(t, []string{"A", "C"}, inst.Toggles)
	assert.Equal(t, []string{"A", "C"}, inst.ComponentIDs())
	assert.Equal(t, []string{"mods/A-1.0.jar", "mods/C-1.0.jar"}, h.files("/games/main"))
	assert.Equal(t, clock, inst.CreatedAt)
}

func TestUpdate_NewOptionalComponents(t *testing.T) {
	v1 := testutil.NewManifest("1.0.0").Mod("A").Mod("old-off").Load(t)
	v2 := testutil.NewManifest("1.1.0").
		Mod("A").
		Mod("old-off", testutil.DefaultOn()).
		Mod("new-on", testutil.DefaultOn()).
		Mod("new-off").
		Load(t)

	t.Run("not enabled by default", func(t *testing.T) {
		h := newHarness(t)
		h.install("main", v1, "A")
		_, err := h.mgr.Update(context.Background(), "main", v2, lifecycle.UpdateOptions{})
		require.NoError(t, err)
		assert.Equal(t, []string{"A"}, h.record("main").Toggles)
	})

	t.Run("enabled by policy", func(t *testing.T) {
		h := newHarness(t, lifecycle.WithEnableNewOptional(true))
		h.install("main", v1, "A")
		_, err := h.mgr.Update(context.Background(), "main", v2, lifecycle.UpdateOptions{})
		require.NoError(t, err)
		assert.Equal(t, []string{"A", "new-on"}, h.record("main").Toggles,
			"components the user saw before and left off stay off")
	})
}

func TestUpdate_Downgrade(t *testing.T) {
	h := newHarness(t)
	v2 := testutil.NewManifest("2.0.0").Mod("A", testutil.Version("2")).Load(t)
	v1 := testutil.NewManifest("1.9.0").Mod("A", testutil.Version("1")).Load(t)
	h.install("main", v2, "A")

	_, err := h.mgr.Update(context.Background(), "main", v1, lifecycle.UpdateOptions{})
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrDowngrade))
	assert.Equal(t, "2.0.0", h.record("main").ManifestVersion)

	_, err = h.mgr.Update(context.Background(), "main", v1, lifecycle.UpdateOptions{AllowDowngrade: true})
	require.NoError(t, err)
	assert.Equal(t, "1.9.0", h.record("main").ManifestVersion)
	assert.True(t, h.exists("/games/main/mods/A-1.jar"))
	assert.False(t, h.exists("/games/main/mods/A-2.jar"))
}

func TestUpdate_DifferentModpack(t *testing.T) {
	h := newHarness(t)
	h.install("main", testutil.NewManifest("1.0.0").Mod("A").Load(t), "A")

	other := testutil.NewManifest("2.0.0").Set("uuid", "another-pack").Mod("A").Load(t)
	_, err := h.mgr.Update(context.Background(), "main", other, lifecycle.UpdateOptions{})
	assert.True(t, errors.IsErrorCode(err, errors.ErrVersionMismatch))
}

func TestUpdate_PreservesIgnoreUpdateComponents(t *testing.T) {
	h := newHarness(t)
	v1 := testutil.NewManifest("1.0.0").
		Mod("A").
		Include("options", "config", testutil.IgnoreUpdate()).
		Load(t)
	v2 := testutil.NewManifest("2.0.0").
		Mod("A", testutil.Version("2.0")).
		Include("options", "config", testutil.IgnoreUpdate(), testutil.Version("2.0")).
		Load(t)

	h.transport.Serve(v1.Component("options").Key(), testutil.ZipArchive(t, map[string]string{"options.txt": "fov=70"}))
	h.install("main", v1, "A", "options")
	require.NoError(t, afero.WriteFile(h.installFS, "/games/main/config/options.txt", []byte("fov=100"), 0644))

	res, err := h.mgr.Update(context.Background(), "main", v2, lifecycle.UpdateOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"options"}, res.Plan.Keep)
	assert.Equal(t, 0, h.transport.Calls(v2.Component("options").Key()), "kept components are not fetched")
	got, err := afero.ReadFile(h.installFS, "/games/main/config/options.txt")
	require.NoError(t, err)
	assert.Equal(t, "fov=100", string(got))
	assert.Equal(t, "1.0", h.record("main").Components["options"].Version)
	assert.Equal(t, "2.0", h.record("main").Components["A"].Version)
}

func TestFailures_LeavePreviousRecord(t *testing.T) {
	v1 := testutil.NewManifest("1.0.0").Mod("A").Mod("B").Load(t)
	v2 := testutil.NewManifest("2.0.0").Mod("A", testutil.Version("2.0")).Mod("B", testutil.Version("2.0")).Load(t)

	tests := []struct {
		name   string
		inject func(h *harness)
		code   errors.ErrorCode
		phase  string
	}{
		{
			name:   "fetch",
			inject: func(h *harness) { h.transport.FailWith(v2.Component("B").Key(), testutil.ErrInjected) },
			code:   errors.ErrFetch,
			phase:  "fetching",
		},
		{
			name:   "apply",
			inject: func(h *harness) { h.installFS.FailCreate("B-2.0") },
			code:   errors.ErrFilesystem,
			phase:  "applying",
		},
		{
			name:   "commit",
			inject: func(h *harness) { h.stateFS.FailRename("main.toml") },
			code:   errors.ErrStateStore,
			phase:  "committing",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.install("main", v1, "A", "B")
			before := h.record("main")

			tt.inject(h)
			_, err := h.mgr.Update(context.Background(), "main", v2, lifecycle.UpdateOptions{})

			require.Error(t, err)
			assert.True(t, errors.IsErrorCode(err, tt.code), err.Error())
			assert.Equal(t, tt.phase, errors.GetDetail(err, "phase"))
			assert.Equal(t, "main", errors.GetDetail(err, "installation"))
			assert.Equal(t, lifecycle.Stable, h.mgr.Phase("main"))

			h.stateFS.Reset()
			h.installFS.Reset()
			assert.Equal(t, before, h.record("main"))

			// the failed operation is retried cleanly
			_, err = h.mgr.Update(context.Background(), "main", v2, lifecycle.UpdateOptions{})
			require.NoError(t, err)
			assert.Equal(t, "2.0.0", h.record("main").ManifestVersion)
			assert.Equal(t, []string{"mods/A-2.0.jar", "mods/B-2.0.jar"}, h.files("/games/main"))
		})
	}
}

func TestInstall_FailedFreshInstallCleansDirectory(t *testing.T) {
	h := newHarness(t)
	m := testutil.NewManifest("1.0.0").Mod("A").Mod("B").Load(t)
	h.installFS.FailCreate("B-1.0")

	_, err := h.mgr.Install(context.Background(), lifecycle.InstallRequest{
		Name:      "main",
		Manifest:  m,
		Selection: lifecycle.Selection{Toggles: []string{"A", "B"}},
	})
	require.Error(t, err)
	assert.False(t, h.exists("/games/main"))
	assert.Nil(t, h.record("main"))
}

func TestRepair_RestoresDrift(t *testing.T) {
	h := newHarness(t)
	m := testutil.NewManifest("1.0.0").Mod("A").Mod("B").Load(t)
	h.install("main", m, "A", "B")
	before := h.record("main")

	require.NoError(t, h.installFS.Remove("/games/main/mods/A-1.0.jar"))
	require.NoError(t, afero.WriteFile(h.installFS, "/games/main/mods/B-1.0.jar", []byte("edited"), 0644))

	status, err := h.mgr.Status("main")
	require.NoError(t, err)
	assert.Len(t, status.Drift, 2)

	res, err := h.mgr.Repair(context.Background(), "main", m)
	require.NoError(t, err)
	assert.Empty(t, res.FetchReport.Fetched, "intact cache blobs are reused")

	status, err = h.mgr.Status("main")
	require.NoError(t, err)
	assert.Empty(t, status.Drift)
	assert.Equal(t, before.Toggles, h.record("main").Toggles)
	assert.Equal(t, before.ManifestVersion, h.record("main").ManifestVersion)
}

func TestRepair_RefetchesCorruptCache(t *testing.T) {
	h := newHarness(t)
	m := testutil.NewManifest("1.0.0").Mod("A").Load(t)
	key := m.Component("A").Key()
	h.install("main", m, "A")
	require.Equal(t, 1, h.transport.Calls(key))

	entry, ok := h.cache.Lookup(key)
	require.True(t, ok)
	// same size, different bytes: only a digest check notices
	require.NoError(t, afero.WriteFile(h.cacheFS, entry.Path, make([]byte, entry.Size), 0644))

	res, err := h.mgr.Repair(context.Background(), "main", m)
	require.NoError(t, err)
	assert.Equal(t, []manifest.ArtifactKey{key}, res.FetchReport.Fetched)
	assert.Equal(t, 2, h.transport.Calls(key))
}

func TestRepair_DryRunLeavesCorruptCacheAlone(t *testing.T) {
	h := newHarness(t)
	m := testutil.NewManifest("1.0.0").Mod("A").Load(t)
	key := m.Component("A").Key()
	h.install("main", m, "A")

	entry, ok := h.cache.Lookup(key)
	require.True(t, ok)
	require.NoError(t, afero.WriteFile(h.cacheFS, entry.Path, make([]byte, entry.Size), 0644))

	dry := lifecycle.New(h.store, h.cache, fetch.New(h.cache, h.transport), installer.New(h.installFS),
		lifecycle.WithInstallRoot("/games"), lifecycle.WithDryRun(true))
	res, err := dry.Repair(context.Background(), "main", m)
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	require.Len(t, res.Plan.ToFetch, 1)
	assert.Equal(t, key, res.Plan.ToFetch[0].Key)

	after, ok := h.cache.Lookup(key)
	require.True(t, ok, "dry run does not evict")
	assert.Equal(t, entry.VerifiedAt, after.VerifiedAt)
	assert.Equal(t, 1, h.transport.Calls(key))
}

func TestRepair_VersionMismatch(t *testing.T) {
	h := newHarness(t)
	h.install("main", testutil.NewManifest("1.0.0").Mod("A").Load(t), "A")

	_, err := h.mgr.Repair(context.Background(), "main", testutil.NewManifest("1.1.0").Mod("A").Load(t))
	assert.True(t, errors.IsErrorCode(err, errors.ErrVersionMismatch))
}

func TestModify(t *testing.T) {
	h := newHarness(t)
	m := testutil.NewManifest("1.0.0").Mod("A").Mod("B").Mod("C").Load(t)
	preset := &manifest.Preset{ID: "lite", EnabledFeatures: []string{"A"}}

	_, err := h.mgr.Install(context.Background(), lifecycle.InstallRequest{
		Name:      "main",
		Manifest:  m,
		Selection: lifecycle.Selection{Preset: preset},
	})
	require.NoError(t, err)
	assert.Equal(t, "lite", h.record("main").PresetID)

	res, err := h.mgr.Modify(context.Background(), "main", m, lifecycle.Selection{Toggles: []string{"B", "C"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, res.Plan.ToRemove)

	inst := h.record("main")
	assert.Equal(t, []string{"B", "C"}, inst.Toggles)
	assert.Empty(t, inst.PresetID)
	assert.Equal(t, []string{"mods/B-1.0.jar", "mods/C-1.0.jar"}, h.files("/games/main"))

	_, err = h.mgr.Modify(context.Background(), "main", m, lifecycle.Selection{})
	assert.True(t, errors.IsErrorCode(err, errors.ErrInvalidInput))

	_, err = h.mgr.Modify(context.Background(), "missing", m, lifecycle.Selection{Toggles: []string{"A"}})
	assert.True(t, errors.IsErrorCode(err, errors.ErrNotFound))
}

func TestModify_EnableDisableAgainstRecord(t *testing.T) {
	h := newHarness(t)
	m := testutil.NewManifest("1.0.0").Mod("A").Mod("B").Mod("C").Load(t)
	h.install("main", m, "A", "B")

	res, err := h.mgr.Modify(context.Background(), "main", m, lifecycle.Selection{
		Enable:  []string{"C"},
		Disable: []string{"A"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, res.Plan.ToRemove)
	assert.Equal(t, []string{"B", "C"}, h.record("main").Toggles)
}

func TestUninstall(t *testing.T) {
	h := newHarness(t)
	m := testutil.NewManifest("1.0.0").Mod("A").Load(t)
	h.install("main", m, "A")

	_, err := h.mgr.Uninstall(context.Background(), "main")
	require.NoError(t, err)
	assert.False(t, h.exists("/games/main"))
	assert.Nil(t, h.record("main"))

	_, err = h.mgr.Uninstall(context.Background(), "main")
	assert.True(t, errors.IsErrorCode(err, errors.ErrNotFound))
}

func TestUninstall_DirectoryOwnership(t *testing.T) {
	m := testutil.NewManifest("1.0.0").Mod("A").Mod("B").Load(t)

	t.Run("existing directory keeps user files", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, afero.WriteFile(h.installFS, "/home/player/notes.txt", []byte("mine"), 0644))
		_, err := h.mgr.Install(context.Background(), lifecycle.InstallRequest{
			Name:      "main",
			Dir:       "/home/player",
			Manifest:  m,
			Selection: lifecycle.Selection{Toggles: []string{"A", "B"}},
		})
		require.NoError(t, err)
		assert.False(t, h.record("main").OwnsDir)

		_, err = h.mgr.Uninstall(context.Background(), "main")
		require.NoError(t, err)
		assert.Equal(t, []string{"notes.txt"}, h.files("/home/player"))
		assert.False(t, h.exists("/home/player/mods"), "emptied directories are pruned")
		assert.Nil(t, h.record("main"))
	})

	t.Run("created directory is removed", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.mgr.Install(context.Background(), lifecycle.InstallRequest{
			Name:      "main",
			Dir:       "/custom/main",
			Manifest:  m,
			Selection: lifecycle.Selection{Toggles: []string{"A"}},
		})
		require.NoError(t, err)
		assert.True(t, h.record("main").OwnsDir)

		_, err = h.mgr.Uninstall(context.Background(), "main")
		require.NoError(t, err)
		assert.False(t, h.exists("/custom/main"))
	})
}

func TestDryRun(t *testing.T) {
	h := newHarness(t, lifecycle.WithDryRun(true))
	m := testutil.NewManifest("1.0.0").Mod("sodium").Mod("iris", testutil.DependsOn("sodium")).Load(t)

	res, err := h.mgr.Install(context.Background(), lifecycle.InstallRequest{
		Name:      "main",
		Manifest:  m,
		Selection: lifecycle.Selection{Toggles: []string{"iris"}},
	})
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Len(t, res.Plan.ToFetch, 2)
	assert.Equal(t, []string{"iris"}, res.Installation.Toggles)
	assert.Nil(t, h.record("main"))
	assert.Equal(t, 0, h.transport.TotalCalls())
	assert.False(t, h.exists("/games/main"))
}

func TestCancellationLeavesRecord(t *testing.T) {
	h := newHarness(t)
	v1 := testutil.NewManifest("1.0.0").Mod("A").Load(t)
	v2 := testutil.NewManifest("2.0.0").Mod("A", testutil.Version("2.0")).Load(t)
	h.install("main", v1, "A")

	h.transport.Gate = make(chan struct{})
	h.transport.Started = make(chan string, 1)
	defer close(h.transport.Gate)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.mgr.Update(ctx, "main", v2, lifecycle.UpdateOptions{})
		done <- err
	}()
	<-h.transport.Started
	assert.Equal(t, lifecycle.Fetching, h.mgr.Phase("main"))
	cancel()

	err := <-done
	assert.True(t, errors.IsErrorCode(err, errors.ErrCancelled))
	assert.Equal(t, "1.0.0", h.record("main").ManifestVersion)
	assert.True(t, h.exists("/games/main/mods/A-1.0.jar"))
	assert.False(t, h.cache.Has(v2.Component("A").Key()))
}

func TestOperationsSerializedPerName(t *testing.T) {
	h := newHarness(t)
	slow := testutil.NewManifest("1.0.0").Mod("slow").Load(t)
	fast := testutil.NewManifest("1.0.0").Mod("fast").Load(t)

	// fast's artifact is cached, so it never reaches the gated transport
	h.install("warmup", fast, "fast")

	h.transport.Gate = make(chan struct{})
	h.transport.Started = make(chan string, 1)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := h.mgr.Install(context.Background(), lifecycle.InstallRequest{
			Name:      "a",
			Manifest:  slow,
			Selection: lifecycle.Selection{Toggles: []string{"slow"}},
		})
		assert.NoError(t, err)
	}()
	<-h.transport.Started

	// same name waits for the running operation
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := h.mgr.Install(ctx, lifecycle.InstallRequest{Name: "a", Manifest: fast})
	assert.True(t, errors.IsErrorCode(err, errors.ErrCancelled))

	// another name proceeds in parallel
	h.install("b", fast, "fast")

	close(h.transport.Gate)
	wg.Wait()
	assert.NotNil(t, h.record("a"))
	assert.NotNil(t, h.record("b"))

	list, err := h.mgr.List()
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

// pkg/state/store_test.go
// TEST TYPE: Unit Test
// DEPENDENCIES: afero MemMapFs, FaultFS
// PURPOSE: Test record round trips, compatibility and commit atomicity

package state_test

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arthur-debert/modkit/pkg/errors"
	"github.com/arthur-debert/modkit/pkg/filesystem"
	"github.com/arthur-debert/modkit/pkg/state"
	"github.com/arthur-debert/modkit/pkg/testutil"
)

const dir = "/state/installations"

func sample(version string) *state.Installation {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &state.Installation{
		Name:            "main",
		Dir:             "/games/main",
		ModpackID:       "pack-uuid",
		ManifestVersion: version,
		Toggles:         []string{"sodium", "iris"},
		MemoryMB:        6144,
		PresetID:        "performance",
		CreatedAt:       now,
		ModifiedAt:      now,
		Components: map[string]state.Placement{
			"sodium": {Source: "ddl", Location: "https://cdn.example.test/sodium.jar", Version: "0.6", Files: []string{"mods/sodium-0.6.jar"}, Digest: "abc"},
			"iris":   {Source: "modrinth", Location: "iris", Version: "1.8", Files: []string{"mods/iris-1.8.jar"}},
		},
	}
}

func TestStore_RoundTrip(t *testing.T) {
	s := state.New(filesystem.NewMemory(), dir)
	in := sample("1.0.0")
	require.NoError(t, s.Write("main", in))

	out, err := s.Read("main")
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.Equal(t, state.SchemaVersion, out.SchemaVersion)
	assert.Equal(t, []string{"iris", "sodium"}, out.Toggles)
	assert.Equal(t, []string{"sodium", "iris"}, in.Toggles, "the caller's slice is not reordered")
	assert.Equal(t, in.Components, out.Components)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	assert.Equal(t, 6144, out.MemoryMB)
	assert.True(t, out.ToggleSet().Has("iris"))
	assert.Equal(t, "iris", out.InstalledKeys()["iris"].Location)
}

func TestStore_ReadMissing(t *testing.T) {
	s := state.New(filesystem.NewMemory(), dir)
	inst, err := s.Read("nothing")
	assert.NoError(t, err)
	assert.Nil(t, inst)
}

func TestStore_ReadCompatibility(t *testing.T) {
	tests := []struct {
		name    string
		record  string
		wantErr bool
		check   func(t *testing.T, inst *state.Installation)
	}{
		{
			name: "old record without schema or components",
			record: `manifest_version = "0.9.0"
toggles = ["a"]
`,
			check: func(t *testing.T, inst *state.Installation) {
				assert.Equal(t, state.SchemaVersion, inst.SchemaVersion)
				assert.Equal(t, "main", inst.Name)
				assert.NotNil(t, inst.Components)
				assert.Equal(t, []string{"a"}, inst.Toggles)
			},
		},
		{
			name: "unknown fields are ignored",
			record: `schema_version = 1
manifest_version = "1.0.0"
launcher_profile = "ignored"

[components.a]
source = "ddl"
location = "https://x.test/a.jar"
version = "1"
files = ["mods/a.jar"]
checksum_algo = "ignored"
`,
			check: func(t *testing.T, inst *state.Installation) {
				assert.Equal(t, []string{"mods/a.jar"}, inst.Components["a"].Files)
			},
		},
		{name: "newer schema", record: "schema_version = 99\n", wantErr: true},
		{name: "corrupt", record: "manifest_version = [unterminated", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := filesystem.NewMemory()
			require.NoError(t, afero.WriteFile(fs, dir+"/main.toml", []byte(tt.record), 0644))

			inst, err := state.New(fs, dir).Read("main")
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsErrorCode(err, errors.ErrStateStore))
				assert.Equal(t, "main", errors.GetDetail(err, "name"))
				return
			}
			require.NoError(t, err)
			tt.check(t, inst)
		})
	}
}

func TestStore_FailedRenameKeepsPreviousRecord(t *testing.T) {
	fs := testutil.NewFaultFS(filesystem.NewMemory())
	s := state.New(fs, dir)
	require.NoError(t, s.Write("main", sample("1.0.0")))

	fs.FailRename("main.toml")
	err := s.Write("main", sample("2.0.0"))
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrStateStore))

	fs.Reset()
	inst, err := s.Read("main")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", inst.ManifestVersion)
	assertNoTempFiles(t, fs)
}

func TestStore_TruncatedWriteKeepsPreviousRecord(t *testing.T) {
	fs := testutil.NewFaultFS(filesystem.NewMemory())
	s := state.New(fs, dir)
	require.NoError(t, s.Write("main", sample("1.0.0")))

	fs.TruncateWrites("main.toml", 16)
	require.Error(t, s.Write("main", sample("2.0.0")))

	fs.Reset()
	inst, err := s.Read("main")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", inst.ManifestVersion)
	assert.Len(t, inst.Components, 2)
	assertNoTempFiles(t, fs)
}

func TestStore_ListAndDelete(t *testing.T) {
	fs := filesystem.NewMemory()
	s := state.New(fs, dir)

	names, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, s.Write("beta", sample("1.0.0")))
	require.NoError(t, s.Write("alpha", sample("1.0.0")))
	require.NoError(t, afero.WriteFile(fs, dir+"/.alpha.toml.tmp-1234", []byte("x"), 0644))
	require.NoError(t, afero.WriteFile(fs, dir+"/notes.txt", []byte("x"), 0644))

	names, err = s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, names)

	require.NoError(t, s.Delete("alpha"))
	require.NoError(t, s.Delete("alpha"), "deleting twice is fine")
	names, err = s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"beta"}, names)
}

func TestStore_RejectsBadNames(t *testing.T) {
	s := state.New(filesystem.NewMemory(), dir)
	for _, name := range []string{"", "../escape", "a/b", ".hidden"} {
		_, err := s.Read(name)
		assert.True(t, errors.IsErrorCode(err, errors.ErrInvalidInput), name)
		assert.Error(t, s.Write(name, sample("1.0.0")), name)
	}
}

func TestInstallation_CloneIsDeep(t *testing.T) {
	orig := sample("1.0.0")
	c := orig.Clone()
	c.Toggles[0] = "changed"
	p := c.Components["sodium"]
	p.Files[0] = "changed"

	assert.Equal(t, "sodium", orig.Toggles[0])
	assert.Equal(t, "mods/sodium-0.6.jar", orig.Components["sodium"].Files[0])
}

func assertNoTempFiles(t *testing.T, fs afero.Fs) {
	t.Helper()
	files, err := filesystem.ListFiles(fs, dir)
	require.NoError(t, err)
	for _, f := range files {
		assert.False(t, strings.Contains(f, ".tmp-"), f)
	}
}

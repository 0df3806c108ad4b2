package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albertocavalcante/ambuild/internal/langs"
)

// TestNoFlagConflicts verifies that persistent and local flags merge without
// shorthand collisions on every subcommand.
func TestNoFlagConflicts(t *testing.T) {
	root := RootCmd()
	subcommands := root.Commands()
	if len(subcommands) == 0 {
		t.Fatal("expected at least one subcommand")
	}

	for _, cmd := range subcommands {
		t.Run(cmd.Name(), func(t *testing.T) {
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("flag conflict in %q command: %v", cmd.Name(), r)
				}
			}()
			_ = cmd.Flags()
			_ = cmd.InheritedFlags()
		})
	}
}

func TestGlobalVerbosityFlag(t *testing.T) {
	vFlag := RootCmd().PersistentFlags().Lookup("verbosity")
	if vFlag == nil {
		t.Fatal("expected persistent 'verbosity' flag on root command")
	}
	if vFlag.Shorthand != "v" {
		t.Errorf("expected verbosity flag shorthand to be 'v', got %q", vFlag.Shorthand)
	}
}

func TestSubcommandsExist(t *testing.T) {
	expected := []string{"version", "configure", "build", "status", "graph", "clean", "watch"}
	for _, name := range expected {
		found := false
		for _, cmd := range RootCmd().Commands() {
			if cmd.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected subcommand %q to be registered", name)
		}
	}
}

func TestBuildFlags(t *testing.T) {
	tests := []struct {
		cmd       string
		flag      string
		shorthand string
	}{
		{"build", "jobs", "j"},
		{"build", "refactor", ""},
		{"build", "metrics-file", ""},
		{"build", "show-graph", ""},
		{"configure", "build", ""},
		{"configure", "arch", ""},
		{"status", "json", ""},
		{"watch", "debounce", ""},
	}
	for _, tt := range tests {
		t.Run(tt.cmd+"/"+tt.flag, func(t *testing.T) {
			cmd, _, err := RootCmd().Find([]string{tt.cmd})
			require.NoError(t, err)
			f := cmd.Flags().Lookup(tt.flag)
			require.NotNil(t, f)
			assert.Equal(t, tt.shorthand, f.Shorthand)
		})
	}
}

func TestKindsOf(t *testing.T) {
	assert.Empty(t, kindsOf(nil))
	assert.Equal(t, []langs.Kind{langs.C, langs.Header}, kindsOf([]string{"c", "header"}))
}

// resetFlags puts every flag back to its default so commands can run more
// than once in one process.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if !f.Changed {
			return
		}
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := RootCmd()
	resetFlags(root)
	t.Cleanup(func() { resetFlags(root) })

	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "ambuild dev (unknown)\n", out)
}

const copyScript = `
[[copy]]
source = "data.txt"
folder = "out"
`

// project configures a source tree that only copies a file, so no compiler
// runs. The test binary stands in for the compiler that configure detects.
func project(t *testing.T) (src, build string) {
	t.Helper()
	root := t.TempDir()
	src = filepath.Join(root, "src")
	build = filepath.Join(root, "obj")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "AMBuildScript.toml"), []byte(copyScript), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "data.txt"), []byte("v1\n"), 0o644))

	exe, err := os.Executable()
	require.NoError(t, err)
	out, err := execute(t, "configure", src, "--build", build, "--cc", exe, "--cxx", exe)
	require.NoError(t, err)
	assert.Contains(t, out, "configured")
	return src, build
}

func status(t *testing.T, build string) StatusOutput {
	t.Helper()
	out, err := execute(t, "status", build, "--json")
	require.NoError(t, err)
	var s StatusOutput
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	return s
}

func TestConfigureBuildStatusClean(t *testing.T) {
	src, build := project(t)
	copied := filepath.Join(build, "out", "data.txt")

	s := status(t, build)
	assert.False(t, s.UpToDate)
	require.Len(t, s.Commands, 1)

	out, err := execute(t, "build", build)
	require.NoError(t, err)
	assert.Contains(t, out, "Build succeeded: 1 commands")
	data, err := os.ReadFile(copied)
	require.NoError(t, err)
	assert.Equal(t, "v1\n", string(data))

	out, err = execute(t, "build", build)
	require.NoError(t, err)
	assert.Contains(t, out, "up to date")
	assert.True(t, status(t, build).UpToDate)

	input := filepath.Join(src, "data.txt")
	require.NoError(t, os.WriteFile(input, []byte("v2\n"), 0o644))
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(input, later, later))

	s = status(t, build)
	assert.False(t, s.UpToDate)
	assert.Equal(t, []string{input}, s.Modified)

	out, err = execute(t, "status", build)
	require.NoError(t, err)
	assert.Contains(t, out, "Commands to run (1):")

	_, err = execute(t, "build", build)
	require.NoError(t, err)
	data, err = os.ReadFile(copied)
	require.NoError(t, err)
	assert.Equal(t, "v2\n", string(data))

	out, err = execute(t, "clean", build)
	require.NoError(t, err)
	assert.Equal(t, "Removed 1 files.\n", out)
	assert.NoFileExists(t, copied)
	assert.False(t, status(t, build).UpToDate)
}

func TestGraphAndShowGraph(t *testing.T) {
	_, build := project(t)

	graphOut, err := execute(t, "graph", build)
	require.NoError(t, err)
	assert.Contains(t, graphOut, "data.txt")

	showOut, err := execute(t, "build", build, "--show-graph")
	require.NoError(t, err)
	assert.Equal(t, graphOut, showOut)
	assert.NoFileExists(t, filepath.Join(build, "out", "data.txt"))
}

func TestBuildRefactor(t *testing.T) {
	_, build := project(t)

	_, err := execute(t, "build", build, "--refactor")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "would run")
}

func TestBuildMetricsFile(t *testing.T) {
	_, build := project(t)
	path := filepath.Join(t.TempDir(), "build.prom")

	_, err := execute(t, "build", build, "--metrics-file", path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `ambuild_build_outcomes_total{outcome="success"} 1`)
	assert.True(t, strings.Contains(string(data), "ambuild_task_results_total"))
}

func TestNotConfigured(t *testing.T) {
	empty := t.TempDir()
	for _, name := range []string{"build", "status", "graph", "clean", "watch"} {
		t.Run(name, func(t *testing.T) {
			_, err := execute(t, name, empty)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "not configured")
		})
	}
}

func TestConfigureDefaultsToWorkingDirectory(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "AMBuildScript.toml"), []byte(copyScript), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "data.txt"), []byte("v1\n"), 0o644))
	build := t.TempDir()
	t.Chdir(build)

	exe, err := os.Executable()
	require.NoError(t, err)
	_, err = execute(t, "configure", src, "--cc", exe, "--cxx", exe)
	require.NoError(t, err)
	assert.NoDirExists(t, filepath.Join(build, "build"))

	out, err := execute(t, "build")
	require.NoError(t, err)
	assert.Contains(t, out, "Build succeeded: 1 commands")
	assert.FileExists(t, filepath.Join(build, "out", "data.txt"))
}

func TestConfigureRejectsSourceAsBuild(t *testing.T) {
	src := t.TempDir()
	_, err := execute(t, "configure", src, "--build", src)
	require.Error(t, err)
}

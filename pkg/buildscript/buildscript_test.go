package buildscript

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeScript(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad(t *testing.T) {
	src := t.TempDir()
	build := t.TempDir()

	writeScript(t, filepath.Join(src, RootScript), `
subdirs = ["core"]

[compiler]
cflags = ["-Wall"]
defines = ["ROOT=1"]
`)
	writeScript(t, filepath.Join(src, "core", SubScript), `
[compiler]
defines = ["CORE=1"]

[[command]]
name = "version"
folder = "gen"
argv = ["python3", "${SOURCE_FOLDER}/gen.py", "version.h"]
inputs = ["${SOURCE_FOLDER}/gen.py"]
outputs = ["version.h"]

[[library]]
name = "core"
sources = ["core.cpp", "util.cpp"]
includes = ["${BUILD}/${BUILD_FOLDER}/gen"]
source_deps = ["${BUILD_FOLDER}/gen/version.h"]
`)

	scripts, err := Load(src, build)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(scripts) != 2 {
		t.Fatalf("Load() returned %d scripts, want 2", len(scripts))
	}

	root, core := scripts[0], scripts[1]
	if root.BuildFolder != "" {
		t.Errorf("root BuildFolder = %q, want empty", root.BuildFolder)
	}
	if core.BuildFolder != "core" {
		t.Errorf("core BuildFolder = %q, want core", core.BuildFolder)
	}

	wantDefines := []string{"ROOT=1", "CORE=1"}
	if strings.Join(core.Compiler.Defines, ",") != strings.Join(wantDefines, ",") {
		t.Errorf("inherited defines = %v, want %v", core.Compiler.Defines, wantDefines)
	}
	if len(core.Compiler.CFlags) != 1 || core.Compiler.CFlags[0] != "-Wall" {
		t.Errorf("inherited cflags = %v", core.Compiler.CFlags)
	}

	cmd := core.Commands[0]
	wantGen := filepath.Join(src, "core") + "/gen.py"
	if cmd.Argv[1] != wantGen {
		t.Errorf("argv[1] = %q, want %q", cmd.Argv[1], wantGen)
	}

	lib := core.Libraries[0]
	if lib.Includes[0] != build+"/core/gen" {
		t.Errorf("include = %q", lib.Includes[0])
	}
	if lib.SourceDeps[0] != "core/gen/version.h" {
		t.Errorf("source dep = %q", lib.SourceDeps[0])
	}

	targets := core.Binaries()
	if len(targets) != 1 || targets[0].Kind != KindLibrary {
		t.Errorf("Binaries() = %+v", targets)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "unknown key",
			content: "[[library]]\nname = \"a\"\nsources = [\"a.c\"]\nsourcez = [\"b.c\"]\n",
			wantErr: "unknown keys",
		},
		{
			name:    "command without argv",
			content: "[[command]]\noutputs = [\"x\"]\n",
			wantErr: "[[command]] #1: argv is required",
		},
		{
			name:    "command output with folder",
			content: "[[command]]\nargv = [\"gen\"]\noutputs = [\"sub/x.h\"]\n",
			wantErr: "must be a plain file name",
		},
		{
			name:    "library without sources",
			content: "[[library]]\nname = \"empty\"\n",
			wantErr: "[[library]] #1: target \"empty\" has no sources",
		},
		{
			name:    "duplicate target",
			content: "[[library]]\nname = \"a\"\nsources = [\"a.c\"]\n[[program]]\nname = \"a\"\nsources = [\"b.c\"]\n",
			wantErr: "[[program]] #1: duplicate target name",
		},
		{
			name:    "bad arch",
			content: "[[program]]\nname = \"a\"\nsources = [\"a.c\"]\narch = [\"arm\"]\n",
			wantErr: "unknown arch",
		},
		{
			name:    "unknown variable",
			content: "[[command]]\nargv = [\"${NOPE}/gen\"]\noutputs = [\"x\"]\n",
			wantErr: "unknown variable ${NOPE}",
		},
		{
			name:    "escaping folder",
			content: "[[folder]]\npath = \"../out\"\n",
			wantErr: "escapes the build folder",
		},
		{
			name:    "bad toml",
			content: "[[library]\n",
			wantErr: RootScript,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := t.TempDir()
			path := filepath.Join(src, RootScript)
			writeScript(t, path, tt.content)

			_, err := Parse(path, Vars{SourceRoot: src, BuildRoot: t.TempDir()})
			if err == nil {
				t.Fatal("Parse() expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Parse() error = %q, want it to contain %q", err, tt.wantErr)
			}
			if !strings.Contains(err.Error(), path) && tt.name != "unknown variable" {
				t.Errorf("Parse() error %q does not name the script", err)
			}
		})
	}
}

func TestLoadMissingSubdir(t *testing.T) {
	src := t.TempDir()
	writeScript(t, filepath.Join(src, RootScript), "subdirs = [\"missing\"]\n")

	_, err := Load(src, t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "build script not found") {
		t.Errorf("Load() error = %v, want build script not found", err)
	}
}

func TestExpand(t *testing.T) {
	vars := Vars{SourceRoot: "/src", BuildRoot: "/build"}
	tests := []struct {
		in, want string
	}{
		{"${SOURCE}/a.c", "/src/a.c"},
		{"${BUILD}/gen", "/build/gen"},
		{"${SOURCE_FOLDER}/x", "/src/core/x"},
		{"${BUILD_FOLDER}/y", "core/y"},
		{"plain", "plain"},
		{"-Wl,-rpath,$ORIGIN", "-Wl,-rpath,$ORIGIN"},
		{"$ORIGIN/${BUILD_FOLDER}", "$ORIGIN/core"},
		{"${SOURCE}${BUILD}", "/src/build"},
		{"cost $5", "cost $5"},
	}
	for _, tt := range tests {
		got, err := Expand(tt.in, vars, "/src/core", "core")
		if err != nil {
			t.Fatalf("Expand(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("Expand(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	got, err := Expand("${BUILD_FOLDER}/z", vars, "/src", "")
	if err != nil || got != "./z" {
		t.Errorf("Expand at root = %q, %v; want ./z", got, err)
	}

	if _, err := Expand("${SOURCE", vars, "/src", ""); err == nil {
		t.Error("Expand() expected error for an unterminated reference")
	}
}

func TestLoadKeepsRpathOrigin(t *testing.T) {
	src := t.TempDir()
	script := `
[[shared_library]]
name = "plugin"
sources = ["p.cpp"]
linkflags = ["-Wl,-rpath,$ORIGIN"]
postlink = ["-lpthread"]
`
	if err := os.WriteFile(filepath.Join(src, RootScript), []byte(script), 0o644); err != nil {
		t.Fatal(err)
	}
	scripts, err := Load(src, t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	lib := scripts[0].SharedLibraries[0]
	if lib.LinkFlags[0] != "-Wl,-rpath,$ORIGIN" {
		t.Errorf("linkflags = %v", lib.LinkFlags)
	}
	if len(lib.Postlink) != 1 || lib.Postlink[0] != "-lpthread" {
		t.Errorf("postlink = %v", lib.Postlink)
	}
}

func TestResolveInput(t *testing.T) {
	build := t.TempDir()
	vars := Vars{SourceRoot: "/elsewhere", BuildRoot: build}

	path, isSource := ResolveInput(filepath.Join(build, "gen", "v.h"), vars)
	if isSource || path != filepath.Join("gen", "v.h") {
		t.Errorf("build path resolved to %q source=%v", path, isSource)
	}

	abs := filepath.Join(t.TempDir(), "a.c")
	path, isSource = ResolveInput(abs, vars)
	if !isSource || path != abs {
		t.Errorf("source path resolved to %q source=%v", path, isSource)
	}

	path, isSource = ResolveInput("gen/v.h", vars)
	if isSource || path != filepath.Join("gen", "v.h") {
		t.Errorf("relative path resolved to %q source=%v", path, isSource)
	}
}

func TestSourceAndBuildPath(t *testing.T) {
	s := &Script{SourceDir: "/src/core", BuildFolder: "core"}
	if got := s.SourcePath("a.cpp"); got != filepath.Join("/src/core", "a.cpp") {
		t.Errorf("SourcePath() = %q", got)
	}
	if got := s.SourcePath("/abs/b.cpp"); got != filepath.Clean("/abs/b.cpp") {
		t.Errorf("SourcePath(abs) = %q", got)
	}
	if got := s.BuildPath("gen"); got != filepath.Join("core", "gen") {
		t.Errorf("BuildPath() = %q", got)
	}
}

func TestFixtures(t *testing.T) {
	for _, name := range []string{"staticlib", "multiarch", "pch"} {
		t.Run(name, func(t *testing.T) {
			scripts, err := Load(filepath.Join("..", "..", "testdata", name), t.TempDir())
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if len(scripts) != 1 {
				t.Fatalf("expected one script, got %d", len(scripts))
			}
			if len(scripts[0].Binaries()) != 1 {
				t.Errorf("expected one target, got %d", len(scripts[0].Binaries()))
			}
		})
	}
}

func TestModulesFixture(t *testing.T) {
	scripts, err := Load(filepath.Join("..", "..", "testdata", "modules"), t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	var folders []string
	for _, s := range scripts {
		folders = append(folders, s.BuildFolder)
	}
	if want := []string{"", "core", "greet", "app"}; strings.Join(folders, ",") != strings.Join(want, ",") {
		t.Fatalf("script folders = %q, want %q", folders, want)
	}
	app := scripts[3].Programs
	if len(app) != 1 || strings.Join(app[0].LinkDeps, ",") != "greet,core" {
		t.Errorf("app must link greet and core, got %+v", app)
	}
}

func TestStaticLibFixtureOrdersGenerator(t *testing.T) {
	build := t.TempDir()
	scripts, err := Load(filepath.Join("..", "..", "testdata", "staticlib"), build)
	if err != nil {
		t.Fatal(err)
	}
	s := scripts[0]
	if len(s.Commands) != 1 || s.Commands[0].Outputs[0] != "sum.h" {
		t.Fatalf("expected the header generator, got %+v", s.Commands)
	}
	lib := s.Libraries[0]
	if len(lib.SourceDeps) != 1 || lib.SourceDeps[0] != "sum.h" {
		t.Errorf("library must wait for sum.h, source_deps = %v", lib.SourceDeps)
	}
	if got := s.Commands[0].Argv[2]; got != filepath.Join(build, "sum.h") && got != build+"/sum.h" {
		t.Errorf("generator output not expanded: %q", got)
	}
}

package graph

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albertocavalcante/ambuild/pkg/buildscript"
	"github.com/albertocavalcante/ambuild/pkg/cpp"
	"github.com/albertocavalcante/ambuild/pkg/database"
	"github.com/albertocavalcante/ambuild/pkg/nodetypes"
)

const staticLibScript = `
[[command]]
folder = "gen"
argv = ["python3", "${SOURCE}/gen.py", "version.h"]
inputs = ["${SOURCE}/gen.py"]
outputs = ["version.h"]

[[library]]
name = "core"
sources = ["core.cpp", "util.cpp"]
includes = ["${BUILD}/gen"]
source_deps = ["${BUILD}/gen/version.h"]
`

type fixture struct {
	t     *testing.T
	src   string
	build string
	db    *database.Database
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	src, build := t.TempDir(), t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(build, CacheFolder), 0o755))
	db, err := database.Open(DatabasePath(build), build)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.CreateTables())
	return &fixture{t: t, src: src, build: build, db: db}
}

func testCompiler() *cpp.Compiler {
	return &cpp.Compiler{CC: "cc", CXX: "c++", AR: "ar", Behavior: cpp.GCC, Platform: "linux"}
}

func (f *fixture) generate(script string) (*Builder, []string) {
	f.t.Helper()
	path := filepath.Join(f.src, buildscript.RootScript)
	require.NoError(f.t, os.WriteFile(path, []byte(script), 0o644))

	scripts, err := buildscript.Load(f.src, f.build)
	require.NoError(f.t, err)

	g := NewGenerator(f.src, f.build, testCompiler())
	b, err := g.Generate(scripts)
	require.NoError(f.t, err)

	paths := make([]string, 0, len(scripts))
	for _, s := range scripts {
		paths = append(paths, s.Path)
	}
	return b, paths
}

func (f *fixture) export(script string, refactoring bool) (*ExportStats, error) {
	f.t.Helper()
	b, scripts := f.generate(script)
	return Export(f.db, b, scripts, refactoring)
}

func (f *fixture) cleanAll() {
	f.t.Helper()
	commands, err := f.db.QueryCommands()
	require.NoError(f.t, err)
	for _, c := range commands {
		require.NoError(f.t, f.db.UnmarkDirty(c))
	}
}

func TestGenerateStaticLibrary(t *testing.T) {
	f := newFixture(t)
	b, _ := f.generate(staticLibScript)

	require.Len(t, b.Commands(), 4, "generator, link and two compiles")

	gen := b.Commands()[0]
	require.Len(t, gen.Outputs, 1)
	assert.Equal(t, filepath.Join("gen", "version.h"), gen.Outputs[0].Path)

	var compiles []*Node
	for _, c := range b.Commands() {
		if c.Type == nodetypes.Cxx {
			compiles = append(compiles, c)
		}
	}
	require.Len(t, compiles, 2)
	for _, c := range compiles {
		assert.Contains(t, c.Strong, gen.Outputs[0], "compile must wait for the generated header")
		assert.Equal(t, cpp.GCC, c.Data.Behavior)
		assert.Equal(t, "core", c.Folder.Path)
	}

	lib := b.Lookup(filepath.Join("core", "libcore.a"))
	require.NotNil(t, lib)
	link := lib.Strong[0]
	assert.Equal(t, []string{"ar", "rcs", "libcore.a", "core.o", "util.o"}, link.Data.Argv)
	assert.Len(t, link.Strong, 2)
}

func TestGenerateMultiArch(t *testing.T) {
	f := newFixture(t)
	b, _ := f.generate(`
[[library]]
name = "core"
sources = ["core.cpp"]
arch = ["x86", "x86_64"]

[[program]]
name = "tool"
sources = ["main.cpp"]
link_deps = ["core"]
arch = ["x86", "x86_64"]
`)

	x86 := b.Lookup(filepath.Join("x86", "tool", "tool"))
	x64 := b.Lookup(filepath.Join("x86_64", "tool", "tool"))
	require.NotNil(t, x86)
	require.NotNil(t, x64)

	link := x86.Strong[0]
	assert.Contains(t, link.Data.Argv, "-m32")
	assert.Contains(t, link.Data.Argv, filepath.Join("..", "core", "libcore.a"))
	assert.Contains(t, link.Strong, b.Lookup(filepath.Join("x86", "core", "libcore.a")))
}

func TestGeneratePostlink(t *testing.T) {
	f := newFixture(t)
	b, _ := f.generate(`
[[library]]
name = "core"
sources = ["core.cpp"]

[[program]]
name = "tool"
sources = ["main.cpp"]
link_deps = ["core"]
linkflags = ["-Wl,-rpath,$ORIGIN"]
postlink = ["-lpthread"]
`)

	tool := b.Lookup(filepath.Join("tool", "tool"))
	require.NotNil(t, tool)
	assert.Equal(t, []string{
		"c++", "main.o", filepath.Join("..", "core", "libcore.a"), "-lpthread",
		"-Wl,-rpath,$ORIGIN", "-o", "tool",
	}, tool.Strong[0].Data.Argv)
}

func TestGenerateModulesFixture(t *testing.T) {
	build := t.TempDir()
	src, err := filepath.Abs(filepath.Join("..", "..", "testdata", "modules"))
	require.NoError(t, err)
	scripts, err := buildscript.Load(src, build)
	require.NoError(t, err)

	b, err := NewGenerator(src, build, testCompiler()).Generate(scripts)
	require.NoError(t, err)

	app := b.Lookup(filepath.Join("app", "app", "app"))
	require.NotNil(t, app)
	link := app.Strong[0]
	greet := filepath.Join("..", "..", "greet", "greet", "libgreet.a")
	core := filepath.Join("..", "..", "core", "core", "libcore.a")
	assert.Equal(t, []string{"c++", "main.o", greet, core, "-o", "app"}, link.Data.Argv)
	assert.Contains(t, link.Strong, b.Lookup(filepath.Join("greet", "greet", "libgreet.a")))
	assert.Contains(t, link.Strong, b.Lookup(filepath.Join("core", "core", "libcore.a")))
}

func TestGenerateUnknownLinkDep(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(f.src, buildscript.RootScript)
	require.NoError(t, os.WriteFile(path, []byte(`
[[program]]
name = "tool"
sources = ["main.cpp"]
link_deps = ["nope"]
`), 0o644))
	scripts, err := buildscript.Load(f.src, f.build)
	require.NoError(t, err)

	_, err = NewGenerator(f.src, f.build, testCompiler()).Generate(scripts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no library "nope"`)
	assert.Contains(t, err.Error(), "[[program]]")
}

func TestGeneratePrecompiledHeader(t *testing.T) {
	f := newFixture(t)
	b, _ := f.generate(`
[[library]]
name = "pch"
sources = ["a.cpp"]
precompiled_headers = ["include/all.h"]
`)
	gch := b.Lookup(filepath.Join("pch", "all.h.gch"))
	require.NotNil(t, gch)

	obj := b.Lookup(filepath.Join("pch", "a.o"))
	require.NotNil(t, obj)
	compile := obj.Strong[0]
	assert.Contains(t, compile.Strong, gch)
}

func TestExportFresh(t *testing.T) {
	f := newFixture(t)
	stats, err := f.export(staticLibScript, false)
	require.NoError(t, err)
	assert.NotZero(t, stats.Added)

	commands, err := f.db.QueryCommands()
	require.NoError(t, err)
	assert.Len(t, commands, 4)
	for _, c := range commands {
		assert.True(t, c.IsDirty(), "new commands start dirty")
	}

	scripts, err := f.db.QueryScripts()
	require.NoError(t, err)
	require.Len(t, scripts, 1)
	assert.Equal(t, filepath.Join(f.src, buildscript.RootScript), scripts[0].Path)

	header, err := f.db.QueryPath(filepath.Join("gen", "version.h"))
	require.NoError(t, err)
	require.NotNil(t, header)
	producer, err := f.db.Producer(header)
	require.NoError(t, err)
	require.NotNil(t, producer)
	assert.Equal(t, nodetypes.Command, producer.Type)
}

func TestExportIdempotent(t *testing.T) {
	f := newFixture(t)
	_, err := f.export(staticLibScript, false)
	require.NoError(t, err)
	f.cleanAll()

	stats, err := f.export(staticLibScript, false)
	require.NoError(t, err)
	assert.Equal(t, ExportStats{}, *stats)

	dirty, err := f.db.QueryKnownDirty()
	require.NoError(t, err)
	assert.Empty(t, dirty)

	// Refactoring mode accepts an unchanged graph.
	_, err = f.export(staticLibScript, true)
	require.NoError(t, err)
}

func TestExportUpdatesChangedCommand(t *testing.T) {
	f := newFixture(t)
	_, err := f.export(staticLibScript, false)
	require.NoError(t, err)
	f.cleanAll()

	changed := staticLibScript + "cxxflags = [\"-O2\"]\n"
	stats, err := f.export(changed, false)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Updated, "both compiles change")

	dirty, err := f.db.QueryKnownDirty()
	require.NoError(t, err)
	assert.Len(t, dirty, 2)
	for _, d := range dirty {
		assert.Equal(t, nodetypes.Cxx, d.Type)
		assert.Contains(t, d.Data.Argv, "-O2")
	}
}

func TestExportDropsRemovedSource(t *testing.T) {
	f := newFixture(t)
	_, err := f.export(staticLibScript, false)
	require.NoError(t, err)
	f.cleanAll()

	// Leave a stale object on disk to check that it gets removed.
	stale := filepath.Join(f.build, "core", "util.o")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0o755))
	require.NoError(t, os.WriteFile(stale, []byte("obj"), 0o644))

	without := `
[[command]]
folder = "gen"
argv = ["python3", "${SOURCE}/gen.py", "version.h"]
inputs = ["${SOURCE}/gen.py"]
outputs = ["version.h"]

[[library]]
name = "core"
sources = ["core.cpp"]
includes = ["${BUILD}/gen"]
source_deps = ["${BUILD}/gen/version.h"]
`
	stats, err := f.export(without, false)
	require.NoError(t, err)
	assert.NotZero(t, stats.Dropped)

	commands, err := f.db.QueryCommands()
	require.NoError(t, err)
	assert.Len(t, commands, 3)

	gone, err := f.db.QueryPath(filepath.Join("core", "util.o"))
	require.NoError(t, err)
	assert.Nil(t, gone)
	_, statErr := os.Stat(stale)
	assert.True(t, os.IsNotExist(statErr))

	src, err := f.db.QueryPath(filepath.Join(f.src, "util.cpp"))
	require.NoError(t, err)
	assert.Nil(t, src, "unused sources are dropped")

	lib, err := f.db.QueryPath(filepath.Join("core", "libcore.a"))
	require.NoError(t, err)
	link, err := f.db.Producer(lib)
	require.NoError(t, err)
	assert.True(t, link.IsDirty(), "link command changed")
	assert.NotContains(t, link.Data.Argv, "util.o")
}

func TestExportRefactoring(t *testing.T) {
	f := newFixture(t)
	_, err := f.export(staticLibScript, false)
	require.NoError(t, err)
	f.cleanAll()

	_, err = f.export(staticLibScript+"defines = [\"X=1\"]\n", true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, database.ErrRefactoring))

	// The failed reconcile must not leave partial changes behind.
	dirty, err := f.db.QueryKnownDirty()
	require.NoError(t, err)
	assert.Empty(t, dirty)

	_, err = f.export(staticLibScript+"\n[[program]]\nname = \"tool\"\nsources = [\"main.cpp\"]\n", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "new command")
}

func TestExportSubdirScripts(t *testing.T) {
	f := newFixture(t)
	sub := filepath.Join(f.src, "core")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, buildscript.SubScript), []byte(`
[[library]]
name = "core"
sources = ["core.cpp"]
`), 0o644))

	_, err := f.export("subdirs = [\"core\"]\n", false)
	require.NoError(t, err)

	scripts, err := f.db.QueryScripts()
	require.NoError(t, err)
	assert.Len(t, scripts, 2)

	lib, err := f.db.QueryPath(filepath.Join("core", "core", "libcore.a"))
	require.NoError(t, err)
	assert.NotNil(t, lib)

	// Dropping the subdir drops its script and nodes.
	_, err = f.export("# nothing\n", false)
	require.NoError(t, err)
	scripts, err = f.db.QueryScripts()
	require.NoError(t, err)
	assert.Len(t, scripts, 1)
	commands, err := f.db.QueryCommands()
	require.NoError(t, err)
	assert.Empty(t, commands)
	folders, err := f.db.QueryMkdir()
	require.NoError(t, err)
	assert.Empty(t, folders)
}

func TestVars(t *testing.T) {
	build := t.TempDir()
	_, err := LoadVars(build)
	assert.True(t, errors.Is(err, ErrNotConfigured))

	want := Vars{SourcePath: "/src", BuildPath: build, CC: "gcc", Arch: []string{"x86"}}
	require.NoError(t, SaveVars(want))

	got, err := LoadVars(build)
	require.NoError(t, err)
	assert.Equal(t, want, *got)
}

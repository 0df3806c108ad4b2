package graph

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/albertocavalcante/ambuild/pkg/nodetypes"
)

func TestGenerateFolderCreatesParents(t *testing.T) {
	b := NewBuilder()
	leaf, err := b.GenerateFolder(filepath.Join("a", "b", "c"))
	if err != nil {
		t.Fatal(err)
	}
	if leaf.Folder == nil || leaf.Folder.Path != filepath.Join("a", "b") {
		t.Fatalf("parent of leaf = %+v", leaf.Folder)
	}
	folders := b.Folders()
	if len(folders) != 3 || folders[0].Path != "a" {
		t.Errorf("Folders() = %d, first %q; want parents first", len(folders), folders[0].Path)
	}

	again, _ := b.GenerateFolder(filepath.Join("a", "b", "c"))
	if again != leaf {
		t.Error("GenerateFolder() is not idempotent")
	}

	root, err := b.GenerateFolder(".")
	if err != nil || root != nil {
		t.Errorf("GenerateFolder(.) = %v, %v; want nil root", root, err)
	}

	if _, err := b.GenerateFolder(filepath.Join("..", "x")); err == nil {
		t.Error("GenerateFolder(../x) expected error")
	}
}

func TestAddOutput(t *testing.T) {
	b := NewBuilder()
	out, err := b.AddOutput(filepath.Join("gen", "v.h"))
	if err != nil {
		t.Fatal(err)
	}
	if out.Folder == nil || out.Folder.Path != "gen" {
		t.Errorf("output folder = %+v", out.Folder)
	}
	if _, err := b.AddOutput(filepath.Join("gen", "v.h")); err == nil {
		t.Error("duplicate output expected error")
	}
	if _, err := b.AddOutput("/abs/v.h"); err == nil {
		t.Error("absolute output expected error")
	}
}

func TestAddSource(t *testing.T) {
	b := NewBuilder()
	a, err := b.AddSource("/src/a.c")
	if err != nil {
		t.Fatal(err)
	}
	again, _ := b.AddSource("/src/./a.c")
	if a != again {
		t.Error("AddSource() must return the same node for a cleaned path")
	}
	if _, err := b.AddSource("a.c"); err == nil {
		t.Error("relative source expected error")
	}
	if len(b.Sources()) != 1 {
		t.Errorf("Sources() = %d", len(b.Sources()))
	}
}

func TestAddDependencyTracksOutputs(t *testing.T) {
	b := NewBuilder()
	cmd, outs, err := b.AddCommandWithOutputs(nodetypes.Command, nil, &nodetypes.Data{Argv: []string{"gen"}}, "a.h", "b.h")
	if err != nil {
		t.Fatal(err)
	}
	if len(cmd.Outputs) != 2 || cmd.Outputs[0] != outs[0] {
		t.Errorf("cmd.Outputs = %v", cmd.Outputs)
	}
	if len(outs[0].Strong) != 1 || outs[0].Strong[0] != cmd {
		t.Errorf("output inputs = %v", outs[0].Strong)
	}

	b.AddDependency(outs[0], cmd)
	if len(outs[0].Strong) != 1 {
		t.Error("AddDependency() must not duplicate edges")
	}

	other := b.AddCommand(nodetypes.Command, nil, &nodetypes.Data{Argv: []string{"use"}})
	b.AddWeakDependency(other, cmd)
	b.AddWeakDependency(other, cmd)
	if len(other.Weak) != 1 {
		t.Errorf("weak inputs = %d", len(other.Weak))
	}
}

func TestDepNodeForPath(t *testing.T) {
	b := NewBuilder()
	out, _ := b.AddOutput(filepath.Join("gen", "v.h"))

	got, err := b.DepNodeForPath(filepath.Join("gen", "v.h"))
	if err != nil || got != out {
		t.Errorf("DepNodeForPath(output) = %v, %v", got, err)
	}

	src, err := b.DepNodeForPath("/src/x.h")
	if err != nil || src.Type != nodetypes.Source {
		t.Errorf("DepNodeForPath(abs) = %v, %v", src, err)
	}

	_, err = b.DepNodeForPath("missing.h")
	if err == nil || !strings.Contains(err.Error(), "not an output") {
		t.Errorf("DepNodeForPath(missing) error = %v", err)
	}
}

func TestCopySymlinkGroup(t *testing.T) {
	b := NewBuilder()
	folder, _ := b.GenerateFolder("dist")

	cmd, out, err := b.AddCopy("/src/readme.txt", folder)
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Type != nodetypes.Copy || out.Path != filepath.Join("dist", "readme.txt") {
		t.Errorf("copy = %s -> %s", cmd.Type, out.Path)
	}
	if cmd.Data.Dest != "readme.txt" || cmd.Data.Source != "/src/readme.txt" {
		t.Errorf("copy data = %+v", cmd.Data)
	}

	lnCmd, lnOut, err := b.AddSymlink("/src/readme.txt", filepath.Join("dist", "links", "README"))
	if err != nil {
		t.Fatal(err)
	}
	if lnCmd.Type != nodetypes.Symlink || lnOut.Folder.Path != filepath.Join("dist", "links") {
		t.Errorf("symlink = %s in %s", lnCmd.Type, lnOut.Folder.Path)
	}

	group := b.AddGroup("docs")
	b.AddToGroup(group, out)
	b.AddToGroup(group, lnOut)
	if b.AddGroup("docs") != group {
		t.Error("AddGroup() is not idempotent")
	}
	if len(group.Strong) != 2 {
		t.Errorf("group members = %d", len(group.Strong))
	}
	if group.Format() != `group "docs"` {
		t.Errorf("group Format() = %q", group.Format())
	}
}

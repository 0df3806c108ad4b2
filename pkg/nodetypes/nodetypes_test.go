package nodetypes

import "testing"

func TestTypePredicates(t *testing.T) {
	tests := []struct {
		typ     Type
		command bool
		file    bool
	}{
		{Source, false, true},
		{Output, false, true},
		{Mkdir, false, false},
		{Group, false, false},
		{Command, true, false},
		{Cxx, true, false},
		{Copy, true, false},
		{Symlink, true, false},
	}

	for _, tt := range tests {
		if got := tt.typ.IsCommand(); got != tt.command {
			t.Errorf("%s.IsCommand() = %v, want %v", tt.typ, got, tt.command)
		}
		if got := tt.typ.IsFile(); got != tt.file {
			t.Errorf("%s.IsFile() = %v, want %v", tt.typ, got, tt.file)
		}
	}
}

func TestDataEncodeDecode(t *testing.T) {
	var empty *Data
	blob, err := empty.Encode()
	if err != nil || blob != nil {
		t.Fatalf("nil data should encode to nil, got %q, %v", blob, err)
	}
	d, err := DecodeData(nil)
	if err != nil || d != nil {
		t.Fatalf("empty blob should decode to nil, got %+v, %v", d, err)
	}

	if _, err := DecodeData([]byte("{not json")); err == nil {
		t.Error("DecodeData should reject malformed blobs")
	}
}

func TestDataEqual(t *testing.T) {
	a := &Data{Argv: []string{"cc", "-c", "a.c"}, Behavior: "gcc"}
	b := &Data{Argv: []string{"cc", "-c", "a.c"}, Behavior: "gcc"}
	c := &Data{Argv: []string{"cc", "-c", "b.c"}, Behavior: "gcc"}

	if !a.Equal(b) {
		t.Error("identical payloads should be equal")
	}
	if a.Equal(c) {
		t.Error("payloads with different argv should differ")
	}
	var none *Data
	if !none.Equal(nil) {
		t.Error("two nil payloads should be equal")
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name  string
		entry *Entry
		want  string
	}{
		{
			name:  "cxx",
			entry: &Entry{Type: Cxx, Data: &Data{Argv: []string{"cc", "-c", "a.c"}, Behavior: "gcc"}},
			want:  "[gcc] -> cc -c a.c",
		},
		{
			name:  "command",
			entry: &Entry{Type: Command, Data: &Data{Argv: []string{"python3", "gen.py"}}},
			want:  "python3 gen.py",
		},
		{
			name:  "copy",
			entry: &Entry{Type: Copy, Data: &Data{Source: "/src/a.h", Dest: "a.h"}},
			want:  `cp "/src/a.h" "a.h"`,
		},
		{
			name:  "group",
			entry: &Entry{Type: Group, Path: GroupPrefix + "headers"},
			want:  `group "headers"`,
		},
		{
			name:  "source",
			entry: &Entry{Type: Source, Path: "/src/a.c"},
			want:  "/src/a.c",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.entry.Format(); got != tt.want {
				t.Errorf("Format() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFolderPath(t *testing.T) {
	folder := &Entry{Type: Mkdir, Path: "core"}
	out := &Entry{Type: Output, Path: "core/a.o", Folder: folder}
	if out.FolderPath() != "core" {
		t.Errorf("FolderPath() = %q, want %q", out.FolderPath(), "core")
	}
	if (&Entry{Type: Output, Path: "a.o"}).FolderPath() != "" {
		t.Error("root entries should have an empty folder path")
	}
}

package langs

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		path string
		want Kind
	}{
		{"core.c", C},
		{"core.cpp", CXX},
		{"core.CPP", CXX},
		{"core.C", CXX},
		{"include/core.h", Header},
		{"AMBuilder.toml", Script},
		{"README", ""},
		{"notes.txt", ""},
	}
	for _, tt := range tests {
		if got := Classify(tt.path); got != tt.want {
			t.Errorf("Classify(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestIsC(t *testing.T) {
	if !IsC("a.c") {
		t.Error("IsC(a.c) = false")
	}
	if IsC("a.C") {
		t.Error("IsC(a.C) = true; .C is C++")
	}
	if IsC("a.cpp") {
		t.Error("IsC(a.cpp) = true")
	}
}

func TestExtensionSet(t *testing.T) {
	all := ExtensionSet(nil)
	for _, ext := range []string{".c", ".cpp", ".h", ".toml"} {
		if !all[ext] {
			t.Errorf("ExtensionSet(nil) missing %s", ext)
		}
	}

	headers := ExtensionSet([]Kind{Header})
	if !headers[".hpp"] || headers[".cpp"] {
		t.Errorf("ExtensionSet(header) = %v", headers)
	}
}

func TestIgnoreDirSet(t *testing.T) {
	dirs := IgnoreDirSet([]string{"build"})
	if !dirs["."] || !dirs["build"] {
		t.Errorf("IgnoreDirSet() = %v", dirs)
	}
}

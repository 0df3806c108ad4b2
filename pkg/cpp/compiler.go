// Package cpp models C and C++ toolchains: compiler detection, expansion of
// library and program targets into command lines, and parsing of the include
// lists compilers print.
package cpp

import (
	"errors"
	"fmt"
	"runtime"
	"slices"
	"strings"

	"github.com/albertocavalcante/ambuild/internal/log"
)

// Behaviors recognized for command line syntax and dependency output.
const (
	GCC  = "gcc"
	MSVC = "msvc"
)

// ErrNoCompiler is returned when no C or C++ compiler can be found.
var ErrNoCompiler = errors.New("no C/C++ compiler found")

// Compiler is a detected toolchain plus the flags every target inherits.
type Compiler struct {
	CC       string
	CXX      string
	AR       string
	Behavior string
	Platform string

	// Arch is "" for the toolchain default, otherwise x86 or x86_64.
	Arch string

	CFlags    []string
	CXXFlags  []string
	Defines   []string
	Includes  []string
	LinkFlags []string

	// Postlink entries are appended to link command lines after objects.
	Postlink []string
}

// Finder locates programs by name. *runner.Runner implements it.
type Finder interface {
	Find(names ...string) (string, error)
}

// DetectOptions controls compiler detection.
type DetectOptions struct {
	// CC and CXX override detection. Empty values fall back to Getenv.
	CC  string
	CXX string

	// Getenv reads the CC, CXX and AR environment variables.
	Getenv func(string) string

	// Platform defaults to runtime.GOOS.
	Platform string
}

// Detect picks a C and C++ compiler. Explicit options win over the CC and
// CXX environment variables, which win over a PATH search.
func Detect(f Finder, opts DetectOptions) (*Compiler, error) {
	getenv := opts.Getenv
	if getenv == nil {
		getenv = func(string) string { return "" }
	}
	platform := opts.Platform
	if platform == "" {
		platform = runtime.GOOS
	}

	ccNames, cxxNames := []string{"cc", "gcc", "clang"}, []string{"c++", "g++", "clang++"}
	if platform == "windows" {
		ccNames = append([]string{"cl"}, ccNames...)
		cxxNames = append([]string{"cl"}, cxxNames...)
	}

	cc, err := pick(f, firstNonEmpty(opts.CC, getenv("CC")), ccNames)
	if err != nil {
		return nil, fmt.Errorf("%w: C compiler: %v", ErrNoCompiler, err)
	}
	cxx, err := pick(f, firstNonEmpty(opts.CXX, getenv("CXX")), cxxNames)
	if err != nil {
		return nil, fmt.Errorf("%w: C++ compiler: %v", ErrNoCompiler, err)
	}

	behavior := BehaviorOf(cc)
	if other := BehaviorOf(cxx); other != behavior {
		return nil, fmt.Errorf("C compiler %s (%s) and C++ compiler %s (%s) disagree", cc, behavior, cxx, other)
	}

	c := &Compiler{
		CC:       cc,
		CXX:      cxx,
		Behavior: behavior,
		Platform: platform,
	}
	if behavior == MSVC {
		c.AR = "lib"
	} else {
		c.AR = firstNonEmpty(getenv("AR"), "ar")
	}

	log.Component("cpp").Info("detected compiler", "cc", cc, "cxx", cxx, "behavior", behavior)
	return c, nil
}

func pick(f Finder, override string, candidates []string) (string, error) {
	if override != "" {
		return f.Find(override)
	}
	return f.Find(candidates...)
}

// BehaviorOf infers command line syntax from an executable name.
func BehaviorOf(exe string) string {
	name := exe
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSuffix(strings.ToLower(name), ".exe")
	if name == "cl" || name == "clang-cl" {
		return MSVC
	}
	return GCC
}

// Clone returns a deep copy.
func (c *Compiler) Clone() *Compiler {
	out := *c
	out.CFlags = slices.Clone(c.CFlags)
	out.CXXFlags = slices.Clone(c.CXXFlags)
	out.Defines = slices.Clone(c.Defines)
	out.Includes = slices.Clone(c.Includes)
	out.LinkFlags = slices.Clone(c.LinkFlags)
	out.Postlink = slices.Clone(c.Postlink)
	return &out
}

// ForArch returns a copy targeting arch. gcc-style compilers get -m32 or
// -m64; MSVC picks its target from the environment, so only Arch changes.
func (c *Compiler) ForArch(arch string) (*Compiler, error) {
	out := c.Clone()
	out.Arch = arch

	var flag string
	switch arch {
	case "":
		return out, nil
	case "x86":
		flag = "-m32"
	case "x86_64":
		flag = "-m64"
	default:
		return nil, fmt.Errorf("unknown arch %q", arch)
	}

	if c.Behavior == GCC {
		out.CFlags = append(out.CFlags, flag)
		out.LinkFlags = append(out.LinkFlags, flag)
	}
	return out, nil
}

// ObjectSuffix is the extension of object files.
func (c *Compiler) ObjectSuffix() string {
	if c.Behavior == MSVC {
		return ".obj"
	}
	return ".o"
}

// OutputName returns the file name of a linked binary.
func (c *Compiler) OutputName(kind Kind, name string) string {
	switch kind {
	case StaticLibrary:
		if c.Behavior == MSVC {
			return name + ".lib"
		}
		return "lib" + name + ".a"
	case SharedLibrary:
		switch c.Platform {
		case "windows":
			return name + ".dll"
		case "darwin":
			return "lib" + name + ".dylib"
		}
		return "lib" + name + ".so"
	default:
		if c.Platform == "windows" {
			return name + ".exe"
		}
		return name
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

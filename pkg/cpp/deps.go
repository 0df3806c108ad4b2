package cpp

import (
	"strings"
)

const (
	gccGuardTrailer = "Multiple include guards may be useful for:"
	msvcIncludeNote = "Note: including file:"
)

// ParseGCCDeps splits the stderr of a compiler run with -H into the list of
// included files and the remaining diagnostics. Each include line is one or
// more dots followed by a space and a path. A "!" line names a precompiled
// header that was used. The include guard report that follows the list is
// dropped.
func ParseGCCDeps(stderr string) (rest string, deps []string) {
	var kept []string
	seen := map[string]bool{}
	inTrailer := false

	body, newline := strings.CutSuffix(stderr, "\n")
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimRight(line, "\r")

		if trimmed == gccGuardTrailer {
			inTrailer = true
			continue
		}
		if inTrailer {
			// Guard report entries are bare paths; diagnostics carry "file:line: ".
			if trimmed == "" || !strings.Contains(trimmed, ": ") {
				continue
			}
			inTrailer = false
		}

		if path, ok := gccIncludeLine(trimmed); ok {
			if !seen[path] {
				seen[path] = true
				deps = append(deps, path)
			}
			continue
		}
		if strings.HasPrefix(trimmed, "x ") {
			// Precompiled header that was rejected.
			continue
		}
		kept = append(kept, line)
	}

	return joinLines(kept, newline), deps
}

func gccIncludeLine(line string) (string, bool) {
	if strings.HasPrefix(line, "! ") {
		return strings.TrimSpace(line[2:]), true
	}
	i := 0
	for i < len(line) && line[i] == '.' {
		i++
	}
	if i == 0 || i >= len(line) || line[i] != ' ' {
		return "", false
	}
	path := strings.TrimSpace(line[i+1:])
	if path == "" {
		return "", false
	}
	return path, true
}

// ParseMSVCDeps splits the stdout of cl /showIncludes into included files and
// the remaining output.
func ParseMSVCDeps(stdout string) (rest string, deps []string) {
	var kept []string
	seen := map[string]bool{}
	body, newline := strings.CutSuffix(stdout, "\n")
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimRight(line, "\r")
		if strings.HasPrefix(trimmed, msvcIncludeNote) {
			path := strings.TrimSpace(trimmed[len(msvcIncludeNote):])
			if path != "" && !seen[path] {
				seen[path] = true
				deps = append(deps, path)
			}
			continue
		}
		kept = append(kept, line)
	}
	return joinLines(kept, newline), deps
}

// joinLines rebuilds the kept output, ending it with a newline when the
// original did. Whitespace-only output becomes empty.
func joinLines(kept []string, newline bool) string {
	rest := strings.Join(kept, "\n")
	if strings.TrimSpace(rest) == "" {
		return ""
	}
	if newline {
		rest += "\n"
	}
	return rest
}

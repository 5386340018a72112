package assembler

import (
	"os"
	"path/filepath"
	"strings"
)

// includeExtensions are tried, in order, at every candidate location an
// #include directive's target maps to.
var includeExtensions = []string{".mas", ".masm"}

// includeResolver deduplicates and locates the files named by #include
// directives. A single resolver instance is shared across an entire
// assemble() run, including recursive includes, so the visited set
// makes repeat includes (and therefore cycles, on their second visit) a
// silent no-op.
type includeResolver struct {
	visited    map[string]bool
	stdlibRoot string
}

func newIncludeResolver(stdlibRoot string) *includeResolver {
	return &includeResolver{visited: make(map[string]bool), stdlibRoot: stdlibRoot}
}

// resolve locates the file named by target, referenced from fromFile.
// ok is false, with a nil error, when the file was already visited
// earlier in this run: the caller should treat the directive as a no-op
// rather than re-assemble it.
func (r *includeResolver) resolve(target, fromFile string) (path string, ok bool, err error) {
	candidates := r.candidates(target, fromFile)
	for _, c := range candidates {
		abs, statErr := filepath.Abs(c)
		if statErr != nil {
			continue
		}
		if _, err := os.Stat(abs); err != nil {
			continue
		}
		if r.visited[abs] {
			return "", false, nil
		}
		r.visited[abs] = true
		return abs, true, nil
	}
	return "", false, &IncludeNotFoundError{Target: target, Tried: candidates}
}

func (r *includeResolver) candidates(target, fromFile string) []string {
	var bases []string
	rel := target
	if strings.ContainsAny(target, "/\\") {
		bases = []string{filepath.Dir(fromFile)}
	} else {
		rel = strings.ReplaceAll(target, ".", string(filepath.Separator))
		bases = []string{r.stdlibRoot, executableDir()}
	}

	var out []string
	for _, base := range bases {
		full := rel
		if !filepath.IsAbs(full) {
			full = filepath.Join(base, rel)
		}
		for _, ext := range includeExtensions {
			out = append(out, full+ext)
		}
	}
	return out
}

func executableDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

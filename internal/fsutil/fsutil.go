package fsutil

import (
	"os"
	"regexp"
	"sort"
	"strings"
)

var imageExts = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".tif":  {},
	".tiff": {},
	".bmp":  {},
	".webp": {},
}

// VisibleEntries returns the sorted names in dir that do not start with a dot.
// Subdirectories are included; callers filter them by pattern.
func VisibleEntries(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Filter keeps names where re finds a match anywhere in the name.
func Filter(names []string, re *regexp.Regexp) []string {
	var out []string
	for _, n := range names {
		if re.MatchString(n) {
			out = append(out, n)
		}
	}
	return out
}

// CompilePattern compiles a filename filter with multi-line anchors.
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("(?m)" + pattern)
}

// IsImageFile reports whether path has an extension the native decoder reads.
func IsImageFile(path string) bool {
	i := strings.LastIndex(path, ".")
	if i < 0 {
		return false
	}
	_, ok := imageExts[strings.ToLower(path[i:])]
	return ok
}

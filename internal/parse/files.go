package parse

import "github.com/bmatcuk/doublestar/v4"

// FilterFiles returns the reported file paths that match at least one of
// the allowed glob patterns. An empty pattern list allows everything.
// Invalid patterns never match.
func FilterFiles(files, allowGlobs []string) []string {
	if len(allowGlobs) == 0 {
		return files
	}

	var out []string
	for _, f := range files {
		for _, pattern := range allowGlobs {
			ok, err := doublestar.Match(pattern, f)
			if err == nil && ok {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

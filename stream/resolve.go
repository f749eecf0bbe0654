package stream

import (
	"fmt"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/celine-eu/tap-geo/config"
	"github.com/celine-eu/tap-geo/slicehelp"
)

// Resolve expands the group's glob patterns into a deduplicated, sorted list
// of absolute file paths. Valid patterns that match nothing yield an empty
// list, not an error; the stream is still declared.
func Resolve(group config.FileGroup) ([]string, error) {
	if len(group.Paths) == 0 {
		return nil, &config.Error{Msg: fmt.Sprintf("group %q has no path patterns", group.TableName)}
	}
	var matches []string
	for _, pattern := range group.Paths {
		if !doublestar.ValidatePattern(pattern) {
			return nil, &config.Error{Msg: fmt.Sprintf("invalid glob pattern %q", pattern)}
		}
		found, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, &config.Error{Msg: fmt.Sprintf("could not expand pattern %q", pattern), Err: err}
		}
		for _, path := range found {
			abs, err := filepath.Abs(path)
			if err != nil {
				return nil, &config.Error{Msg: fmt.Sprintf("could not resolve path %q", path), Err: err}
			}
			matches = append(matches, abs)
		}
	}
	return slicehelp.SortedUnique(matches), nil
}

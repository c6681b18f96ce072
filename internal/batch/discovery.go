package batch

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/MeKo-Tech/stereowls/internal/depthio"
)

// Pair is a discovered stereo pair: <dir>/<Name><left suffix>.<ext> and
// the matching right view.
type Pair struct {
	Name  string `json:"name" yaml:"name"`
	Left  string `json:"left" yaml:"left"`
	Right string `json:"right" yaml:"right"`
}

// fileFilter selects supported images by base-name glob patterns. Exclude
// wins over include; no include patterns admits everything.
type fileFilter struct {
	include, exclude []string
}

func (f fileFilter) keep(path string) bool {
	if !depthio.IsSupported(path) {
		return false
	}
	base := filepath.Base(path)
	if matchAny(base, f.exclude) {
		return false
	}
	return len(f.include) == 0 || matchAny(base, f.include)
}

func matchAny(base string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

// collectImages expands args into image files. Directories are scanned,
// descending into subdirectories only when recursive is set.
func collectImages(args []string, recursive bool, filter fileFilter) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", arg, err)
		}
		if !info.IsDir() {
			if filter.keep(arg) {
				files = append(files, arg)
			}
			continue
		}

		root := arg
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			switch {
			case err != nil:
				return err
			case d.IsDir():
				if path != root && !recursive {
					return filepath.SkipDir
				}
			case filter.keep(path):
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", root, err)
		}
	}
	return files, nil
}

// splitSuffix returns the stem of path without extension and suffix, and
// whether the suffix was present.
func splitSuffix(path, suffix string) (string, bool) {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if !strings.HasSuffix(stem, suffix) || len(stem) == len(suffix) {
		return "", false
	}
	return strings.TrimSuffix(stem, suffix), true
}

// pairFiles groups files into left/right pairs by suffix within each
// directory. Left views without a partner are returned as unpaired.
func pairFiles(files []string, leftSuffix, rightSuffix string) (pairs []Pair, unpaired []string) {
	type key struct{ dir, name string }
	rights := map[key]string{}
	for _, f := range files {
		if name, ok := splitSuffix(f, rightSuffix); ok {
			rights[key{filepath.Dir(f), name}] = f
		}
	}

	seen := map[key]bool{}
	for _, f := range files {
		name, ok := splitSuffix(f, leftSuffix)
		if !ok {
			continue
		}
		k := key{filepath.Dir(f), name}
		if seen[k] {
			continue
		}
		seen[k] = true
		r, ok := rights[k]
		if !ok {
			unpaired = append(unpaired, f)
			slog.Warn("Left view has no right partner, skipping", "file", f)
			continue
		}
		pairs = append(pairs, Pair{Name: name, Left: f, Right: r})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Name != pairs[j].Name {
			return pairs[i].Name < pairs[j].Name
		}
		return pairs[i].Left < pairs[j].Left
	})
	return pairs, unpaired
}

// DiscoverPairs finds stereo pairs under the given files and directories.
func DiscoverPairs(args []string, cfg *Config) ([]Pair, []string, error) {
	files, err := collectImages(args, cfg.Recursive, fileFilter{include: cfg.IncludePatterns, exclude: cfg.ExcludePatterns})
	if err != nil {
		return nil, nil, err
	}
	pairs, unpaired := pairFiles(files, cfg.LeftSuffix, cfg.RightSuffix)
	return pairs, unpaired, nil
}

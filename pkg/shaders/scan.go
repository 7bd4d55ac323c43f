package shaders

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// DefaultStaleAfter is the modification window used when nothing else is configured
const DefaultStaleAfter = 24 * time.Hour

// Source is a shader file found below the input directory
type Source struct {
	Path    string
	Stage   Stage
	ModTime time.Time
}

// Discover recursively collects all shader sources below root. The result is grouped by stage
// in the order of Stages and sorted lexically inside each group. Hidden files and directories
// are ignored. Symlinked directories are followed; every directory is scanned at most once.
func Discover(root string) ([]Source, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, eris.Wrapf(err, "Could not find input directory %s", root)
	}

	if !info.IsDir() {
		return nil, eris.Errorf("%s is not a directory!", root)
	}

	s := &scanner{
		groups:  make(map[Stage][]Source, len(Stages)),
		visited: make(map[string]bool),
	}
	err = s.scan(root)
	if err != nil {
		return nil, err
	}

	result := make([]Source, 0)
	for _, stage := range Stages {
		result = append(result, s.groups[stage]...)
	}

	return result, nil
}

type scanner struct {
	groups  map[Stage][]Source
	visited map[string]bool
}

// scan walks the resolved location of dir but reports paths below dir.
func (s *scanner) scan(dir string) error {
	realDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return eris.Wrapf(err, "Failed to resolve %s", dir)
	}

	return filepath.WalkDir(realDir, func(realPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return eris.Wrapf(err, "Failed to scan %s", realPath)
		}

		rel, err := filepath.Rel(realDir, realPath)
		if err != nil {
			return eris.Wrapf(err, "Failed to relativize %s", realPath)
		}
		path := filepath.Join(dir, rel)

		if rel != "." && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if s.visited[realPath] {
				return filepath.SkipDir
			}
			s.visited[realPath] = true
			return nil
		}

		var fi fs.FileInfo
		if d.Type()&fs.ModeSymlink != 0 {
			fi, err = os.Stat(realPath)
			if err != nil {
				// dangling link
				return nil
			}

			if fi.IsDir() {
				return s.scan(path)
			}
		}

		stage, ok := StageOf(d.Name())
		if !ok {
			return nil
		}

		if fi == nil {
			fi, err = d.Info()
			if err != nil {
				return eris.Wrapf(err, "Failed to stat %s", realPath)
			}
		}

		s.groups[stage] = append(s.groups[stage], Source{
			Path:    path,
			Stage:   stage,
			ModTime: fi.ModTime(),
		})
		return nil
	})
}

// NeedsCompile reports whether src has to be compiled. force overrides the modification check.
func NeedsCompile(src Source, now time.Time, window time.Duration, force bool) bool {
	if force {
		return true
	}

	return now.Sub(src.ModTime) < window
}

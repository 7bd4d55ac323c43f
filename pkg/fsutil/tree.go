// Package fsutil contains the filesystem operations shared by the shader build and the
// portable rm/mkdir/cp commands.
package fsutil

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rotisserie/eris"
)

// CopyTree recursively copies src into dst. Regular files keep their permissions and
// modification time. Symlinks are followed and their targets copied.
func CopyTree(src, dst string) error {
	resolved, err := filepath.EvalSymlinks(src)
	if err != nil {
		return eris.Wrapf(err, "Failed to resolve %s", src)
	}

	return filepath.WalkDir(resolved, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return eris.Wrapf(err, "Failed to read %s", path)
		}

		rel, err := filepath.Rel(resolved, path)
		if err != nil {
			return eris.Wrapf(err, "Failed to relativize %s", path)
		}
		target := filepath.Join(dst, rel)

		if d.Type()&fs.ModeSymlink != 0 {
			info, err := os.Stat(path)
			if err != nil {
				return eris.Wrapf(err, "Failed to follow symlink %s", path)
			}

			if info.IsDir() {
				return CopyTree(path, target)
			}
			return copyFile(path, target, info)
		}

		info, err := d.Info()
		if err != nil {
			return eris.Wrapf(err, "Failed to stat %s", path)
		}

		if d.IsDir() {
			err = os.MkdirAll(target, info.Mode().Perm()|0o700)
			if err != nil {
				return eris.Wrapf(err, "Failed to create directory %s", target)
			}
			return nil
		}

		if !info.Mode().IsRegular() {
			// sockets, devices, ...
			return nil
		}

		return copyFile(path, target, info)
	})
}

func copyFile(src, dst string, info fs.FileInfo) error {
	in, err := os.Open(src)
	if err != nil {
		return eris.Wrapf(err, "Failed to open %s", src)
	}
	defer in.Close()

	err = os.MkdirAll(filepath.Dir(dst), 0o770)
	if err != nil {
		return eris.Wrapf(err, "Failed to create directory %s", filepath.Dir(dst))
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return eris.Wrapf(err, "Failed to create %s", dst)
	}

	_, err = io.Copy(out, in)
	if err != nil {
		out.Close()
		return eris.Wrapf(err, "Failed to copy %s to %s", src, dst)
	}

	err = out.Close()
	if err != nil {
		return eris.Wrapf(err, "Failed to write %s", dst)
	}

	err = os.Chtimes(dst, info.ModTime(), info.ModTime())
	if err != nil {
		return eris.Wrapf(err, "Failed to set modification time on %s", dst)
	}

	return nil
}

// Mirror replaces dst with a full copy of src. Anything previously stored in dst is deleted.
func Mirror(src, dst string) error {
	absSrc, err := filepath.Abs(src)
	if err != nil {
		return eris.Wrapf(err, "Failed to resolve %s", src)
	}

	absDst, err := filepath.Abs(dst)
	if err != nil {
		return eris.Wrapf(err, "Failed to resolve %s", dst)
	}

	err = CheckDisjoint(absSrc, absDst)
	if err != nil {
		return err
	}

	info, err := os.Stat(absSrc)
	if err != nil {
		return eris.Wrapf(err, "Could not find input directory %s", src)
	}

	if !info.IsDir() {
		return eris.Errorf("%s is not a directory!", src)
	}

	err = os.RemoveAll(absDst)
	if err != nil {
		return eris.Wrapf(err, "Failed to remove old output %s", dst)
	}

	return CopyTree(absSrc, absDst)
}

// CheckDisjoint fails if src and dst are the same directory or one of them contains the other.
// Symlinks are resolved first; dst doesn't have to exist yet.
func CheckDisjoint(src, dst string) error {
	realSrc, err := resolvePath(src)
	if err != nil {
		return err
	}

	realDst, err := resolvePath(dst)
	if err != nil {
		return err
	}

	switch {
	case realSrc == realDst:
		return eris.Errorf("%s and %s are the same location", src, dst)
	case IsWithin(realSrc, realDst):
		return eris.Errorf("%s must not be inside %s", dst, src)
	case IsWithin(realDst, realSrc):
		return eris.Errorf("%s must not be inside %s", src, dst)
	}

	return nil
}

// resolvePath returns the absolute path of p with all symlinks in its existing part resolved.
func resolvePath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", eris.Wrapf(err, "Failed to resolve %s", p)
	}

	existing := abs
	rest := ""
	for {
		resolved, err := filepath.EvalSymlinks(existing)
		if err == nil {
			return filepath.Join(resolved, rest), nil
		}

		if !eris.Is(err, os.ErrNotExist) {
			return "", eris.Wrapf(err, "Failed to resolve %s", p)
		}

		next := filepath.Dir(existing)
		if next == existing {
			return abs, nil
		}
		rest = filepath.Join(filepath.Base(existing), rest)
		existing = next
	}
}

// IsWithin reports whether child is parent itself or located below it. Both paths have to be
// absolute and clean.
func IsWithin(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}

	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// ExpandArgs resolves glob patterns on Windows where the shell doesn't do it for us. Everywhere
// else the arguments are returned unchanged.
func ExpandArgs(args []string, allowEmpty bool) ([]string, error) {
	if runtime.GOOS != "windows" {
		return args, nil
	}

	items := []string{}
	for _, arg := range args {
		matches, err := filepath.Glob(arg)
		if err != nil {
			return nil, eris.Wrapf(err, "Failed to resolve pattern %s", arg)
		}

		if matches == nil {
			if allowEmpty {
				continue
			}
			return nil, eris.Errorf("Pattern %s produced no matches", arg)
		}

		items = append(items, matches...)
	}

	return items, nil
}

// Remove deletes the passed items. Directories require recursive. With force, missing items
// are ignored.
func Remove(items []string, recursive, force bool) error {
	for _, item := range items {
		info, err := os.Stat(item)
		if err != nil {
			if force && eris.Is(err, os.ErrNotExist) {
				continue
			}
			return eris.Wrapf(err, "Could not stat %s", item)
		}

		if info.IsDir() && !recursive {
			return eris.Errorf("%s is a directory but -r wasn't passed", item)
		}
	}

	for _, item := range items {
		err := os.RemoveAll(item)
		if err != nil && (!force || !eris.Is(err, os.ErrNotExist)) {
			return eris.Wrapf(err, "Could not delete %s", item)
		}
	}

	return nil
}

// MakeDirs creates the passed directories
func MakeDirs(items []string, parents bool) error {
	for _, item := range items {
		var err error
		if parents {
			err = os.MkdirAll(item, 0o770)
		} else {
			err = os.Mkdir(item, 0o770)
		}

		if err != nil {
			return eris.Wrapf(err, "Failed to create %s", item)
		}
	}

	return nil
}

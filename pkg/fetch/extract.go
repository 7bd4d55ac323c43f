package fetch

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"github.com/ulikunitz/xz"

	"github.com/helcl42/PreVEngine/pkg/fsutil"
)

type archiveExtractor func(f *os.File, destRoot string, strip int, bar *progressbar.ProgressBar) error

// Extract unpacks the archive at archivePath into destRoot. The format is picked based on the
// file name. strip removes that many leading path elements from every entry.
func Extract(archivePath, destRoot string, strip int, quiet bool) error {
	extractor, err := getExtractor(archivePath)
	if err != nil {
		return err
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return eris.Wrapf(err, "Failed to open %s", archivePath)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return eris.Wrapf(err, "Failed to stat %s", archivePath)
	}

	err = os.MkdirAll(destRoot, 0770)
	if err != nil {
		return eris.Wrapf(err, "Failed to create directory %s", destRoot)
	}

	absRoot, err := filepath.Abs(destRoot)
	if err == nil {
		absRoot, err = filepath.EvalSymlinks(absRoot)
	}
	if err != nil {
		return eris.Wrapf(err, "Failed to resolve %s", destRoot)
	}

	bar := newProgressBar(stat.Size(), "      extract", quiet)
	err = extractor(f, absRoot, strip, bar)
	if err != nil {
		return eris.Wrapf(err, "Failed to extract %s", archivePath)
	}
	bar.Finish()

	return nil
}

// entryDest maps an archive entry to its location below destRoot. ok is false for entries
// which vanish completely due to strip.
func entryDest(destRoot, name string, strip int) (dest string, ok bool, err error) {
	cleaned := path.Clean(strings.ReplaceAll(name, "\\", "/"))
	parts := strings.Split(strings.TrimPrefix(cleaned, "/"), "/")
	if len(parts) <= strip {
		return "", false, nil
	}

	dest = filepath.Join(destRoot, filepath.FromSlash(strings.Join(parts[strip:], "/")))
	if dest == destRoot {
		return "", false, nil
	}

	if !fsutil.IsWithin(destRoot, dest) {
		return "", false, eris.Wrapf(ErrUnsafePath, "Refusing to extract %s", name)
	}

	return dest, true, nil
}

// checkOnDisk makes sure dest stays below destRoot once the symlinks that already exist on disk
// are followed. destRoot has to be a resolved path.
func checkOnDisk(destRoot, dest, name string) error {
	existing := dest
	rest := ""
	for {
		resolved, err := filepath.EvalSymlinks(existing)
		if err == nil {
			if !fsutil.IsWithin(destRoot, filepath.Join(resolved, rest)) {
				return eris.Wrapf(ErrUnsafePath, "Refusing to extract %s through a symlink", name)
			}
			return nil
		}

		if !eris.Is(err, os.ErrNotExist) {
			return eris.Wrapf(err, "Failed to resolve %s", existing)
		}

		next := filepath.Dir(existing)
		if next == existing {
			return nil
		}
		rest = filepath.Join(filepath.Base(existing), rest)
		existing = next
	}
}

// checkLink rejects symlinks which point outside of destRoot.
func checkLink(destRoot, dest, target, name string) error {
	if filepath.IsAbs(target) || strings.HasPrefix(target, "/") || strings.HasPrefix(target, "\\") {
		return eris.Wrapf(ErrUnsafePath, "Refusing to extract %s: absolute link target %s", name, target)
	}

	resolved := filepath.Join(filepath.Dir(dest), filepath.FromSlash(target))
	if !fsutil.IsWithin(destRoot, resolved) {
		return eris.Wrapf(ErrUnsafePath, "Refusing to extract %s: link target %s leaves the destination", name, target)
	}

	return nil
}

func writeEntry(dest string, r io.Reader, mode os.FileMode) error {
	destParent := filepath.Dir(dest)
	err := os.MkdirAll(destParent, os.FileMode(0770))
	if err != nil {
		return eris.Wrapf(err, "Failed to create directory %s", destParent)
	}

	if mode == 0 {
		mode = 0644
	}

	// Replace existing links instead of writing to wherever they point.
	info, err := os.Lstat(dest)
	if err == nil && info.Mode()&os.ModeSymlink != 0 {
		err = os.Remove(dest)
		if err != nil {
			return eris.Wrapf(err, "Failed to remove existing link %s", dest)
		}
	}

	destHandle, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return eris.Wrapf(err, "Failed to create file %s", dest)
	}

	_, err = io.Copy(destHandle, r)
	if err != nil {
		destHandle.Close()
		return eris.Wrapf(err, "Failed to write extracted file %s", dest)
	}

	err = destHandle.Close()
	if err != nil {
		return eris.Wrapf(err, "Failed to write extracted file %s", dest)
	}

	return nil
}

func getExtractor(name string) (archiveExtractor, error) {
	lower := strings.ToLower(name)

	switch {
	case strings.HasSuffix(lower, ".zip"):
		return extractZip, nil
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return func(f *os.File, destRoot string, strip int, bar *progressbar.ProgressBar) error {
			reader, err := gzip.NewReader(f)
			if err != nil {
				return eris.Wrap(err, "Failed to open gzip stream")
			}
			defer reader.Close()

			return extractTar(reader, f, destRoot, strip, bar)
		}, nil
	case strings.HasSuffix(lower, ".tar.bz2"):
		return func(f *os.File, destRoot string, strip int, bar *progressbar.ProgressBar) error {
			return extractTar(bzip2.NewReader(f), f, destRoot, strip, bar)
		}, nil
	case strings.HasSuffix(lower, ".tar.xz"):
		return func(f *os.File, destRoot string, strip int, bar *progressbar.ProgressBar) error {
			reader, err := xz.NewReader(f)
			if err != nil {
				return eris.Wrap(err, "Failed to open xz stream")
			}

			return extractTar(reader, f, destRoot, strip, bar)
		}, nil
	case strings.HasSuffix(lower, ".tar.zst"):
		return func(f *os.File, destRoot string, strip int, bar *progressbar.ProgressBar) error {
			reader, err := zstd.NewReader(f)
			if err != nil {
				return eris.Wrap(err, "Failed to open zstd stream")
			}
			defer reader.Close()

			return extractTar(reader, f, destRoot, strip, bar)
		}, nil
	}

	return nil, eris.Wrapf(ErrUnsupportedArchive, "Can't extract %s", name)
}

func extractZip(f *os.File, destRoot string, strip int, bar *progressbar.ProgressBar) error {
	stat, err := f.Stat()
	if err != nil {
		return err
	}

	archive, err := zip.NewReader(f, stat.Size())
	if err != nil {
		return eris.Wrap(err, "Failed to read zip directory")
	}

	for _, item := range archive.File {
		dest, ok, err := entryDest(destRoot, item.Name, strip)
		if err != nil {
			return err
		}

		if !ok {
			continue
		}

		err = checkOnDisk(destRoot, dest, item.Name)
		if err != nil {
			return err
		}

		if item.FileInfo().IsDir() {
			err = os.MkdirAll(dest, 0770)
			if err != nil {
				return eris.Wrapf(err, "Failed to create directory %s", dest)
			}
			continue
		}

		itemHandle, err := item.Open()
		if err != nil {
			return eris.Wrapf(err, "Failed to open archive entry %s", item.Name)
		}

		err = writeEntry(dest, itemHandle, item.Mode().Perm())
		itemHandle.Close()
		if err != nil {
			return err
		}

		bar.Add64(int64(item.CompressedSize64))
	}

	return nil
}

func extractTar(r io.Reader, f *os.File, destRoot string, strip int, bar *progressbar.ProgressBar) error {
	archive := tar.NewReader(r)

	for {
		item, err := archive.Next()
		if err != nil {
			if err == io.EOF {
				break
			}

			return eris.Wrap(err, "Failed to read archive entry")
		}

		dest, ok, err := entryDest(destRoot, item.Name, strip)
		if err != nil {
			return err
		}

		if !ok {
			continue
		}

		err = checkOnDisk(destRoot, dest, item.Name)
		if err != nil {
			return err
		}

		switch item.Typeflag {
		case tar.TypeDir:
			err = os.MkdirAll(dest, 0770)
			if err != nil {
				return eris.Wrapf(err, "Failed to create directory %s", dest)
			}
		case tar.TypeSymlink:
			err = checkLink(destRoot, dest, item.Linkname, item.Name)
			if err != nil {
				return err
			}

			err = os.MkdirAll(filepath.Dir(dest), 0770)
			if err != nil {
				return eris.Wrapf(err, "Failed to create directory %s", filepath.Dir(dest))
			}

			err = os.Remove(dest)
			if err != nil && !eris.Is(err, os.ErrNotExist) {
				return eris.Wrapf(err, "Failed to remove existing file %s", dest)
			}

			err = os.Symlink(item.Linkname, dest)
			if err != nil {
				return eris.Wrapf(err, "Failed to create symlink %s pointing to %s", dest, item.Linkname)
			}
		case tar.TypeReg:
			err = writeEntry(dest, archive, item.FileInfo().Mode().Perm())
			if err != nil {
				return err
			}
		}

		pos, err := f.Seek(0, io.SeekCurrent)
		if err == nil {
			bar.Set64(pos)
		}
	}

	return nil
}

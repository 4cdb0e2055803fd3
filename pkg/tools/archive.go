package tools

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

	"github.com/rotisserie/eris"
	"github.com/ulikunitz/xz"
)

// unpack extracts the downloaded archive below dest. The format is derived
// from the URL suffix.
func unpack(archive *os.File, url, dest string, strip int) error {
	switch {
	case strings.HasSuffix(url, ".zip"):
		return unzip(archive, dest, strip)
	case strings.HasSuffix(url, ".tar.gz"):
		reader, err := gzip.NewReader(archive)
		if err != nil {
			return eris.Wrap(err, "Failed to open the gzip stream")
		}
		defer reader.Close()

		return untar(reader, dest, strip)
	case strings.HasSuffix(url, ".tar.bz2"):
		return untar(bzip2.NewReader(archive), dest, strip)
	case strings.HasSuffix(url, ".tar.xz"):
		reader, err := xz.NewReader(archive)
		if err != nil {
			return eris.Wrap(err, "Failed to open the xz stream")
		}

		return untar(reader, dest, strip)
	default:
		return eris.Errorf("Unsupported archive format in %s", url)
	}
}

// entryPath strips the leading path elements from an archive entry name and
// anchors it below dest. Entries that vanish entirely after stripping come
// back empty; entries that would escape dest are rejected.
func entryPath(dest, name string, strip int) (string, error) {
	parts := strings.Split(path.Clean(filepath.ToSlash(name)), "/")
	if len(parts) <= strip {
		return "", nil
	}

	target := filepath.Join(dest, filepath.Join(parts[strip:]...))
	if target == dest || !strings.HasPrefix(target, dest+string(filepath.Separator)) {
		return "", eris.Errorf("Archive entry %s escapes the destination", name)
	}

	return target, nil
}

func untar(r io.Reader, dest string, strip int) error {
	archive := tar.NewReader(r)

	for {
		header, err := archive.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return eris.Wrap(err, "Failed to read the archive")
		}

		target, err := entryPath(dest, header.Name, strip)
		if err != nil {
			return err
		}
		if target == "" || header.FileInfo().IsDir() {
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0770); err != nil {
			return eris.Wrapf(err, "Failed to create %s", filepath.Dir(target))
		}

		if header.Typeflag == tar.TypeSymlink {
			if err := os.Symlink(header.Linkname, target); err != nil {
				return eris.Wrapf(err, "Failed to link %s", target)
			}
			continue
		}

		if err := writeEntry(target, archive, header.FileInfo().Mode()); err != nil {
			return err
		}
	}
}

func unzip(archive *os.File, dest string, strip int) error {
	info, err := archive.Stat()
	if err != nil {
		return eris.Wrap(err, "Failed to measure the archive")
	}

	reader, err := zip.NewReader(archive, info.Size())
	if err != nil {
		return eris.Wrap(err, "Failed to open the archive")
	}

	for _, entry := range reader.File {
		if strings.HasSuffix(entry.Name, "/") {
			continue
		}

		target, err := entryPath(dest, entry.Name, strip)
		if err != nil {
			return err
		}
		if target == "" {
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0770); err != nil {
			return eris.Wrapf(err, "Failed to create %s", filepath.Dir(target))
		}

		content, err := entry.Open()
		if err != nil {
			return eris.Wrapf(err, "Failed to read %s", entry.Name)
		}

		err = writeEntry(target, content, 0660)
		content.Close()
		if err != nil {
			return err
		}
	}

	return nil
}

func writeEntry(target string, content io.Reader, mode os.FileMode) error {
	handle, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return eris.Wrapf(err, "Failed to create %s", target)
	}

	_, err = io.Copy(handle, content)
	if closeErr := handle.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return eris.Wrapf(err, "Failed to write %s", target)
	}

	return nil
}

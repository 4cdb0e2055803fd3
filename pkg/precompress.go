package pkg

import (
	"compress/gzip"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/rotisserie/eris"
)

// Extensions worth pre-compressing. Everything else (images, fonts, archives)
// is already compressed and would only waste CPU.
var compressibleExts = map[string]bool{
	".css":  true,
	".htm":  true,
	".html": true,
	".js":   true,
	".json": true,
	".map":  true,
	".svg":  true,
	".txt":  true,
	".xml":  true,
}

// ListCompressible returns all files below root that should get .br and .gz
// siblings, in walk order.
func ListCompressible(root string) ([]string, error) {
	result := []string{}
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if entry.IsDir() {
			return nil
		}

		if compressibleExts[strings.ToLower(filepath.Ext(path))] {
			result = append(result, path)
		}

		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to walk %s", root)
	}

	return result, nil
}

// CompressFile writes path.br and path.gz next to the given file unless they
// already exist and are newer than the source. It reports whether anything
// was written, which makes repeated runs cheap no-ops.
func CompressFile(path string) (bool, error) {
	srcInfo, err := os.Stat(path)
	if err != nil {
		return false, eris.Wrapf(err, "Failed to check %s", path)
	}

	written := false
	for _, variant := range []string{".br", ".gz"} {
		dest := path + variant
		destInfo, err := os.Stat(dest)
		if err == nil && destInfo.ModTime().After(srcInfo.ModTime()) {
			continue
		}
		if err != nil && !eris.Is(err, os.ErrNotExist) {
			return written, eris.Wrapf(err, "Failed to check %s", dest)
		}

		err = writeCompressed(path, dest, variant)
		if err != nil {
			return written, err
		}
		written = true
	}

	return written, nil
}

func writeCompressed(src, dest, variant string) error {
	srcHandle, err := os.Open(src)
	if err != nil {
		return eris.Wrapf(err, "Failed to open %s", src)
	}
	defer srcHandle.Close()

	destHandle, err := os.Create(dest)
	if err != nil {
		return eris.Wrapf(err, "Failed to create %s", dest)
	}
	defer destHandle.Close()

	var writer io.WriteCloser
	if variant == ".br" {
		writer = brotli.NewWriterLevel(destHandle, brotli.BestCompression)
	} else {
		writer, err = gzip.NewWriterLevel(destHandle, gzip.BestCompression)
		if err != nil {
			return eris.Wrapf(err, "Failed to prepare gzip writer for %s", dest)
		}
	}

	_, err = io.Copy(writer, srcHandle)
	if err != nil {
		return eris.Wrapf(err, "Failed to compress %s", src)
	}

	err = writer.Close()
	if err != nil {
		return eris.Wrapf(err, "Failed to finish %s", dest)
	}

	return nil
}

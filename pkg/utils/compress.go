package utils

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Compress creates a .tar.gz file at outputPath holding the given files.
// files maps the path on disk to the name stored in the archive.
func Compress(files map[string]string, outputPath string) (err error) {
	tarFile, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := tarFile.Close(); err == nil {
			err = cerr
		}
	}()

	gzw := gzip.NewWriter(tarFile)
	tw := tar.NewWriter(gzw)

	for _, src := range SortedKeys(files) {
		if err := addFile(tw, src, files[src]); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gzw.Close()
}

func addFile(tw *tar.Writer, src, name string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = filepath.ToSlash(name)
	if err := tw.WriteHeader(header); err != nil {
		return err
	}

	data, err := os.Open(src)
	if err != nil {
		return err
	}
	defer data.Close()

	if _, err := io.Copy(tw, data); err != nil {
		return fmt.Errorf("unable to write %s to archive: %w", name, err)
	}
	return nil
}

// Decompress takes a location to a .tar.gz file and a base path and
// decompresses the contents wrt the base path. Entries escaping baseDir are
// rejected.
func Decompress(tarPath, baseDir string) error {
	tarFile, err := os.Open(tarPath)
	if err != nil {
		return err
	}
	defer tarFile.Close()

	gzr, err := gzip.NewReader(tarFile)
	if err != nil {
		return err
	}
	defer gzr.Close()

	base := filepath.Clean(baseDir)

	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}

		target := filepath.Join(base, filepath.FromSlash(header.Name))
		if target != base && !strings.HasPrefix(target, base+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry %s escapes %s", header.Name, baseDir)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, fs.FileMode(header.Mode)|0o700); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := writeEntry(target, tr, fs.FileMode(header.Mode)); err != nil {
				return err
			}
		}
	}
}

func writeEntry(target string, r io.Reader, mode fs.FileMode) error {
	f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode|0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

package docker

import (
	"archive/tar"
	"bytes"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/dontdude/javabox/internal/domain"
)

// BuildArchive packs files under dir into an uncompressed tar stream.
// Directories are world-writable so the toolchain can write class files next to the sources.
func BuildArchive(dir string, files []domain.File) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	now := time.Now()

	dir = strings.Trim(path.Clean("/"+dir), "/")
	if dir != "" {
		err := tw.WriteHeader(&tar.Header{
			Typeflag: tar.TypeDir,
			Name:     dir + "/",
			Mode:     0o777,
			ModTime:  now,
		})
		if err != nil {
			return nil, fmt.Errorf("writing tar header for %s: %w", dir, err)
		}
	}

	for _, f := range files {
		name := path.Join(dir, f.Name)
		if path.Base(name) != f.Name || f.Name == "" {
			return nil, fmt.Errorf("invalid file name %q", f.Name)
		}
		err := tw.WriteHeader(&tar.Header{
			Typeflag: tar.TypeReg,
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(f.Data)),
			ModTime:  now,
		})
		if err != nil {
			return nil, fmt.Errorf("writing tar header for %s: %w", name, err)
		}
		if _, err := tw.Write([]byte(f.Data)); err != nil {
			return nil, fmt.Errorf("writing %s: %w", name, err)
		}
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("closing tar: %w", err)
	}
	return &buf, nil
}

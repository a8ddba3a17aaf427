package archive

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Ext is the suffix of archives produced by the default Archiver.
const Ext = ".tar.gz"

// Archiver packs a directory into a single archive file and unpacks it again.
// Keeping this behind an interface keeps the backup engine free of format
// conditionals should the on-disk format ever change.
type Archiver interface {
	// Create packs srcDir into an archive at destPath and returns its size.
	Create(srcDir, destPath string) (int64, error)
	// Extract unpacks archivePath into destDir.
	Extract(archivePath, destDir string) error
}

// TarGz is the default Archiver: a gzip-compressed tarball with paths stored
// relative to the source directory.
type TarGz struct{}

func (TarGz) Create(srcDir, destPath string) (int64, error) {
	outFile, err := os.Create(destPath)
	if err != nil {
		return 0, fmt.Errorf("create archive: %w", err)
	}

	gzWriter := gzip.NewWriter(outFile)
	tarWriter := tar.NewWriter(gzWriter)

	walkErr := filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)

		if err := tarWriter.WriteHeader(header); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		_, err = io.Copy(tarWriter, f)
		return err
	})

	// Close in reverse order; the first error wins.
	closeErr := tarWriter.Close()
	if err := gzWriter.Close(); closeErr == nil {
		closeErr = err
	}
	if err := outFile.Close(); closeErr == nil {
		closeErr = err
	}

	if walkErr != nil {
		os.Remove(destPath)
		return 0, fmt.Errorf("pack %s: %w", srcDir, walkErr)
	}
	if closeErr != nil {
		os.Remove(destPath)
		return 0, fmt.Errorf("finalize archive: %w", closeErr)
	}

	stat, err := os.Stat(destPath)
	if err != nil {
		return 0, fmt.Errorf("stat archive: %w", err)
	}
	return stat.Size(), nil
}

func (TarGz) Extract(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	gzReader, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("open gzip stream: %w", err)
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read archive entry: %w", err)
		}

		destPath, err := safeJoin(destDir, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(destPath, 0o755); err != nil {
				return fmt.Errorf("create dir %s: %w", header.Name, err)
			}
		case tar.TypeReg:
			if err := extractFile(tarReader, destPath); err != nil {
				return fmt.Errorf("extract %s: %w", header.Name, err)
			}
		default:
			// Symlinks and specials are never produced by Create; skip them
			// rather than follow links out of the extraction root.
		}
	}
}

// safeJoin joins an archive entry name under destDir, rejecting entries that
// would escape it.
func safeJoin(destDir, name string) (string, error) {
	destPath := filepath.Join(destDir, filepath.FromSlash(name))
	if !strings.HasPrefix(destPath, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry %q escapes extraction dir", name)
	}
	return destPath, nil
}

func extractFile(r io.Reader, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

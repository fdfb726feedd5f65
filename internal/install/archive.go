package install

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// maxArchiveEntryBytes caps a single extracted file.
const maxArchiveEntryBytes = 4 << 30

// isGzipArchive reports whether the file at path starts with the gzip magic.
func isGzipArchive(path string) (bool, error) {
	//nolint:gosec // G304: path is a verified download we own
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer func() { _ = f.Close() }()

	magic := make([]byte, 2)
	n, err := io.ReadFull(f, magic)
	if err != nil && n < 2 {
		return false, nil
	}
	return magic[0] == 0x1f && magic[1] == 0x8b, nil
}

// extractTarball extracts a .tar.gz archive into destDir. Entries that would
// land outside destDir are rejected.
func extractTarball(r io.Reader, destDir string) error {
	gzr, err := gzip.NewReader(bufio.NewReader(r))
	if err != nil {
		return fmt.Errorf("create gzip reader: %w", err)
	}
	defer func() { _ = gzr.Close() }()

	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}

		target, err := safeJoin(destDir, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			//nolint:gosec // G301: game data directories need standard permissions
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("create dir %s: %w", header.Name, err)
			}
		case tar.TypeReg:
			if err := writeEntry(tr, target, header.FileInfo().Mode().Perm()); err != nil {
				return fmt.Errorf("extract %s: %w", header.Name, err)
			}
		case tar.TypeSymlink:
			if filepath.IsAbs(header.Linkname) {
				return fmt.Errorf("archive symlink %s points outside the install", header.Name)
			}
			if _, err := safeJoin(destDir, filepath.Join(filepath.Dir(header.Name), header.Linkname)); err != nil {
				return fmt.Errorf("archive symlink %s: %w", header.Name, err)
			}
			//nolint:gosec // G301: parent directories need standard permissions
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fmt.Errorf("create dir for %s: %w", header.Name, err)
			}
			if err := os.Symlink(header.Linkname, target); err != nil {
				return fmt.Errorf("symlink %s: %w", header.Name, err)
			}
		default:
			// Devices, fifos and hard links have no place in a game release.
			continue
		}
	}
}

func writeEntry(r io.Reader, target string, perm os.FileMode) error {
	//nolint:gosec // G301: parent directories need standard permissions
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	if perm == 0 {
		perm = 0644
	}
	//nolint:gosec // G304: target is confined to the staging directory by safeJoin
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, io.LimitReader(r, maxArchiveEntryBytes)); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func safeJoin(root, name string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archive entry %q escapes install directory", name)
	}
	return filepath.Join(root, cleaned), nil
}

// hoistSingleRoot moves the contents of a lone top-level directory up into
// dir, so "GRAV-2.1.0/GRAV.x86_64" and "GRAV.x86_64" archives install alike.
func hoistSingleRoot(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	if len(entries) != 1 || !entries[0].IsDir() {
		return nil
	}
	inner := filepath.Join(dir, ".hoist-"+entries[0].Name())
	if err := os.Rename(filepath.Join(dir, entries[0].Name()), inner); err != nil {
		return err
	}
	children, err := os.ReadDir(inner)
	if err != nil {
		return err
	}
	for _, c := range children {
		if err := os.Rename(filepath.Join(inner, c.Name()), filepath.Join(dir, c.Name())); err != nil {
			return err
		}
	}
	return os.Remove(inner)
}

package vault

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// ArchiveWorktree packs the whole worktree, git metadata included, into
// <theater>/archive/<order_id>_YYYYmmdd_HHMMSS.tar.gz. The timestamp is
// UTC so archives sort the same regardless of where the vault runs.
func (m *Manager) ArchiveWorktree(theater, orderID string) (string, error) {
	theaterPath, err := m.theaterPath(theater)
	if err != nil {
		return "", err
	}
	wt, err := m.worktreePath(theaterPath, orderID)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(wt); err != nil {
		return "", fmt.Errorf("%w: worktree does not exist: %s", ErrNotFound, orderID)
	}

	archiveDir := filepath.Join(theaterPath, "archive")
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	name := fmt.Sprintf("%s_%s.tar.gz", orderID, time.Now().UTC().Format("20060102_150405"))
	archivePath := filepath.Join(archiveDir, name)

	if err := writeTarGz(archivePath, wt, orderID); err != nil {
		os.Remove(archivePath)
		return "", fmt.Errorf("archive worktree %s: %w", orderID, err)
	}

	slog.Info("Worktree archived", "theater", theater, "order_id", orderID, "archive", archivePath)
	return archivePath, nil
}

// writeTarGz tars srcDir under the top-level name arcName and gzips the
// result to dst.
func writeTarGz(dst, srcDir, arcName string) error {
	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create archive file: %w", err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	err = filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		var link string
		if info.Mode()&fs.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		}

		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(filepath.Join(arcName, rel))

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(tw, src)
		return err
	})
	if err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("finalize tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("finalize gzip: %w", err)
	}
	return f.Close()
}

// Package backup implements sandbox workspace backup and restore (C8):
// tar-gz streamed to object storage plus a JSON snapshot fast path, with
// sensitive-path filtering and workdir-prefix normalization on restore.
package backup

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	moarchive "github.com/moby/go-archive"

	"github.com/forgeplatform/forge/pkg/snapshot"
)

// ContainerArchiver moves tar streams in and out of a sandbox container.
// Satisfied by pkg/container.Driver.
type ContainerArchiver interface {
	GetArchive(ctx context.Context, containerID, path string) (io.ReadCloser, error)
	PutArchive(ctx context.Context, containerID string, tarStream io.Reader, path string) error
}

// Service implements backup and restore against an object store and a
// container archiver.
type Service struct {
	store    ObjectStore
	archiver ContainerArchiver
}

// New wires a backup Service.
func New(store ObjectStore, archiver ContainerArchiver) *Service {
	return &Service{store: store, archiver: archiver}
}

func backupTarKey(userID, chatID string) string     { return fmt.Sprintf("%s/%s/source_backup.tar.gz", userID, chatID) }
func snapshotKey(userID, chatID string) string       { return fmt.Sprintf("%s/%s/source_snapshot.json.gz", userID, chatID) }

// Backup streams the workspace at workdir out of containerID, filters it,
// and writes both a filtered tar.gz and a JSON snapshot to object storage.
func (s *Service) Backup(ctx context.Context, userID, chatID, containerID, workdir string) error {
	raw, err := s.archiver.GetArchive(ctx, containerID, workdir)
	if err != nil {
		return fmt.Errorf("get workspace archive: %w", err)
	}
	defer raw.Close()

	tmpDir, err := os.MkdirTemp("", "forge-backup-*")
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	if err := moarchive.Untar(raw, tmpDir, &moarchive.TarOptions{NoLchown: true}); err != nil {
		return fmt.Errorf("extract workspace archive: %w", err)
	}

	root, err := singleTopLevelDir(tmpDir)
	if err != nil {
		return err
	}

	removed, err := filterTree(root)
	if err != nil {
		return fmt.Errorf("filter workspace tree: %w", err)
	}
	if removed > 0 {
		slog.Info("backup: filtered sensitive paths", "chat_id", chatID, "count", removed)
	}

	tarGz, err := moarchive.TarWithOptions(root, &moarchive.TarOptions{Compression: moarchive.Gzip, NoLchown: true})
	if err != nil {
		return fmt.Errorf("build backup archive: %w", err)
	}
	defer tarGz.Close()

	if err := s.store.Put(ctx, backupTarKey(userID, chatID), tarGz); err != nil {
		return fmt.Errorf("upload backup archive: %w", err)
	}

	doc, err := snapshot.Snapshot(ctx, &dirFileReader{root: root}, time.Now())
	if err != nil {
		return fmt.Errorf("build snapshot: %w", err)
	}
	encoded, err := snapshot.Encode(doc)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := s.store.Put(ctx, snapshotKey(userID, chatID), bytes.NewReader(encoded)); err != nil {
		return fmt.Errorf("upload snapshot: %w", err)
	}

	return nil
}

// Restore repopulates containerID's workspace at workdir for (userID,
// chatID). It prefers the JSON snapshot (fast path); if none exists, it
// falls back to the tar.gz backup. A NotFound from both is not an error —
// a brand-new chat has no prior workspace to restore.
func (s *Service) Restore(ctx context.Context, userID, chatID, containerID string) error {
	return s.restoreInto(ctx, userID, chatID, containerID, defaultWorkdir)
}

const defaultWorkdir = "/home/node/edward"

func (s *Service) restoreInto(ctx context.Context, userID, chatID, containerID, workdir string) error {
	if body, err := s.store.Get(ctx, snapshotKey(userID, chatID)); err == nil {
		defer body.Close()
		data, readErr := io.ReadAll(body)
		if readErr != nil {
			return fmt.Errorf("read snapshot: %w", readErr)
		}
		doc, decErr := snapshot.Decode(data)
		if decErr != nil {
			return fmt.Errorf("decode snapshot: %w", decErr)
		}
		return s.restoreFromSnapshot(ctx, containerID, workdir, doc)
	}

	body, err := s.store.Get(ctx, backupTarKey(userID, chatID))
	if err != nil {
		slog.Debug("restore: no prior backup found", "chat_id", chatID)
		return nil
	}
	defer body.Close()

	return s.restoreFromTarGz(ctx, containerID, workdir, body)
}

func (s *Service) restoreFromSnapshot(ctx context.Context, containerID, workdir string, doc *snapshot.Document) error {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for relPath, content := range doc.Files {
		if !isPathSafe(relPath) || isSensitive(relPath) {
			continue
		}
		hdr := &tar.Header{Name: relPath, Mode: 0644, Size: int64(len(content))}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("write tar header for %s: %w", relPath, err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			return fmt.Errorf("write tar body for %s: %w", relPath, err)
		}
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar writer: %w", err)
	}

	return s.archiver.PutArchive(ctx, containerID, &buf, workdir)
}

func (s *Service) restoreFromTarGz(ctx context.Context, containerID, workdir string, tarGz io.Reader) error {
	tmpDir, err := os.MkdirTemp("", "forge-restore-*")
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	if err := moarchive.Untar(tarGz, tmpDir, &moarchive.TarOptions{NoLchown: true}); err != nil {
		return fmt.Errorf("extract backup archive: %w", err)
	}

	root, err := singleTopLevelDir(tmpDir)
	if err != nil {
		return err
	}
	if _, err := filterTree(root); err != nil {
		return fmt.Errorf("filter restored tree: %w", err)
	}

	repacked, err := moarchive.TarWithOptions(root, &moarchive.TarOptions{NoLchown: true})
	if err != nil {
		return fmt.Errorf("repack restored tree: %w", err)
	}
	defer repacked.Close()

	return s.archiver.PutArchive(ctx, containerID, repacked, workdir)
}

// singleTopLevelDir returns the sole top-level entry of tmpDir, falling
// back to tmpDir itself — Docker's GetArchive response and our own
// TarWithOptions output both nest under one directory named for the source
// path's basename, which Restore needs to address directly so repacked
// tars land content flush with the target workdir (workdir-prefix strip).
func singleTopLevelDir(tmpDir string) (string, error) {
	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		return "", fmt.Errorf("read staging dir: %w", err)
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(tmpDir, entries[0].Name()), nil
	}
	return tmpDir, nil
}

// filterTree removes sensitive and path-unsafe entries from root in place,
// returning the number removed.
func filterTree(root string) (int, error) {
	removed := 0
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		if !isPathSafe(rel) || isSensitive(rel) {
			removed++
			if info.IsDir() {
				if rmErr := os.RemoveAll(p); rmErr != nil {
					return rmErr
				}
				return filepath.SkipDir
			}
			return os.Remove(p)
		}
		return nil
	})
	return removed, err
}

// dirFileReader adapts a filesystem directory to snapshot.FileReader so
// Backup can reuse the same selection logic the sandbox exposes over the
// gateway for ad hoc snapshots.
type dirFileReader struct {
	root string
}

func (d *dirFileReader) ListFiles(ctx context.Context) ([]string, error) {
	var out []string
	err := filepath.Walk(d.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(d.root, p)
		if relErr != nil {
			return relErr
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	return out, err
}

func (d *dirFileReader) ReadFile(ctx context.Context, relPath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(d.root, relPath))
}

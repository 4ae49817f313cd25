// Package backup creates and restores snapshots of the tracker data
// directory: profile documents, the profile index, model artifacts, and the
// game history database. Snapshots are gzipped tar archives, optionally
// encrypted with a password.
package backup

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver
)

const (
	plainSnapshotExt     = ".tar.gz"
	encryptedSnapshotExt = ".mhsnap"
)

// Manager handles snapshot and restore operations for a data directory.
type Manager struct {
	dataDir   string
	dbPath    string
	backupDir string
	logger    *zap.Logger

	now func() time.Time
}

// NewManager creates a backup manager. dbPath is the history database file
// inside dataDir; it is snapshotted through VACUUM INTO rather than a raw
// file copy so the archive never captures a mid-write database.
func NewManager(dataDir, dbPath, backupDir string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		dataDir:   dataDir,
		dbPath:    dbPath,
		backupDir: backupDir,
		logger:    logger,
		now:       time.Now,
	}
}

// SnapshotInfo contains information about a snapshot file.
type SnapshotInfo struct {
	Path      string
	Name      string
	Size      int64
	ModTime   time.Time
	Checksum  string
	Encrypted bool
}

// Snapshot archives the data directory into the backup directory and
// returns the snapshot path. A non-empty password produces an encrypted
// snapshot.
func (m *Manager) Snapshot(password string) (string, error) {
	if err := os.MkdirAll(m.backupDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	archive, err := m.buildArchive()
	if err != nil {
		return "", err
	}

	name := "snapshot_" + m.now().Format("20060102_150405")

	var snapshotPath string
	var payload []byte
	if password != "" {
		encrypted, err := EncryptData(archive, DefaultEncryptionConfig(password))
		if err != nil {
			return "", fmt.Errorf("failed to encrypt snapshot: %w", err)
		}
		payload = append([]byte(EncryptionMagicHeader), encrypted...)
		snapshotPath = filepath.Join(m.backupDir, name+encryptedSnapshotExt)
	} else {
		payload = archive
		snapshotPath = filepath.Join(m.backupDir, name+plainSnapshotExt)
	}

	if err := os.WriteFile(snapshotPath, payload, 0o600); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}

	m.logger.Info("snapshot created",
		zap.String("path", snapshotPath),
		zap.Int("bytes", len(payload)),
		zap.Bool("encrypted", password != ""))

	return snapshotPath, nil
}

// buildArchive produces a gzipped tar of the data directory. The history
// database is replaced by a consistent VACUUM INTO copy.
func (m *Manager) buildArchive() ([]byte, error) {
	stagedDB, cleanup, err := m.stageDatabase()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	walkErr := filepath.WalkDir(m.dataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".tmp") {
			return nil
		}

		rel, err := filepath.Rel(m.dataDir, path)
		if err != nil {
			return err
		}

		source := path
		if m.dbPath != "" && sameFile(path, m.dbPath) {
			if stagedDB == "" {
				return nil
			}
			source = stagedDB
		}

		return addFile(tw, source, filepath.ToSlash(rel))
	})
	if walkErr != nil {
		return nil, fmt.Errorf("failed to archive data directory: %w", walkErr)
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}

	return buf.Bytes(), nil
}

// stageDatabase copies the history database to a temp file using
// VACUUM INTO (atomic, no exclusive lock needed). Returns the staged path,
// or empty if there is no database yet.
func (m *Manager) stageDatabase() (string, func(), error) {
	noop := func() {}

	if m.dbPath == "" {
		return "", noop, nil
	}
	if _, err := os.Stat(m.dbPath); os.IsNotExist(err) {
		return "", noop, nil
	}

	stagingDir, err := os.MkdirTemp("", "manhunt-backup-*")
	if err != nil {
		return "", noop, fmt.Errorf("failed to create staging directory: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(stagingDir) }

	stagedPath := filepath.Join(stagingDir, filepath.Base(m.dbPath))

	db, err := sql.Open("sqlite", m.dbPath)
	if err != nil {
		cleanup()
		return "", noop, fmt.Errorf("failed to open history database: %w", err)
	}
	defer func() { _ = db.Close() }() //nolint:errcheck // Ignore error on cleanup

	if _, err := db.Exec(fmt.Sprintf("VACUUM INTO %q", stagedPath)); err != nil {
		cleanup()
		return "", noop, fmt.Errorf("failed to stage history database: %w", err)
	}

	return stagedPath, cleanup, nil
}

// Restore replaces the data directory contents with a snapshot. The current
// directory is renamed aside before extraction so a failed restore never
// destroys existing data.
func (m *Manager) Restore(snapshotPath, password string) error {
	data, err := os.ReadFile(snapshotPath)
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}

	if len(data) >= len(EncryptionMagicHeader) && string(data[:len(EncryptionMagicHeader)]) == EncryptionMagicHeader {
		if password == "" {
			return fmt.Errorf("snapshot is encrypted but no password provided")
		}
		data, err = DecryptData(data[len(EncryptionMagicHeader):], DefaultEncryptionConfig(password))
		if err != nil {
			return fmt.Errorf("failed to decrypt snapshot: %w", err)
		}
	}

	if _, err := os.Stat(m.dataDir); err == nil {
		asidePath := m.dataDir + ".old." + m.now().Format("20060102_150405")
		if err := os.Rename(m.dataDir, asidePath); err != nil {
			return fmt.Errorf("failed to set aside current data directory: %w", err)
		}
		m.logger.Info("previous data directory preserved", zap.String("path", asidePath))
	}

	if err := os.MkdirAll(m.dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	if err := extractArchive(data, m.dataDir); err != nil {
		return fmt.Errorf("failed to extract snapshot: %w", err)
	}

	m.logger.Info("snapshot restored",
		zap.String("snapshot", snapshotPath),
		zap.String("data_dir", m.dataDir))

	return nil
}

// List returns all snapshot files in the backup directory.
func (m *Manager) List() ([]SnapshotInfo, error) {
	if _, err := os.Stat(m.backupDir); os.IsNotExist(err) {
		return []SnapshotInfo{}, nil
	}

	entries, err := os.ReadDir(m.backupDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var snapshots []SnapshotInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		encrypted := strings.HasSuffix(name, encryptedSnapshotExt)
		if !encrypted && !strings.HasSuffix(name, plainSnapshotExt) {
			continue
		}

		path := filepath.Join(m.backupDir, name)
		info, err := entry.Info()
		if err != nil {
			continue
		}

		checksum, err := calculateChecksum(path)
		if err != nil {
			checksum = "unknown"
		}

		snapshots = append(snapshots, SnapshotInfo{
			Path:      path,
			Name:      name,
			Size:      info.Size(),
			ModTime:   info.ModTime(),
			Checksum:  checksum,
			Encrypted: encrypted,
		})
	}

	return snapshots, nil
}

func addFile(tw *tar.Writer, path, name string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = name

	if err := tw.WriteHeader(header); err != nil {
		return err
	}

	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }() //nolint:errcheck // Ignore error on cleanup

	_, err = io.Copy(tw, file)
	return err
}

func extractArchive(data []byte, destDir string) error {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("not a valid snapshot archive: %w", err)
	}
	defer func() { _ = gz.Close() }() //nolint:errcheck // Ignore error on cleanup

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		if header.Typeflag != tar.TypeReg {
			continue
		}

		// Reject entries that would escape the destination directory.
		target := filepath.Join(destDir, filepath.FromSlash(header.Name))
		if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry escapes destination: %s", header.Name)
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}

		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fs.FileMode(header.Mode)&0o777)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, tr); err != nil { //nolint:gosec // local snapshot, sizes bounded by archive
			_ = out.Close()
			return err
		}
		if err := out.Close(); err != nil {
			return err
		}
	}
}

func sameFile(a, b string) bool {
	aAbs, errA := filepath.Abs(a)
	bAbs, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return aAbs == bAbs
}

// calculateChecksum calculates the SHA-256 checksum of a file.
func calculateChecksum(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer func() { _ = file.Close() }() //nolint:errcheck // Ignore error on cleanup

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}

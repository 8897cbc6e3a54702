// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Noctua Health

// Package backup produces, verifies, retains, and restores database
// snapshots on a Grandfather-Father-Son rotation.
package backup

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noctua-health/somnia/internal/config"
	"github.com/noctua-health/somnia/internal/crypto"
	"github.com/noctua-health/somnia/internal/logger"
	"github.com/noctua-health/somnia/internal/store"
	"github.com/noctua-health/somnia/models"
)

// Snapshot and verification errors.
var (
	ErrBackupFailed    = errors.New("backup failed")
	ErrBackupNotFound  = errors.New("backup not found")
	ErrChecksumInvalid = errors.New("backup checksum mismatch")
)

// Service produces and manages snapshots of one connected store.
type Service struct {
	conn     store.Connection
	cfg      config.Backup
	meta     *MetadataStore
	cipher   *crypto.Service
	uploader Uploader
	logger   *logger.Logger
}

// NewService constructs the backup service. cipher may be nil when snapshot
// encryption is disabled; uploader may be nil when no cloud target is
// configured.
func NewService(conn store.Connection, cfg config.Backup, cipher *crypto.Service, uploader Uploader, log *logger.Logger) *Service {
	return &Service{
		conn:     conn,
		cfg:      cfg,
		meta:     NewMetadataStore(cfg.Dir),
		cipher:   cipher,
		uploader: uploader,
		logger:   log,
	}
}

// Metadata exposes the snapshot record store.
func (s *Service) Metadata() *MetadataStore { return s.meta }

// source returns the live store location snapshots are taken from.
func (s *Service) source() (string, error) {
	switch c := s.conn.(type) {
	case *store.SQLiteConnection:
		return c.Path(), nil
	case *store.PostgresConnection:
		return c.DSN(), nil
	default:
		return "", fmt.Errorf("%w: unsupported connection type", ErrBackupFailed)
	}
}

// Create takes one snapshot for the given tier and records its metadata.
// The snapshot is checksummed after all transforms, so Verify checks the
// file exactly as it sits on disk.
func (s *Service) Create(ctx context.Context, tier string) (*models.BackupMetadata, error) {
	source, err := s.source()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(s.cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("%w: creating backup directory: %v", ErrBackupFailed, err)
	}

	now := time.Now().UTC()
	id := uuid.NewString()
	path := filepath.Join(s.cfg.Dir, s.fileName(tier, now, id))

	switch s.conn.Type() {
	case config.EngineSQLite:
		err = s.snapshotSQLite(ctx, source, path)
	case config.EnginePostgres:
		err = s.snapshotPostgres(ctx, source, path)
	default:
		err = fmt.Errorf("%w: unknown engine %q", ErrBackupFailed, s.conn.Type())
	}
	if err != nil {
		os.Remove(path)
		return nil, err
	}

	compressed := false
	if s.cfg.Compress {
		if path, err = s.compressFile(path); err != nil {
			return nil, err
		}
		compressed = true
	}

	encrypted := false
	if s.cfg.Encrypt && s.cipher != nil {
		if path, err = s.encryptFile(path); err != nil {
			return nil, err
		}
		encrypted = true
	}

	checksum, size, err := fileChecksum(path)
	if err != nil {
		return nil, fmt.Errorf("%w: checksumming snapshot: %v", ErrBackupFailed, err)
	}

	retentionDays := s.retentionDays(tier)
	record := models.BackupMetadata{
		ID:            id,
		CreatedAt:     now,
		Engine:        s.conn.Type(),
		Source:        source,
		Path:          path,
		SizeBytes:     size,
		Checksum:      checksum,
		Encrypted:     encrypted,
		Compressed:    compressed,
		Tier:          tier,
		RetentionDays: retentionDays,
	}
	if retentionDays > 0 {
		record.ExpiresAt = now.AddDate(0, 0, retentionDays)
	}

	if s.uploader != nil {
		key := fmt.Sprintf("%s/%s", tier, filepath.Base(path))
		cloudKey, err := s.uploader.Upload(ctx, path, key)
		if err != nil {
			// Upload failure leaves a usable local snapshot; record it
			// without the cloud key and let the caller surface the alert.
			s.logger.Error().Err(err).Str("func", "Create").Msg("cloud upload failed")
		} else {
			record.CloudKey = cloudKey
		}
	}

	if err := s.meta.Add(record); err != nil {
		return nil, fmt.Errorf("%w: recording metadata: %v", ErrBackupFailed, err)
	}

	s.logger.Info().Str("func", "Create").
		Str("tier", tier).
		Str("path", path).
		Int64("size_bytes", size).
		Msg("snapshot created")
	return &record, nil
}

func (s *Service) fileName(tier string, now time.Time, id string) string {
	ext := ".db"
	if s.conn.Type() == config.EnginePostgres {
		ext = ".sql"
	}
	short := strings.SplitN(id, "-", 2)[0]
	return fmt.Sprintf("somnia-%s-%s-%s%s", tier, now.Format("20060102-150405"), short, ext)
}

// retentionDays returns the tier's retention window in days. A non-positive
// window means the tier's snapshots never expire.
func (s *Service) retentionDays(tier string) int {
	switch tier {
	case models.BackupTierDaily:
		return s.cfg.DailyRetentionDays
	case models.BackupTierWeekly:
		return s.cfg.WeeklyRetentionWeeks * 7
	case models.BackupTierMonthly:
		return s.cfg.MonthlyRetentionMonths * 30
	default:
		return s.cfg.MonthlyRetentionMonths * 30
	}
}

// snapshotSQLite checkpoints the WAL into the main file, then copies it.
// The checkpoint leaves the sidecar files empty, so a copy of the main file
// alone is a consistent snapshot.
func (s *Service) snapshotSQLite(ctx context.Context, source, dest string) error {
	if _, err := s.conn.Exec(ctx, "PRAGMA wal_checkpoint(TRUNCATE);"); err != nil {
		return fmt.Errorf("%w: checkpointing wal: %v", ErrBackupFailed, err)
	}
	if err := copyFile(source, dest); err != nil {
		return fmt.Errorf("%w: copying database file: %v", ErrBackupFailed, err)
	}
	return nil
}

// snapshotPostgres shells out to pg_dump with the connection string.
func (s *Service) snapshotPostgres(ctx context.Context, dsn, dest string) error {
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("%w: creating snapshot file: %v", ErrBackupFailed, err)
	}
	defer out.Close()

	cmd := exec.CommandContext(ctx, "pg_dump", "--no-owner", "--dbname", dsn)
	cmd.Stdout = out
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: pg_dump: %v: %s", ErrBackupFailed, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func (s *Service) compressFile(path string) (string, error) {
	gzPath := path + ".gz"

	in, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: opening snapshot: %v", ErrBackupFailed, err)
	}
	defer in.Close()

	out, err := os.Create(gzPath)
	if err != nil {
		return "", fmt.Errorf("%w: creating compressed snapshot: %v", ErrBackupFailed, err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		return "", fmt.Errorf("%w: compressing snapshot: %v", ErrBackupFailed, err)
	}
	if err := gz.Close(); err != nil {
		return "", fmt.Errorf("%w: finalizing compression: %v", ErrBackupFailed, err)
	}

	os.Remove(path)
	return gzPath, nil
}

func (s *Service) encryptFile(path string) (string, error) {
	encPath := path + ".enc"

	plaintext, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: reading snapshot: %v", ErrBackupFailed, err)
	}

	sealed, err := s.cipher.EncryptBytes(plaintext)
	if err != nil {
		return "", fmt.Errorf("%w: encrypting snapshot: %v", ErrBackupFailed, err)
	}

	if err := os.WriteFile(encPath, sealed, 0o640); err != nil {
		return "", fmt.Errorf("%w: writing encrypted snapshot: %v", ErrBackupFailed, err)
	}

	os.Remove(path)
	return encPath, nil
}

// Verify recomputes the snapshot's checksum and, for encrypted snapshots,
// confirms the payload still authenticates.
func (s *Service) Verify(ctx context.Context, id string) error {
	record, err := s.meta.Get(id)
	if err != nil {
		return ErrBackupNotFound
	}

	checksum, _, err := fileChecksum(record.Path)
	if err != nil {
		return fmt.Errorf("%w: reading snapshot: %v", ErrBackupFailed, err)
	}
	if checksum != record.Checksum {
		return ErrChecksumInvalid
	}

	if record.Encrypted && s.cipher != nil {
		sealed, err := os.ReadFile(record.Path)
		if err != nil {
			return fmt.Errorf("%w: reading snapshot: %v", ErrBackupFailed, err)
		}
		if _, err := s.cipher.DecryptBytes(sealed); err != nil {
			return fmt.Errorf("%w: %v", ErrChecksumInvalid, err)
		}
	}
	return nil
}

// Restore materializes the snapshot's plain content at destPath, reversing
// encryption and compression. It never touches the live store; pointing the
// engine at the restored file is a deliberate operator step.
func (s *Service) Restore(ctx context.Context, id, destPath string) error {
	record, err := s.meta.Get(id)
	if err != nil {
		return ErrBackupNotFound
	}

	if err := s.Verify(ctx, id); err != nil {
		return err
	}

	data, err := os.ReadFile(record.Path)
	if err != nil {
		return fmt.Errorf("%w: reading snapshot: %v", ErrBackupFailed, err)
	}

	if record.Encrypted {
		if s.cipher == nil {
			return fmt.Errorf("%w: snapshot is encrypted and no key is configured", ErrBackupFailed)
		}
		if data, err = s.cipher.DecryptBytes(data); err != nil {
			return fmt.Errorf("%w: decrypting snapshot: %v", ErrBackupFailed, err)
		}
	}

	if record.Compressed {
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("%w: decompressing snapshot: %v", ErrBackupFailed, err)
		}
		if data, err = io.ReadAll(gz); err != nil {
			return fmt.Errorf("%w: decompressing snapshot: %v", ErrBackupFailed, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o750); err != nil {
		return fmt.Errorf("%w: creating restore directory: %v", ErrBackupFailed, err)
	}
	if err := os.WriteFile(destPath, data, 0o640); err != nil {
		return fmt.Errorf("%w: writing restored file: %v", ErrBackupFailed, err)
	}

	s.logger.Info().Str("func", "Restore").
		Str("id", id).
		Str("dest", destPath).
		Msg("snapshot restored")
	return nil
}

// CleanupOldBackups removes expired snapshots and, past the MaxBackups cap,
// the oldest remaining ones. Returns how many snapshots were deleted.
func (s *Service) CleanupOldBackups(ctx context.Context) (int, error) {
	records, err := s.meta.List()
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	var removed []string

	kept := records[:0]
	for _, record := range records {
		if record.Expired(now) {
			removed = append(removed, record.ID)
			s.removeFile(record)
			continue
		}
		kept = append(kept, record)
	}

	if s.cfg.MaxBackups > 0 && len(kept) > s.cfg.MaxBackups {
		// List is newest-first; everything past the cap is oldest.
		sort.Slice(kept, func(i, j int) bool { return kept[i].CreatedAt.After(kept[j].CreatedAt) })
		for _, record := range kept[s.cfg.MaxBackups:] {
			removed = append(removed, record.ID)
			s.removeFile(record)
		}
	}

	if len(removed) == 0 {
		return 0, nil
	}
	if err := s.meta.Remove(removed...); err != nil {
		return 0, err
	}

	s.logger.Info().Str("func", "CleanupOldBackups").
		Int("removed", len(removed)).
		Msg("retention sweep complete")
	return len(removed), nil
}

func (s *Service) removeFile(record models.BackupMetadata) {
	if err := os.Remove(record.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn().Err(err).
			Str("func", "removeFile").
			Str("path", record.Path).
			Msg("removing expired snapshot")
	}
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

func fileChecksum(path string) (string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer file.Close()

	hash := sha256.New()
	size, err := io.Copy(hash, file)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(hash.Sum(nil)), size, nil
}

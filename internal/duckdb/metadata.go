package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"time"
)

// FileFingerprint holds stat-based identity for a file.
type FileFingerprint struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// StatFile creates a FileFingerprint from an on-disk file.
func StatFile(path string) (FileFingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileFingerprint{}, err
	}
	return FileFingerprint{
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// Matches reports whether two fingerprints describe the same file contents.
func (f FileFingerprint) Matches(other FileFingerprint) bool {
	return f.Path == other.Path && f.Size == other.Size && f.ModTime.Equal(other.ModTime)
}

// SetSourceFingerprint records the YAML file the stored knowledge base was
// converted from.
func (s *Store) SetSourceFingerprint(fp FileFingerprint) error {
	return setMetadata(context.Background(), s.db, map[string]string{
		"source_path":  fp.Path,
		"source_size":  strconv.FormatInt(fp.Size, 10),
		"source_mtime": strconv.FormatInt(fp.ModTime.UnixNano(), 10),
	})
}

// SourceFingerprint returns the recorded source fingerprint, if any.
func (s *Store) SourceFingerprint() (FileFingerprint, bool, error) {
	meta, err := s.metadata()
	if err != nil {
		return FileFingerprint{}, false, err
	}
	path, ok := meta["source_path"]
	if !ok {
		return FileFingerprint{}, false, nil
	}
	size, err := strconv.ParseInt(meta["source_size"], 10, 64)
	if err != nil {
		return FileFingerprint{}, false, fmt.Errorf("parse source_size: %w", err)
	}
	mtime, err := strconv.ParseInt(meta["source_mtime"], 10, 64)
	if err != nil {
		return FileFingerprint{}, false, fmt.Errorf("parse source_mtime: %w", err)
	}
	return FileFingerprint{Path: path, Size: size, ModTime: time.Unix(0, mtime)}, true, nil
}

// IsCurrent reports whether the stored knowledge base was converted from the
// file described by fp.
func (s *Store) IsCurrent(fp FileFingerprint) (bool, error) {
	stored, ok, err := s.SourceFingerprint()
	if err != nil || !ok {
		return false, err
	}
	return stored.Matches(fp), nil
}

// execer is satisfied by *sql.DB and *sql.Conn.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func setMetadata(ctx context.Context, db execer, kv map[string]string) error {
	for k, v := range kv {
		if _, err := db.ExecContext(ctx, `INSERT OR REPLACE INTO kb_metadata (key, value) VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("set metadata %s: %w", k, err)
		}
	}
	return nil
}

func (s *Store) metadata() (map[string]string, error) {
	out := make(map[string]string)
	err := s.query(`SELECT key, value FROM kb_metadata`, func(rows *sql.Rows) error {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return err
		}
		out[k] = v
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	return out, nil
}

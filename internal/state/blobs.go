package state

import (
	"context"
	"crypto"
	_ "crypto/sha256"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/grailbio/base/digest"

	"github.com/ShayCichocki/cactuscall/internal/workflow"
)

var blobDigester = digest.Digester(crypto.SHA256)

// BlobStore is a content-addressed file store backed by the blobs table.
// Identical content is stored once.
type BlobStore struct {
	db *DB
}

// Blobs returns the blob store of db.
func (db *DB) Blobs() *BlobStore {
	return &BlobStore{db: db}
}

// WriteGlobalFile stores the contents of localPath and returns its id.
func (s *BlobStore) WriteGlobalFile(ctx context.Context, localPath string) (workflow.FileID, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", localPath, err)
	}
	return s.Put(ctx, data)
}

// Put stores data and returns its id.
func (s *BlobStore) Put(_ context.Context, data []byte) (workflow.FileID, error) {
	id := workflow.FileID(blobDigester.FromBytes(data).Hex())
	_, err := s.db.Exec(`
		INSERT INTO blobs (id, size, data, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, string(id), len(data), data, formatTime(time.Now()))
	if err != nil {
		return "", fmt.Errorf("store blob: %w", err)
	}
	return id, nil
}

// ReadGlobalFile writes the content of id to localPath.
func (s *BlobStore) ReadGlobalFile(_ context.Context, id workflow.FileID, localPath string) error {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM blobs WHERE id = ?`, string(id)).Scan(&data)
	if err == sql.ErrNoRows {
		return fmt.Errorf("blob %s: %w", id, os.ErrNotExist)
	}
	if err != nil {
		return fmt.Errorf("read blob %s: %w", id, err)
	}
	if err := os.WriteFile(localPath, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", localPath, err)
	}
	return nil
}

// Size returns the size in bytes of id.
func (s *BlobStore) Size(_ context.Context, id workflow.FileID) (int64, error) {
	var size int64
	err := s.db.QueryRow(`SELECT size FROM blobs WHERE id = ?`, string(id)).Scan(&size)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("blob %s: %w", id, os.ErrNotExist)
	}
	if err != nil {
		return 0, fmt.Errorf("size of blob %s: %w", id, err)
	}
	return size, nil
}

// Package services implements higher-level business logic that coordinates
// across repositories and external systems. The letter archiver, for example,
// orchestrates sealing a finalized letter, writing an immutable copy to the
// configured storage backend, and recording the archive key on the letter row.
package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/readmystudent/readmystudent/internal/crypto"
	"github.com/readmystudent/readmystudent/internal/db/models"
	"github.com/readmystudent/readmystudent/internal/storage"
)

// LetterStore is the slice of the request repository the archiver needs.
type LetterStore interface {
	MarkLetterFinalized(ctx context.Context, requestID string, archiveKey *string, finalizedAt time.Time) error
}

// LetterArchiver writes finalized letters to the archive backend. Letters are
// sealed with the configured cipher before upload, so the backend only ever
// holds ciphertext. A nil backend disables archival: finalization still
// succeeds, the letter just has no immutable copy outside the database.
type LetterArchiver struct {
	backend storage.Storage
	cipher  *crypto.LetterCipher
	store   LetterStore
}

// NewLetterArchiver creates a letter archiver. backend may be nil.
func NewLetterArchiver(backend storage.Storage, cipher *crypto.LetterCipher, store LetterStore) *LetterArchiver {
	return &LetterArchiver{backend: backend, cipher: cipher, store: store}
}

// archiveKey builds the storage path for a letter's immutable copy.
func archiveKey(letter *models.RecommendationLetter) string {
	return fmt.Sprintf("letters/%s/%s.enc", letter.RequestID, letter.ID)
}

// Finalize seals the letter body, uploads the archive copy, and stamps the
// letter row with the archive key and finalization time. When no backend is
// configured the row is stamped with a nil key. The archive write happens
// before the database stamp so a crash between the two leaves an orphaned
// object rather than a finalized letter with a dangling key.
func (a *LetterArchiver) Finalize(ctx context.Context, letter *models.RecommendationLetter, now time.Time) error {
	var key *string

	if a.backend != nil {
		sealed, err := a.cipher.Seal(letter.Body)
		if err != nil {
			return fmt.Errorf("seal letter %s: %w", letter.ID, err)
		}

		path := archiveKey(letter)
		result, err := a.backend.Upload(ctx, path, strings.NewReader(sealed), int64(len(sealed)))
		if err != nil {
			return fmt.Errorf("archive letter %s: %w", letter.ID, err)
		}
		slog.Info("letter archived",
			"letter_id", letter.ID,
			"request_id", letter.RequestID,
			"archive_key", result.Path,
			"size", result.Size)
		key = &result.Path
	}

	if err := a.store.MarkLetterFinalized(ctx, letter.RequestID, key, now); err != nil {
		return fmt.Errorf("stamp letter %s finalized: %w", letter.ID, err)
	}

	letter.ArchiveKey = key
	letter.FinalizedAt = &now
	return nil
}

// Retrieve downloads an archived letter and returns the decrypted body.
func (a *LetterArchiver) Retrieve(ctx context.Context, key string) (string, error) {
	if a.backend == nil {
		return "", fmt.Errorf("no archive backend configured")
	}

	rc, err := a.backend.Download(ctx, key)
	if err != nil {
		return "", fmt.Errorf("download archive %s: %w", key, err)
	}
	defer rc.Close()

	sealed, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("read archive %s: %w", key, err)
	}

	body, err := a.cipher.Open(string(sealed))
	if err != nil {
		return "", fmt.Errorf("open archive %s: %w", key, err)
	}
	return body, nil
}

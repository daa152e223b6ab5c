// Package content keeps the latest rendered preview body of each document in
// the configured blob backend. Bodies of documents whose sensitivity policy
// requires encryption are sealed with AES-256-GCM, bound to the document id.
package content

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/docshield/docshield/internal/crypto"
	"github.com/docshield/docshield/internal/db/models"
	"github.com/docshield/docshield/internal/policy"
	"github.com/docshield/docshield/internal/storage"
)

// MaxBodyBytes caps a single preview body.
const MaxBodyBytes = 32 << 20

var (
	// ErrNoContent is returned when a document has no uploaded body, or the
	// recorded blob no longer exists.
	ErrNoContent = errors.New("document has no preview content")
	// ErrEncryptionUnavailable is returned when a policy requires encryption
	// but no ENCRYPTION_KEY is configured.
	ErrEncryptionUnavailable = errors.New("content encryption required but no encryption key is configured")
	// ErrBodyTooLarge is returned for bodies over MaxBodyBytes.
	ErrBodyTooLarge = errors.New("preview body exceeds maximum size")
)

// Stored describes a body written by Save.
type Stored struct {
	Key         string
	ContentType string
	Encrypted   bool
	Size        int64
	Checksum    string
}

// Store reads and writes preview bodies.
type Store struct {
	backend  storage.Storage
	cipher   *crypto.Cipher
	policies *policy.Engine
}

// NewStore creates a content store. cipher may be nil when no key is
// configured; saving content for a policy that requires encryption then fails.
func NewStore(backend storage.Storage, cipher *crypto.Cipher, policies *policy.Engine) *Store {
	return &Store{backend: backend, cipher: cipher, policies: policies}
}

// Save writes body under a fresh key. The caller records the returned key on
// the document and removes the previous blob with Delete.
func (s *Store) Save(ctx context.Context, doc *models.Document, body []byte, contentType string) (*Stored, error) {
	if len(body) > MaxBodyBytes {
		return nil, ErrBodyTooLarge
	}

	payload := body
	encrypted := s.policies.PolicyFor(doc.Sensitivity).EncryptionRequired
	if encrypted {
		if s.cipher == nil {
			return nil, ErrEncryptionUnavailable
		}
		sealed, err := s.cipher.Seal(body, []byte(doc.ID))
		if err != nil {
			return nil, fmt.Errorf("failed to seal preview body: %w", err)
		}
		payload = sealed
	}

	key := fmt.Sprintf("previews/%s/%s", doc.ID, uuid.New().String())
	res, err := s.backend.Upload(ctx, key, bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return nil, fmt.Errorf("failed to store preview body: %w", err)
	}

	return &Stored{
		Key:         key,
		ContentType: contentType,
		Encrypted:   encrypted,
		Size:        int64(len(body)),
		Checksum:    res.Checksum,
	}, nil
}

// Load returns the plaintext body and content type of doc.
func (s *Store) Load(ctx context.Context, doc *models.Document) ([]byte, string, error) {
	if !doc.HasContent() {
		return nil, "", ErrNoContent
	}

	rc, err := s.backend.Download(ctx, *doc.ContentKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, "", ErrNoContent
		}
		return nil, "", fmt.Errorf("failed to fetch preview body: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, MaxBodyBytes+1024))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read preview body: %w", err)
	}

	if doc.ContentEncrypted {
		if s.cipher == nil {
			return nil, "", ErrEncryptionUnavailable
		}
		data, err = s.cipher.Open(data, []byte(doc.ID))
		if err != nil {
			return nil, "", fmt.Errorf("failed to open preview body: %w", err)
		}
	}

	contentType := doc.ContentType
	if contentType == "" {
		contentType = "text/html; charset=utf-8"
	}
	return data, contentType, nil
}

// NeedsReseal reports whether doc holds plaintext content although its
// current policy requires encryption, as happens after a sensitivity change.
func (s *Store) NeedsReseal(doc *models.Document) bool {
	return doc.HasContent() && !doc.ContentEncrypted &&
		s.policies.PolicyFor(doc.Sensitivity).EncryptionRequired
}

// Reseal rewrites plaintext content under the current policy. It returns nil
// when nothing needed to change.
func (s *Store) Reseal(ctx context.Context, doc *models.Document) (*Stored, error) {
	if !s.NeedsReseal(doc) {
		return nil, nil
	}
	body, contentType, err := s.Load(ctx, doc)
	if err != nil {
		return nil, err
	}
	return s.Save(ctx, doc, body, contentType)
}

// Delete removes a blob. Missing blobs are ignored.
func (s *Store) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	if err := s.backend.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to delete preview body: %w", err)
	}
	return nil
}

package content

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docshield/docshield/internal/crypto"
	"github.com/docshield/docshield/internal/db/models"
	"github.com/docshield/docshield/internal/policy"
	"github.com/docshield/docshield/internal/storage"
)

type memBackend struct {
	mu      sync.Mutex
	objects map[string][]byte
	failPut error
}

func newMemBackend() *memBackend {
	return &memBackend{objects: map[string][]byte{}}
}

func (m *memBackend) Upload(_ context.Context, path string, r io.Reader, _ int64) (*storage.UploadResult, error) {
	if m.failPut != nil {
		return nil, m.failPut
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = data
	return &storage.UploadResult{Path: path, Size: int64(len(data)), Checksum: "sum"}, nil
}

func (m *memBackend) Download(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[path]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memBackend) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, path)
	return nil
}

func (m *memBackend) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok, nil
}

func newTestCipher(t *testing.T) *crypto.Cipher {
	t.Helper()
	c, err := crypto.NewCipher(bytes.Repeat([]byte("k"), 32))
	require.NoError(t, err)
	return c
}

func newDoc(s policy.Sensitivity) *models.Document {
	return &models.Document{ID: "doc-1", Collection: "reports", Slug: "q3", Sensitivity: s}
}

func record(doc *models.Document, st *Stored) {
	doc.ContentKey = &st.Key
	doc.ContentType = st.ContentType
	doc.ContentEncrypted = st.Encrypted
}

func TestSaveLoad_NormalIsPlaintext(t *testing.T) {
	backend := newMemBackend()
	s := NewStore(backend, nil, policy.NewEngine(policy.DefaultTable()))
	doc := newDoc(policy.Normal)

	st, err := s.Save(context.Background(), doc, []byte("<p>hi</p>"), "text/html")
	require.NoError(t, err)
	assert.False(t, st.Encrypted)
	assert.True(t, strings.HasPrefix(st.Key, "previews/doc-1/"))
	assert.Equal(t, []byte("<p>hi</p>"), backend.objects[st.Key])

	record(doc, st)
	body, ct, err := s.Load(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, "<p>hi</p>", string(body))
	assert.Equal(t, "text/html", ct)
}

func TestSaveLoad_ConfidentialIsSealed(t *testing.T) {
	backend := newMemBackend()
	s := NewStore(backend, newTestCipher(t), policy.NewEngine(policy.DefaultTable()))
	doc := newDoc(policy.Confidential)

	st, err := s.Save(context.Background(), doc, []byte("secret numbers"), "text/plain")
	require.NoError(t, err)
	assert.True(t, st.Encrypted)
	assert.NotContains(t, string(backend.objects[st.Key]), "secret numbers")

	record(doc, st)
	body, _, err := s.Load(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, "secret numbers", string(body))
}

func TestLoad_SealedBlobBoundToDocument(t *testing.T) {
	backend := newMemBackend()
	s := NewStore(backend, newTestCipher(t), policy.NewEngine(policy.DefaultTable()))
	doc := newDoc(policy.Embargoed)

	st, err := s.Save(context.Background(), doc, []byte("embargoed"), "text/plain")
	require.NoError(t, err)

	other := newDoc(policy.Embargoed)
	other.ID = "doc-2"
	record(other, st)
	_, _, err = s.Load(context.Background(), other)
	assert.ErrorIs(t, err, crypto.ErrDecryptionFailed)
}

func TestSave_EncryptionRequiredWithoutKey(t *testing.T) {
	s := NewStore(newMemBackend(), nil, policy.NewEngine(policy.DefaultTable()))

	_, err := s.Save(context.Background(), newDoc(policy.Confidential), []byte("x"), "text/plain")
	assert.ErrorIs(t, err, ErrEncryptionUnavailable)
}

func TestSave_TooLarge(t *testing.T) {
	s := NewStore(newMemBackend(), nil, policy.NewEngine(policy.DefaultTable()))

	_, err := s.Save(context.Background(), newDoc(policy.Normal), make([]byte, MaxBodyBytes+1), "text/plain")
	assert.ErrorIs(t, err, ErrBodyTooLarge)
}

func TestSave_BackendError(t *testing.T) {
	backend := newMemBackend()
	backend.failPut = errors.New("bucket unavailable")
	s := NewStore(backend, nil, policy.NewEngine(policy.DefaultTable()))

	_, err := s.Save(context.Background(), newDoc(policy.Normal), []byte("x"), "text/plain")
	assert.ErrorIs(t, err, backend.failPut)
}

func TestLoad_NoContent(t *testing.T) {
	s := NewStore(newMemBackend(), nil, policy.NewEngine(policy.DefaultTable()))

	_, _, err := s.Load(context.Background(), newDoc(policy.Normal))
	assert.ErrorIs(t, err, ErrNoContent)

	doc := newDoc(policy.Normal)
	missing := "previews/doc-1/gone"
	doc.ContentKey = &missing
	_, _, err = s.Load(context.Background(), doc)
	assert.ErrorIs(t, err, ErrNoContent)
}

func TestLoad_DefaultContentType(t *testing.T) {
	backend := newMemBackend()
	s := NewStore(backend, nil, policy.NewEngine(policy.DefaultTable()))
	doc := newDoc(policy.Normal)

	st, err := s.Save(context.Background(), doc, []byte("x"), "")
	require.NoError(t, err)
	record(doc, st)

	_, ct, err := s.Load(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, "text/html; charset=utf-8", ct)
}

func TestReseal_AfterEscalation(t *testing.T) {
	backend := newMemBackend()
	s := NewStore(backend, newTestCipher(t), policy.NewEngine(policy.DefaultTable()))
	doc := newDoc(policy.Normal)

	st, err := s.Save(context.Background(), doc, []byte("draft"), "text/plain")
	require.NoError(t, err)
	record(doc, st)

	resealed, err := s.Reseal(context.Background(), doc)
	require.NoError(t, err)
	assert.Nil(t, resealed, "normal content needs no reseal")

	doc.Sensitivity = policy.Confidential
	require.True(t, s.NeedsReseal(doc))

	resealed, err = s.Reseal(context.Background(), doc)
	require.NoError(t, err)
	require.NotNil(t, resealed)
	assert.True(t, resealed.Encrypted)
	assert.NotEqual(t, st.Key, resealed.Key)

	record(doc, resealed)
	body, _, err := s.Load(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, "draft", string(body))
}

func TestDelete(t *testing.T) {
	backend := newMemBackend()
	s := NewStore(backend, nil, policy.NewEngine(policy.DefaultTable()))
	backend.objects["k"] = []byte("x")

	require.NoError(t, s.Delete(context.Background(), "k"))
	require.NoError(t, s.Delete(context.Background(), ""))
	_, ok := backend.objects["k"]
	assert.False(t, ok)
}

// Package checksum provides the hashing primitives used to make the audit log
// tamper-evident and to fingerprint stored preview bodies.
//
// Audit entries are hashed over a canonical JSON form: object keys sorted at
// every depth, numbers kept as their literal text, no HTML escaping and no
// insignificant whitespace. Two structurally equal inputs always produce the
// same digest regardless of map iteration order or how the values were built.
package checksum

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
)

// Canonicalize renders v as canonical JSON. v may be any value encoding/json
// can marshal, including json.RawMessage fragments, which are re-encoded so
// that their key order and spacing no longer matter.
func Canonicalize(v interface{}) ([]byte, error) {
	raw, err := marshalNoEscape(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}

	// encoding/json writes map keys in sorted order, and json.Number values
	// are emitted verbatim.
	out, err := marshalNoEscape(generic)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode value: %w", err)
	}
	return out, nil
}

// Sum returns the lowercase hex SHA-256 of the canonical form of v.
func Sum(v interface{}) (string, error) {
	canonical, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	digest := sha256.Sum256(canonical)
	return hex.EncodeToString(digest[:]), nil
}

// Compute is Sum for inputs the caller built itself. A value that cannot be
// serialized is a programming error, so Compute panics instead of returning it.
func Compute(fields map[string]interface{}) string {
	sum, err := Sum(fields)
	if err != nil {
		panic(fmt.Sprintf("checksum: %v", err))
	}
	return sum
}

// CalculateSHA256 calculates the SHA256 checksum of data from a reader
func CalculateSHA256(reader io.Reader) (string, error) {
	hasher := sha256.New()

	if _, err := io.Copy(hasher, reader); err != nil {
		return "", fmt.Errorf("failed to calculate checksum: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// VerifySHA256 verifies that the checksum of data matches the expected checksum
func VerifySHA256(reader io.Reader, expectedChecksum string) (bool, error) {
	actualChecksum, err := CalculateSHA256(reader)
	if err != nil {
		return false, err
	}

	return actualChecksum == expectedChecksum, nil
}

func marshalNoEscape(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

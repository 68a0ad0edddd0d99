package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed hashing. The version suffix allows
// future algorithm migration without colliding with old hashes.
const (
	DomainSchema   = "manifest/schema/v1"
	DomainEnvelope = "manifest/envelope/v1"
)

// hashWithDomain computes SHA-256 over domain + 0x00 + data. The null byte
// separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// SchemaHash computes the content hash of a compiled schema from its
// canonical JSON form. Identical source always compiles to the same hash,
// which is what makes IR cacheable and test fixtures reproducible.
//
// The Hash field itself is excluded from the hashed bytes.
func SchemaHash(s *Schema) (string, error) {
	data, err := MarshalCanonical(s.canonicalMap())
	if err != nil {
		return "", fmt.Errorf("schema hash: %w", err)
	}
	return hashWithDomain(DomainSchema, data), nil
}

// CanonicalSchema returns the canonical JSON bytes of a schema, the form
// compared in determinism tests and golden files.
func CanonicalSchema(s *Schema) ([]byte, error) {
	return MarshalCanonical(s.canonicalMap())
}

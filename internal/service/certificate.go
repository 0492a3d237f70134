package service

import (
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

const certificateDomain = "greencredits/certificate/v1\x00"

// CertificateIssuer derives certificate hashes from transfer ids with a keyed
// BLAKE2b-256. The same transfer id always yields the same certificate.
type CertificateIssuer struct {
	key []byte
}

func NewCertificateIssuer(secret string) (*CertificateIssuer, error) {
	if secret == "" {
		return nil, errors.New("certificate secret is required")
	}

	key := []byte(secret)
	if len(key) > blake2b.Size {
		sum := blake2b.Sum512(key)
		key = sum[:]
	}

	return &CertificateIssuer{key: key}, nil
}

func (c *CertificateIssuer) Issue(transferID string) (string, error) {
	if transferID == "" {
		return "", errors.New("empty transfer id")
	}

	h, err := blake2b.New256(c.key)
	if err != nil {
		return "", fmt.Errorf("init hash: %w", err)
	}
	h.Write([]byte(certificateDomain))
	h.Write([]byte(transferID))

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Package signer abstracts the asymmetric/symmetric signing backends used
// to sign and verify audit chain hashes and multisig approvals. Backends are
// interchangeable behind the Signer interface so the audit chain and
// multisig controller never depend on a specific key-management system.
package signer

import (
	"context"
	"errors"
)

// ErrUnhealthy is returned by Probe when a backend cannot currently serve
// sign/verify requests.
var ErrUnhealthy = errors.New("signer backend unhealthy")

// Algorithm identifies how a signature over a digest was produced.
type Algorithm string

const (
	AlgorithmHMACSHA256 Algorithm = "hmac-sha256"
	AlgorithmRSASHA256  Algorithm = "rsa-sha256"
	AlgorithmEd25519    Algorithm = "ed25519"
)

// Signer signs and verifies 32-byte digests and reports its own readiness.
type Signer interface {
	// Kid returns the key id this backend signs with.
	Kid() string
	// Algorithm reports the signing algorithm.
	Algorithm() Algorithm
	// Backend names the concrete implementation (kms, signing-proxy, local-dev).
	Backend() string
	// Sign signs a 32-byte digest, returning the raw signature bytes.
	Sign(ctx context.Context, digest [32]byte) (signature []byte, kid string, err error)
	// Verify checks signature against digest for the given kid.
	Verify(ctx context.Context, kid string, digest [32]byte, signature []byte) (bool, error)
	// Probe reports whether the backend is currently able to sign/verify.
	Probe(ctx context.Context) error
}

// PublicKeyInfo describes a registered signer's advertised public material.
// Nothing in this repository builds or reads it; multisig approval
// signatures are verified through Registry.Verify, which calls the backend.
type PublicKeyInfo struct {
	Kid       string
	Algorithm Algorithm
	Backend   string
	PublicKey []byte // absent for symmetric backends
}

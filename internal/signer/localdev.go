package signer

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"fmt"

	"github.com/sentineltrust/controlplane/internal/config"
)

// LocalDevSigner signs with a static symmetric HMAC key. It must never load
// in production — NewLocalDevSigner enforces that at construction time so
// the refusal happens at startup, not on the first sign call.
type LocalDevSigner struct {
	key []byte
	kid string
}

func NewLocalDevSigner(env config.Environment, key []byte, kid string) (*LocalDevSigner, error) {
	if env == config.Production {
		return nil, fmt.Errorf("local-dev signer refuses to load in production")
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("local-dev signer requires a non-empty key")
	}
	if kid == "" {
		kid = "local-dev"
	}
	return &LocalDevSigner{key: key, kid: kid}, nil
}

func (s *LocalDevSigner) Kid() string          { return s.kid }
func (s *LocalDevSigner) Algorithm() Algorithm { return AlgorithmHMACSHA256 }
func (s *LocalDevSigner) Backend() string      { return "local-dev" }

func (s *LocalDevSigner) Sign(ctx context.Context, digest [32]byte) ([]byte, string, error) {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(digest[:])
	return mac.Sum(nil), s.kid, nil
}

func (s *LocalDevSigner) Verify(ctx context.Context, kid string, digest [32]byte, signature []byte) (bool, error) {
	if kid != s.kid {
		return false, nil
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write(digest[:])
	expected := mac.Sum(nil)
	return hmac.Equal(expected, signature), nil
}

func (s *LocalDevSigner) Probe(ctx context.Context) error { return nil }

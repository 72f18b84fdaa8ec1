package signer

import (
	"context"
	"fmt"
	"sync"

	"github.com/sentineltrust/controlplane/internal/config"
	"github.com/sentineltrust/controlplane/internal/metrics"
)

// Registry holds every registered Signer backend, keyed by kid, and
// resolves signing/verification calls against them. It is the sole entry
// point the audit chain and multisig controller use to reach a backend.
type Registry struct {
	mu      sync.RWMutex
	signers map[string]Signer
	primary string
	metrics *metrics.Metrics
}

func NewRegistry(m *metrics.Metrics) *Registry {
	return &Registry{signers: make(map[string]Signer), metrics: m}
}

// Register adds a backend to the registry. The first asymmetric backend
// registered becomes primary (used for new signatures); until one is
// registered, the first backend registered is primary. Registry has no
// method that removes a registered signer.
func (r *Registry) Register(s Signer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signers[s.Kid()] = s
	if r.primary == "" || (s.Algorithm() != AlgorithmHMACSHA256 && r.signers[r.primary].Algorithm() == AlgorithmHMACSHA256) {
		r.primary = s.Kid()
	}
}

// Primary returns the signer used for new Sign calls.
func (r *Registry) Primary() (Signer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.primary == "" {
		return nil, fmt.Errorf("no signer backend registered")
	}
	return r.signers[r.primary], nil
}

// ByKid resolves a signer by kid, used to verify a signature produced by a
// possibly-rotated key.
func (r *Registry) ByKid(kid string) (Signer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.signers[kid]
	return s, ok
}

// Sign signs digest with the primary backend.
func (r *Registry) Sign(ctx context.Context, digest [32]byte) (signature []byte, kid string, err error) {
	s, err := r.Primary()
	if err != nil {
		return nil, "", err
	}
	sig, kid, err := s.Sign(ctx, digest)
	status := "ok"
	if err != nil {
		status = "error"
	}
	if r.metrics != nil {
		r.metrics.RecordSignerOperation(s.Backend(), "sign", status)
	}
	return sig, kid, err
}

// Verify verifies signature against digest using the backend registered
// under kid.
func (r *Registry) Verify(ctx context.Context, kid string, digest [32]byte, signature []byte) (bool, error) {
	s, ok := r.ByKid(kid)
	if !ok {
		return false, fmt.Errorf("unknown signer kid %q", kid)
	}
	valid, err := s.Verify(ctx, kid, digest, signature)
	status := "ok"
	if err != nil {
		status = "error"
	}
	if r.metrics != nil {
		r.metrics.RecordSignerOperation(s.Backend(), "verify", status)
	}
	return valid, err
}

// ReadinessReport describes which backends are currently reachable.
type ReadinessReport struct {
	Ready    bool
	Backends map[string]error // nil error == healthy
}

// Probe checks every registered backend and records signer_ready gauges.
func (r *Registry) Probe(ctx context.Context) ReadinessReport {
	r.mu.RLock()
	signers := make([]Signer, 0, len(r.signers))
	for _, s := range r.signers {
		signers = append(signers, s)
	}
	r.mu.RUnlock()

	report := ReadinessReport{Ready: false, Backends: make(map[string]error, len(signers))}
	for _, s := range signers {
		err := s.Probe(ctx)
		report.Backends[s.Backend()] = err
		if err == nil {
			report.Ready = true
		}
		if r.metrics != nil {
			r.metrics.SetSignerReady(s.Backend(), err == nil)
		}
	}
	return report
}

// RequireAsymmetricBackend enforces the startup guard: when requireKMS or
// env is production, at least one non-HMAC backend must pass Probe, or the
// caller should exit non-zero.
func (r *Registry) RequireAsymmetricBackend(ctx context.Context, env config.Environment, requireKMS bool) error {
	if !requireKMS && env != config.Production {
		return nil
	}

	r.mu.RLock()
	signers := make([]Signer, 0, len(r.signers))
	for _, s := range r.signers {
		signers = append(signers, s)
	}
	r.mu.RUnlock()

	for _, s := range signers {
		if s.Algorithm() == AlgorithmHMACSHA256 {
			continue
		}
		if err := s.Probe(ctx); err == nil {
			return nil
		}
	}
	return fmt.Errorf("startup guard: no asymmetric signer backend passed its readiness probe")
}

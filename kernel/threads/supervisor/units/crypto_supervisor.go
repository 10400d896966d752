package units

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/inos-labs/smcc/kernel/threads/foundation"
	"github.com/inos-labs/smcc/kernel/threads/supervisor"
	"github.com/minio/sha256-simd"
)

// CryptoSupervisor is the in-process capability stand-in for the
// "crypto" domain (spec §10): it proves out capability dispatch and
// delegation. Per the spec's Non-goal "no cryptographic primitives
// beyond content-hash sealing", every operation here except keygen
// (random bytes from crypto/rand) is expressed as a content-hash
// construction (the same sha256-simd the Ledger Engine
// seals with) rather than a real asymmetric-crypto or cipher library —
// this is a dispatch demonstration, not a production cryptography
// service.
type CryptoSupervisor struct {
	*supervisor.UnifiedSupervisor
}

func NewCryptoSupervisor(epoch *foundation.EpochFlags, capabilities []string) *CryptoSupervisor {
	if len(capabilities) == 0 {
		capabilities = []string{"crypto.hash", "crypto.sign", "crypto.verify", "crypto.encrypt", "crypto.decrypt", "crypto.keygen"}
	}
	return &CryptoSupervisor{
		UnifiedSupervisor: supervisor.NewUnifiedSupervisor("crypto", capabilities, epoch),
	}
}

// ExecuteJob overrides the base echo dispatch with hash-based stand-ins
// for each crypto capability.
func (s *CryptoSupervisor) ExecuteJob(job *foundation.Job) *foundation.Result {
	if !s.SupportsOperation(job.Operation()) {
		return foundation.FailedResult(job.ID, "crypto capability not supported: "+job.Operation())
	}

	switch job.Method {
	case "hash":
		sum := sha256.Sum256(job.Input)
		return okResult(job.ID, sum[:])

	case "keygen":
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return foundation.FailedResult(job.ID, "keygen failed: "+err.Error())
		}
		return okResult(job.ID, key)

	case "sign":
		key, payload, err := splitKeyedPayload(job.Input, 32)
		if err != nil {
			return foundation.FailedResult(job.ID, err.Error())
		}
		return okResult(job.ID, keyedDigest(key, payload))

	case "verify":
		key, rest, err := splitKeyedPayload(job.Input, 32)
		if err != nil {
			return foundation.FailedResult(job.ID, err.Error())
		}
		sig, payload, err := splitKeyedPayload(rest, sha256.Size)
		if err != nil {
			return foundation.FailedResult(job.ID, err.Error())
		}
		want := keyedDigest(key, payload)
		if string(sig) != string(want) {
			return foundation.FailedResult(job.ID, "signature verification failed")
		}
		return okResult(job.ID, []byte{1})

	case "encrypt":
		return s.xorSeal(job)

	case "decrypt":
		return s.xorSeal(job) // XOR stand-in is its own inverse

	default:
		return foundation.FailedResult(job.ID, "unrecognized crypto method: "+job.Method)
	}
}

// keyedDigest is a simple HMAC-shaped construction (sha256(key || msg))
// standing in for a real signature.
func keyedDigest(key, payload []byte) []byte {
	h := sha256.New()
	h.Write(key)
	h.Write(payload)
	return h.Sum(nil)
}

// xorSeal derives a keystream from repeated hashing of the key and XORs
// it over the payload — a content-hash-only stand-in for a cipher, and
// its own inverse, so the same method covers encrypt and decrypt.
func (s *CryptoSupervisor) xorSeal(job *foundation.Job) *foundation.Result {
	key, payload, err := splitKeyedPayload(job.Input, 32)
	if err != nil {
		return foundation.FailedResult(job.ID, err.Error())
	}
	out := make([]byte, len(payload))
	block := key
	for i := range out {
		if i%sha256.Size == 0 {
			sum := sha256.Sum256(block)
			block = sum[:]
		}
		out[i] = payload[i] ^ block[i%sha256.Size]
	}
	return okResult(job.ID, out)
}

// splitKeyedPayload splits the fixed-width prefix (a key, signature, etc)
// off the front of a job's input, matching the [prefix || payload] wire
// convention every crypto method here uses to avoid structpb round-trips.
func splitKeyedPayload(input []byte, prefixLen int) (prefix, rest []byte, err error) {
	if len(input) < prefixLen {
		return nil, nil, fmt.Errorf("input too short: need %d prefix bytes, got %d", prefixLen, len(input))
	}
	return input[:prefixLen], input[prefixLen:], nil
}

func okResult(jobID string, output []byte) *foundation.Result {
	return &foundation.Result{
		JobID:       jobID,
		Status:      foundation.StatusSuccess,
		Output:      output,
		CompletedAt: time.Now(),
	}
}

package security

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"

	"github.com/cuemby/switchyard/pkg/errdefs"
)

// TrustSet holds the Ed25519 public keys trusted to sign remote manifests.
// Multi-key trust is a disjunction: any trusted key suffices.
type TrustSet struct {
	keys []ed25519.PublicKey
	ids  []string
}

// NewTrustSet decodes base64-encoded Ed25519 public keys into a trust set.
func NewTrustSet(encoded []string) (*TrustSet, error) {
	ts := &TrustSet{}
	for _, e := range encoded {
		raw, err := base64.StdEncoding.DecodeString(e)
		if err != nil {
			return nil, fmt.Errorf("failed to decode trusted signer key: %w", err)
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("trusted signer key has %d bytes, want %d", len(raw), ed25519.PublicKeySize)
		}
		ts.keys = append(ts.keys, ed25519.PublicKey(raw))
		ts.ids = append(ts.ids, e)
	}
	return ts, nil
}

// Empty reports whether the trust set holds no keys. With an empty trust set
// manifest signatures are not required.
func (ts *TrustSet) Empty() bool {
	return len(ts.keys) == 0
}

// Verify checks a detached signature over the canonical manifest bytes
// against every trusted key. A missing signature is a hard failure when the
// trust set is non-empty.
func (ts *TrustSet) Verify(canonical, signature []byte) error {
	if ts.Empty() {
		return nil
	}
	if len(signature) == 0 {
		return fmt.Errorf("%w: manifest is unsigned but trust set is non-empty", errdefs.ErrIntegrity)
	}
	for _, key := range ts.keys {
		if ed25519.Verify(key, canonical, signature) {
			return nil
		}
	}
	return fmt.Errorf("%w: manifest signature matches no trusted key", errdefs.ErrIntegrity)
}

// Sign produces a detached signature with a private key. Used by tests and
// by tooling that publishes manifests.
func Sign(priv ed25519.PrivateKey, canonical []byte) []byte {
	return ed25519.Sign(priv, canonical)
}

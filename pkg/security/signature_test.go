package security

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/switchyard/pkg/errdefs"
)

func newKeyPair(t *testing.T) (string, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(pub), priv
}

func TestTrustSetVerify(t *testing.T) {
	pub, priv := newKeyPair(t)
	ts, err := NewTrustSet([]string{pub})
	require.NoError(t, err)

	payload := []byte(`{"entries":[],"source":"test"}`)
	sig := Sign(priv, payload)

	assert.NoError(t, ts.Verify(payload, sig))
	assert.Error(t, ts.Verify([]byte("tampered"), sig))
}

func TestTrustSetAnyKeySuffices(t *testing.T) {
	pubA, _ := newKeyPair(t)
	pubB, privB := newKeyPair(t)
	ts, err := NewTrustSet([]string{pubA, pubB})
	require.NoError(t, err)

	payload := []byte("manifest")
	assert.NoError(t, ts.Verify(payload, Sign(privB, payload)))
}

func TestTrustSetMissingSignature(t *testing.T) {
	pub, _ := newKeyPair(t)
	ts, err := NewTrustSet([]string{pub})
	require.NoError(t, err)

	err = ts.Verify([]byte("manifest"), nil)
	assert.True(t, errors.Is(err, errdefs.ErrIntegrity))
}

func TestEmptyTrustSetSkipsVerification(t *testing.T) {
	ts, err := NewTrustSet(nil)
	require.NoError(t, err)
	assert.True(t, ts.Empty())
	assert.NoError(t, ts.Verify([]byte("manifest"), nil))
}

func TestNewTrustSetRejectsBadKeys(t *testing.T) {
	_, err := NewTrustSet([]string{"not-base64!!"})
	assert.Error(t, err)

	short := base64.StdEncoding.EncodeToString([]byte("short"))
	_, err = NewTrustSet([]string{short})
	assert.Error(t, err)
}

package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/cuemby/switchyard/pkg/errdefs"
)

var digestPattern = regexp.MustCompile(`^[a-f0-9]{64}$`)

// ArtifactCache stores downloaded artifact bytes under filenames derived
// solely from their sha256 digest. Untrusted path components from the
// manifest never reach the filesystem.
type ArtifactCache struct {
	root string
}

// NewArtifactCache creates the cache rooted at dir.
func NewArtifactCache(dir string) (*ArtifactCache, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cache dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(abs, "sha256"), 0750); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	return &ArtifactCache{root: abs}, nil
}

// Root returns the cache root directory.
func (c *ArtifactCache) Root() string {
	return c.root
}

// Path maps a digest to its cache filename after validating the digest form
// and confirming the result resolves inside the cache root.
func (c *ArtifactCache) Path(digest string) (string, error) {
	digest = strings.ToLower(digest)
	if !digestPattern.MatchString(digest) {
		return "", fmt.Errorf("%w: malformed sha256 digest %q", errdefs.ErrIntegrity, digest)
	}
	p := filepath.Join(c.root, "sha256", digest)
	if !strings.HasPrefix(filepath.Clean(p), c.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: cache path escapes cache root", errdefs.ErrIntegrity)
	}
	return p, nil
}

// Has reports whether the digest is already staged.
func (c *ArtifactCache) Has(digest string) bool {
	p, err := c.Path(digest)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// Put verifies data against the expected digest and stages it. A mismatched
// digest leaves no file behind and fails with ErrIntegrity. The write goes
// through a temp file and rename so a crash never leaves a half-written
// artifact under a valid digest name.
func (c *ArtifactCache) Put(digest string, data []byte) (string, error) {
	p, err := c.Path(digest)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(data)
	actual := hex.EncodeToString(sum[:])
	if actual != strings.ToLower(digest) {
		os.Remove(p)
		return "", fmt.Errorf("%w: artifact digest mismatch: want %s, got %s",
			errdefs.ErrIntegrity, strings.ToLower(digest), actual)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".staging-*")
	if err != nil {
		return "", fmt.Errorf("failed to stage artifact: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to stage artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to stage artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to stage artifact: %w", err)
	}
	return p, nil
}

// Get returns the staged bytes for a digest, re-verifying them on read.
func (c *ArtifactCache) Get(digest string) ([]byte, error) {
	p, err := c.Path(digest)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != strings.ToLower(digest) {
		os.Remove(p)
		return nil, fmt.Errorf("%w: cached artifact no longer matches its digest", errdefs.ErrIntegrity)
	}
	return data, nil
}

// Delete removes a staged artifact.
func (c *ArtifactCache) Delete(digest string) error {
	p, err := c.Path(digest)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

package manifest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/go-containerregistry/pkg/crane"
	"github.com/sony/gobreaker"

	"github.com/cuemby/switchyard/pkg/errdefs"
	"github.com/cuemby/switchyard/pkg/metrics"
)

// Fetcher pulls bytes from a URI. One implementation per scheme.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

const (
	defaultFetchTimeout = 30 * time.Second
	defaultMaxTries     = 4
	maxFetchBytes       = 64 << 20 // refuse pathological payloads
)

// SchemeFetcher dispatches on the URI scheme: http(s), s3, gs, oci.
type SchemeFetcher struct {
	client  *http.Client
	timeout time.Duration
}

// NewSchemeFetcher creates the default multi-scheme fetcher.
func NewSchemeFetcher() *SchemeFetcher {
	return &SchemeFetcher{
		client:  &http.Client{Timeout: defaultFetchTimeout},
		timeout: defaultFetchTimeout,
	}
}

func (f *SchemeFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid uri %q: %v", errdefs.ErrManifestFetch, uri, err)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	switch u.Scheme {
	case "http", "https":
		return f.fetchHTTP(ctx, uri)
	case "s3":
		return f.fetchS3(ctx, u)
	case "gs":
		return f.fetchGCS(ctx, u)
	case "oci":
		return f.fetchOCI(ctx, u)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", errdefs.ErrManifestFetch, u.Scheme)
	}
}

func (f *SchemeFetcher) fetchHTTP(ctx context.Context, uri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errdefs.ErrManifestFetch, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errdefs.ErrManifestFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned status %d", errdefs.ErrManifestFetch, uri, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errdefs.ErrManifestFetch, err)
	}
	return data, nil
}

// fetchS3 reads s3://bucket/key via the default AWS credential chain.
func (f *SchemeFetcher) fetchS3(ctx context.Context, u *url.URL) ([]byte, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load AWS config: %v", errdefs.ErrManifestFetch, err)
	}
	client := s3.NewFromConfig(cfg)

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(u.Host),
		Key:    aws.String(strings.TrimPrefix(u.Path, "/")),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errdefs.ErrManifestFetch, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, maxFetchBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errdefs.ErrManifestFetch, err)
	}
	return data, nil
}

// fetchGCS reads gs://bucket/object with application default credentials.
func (f *SchemeFetcher) fetchGCS(ctx context.Context, u *url.URL) ([]byte, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create GCS client: %v", errdefs.ErrManifestFetch, err)
	}
	defer client.Close()

	r, err := client.Bucket(u.Host).Object(strings.TrimPrefix(u.Path, "/")).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errdefs.ErrManifestFetch, err)
	}
	defer r.Close()

	data, err := io.ReadAll(io.LimitReader(r, maxFetchBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errdefs.ErrManifestFetch, err)
	}
	return data, nil
}

// fetchOCI pulls an OCI artifact reference (oci://registry/repo:tag) and
// returns the flattened image filesystem, which for manifest artifacts is the
// single published blob.
func (f *SchemeFetcher) fetchOCI(ctx context.Context, u *url.URL) ([]byte, error) {
	ref := u.Host + u.Path
	if u.Fragment != "" {
		ref += "#" + u.Fragment
	}
	img, err := crane.Pull(ref, crane.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errdefs.ErrManifestFetch, err)
	}

	var buf bytes.Buffer
	if err := crane.Export(img, &buf); err != nil {
		return nil, fmt.Errorf("%w: %v", errdefs.ErrManifestFetch, err)
	}
	return buf.Bytes(), nil
}

// GuardedFetcher wraps a Fetcher with bounded retries and a circuit breaker.
// Each source gets its own breaker so one flapping endpoint cannot blind the
// loader to the others.
type GuardedFetcher struct {
	inner    Fetcher
	breaker  *gobreaker.CircuitBreaker
	maxTries uint
}

// NewGuardedFetcher wraps inner for one named source.
func NewGuardedFetcher(source string, inner Fetcher) *GuardedFetcher {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    source,
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				metrics.FetchBreakerOpen.WithLabelValues(name).Set(1)
			} else {
				metrics.FetchBreakerOpen.WithLabelValues(name).Set(0)
			}
		},
	})
	return &GuardedFetcher{inner: inner, breaker: cb, maxTries: defaultMaxTries}
}

func (g *GuardedFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	result, err := g.breaker.Execute(func() (interface{}, error) {
		return backoff.Retry(ctx, func() ([]byte, error) {
			data, err := g.inner.Fetch(ctx, uri)
			if err != nil {
				if ctx.Err() != nil {
					return nil, backoff.Permanent(err)
				}
				return nil, err
			}
			return data, nil
		}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(g.maxTries))
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("%w: circuit breaker open for %s", errdefs.ErrManifestFetch, g.breaker.Name())
		}
		return nil, err
	}
	return result.([]byte), nil
}

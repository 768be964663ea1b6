package extraction

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/synaptica-ai/pretriage/pkg/common/logger"
	"google.golang.org/api/option"
)

// Blob is a downloaded binary with its declared content type.
type Blob struct {
	Data        []byte
	ContentType string
	Size        int64
}

type Fetcher interface {
	Download(ctx context.Context, ref string) (Blob, error)
}

// Downloader reads objects through the storage API when it has a client and
// the reference names a bucket object, and falls back to an anonymous GET.
type Downloader struct {
	gcs        *storage.Client
	http       *http.Client
	maxBytes   int64
	publicBase string
}

func NewDownloader(gcs *storage.Client, httpClient *http.Client, maxBytes int64) *Downloader {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Downloader{gcs: gcs, http: httpClient, maxBytes: maxBytes, publicBase: "https://storage.googleapis.com"}
}

// WithPublicBaseURL sets the host used for anonymous reads of bucket objects.
func (d *Downloader) WithPublicBaseURL(base string) *Downloader {
	if base = strings.TrimRight(base, "/"); base != "" {
		d.publicBase = base
	}
	return d
}

// NewStorageClient creates a storage client. An empty credentials file uses
// application default credentials.
func NewStorageClient(ctx context.Context, credentialsFile string) (*storage.Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	return storage.NewClient(ctx, opts...)
}

func (d *Downloader) Download(ctx context.Context, ref string) (Blob, error) {
	bucket, object, isObject := parseObjectRef(ref)
	if isObject && d.gcs != nil {
		blob, err := d.fromStorage(ctx, bucket, object)
		if err == nil {
			return blob, nil
		}
		logger.Log.WithError(err).WithField("ref", ref).Warn("storage read failed, falling back to public url")
	}
	target := ref
	if isObject {
		target = fmt.Sprintf("%s/%s/%s", d.publicBase, bucket, object)
	}
	return d.fromURL(ctx, target)
}

func (d *Downloader) fromStorage(ctx context.Context, bucket, object string) (Blob, error) {
	reader, err := d.gcs.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return Blob{}, fmt.Errorf("open object %s/%s: %w", bucket, object, err)
	}
	defer reader.Close()

	data, err := d.readAll(reader)
	if err != nil {
		return Blob{}, err
	}
	return Blob{Data: data, ContentType: reader.Attrs.ContentType, Size: int64(len(data))}, nil
}

func (d *Downloader) fromURL(ctx context.Context, target string) (Blob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Blob{}, err
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return Blob{}, fmt.Errorf("download %s: %w", target, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Blob{}, fmt.Errorf("download %s: status %d", target, resp.StatusCode)
	}

	data, err := d.readAll(resp.Body)
	if err != nil {
		return Blob{}, err
	}
	return Blob{Data: data, ContentType: resp.Header.Get("Content-Type"), Size: int64(len(data))}, nil
}

func (d *Downloader) readAll(r io.Reader) ([]byte, error) {
	if d.maxBytes <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, d.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > d.maxBytes {
		return nil, fmt.Errorf("object exceeds %d bytes", d.maxBytes)
	}
	return data, nil
}

// parseObjectRef recognizes gs://bucket/key and https://storage.googleapis.com/bucket/key.
func parseObjectRef(ref string) (string, string, bool) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", "", false
	}
	var path string
	switch {
	case u.Scheme == "gs":
		path = u.Host + u.Path
	case u.Host == "storage.googleapis.com":
		path = strings.TrimPrefix(u.Path, "/")
	default:
		return "", "", false
	}
	bucket, object, ok := strings.Cut(path, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", false
	}
	return bucket, object, true
}

package extraction

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloaderPublicURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	blob, err := NewDownloader(nil, srv.Client(), 1024).Download(context.Background(), srv.URL+"/notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(blob.Data))
	assert.Equal(t, int64(5), blob.Size)
	assert.Equal(t, "text/plain", blob.ContentType)
}

func TestDownloaderRejectsOversizedAndFailedResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	d := NewDownloader(nil, srv.Client(), 4)
	_, err := d.Download(context.Background(), srv.URL+"/big")
	assert.Error(t, err)
	_, err = d.Download(context.Background(), srv.URL+"/missing")
	assert.Error(t, err)
}

func TestParseObjectRef(t *testing.T) {
	bucket, object, ok := parseObjectRef("gs://triage-docs/patients/p1/labs.pdf")
	require.True(t, ok)
	assert.Equal(t, "triage-docs", bucket)
	assert.Equal(t, "patients/p1/labs.pdf", object)

	bucket, object, ok = parseObjectRef("https://storage.googleapis.com/triage-docs/x.docx")
	require.True(t, ok)
	assert.Equal(t, "triage-docs", bucket)
	assert.Equal(t, "x.docx", object)

	_, _, ok = parseObjectRef("https://cdn.example.com/x.pdf")
	assert.False(t, ok)
}

func TestDownloaderMapsBucketObjectsToPublicBase(t *testing.T) {
	var requested string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = r.URL.Path
		_, _ = w.Write([]byte("CRP 45 mg/L"))
	}))
	defer srv.Close()

	d := NewDownloader(nil, srv.Client(), 1024).WithPublicBaseURL(srv.URL + "/")
	blob, err := d.Download(context.Background(), "gs://triage-docs/patients/p1/labs.txt")
	require.NoError(t, err)
	assert.Equal(t, "/triage-docs/patients/p1/labs.txt", requested)
	assert.Equal(t, "CRP 45 mg/L", string(blob.Data))
}

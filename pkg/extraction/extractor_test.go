package extraction

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	blobs map[string]Blob
	hang  map[string]bool
}

func (f *fakeFetcher) Download(ctx context.Context, ref string) (Blob, error) {
	if f.hang[ref] {
		<-ctx.Done()
		return Blob{}, ctx.Err()
	}
	blob, ok := f.blobs[ref]
	if !ok {
		return Blob{}, errors.New("not found")
	}
	return blob, nil
}

func buildDocx(t *testing.T, paragraphs ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	var body strings.Builder
	body.WriteString(`<?xml version="1.0" encoding="UTF-8"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	for _, p := range paragraphs {
		body.WriteString(`<w:p><w:r><w:t>` + p + `</w:t></w:r></w:p>`)
	}
	body.WriteString(`</w:body></w:document>`)
	_, err = w.Write([]byte(body.String()))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func testTimeouts() Timeouts {
	return Timeouts{Download: 50 * time.Millisecond, Parse: time.Second, Page: time.Second}
}

func TestExtractDocx(t *testing.T) {
	fetcher := &fakeFetcher{blobs: map[string]Blob{
		"https://files.example.com/report.docx": {Data: buildDocx(t, "CRP 45 mg/L", "Leucocytes normaux"), ContentType: docxMime},
	}}
	result := NewExtractor(fetcher, testTimeouts()).Extract(context.Background(), "https://files.example.com/report.docx")
	require.False(t, result.Failed())
	assert.Equal(t, "report.docx", result.Filename)
	assert.Equal(t, "CRP 45 mg/L\nLeucocytes normaux", result.Text)
}

func TestExtractImageIsUnsupported(t *testing.T) {
	fetcher := &fakeFetcher{blobs: map[string]Blob{
		"https://files.example.com/rash.png": {Data: []byte("\x89PNG\r\n\x1a\n...."), ContentType: "image/png"},
	}}
	result := NewExtractor(fetcher, testTimeouts()).Extract(context.Background(), "https://files.example.com/rash.png")
	assert.False(t, result.Failed())
	assert.Equal(t, UnsupportedFormat, result.Text)
}

func TestExtractCorruptPDFYieldsPlaceholder(t *testing.T) {
	fetcher := &fakeFetcher{blobs: map[string]Blob{
		"https://files.example.com/broken.pdf": {Data: []byte("%PDF-1.4 garbage without xref"), ContentType: "application/pdf"},
	}}
	result := NewExtractor(fetcher, testTimeouts()).Extract(context.Background(), "https://files.example.com/broken.pdf")
	assert.True(t, result.Failed())
	assert.True(t, strings.HasPrefix(result.Text, "(extraction failed:"))
}

func TestExtractAllKeepsOrderWhenOneTimesOut(t *testing.T) {
	refs := []string{
		"https://files.example.com/a.txt",
		"https://files.example.com/slow.pdf",
		"https://files.example.com/c.docx",
	}
	fetcher := &fakeFetcher{
		blobs: map[string]Blob{
			refs[0]: {Data: []byte("Glycémie 0.9 g/L"), ContentType: "text/plain"},
			refs[2]: {Data: buildDocx(t, "Radio thoracique normale")},
		},
		hang: map[string]bool{refs[1]: true},
	}

	results := NewExtractor(fetcher, testTimeouts()).ExtractAll(context.Background(), refs)
	require.Len(t, results, 3)
	assert.Equal(t, "Glycémie 0.9 g/L", results[0].Text)
	assert.True(t, results[1].Failed())
	assert.Contains(t, results[1].Text, "timed out")
	assert.Equal(t, "Radio thoracique normale", results[2].Text)
	assert.Equal(t, 1, FailureCount(results))

	labeled := Labeled(results)
	assert.True(t, strings.HasPrefix(labeled[0], "Document 1 (a.txt):"))
	assert.True(t, strings.HasPrefix(labeled[2], "Document 3 (c.docx):"))
}

func TestWithTimeoutRecoversPanics(t *testing.T) {
	_, err := withTimeout(context.Background(), time.Second, func() (string, error) {
		panic("bad xref")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad xref")
}

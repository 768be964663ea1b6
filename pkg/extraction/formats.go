package extraction

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"io"
	"path"
	"strings"
)

type format int

const (
	formatUnknown format = iota
	formatPDF
	formatDOCX
	formatText
)

const docxMime = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// detectFormat sniffs magic bytes first and only then trusts the declared type.
func detectFormat(name, contentType string, data []byte) format {
	mt := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(mt, ";"); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	ext := strings.ToLower(path.Ext(name))

	switch {
	case bytes.HasPrefix(data, []byte("%PDF-")):
		return formatPDF
	case bytes.HasPrefix(data, []byte("PK\x03\x04")) && (mt == docxMime || ext == ".docx" || hasWordPart(data)):
		return formatDOCX
	case strings.HasPrefix(mt, "image/"):
		return formatUnknown
	case mt == "text/plain" || ext == ".txt" || ext == ".md":
		return formatText
	}
	return formatUnknown
}

func hasWordPart(data []byte) bool {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return false
	}
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			return true
		}
	}
	return false
}

// docxText gathers <w:t> runs from word/document.xml, one line per paragraph.
func docxText(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return "", errMissingDocumentPart
	}
	rc, err := doc.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return "", err
	}

	dec := xml.NewDecoder(bytes.NewReader(raw))
	var out strings.Builder
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch el := tok.(type) {
		case xml.StartElement:
			if el.Name.Local == "t" {
				var v string
				if err := dec.DecodeElement(&v, &el); err != nil {
					return "", err
				}
				out.WriteString(v)
			}
		case xml.EndElement:
			if el.Name.Local == "p" {
				out.WriteString("\n")
			}
		}
	}
	return strings.TrimSpace(out.String()), nil
}

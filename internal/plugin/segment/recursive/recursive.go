// Package recursive provides the default document segmenter. It extracts
// text from PDF and Word documents and splits it into overlapping chunks
// at paragraph, sentence, and word boundaries.
package recursive

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	registrysegment "github.com/cola-ai/knowledge-service/internal/registry/segment"
)

const (
	chunkSize    = 1000
	chunkOverlap = 200
)

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

func init() {
	registrysegment.Register(registrysegment.Plugin{
		Name: "recursive",
		Loader: func(_ context.Context) (registrysegment.Segmenter, error) {
			return &Segmenter{splitter: newSplitter(chunkSize, chunkOverlap)}, nil
		},
	})
}

type Segmenter struct {
	splitter *splitter
}

func (s *Segmenter) Supports(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf", ".docx":
		return true
	}
	return false
}

func (s *Segmenter) Segment(ctx context.Context, filename string, r io.Reader) ([]registrysegment.Segment, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}

	var text string
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		text, err = extractPDF(data)
	case ".docx":
		text, err = extractDocx(data)
	default:
		return nil, registrysegment.ErrUnsupportedFormat
	}
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, registrysegment.ErrEmptyContent
	}

	chunks := s.splitter.Split(text)
	if len(chunks) == 0 {
		return nil, registrysegment.ErrEmptyContent
	}
	// Segment indices are 1-based and contiguous; vector ids and the
	// relational rows carry the same numbering.
	segments := make([]registrysegment.Segment, len(chunks))
	for i, chunk := range chunks {
		segments[i] = registrysegment.Segment{Index: i + 1, Text: chunk}
	}
	return segments, nil
}

func extractPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to parse pdf: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("failed to extract pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("failed to read pdf text: %w", err)
	}
	return buf.String(), nil
}

// docx files are zip archives; the document body lives in
// word/document.xml with paragraphs as <w:p> and text runs as <w:t>.
func extractDocx(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open docx archive: %w", err)
	}
	var doc io.ReadCloser
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc, err = f.Open()
			if err != nil {
				return "", fmt.Errorf("failed to open docx body: %w", err)
			}
			break
		}
	}
	if doc == nil {
		return "", fmt.Errorf("docx archive has no word/document.xml")
	}
	defer doc.Close()

	decoder := xml.NewDecoder(doc)
	var out strings.Builder
	var inText bool
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to parse docx body: %w", err)
		}
		switch el := tok.(type) {
		case xml.StartElement:
			if el.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			switch el.Name.Local {
			case "t":
				inText = false
			case "p":
				out.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				out.Write(el)
			}
		}
	}
	return out.String(), nil
}

var _ registrysegment.Segmenter = (*Segmenter)(nil)

package ingest

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// extractDocxText pulls plain text out of .docx file bytes. A .docx is a
// ZIP archive; the body text lives in word/document.xml as <w:t> runs
// inside <w:p> paragraphs.
func extractDocxText(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx archive: %w", err)
	}

	var body *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			body = f
			break
		}
	}
	if body == nil {
		return "", fmt.Errorf("word/document.xml not found in docx archive")
	}

	rc, err := body.Open()
	if err != nil {
		return "", fmt.Errorf("open word/document.xml: %w", err)
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("read word/document.xml: %w", err)
	}

	return extractRunsFromXML(raw)
}

// extractRunsFromXML walks the OOXML body, emitting a newline at each
// paragraph boundary and concatenating text runs within it.
func extractRunsFromXML(data []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	dec.AutoClose = xml.HTMLAutoClose

	var out strings.Builder
	var inRun, paraOpen, paraHasText bool

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse word/document.xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				if paraOpen && paraHasText {
					out.WriteByte('\n')
				}
				paraOpen, paraHasText = true, false
			case "t":
				inRun = true
			case "tab":
				out.WriteByte('\t')
			case "br":
				out.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inRun = false
			case "p":
				if paraHasText {
					out.WriteByte('\n')
				}
				paraOpen = false
			}
		case xml.CharData:
			if inRun && len(t) > 0 {
				out.Write(t)
				paraHasText = true
			}
		}
	}

	result := strings.TrimSpace(out.String())
	if result == "" {
		return "", fmt.Errorf("no text content found in docx body")
	}
	return result, nil
}

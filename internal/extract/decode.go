package extract

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"io"
	"strings"

	"github.com/h2non/filetype"
	"github.com/ledongthuc/pdf"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/Thianeswaran-G/DarkPatent/internal/logger"
)

// maxPDFPages caps text extraction from uploaded documents.
const maxPDFPages = 5

// decodeContentEncoding undoes gzip or deflate. Unknown encodings report
// false: compressed bytes are not text.
func decodeContentEncoding(body []byte, encoding string) ([]byte, bool) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return body, true
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, false
		}
		defer zr.Close()
		return readPartial(zr)
	case "deflate":
		zr, err := zlib.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, false
		}
		defer zr.Close()
		return readPartial(zr)
	default:
		return nil, false
	}
}

// readPartial keeps whatever decompressed before a stream error.
func readPartial(r io.Reader) ([]byte, bool) {
	out, err := io.ReadAll(r)
	if err != nil && len(out) == 0 {
		return nil, false
	}
	return out, true
}

// fromBytes sniffs raw bytes: PDFs yield their page text, other binary
// media yields nothing, everything else is decoded as text.
func fromBytes(raw []byte, charset string) string {
	if len(raw) == 0 {
		return ""
	}
	head := raw
	if len(head) > 261 {
		head = head[:261]
	}
	switch {
	case filetype.IsMIME(head, "application/pdf"):
		return pdfText(raw)
	case filetype.IsImage(head), filetype.IsVideo(head), filetype.IsAudio(head),
		filetype.IsArchive(head), filetype.IsFont(head), filetype.IsDocument(head):
		return ""
	default:
		return decodeText(raw, charset)
	}
}

// decodeText decodes raw as the named charset, or UTF-8 when the charset is
// empty or unknown. Invalid sequences become U+FFFD.
func decodeText(raw []byte, charset string) string {
	dec := unicode.UTF8.NewDecoder()
	if cs := strings.TrimSpace(charset); cs != "" {
		if enc, err := htmlindex.Get(cs); err == nil {
			dec = enc.NewDecoder()
		}
	}
	out, _, err := transform.Bytes(dec, raw)
	if err != nil {
		return strings.ToValidUTF8(string(raw), "\uFFFD")
	}
	return string(out)
}

func pdfText(raw []byte) (text string) {
	// The PDF parser panics on some malformed xref tables.
	defer func() {
		if r := recover(); r != nil {
			logger.Debug("pdf extraction aborted", "panic", r)
			text = ""
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return ""
	}
	pages := min(r.NumPage(), maxPDFPages)
	parts := make([]string, 0, pages)
	for i := 1; i <= pages; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		content, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		if content = strings.TrimSpace(content); content != "" {
			parts = append(parts, content)
		}
	}
	return strings.Join(parts, Separator)
}

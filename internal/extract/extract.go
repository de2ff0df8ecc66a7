// Package extract turns request bodies, header values, form fields and pages
// into one scannable string. Extraction never fails: anything that cannot be
// decoded degrades to empty or partial text.
package extract

import (
	"bytes"
	"io"
	"mime"
	"mime/multipart"
	"net/url"
	"sort"
	"strings"
)

// Separator joins independently extracted parts.
const Separator = " "

// maxMultipartParts bounds work on hostile multipart bodies.
const maxMultipartParts = 64

// Field is one named input value, as read from a form element or a
// form-encoded body.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// FromFormFields renders fields as "name: value " tokens. Fields without a
// value are skipped.
func FromFormFields(fields []Field) string {
	var b strings.Builder
	for _, f := range fields {
		if f.Value == "" {
			continue
		}
		writePair(&b, f.Name, f.Value)
	}
	return b.String()
}

// FromValues renders url.Values in key order, one token per value.
func FromValues(values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		for _, v := range values[k] {
			writePair(&b, k, v)
		}
	}
	return b.String()
}

// FromHeader returns a header value as scannable text. Values are already
// strings on the wire, so only invalid UTF-8 is repaired.
func FromHeader(value string) string {
	return decodeText([]byte(value), "")
}

// Body is a request body as the proxy observed it.
type Body struct {
	Raw             []byte
	ContentType     string
	ContentEncoding string
}

// FromRequestBody decodes the body according to its headers: content
// encoding first, then media type (form, multipart, JSON, HTML, PDF, text).
func FromRequestBody(body Body) string {
	if len(body.Raw) == 0 {
		return ""
	}
	raw, ok := decodeContentEncoding(body.Raw, body.ContentEncoding)
	if !ok {
		return ""
	}

	mediaType, params, err := mime.ParseMediaType(body.ContentType)
	if err != nil {
		mediaType = ""
	}
	switch mediaType {
	case "application/x-www-form-urlencoded":
		// ParseQuery keeps every pair it could parse even when it errors.
		values, _ := url.ParseQuery(decodeText(raw, params["charset"]))
		return FromValues(values)
	case "multipart/form-data":
		return fromMultipart(raw, params["boundary"])
	case "text/html", "application/xhtml+xml":
		return FromHTML(bytes.NewReader(raw))
	case "", "text/plain":
		if looksLikeJSON(raw) {
			return fromJSON(raw, params["charset"])
		}
		return fromBytes(raw, params["charset"])
	default:
		if isJSON(mediaType) {
			return fromJSON(raw, params["charset"])
		}
		return fromBytes(raw, params["charset"])
	}
}

// FromBuffers decodes raw byte buffers and joins them with Separator.
func FromBuffers(buffers ...[]byte) string {
	parts := make([]string, 0, len(buffers))
	for _, buf := range buffers {
		if s := fromBytes(buf, ""); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, Separator)
}

func fromMultipart(raw []byte, boundary string) string {
	if boundary == "" {
		return fromBytes(raw, "")
	}
	mr := multipart.NewReader(bytes.NewReader(raw), boundary)

	var parts []string
	for i := 0; i < maxMultipartParts; i++ {
		p, err := mr.NextPart()
		if err != nil {
			// Truncated or malformed bodies keep whatever parts were read.
			break
		}
		data, err := io.ReadAll(p)
		if err != nil && len(data) == 0 {
			break
		}
		_, params, _ := mime.ParseMediaType(p.Header.Get("Content-Type"))
		text := fromBytes(data, params["charset"])
		if p.FileName() == "" && p.FormName() != "" {
			var b strings.Builder
			writePair(&b, p.FormName(), text)
			text = b.String()
		}
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, Separator)
}

func writePair(b *strings.Builder, key, value string) {
	b.WriteString(key)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteString(" ")
}

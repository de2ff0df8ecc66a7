package proxy

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
)

var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// deriveTargetURL resolves the absolute upstream URL for both absolute-form
// proxy requests and origin-form requests read inside a TLS tunnel.
func deriveTargetURL(req *http.Request, isTLS bool) *url.URL {
	if req.URL != nil && req.URL.IsAbs() {
		u := *req.URL
		return &u
	}
	u := &url.URL{Scheme: "http", Host: req.Host}
	if isTLS {
		u.Scheme = "https"
	}
	if req.URL != nil {
		if req.URL.Host != "" {
			u.Host = req.URL.Host
		}
		u.Path = req.URL.Path
		u.RawPath = req.URL.RawPath
		u.RawQuery = req.URL.RawQuery
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u
}

// sanitizeURLForEvent drops the query and fragment before a URL is logged
// or sent for a reputation lookup.
func sanitizeURLForEvent(u *url.URL) string {
	if u == nil {
		return ""
	}
	c := *u
	c.RawQuery = ""
	c.ForceQuery = false
	c.Fragment = ""
	c.RawFragment = ""
	c.User = nil
	return c.String()
}

// writeHTTP11Response writes resp to a hijacked client connection and
// reports whether the connection must close afterwards.
func writeHTTP11Response(w io.Writer, resp *http.Response) (bool, error) {
	if resp == nil {
		return true, errors.New("nil response")
	}
	out := *resp
	out.Header = cloneHeader(resp.Header)
	out.Proto, out.ProtoMajor, out.ProtoMinor = "HTTP/1.1", 1, 1
	closeAfter := out.Close
	if out.ContentLength < 0 && !isChunked(out.TransferEncoding) {
		// Close-delimited body.
		out.Close = true
		closeAfter = true
	}
	removeHopHeaders(out.Header)
	if err := out.Write(w); err != nil {
		return true, err
	}
	return closeAfter, nil
}

func removeHopHeaders(h http.Header) {
	for _, k := range hopHeaders {
		h.Del(k)
	}
}

func isChunked(te []string) bool {
	return len(te) > 0 && strings.EqualFold(strings.TrimSpace(te[0]), "chunked")
}

func shouldSend100Continue(req *http.Request) bool {
	if req == nil || req.Body == nil || req.Body == http.NoBody {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(req.Header.Get("Expect")), "100-continue")
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func cloneHeader(h http.Header) http.Header {
	if h == nil {
		return http.Header{}
	}
	return h.Clone()
}

func tlsServer(conn net.Conn, cert *tls.Certificate) *tls.Conn {
	return tls.Server(conn, &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{*cert},
		NextProtos:   []string{"http/1.1"},
	})
}

func isClosedConnErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	return strings.Contains(err.Error(), "tls: bad record MAC")
}

// Package proxy is the local forward proxy that feeds the interception
// pipeline. HTTPS is decrypted with a locally trusted CA. Requests are always
// forwarded unchanged; classification happens afterwards, off the request
// path.
package proxy

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Thianeswaran-G/DarkPatent/internal/config"
	"github.com/Thianeswaran-G/DarkPatent/internal/intercept"
	"github.com/Thianeswaran-G/DarkPatent/internal/logger"
	"github.com/Thianeswaran-G/DarkPatent/internal/util"
)

// Submitter receives every forwarded request for classification. Submit
// must not block.
type Submitter interface {
	Submit(req intercept.Request)
}

type Options struct {
	Listen  string
	DataDir string
	// MaxBodyBytes is how much of each body is handed to the pipeline.
	MaxBodyBytes int64
	// MaxRequestBytes is the largest body buffered before forwarding;
	// larger bodies are streamed upstream.
	MaxRequestBytes int64
	Pipeline        Submitter
	// Tunnel reports hosts whose CONNECT is relayed without decryption.
	Tunnel func(host string) bool
	// Upstream overrides the transport used to reach origin servers.
	Upstream *http.Transport
}

type Server struct {
	opts        Options
	transport   *http.Transport
	wsTransport *http.Transport
	ca          *Authority
	leaves      *LeafCache
}

func NewServer(opts Options) (*Server, error) {
	if opts.Listen == "" {
		opts.Listen = "127.0.0.1:8787"
	}
	if opts.DataDir == "" {
		opts.DataDir = config.DefaultDataDir()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = config.DefaultMaxBodyBytes
	}
	if opts.MaxRequestBytes <= 0 {
		opts.MaxRequestBytes = config.DefaultMaxRequestBytes
	}
	if opts.Pipeline == nil {
		return nil, errors.New("proxy: pipeline is required")
	}
	if err := util.EnsureDir(opts.DataDir); err != nil {
		return nil, fmt.Errorf("ensure data dir: %w", err)
	}

	ca, err := LoadCA(opts.DataDir)
	if err != nil {
		return nil, fmt.Errorf("load ca (run `darkpatent setup-ca` first): %w", err)
	}
	transport := opts.Upstream
	if transport == nil {
		transport = &http.Transport{
			Proxy:                 nil,
			TLSHandshakeTimeout:   15 * time.Second,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
	}
	// Upgraded connections must stay on HTTP/1.1.
	wsTransport := transport.Clone()
	wsTransport.ForceAttemptHTTP2 = false
	wsTransport.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}

	return &Server{
		opts:        opts,
		transport:   transport,
		wsTransport: wsTransport,
		ca:          ca,
		leaves:      NewLeafCache(ca, defaultLeafCacheSize),
	}, nil
}

func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts proxy connections on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()
	logger.Info("proxy listening", "addr", ln.Addr().String(), "ca_sha256", s.ca.Fingerprint)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		s.handleConnect(w, r)
		return
	}
	if isWebSocketUpgrade(r) {
		s.handleWebSocketForwardHTTP(w, r)
		return
	}
	resp := s.forwardRequest(r, false)
	defer resp.Body.Close()
	copyHeader(w.Header(), resp.Header)
	removeHopHeaders(w.Header())
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijacking unsupported", http.StatusInternalServerError)
		return
	}
	conn, rw, err := hj.Hijack()
	if err != nil {
		return
	}
	defer conn.Close()

	host := canonicalHost(r.Host)
	if s.opts.Tunnel != nil && s.opts.Tunnel(host) {
		s.tunnel(conn, rw, r)
		return
	}
	if rw != nil && rw.Reader.Buffered() > 0 {
		_, _ = io.CopyN(io.Discard, rw.Reader, int64(rw.Reader.Buffered()))
	}
	if _, err := io.WriteString(conn, "HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
		return
	}

	cert, err := s.leaves.CertForHost(r.Host)
	if err != nil {
		logger.Error("generate leaf cert", "host", r.Host, "err", err)
		return
	}
	tlsConn := tlsServer(conn, cert)
	if err := tlsConn.Handshake(); err != nil {
		logger.Debug("tls handshake failed", "host", r.Host, "err", err)
		return
	}
	defer tlsConn.Close()

	reader := bufio.NewReader(tlsConn)
	for {
		req, err := http.ReadRequest(reader)
		if err != nil {
			if !errors.Is(err, io.EOF) && !isClosedConnErr(err) {
				logger.Debug("read mitm request failed", "host", r.Host, "err", err)
			}
			return
		}

		req.URL.Scheme = "https"
		if req.URL.Host == "" {
			req.URL.Host = r.Host
		}
		if req.Host == "" {
			req.Host = req.URL.Host
		}
		if shouldSend100Continue(req) {
			if _, err := io.WriteString(tlsConn, "HTTP/1.1 100 Continue\r\n\r\n"); err != nil {
				return
			}
		}
		if isWebSocketUpgrade(req) {
			if err := s.handleWebSocketUpgrade(req, tlsConn, reader, true); err != nil {
				logger.Debug("websocket upgrade failed", "host", r.Host, "err", err)
			}
			return
		}

		resp := s.forwardRequest(req, true)
		closeAfter, err := writeHTTP11Response(tlsConn, resp)
		_ = resp.Body.Close()
		if err != nil || closeAfter {
			return
		}
	}
}

// tunnel relays a CONNECT without decryption. The pipeline still sees one
// request so the event log shows the host was skipped.
func (s *Server) tunnel(client net.Conn, rw *bufio.ReadWriter, r *http.Request) {
	upstream, err := net.DialTimeout("tcp", r.Host, 15*time.Second)
	if err != nil {
		_, _ = io.WriteString(client, "HTTP/1.1 502 Bad Gateway\r\n\r\n")
		return
	}
	defer upstream.Close()
	if _, err := io.WriteString(client, "HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
		return
	}
	s.opts.Pipeline.Submit(intercept.Request{
		Time:   time.Now().UTC(),
		Method: http.MethodConnect,
		URL:    "https://" + r.Host,
		Host:   canonicalHost(r.Host),
		Header: http.Header{},
		TLS:    true,
	})

	done := make(chan struct{}, 2)
	go func() {
		_, _ = io.Copy(upstream, rw.Reader)
		if tc, ok := upstream.(*net.TCPConn); ok {
			_ = tc.CloseWrite()
		}
		done <- struct{}{}
	}()
	go func() {
		_, _ = io.Copy(client, upstream)
		done <- struct{}{}
	}()
	<-done
}

// forwardRequest sends req upstream with its original bytes and hands a
// copy of the first MaxBodyBytes to the pipeline once the request has gone
// out.
func (s *Server) forwardRequest(req *http.Request, isTLS bool) *http.Response {
	start := time.Now().UTC()
	target := deriveTargetURL(req, isTLS)

	body, err := s.prepareBody(req)
	if err != nil {
		return syntheticResponse(http.StatusBadRequest, "failed to read request body")
	}

	outReq, err := buildOutboundRequest(req, body.forward, body.length, target)
	if err != nil {
		return syntheticResponse(http.StatusBadGateway, "failed to build outbound request")
	}

	resp, rtErr := s.transport.RoundTrip(outReq)
	s.opts.Pipeline.Submit(intercept.Request{
		Time:      start,
		Method:    req.Method,
		URL:       sanitizeURLForEvent(target),
		Host:      target.Hostname(),
		Header:    cloneHeader(req.Header),
		Body:      body.scan,
		BodyBytes: body.observed(),
		Truncated: body.truncated,
		TLS:       isTLS,
	})
	if rtErr != nil {
		logger.Debug("upstream request failed", "host", target.Host, "err", rtErr)
		return syntheticResponse(http.StatusBadGateway, "upstream request failed")
	}
	return resp
}

type preparedBody struct {
	forward   io.Reader
	length    int64
	scan      []byte
	truncated bool
}

// observed is the body size reported in events. Streamed bodies without a
// Content-Length report what was buffered.
func (b preparedBody) observed() int {
	if b.length < 0 {
		return len(b.scan)
	}
	return int(b.length)
}

// prepareBody buffers bodies up to MaxRequestBytes and streams larger ones,
// keeping a scan copy of at most MaxBodyBytes either way.
func (s *Server) prepareBody(req *http.Request) (preparedBody, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return preparedBody{length: 0}, nil
	}
	head, overflow, err := readBodyLimited(req.Body, s.opts.MaxRequestBytes)
	if err != nil {
		_ = req.Body.Close()
		return preparedBody{}, err
	}

	scan := head
	truncated := false
	if int64(len(scan)) > s.opts.MaxBodyBytes {
		scan = scan[:s.opts.MaxBodyBytes]
		truncated = true
	}
	scan = bytes.Clone(scan)

	if !overflow {
		_ = req.Body.Close()
		return preparedBody{forward: bytes.NewReader(head), length: int64(len(head)), scan: scan, truncated: truncated}, nil
	}
	return preparedBody{
		forward:   readCloser{Reader: io.MultiReader(bytes.NewReader(head), req.Body), Closer: req.Body},
		length:    req.ContentLength,
		scan:      scan,
		truncated: true,
	}, nil
}

// readBodyLimited reads up to max bytes plus one, so overflow can be
// detected. Everything consumed is returned: when more is true the caller
// must forward the returned bytes ahead of the unread remainder.
func readBodyLimited(body io.Reader, max int64) ([]byte, bool, error) {
	if body == nil {
		return nil, false, nil
	}
	data, err := io.ReadAll(io.LimitReader(body, max+1))
	if err != nil {
		return nil, false, err
	}
	return data, int64(len(data)) > max, nil
}

func buildOutboundRequest(in *http.Request, body io.Reader, length int64, target *url.URL) (*http.Request, error) {
	outReq, err := http.NewRequestWithContext(in.Context(), in.Method, target.String(), body)
	if err != nil {
		return nil, err
	}
	outReq.Header = cloneHeader(in.Header)
	removeHopHeaders(outReq.Header)
	outReq.Host = target.Host
	if in.Host != "" {
		outReq.Host = in.Host
	}
	outReq.ContentLength = length
	if body == nil || length == 0 {
		outReq.Body = http.NoBody
		outReq.ContentLength = 0
	}
	return outReq, nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

func syntheticResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode:    status,
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Body:          io.NopCloser(strings.NewReader(body + "\n")),
		ContentLength: int64(len(body) + 1),
		Header: http.Header{
			"Content-Type": []string{"text/plain; charset=utf-8"},
			"X-Darkpatent": []string{"1"},
		},
	}
}

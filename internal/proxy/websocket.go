package proxy

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Thianeswaran-G/DarkPatent/internal/intercept"
	"github.com/Thianeswaran-G/DarkPatent/internal/logger"
)

const (
	wsOpContinuation = 0x0
	wsOpText         = 0x1
	wsOpBinary       = 0x2
	wsOpClose        = 0x8
	wsOpPing         = 0x9
)

// wsFrameHeader is a parsed frame header plus its original bytes.
type wsFrameHeader struct {
	fin    bool
	opcode byte
	length uint64
	mask   []byte
	raw    []byte
}

// textTap collects the unmasked payload of one client text message, up to
// a limit, while its frames are relayed unchanged.
type textTap struct {
	active    bool
	buf       bytes.Buffer
	size      int
	truncated bool
	limit     int
}

func (t *textTap) reset() {
	t.active = false
	t.buf.Reset()
	t.size = 0
	t.truncated = false
}

func (t *textTap) Write(p []byte) (int, error) {
	t.size += len(p)
	if room := t.limit - t.buf.Len(); room > 0 {
		if len(p) > room {
			t.buf.Write(p[:room])
			t.truncated = true
		} else {
			t.buf.Write(p)
		}
	} else if len(p) > 0 {
		t.truncated = true
	}
	return len(p), nil
}

func (s *Server) handleWebSocketForwardHTTP(w http.ResponseWriter, req *http.Request) {
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
	if err := s.handleWebSocketUpgrade(req, conn, rw.Reader, false); err != nil {
		logger.Debug("websocket upgrade failed", "host", req.Host, "err", err)
	}
}

func (s *Server) handleWebSocketUpgrade(req *http.Request, clientConn net.Conn, clientReader *bufio.Reader, isTLS bool) error {
	target := deriveTargetURL(req, isTLS)

	outReq, err := buildWebSocketOutboundRequest(req, target)
	if err != nil {
		return err
	}
	resp, err := s.wsTransport.RoundTrip(outReq)
	if err != nil {
		synth := syntheticResponse(http.StatusBadGateway, "websocket upstream handshake failed")
		_, werr := writeHTTP11Response(clientConn, synth)
		return errors.Join(err, werr)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		_, err := writeHTTP11Response(clientConn, resp)
		_ = resp.Body.Close()
		return err
	}
	upstream, ok := resp.Body.(io.ReadWriteCloser)
	if !ok {
		_ = resp.Body.Close()
		return errors.New("websocket upgrade response body is not read-write")
	}
	defer upstream.Close()

	if err := writeSwitchingProtocols(clientConn, resp); err != nil {
		return err
	}

	s.opts.Pipeline.Submit(intercept.Request{
		Time:   time.Now().UTC(),
		Method: req.Method,
		URL:    sanitizeURLForEvent(target),
		Host:   target.Hostname(),
		Header: cloneHeader(req.Header),
		TLS:    isTLS,
	})

	clientDone := make(chan error, 1)
	upstreamDone := make(chan error, 1)
	go func() { clientDone <- s.relayClientFrames(clientReader, upstream, target, req.Header, isTLS) }()
	go func() {
		_, err := io.Copy(clientConn, upstream)
		upstreamDone <- err
	}()

	var streamErr error
	select {
	case streamErr = <-clientDone:
		_ = upstream.Close()
		select {
		case <-upstreamDone:
		case <-time.After(500 * time.Millisecond):
		}
	case streamErr = <-upstreamDone:
		_ = clientConn.Close()
		select {
		case <-clientDone:
		case <-time.After(500 * time.Millisecond):
		}
	}
	if isExpectedStreamEndErr(streamErr) {
		return nil
	}
	return streamErr
}

func buildWebSocketOutboundRequest(in *http.Request, target *url.URL) (*http.Request, error) {
	outReq, err := http.NewRequestWithContext(in.Context(), in.Method, target.String(), nil)
	if err != nil {
		return nil, err
	}
	outReq.Header = cloneHeader(in.Header)
	for _, k := range []string{"Proxy-Connection", "Proxy-Authenticate", "Proxy-Authorization"} {
		outReq.Header.Del(k)
	}
	// Compressed frames cannot be read as text.
	outReq.Header.Del("Sec-WebSocket-Extensions")
	outReq.Host = target.Host
	if in.Host != "" {
		outReq.Host = in.Host
	}
	return outReq, nil
}

func writeSwitchingProtocols(w io.Writer, resp *http.Response) error {
	if _, err := fmt.Fprintf(w, "HTTP/1.1 101 %s\r\n", http.StatusText(http.StatusSwitchingProtocols)); err != nil {
		return err
	}
	h := cloneHeader(resp.Header)
	h.Del("Content-Length")
	h.Del("Transfer-Encoding")
	h.Del("Trailer")
	if err := h.Write(w); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}

// relayClientFrames copies client frames upstream as they arrive. Text
// message payloads are tapped and submitted once the final fragment has
// been forwarded.
func (s *Server) relayClientFrames(r *bufio.Reader, upstream io.Writer, target *url.URL, header http.Header, isTLS bool) error {
	tap := &textTap{limit: int(s.opts.MaxBodyBytes)}
	for {
		fh, err := readFrameHeader(r)
		if err != nil {
			return err
		}
		if _, err := upstream.Write(fh.raw); err != nil {
			return err
		}

		tapping := false
		switch fh.opcode {
		case wsOpText:
			tap.reset()
			tap.active = true
			tapping = true
		case wsOpContinuation:
			tapping = tap.active
		case wsOpBinary:
			tap.reset()
		}

		var sink io.Writer
		if tapping {
			sink = tap
		}
		if err := relayPayload(r, upstream, sink, fh); err != nil {
			return err
		}

		if tapping && fh.fin {
			s.submitMessage(tap, target, header, isTLS)
			tap.reset()
		}
		if fh.opcode == wsOpClose {
			return nil
		}
	}
}

func (s *Server) submitMessage(tap *textTap, target *url.URL, header http.Header, isTLS bool) {
	h := http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}}
	for _, k := range []string{"Authorization", "Cookie"} {
		if v := header.Values(k); len(v) > 0 {
			h[k] = append([]string(nil), v...)
		}
	}
	s.opts.Pipeline.Submit(intercept.Request{
		Time:      time.Now().UTC(),
		Method:    "WS",
		URL:       sanitizeURLForEvent(target),
		Host:      target.Hostname(),
		Header:    h,
		Body:      bytes.Clone(tap.buf.Bytes()),
		BodyBytes: tap.size,
		Truncated: tap.truncated,
		TLS:       isTLS,
	})
}

func readFrameHeader(r *bufio.Reader) (wsFrameHeader, error) {
	var fh wsFrameHeader
	head := make([]byte, 2, 14)
	if _, err := io.ReadFull(r, head); err != nil {
		return fh, err
	}
	fh.fin = head[0]&0x80 != 0
	fh.opcode = head[0] & 0x0F
	masked := head[1]&0x80 != 0
	fh.length = uint64(head[1] & 0x7F)

	switch fh.length {
	case 126:
		ext := make([]byte, 2)
		if _, err := io.ReadFull(r, ext); err != nil {
			return fh, err
		}
		head = append(head, ext...)
		fh.length = uint64(binary.BigEndian.Uint16(ext))
	case 127:
		ext := make([]byte, 8)
		if _, err := io.ReadFull(r, ext); err != nil {
			return fh, err
		}
		head = append(head, ext...)
		fh.length = binary.BigEndian.Uint64(ext)
		if fh.length>>63 != 0 {
			return fh, errors.New("websocket frame length overflows")
		}
	}
	if masked {
		fh.mask = make([]byte, 4)
		if _, err := io.ReadFull(r, fh.mask); err != nil {
			return fh, err
		}
		head = append(head, fh.mask...)
	}
	fh.raw = head
	return fh, nil
}

// relayPayload streams one frame payload upstream unchanged, writing the
// unmasked bytes to sink when it is non-nil.
func relayPayload(r io.Reader, upstream, sink io.Writer, fh wsFrameHeader) error {
	buf := make([]byte, 32*1024)
	var offset uint64
	for offset < fh.length {
		n := len(buf)
		if rem := fh.length - offset; rem < uint64(n) {
			n = int(rem)
		}
		if _, err := io.ReadFull(r, buf[:n]); err != nil {
			return err
		}
		if _, err := upstream.Write(buf[:n]); err != nil {
			return err
		}
		if sink != nil {
			chunk := buf[:n]
			if fh.mask != nil {
				chunk = make([]byte, n)
				for i := range chunk {
					chunk[i] = buf[i] ^ fh.mask[(offset+uint64(i))%4]
				}
			}
			_, _ = sink.Write(chunk)
		}
		offset += uint64(n)
	}
	return nil
}

func isWebSocketUpgrade(req *http.Request) bool {
	if req == nil || req.Method != http.MethodGet {
		return false
	}
	if !headerContainsToken(req.Header, "Connection", "upgrade") {
		return false
	}
	if !strings.EqualFold(strings.TrimSpace(req.Header.Get("Upgrade")), "websocket") {
		return false
	}
	return req.Header.Get("Sec-WebSocket-Key") != ""
}

func headerContainsToken(h http.Header, key, token string) bool {
	for _, v := range h.Values(key) {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}

func isExpectedStreamEndErr(err error) bool {
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || isClosedConnErr(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "closed pipe") || strings.Contains(msg, "connection reset by peer")
}

// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	log "github.com/sirupsen/logrus"
	"github.com/traylinx/switchAIOrchestrator/internal/util"
	"golang.org/x/net/proxy"
)

const maxResponseBytes = 8 << 20

// newHTTPClient builds a client honoring an optional http(s) or socks5 proxy URL.
// Deadlines come from the request context.
func newHTTPClient(proxyURL string) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	// Compression is negotiated explicitly so brotli and zstd are accepted too.
	transport.DisableCompression = true

	proxyURL = strings.TrimSpace(proxyURL)
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy-url: %w", err)
		}
		switch u.Scheme {
		case "socks5", "socks5h":
			dialer, errDial := proxy.FromURL(u, proxy.Direct)
			if errDial != nil {
				return nil, fmt.Errorf("socks proxy: %w", errDial)
			}
			transport.Proxy = nil
			if cd, ok := dialer.(proxy.ContextDialer); ok {
				transport.DialContext = cd.DialContext
			} else {
				transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
					return dialer.Dial(network, addr)
				}
			}
		case "http", "https":
			transport.Proxy = http.ProxyURL(u)
		default:
			return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
		}
	}
	return &http.Client{Transport: transport}, nil
}

// call performs one HTTP exchange and returns the decoded body of a 2xx response.
// Every failure is returned as *Failure.
func (b *base) call(ctx context.Context, method, endpoint string, body []byte, headers map[string]string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, configFailure(b.cfg.ID, "cannot build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip, br, zstd")
	req.Header.Set("User-Agent", "switchai-orchestrator")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	util.ApplyCustomHeaders(req, b.cfg.Headers)
	if log.IsLevelEnabled(log.TraceLevel) {
		for k := range req.Header {
			log.Tracef("provider %s: header %s: %s", b.cfg.ID, k, util.MaskSensitiveHeaderValue(k, req.Header.Get(k)))
		}
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, transportFailure(b.cfg.ID, redactErr(err))
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("provider %s: close response body error: %v", b.cfg.ID, errClose)
		}
	}()

	data, err := readBody(resp)
	if err != nil {
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil, &Failure{Kind: KindInvalidResponse, Provider: b.cfg.ID, StatusCode: resp.StatusCode, Message: "cannot read response body", Err: err}
		}
		data = nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		key, _ := b.credential()
		log.Debugf("provider %s: %s %s -> %d", b.cfg.ID, method, util.MaskURL(endpoint), resp.StatusCode)
		return nil, statusFailure(b.cfg.ID, resp.StatusCode, []byte(util.RedactSecret(string(data), key)))
	}
	return data, nil
}

// redactErr strips credentials from URLs echoed in transport errors.
func redactErr(err error) error {
	var uErr *url.Error
	if errors.As(err, &uErr) {
		uErr.URL = util.MaskURL(uErr.URL)
	}
	return err
}

// readBody decodes the response according to its Content-Encoding.
func readBody(resp *http.Response) ([]byte, error) {
	var r io.Reader = resp.Body
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "", "identity":
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer gz.Close()
		r = gz
	case "br":
		r = brotli.NewReader(resp.Body)
	case "zstd":
		dec, err := zstd.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		defer dec.Close()
		r = dec
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", resp.Header.Get("Content-Encoding"))
	}
	return io.ReadAll(io.LimitReader(r, maxResponseBytes))
}

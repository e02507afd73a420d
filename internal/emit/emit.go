package emit

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/gustycube/skywatch/internal/logging"
)

// HTTP posts snapshots to an ingest endpoint. Failed snapshots are spooled
// to disk and replayed by Drain; since each snapshot supersedes the last,
// only the newest spooled file is ever sent.
type HTTP struct {
	endpoint   string
	spoolDir   string
	client     *http.Client
	maxElapsed time.Duration
	log        *logging.Logger
}

type TLSFiles struct {
	Cert string
	Key  string
	CA   string
}

func NewHTTP(endpoint, spoolDir string, tlsFiles TLSFiles, log *logging.Logger) (*HTTP, error) {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if tlsFiles.Cert != "" && tlsFiles.Key != "" {
		cert, err := tls.LoadX509KeyPair(tlsFiles.Cert, tlsFiles.Key)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	if tlsFiles.CA != "" {
		pem, err := os.ReadFile(tlsFiles.CA)
		if err != nil {
			return nil, fmt.Errorf("read ca bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s", tlsFiles.CA)
		}
		tlsCfg.RootCAs = pool
	}
	if spoolDir != "" {
		if err := os.MkdirAll(spoolDir, 0o755); err != nil {
			return nil, fmt.Errorf("create spool dir: %w", err)
		}
	}
	if log == nil {
		log = logging.Nop()
	}
	return &HTTP{
		endpoint:   endpoint,
		spoolDir:   spoolDir,
		client:     &http.Client{Transport: &http.Transport{TLSClientConfig: tlsCfg}, Timeout: 20 * time.Second},
		maxElapsed: 30 * time.Second,
		log:        log,
	}, nil
}

func (h *HTTP) Persist(ctx context.Context, records []Record) error {
	body, err := json.Marshal(records)
	if err != nil {
		return err
	}
	if err := h.post(ctx, body); err != nil {
		h.spool(body)
		return err
	}
	h.clearSpool()
	return nil
}

func (h *HTTP) post(ctx context.Context, body []byte) error {
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := h.client.Do(req)
		if err != nil {
			return err
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return backoff.Permanent(fmt.Errorf("ingest rejected snapshot: %d", resp.StatusCode))
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("bad status: %d", resp.StatusCode)
		}
		return nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = h.maxElapsed
	return backoff.Retry(op, backoff.WithContext(bo, ctx))
}

func (h *HTTP) spool(body []byte) {
	if h.spoolDir == "" {
		return
	}
	name := time.Now().UTC().Format("20060102T150405.000000000") + ".json"
	path := filepath.Join(h.spoolDir, name)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		h.log.Errorw("spool write failed", "path", path, "err", err)
		return
	}
	h.log.Warnw("snapshot spooled", "path", path)
}

func (h *HTTP) spooled() []string {
	if h.spoolDir == "" {
		return nil
	}
	entries, err := os.ReadDir(h.spoolDir)
	if err != nil {
		return nil
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			files = append(files, filepath.Join(h.spoolDir, e.Name()))
		}
	}
	sort.Strings(files)
	return files
}

func (h *HTTP) clearSpool() {
	for _, p := range h.spooled() {
		_ = os.Remove(p)
	}
}

// Drain resends the newest spooled snapshot and clears the spool on success.
func (h *HTTP) Drain(ctx context.Context) error {
	files := h.spooled()
	if len(files) == 0 {
		return nil
	}
	newest := files[len(files)-1]
	body, err := os.ReadFile(newest)
	if err != nil {
		return err
	}
	if err := h.post(ctx, body); err != nil {
		return err
	}
	h.clearSpool()
	h.log.Infow("spool drained", "files", len(files))
	return nil
}

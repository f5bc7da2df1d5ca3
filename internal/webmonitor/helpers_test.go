package webmonitor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/internal/overlay"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/internal/pipeline"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/pkg/types"
)

const defaultRequestTimeout = 2 * time.Second

type testClient struct {
	baseURL string
	client  *http.Client
	server  *Server
	metrics *metrics.Metrics
}

func newTestClient(t *testing.T, opts Options) *testClient {
	t.Helper()
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	cfg := DefaultConfig()
	cfg.SSEKeepalive = time.Second
	srv := NewServer(cfg, opts)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return &testClient{
		baseURL: ts.URL,
		client:  &http.Client{Timeout: defaultRequestTimeout},
		server:  srv,
		metrics: opts.Metrics,
	}
}

func (c *testClient) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := c.client.Get(c.baseURL + path)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	_ = resp.Body.Close()
	return resp, body
}

func (c *testClient) post(t *testing.T, path string, payload any) (*http.Response, []byte) {
	t.Helper()
	var body io.Reader = http.NoBody
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	_ = resp.Body.Close()
	return resp, respBody
}

// sseStream reads data lines from an SSE response one event at a time
type sseStream struct {
	resp   *http.Response
	cancel context.CancelFunc
	lines  chan string
}

func openSSE(t *testing.T, url, accept string) *sseStream {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		t.Fatalf("build request: %v", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		t.Fatalf("request failed: %v", err)
	}
	s := &sseStream{resp: resp, cancel: cancel, lines: make(chan string, 16)}
	go func() {
		defer close(s.lines)
		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			line := sc.Text()
			if strings.HasPrefix(line, "data:") {
				s.lines <- strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			}
		}
	}()
	t.Cleanup(s.close)
	return s
}

func (s *sseStream) next(t *testing.T) string {
	t.Helper()
	select {
	case line, ok := <-s.lines:
		if !ok {
			t.Fatalf("sse stream closed before event")
		}
		return line
	case <-time.After(3 * time.Second):
		t.Fatalf("timeout waiting for sse event")
	}
	return ""
}

func (s *sseStream) nextJSON(t *testing.T) map[string]any {
	t.Helper()
	return decodeJSONMap(t, []byte(s.next(t)))
}

func (s *sseStream) close() {
	s.cancel()
	_ = s.resp.Body.Close()
}

func decodeJSONMap(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode json: %v\nbody=%s", err, string(body))
	}
	return payload
}

func requireString(t *testing.T, value any, field string) string {
	t.Helper()
	str, ok := value.(string)
	if !ok {
		t.Fatalf("expected %s to be string, got %T", field, value)
	}
	return str
}

func requireSlice(t *testing.T, value any, field string) []any {
	t.Helper()
	s, ok := value.([]any)
	if !ok {
		t.Fatalf("expected %s to be array, got %T", field, value)
	}
	return s
}

func element(value string, sym types.Symbology, index int) overlay.Element {
	g := overlay.DefaultLayout().Compute(sym, []types.Point{{X: 100, Y: 100}, {X: 140, Y: 100}, {X: 140, Y: 140}, {X: 100, Y: 140}})
	return overlay.Element{Value: value, Symbology: sym, DisplayIndex: index, Geometry: &g}
}

func createBatch(seq uint64, els ...overlay.Element) pipeline.Batch {
	b := pipeline.Batch{Seq: seq, Timestamp: time.Now(), Width: 640, Height: 480, Elements: els}
	for _, el := range els {
		b.Instructions = append(b.Instructions, overlay.Instruction{
			Op:           overlay.OpCreate,
			Value:        el.Value,
			Symbology:    el.Symbology,
			DisplayIndex: el.DisplayIndex,
			Geometry:     el.Geometry,
		})
	}
	return b
}

package reviewlite

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Darsh1153/trialbyte-v3-sub002/localstore"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

var testSession = Session{UserID: "u-1", Role: "admin", Token: "tok"}

func jsonResponse(status int, v any) *http.Response {
	var data []byte
	switch b := v.(type) {
	case string:
		data = []byte(b)
	default:
		data, _ = json.Marshal(v)
	}
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewReader(data)),
	}
}

// recordedRequest is a request as seen by the fake backend.
type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   []byte
}

func (r recordedRequest) decode(t *testing.T) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(r.Body, &m))
	return m
}

// fakeBackend records every request and answers through handle.
type fakeBackend struct {
	mu     sync.Mutex
	reqs   []recordedRequest
	handle func(r *http.Request, body []byte) (*http.Response, error)
}

func (f *fakeBackend) RoundTrip(r *http.Request) (*http.Response, error) {
	var body []byte
	if r.Body != nil {
		body, _ = io.ReadAll(r.Body)
	}
	f.mu.Lock()
	f.reqs = append(f.reqs, recordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Header: r.Header.Clone(),
		Body:   body,
	})
	f.mu.Unlock()
	return f.handle(r, body)
}

func (f *fakeBackend) requests() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.reqs...)
}

func (f *fakeBackend) count(method, path string) int {
	n := 0
	for _, r := range f.requests() {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

var fixedNow = time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)

func newTestClient(t *testing.T, rt http.RoundTripper, mutate ...func(*Config)) (*Client, *localstore.Store) {
	t.Helper()
	store, err := localstore.New(localstore.NewMemoryBackend(), localstore.Options{
		Namespace: "trialbyte",
		Now:       func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return newTestClientWithStore(t, rt, store, mutate...), store
}

func newTestClientWithStore(t *testing.T, rt http.RoundTripper, store *localstore.Store, mutate ...func(*Config)) *Client {
	t.Helper()
	cfg := DefaultConfig()
	for _, m := range mutate {
		m(cfg)
	}
	c, err := NewClient("http://backend.test/", store, cfg, nil)
	require.NoError(t, err)
	c.HTTP = &http.Client{Transport: rt}
	c.now = func() time.Time { return fixedNow }
	return c
}

// failingBackend accepts reads but refuses every write.
type failingBackend struct{ *localstore.MemoryBackend }

func (failingBackend) Save(context.Context, *localstore.Record) error {
	return errors.New("disk full")
}

func collectEvents(c *Client) *[]Event {
	var (
		mu  sync.Mutex
		out []Event
	)
	c.Events = EventRecorderFunc(func(_ context.Context, ev Event) {
		mu.Lock()
		out = append(out, ev)
		mu.Unlock()
	})
	return &out
}

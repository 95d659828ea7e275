package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"traceiq/api"
)

type sentRequest struct {
	Method    string
	URI       string
	APIKey    string
	ProjectID string
	Body      []byte
}

// fakeDoer records requests and answers with respond.
type fakeDoer struct {
	mu      sync.Mutex
	sent    []sentRequest
	respond func(resp *fasthttp.Response) error
}

func (d *fakeDoer) DoTimeout(req *fasthttp.Request, resp *fasthttp.Response, _ time.Duration) error {
	d.mu.Lock()
	d.sent = append(d.sent, sentRequest{
		Method:    string(req.Header.Method()),
		URI:       string(req.URI().FullURI()),
		APIKey:    string(req.Header.Peek(api.HeaderAPIKey)),
		ProjectID: string(req.Header.Peek(api.HeaderProjectID)),
		Body:      append([]byte(nil), req.Body()...),
	})
	d.mu.Unlock()
	return d.respond(resp)
}

func (d *fakeDoer) requests() []sentRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]sentRequest(nil), d.sent...)
}

func replyJSON(code int, body string) func(*fasthttp.Response) error {
	return func(resp *fasthttp.Response) error {
		resp.SetStatusCode(code)
		resp.Header.SetContentType("application/json")
		resp.SetBodyString(body)
		return nil
	}
}

func newTestTracker(t *testing.T, doer *fakeDoer, store Store) *ErrorTracker {
	t.Helper()
	tr, err := New(Config{
		ProjectID:   "p-1",
		APIKey:      "tiq_key",
		Environment: "production",
		APIURL:      "http://collector.test/api/",
		Store:       store,
		Client:      doer,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return tr
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Config{APIKey: "k"})
	assert.ErrorIs(t, err, ErrConfig)
	_, err = New(Config{ProjectID: "p"})
	assert.ErrorIs(t, err, ErrConfig)

	tr, err := New(Config{ProjectID: "p", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, DefaultAPIURL, tr.apiURL)
	assert.Equal(t, DefaultTimeout, tr.timeout)
}

func TestTrackErrorSends(t *testing.T) {
	doer := &fakeDoer{respond: replyJSON(200, `{"success":true}`)}
	store := NewMemoryStore()
	tr := newTestTracker(t, doer, store)

	state := tr.TrackError(context.Background(), errors.New("x is undefined"))
	assert.Equal(t, StateSent, state)

	reqs := doer.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "POST", reqs[0].Method)
	assert.Equal(t, "http://collector.test/api/track", reqs[0].URI)
	assert.Equal(t, "tiq_key", reqs[0].APIKey)
	assert.Equal(t, "p-1", reqs[0].ProjectID)

	var ev api.ErrorEvent
	require.NoError(t, json.Unmarshal(reqs[0].Body, &ev))
	assert.Equal(t, "x is undefined", ev.Message)
	assert.Equal(t, "Error", ev.Type)
	assert.NotEmpty(t, ev.Stack)
	assert.Equal(t, api.SeverityError, ev.Severity)
	assert.Equal(t, api.StatusOpen, ev.Status)
	assert.Equal(t, "production", ev.Environment)

	entries, err := tr.FailedRequests()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTrackEventKeepsCallerFieldsButNotEnvironment(t *testing.T) {
	doer := &fakeDoer{respond: replyJSON(200, `{"success":true}`)}
	tr := newTestTracker(t, doer, nil)

	tr.TrackEvent(context.Background(), api.ErrorEvent{
		Message:     "slow checkout",
		Type:        "Timeout",
		Severity:    api.SeverityWarning,
		Environment: "staging",
		Browser:     &api.Agent{Name: "Safari", Version: "17"},
		Metadata:    map[string]any{"cart": "c-9"},
	})

	var ev api.ErrorEvent
	require.NoError(t, json.Unmarshal(doer.requests()[0].Body, &ev))
	assert.Equal(t, "Timeout", ev.Type)
	assert.Equal(t, api.SeverityWarning, ev.Severity)
	assert.Equal(t, "production", ev.Environment)
	assert.Equal(t, &api.Agent{Name: "Safari", Version: "17"}, ev.Browser)
	assert.Equal(t, "c-9", ev.Metadata["cart"])
}

func TestTrackErrorBuffersOnFailure(t *testing.T) {
	tests := []struct {
		name    string
		respond func(*fasthttp.Response) error
	}{
		{"transport error", func(*fasthttp.Response) error { return fasthttp.ErrConnectionClosed }},
		{"server error", replyJSON(500, `{"success":false,"error":"Failed to track error"}`)},
		{"unauthorized", replyJSON(401, `{"error":"Invalid API key"}`)},
		{"success false", replyJSON(200, `{"success":false,"error":"nope"}`)},
		{"garbage body", replyJSON(200, `<html>`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore()
			tr := newTestTracker(t, &fakeDoer{respond: tt.respond}, store)

			var state State
			assert.NotPanics(t, func() {
				state = tr.TrackError(context.Background(), errors.New("boom"))
			})
			assert.Equal(t, StateBuffered, state)

			entries, err := store.Load()
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, "boom", entries[0].ErrorEvent.Message)
			assert.False(t, entries[0].Timestamp.IsZero())
		})
	}
}

type failingStore struct{}

func (failingStore) Append(FailedRequestEntry) error     { return errors.New("disk full") }
func (failingStore) Load() ([]FailedRequestEntry, error) { return nil, nil }

func TestTrackErrorDropsWhenBufferFails(t *testing.T) {
	doer := &fakeDoer{respond: replyJSON(500, `{}`)}
	tr := newTestTracker(t, doer, failingStore{})

	assert.Equal(t, StateDropped, tr.TrackError(context.Background(), errors.New("boom")))
}

func TestTrackErrorExpiredContextBuffersWithoutSending(t *testing.T) {
	doer := &fakeDoer{respond: replyJSON(200, `{"success":true}`)}
	store := NewMemoryStore()
	tr := newTestTracker(t, doer, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Equal(t, StateBuffered, tr.TrackError(ctx, errors.New("boom")))
	assert.Empty(t, doer.requests())
	entries, _ := store.Load()
	assert.Len(t, entries, 1)
}

func TestConcurrentFailuresKeepEveryEntry(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	tr := newTestTracker(t, &fakeDoer{respond: func(*fasthttp.Response) error {
		return fasthttp.ErrTimeout
	}}, store)

	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.TrackError(context.Background(), errors.New("boom"))
		}()
	}
	wg.Wait()

	entries, err := tr.FailedRequests()
	require.NoError(t, err)
	assert.Len(t, entries, n)
}

func TestGetErrors(t *testing.T) {
	doer := &fakeDoer{respond: replyJSON(200,
		`{"success":true,"data":[{"id":"e-1","message":"m","type":"T","severity":"critical","status":"open","environment":"production"}]}`)}
	tr := newTestTracker(t, doer, nil)

	got, err := tr.GetErrors(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "e-1", got[0].ID)
	assert.Equal(t, api.SeverityCritical, got[0].Severity)

	req := doer.requests()[0]
	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, "http://collector.test/api/errors/p-1", req.URI)
}

func TestGetErrorsEmpty(t *testing.T) {
	tr := newTestTracker(t, &fakeDoer{respond: replyJSON(200, `{"success":true}`)}, nil)

	got, err := tr.GetErrors(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestDashboardCallsPropagateFailures(t *testing.T) {
	store := NewMemoryStore()
	tr := newTestTracker(t, &fakeDoer{respond: replyJSON(500, `{"success":false,"error":"Failed to fetch errors"}`)}, store)

	_, err := tr.GetErrors(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to fetch errors")

	_, err = tr.GetStats(context.Background())
	require.Error(t, err)

	err = tr.UpdateErrorStatus(context.Background(), "e-1", api.StatusResolved)
	require.Error(t, err)

	entries, _ := store.Load()
	assert.Empty(t, entries)
}

func TestUpdateErrorStatus(t *testing.T) {
	doer := &fakeDoer{respond: replyJSON(200, `{"success":true}`)}
	tr := newTestTracker(t, doer, nil)

	require.NoError(t, tr.UpdateErrorStatus(context.Background(), "e-1", api.StatusResolved))

	req := doer.requests()[0]
	assert.Equal(t, "PATCH", req.Method)
	assert.Equal(t, "http://collector.test/api/errors/e-1/status", req.URI)
	assert.JSONEq(t, `{"status":"resolved"}`, string(req.Body))
}

func TestGetStats(t *testing.T) {
	doer := &fakeDoer{respond: replyJSON(200, `{"success":true,"data":{"total":3,"critical":1,"error":2,"warning":0}}`)}
	tr := newTestTracker(t, doer, nil)

	stats, err := tr.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, api.Stats{Total: 3, Critical: 1, Error: 2}, stats)
	assert.Equal(t, "http://collector.test/api/errors/p-1/stats", doer.requests()[0].URI)
}

type namedError struct{}

func (namedError) Error() string { return "named" }
func (namedError) Name() string  { return "RangeError" }

type customError struct{}

func (*customError) Error() string { return "custom" }

func TestErrorName(t *testing.T) {
	assert.Equal(t, "RangeError", errorName(namedError{}))
	assert.Equal(t, "customError", errorName(&customError{}))
	assert.Equal(t, "Error", errorName(errors.New("plain")))
	assert.Equal(t, "Error", errorName(errors.Wrap(errors.New("plain"), "ctx")))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "sent", StateSent.String())
	assert.Equal(t, "buffered", StateBuffered.String())
	assert.Equal(t, "State(9)", State(9).String())
}

func TestStackOfPrefersRecordedStack(t *testing.T) {
	err := errors.New("with stack")
	assert.Contains(t, stackOf(err), "with stack")
	assert.True(t, bytes.Contains([]byte(stackOf(err)), []byte("tracker_test.go")))
}

// Package tracker is the client SDK applications use to report errors to
// a TraceIQ collector.
//
// Reporting never fails the host application: TrackError and TrackEvent
// swallow every delivery failure and append the event to a durable
// Store instead. GetErrors, GetStats and UpdateErrorStatus are explicit
// operator actions and return errors normally.
package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"runtime/debug"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/valyala/fasthttp"

	"traceiq/api"
)

const (
	DefaultAPIURL  = "http://localhost:3000/api"
	DefaultTimeout = 5 * time.Second
)

// ErrConfig is returned by New when the project id or API key is missing.
var ErrConfig = errors.New("tracker: project id and api key are required; get these from your TraceIQ dashboard")

// State is the outcome of one delivery attempt.
type State int

const (
	StatePending State = iota
	StateSent
	StateBuffered
	// StateDropped means the send failed and the event could not be
	// buffered either. The failure is logged.
	StateDropped
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateSent:
		return "sent"
	case StateBuffered:
		return "buffered"
	case StateDropped:
		return "dropped"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Doer sends one HTTP request. *fasthttp.Client satisfies it.
type Doer interface {
	DoTimeout(req *fasthttp.Request, resp *fasthttp.Response, timeout time.Duration) error
}

type Config struct {
	ProjectID   string
	APIKey      string
	Environment string

	// APIURL is the collector's /api base. Defaults to DefaultAPIURL.
	APIURL string
	// Timeout bounds each request. Defaults to DefaultTimeout.
	Timeout time.Duration

	// Store buffers failed deliveries. Defaults to a MemoryStore.
	Store Store
	// Client sends requests. Defaults to a fasthttp.Client.
	Client Doer
	Logger *slog.Logger
}

// ErrorTracker reports errors for one project. It is safe for concurrent use.
type ErrorTracker struct {
	projectID   string
	apiKey      string
	environment string
	apiURL      string
	timeout     time.Duration

	store  Store
	client Doer
	logger *slog.Logger
}

func New(cfg Config) (*ErrorTracker, error) {
	if cfg.ProjectID == "" || cfg.APIKey == "" {
		return nil, ErrConfig
	}
	t := &ErrorTracker{
		projectID:   cfg.ProjectID,
		apiKey:      cfg.APIKey,
		environment: cfg.Environment,
		apiURL:      strings.TrimRight(cfg.APIURL, "/"),
		timeout:     cfg.Timeout,
		store:       cfg.Store,
		client:      cfg.Client,
		logger:      cfg.Logger,
	}
	if t.apiURL == "" {
		t.apiURL = DefaultAPIURL
	}
	if t.timeout <= 0 {
		t.timeout = DefaultTimeout
	}
	if t.store == nil {
		t.store = NewMemoryStore()
	}
	if t.client == nil {
		t.client = &fasthttp.Client{Name: "traceiq-tracker"}
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	return t, nil
}

// TrackError reports err as an "error" severity, "open" event stamped
// with the configured environment.
func (t *ErrorTracker) TrackError(ctx context.Context, err error) State {
	if err == nil {
		return StatePending
	}
	return t.deliver(ctx, api.ErrorEvent{
		Message:     err.Error(),
		Type:        errorName(err),
		Stack:       stackOf(err),
		Severity:    api.SeverityError,
		Status:      api.StatusOpen,
		Environment: t.environment,
	})
}

// TrackEvent reports an already shaped event. Caller fields are kept
// except the environment, which always comes from the tracker config.
func (t *ErrorTracker) TrackEvent(ctx context.Context, ev api.ErrorEvent) State {
	ev.Environment = t.environment
	return t.deliver(ctx, ev)
}

func (t *ErrorTracker) deliver(ctx context.Context, ev api.ErrorEvent) State {
	err := t.do(ctx, fasthttp.MethodPost, "/track", ev, nil)
	if err == nil {
		return StateSent
	}
	t.logger.Warn("failed to send error to TraceIQ", "err", err)

	if err := t.store.Append(FailedRequestEntry{ErrorEvent: ev, Timestamp: time.Now().UTC()}); err != nil {
		t.logger.Error("failed to buffer error event", "err", err)
		return StateDropped
	}
	return StateBuffered
}

// GetErrors lists the project's most recent errors.
func (t *ErrorTracker) GetErrors(ctx context.Context) ([]api.ErrorEvent, error) {
	var out []api.ErrorEvent
	if err := t.do(ctx, fasthttp.MethodGet, "/errors/"+url.PathEscape(t.projectID), nil, &out); err != nil {
		return nil, errors.Wrap(err, "fetch errors from TraceIQ")
	}
	if out == nil {
		out = []api.ErrorEvent{}
	}
	return out, nil
}

// GetStats returns the project's error counts by severity.
func (t *ErrorTracker) GetStats(ctx context.Context) (api.Stats, error) {
	var out api.Stats
	if err := t.do(ctx, fasthttp.MethodGet, "/errors/"+url.PathEscape(t.projectID)+"/stats", nil, &out); err != nil {
		return api.Stats{}, errors.Wrap(err, "fetch stats from TraceIQ")
	}
	return out, nil
}

// UpdateErrorStatus moves one error to status.
func (t *ErrorTracker) UpdateErrorStatus(ctx context.Context, errorID string, status api.Status) error {
	body := api.StatusUpdate{Status: status}
	if err := t.do(ctx, fasthttp.MethodPatch, "/errors/"+url.PathEscape(errorID)+"/status", body, nil); err != nil {
		return errors.Wrap(err, "update error status")
	}
	return nil
}

// FailedRequests returns the events buffered after failed deliveries.
func (t *ErrorTracker) FailedRequests() ([]FailedRequestEntry, error) {
	return t.store.Load()
}

// do sends one request and decodes the envelope's data into out when out
// is non-nil. Transport errors, non-2xx responses and success:false bodies
// are all errors.
func (t *ErrorTracker) do(ctx context.Context, method, path string, body, out any) error {
	timeout, err := t.requestTimeout(ctx)
	if err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(t.apiURL + path)
	req.Header.SetMethod(method)
	req.Header.Set(api.HeaderAPIKey, t.apiKey)
	req.Header.Set(api.HeaderProjectID, t.projectID)
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		req.Header.SetContentType("application/json")
		req.SetBody(payload)
	}

	if err := t.client.DoTimeout(req, resp, timeout); err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}

	var envelope api.Response[json.RawMessage]
	decodeErr := json.Unmarshal(resp.Body(), &envelope)

	if code := resp.StatusCode(); code < 200 || code > 299 {
		if decodeErr == nil && envelope.Error != "" {
			return errors.Newf("%s %s: status %d: %s", method, path, code, envelope.Error)
		}
		return errors.Newf("%s %s: status %d", method, path, code)
	}
	if decodeErr != nil {
		return errors.Wrap(decodeErr, "decode response")
	}
	if !envelope.Success {
		msg := envelope.Error
		if msg == "" {
			msg = "request was not successful"
		}
		return errors.Newf("%s %s: %s", method, path, msg)
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return errors.Wrap(err, "decode response data")
		}
	}
	return nil
}

// requestTimeout is the configured timeout, shortened to the context's
// deadline when that comes first.
func (t *ErrorTracker) requestTimeout(ctx context.Context) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	timeout := t.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			if left <= 0 {
				return 0, context.DeadlineExceeded
			}
			timeout = left
		}
	}
	return timeout, nil
}

type namer interface {
	Name() string
}

// errorName picks the event type: Name() when the error provides one,
// otherwise the error's type name.
func errorName(err error) string {
	if n, ok := err.(namer); ok && n.Name() != "" {
		return n.Name()
	}
	name := strings.TrimLeft(fmt.Sprintf("%T", err), "*")
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	switch name {
	case "", "errorString", "wrapError", "wrapErrors", "joinError", "withStack", "withPrefix", "leafError":
		return "Error"
	}
	return name
}

// stackOf prefers the stack recorded inside err and falls back to the
// reporting goroutine's stack.
func stackOf(err error) string {
	if errors.GetReportableStackTrace(err) != nil {
		return fmt.Sprintf("%+v", err)
	}
	return string(debug.Stack())
}

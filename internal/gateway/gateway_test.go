package gateway_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/flemzord/cadence/internal/clock/clocktest"
	"github.com/flemzord/cadence/internal/connector"
	"github.com/flemzord/cadence/internal/connector/connectortest"
	"github.com/flemzord/cadence/internal/credential"
	"github.com/flemzord/cadence/internal/gateway"
	"github.com/flemzord/cadence/internal/job"
	"github.com/flemzord/cadence/internal/job/jobtest"
	"github.com/flemzord/cadence/internal/oauthstate"
	"github.com/flemzord/cadence/internal/security"
	"github.com/flemzord/cadence/internal/security/securitytest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type env struct {
	gw     *gateway.Gateway
	jobs   *job.Scheduler
	creds  *credential.MemoryStore
	conn   *connectortest.Mock
	fake   *clocktest.Fake
	events func() []security.AuditEvent
}

func newEnv(t *testing.T, cfg gateway.Config, health gateway.HealthFunc) *env {
	t.Helper()
	e := &env{
		fake:  clocktest.NewFake(epoch),
		creds: credential.NewMemoryStore(),
		conn:  &connectortest.Mock{Name: "linkedin"},
	}
	e.jobs = job.NewScheduler(job.NewMemoryStore(), jobtest.AllTypes(&jobtest.Recorder{}), job.Options{Clock: e.fake})

	reg := connector.NewRegistry()
	require.NoError(t, reg.Register(e.conn, 5*time.Minute))
	states := oauthstate.NewRegistry(oauthstate.NewMemoryStore(), oauthstate.Options{Clock: e.fake})
	coord := credential.NewCoordinator(e.creds, reg, credential.Options{Clock: e.fake, States: states})

	audit, events := securitytest.NewTestAuditLogger()
	e.events = events
	e.gw = gateway.New(cfg, gateway.Deps{
		Jobs:        e.jobs,
		Credentials: coord,
		Health:      health,
		Metrics:     http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("# metrics\n")) }),
		Redirects:   security.NewRedirectFilter(security.RedirectPolicy{AllowDomains: []string{"app.example.com"}}),
		Audit:       audit,
		Now:         e.fake.Now,
	})
	return e
}

func (e *env) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	rr := httptest.NewRecorder()
	e.gw.Handler().ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func scheduleBody(in time.Duration) map[string]any {
	return map[string]any{
		"job_type":  "one-shot-post",
		"owner_id":  "u1",
		"payload":   map[string]string{"msg": "hi"},
		"fire_time": epoch.Add(in).Format(time.RFC3339),
	}
}

func TestJobs_ScheduleStatusCancel(t *testing.T) {
	t.Parallel()
	e := newEnv(t, gateway.Config{}, nil)

	rr := e.do(t, http.MethodPost, "/api/jobs", scheduleBody(10*time.Minute))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode[job.Job](t, rr)
	assert.Equal(t, job.StatusPending, created.Status)
	assert.Equal(t, job.DefaultMaxAttempts, created.MaxAttempts)

	rr = e.do(t, http.MethodGet, "/api/jobs/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, created.ID, decode[job.Job](t, rr).ID)

	rr = e.do(t, http.MethodDelete, "/api/jobs/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, job.StatusCancelled, decode[job.Job](t, rr).Status)

	rr = e.do(t, http.MethodDelete, "/api/jobs/"+created.ID, nil)
	assert.Equal(t, http.StatusConflict, rr.Code)

	var types []security.EventType
	for _, ev := range e.events() {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []security.EventType{security.EventJobScheduled, security.EventJobCancelled}, types)
}

func TestJobs_ScheduleRejections(t *testing.T) {
	t.Parallel()
	e := newEnv(t, gateway.Config{}, nil)

	past := scheduleBody(-time.Second)
	rr := e.do(t, http.MethodPost, "/api/jobs", past)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "past_fire_time", decode[map[string]string](t, rr)["kind"])

	unknown := scheduleBody(time.Minute)
	unknown["job_type"] = "fax"
	rr = e.do(t, http.MethodPost, "/api/jobs", unknown)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	deep := scheduleBody(time.Minute)
	deep["payload"] = json.RawMessage(strings.Repeat("[", 40) + strings.Repeat("]", 40))
	rr = e.do(t, http.MethodPost, "/api/jobs", deep)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/jobs", strings.NewReader("{not json"))
	rr = httptest.NewRecorder()
	e.gw.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestJobs_StatusUnknown(t *testing.T) {
	t.Parallel()
	e := newEnv(t, gateway.Config{}, nil)

	rr := e.do(t, http.MethodGet, "/api/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestJobs_ListFilters(t *testing.T) {
	t.Parallel()
	e := newEnv(t, gateway.Config{}, nil)

	for _, in := range []time.Duration{time.Minute, 2 * time.Minute} {
		require.Equal(t, http.StatusCreated, e.do(t, http.MethodPost, "/api/jobs", scheduleBody(in)).Code)
	}
	first := decode[[]job.Job](t, e.do(t, http.MethodGet, "/api/owners/u1/jobs", nil))
	require.Len(t, first, 2)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodDelete, "/api/jobs/"+first[0].ID, nil).Code)

	rr := e.do(t, http.MethodGet, "/api/owners/u1/jobs?status=pending&type=one-shot-post", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	pending := decode[[]job.Job](t, rr)
	require.Len(t, pending, 1)
	assert.Equal(t, first[1].ID, pending[0].ID)

	rr = e.do(t, http.MethodGet, "/api/owners/nobody/jobs", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "[]\n", rr.Body.String())

	rr = e.do(t, http.MethodGet, "/api/owners/u1/jobs?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCredentials_TokenStatusAndRefresh(t *testing.T) {
	t.Parallel()
	e := newEnv(t, gateway.Config{}, nil)

	expires := epoch.Add(2 * time.Minute)
	require.NoError(t, e.creds.Upsert(context.Background(), credential.Credential{
		Platform:     "linkedin",
		AccountID:    "acct-1",
		OwnerID:      "u1",
		AccessToken:  "old",
		RefreshToken: "r1",
		ExpiresAt:    &expires,
		Status:       credential.StatusActive,
		CreatedAt:    epoch,
	}))
	e.conn.RefreshFunc = func(context.Context, connector.Token) (connector.TokenResult, error) {
		return connector.TokenResult{AccessToken: "new", ExpiresIn: time.Hour}, nil
	}

	rr := e.do(t, http.MethodGet, "/api/owners/u1/tokens", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	st := decode[[]credential.TokenStatus](t, rr)
	require.Len(t, st, 1)
	assert.True(t, st[0].Expiring)
	assert.NotContains(t, rr.Body.String(), "old")

	rr = e.do(t, http.MethodPost, "/api/owners/u1/refresh?platform=linkedin", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		Results  []credential.Outcome `json:"results"`
		Failures int                  `json:"failures"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.True(t, resp.Results[0].Refreshed)
	assert.Zero(t, resp.Failures)
	assert.Equal(t, 1, e.conn.RefreshCount())
}

func TestCredentials_RefreshFailureIsReported(t *testing.T) {
	t.Parallel()
	e := newEnv(t, gateway.Config{}, nil)

	expires := epoch.Add(time.Hour)
	require.NoError(t, e.creds.Upsert(context.Background(), credential.Credential{
		Platform: "linkedin", AccountID: "a", OwnerID: "u1", RefreshToken: "r",
		ExpiresAt: &expires, Status: credential.StatusActive, CreatedAt: epoch,
	}))
	e.conn.RefreshFunc = func(context.Context, connector.Token) (connector.TokenResult, error) {
		return connector.TokenResult{}, &connector.StatusError{Platform: "linkedin", Code: 400, Body: "invalid_grant"}
	}

	rr := e.do(t, http.MethodPost, "/api/owners/u1/refresh", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"failures":1`)
}

func TestOAuth_AuthorizeAndCallback(t *testing.T) {
	t.Parallel()
	e := newEnv(t, gateway.Config{}, nil)

	rr := e.do(t, http.MethodGet, "/oauth/linkedin/authorize?owner_id=u1&account_id=page-9&redirect_uri="+
		url.QueryEscape("https://app.example.com/cb"), nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	authURL, err := url.Parse(decode[map[string]string](t, rr)["authorize_url"])
	require.NoError(t, err)
	state := authURL.Query().Get("state")
	require.NotEmpty(t, state)

	rr = e.do(t, http.MethodGet, "/oauth/linkedin/callback?code=c1&state="+url.QueryEscape(state), nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	cred := decode[credential.Credential](t, rr)
	assert.Equal(t, "page-9", cred.AccountID)
	assert.Equal(t, "u1", cred.OwnerID)

	stored, err := e.creds.Get(context.Background(), "linkedin", "page-9")
	require.NoError(t, err)
	assert.Equal(t, "access-c1", stored.AccessToken)

	// Replay.
	rr = e.do(t, http.MethodGet, "/oauth/linkedin/callback?code=c1&state="+url.QueryEscape(state), nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid_state", decode[map[string]string](t, rr)["kind"])

	var types []security.EventType
	for _, ev := range e.events() {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []security.EventType{security.EventConnect, security.EventStateRejected}, types)
}

func TestOAuth_AuthorizeRejects(t *testing.T) {
	t.Parallel()
	e := newEnv(t, gateway.Config{}, nil)

	rr := e.do(t, http.MethodGet, "/oauth/linkedin/authorize?owner_id=u1&redirect_uri="+
		url.QueryEscape("https://evil.example.net/cb"), nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "redirect_blocked", decode[map[string]string](t, rr)["kind"])

	rr = e.do(t, http.MethodGet, "/oauth/tiktok/authorize?owner_id=u1&redirect_uri="+
		url.QueryEscape("https://app.example.com/cb"), nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = e.do(t, http.MethodGet, "/oauth/linkedin/authorize?owner_id=u1", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCredentials_Disconnect(t *testing.T) {
	t.Parallel()
	e := newEnv(t, gateway.Config{}, nil)

	require.NoError(t, e.creds.Upsert(context.Background(), credential.Credential{
		Platform: "linkedin", AccountID: "a", OwnerID: "u1", Status: credential.StatusActive, CreatedAt: epoch,
	}))
	rr := e.do(t, http.MethodDelete, "/api/credentials/linkedin/a", nil)
	require.Equal(t, http.StatusNoContent, rr.Code)

	c, err := e.creds.Get(context.Background(), "linkedin", "a")
	require.NoError(t, err)
	assert.Equal(t, credential.StatusDisconnected, c.Status)

	rr = e.do(t, http.MethodDelete, "/api/credentials/linkedin/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHealth(t *testing.T) {
	t.Parallel()

	healthy := newEnv(t, gateway.Config{}, func(context.Context) map[string]error {
		return map[string]error{"store": nil}
	})
	rr := healthy.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", decode[gateway.HealthResponse](t, rr).Checks["store"])

	degraded := newEnv(t, gateway.Config{}, func(context.Context) map[string]error {
		return map[string]error{"store": nil, "redis": errors.New("connection refused")}
	})
	rr = degraded.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	resp := decode[gateway.HealthResponse](t, rr)
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "connection refused", resp.Checks["redis"])
}

func TestAuth_ProtectsControlRoutesOnly(t *testing.T) {
	t.Parallel()
	e := newEnv(t, gateway.Config{Auth: gateway.AuthConfig{BearerToken: "tok"}}, nil)

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/metrics", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodGet, "/api/owners/u1/jobs", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodGet, "/status", nil).Code)
	// The callback carries its own proof in the state token.
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/oauth/linkedin/callback?code=c&state=s", nil).Code)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rr := httptest.NewRecorder()
	e.gw.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 0, decode[gateway.StatusResponse](t, rr).ArmedTimers)
}

func TestJobEvents_StreamsOwnerTransitions(t *testing.T) {
	t.Parallel()
	e := newEnv(t, gateway.Config{}, nil)

	srv := httptest.NewServer(e.gw.Handler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/jobs?owner_id=u1"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	// The subscription is registered after the upgrade; retry until an
	// event arrives.
	other := scheduleBody(time.Minute)
	other["owner_id"] = "u2"
	received := make(chan job.Event, 1)
	go func() {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var ev job.Event
		if json.Unmarshal(data, &ev) == nil {
			received <- ev
		}
	}()

	for {
		_, err := e.jobs.Schedule(ctx, mustRequest(t, other))
		require.NoError(t, err)
		_, err = e.jobs.Schedule(ctx, mustRequest(t, scheduleBody(time.Minute)))
		require.NoError(t, err)

		select {
		case ev := <-received:
			assert.Equal(t, "u1", ev.Job.OwnerID)
			assert.Equal(t, job.StatusPending, ev.Job.Status)
			return
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			t.Fatal("no job event received")
		}
	}
}

func TestJobEvents_SchedulerStopClosesStream(t *testing.T) {
	t.Parallel()
	e := newEnv(t, gateway.Config{}, nil)

	srv := httptest.NewServer(e.gw.Handler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/jobs"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	received := make(chan struct{}, 1)
	closed := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				closed <- err
				return
			}
			select {
			case received <- struct{}{}:
			default:
			}
		}
	}()

	// Wait until the stream is subscribed.
	subscribed := false
	for !subscribed {
		_, err := e.jobs.Schedule(ctx, mustRequest(t, scheduleBody(time.Minute)))
		require.NoError(t, err)
		select {
		case <-received:
			subscribed = true
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			t.Fatal("no job event received")
		}
	}

	require.NoError(t, e.jobs.Stop(ctx))

	select {
	case err := <-closed:
		assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
	case <-ctx.Done():
		t.Fatal("stream still open after scheduler stop")
	}
}

func mustRequest(t *testing.T, body map[string]any) job.Request {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	var req job.Request
	require.NoError(t, json.Unmarshal(raw, &req))
	return req
}

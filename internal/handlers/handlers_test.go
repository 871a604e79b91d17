package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/flemzord/cadence/internal/connector"
	"github.com/flemzord/cadence/internal/connector/connectortest"
	"github.com/flemzord/cadence/internal/credential"
	"github.com/flemzord/cadence/internal/job"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	mock  *connectortest.Mock
	store *credential.MemoryStore
	post  *Post
	email *Email
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mock := &connectortest.Mock{Name: "linkedin"}
	reg := connector.NewRegistry()
	require.NoError(t, reg.Register(mock, 0))

	store := credential.NewMemoryStore()
	require.NoError(t, store.Upsert(context.Background(), credential.Credential{
		Platform: "linkedin", AccountID: "a1", OwnerID: "u1",
		AccessToken: "tok", Status: credential.StatusActive,
	}))
	coord := credential.NewCoordinator(store, reg, credential.Options{})

	return &fixture{
		mock:  mock,
		store: store,
		post:  &Post{Tokens: coord, Connectors: reg},
		email: &Email{Tokens: coord, Connectors: reg},
	}
}

func postJob(payload string) job.Job {
	return job.Job{ID: "j1", Type: job.TypePost, OwnerID: "u1", Payload: json.RawMessage(payload)}
}

func TestPost_Publishes(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.mock.PostFunc = func(_ context.Context, tok connector.Token, _ json.RawMessage) (connector.PostResult, error) {
		assert.Equal(t, "tok", tok.AccessToken)
		assert.Equal(t, "a1", tok.AccountID)
		return connector.PostResult{PlatformPostID: "urn:li:share:9"}, nil
	}

	out, err := f.post.Execute(context.Background(), postJob(`{"platform":"linkedin","account_id":"a1","content":{"text":"hi"}}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"platform_post_id":"urn:li:share:9"}`, string(out))

	posts := f.mock.Posts()
	require.Len(t, posts, 1)
	assert.JSONEq(t, `{"text":"hi"}`, string(posts[0]))
}

func TestEmail_SendsThroughConnector(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	j := job.Job{ID: "j2", Type: job.TypeEmail, Payload: json.RawMessage(
		`{"platform":"linkedin","account_id":"a1","to":["a@example.com"],"subject":"Hello","body":"Hi there"}`,
	)}

	out, err := f.email.Execute(context.Background(), j)
	require.NoError(t, err)
	assert.JSONEq(t, `{"platform_post_id":"post-1"}`, string(out))

	posts := f.mock.Posts()
	require.Len(t, posts, 1)
	assert.JSONEq(t, `{"to":["a@example.com"],"subject":"Hello","body":"Hi there"}`, string(posts[0]))
}

func TestPost_PermanentFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
		setup   func(f *fixture)
	}{
		{name: "malformed payload", payload: `{"platform":`},
		{name: "missing account", payload: `{"platform":"linkedin","content":{}}`},
		{name: "missing content", payload: `{"platform":"linkedin","account_id":"a1"}`},
		{name: "unknown platform", payload: `{"platform":"myspace","account_id":"a1","content":{}}`},
		{name: "unknown account", payload: `{"platform":"linkedin","account_id":"zz","content":{}}`},
		{
			name:    "disconnected account",
			payload: `{"platform":"linkedin","account_id":"a1","content":{}}`,
			setup: func(f *fixture) {
				require.NoError(t, f.store.SetStatus(context.Background(), "linkedin", "a1", credential.StatusDisconnected, time.Now()))
			},
		},
		{
			name:    "client error from platform",
			payload: `{"platform":"linkedin","account_id":"a1","content":{}}`,
			setup: func(f *fixture) {
				f.mock.PostFunc = func(context.Context, connector.Token, json.RawMessage) (connector.PostResult, error) {
					return connector.PostResult{}, &connector.StatusError{Platform: "linkedin", Code: 422, Body: "duplicate"}
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			if tt.setup != nil {
				tt.setup(f)
			}
			_, err := f.post.Execute(context.Background(), postJob(tt.payload))
			require.Error(t, err)
			assert.True(t, job.IsPermanent(err), "want permanent, got %v", err)
		})
	}
}

func TestPost_TransientFailuresAreRetryable(t *testing.T) {
	t.Parallel()

	for _, postErr := range []error{
		&connector.StatusError{Platform: "linkedin", Code: 503},
		&connector.StatusError{Platform: "linkedin", Code: 429},
		errors.New("connection reset by peer"),
	} {
		f := newFixture(t)
		f.mock.PostFunc = func(context.Context, connector.Token, json.RawMessage) (connector.PostResult, error) {
			return connector.PostResult{}, postErr
		}
		_, err := f.post.Execute(context.Background(), postJob(`{"platform":"linkedin","account_id":"a1","content":{}}`))
		require.Error(t, err)
		assert.False(t, job.IsPermanent(err), "want retryable for %v", postErr)
	}
}

func TestEmail_RequiresRecipients(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.email.Execute(context.Background(), job.Job{Payload: json.RawMessage(`{"platform":"linkedin","account_id":"a1"}`)})
	require.Error(t, err)
	assert.True(t, job.IsPermanent(err))
	assert.Empty(t, f.mock.Posts())
}

func TestEmail_DefaultPlatform(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.email.DefaultPlatform = "linkedin"
	_, err := f.email.Execute(context.Background(), job.Job{
		ID:      "j2",
		Payload: json.RawMessage(`{"account_id":"a1","to":["a@example.com"],"subject":"s","body":"b"}`),
	})
	require.NoError(t, err)
	require.Len(t, f.mock.Posts(), 1)
}

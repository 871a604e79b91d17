package connector_test

import (
	"errors"
	"testing"
	"time"

	"github.com/flemzord/cadence/internal/connector"
	"github.com/flemzord/cadence/internal/connector/connectortest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	t.Parallel()

	r := connector.NewRegistry()
	require.NoError(t, r.Register(&connectortest.Mock{Name: "linkedin"}, 0))
	require.NoError(t, r.Register(&connectortest.Mock{Name: "gmail"}, 15*time.Minute))

	c, err := r.Get("linkedin")
	require.NoError(t, err)
	assert.Equal(t, "linkedin", c.Platform())

	assert.Equal(t, connector.DefaultRefreshThreshold, r.Threshold("linkedin"))
	assert.Equal(t, 15*time.Minute, r.Threshold("gmail"))
	assert.Equal(t, connector.DefaultRefreshThreshold, r.Threshold("unknown"))
	assert.Equal(t, []string{"gmail", "linkedin"}, r.Platforms())
}

func TestRegistry_Errors(t *testing.T) {
	t.Parallel()

	r := connector.NewRegistry()
	require.NoError(t, r.Register(&connectortest.Mock{Name: "x"}, 0))

	err := r.Register(&connectortest.Mock{Name: "x"}, 0)
	require.ErrorIs(t, err, connector.ErrDuplicatePlatform)

	_, err = r.Get("y")
	require.ErrorIs(t, err, connector.ErrUnknownPlatform)
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"plain", errors.New("connection reset"), true},
		{"rate limited", &connector.StatusError{Code: 429}, true},
		{"server error", &connector.StatusError{Code: 503}, true},
		{"bad request", &connector.StatusError{Code: 400}, false},
		{"unauthorized", &connector.StatusError{Code: 401}, false},
		{"no refresh token", connector.ErrNoRefreshToken, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, connector.IsRetryable(tt.err))
		})
	}
}

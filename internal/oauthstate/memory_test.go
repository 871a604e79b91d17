package oauthstate_test

import (
	"testing"

	"github.com/flemzord/cadence/internal/oauthstate"
	"github.com/flemzord/cadence/internal/oauthstate/oauthstatetest"
)

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	oauthstatetest.RunStoreSuite(t, func(*testing.T) oauthstate.Store {
		return oauthstate.NewMemoryStore()
	})
}

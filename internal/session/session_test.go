package session_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mongodb-tool-broker/broker/internal/mongoprovider"
	"github.com/mongodb-tool-broker/broker/internal/mongoprovider/fake"
	"github.com/mongodb-tool-broker/broker/internal/session"
	"github.com/mongodb-tool-broker/broker/internal/toolerrors"
)

func dialerFor(p mongoprovider.Provider, dialCount *atomic.Int32) session.Dialer {
	return func(context.Context, string) (mongoprovider.Provider, error) {
		if dialCount != nil {
			dialCount.Add(1)
		}
		return p, nil
	}
}

func TestEnsureConnectedFailsWithoutDefault(t *testing.T) {
	mgr := session.NewManager(dialerFor(fake.New(), nil), "")
	_, err := mgr.EnsureConnected(context.Background(), "s1")
	require.Error(t, err)
	assert.Equal(t, toolerrors.NotConnected, toolerrors.CodeOf(err))
}

func TestEnsureConnectedAutoConnectsWithDefault(t *testing.T) {
	p := fake.New()
	mgr := session.NewManager(dialerFor(p, nil), "mongodb://localhost/test")

	got, err := mgr.EnsureConnected(context.Background(), "s1")
	require.NoError(t, err)
	assert.Same(t, p, got)

	snap, ok := mgr.Get("s1")
	require.True(t, ok)
	assert.Equal(t, session.StateConnected, snap.State)
	assert.Equal(t, "scram", snap.AuthType)
}

func TestEnsureConnectedReusesExistingProvider(t *testing.T) {
	var dials atomic.Int32
	p := fake.New()
	mgr := session.NewManager(dialerFor(p, &dials), "mongodb://localhost/test")

	_, err := mgr.EnsureConnected(context.Background(), "s1")
	require.NoError(t, err)
	_, err = mgr.EnsureConnected(context.Background(), "s1")
	require.NoError(t, err)

	assert.Equal(t, int32(1), dials.Load())
}

func TestConnectFailurePropagatesConnectionFailed(t *testing.T) {
	dial := func(context.Context, string) (mongoprovider.Provider, error) {
		return nil, errors.New("dial tcp: refused")
	}
	mgr := session.NewManager(dial, "")
	_, err := mgr.Connect(context.Background(), "s1", "mongodb://bad")
	require.Error(t, err)
	assert.Equal(t, toolerrors.ConnectionFailed, toolerrors.CodeOf(err))

	snap, ok := mgr.Get("s1")
	require.True(t, ok)
	assert.Equal(t, session.StateErrored, snap.State)
}

func TestDisconnectResetsState(t *testing.T) {
	p := fake.New()
	mgr := session.NewManager(dialerFor(p, nil), "mongodb://localhost/test")

	_, err := mgr.EnsureConnected(context.Background(), "s1")
	require.NoError(t, err)

	require.NoError(t, mgr.Disconnect(context.Background(), "s1"))

	snap, ok := mgr.Get("s1")
	require.True(t, ok)
	assert.Equal(t, session.StateDisconnected, snap.State)
	assert.Nil(t, snap.Provider)
}

func TestConcurrentEnsureConnectedDialsOnce(t *testing.T) {
	var dials atomic.Int32
	p := fake.New()
	mgr := session.NewManager(dialerFor(p, &dials), "mongodb://localhost/test")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := mgr.EnsureConnected(context.Background(), "s1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), dials.Load())
}

func TestDetectAuthType(t *testing.T) {
	cases := map[string]string{
		"mongodb://u:p@host/db":                                      "scram",
		"mongodb://host/db?authMechanism=MONGODB-X509":                "x.509",
		"mongodb://host/db?authMechanism=GSSAPI":                      "kerberos",
		"mongodb://host/db?authMechanism=PLAIN":                       "ldap",
		"mongodb://host/db?authMechanism=MONGODB-OIDC":                "oidc-device-flow",
		"mongodb://host/db?authMechanism=MONGODB-OIDC&ALLOWED_HOSTS=*": "oidc-auth-flow",
	}
	for uri, want := range cases {
		assert.Equal(t, want, session.DetectAuthType(uri), uri)
	}
}

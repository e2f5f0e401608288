package atlasclient_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mongodb-tool-broker/broker/internal/atlasclient"
	"github.com/mongodb-tool-broker/broker/internal/keychain"
)

// digestServer issues a 401 challenge on the first request per path, then
// accepts any Authorization header on the second, mirroring the Atlas Admin
// API's always-challenge behavior closely enough to exercise the client's
// two-round-trip flow.
func digestServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			w.Header().Set("WWW-Authenticate", `Digest realm="MMS Public API", nonce="abc123", qop="auth"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		handler(w, r)
	}))
}

func TestListOrganizationsSendsDigestAuth(t *testing.T) {
	srv := digestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Authorization"), "Digest username=")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]string{{"id": "org1", "name": "Acme"}},
		})
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	orgs, err := client.ListOrganizations(context.Background())
	require.NoError(t, err)
	require.Len(t, orgs, 1)
	assert.Equal(t, "Acme", orgs[0].Name)
}

func TestCreateDBUserIncludesLifetime(t *testing.T) {
	var captured map[string]any
	srv := digestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&captured)
		w.WriteHeader(http.StatusCreated)
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	err := client.CreateDBUser(context.Background(), "proj1", atlasclient.DBUser{Username: "bob"}, "hunter2", 14400000)
	require.NoError(t, err)
	assert.Equal(t, "bob", captured["username"])
	assert.EqualValues(t, 14400000, captured["deleteAfterDate"])
}

func TestNonSuccessStatusIsAnError(t *testing.T) {
	srv := digestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"detail":"forbidden"}`))
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.ListOrganizations(context.Background())
	require.Error(t, err)
}

func newTestClient(t *testing.T, baseURL string) atlasclient.Client {
	t.Helper()
	kc := keychain.New()
	client := atlasclient.NewWithBaseURL(baseURL, "pub", "priv", kc)
	return client
}

package atlas_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mongodb-tool-broker/broker/internal/atlasclient"
	"github.com/mongodb-tool-broker/broker/internal/config"
	"github.com/mongodb-tool-broker/broker/internal/dispatcher"
	"github.com/mongodb-tool-broker/broker/internal/mongoprovider"
	"github.com/mongodb-tool-broker/broker/internal/mongoprovider/fake"
	"github.com/mongodb-tool-broker/broker/internal/session"
	"github.com/mongodb-tool-broker/broker/tools/atlas"
)

type fakeClient struct {
	orgs          []atlasclient.Organization
	clusters      []atlasclient.Cluster
	createdAccess []atlasclient.AccessListEntry
	createdUsers  []atlasclient.DBUser
}

func (f *fakeClient) ListOrganizations(context.Context) ([]atlasclient.Organization, error) {
	return f.orgs, nil
}
func (f *fakeClient) ListProjects(context.Context, string) ([]atlasclient.Project, error) {
	return nil, nil
}
func (f *fakeClient) ListClusters(context.Context, string) ([]atlasclient.Cluster, error) {
	return f.clusters, nil
}
func (f *fakeClient) InspectCluster(_ context.Context, _, clusterName string) (atlasclient.Cluster, error) {
	for _, c := range f.clusters {
		if c.Name == clusterName {
			return c, nil
		}
	}
	return atlasclient.Cluster{}, assertNotFound{}
}
func (f *fakeClient) CreateAccessListEntry(_ context.Context, _ string, entry atlasclient.AccessListEntry) error {
	f.createdAccess = append(f.createdAccess, entry)
	return nil
}
func (f *fakeClient) CreateDBUser(_ context.Context, _ string, user atlasclient.DBUser, _ string, _ int64) error {
	f.createdUsers = append(f.createdUsers, user)
	return nil
}
func (f *fakeClient) ListDBUsers(context.Context, string) ([]atlasclient.DBUser, error) {
	return nil, nil
}

type assertNotFound struct{}

func (assertNotFound) Error() string { return "cluster not found" }

func newDispatcher(t *testing.T, client atlasclient.Client, opts ...dispatcher.Option) (*dispatcher.Dispatcher, *session.Manager) {
	t.Helper()
	d := dispatcher.New(opts...)
	atlas.Register(d, func(*dispatcher.ExecutionContext) (atlasclient.Client, error) { return client, nil })
	sessions := session.NewManager(func(context.Context, string) (mongoprovider.Provider, error) {
		return fake.New(), nil
	}, "")
	return d, sessions
}

func invoke(t *testing.T, d *dispatcher.Dispatcher, sessions *session.Manager, name, args string) dispatcher.Result {
	t.Helper()
	return d.Invoke(context.Background(), config.Defaults(), sessions, "s1", name, json.RawMessage(args))
}

func TestListOrgsReturnsResults(t *testing.T) {
	client := &fakeClient{orgs: []atlasclient.Organization{{ID: "o1", Name: "Acme"}}}
	d, sessions := newDispatcher(t, client)

	result := invoke(t, d, sessions, "atlas-list-orgs", `{}`)
	require.False(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "Found 1 organization(s).")
}

func TestCreateAccessListRequiresIPOrCIDR(t *testing.T) {
	client := &fakeClient{}
	d, sessions := newDispatcher(t, client, dispatcher.WithConfirmer(dispatcher.AutoApprove))

	result := invoke(t, d, sessions, "atlas-create-access-list", `{"projectId": "p1"}`)
	require.True(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "InvalidArguments")
}

func TestCreateAccessListRequiresConfirmation(t *testing.T) {
	client := &fakeClient{}
	d, sessions := newDispatcher(t, client, dispatcher.WithConfirmer(dispatcher.ConfirmerFunc(
		func(context.Context, string, string) (bool, error) { return false, nil },
	)))

	result := invoke(t, d, sessions, "atlas-create-access-list", `{"projectId": "p1", "ipAddress": "1.2.3.4"}`)
	require.False(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "not confirmed")
	assert.Empty(t, client.createdAccess)
}

func TestConnectClusterPrefersSRV(t *testing.T) {
	cluster := atlasclient.Cluster{Name: "cluster0"}
	cluster.ConnectionStrings.StandardSrv = "mongodb+srv://cluster0.example.mongodb.net"
	cluster.ConnectionStrings.Standard = "mongodb://cluster0-shard-00-00.example.mongodb.net:27017"
	client := &fakeClient{clusters: []atlasclient.Cluster{cluster}}
	d, sessions := newDispatcher(t, client)

	result := invoke(t, d, sessions, "atlas-connect-cluster", `{"projectId": "p1", "clusterName": "cluster0"}`)
	require.False(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "Connected to cluster cluster0.")
	snap, ok := sessions.Get("s1")
	require.True(t, ok)
	assert.Equal(t, cluster.ConnectionStrings.StandardSrv, snap.ConnectionString)
}

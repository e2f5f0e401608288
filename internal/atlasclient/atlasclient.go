// Package atlasclient is a narrow facade over the Atlas Administration API
// (spec.md §4.7). The pack carries no lightweight Atlas SDK, so this one
// package is deliberately net/http-backed; see DESIGN.md for why no
// third-party client could serve it. Digest authentication (the scheme the
// real Atlas Admin API requires for programmatic API keys) is handled with
// a single challenge/response round trip rather than a client-side
// fallback, since every Atlas endpoint always challenges the first request.
package atlasclient

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mongodb-tool-broker/broker/internal/keychain"
	"github.com/mongodb-tool-broker/broker/internal/toolerrors"
)

const defaultBaseURL = "https://cloud.mongodb.com/api/atlas/v2"

// Organization is one entry returned by list-orgs.
type Organization struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Project is one entry returned by list-projects.
type Project struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	OrgID string `json:"orgId"`
}

// Cluster describes one cluster as returned by list-clusters/inspect-cluster.
type Cluster struct {
	Name          string `json:"name"`
	StateName     string `json:"stateName"`
	MongoDBVersion string `json:"mongoDBVersion"`
	ConnectionStrings struct {
		Standard    string `json:"standard"`
		StandardSrv string `json:"standardSrv"`
	} `json:"connectionStrings"`
}

// DBUser describes one database user.
type DBUser struct {
	Username string `json:"username"`
	Roles    []struct {
		RoleName     string `json:"roleName"`
		DatabaseName string `json:"databaseName"`
	} `json:"roles"`
}

// AccessListEntry is one IP-access-list entry creation request/response.
type AccessListEntry struct {
	IPAddress string `json:"ipAddress,omitempty"`
	CIDRBlock string `json:"cidrBlock,omitempty"`
	Comment   string `json:"comment,omitempty"`
}

// Client is the subset of Atlas Admin API operations the tool family calls,
// narrowed for testability behind a fake in tests.
type Client interface {
	ListOrganizations(ctx context.Context) ([]Organization, error)
	ListProjects(ctx context.Context, orgID string) ([]Project, error)
	ListClusters(ctx context.Context, projectID string) ([]Cluster, error)
	InspectCluster(ctx context.Context, projectID, clusterName string) (Cluster, error)
	CreateAccessListEntry(ctx context.Context, projectID string, entry AccessListEntry) error
	CreateDBUser(ctx context.Context, projectID string, user DBUser, password string, lifetimeMs int64) error
	ListDBUsers(ctx context.Context, projectID string) ([]DBUser, error)
}

type httpClient struct {
	base       string
	publicKey  string
	privateKey string
	http       *http.Client
	keychain   *keychain.Keychain
}

// New constructs a Client authenticated with an Atlas programmatic API key
// pair. The private key is registered with kc so it is redacted from any
// logged text.
func New(publicKey, privateKey string, kc *keychain.Keychain) Client {
	return NewWithBaseURL(defaultBaseURL, publicKey, privateKey, kc)
}

// NewWithBaseURL is New with an overridable base URL, for pointing at a test
// server.
func NewWithBaseURL(baseURL, publicKey, privateKey string, kc *keychain.Keychain) Client {
	if kc != nil {
		kc.Append(privateKey, keychain.KindPassword)
	}
	return &httpClient{
		base:       baseURL,
		publicKey:  publicKey,
		privateKey: privateKey,
		http:       &http.Client{},
		keychain:   kc,
	}
}

func (c *httpClient) ListOrganizations(ctx context.Context) ([]Organization, error) {
	var out struct {
		Results []Organization `json:"results"`
	}
	if err := c.do(ctx, http.MethodGet, "/orgs", nil, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

func (c *httpClient) ListProjects(ctx context.Context, orgID string) ([]Project, error) {
	var out struct {
		Results []Project `json:"results"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/orgs/%s/groups", orgID), nil, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

func (c *httpClient) ListClusters(ctx context.Context, projectID string) ([]Cluster, error) {
	var out struct {
		Results []Cluster `json:"results"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/groups/%s/clusters", projectID), nil, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

func (c *httpClient) InspectCluster(ctx context.Context, projectID, clusterName string) (Cluster, error) {
	var out Cluster
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/groups/%s/clusters/%s", projectID, clusterName), nil, &out); err != nil {
		return Cluster{}, err
	}
	return out, nil
}

func (c *httpClient) CreateAccessListEntry(ctx context.Context, projectID string, entry AccessListEntry) error {
	body := []AccessListEntry{entry}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/groups/%s/accessList", projectID), body, nil)
}

func (c *httpClient) CreateDBUser(ctx context.Context, projectID string, user DBUser, password string, lifetimeMs int64) error {
	body := map[string]any{
		"username":     user.Username,
		"password":     password,
		"roles":        user.Roles,
		"databaseName": "admin",
	}
	if lifetimeMs > 0 {
		body["deleteAfterDate"] = lifetimeMs
	}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/groups/%s/databaseUsers", projectID), body, nil)
}

func (c *httpClient) ListDBUsers(ctx context.Context, projectID string) ([]DBUser, error) {
	var out struct {
		Results []DBUser `json:"results"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/groups/%s/databaseUsers", projectID), nil, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

func (c *httpClient) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return toolerrors.New(toolerrors.Unexpected, "failed to encode Atlas request body").WithCause(err)
		}
	}

	url := c.base + path
	challenge, err := c.probe(ctx, method, url)
	if err != nil {
		return toolerrors.New(toolerrors.Unexpected, "failed to reach Atlas Admin API").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return toolerrors.New(toolerrors.Unexpected, "failed to build Atlas request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/vnd.atlas.2023-11-15+json")
	req.Header.Set("Authorization", digestResponse(challenge, c.publicKey, c.privateKey, method, url))

	resp, err := c.http.Do(req)
	if err != nil {
		return toolerrors.New(toolerrors.Unexpected, "Atlas request failed").WithCause(err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return toolerrors.New(toolerrors.Unexpected, "failed to read Atlas response").WithCause(err)
	}
	if resp.StatusCode >= 300 {
		return toolerrors.New(toolerrors.Unexpected, fmt.Sprintf("Atlas API returned %d: %s", resp.StatusCode, string(data)))
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return toolerrors.New(toolerrors.Unexpected, "failed to decode Atlas response").WithCause(err)
	}
	return nil
}

// digestChallenge holds the parameters the server returns in a 401
// WWW-Authenticate: Digest header.
type digestChallenge struct {
	realm, nonce, qop, opaque string
}

// probe issues a throwaway unauthenticated request to collect the Digest
// challenge, as the Atlas Admin API never accepts credentials on a first
// request regardless of whether they are valid.
func (c *httpClient) probe(ctx context.Context, method, url string) (digestChallenge, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return digestChallenge{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return digestChallenge{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	return parseDigestChallenge(resp.Header.Get("WWW-Authenticate")), nil
}

func parseDigestChallenge(header string) digestChallenge {
	var ch digestChallenge
	header = strings.TrimPrefix(header, "Digest ")
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := kv[0]
		value := strings.Trim(kv[1], `"`)
		switch key {
		case "realm":
			ch.realm = value
		case "nonce":
			ch.nonce = value
		case "qop":
			ch.qop = value
		case "opaque":
			ch.opaque = value
		}
	}
	return ch
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func digestResponse(ch digestChallenge, username, password, method, rawURL string) string {
	ha1 := md5Hex(fmt.Sprintf("%s:%s:%s", username, ch.realm, password))
	ha2 := md5Hex(fmt.Sprintf("%s:%s", method, rawURL))
	nc := "00000001"
	cnonce := md5Hex(ch.nonce + username)[:8]
	response := md5Hex(fmt.Sprintf("%s:%s:%s:%s:%s:%s", ha1, ch.nonce, nc, cnonce, ch.qop, ha2))
	return fmt.Sprintf(
		`Digest username="%s", realm="%s", nonce="%s", uri="%s", qop=%s, nc=%s, cnonce="%s", response="%s", opaque="%s"`,
		username, ch.realm, ch.nonce, rawURL, ch.qop, nc, cnonce, response, ch.opaque,
	)
}

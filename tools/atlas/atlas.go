// Package atlas registers the Atlas Admin API tool family (spec.md §6,
// SPEC_FULL.md §4.7) into a dispatcher.Dispatcher. Every tool is a thin
// argument-shaping layer over internal/atlasclient.Client; atlas-connect-cluster
// additionally resolves a cluster's connection string and feeds it into the
// session's Connect machinery, reusing the mongodb tool family's pattern.
package atlas

import (
	"encoding/json"
	"fmt"

	"github.com/mongodb-tool-broker/broker/internal/atlasclient"
	"github.com/mongodb-tool-broker/broker/internal/dispatcher"
	"github.com/mongodb-tool-broker/broker/internal/toolerrors"
	"github.com/mongodb-tool-broker/broker/internal/toolspec"
)

// ClientFactory builds (or looks up) the Atlas client for a call. Atlas
// credentials are configured once at process start rather than per session,
// so most implementations simply close over a single *atlasclient.Client.
type ClientFactory func(ctx *dispatcher.ExecutionContext) (atlasclient.Client, error)

// Register adds every Atlas tool to d.
func Register(d *dispatcher.Dispatcher, clientFactory ClientFactory) {
	if clientFactory == nil {
		clientFactory = func(*dispatcher.ExecutionContext) (atlasclient.Client, error) {
			return nil, toolerrors.New(toolerrors.FeatureDisabled, "Atlas API credentials are not configured")
		}
	}
	d.Register(listOrgsTool(clientFactory))
	d.Register(listProjectsTool(clientFactory))
	d.Register(listClustersTool(clientFactory))
	d.Register(inspectClusterTool(clientFactory))
	d.Register(createAccessListTool(clientFactory))
	d.Register(createDBUserTool(clientFactory))
	d.Register(listDBUsersTool(clientFactory))
	d.Register(connectClusterTool(clientFactory))
}

func schema(name, raw string) *toolspec.ArgsShape {
	args, err := toolspec.Compile(name, json.RawMessage(raw))
	if err != nil {
		panic(fmt.Sprintf("atlas: invalid schema for %s: %v", name, err))
	}
	return args
}

func listOrgsTool(clientFactory ClientFactory) dispatcher.Tool {
	return dispatcher.Tool{
		Spec: toolspec.Spec{
			Name:          "atlas-list-orgs",
			Category:      toolspec.CategoryAtlas,
			OperationType: toolspec.OperationRead,
			Description:   "List the Atlas organizations reachable with the configured API key.",
			Args:          schema("atlas-list-orgs", `{"type": "object", "additionalProperties": false}`),
		},
		Execute: func(ctx *dispatcher.ExecutionContext, args map[string]any) (dispatcher.Result, error) {
			client, err := clientFactory(ctx)
			if err != nil {
				return dispatcher.Result{}, err
			}
			orgs, err := client.ListOrganizations(ctx)
			if err != nil {
				return dispatcher.Result{}, err
			}
			return dispatcher.UntrustedJSON(fmt.Sprintf("Found %d organization(s).", len(orgs)), orgs), nil
		},
	}
}

func listProjectsTool(clientFactory ClientFactory) dispatcher.Tool {
	return dispatcher.Tool{
		Spec: toolspec.Spec{
			Name:          "atlas-list-projects",
			Category:      toolspec.CategoryAtlas,
			OperationType: toolspec.OperationRead,
			Description:   "List the Atlas projects within an organization.",
			Args: schema("atlas-list-projects", `{
				"type": "object",
				"properties": {"orgId": {"type": "string"}},
				"required": ["orgId"],
				"additionalProperties": false
			}`),
		},
		Execute: func(ctx *dispatcher.ExecutionContext, args map[string]any) (dispatcher.Result, error) {
			client, err := clientFactory(ctx)
			if err != nil {
				return dispatcher.Result{}, err
			}
			projects, err := client.ListProjects(ctx, args["orgId"].(string))
			if err != nil {
				return dispatcher.Result{}, err
			}
			return dispatcher.UntrustedJSON(fmt.Sprintf("Found %d project(s).", len(projects)), projects), nil
		},
	}
}

func listClustersTool(clientFactory ClientFactory) dispatcher.Tool {
	return dispatcher.Tool{
		Spec: toolspec.Spec{
			Name:          "atlas-list-clusters",
			Category:      toolspec.CategoryAtlas,
			OperationType: toolspec.OperationRead,
			Description:   "List the clusters in an Atlas project.",
			Args: schema("atlas-list-clusters", `{
				"type": "object",
				"properties": {"projectId": {"type": "string"}},
				"required": ["projectId"],
				"additionalProperties": false
			}`),
		},
		Execute: func(ctx *dispatcher.ExecutionContext, args map[string]any) (dispatcher.Result, error) {
			client, err := clientFactory(ctx)
			if err != nil {
				return dispatcher.Result{}, err
			}
			clusters, err := client.ListClusters(ctx, args["projectId"].(string))
			if err != nil {
				return dispatcher.Result{}, err
			}
			return dispatcher.UntrustedJSON(fmt.Sprintf("Found %d cluster(s).", len(clusters)), clusters), nil
		},
	}
}

func inspectClusterTool(clientFactory ClientFactory) dispatcher.Tool {
	return dispatcher.Tool{
		Spec: toolspec.Spec{
			Name:          "atlas-inspect-cluster",
			Category:      toolspec.CategoryAtlas,
			OperationType: toolspec.OperationRead,
			Description:   "Fetch the full detail of one Atlas cluster, including its connection strings.",
			Args: schema("atlas-inspect-cluster", `{
				"type": "object",
				"properties": {
					"projectId": {"type": "string"},
					"clusterName": {"type": "string"}
				},
				"required": ["projectId", "clusterName"],
				"additionalProperties": false
			}`),
		},
		Execute: func(ctx *dispatcher.ExecutionContext, args map[string]any) (dispatcher.Result, error) {
			client, err := clientFactory(ctx)
			if err != nil {
				return dispatcher.Result{}, err
			}
			cluster, err := client.InspectCluster(ctx, args["projectId"].(string), args["clusterName"].(string))
			if err != nil {
				return dispatcher.Result{}, err
			}
			return dispatcher.UntrustedJSON(fmt.Sprintf("Cluster %s is %s.", cluster.Name, cluster.StateName), cluster), nil
		},
	}
}

func createAccessListTool(clientFactory ClientFactory) dispatcher.Tool {
	return dispatcher.Tool{
		Spec: toolspec.Spec{
			Name:          "atlas-create-access-list",
			Category:      toolspec.CategoryAtlas,
			OperationType: toolspec.OperationCreate,
			Description:   "Add an IP address or CIDR block to a project's access list.",
			Args: schema("atlas-create-access-list", `{
				"type": "object",
				"properties": {
					"projectId": {"type": "string"},
					"ipAddress": {"type": "string"},
					"cidrBlock": {"type": "string"},
					"comment": {"type": "string"}
				},
				"required": ["projectId"],
				"additionalProperties": false
			}`),
			ConfirmationTemplate: "This will add a new entry to the project's IP access list. Continue?",
		},
		Execute: func(ctx *dispatcher.ExecutionContext, args map[string]any) (dispatcher.Result, error) {
			client, err := clientFactory(ctx)
			if err != nil {
				return dispatcher.Result{}, err
			}
			entry := atlasclient.AccessListEntry{}
			if v, ok := args["ipAddress"].(string); ok {
				entry.IPAddress = v
			}
			if v, ok := args["cidrBlock"].(string); ok {
				entry.CIDRBlock = v
			}
			if v, ok := args["comment"].(string); ok {
				entry.Comment = v
			}
			if entry.IPAddress == "" && entry.CIDRBlock == "" {
				return dispatcher.Result{}, toolerrors.New(toolerrors.InvalidArguments, "one of ipAddress or cidrBlock is required")
			}
			if err := client.CreateAccessListEntry(ctx, args["projectId"].(string), entry); err != nil {
				return dispatcher.Result{}, err
			}
			return dispatcher.Text("Access list entry created successfully."), nil
		},
	}
}

func createDBUserTool(clientFactory ClientFactory) dispatcher.Tool {
	return dispatcher.Tool{
		Spec: toolspec.Spec{
			Name:          "atlas-create-db-user",
			Category:      toolspec.CategoryAtlas,
			OperationType: toolspec.OperationCreate,
			Description:   "Create a temporary or permanent database user on an Atlas project.",
			Args: schema("atlas-create-db-user", `{
				"type": "object",
				"properties": {
					"projectId": {"type": "string"},
					"username": {"type": "string"},
					"password": {"type": "string"},
					"roles": {
						"type": "array",
						"items": {
							"type": "object",
							"properties": {
								"roleName": {"type": "string"},
								"databaseName": {"type": "string"}
							},
							"required": ["roleName"]
						}
					},
					"temporaryUserLifetimeMs": {"type": "integer"}
				},
				"required": ["projectId", "username", "password", "roles"],
				"additionalProperties": false
			}`),
			ConfirmationTemplate: "This will create a new database user with the given credentials. Continue?",
		},
		Execute: func(ctx *dispatcher.ExecutionContext, args map[string]any) (dispatcher.Result, error) {
			client, err := clientFactory(ctx)
			if err != nil {
				return dispatcher.Result{}, err
			}
			user := atlasclient.DBUser{Username: args["username"].(string)}
			rawRoles, _ := args["roles"].([]any)
			for _, rr := range rawRoles {
				roleMap, ok := rr.(map[string]any)
				if !ok {
					continue
				}
				roleName, _ := roleMap["roleName"].(string)
				dbName, _ := roleMap["databaseName"].(string)
				user.Roles = append(user.Roles, struct {
					RoleName     string `json:"roleName"`
					DatabaseName string `json:"databaseName"`
				}{RoleName: roleName, DatabaseName: dbName})
			}
			var lifetimeMs int64
			if v, ok := args["temporaryUserLifetimeMs"].(float64); ok {
				lifetimeMs = int64(v)
			}
			if err := client.CreateDBUser(ctx, args["projectId"].(string), user, args["password"].(string), lifetimeMs); err != nil {
				return dispatcher.Result{}, err
			}
			return dispatcher.Text(fmt.Sprintf("Database user %s created successfully.", user.Username)), nil
		},
	}
}

func listDBUsersTool(clientFactory ClientFactory) dispatcher.Tool {
	return dispatcher.Tool{
		Spec: toolspec.Spec{
			Name:          "atlas-list-db-users",
			Category:      toolspec.CategoryAtlas,
			OperationType: toolspec.OperationRead,
			Description:   "List the database users configured on an Atlas project.",
			Args: schema("atlas-list-db-users", `{
				"type": "object",
				"properties": {"projectId": {"type": "string"}},
				"required": ["projectId"],
				"additionalProperties": false
			}`),
		},
		Execute: func(ctx *dispatcher.ExecutionContext, args map[string]any) (dispatcher.Result, error) {
			client, err := clientFactory(ctx)
			if err != nil {
				return dispatcher.Result{}, err
			}
			users, err := client.ListDBUsers(ctx, args["projectId"].(string))
			if err != nil {
				return dispatcher.Result{}, err
			}
			return dispatcher.UntrustedJSON(fmt.Sprintf("Found %d database user(s).", len(users)), users), nil
		},
	}
}

func connectClusterTool(clientFactory ClientFactory) dispatcher.Tool {
	return dispatcher.Tool{
		Spec: toolspec.Spec{
			Name:          "atlas-connect-cluster",
			Category:      toolspec.CategoryAtlas,
			OperationType: toolspec.OperationMetadata,
			Description:   "Resolve an Atlas cluster's connection string and connect the current session to it.",
			Args: schema("atlas-connect-cluster", `{
				"type": "object",
				"properties": {
					"projectId": {"type": "string"},
					"clusterName": {"type": "string"}
				},
				"required": ["projectId", "clusterName"],
				"additionalProperties": false
			}`),
		},
		Execute: func(ctx *dispatcher.ExecutionContext, args map[string]any) (dispatcher.Result, error) {
			client, err := clientFactory(ctx)
			if err != nil {
				return dispatcher.Result{}, err
			}
			cluster, err := client.InspectCluster(ctx, args["projectId"].(string), args["clusterName"].(string))
			if err != nil {
				return dispatcher.Result{}, err
			}
			connectionString := cluster.ConnectionStrings.StandardSrv
			if connectionString == "" {
				connectionString = cluster.ConnectionStrings.Standard
			}
			if connectionString == "" {
				return dispatcher.Result{}, toolerrors.New(toolerrors.ConnectionFailed, fmt.Sprintf("cluster %s has no connection string available yet", cluster.Name))
			}
			if _, err := ctx.Sessions.Connect(ctx, ctx.SessionID, connectionString); err != nil {
				return dispatcher.Result{}, err
			}
			return dispatcher.Text(fmt.Sprintf("Connected to cluster %s.", cluster.Name)), nil
		},
	}
}

// Package infrahub provides a Go client for the Infrahub infrastructure
// data platform.
//
// The client speaks the server's branch-aware GraphQL API for nodes and
// mutations, and its REST API for authentication, named queries, schema
// retrieval, and file storage. Pagination, schema-driven node hydration,
// token refresh, and reachability retries are handled transparently.
//
// # Core Concepts
//
// The SDK is organized around a few concepts:
//
//   - Nodes: schema-defined objects stored in the graph, addressed by id
//     or human friendly id
//   - Branches: isolated lines of change; every query and mutation runs
//     against one branch
//   - Schema: the per-branch description of kinds, attributes, and
//     relationships, fetched lazily and used to build queries and hydrate
//     responses
//   - Store: a local cache of fetched nodes, in memory or in Redis
//   - Batch: a bounded-concurrency runner for fan-out work against the
//     server
//
// # Getting Started
//
// Create a client and query nodes:
//
//	client, err := infrahub.NewClient(
//	    infrahub.WithAddress("http://localhost:8000"),
//	    infrahub.WithAPIToken(os.Getenv("INFRAHUB_API_TOKEN")),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	devices, err := client.All(ctx, "InfraDevice", infrahub.QueryParams{})
//
// # Querying
//
// All and Filters paginate transparently using the server-reported count.
// Get returns exactly one node and distinguishes no match from several:
//
//	device, err := client.Get(ctx, "InfraDevice", infrahub.GetParams{
//	    ID: "atl1-edge1",
//	})
//	if errors.Is(err, infrahub.ErrNodeNotFound) {
//	    // not provisioned yet
//	}
//
// # Mutations
//
// Nodes built locally are written with Save; nodes fetched from the server
// update in place:
//
//	device, err := client.Create(ctx, "InfraDevice", map[string]any{
//	    "name": "atl1-edge2",
//	    "site": siteID,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := device.Save(ctx, true); err != nil {
//	    return err
//	}
//
// # Error Handling
//
// The SDK uses sentinel errors and structured error types:
//
//	if errors.Is(err, infrahub.ErrServerNotReachable) {
//	    // server down or address wrong
//	}
//
//	var gqlErr *infrahub.GraphQLError
//	if errors.As(err, &gqlErr) {
//	    // inspect the server-side query errors
//	}
//
// # Observability
//
// OpenTelemetry tracing and metrics attach through options and stay
// disabled otherwise:
//
//	client, err := infrahub.NewClient(
//	    infrahub.WithAddress(addr),
//	    infrahub.WithTracer(otel.Tracer("infrahub")),
//	    infrahub.WithMeter(otel.Meter("infrahub")),
//	)
//
// # Thread Safety
//
// All client methods are safe for concurrent use. Individual nodes are
// not synchronized; do not mutate the same node from several goroutines.
//
// # Support
//
// For more information, visit:
//
//	Documentation: https://docs.infrahub.app
//	GitHub: https://github.com/opsmill/infrahub
package infrahub

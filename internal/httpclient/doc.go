// Package httpclient provides the HTTP plumbing behind rwrk's workers.
//
// The package covers the request executor side of a run:
//   - A single pooled [net/http.Client] shared read-only by every worker
//   - Per-identifier GET request construction from a templated target URL
//   - Body draining that reports bytes read and read failures separately
//
// # Request Building
//
// Use [NewRequestBuilder] to create a builder from configuration:
//
//	builder, err := httpclient.NewRequestBuilder(cfg)
//	if err != nil {
//		return err
//	}
//	req, err := builder.Build(ctx, 42) // http://host/users/{id} -> http://host/users/42
//
// When trace propagation is enabled the builder injects W3C traceparent
// headers from the request context.
//
// # HTTP Client
//
// [NewClient] applies the idle-connection cap, idle timeout and per-request
// timeout from [PoolOptions]:
//
//	client := httpclient.NewClient(httpclient.PoolOptionsFromConfig(cfg))
//	resp, err := client.Do(req)
//	n, err := httpclient.DrainBody(resp.Body)
package httpclient

// Package rpc provides a gRPC client for the job-control service.
//
// The [Client] created with [NewClient] implements job.Caller. Every command
// is a unary gRPC method whose payload is a plain Go struct, encoded by
// [Codec] as a google.protobuf.Struct message. No generated stubs are needed.
//
// ## Security
//
// By default the client requires mutual TLS with TLS version 1.3, configured
// with [WithTLS]. Plain text connections must be requested explicitly with
// [WithInsecure].
//
// ## Observability
//
// Every call is tagged with a random request ID in the outgoing metadata
// under [RequestIDKey], logged at debug level with slog, and recorded in the
// rpc.client.calls counter and rpc.client.duration histogram of the
// configured OpenTelemetry meter provider.
//
// # Example Usage
//
//	client, err := rpc.NewClient("localhost:8443", rpc.WithTLS("client.crt", "client.key", "server-ca.crt"))
//	if err != nil {
//		// handle error
//	}
//	defer client.Close()
//
//	handle := job.NewHandle(client)
//	if _, err := handle.Submit(ctx, job.SubmitOptions{WorldSize: 2}); err != nil {
//		// handle error
//	}
//	status, err := handle.AwaitFinished(ctx, 0, time.Second)
package rpc

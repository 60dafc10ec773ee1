/*
Package tracing correlates HTTP and IPC requests with trace and span ids.

Spans are finished by the middleware and handed to a buffered collector
that logs them. Trace context travels in the X-Trace-ID and X-Span-ID
headers over HTTP and in the matching lowercase metadata keys over gRPC.

# Usage

	tracer := tracing.New("framework", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))
	srv := ipc.NewServer(logger, grpc.UnaryInterceptor(tracing.UnaryServerInterceptor(tracer)))

A full span buffer drops spans rather than block a request.
*/
package tracing

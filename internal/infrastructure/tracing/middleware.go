package tracing

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// HTTPMiddleware opens a span per request and echoes the trace context in
// the response headers.
func HTTPMiddleware(tracer *Tracer, tagHeaders ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := WithRemoteParent(c.Request.Context(),
			TraceID(c.GetHeader(TraceHeader)), SpanID(c.GetHeader(SpanHeader)))

		name := c.FullPath()
		if name == "" {
			name = "unmatched"
		}
		span, ctx := tracer.StartSpan(ctx, c.Request.Method+" "+name)
		for _, h := range tagHeaders {
			if v := c.GetHeader(h); v != "" {
				span.SetTag(strings.ToLower(h), v)
			}
		}
		c.Request = c.Request.WithContext(ctx)
		c.Header(TraceHeader, string(span.TraceID))
		c.Header(SpanHeader, string(span.SpanID))

		c.Next()

		span.SetStatus(c.Writer.Status())
		if len(c.Errors) > 0 {
			span.SetError(c.Errors.Last())
		}
		span.Finish()
		tracer.Submit(span)
	}
}

// UnaryServerInterceptor opens a span per IPC transaction.
func UnaryServerInterceptor(tracer *Tracer) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			ctx = WithRemoteParent(ctx, TraceID(first(md, TraceHeader)), SpanID(first(md, SpanHeader)))
		}
		span, ctx := tracer.StartSpan(ctx, info.FullMethod)
		span.SetTag("rpc.system", "grpc")

		resp, err := handler(ctx, req)
		span.SetStatus(int(status.Code(err)))
		if err != nil {
			span.SetError(err)
		}
		span.Finish()
		tracer.Submit(span)
		return resp, err
	}
}

// UnaryClientInterceptor forwards the trace context of ctx to the server.
func UnaryClientInterceptor(tracer *Tracer) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		span, ctx := tracer.StartSpan(ctx, method)
		span.SetTag("span.kind", "client")
		ctx = metadata.AppendToOutgoingContext(ctx,
			strings.ToLower(TraceHeader), string(span.TraceID),
			strings.ToLower(SpanHeader), string(span.SpanID))

		err := invoker(ctx, method, req, reply, cc, opts...)
		span.SetStatus(int(status.Code(err)))
		if err != nil {
			span.SetError(err)
		}
		span.Finish()
		tracer.Submit(span)
		return err
	}
}

func first(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

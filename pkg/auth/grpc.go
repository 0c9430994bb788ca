package auth

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// metadataAuthorization is the incoming metadata key carrying the bearer
// token. gRPC metadata keys are lowercase.
const metadataAuthorization = "authorization"

// UnaryServerInterceptor returns a gRPC unary server interceptor that
// authenticates requests against the given [Validator] and applies the
// same enforcement rules as the HTTP middleware.
//
// The interceptor performs the following steps:
//  1. Extracts the "authorization" metadata value (bearer token)
//  2. Validates the token and its backing session
//  3. Applies any [RequireOption] rules (token type, role, permission)
//  4. Stores the verified claims and session in the request context
//
// Authentication failures return codes.Unauthenticated; role and
// permission failures return codes.PermissionDenied. Both carry generic
// messages, with the specific reason logged server-side only.
func UnaryServerInterceptor(validator Validator, opts ...RequireOption) grpc.UnaryServerInterceptor {
	var reqs requirements
	for _, opt := range opts {
		opt(&reqs)
	}
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		ctx, err := authenticateGRPC(ctx, validator, reqs, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor returns a gRPC stream server interceptor that
// performs the same authentication steps as [UnaryServerInterceptor],
// wrapping the stream so that handlers see the enriched context.
func StreamServerInterceptor(validator Validator, opts ...RequireOption) grpc.StreamServerInterceptor {
	var reqs requirements
	for _, opt := range opts {
		opt(&reqs)
	}
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ctx, err := authenticateGRPC(ss.Context(), validator, reqs, info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
	}
}

// authenticateGRPC validates the bearer token from incoming metadata and
// enriches the context with the verified claims and session.
func authenticateGRPC(ctx context.Context, validator Validator, reqs requirements, method string) (context.Context, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx, status.Error(codes.Unauthenticated, "authentication failed")
	}

	var tokenStr string
	if values := md.Get(metadataAuthorization); len(values) > 0 {
		tokenStr = ExtractBearerToken(values[0])
	}
	if tokenStr == "" {
		return ctx, status.Error(codes.Unauthenticated, "authentication failed")
	}

	sess, claims, err := validator.Validate(ctx, tokenStr)
	if err != nil {
		slog.WarnContext(ctx, "grpc request authentication failed",
			"method", method, "error", err)
		return ctx, status.Error(codes.Unauthenticated, "authentication failed")
	}

	if reqs.tokenType != "" && claims.Type != reqs.tokenType {
		return ctx, status.Error(codes.Unauthenticated, "authentication failed")
	}
	if reqs.minRole != "" && !claims.Role.AtLeast(reqs.minRole) {
		slog.WarnContext(ctx, "grpc request denied for insufficient role",
			"method", method, "user_id", claims.Subject, "role", claims.Role)
		return ctx, status.Error(codes.PermissionDenied, "access denied")
	}
	if reqs.permission != "" && !claims.HasPermission(reqs.permission) {
		slog.WarnContext(ctx, "grpc request denied for missing permission",
			"method", method, "user_id", claims.Subject, "permission", reqs.permission)
		return ctx, status.Error(codes.PermissionDenied, "access denied")
	}

	ctx = ContextWithClaims(ctx, claims)
	ctx = ContextWithSession(ctx, sess)
	return ctx, nil
}

// UnaryClientInterceptor returns a gRPC unary client interceptor that
// forwards the caller's bearer token to outgoing requests. The token is
// read from the verified claims' original carrier via the supplied
// function; when it returns an empty string the call proceeds without
// credentials.
func UnaryClientInterceptor(tokenSource func(ctx context.Context) string) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		if tok := tokenSource(ctx); tok != "" {
			ctx = metadata.AppendToOutgoingContext(ctx, metadataAuthorization, "Bearer "+tok)
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// SessionTokenSource returns a token source for [UnaryClientInterceptor]
// that forwards the access token of the session attached to the context.
func SessionTokenSource(ctx context.Context) string {
	if sess, ok := SessionFromContext(ctx); ok {
		return sess.AccessToken
	}
	return ""
}

// wrappedServerStream wraps a grpc.ServerStream to override its Context
// method. ServerStream.Context() returns the original stream context,
// which does not contain the claims added by the interceptor.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapped context containing the verified claims.
func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}

package dispatch

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/louisbranch/formdesk/internal/platform/logging"
	"github.com/louisbranch/formdesk/internal/platform/requestctx"
	"github.com/louisbranch/formdesk/internal/services/formdesk/authn"
)

// UnaryIdentity reads the caller's bearer token and locale from request
// metadata into the context. Calls without a token run anonymously; a
// token that fails verification is rejected. A nil verifier keeps every
// call anonymous.
func UnaryIdentity(verifier *authn.TokenVerifier, logger *zap.Logger) grpc.UnaryServerInterceptor {
	logger = logging.OrNop(logger)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		if locale := first(md, "accept-language"); locale != "" {
			ctx = requestctx.WithLocale(ctx, locale)
		}
		if verifier == nil {
			return handler(ctx, req)
		}
		raw := authn.ParseBearer(first(md, "authorization"))
		if raw == "" {
			return handler(ctx, req)
		}
		subject, err := verifier.Verify(raw)
		if err != nil {
			logger.Info("bearer token rejected", zap.String("method", info.FullMethod), zap.Error(err))
			return nil, status.Error(codes.Unauthenticated, "invalid bearer token")
		}
		return handler(requestctx.WithSubject(ctx, subject), req)
	}
}

func first(md metadata.MD, key string) string {
	if values := md.Get(key); len(values) > 0 {
		return values[0]
	}
	return ""
}

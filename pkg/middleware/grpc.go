package middleware

import (
	"context"

	"smallbiznis-missions/pkg/errutil"

	"google.golang.org/grpc"
)

// GRPCError converts BaseError values returned by handlers into gRPC statuses.
func GRPCError() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		if err != nil {
			return nil, errutil.ToGRPCError(err)
		}
		return resp, nil
	}
}

// Package grpc provides unary server interceptors that put the abuse guard in
// front of gRPC methods.
package grpc

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/grpc"
	grpcCodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/turtacn/abuseguard/internal/domain/models"
	"github.com/turtacn/abuseguard/internal/engine"
	"github.com/turtacn/abuseguard/internal/identity"
	"github.com/turtacn/abuseguard/pkg/constants"
	"github.com/turtacn/abuseguard/pkg/errors"
	"github.com/turtacn/abuseguard/pkg/logger"
)

// Checker is the guard as seen by the interceptors.
type Checker interface {
	Check(ctx context.Context, action models.Action, id models.Identity, opts *engine.EnforceOptions) (models.Decision, error)
}

// InterceptorChain holds the interceptor dependencies.
type InterceptorChain struct {
	log      logger.Logger
	guard    Checker
	resolver *identity.Resolver
	// full method name, e.g. "/forum.v1.Posts/Create", to the action it performs
	methods map[string]models.Action
}

// NewInterceptorChain creates the chain. Methods missing from methods are not
// guarded.
func NewInterceptorChain(log logger.Logger, guard Checker, resolver *identity.Resolver, methods map[string]models.Action) *InterceptorChain {
	m := make(map[string]models.Action, len(methods))
	for k, v := range methods {
		m[k] = v
	}
	return &InterceptorChain{
		log:      log.WithComponent("grpc"),
		guard:    guard,
		resolver: resolver,
		methods:  m,
	}
}

// UnaryRecoveryInterceptor converts a handler panic into codes.Internal.
func (ic *InterceptorChain) UnaryRecoveryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				ic.log.Error(ctx, "gRPC handler panic recovered", fmt.Errorf("%v", r),
					logger.String("method", info.FullMethod),
				)
				err = status.Error(grpcCodes.Internal, "internal server error")
			}
		}()

		return handler(ctx, req)
	}
}

// UnaryLoggingInterceptor logs each call with its duration and status code.
func (ic *InterceptorChain) UnaryLoggingInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		startTime := time.Now()

		resp, err := handler(ctx, req)

		statusCode := grpcCodes.OK
		if err != nil {
			if st, ok := status.FromError(err); ok {
				statusCode = st.Code()
			}
		}

		ic.log.Info(ctx, "gRPC request completed",
			logger.String("method", info.FullMethod),
			logger.Int64("duration_ms", time.Since(startTime).Milliseconds()),
			logger.String("status", statusCode.String()),
		)

		return resp, err
	}
}

// UnaryGuardInterceptor evaluates the action mapped to the called method and
// rejects non-allow decisions with codes.ResourceExhausted. Evaluation errors
// let the call through.
func (ic *InterceptorChain) UnaryGuardInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		action, ok := ic.methods[info.FullMethod]
		if !ok {
			return handler(ctx, req)
		}

		decision, err := ic.guard.Check(ctx, action, ic.identityFrom(ctx), nil)
		if err != nil {
			ic.log.Error(ctx, "abuse guard failed", err,
				logger.String("method", info.FullMethod),
				logger.String("action", string(action)),
			)
			return handler(ctx, req)
		}

		if !decision.Allowed() {
			return nil, status.Error(grpcCodes.ResourceExhausted, constants.RateLimitedMessage)
		}

		return handler(ctx, req)
	}
}

// UnaryErrorInterceptor maps GuardErrors returned by handlers to gRPC codes.
func (ic *InterceptorChain) UnaryErrorInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		resp, err := handler(ctx, req)
		if err == nil {
			return resp, nil
		}
		if _, ok := status.FromError(err); ok {
			return resp, err
		}
		return resp, convertDomainErrorToGRPC(err)
	}
}

func (ic *InterceptorChain) identityFrom(ctx context.Context) models.Identity {
	md, _ := metadata.FromIncomingContext(ctx)
	h := http.Header{}
	for _, key := range []string{constants.HeaderForwardedFor, constants.HeaderRealIP, constants.HeaderCDNClientIP} {
		if v := md.Get(strings.ToLower(key)); len(v) > 0 {
			h.Set(key, v[0])
		}
	}

	ip := identity.ClientIP(h)
	if ip == constants.UnknownIP {
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			ip = identity.PeerIP(p.Addr.String())
		}
	}

	return ic.resolver.FromRaw(identity.RawIdentity{
		UserID:   first(md, constants.HeaderUserID),
		IP:       ip,
		DeviceID: first(md, constants.HeaderDeviceID),
	})
}

func first(md metadata.MD, key string) string {
	if v := md.Get(strings.ToLower(key)); len(v) > 0 {
		return v[0]
	}
	return ""
}

func convertDomainErrorToGRPC(err error) error {
	gErr, ok := errors.AsGuardError(err)
	if !ok {
		return status.Error(grpcCodes.Internal, "internal server error")
	}

	switch gErr.HTTPStatus() {
	case http.StatusNotFound:
		return status.Error(grpcCodes.NotFound, gErr.Description())
	case http.StatusBadRequest:
		return status.Error(grpcCodes.InvalidArgument, gErr.Description())
	case http.StatusUnauthorized:
		return status.Error(grpcCodes.Unauthenticated, gErr.Description())
	case http.StatusTooManyRequests:
		return status.Error(grpcCodes.ResourceExhausted, gErr.Description())
	case http.StatusServiceUnavailable:
		return status.Error(grpcCodes.Unavailable, gErr.Description())
	default:
		return status.Error(grpcCodes.Internal, "internal server error")
	}
}

// ChainUnaryInterceptors returns the server option installing the chain.
func (ic *InterceptorChain) ChainUnaryInterceptors() grpc.ServerOption {
	return grpc.ChainUnaryInterceptor(
		ic.UnaryRecoveryInterceptor(),
		ic.UnaryLoggingInterceptor(),
		ic.UnaryGuardInterceptor(),
		ic.UnaryErrorInterceptor(),
	)
}

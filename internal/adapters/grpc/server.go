package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wiye1050/gestionclinica-sub004/internal/application"
	"github.com/wiye1050/gestionclinica-sub004/internal/domain"
	"github.com/wiye1050/gestionclinica-sub004/internal/ports"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// EpisodeServiceName is the internal service other clinic components call to
// read and advance episodes. Messages are google.protobuf.Struct values that
// mirror the HTTP JSON bodies.
const EpisodeServiceName = "clinic.episode.v1.EpisodeService"

type episodeService interface {
	OpenEpisode(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetEpisode(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ApplyEvent(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	AvailableEvents(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	VerifyEpisode(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var episodeServiceDesc = grpc.ServiceDesc{
	ServiceName: EpisodeServiceName,
	HandlerType: (*episodeService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "OpenEpisode", Handler: unaryHandler("OpenEpisode", episodeService.OpenEpisode)},
		{MethodName: "GetEpisode", Handler: unaryHandler("GetEpisode", episodeService.GetEpisode)},
		{MethodName: "ApplyEvent", Handler: unaryHandler("ApplyEvent", episodeService.ApplyEvent)},
		{MethodName: "AvailableEvents", Handler: unaryHandler("AvailableEvents", episodeService.AvailableEvents)},
		{MethodName: "VerifyEpisode", Handler: unaryHandler("VerifyEpisode", episodeService.VerifyEpisode)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "clinic/episode/v1/episode_service.proto",
}

type EpisodeServer struct {
	service *application.Service
	logger  *slog.Logger
}

func NewEpisodeServer(service *application.Service, logger *slog.Logger) *EpisodeServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &EpisodeServer{service: service, logger: logger}
}

func Register(server grpc.ServiceRegistrar, svc *EpisodeServer) {
	server.RegisterService(&episodeServiceDesc, svc)
}

type episodeRequest struct {
	EpisodeID       string              `json:"episode_id"`
	PatientID       string              `json:"patient_id"`
	EventID         string              `json:"event_id"`
	EventType       string              `json:"event_type"`
	OccurredAt      time.Time           `json:"occurred_at"`
	ExpectedVersion *int64              `json:"expected_version"`
	Payload         domain.EventPayload `json:"payload"`
}

func (s *EpisodeServer) OpenEpisode(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in episodeRequest
	if err := decodeStruct(req, &in); err != nil {
		return nil, err
	}
	ep, err := s.service.OpenEpisode(ctx, actorFromContext(ctx), application.OpenEpisodeInput{PatientID: in.PatientID, OccurredAt: in.OccurredAt})
	return s.reply(ctx, "open_episode", ep, err)
}

func (s *EpisodeServer) GetEpisode(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in episodeRequest
	if err := decodeStruct(req, &in); err != nil {
		return nil, err
	}
	ep, err := s.service.GetEpisode(ctx, actorFromContext(ctx), in.EpisodeID)
	return s.reply(ctx, "get_episode", ep, err)
}

func (s *EpisodeServer) ApplyEvent(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in episodeRequest
	if err := decodeStruct(req, &in); err != nil {
		return nil, err
	}
	eventType, err := domain.ParseEventType(in.EventType)
	if err != nil {
		return nil, toStatus(err).Err()
	}
	res, err := s.service.ApplyEvent(ctx, actorFromContext(ctx), in.EpisodeID, application.ApplyEventInput{
		EventID:         in.EventID,
		Type:            eventType,
		OccurredAt:      in.OccurredAt,
		ExpectedVersion: in.ExpectedVersion,
		Payload:         in.Payload,
	})
	return s.reply(ctx, "apply_event", res, err)
}

func (s *EpisodeServer) AvailableEvents(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in episodeRequest
	if err := decodeStruct(req, &in); err != nil {
		return nil, err
	}
	events, err := s.service.AvailableEvents(ctx, actorFromContext(ctx), in.EpisodeID)
	return s.reply(ctx, "available_events", map[string]any{"episode_id": in.EpisodeID, "events": events}, err)
}

func (s *EpisodeServer) VerifyEpisode(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in episodeRequest
	if err := decodeStruct(req, &in); err != nil {
		return nil, err
	}
	res, err := s.service.VerifyEpisode(ctx, actorFromContext(ctx), in.EpisodeID)
	return s.reply(ctx, "verify_episode", res, err)
}

func (s *EpisodeServer) reply(ctx context.Context, operation string, v any, err error) (*structpb.Struct, error) {
	if err != nil {
		st := toStatus(err)
		level := slog.LevelWarn
		if st.Code() == codes.Internal || st.Code() == codes.Unavailable {
			level = slog.LevelError
		}
		s.logger.Log(ctx, level, "grpc operation failed",
			"module", "grpc.episode_server",
			"layer", "adapter",
			"operation", operation,
			"outcome", "failure",
			"code", st.Code().String(),
			"error", err,
		)
		return nil, st.Err()
	}
	return encodeStruct(v)
}

func decodeStruct(in *structpb.Struct, out any) error {
	raw, err := json.Marshal(in.AsMap())
	if err != nil {
		return status.Error(codes.InvalidArgument, "invalid request")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	return nil
}

func encodeStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	return out, nil
}

func toStatus(err error) *status.Status {
	var guardErr *domain.GuardError
	switch {
	case errors.As(err, &guardErr):
		return status.New(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrInvalidEnvelope):
		return status.New(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return status.New(codes.NotFound, "not found")
	case errors.Is(err, domain.ErrUnauthorized):
		return status.New(codes.Unauthenticated, "unauthorized")
	case errors.Is(err, domain.ErrForbidden):
		return status.New(codes.PermissionDenied, "forbidden")
	case errors.Is(err, domain.ErrVersionConflict), errors.Is(err, domain.ErrIdempotencyConflict):
		return status.New(codes.Aborted, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return status.New(codes.AlreadyExists, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrGuardRejected), errors.Is(err, domain.ErrEpisodeClosed):
		return status.New(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrRateLimitExceeded):
		return status.New(codes.ResourceExhausted, "rate limit exceeded")
	case errors.Is(err, domain.ErrDependencyUnavailable), errors.Is(err, domain.ErrStorageUnavailable):
		return status.New(codes.Unavailable, "dependency unavailable")
	default:
		return status.New(codes.Internal, "internal error")
	}
}

func unaryHandler(method string, call func(episodeService, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	fullMethod := fmt.Sprintf("/%s/%s", EpisodeServiceName, method)
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(episodeService), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(episodeService), ctx, req.(*structpb.Struct))
		})
	}
}

type actorContextKey struct{}

func actorFromContext(ctx context.Context) application.Actor {
	actor, _ := ctx.Value(actorContextKey{}).(application.Actor)
	return actor
}

// AuthInterceptor resolves the calling actor from the bearer token in the
// authorization metadata. Without an AuthClient it trusts x-actor-id and
// x-actor-role, which is only suitable for local runs.
func AuthInterceptor(auth ports.AuthClient) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !strings.HasPrefix(info.FullMethod, "/"+EpisodeServiceName+"/") {
			return handler(ctx, req)
		}
		md, _ := metadata.FromIncomingContext(ctx)
		actor := application.Actor{
			RequestID:      firstValue(md, "x-request-id"),
			IdempotencyKey: firstValue(md, "idempotency-key"),
		}
		if actor.RequestID == "" {
			actor.RequestID = uuid.NewString()
		}
		if auth != nil {
			token := strings.TrimSpace(strings.TrimPrefix(firstValue(md, "authorization"), "Bearer "))
			if token == "" {
				return nil, status.Error(codes.Unauthenticated, "missing bearer token")
			}
			claims, err := auth.ValidateToken(ctx, token)
			if err != nil || !claims.Valid {
				return nil, status.Error(codes.Unauthenticated, "invalid token")
			}
			actor.SubjectID, actor.Role = claims.UserID, claims.Role
		} else {
			actor.SubjectID, actor.Role = firstValue(md, "x-actor-id"), firstValue(md, "x-actor-role")
		}
		return handler(context.WithValue(ctx, actorContextKey{}, actor), req)
	}
}

func firstValue(md metadata.MD, key string) string {
	if values := md.Get(key); len(values) > 0 {
		return strings.TrimSpace(values[0])
	}
	return ""
}

var _ episodeService = (*EpisodeServer)(nil)

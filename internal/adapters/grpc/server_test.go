package grpc

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wiye1050/gestionclinica-sub004/internal/adapters/memory"
	"github.com/wiye1050/gestionclinica-sub004/internal/application"
	"github.com/wiye1050/gestionclinica-sub004/internal/domain"
	"github.com/wiye1050/gestionclinica-sub004/internal/ports"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

type identityService interface {
	ValidateToken(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type fakeIdentity struct{}

func (fakeIdentity) ValidateToken(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req.GetFields()["token"].GetStringValue() != "good-token" {
		return structpb.NewStruct(map[string]any{"valid": false})
	}
	return structpb.NewStruct(map[string]any{"valid": true, "user_id": "dr-house", "role": "clinician", "email": "house@example.com"})
}

var identityDesc = grpc.ServiceDesc{
	ServiceName: "clinic.identity.v1.IdentityService",
	HandlerType: (*identityService)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "ValidateToken",
		Handler: func(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			return srv.(identityService).ValidateToken(ctx, in)
		},
	}},
}

type harness struct {
	svc     *application.Service
	conn    *grpc.ClientConn
	patient string
}

// serve starts a bufconn server and returns a connected client.
func serve(t *testing.T, register func(*grpc.Server), opts ...grpc.ServerOption) (*grpc.ClientConn, grpc.DialOption) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer(opts...)
	register(server)
	grpc_health_v1.RegisterHealthServer(server, health.NewServer())
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	dialer := grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
	conn, err := grpc.NewClient("passthrough:///bufnet", dialer, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn, dialer
}

func newHarness(t *testing.T, auth *AuthClient) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repos := memory.NewRepositories()
	svc := application.NewService(application.Dependencies{
		Episodes:    repos.Episodes,
		Documents:   repos.Documents,
		Idempotency: repos.Idempotency,
		EventDedup:  repos.EventDedup,
		Outbox:      repos.Outbox,
		Logger:      logger,
	})
	var authClient ports.AuthClient
	if auth != nil {
		authClient = auth
	}
	conn, _ := serve(t, func(s *grpc.Server) {
		Register(s, NewEpisodeServer(svc, logger))
	}, grpc.UnaryInterceptor(AuthInterceptor(authClient)))

	res, err := svc.CreatePatient(context.Background(), application.Actor{SubjectID: "desk-1", Role: "reception"}, application.CreatePatientInput{
		FirstName: "Ana", LastName: "Lopez", BirthDate: "1980-05-01", Email: "ana@example.com",
	})
	require.NoError(t, err)
	return &harness{svc: svc, conn: conn, patient: res.Patient.PatientID}
}

func (h *harness) call(ctx context.Context, method string, body map[string]any) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(body)
	if err != nil {
		return nil, err
	}
	resp := new(structpb.Struct)
	err = h.conn.Invoke(ctx, "/"+EpisodeServiceName+"/"+method, req, resp)
	return resp, err
}

func asActor(id, role string) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), "x-actor-id", id, "x-actor-role", role, "x-request-id", "req-grpc-1")
}

func TestEpisodeServiceOverGRPC(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := asActor("dr-house", "clinician")

	opened, err := h.call(ctx, "OpenEpisode", map[string]any{"patient_id": h.patient})
	require.NoError(t, err)
	episodeID := opened.GetFields()["episode_id"].GetStringValue()
	require.NotEmpty(t, episodeID)
	assert.Equal(t, "capture", opened.GetFields()["stage"].GetStringValue())

	applied, err := h.call(ctx, "ApplyEvent", map[string]any{
		"episode_id":       episodeID,
		"event_id":         "ev-consent-1",
		"event_type":       "consent.signed",
		"expected_version": 1,
		"payload":          map[string]any{"consent_kind": "privacy"},
	})
	require.NoError(t, err)
	episode := applied.GetFields()["episode"].GetStructValue().GetFields()
	assert.Equal(t, float64(2), episode["version"].GetNumberValue())

	_, err = h.call(ctx, "ApplyEvent", map[string]any{
		"episode_id": episodeID,
		"event_id":   "ev-triage-1",
		"event_type": "triage.routed",
		"payload":    map[string]any{"triage_route": "internal"},
	})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	_, err = h.call(ctx, "ApplyEvent", map[string]any{"episode_id": episodeID, "event_id": "x", "event_type": "nonsense"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	available, err := h.call(ctx, "AvailableEvents", map[string]any{"episode_id": episodeID})
	require.NoError(t, err)
	assert.NotEmpty(t, available.GetFields()["events"].GetListValue().GetValues())

	verified, err := h.call(ctx, "VerifyEpisode", map[string]any{"episode_id": episodeID})
	require.NoError(t, err)
	assert.True(t, verified.GetFields()["valid"].GetBoolValue())

	_, err = h.call(ctx, "GetEpisode", map[string]any{"episode_id": "missing"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = h.call(context.Background(), "GetEpisode", map[string]any{"episode_id": episodeID})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestAuthInterceptorWithIdentityService(t *testing.T) {
	t.Parallel()
	_, dialer := serve(t, func(s *grpc.Server) { s.RegisterService(&identityDesc, fakeIdentity{}) })
	auth, err := NewAuthClient(context.Background(), "passthrough:///bufnet", dialer)
	require.NoError(t, err)
	t.Cleanup(func() { _ = auth.Close() })

	claims, err := auth.ValidateToken(context.Background(), "good-token")
	require.NoError(t, err)
	assert.Equal(t, "dr-house", claims.UserID)
	_, err = auth.ValidateToken(context.Background(), "stolen")
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	h := newHarness(t, auth)
	bad := metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer stolen")
	_, err = h.call(bad, "OpenEpisode", map[string]any{"patient_id": h.patient})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	good := metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer good-token")
	opened, err := h.call(good, "OpenEpisode", map[string]any{"patient_id": h.patient})
	require.NoError(t, err)
	assert.Equal(t, h.patient, opened.GetFields()["patient_id"].GetStringValue())
}

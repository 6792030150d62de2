package grpc

import (
	"context"
	"fmt"

	"github.com/wiye1050/gestionclinica-sub004/internal/domain"
	"github.com/wiye1050/gestionclinica-sub004/internal/ports"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"
)

const validateTokenMethod = "/clinic.identity.v1.IdentityService/ValidateToken"

// AuthClient validates bearer tokens against the identity service.
type AuthClient struct {
	conn *grpc.ClientConn
}

func NewAuthClient(ctx context.Context, endpoint string, opts ...grpc.DialOption) (*AuthClient, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial auth grpc: %w", err)
	}
	if _, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("health check auth grpc: %w", err)
	}
	return &AuthClient{conn: conn}, nil
}

func (a *AuthClient) Close() error {
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}

func (a *AuthClient) ValidateToken(ctx context.Context, token string) (ports.AuthClaims, error) {
	req, err := structpb.NewStruct(map[string]any{"token": token})
	if err != nil {
		return ports.AuthClaims{}, err
	}
	resp := new(structpb.Struct)
	if err := a.conn.Invoke(ctx, validateTokenMethod, req, resp); err != nil {
		return ports.AuthClaims{}, fmt.Errorf("%w: %v", domain.ErrDependencyUnavailable, err)
	}
	fields := resp.GetFields()
	claims := ports.AuthClaims{
		UserID: fields["user_id"].GetStringValue(),
		Email:  fields["email"].GetStringValue(),
		Role:   fields["role"].GetStringValue(),
		Valid:  fields["valid"].GetBoolValue(),
	}
	if !claims.Valid || claims.UserID == "" {
		return ports.AuthClaims{}, domain.ErrUnauthorized
	}
	return claims, nil
}

var _ ports.AuthClient = (*AuthClient)(nil)

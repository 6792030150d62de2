package security

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/wiye1050/gestionclinica-sub004/internal/domain"
)

func TestJWTRoundTrip(t *testing.T) {
	t.Parallel()
	signer, err := NewEphemeralJWTSigner("", "clinic-idp")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	pemKey, err := signer.PublicKeyPEM()
	if err != nil {
		t.Fatalf("public key: %v", err)
	}
	verifier, err := NewJWTVerifier(pemKey, "clinic-idp", "")
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}

	token, err := signer.Sign("dr-house", domain.RoleClinician, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := verifier.ValidateToken(context.Background(), token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !claims.Valid || claims.UserID != "dr-house" || claims.Role != domain.RoleClinician {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestJWTRejectsExpiredAndForeignTokens(t *testing.T) {
	t.Parallel()
	signer, err := NewEphemeralJWTSigner("k1", "clinic-idp")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	other, err := NewEphemeralJWTSigner("k2", "clinic-idp")
	if err != nil {
		t.Fatalf("other signer: %v", err)
	}
	verifier := signer.Verifier("")

	expired, _ := signer.Sign("dr-house", domain.RoleClinician, time.Minute, time.Now().Add(-time.Hour))
	if _, err := verifier.ValidateToken(context.Background(), expired); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}
	foreign, _ := other.Sign("dr-house", domain.RoleAdmin, time.Hour, time.Now())
	if _, err := verifier.ValidateToken(context.Background(), foreign); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected foreign signature to be rejected, got %v", err)
	}
	if _, err := verifier.ValidateToken(context.Background(), "not.a.jwt"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected malformed token to be rejected, got %v", err)
	}
}

func TestRoleAuthorizer(t *testing.T) {
	t.Parallel()
	authz := NewRoleAuthorizer(nil)
	ctx := context.Background()

	allowed := []struct{ role, action string }{
		{domain.RoleAdmin, "anything.at_all"},
		{domain.RoleClinician, "episode.verify"},
		{domain.RoleReception, "appointment.write"},
		{domain.RoleSupervisor, "evaluation.sign_off"},
		{" Trainee ", "evaluation.write"},
	}
	for _, tc := range allowed {
		if err := authz.Authorize(ctx, tc.role, tc.action); err != nil {
			t.Fatalf("%s/%s denied: %v", tc.role, tc.action, err)
		}
	}
	denied := []struct{ role, action string }{
		{domain.RoleTrainee, "evaluation.sign_off"},
		{domain.RoleReception, "inventory.write"},
		{domain.RoleReportViewer, "episode.read"},
		{"unknown", "episode.read"},
		{domain.RoleClinician, "episodes.read"},
	}
	for _, tc := range denied {
		if err := authz.Authorize(ctx, tc.role, tc.action); !errors.Is(err, domain.ErrForbidden) {
			t.Fatalf("%s/%s: expected forbidden, got %v", tc.role, tc.action, err)
		}
	}
}

func TestAESGCMEncryption(t *testing.T) {
	t.Parallel()
	enc, err := NewAESGCMEncryption("0123456789abcdef-clinic")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	sealed, err := enc.Encrypt("patient-1", "12345678Z")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if strings.Contains(string(sealed), "12345678Z") {
		t.Fatalf("plaintext leaked: %s", sealed)
	}
	again, _ := enc.Encrypt("patient-1", "12345678Z")
	if string(again) == string(sealed) {
		t.Fatalf("nonce reused")
	}
	plain, err := enc.Decrypt("patient-1", sealed)
	if err != nil || plain != "12345678Z" {
		t.Fatalf("decrypt = %q, %v", plain, err)
	}
	if _, err := enc.Decrypt("patient-2", sealed); err == nil {
		t.Fatalf("expected decrypt with another subject to fail")
	}
	if _, err := NewAESGCMEncryption("short"); err == nil {
		t.Fatalf("expected short secret to be rejected")
	}
}

package security

import (
	"context"
	"strings"

	"github.com/wiye1050/gestionclinica-sub004/internal/domain"
	"github.com/wiye1050/gestionclinica-sub004/internal/ports"
)

// DefaultPolicy maps each clinic role to the actions it may perform. A
// trailing ".*" grants every action of that resource and "*" grants all.
var DefaultPolicy = map[string][]string{
	domain.RoleAdmin: {"*"},
	domain.RoleReception: {
		"patient.*", "appointment.*", "episode.read", "episode.write",
		"catalog.read", "consent.upload",
	},
	domain.RoleClinician: {
		"episode.*", "patient.*", "appointment.*", "catalog.*",
		"evaluation.read", "inventory.*", "consent.upload", "report.read",
	},
	domain.RoleTrainee: {
		"episode.read", "episode.write", "patient.read", "appointment.read",
		"catalog.read", "evaluation.read", "evaluation.write", "inventory.read",
	},
	domain.RoleSupervisor: {
		"episode.*", "patient.*", "appointment.*", "catalog.read",
		"evaluation.*", "inventory.read", "consent.upload", "report.read",
	},
	domain.RoleInventory:    {"inventory.*", "catalog.read"},
	domain.RoleSystem:       {"episode.read", "episode.write", "appointment.read"},
	domain.RoleOperator:     {"episode.read", "episode.verify", "report.read"},
	domain.RoleReportViewer: {"report.read"},
}

type RoleAuthorizer struct {
	policy map[string][]string
}

func NewRoleAuthorizer(policy map[string][]string) *RoleAuthorizer {
	if policy == nil {
		policy = DefaultPolicy
	}
	return &RoleAuthorizer{policy: policy}
}

func (a *RoleAuthorizer) Authorize(_ context.Context, role, action string) error {
	for _, grant := range a.policy[strings.ToLower(strings.TrimSpace(role))] {
		if grant == "*" || grant == action {
			return nil
		}
		if prefix, ok := strings.CutSuffix(grant, ".*"); ok && strings.HasPrefix(action, prefix+".") {
			return nil
		}
	}
	return domain.ErrForbidden
}

var _ ports.Authorizer = (*RoleAuthorizer)(nil)

package memory

import (
	"github.com/pai-platform/pai/internal/permission"
	"github.com/pai-platform/pai/pkg/models"
)

// CanAccess evaluates whether a requester may read a learning. The rules, in
// order: creator, supervisor, public, internal by level, restricted by
// allowlist, then allow. The default allows so an unclassified learning
// never blocks work.
func CanAccess(l *models.Learning, agentType string, permissionLevel int) bool {
	if l.CreatedByAgent != "" && l.CreatedByAgent == agentType {
		return true
	}
	if permissionLevel >= permission.LevelAdmin {
		return true
	}
	switch l.Sensitivity {
	case models.SensitivityPublic:
		return true
	case models.SensitivityInternal:
		return permissionLevel >= l.PermissionLevel
	case models.SensitivityRestricted:
		for _, allowed := range l.AllowedAgents {
			if allowed == agentType {
				return true
			}
		}
		return false
	}
	return true
}

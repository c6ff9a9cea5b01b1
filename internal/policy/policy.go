package policy

import "github.com/nilefi/backend/internal/models"

// Operation names used for authorization checks. Handlers pass these to
// Allow together with the caller's role.
const (
	OpCreateRequest  = "create_request"
	OpPublishRequest = "publish_request"
	OpCancelRequest  = "cancel_request"
	OpInvest         = "invest"
	OpConfirmDeposit = "confirm_deposit"
	OpStartMilestone = "start_milestone"
	OpSubmitProof    = "submit_proof"
	OpVerify         = "verify_milestone"
	OpRelease        = "release_funds"
	OpReconcile      = "reconcile"
	OpReadTrail      = "read_trail"
	OpReadSummary    = "read_summary"
)

var roleOps = map[string]map[string]bool{
	models.RoleStartup: {
		OpCreateRequest:  true,
		OpPublishRequest: true,
		OpCancelRequest:  true,
		OpStartMilestone: true,
		OpSubmitProof:    true,
		OpReadTrail:      true,
	},
	models.RoleLender: {
		OpInvest:         true,
		OpConfirmDeposit: true,
		OpReadTrail:      true,
	},
	models.RoleAdmin: {
		OpCancelRequest:  true,
		OpConfirmDeposit: true,
		OpVerify:         true,
		OpRelease:        true,
		OpReconcile:      true,
		OpReadTrail:      true,
		OpReadSummary:    true,
	},
}

// Allow reports whether a caller with the given role may perform op.
// Unknown roles and unknown operations are denied.
func Allow(role, op string) bool {
	ops, ok := roleOps[role]
	if !ok {
		return false
	}
	return ops[op]
}

package domain

import "strconv"

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Roles a caller can hold in a match proposal.
const (
	ProposalRoleSupplier  = "supplier"
	ProposalRoleRequester = "requester"
)

// Ledger reference types and reasons.
const (
	RefTypeResource = "resource"

	ReasonAdminGrant  = "admin_grant"
	ReasonMatchReward = "match_reward"
)

const DefaultItemTitle = "resource match"

// Settlement skip reasons, returned to callers rather than raised.
const (
	SettleReasonNotMatched   = "not matched after retries"
	SettleReasonValueFailed  = "value resolution failed"
	SettleReasonPartyFailed  = "party resolution failed"
	SettleReasonAwardSkipped = "award skipped or failed"
)

// MatchIdempotencyKey is the ledger key for one party's reward for a resource.
func MatchIdempotencyKey(resourceID string, userID uint) string {
	return "match:" + resourceID + ":" + strconv.FormatUint(uint64(userID), 10)
}

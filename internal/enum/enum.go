package enum

// ── Group A: State machine (CHECK constrained in DB) ──

// AdjustmentStatus is the lifecycle state of a weight adjustment.
type AdjustmentStatus string

const (
	AdjustmentStatusPendingWeighing          AdjustmentStatus = "PENDING_WEIGHING"
	AdjustmentStatusWeighed                  AdjustmentStatus = "WEIGHED"
	AdjustmentStatusNoDifference             AdjustmentStatus = "NO_DIFFERENCE"
	AdjustmentStatusAutoApproved             AdjustmentStatus = "AUTO_APPROVED"
	AdjustmentStatusPendingAdminApproval     AdjustmentStatus = "PENDING_ADMIN_APPROVAL"
	AdjustmentStatusPendingAdditionalPayment AdjustmentStatus = "PENDING_ADDITIONAL_PAYMENT"
	AdjustmentStatusPendingRefund            AdjustmentStatus = "PENDING_REFUND"
	AdjustmentStatusRejectedByAdmin          AdjustmentStatus = "REJECTED_BY_ADMIN"
	AdjustmentStatusCompleted                AdjustmentStatus = "COMPLETED"
	AdjustmentStatusFailed                   AdjustmentStatus = "FAILED"

	// AdjustmentStatusNotApplicable is reported for orders that have no
	// adjustment record. It is never persisted.
	AdjustmentStatusNotApplicable AdjustmentStatus = "NOT_APPLICABLE"
)

// transitions is the complete set of legal status changes.
var transitions = map[AdjustmentStatus][]AdjustmentStatus{
	AdjustmentStatusPendingWeighing: {
		AdjustmentStatusWeighed,
		AdjustmentStatusFailed,
	},
	AdjustmentStatusWeighed: {
		AdjustmentStatusNoDifference,
		AdjustmentStatusAutoApproved,
		AdjustmentStatusPendingAdminApproval,
		AdjustmentStatusFailed,
	},
	AdjustmentStatusAutoApproved: {
		AdjustmentStatusCompleted,
		AdjustmentStatusFailed,
	},
	AdjustmentStatusPendingAdminApproval: {
		AdjustmentStatusPendingAdditionalPayment,
		AdjustmentStatusPendingRefund,
		AdjustmentStatusRejectedByAdmin,
		AdjustmentStatusFailed,
	},
	AdjustmentStatusPendingAdditionalPayment: {
		AdjustmentStatusCompleted,
		AdjustmentStatusFailed,
	},
	AdjustmentStatusPendingRefund: {
		AdjustmentStatusCompleted,
		AdjustmentStatusFailed,
	},
}

// IsValid reports whether s is a persistable status.
func (s AdjustmentStatus) IsValid() bool {
	switch s {
	case AdjustmentStatusPendingWeighing, AdjustmentStatusWeighed,
		AdjustmentStatusNoDifference, AdjustmentStatusAutoApproved,
		AdjustmentStatusPendingAdminApproval, AdjustmentStatusPendingAdditionalPayment,
		AdjustmentStatusPendingRefund, AdjustmentStatusRejectedByAdmin,
		AdjustmentStatusCompleted, AdjustmentStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition can leave s.
func (s AdjustmentStatus) IsTerminal() bool {
	switch s {
	case AdjustmentStatusNoDifference, AdjustmentStatusRejectedByAdmin,
		AdjustmentStatusCompleted, AdjustmentStatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether s -> next is in the transition table.
func (s AdjustmentStatus) CanTransitionTo(next AdjustmentStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsSettleable reports whether a payment action may be executed from s.
func (s AdjustmentStatus) IsSettleable() bool {
	switch s {
	case AdjustmentStatusAutoApproved, AdjustmentStatusPendingAdditionalPayment,
		AdjustmentStatusPendingRefund:
		return true
	}
	return false
}

func (s AdjustmentStatus) String() string { return string(s) }

// ParseAdjustmentStatus converts a stored value back into a status.
func ParseAdjustmentStatus(s string) (AdjustmentStatus, bool) {
	st := AdjustmentStatus(s)
	return st, st.IsValid()
}

// ── Group B: Configurable labels (no DB constraint) ──

const (
	UserRoleAdmin   = "ADMIN"
	UserRoleCourier = "COURIER"
	UserRoleSystem  = "SYSTEM"
)

const (
	EventAdjustmentRequiresApproval = "AdjustmentRequiresApproval"
	EventAdjustmentApproved         = "AdjustmentApproved"
	EventAdjustmentRejected         = "AdjustmentRejected"
	EventAdjustmentSettled          = "AdjustmentSettled"
	EventAdjustmentFailed           = "AdjustmentFailed"
)

const (
	ActorSystem   = "SYSTEM"
	ActorAdmin    = "ADMIN"
	ActorCourier  = "COURIER"
	ActorSweep    = "SWEEP"
	ActorProvider = "PAYMENT_PROVIDER"
)

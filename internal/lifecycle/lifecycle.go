// Package lifecycle is the sole authority over thesis status transitions.
// The transition table is static data so that the full rule set can be
// audited and tested in isolation from persistence and transport.
package lifecycle

import (
	"fmt"

	"github.com/unigrad/thesis-review-api/internal/models"
	appErrors "github.com/unigrad/thesis-review-api/pkg/errors"
)

// Actor is the authenticated principal attempting a transition. The engine
// authorizes against the table only; authentication happens at the boundary.
type Actor struct {
	ID   string
	Role models.UserRole
}

// ownership identifies which relation to the thesis a non-admin actor must
// hold for a given table entry.
type ownership int

const (
	ownershipNone ownership = iota
	ownershipAssignedAdvisor
	ownershipOwningStudent
)

type transitionKey struct {
	From models.ThesisStatus
	To   models.ThesisStatus
}

type transitionRule struct {
	Roles     []models.UserRole
	Ownership ownership
	Event     models.NotificationType
}

// table is the static transition table. Admin is a member of every role set
// and bypasses ownership, but never the table itself.
var table = map[transitionKey]transitionRule{
	{models.StatusSubmitted, models.StatusAssigned}: {
		Roles:     []models.UserRole{models.RoleAdmin},
		Ownership: ownershipNone,
		Event:     models.NotificationAdvisorAssigned,
	},
	{models.StatusAssigned, models.StatusUnderReview}: {
		Roles:     []models.UserRole{models.RoleAdvisor, models.RoleAdmin},
		Ownership: ownershipAssignedAdvisor,
		Event:     models.NotificationReviewStarted,
	},
	{models.StatusUnderReview, models.StatusApproved}: {
		Roles:     []models.UserRole{models.RoleAdvisor, models.RoleAdmin},
		Ownership: ownershipAssignedAdvisor,
		Event:     models.NotificationThesisApproved,
	},
	{models.StatusUnderReview, models.StatusRejected}: {
		Roles:     []models.UserRole{models.RoleAdvisor, models.RoleAdmin},
		Ownership: ownershipAssignedAdvisor,
		Event:     models.NotificationThesisRejected,
	},
	{models.StatusUnderReview, models.StatusRevisionRequested}: {
		Roles:     []models.UserRole{models.RoleAdvisor, models.RoleAdmin},
		Ownership: ownershipAssignedAdvisor,
		Event:     models.NotificationRevisionRequested,
	},
	{models.StatusRevisionRequested, models.StatusSubmitted}: {
		Roles:     []models.UserRole{models.RoleStudent, models.RoleAdmin},
		Ownership: ownershipOwningStudent,
		Event:     models.NotificationThesisResubmitted,
	},
}

// Authorize validates one transition attempt against the thesis's current
// state. Guards run in a fixed order: terminal state, table membership, role,
// ownership. It returns nil when the actor may perform the transition and a
// typed error otherwise; the thesis is never mutated here.
func Authorize(thesis *models.Thesis, actor Actor, target models.ThesisStatus) error {
	if !target.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status: %s", target))
	}
	if thesis.Status.Terminal() {
		return appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("thesis is %s; no further transitions are allowed", thesis.Status))
	}

	rule, ok := table[transitionKey{From: thesis.Status, To: target}]
	if !ok {
		return appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("cannot transition from %s to %s", thesis.Status, target))
	}

	if !roleAllowed(rule.Roles, actor.Role) {
		return appErrors.Clone(appErrors.ErrForbidden,
			fmt.Sprintf("role %s may not transition %s to %s", actor.Role, thesis.Status, target))
	}

	if actor.Role == models.RoleAdmin {
		return nil
	}

	switch rule.Ownership {
	case ownershipAssignedAdvisor:
		if thesis.AdvisorID == nil || *thesis.AdvisorID != actor.ID {
			return appErrors.Clone(appErrors.ErrForbidden, "only the assigned advisor may perform this transition")
		}
	case ownershipOwningStudent:
		if thesis.StudentID != actor.ID {
			return appErrors.Clone(appErrors.ErrForbidden, "only the owning student may resubmit")
		}
	}
	return nil
}

// EventFor returns the notification type that a committed transition emits.
// The boolean is false for pairs outside the table.
func EventFor(from, to models.ThesisStatus) (models.NotificationType, bool) {
	rule, ok := table[transitionKey{From: from, To: to}]
	if !ok {
		return "", false
	}
	return rule.Event, true
}

// Transitions returns every legal (from, to) pair so callers can enumerate
// the rule set without duplicating it.
func Transitions() []struct{ From, To models.ThesisStatus } {
	pairs := make([]struct{ From, To models.ThesisStatus }, 0, len(table))
	for key := range table {
		pairs = append(pairs, struct{ From, To models.ThesisStatus }{key.From, key.To})
	}
	return pairs
}

func roleAllowed(allowed []models.UserRole, role models.UserRole) bool {
	switch role {
	case models.RoleAdmin, models.RoleAdvisor, models.RoleStudent:
	default:
		return false
	}
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}

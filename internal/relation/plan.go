// Package relation plans parent/student attachment changes. Planners are
// pure: they take the transaction's read set (a snapshot of the student
// rows) and return either the writes to apply or a validation error, so the
// read-validate-write ordering is enforced by construction. The repository
// runs a planner inside a transaction and applies the resulting plan; any
// error aborts with no partial writes.
package relation

import (
	"github.com/Gigatchad/uploadDocYnov/internal/apperr"
	"github.com/Gigatchad/uploadDocYnov/internal/model"
)

// Plan lists the student rows to mutate. Attach sets parentUid to the
// parent; Detach clears it.
type Plan struct {
	Attach []string
	Detach []string
}

// Diff splits a wholesale parentOf replacement into the uids to attach and
// the uids to detach. Order follows the input lists.
func Diff(prev, next []string) (toAdd, toRemove []string) {
	prevSet := make(map[string]struct{}, len(prev))
	for _, uid := range prev {
		prevSet[uid] = struct{}{}
	}
	nextSet := make(map[string]struct{}, len(next))
	for _, uid := range next {
		nextSet[uid] = struct{}{}
	}
	for _, uid := range next {
		if _, ok := prevSet[uid]; !ok {
			toAdd = append(toAdd, uid)
		}
	}
	for _, uid := range prev {
		if _, ok := nextSet[uid]; !ok {
			toRemove = append(toRemove, uid)
		}
	}
	return toAdd, toRemove
}

// validateAttach checks a single attach target against the snapshot.
// Attaching a student already pointing at this same parent is a no-op, not
// an error.
func validateAttach(parentUID, uid string, snapshot map[string]model.User) error {
	student, ok := snapshot[uid]
	if !ok {
		return apperr.NotFound("STUDENT_NOT_FOUND")
	}
	if student.Role != model.RoleEtudiant {
		return apperr.Invalid("NOT_A_STUDENT")
	}
	if student.ParentUID != "" && student.ParentUID != parentUID {
		return apperr.Conflict("ALREADY_ASSOCIATED")
	}
	return nil
}

// PlanCreate validates the initial parentOf list of a freshly created
// parent. Every target must exist, be a student, and be unattached (or
// already attached to this parent).
func PlanCreate(parentUID string, children []string, snapshot map[string]model.User) (Plan, error) {
	var plan Plan
	for _, uid := range children {
		if err := validateAttach(parentUID, uid, snapshot); err != nil {
			return Plan{}, err
		}
		plan.Attach = append(plan.Attach, uid)
	}
	return plan, nil
}

// PlanReplace validates a wholesale parentOf replacement. Attach targets
// are validated strictly; detach targets tolerantly (a vanished or
// re-roled target is skipped, detach is best-effort cleanup). A detach is
// only planned while the student still points at this parent, so a write
// lost to a concurrent re-attachment is not blindly overwritten.
func PlanReplace(parentUID string, prev, next []string, snapshot map[string]model.User) (Plan, error) {
	toAdd, toRemove := Diff(prev, next)

	var plan Plan
	for _, uid := range toAdd {
		if err := validateAttach(parentUID, uid, snapshot); err != nil {
			return Plan{}, err
		}
		plan.Attach = append(plan.Attach, uid)
	}
	for _, uid := range toRemove {
		student, ok := snapshot[uid]
		if !ok || student.Role != model.RoleEtudiant {
			continue
		}
		if student.ParentUID == parentUID {
			plan.Detach = append(plan.Detach, uid)
		}
	}
	return plan, nil
}

// PlanDelete computes the detach cascade for a parent deletion: every
// referenced student that still points at this parent is released.
func PlanDelete(parentUID string, children []string, snapshot map[string]model.User) Plan {
	var plan Plan
	for _, uid := range children {
		student, ok := snapshot[uid]
		if !ok {
			continue
		}
		if student.Role == model.RoleEtudiant && student.ParentUID == parentUID {
			plan.Detach = append(plan.Detach, uid)
		}
	}
	return plan
}

// CheckDelete guards direct deletion of a user. A student still attached
// to a parent cannot be removed by itself; the caller must delete the
// parent (which cascades) or detach first.
func CheckDelete(user model.User) error {
	if user.Role == model.RoleEtudiant && user.ParentUID != "" {
		return apperr.Precondition("DETACH_REQUIRED")
	}
	return nil
}

package relation

import (
	"reflect"
	"testing"

	"github.com/Gigatchad/uploadDocYnov/internal/apperr"
	"github.com/Gigatchad/uploadDocYnov/internal/model"
)

func student(uid, parentUID string) model.User {
	return model.User{UID: uid, Role: model.RoleEtudiant, ParentUID: parentUID}
}

func TestDiff(t *testing.T) {
	toAdd, toRemove := Diff([]string{"a", "b", "c"}, []string{"b", "c", "d"})
	if !reflect.DeepEqual(toAdd, []string{"d"}) {
		t.Fatalf("unexpected toAdd: %v", toAdd)
	}
	if !reflect.DeepEqual(toRemove, []string{"a"}) {
		t.Fatalf("unexpected toRemove: %v", toRemove)
	}

	toAdd, toRemove = Diff(nil, []string{"a"})
	if !reflect.DeepEqual(toAdd, []string{"a"}) || toRemove != nil {
		t.Fatalf("unexpected diff from empty: %v %v", toAdd, toRemove)
	}
}

func TestPlanCreateValidates(t *testing.T) {
	snap := map[string]model.User{
		"s1": student("s1", ""),
		"s2": student("s2", "p9"),
		"x1": {UID: "x1", Role: model.RolePersonnel},
	}

	plan, err := PlanCreate("p1", []string{"s1"}, snap)
	if err != nil {
		t.Fatalf("expected plan, got %v", err)
	}
	if !reflect.DeepEqual(plan.Attach, []string{"s1"}) {
		t.Fatalf("unexpected attach set: %v", plan.Attach)
	}

	if _, err := PlanCreate("p1", []string{"missing"}, snap); !apperr.Is(err, "STUDENT_NOT_FOUND") {
		t.Fatalf("expected STUDENT_NOT_FOUND, got %v", err)
	}
	if _, err := PlanCreate("p1", []string{"x1"}, snap); !apperr.Is(err, "NOT_A_STUDENT") {
		t.Fatalf("expected NOT_A_STUDENT, got %v", err)
	}
	if _, err := PlanCreate("p1", []string{"s2"}, snap); !apperr.Is(err, "ALREADY_ASSOCIATED") {
		t.Fatalf("expected ALREADY_ASSOCIATED, got %v", err)
	}
}

func TestPlanCreateAllowsSameParentReattach(t *testing.T) {
	snap := map[string]model.User{"s1": student("s1", "p1")}
	plan, err := PlanCreate("p1", []string{"s1"}, snap)
	if err != nil {
		t.Fatalf("expected re-attach to same parent to pass, got %v", err)
	}
	if len(plan.Attach) != 1 {
		t.Fatalf("unexpected plan: %+v", plan)
	}
}

func TestPlanReplaceAtomicValidation(t *testing.T) {
	snap := map[string]model.User{
		"s1": student("s1", "p1"),
		"s2": student("s2", ""),
		"s3": student("s3", "p2"),
	}

	// One bad attach target fails the whole plan: nothing to apply.
	if _, err := PlanReplace("p1", []string{"s1"}, []string{"s2", "s3"}, snap); !apperr.Is(err, "ALREADY_ASSOCIATED") {
		t.Fatalf("expected ALREADY_ASSOCIATED, got %v", err)
	}

	plan, err := PlanReplace("p1", []string{"s1"}, []string{"s2"}, snap)
	if err != nil {
		t.Fatalf("plan error: %v", err)
	}
	if !reflect.DeepEqual(plan.Attach, []string{"s2"}) {
		t.Fatalf("unexpected attach: %v", plan.Attach)
	}
	if !reflect.DeepEqual(plan.Detach, []string{"s1"}) {
		t.Fatalf("unexpected detach: %v", plan.Detach)
	}
}

func TestPlanReplaceDetachIsTolerant(t *testing.T) {
	// s1 vanished, s2 already re-attached elsewhere, s3 still ours.
	snap := map[string]model.User{
		"s2": student("s2", "p9"),
		"s3": student("s3", "p1"),
	}
	plan, err := PlanReplace("p1", []string{"s1", "s2", "s3"}, nil, snap)
	if err != nil {
		t.Fatalf("plan error: %v", err)
	}
	if !reflect.DeepEqual(plan.Detach, []string{"s3"}) {
		t.Fatalf("expected only s3 detached, got %v", plan.Detach)
	}
}

func TestPlanDeleteCascade(t *testing.T) {
	snap := map[string]model.User{
		"s1": student("s1", "p1"),
		"s2": student("s2", "p2"),
	}
	plan := PlanDelete("p1", []string{"s1", "s2", "gone"}, snap)
	if !reflect.DeepEqual(plan.Detach, []string{"s1"}) {
		t.Fatalf("expected cascade to detach only s1, got %v", plan.Detach)
	}
}

func TestCheckDelete(t *testing.T) {
	if err := CheckDelete(student("s1", "p1")); !apperr.Is(err, "DETACH_REQUIRED") {
		t.Fatalf("expected DETACH_REQUIRED, got %v", err)
	}
	if err := CheckDelete(student("s1", "")); err != nil {
		t.Fatalf("detached student should be deletable: %v", err)
	}
	if err := CheckDelete(model.User{UID: "p1", Role: model.RoleParent, ParentOf: []string{"s1"}}); err != nil {
		t.Fatalf("parent delete is allowed (cascades): %v", err)
	}
}

// Exclusivity under competing plans: the same snapshot can only yield one
// winning attach for a student; the loser is rejected outright.
func TestExclusiveAttachScenario(t *testing.T) {
	snap := map[string]model.User{
		"s1": student("s1", ""),
		"s2": student("s2", ""),
	}
	plan, err := PlanCreate("p1", []string{"s1", "s2"}, snap)
	if err != nil || len(plan.Attach) != 2 {
		t.Fatalf("first parent should win: %v %+v", err, plan)
	}

	// Committed state after p1's transaction.
	snap["s1"] = student("s1", "p1")
	snap["s2"] = student("s2", "p1")

	if _, err := PlanCreate("p2", []string{"s1"}, snap); !apperr.Is(err, "ALREADY_ASSOCIATED") {
		t.Fatalf("second parent must lose with ALREADY_ASSOCIATED, got %v", err)
	}
	if snap["s1"].ParentUID != "p1" {
		t.Fatalf("s1 must keep its original parent")
	}
}

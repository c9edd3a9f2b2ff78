package services

import (
	"errors"
	"testing"

	"github.com/huangang/testsentry/internal/models"
)

func TestMembershipUpsertIdempotent(t *testing.T) {
	db := newTestDB(t)
	members := NewMembershipService(db)

	user := seedUser(t, db, "alice", "alice@example.com")
	owner := seedUser(t, db, "owner", "owner@example.com")
	project := seedProject(t, db, "apollo", owner.ID)

	first, err := members.Upsert(db, user.ID, project.ID, models.RoleTester)
	if err != nil {
		t.Fatalf("first Upsert failed: %v", err)
	}
	if first.Role != models.RoleTester {
		t.Errorf("role = %q, expected tester", first.Role)
	}

	second, err := members.Upsert(db, user.ID, project.ID, models.RoleApprover)
	if err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}
	if second.Role != models.RoleApprover {
		t.Errorf("role after upsert = %q, expected approver", second.Role)
	}
	if second.ID != first.ID {
		t.Errorf("upsert replaced row %d with %d, expected same row", first.ID, second.ID)
	}

	var count int64
	db.Model(&models.Membership{}).
		Where("user_id = ? AND project_id = ?", user.ID, project.ID).
		Count(&count)
	if count != 1 {
		t.Errorf("membership rows = %d, expected 1", count)
	}
}

func TestMembershipResolveAndUpdate(t *testing.T) {
	db := newTestDB(t)
	members := NewMembershipService(db)

	owner := seedUser(t, db, "owner", "owner@example.com")
	project := seedProject(t, db, "apollo", owner.ID)
	user := seedUser(t, db, "bob", "bob@example.com")

	if _, err := members.Resolve(user.ID, project.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve non-member = %v, expected ErrNotFound", err)
	}

	seedMember(t, db, user.ID, project.ID, models.RoleTester)

	role, err := members.Resolve(user.ID, project.ID)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if role != models.RoleTester {
		t.Errorf("role = %q, expected tester", role)
	}

	updated, err := members.UpdateRole(user.ID, project.ID, models.RoleManager)
	if err != nil {
		t.Fatalf("UpdateRole failed: %v", err)
	}
	if updated.Role != models.RoleManager {
		t.Errorf("updated role = %q, expected manager", updated.Role)
	}

	if _, err := members.UpdateRole(user.ID+100, project.ID, models.RoleManager); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateRole for non-member = %v, expected ErrNotFound", err)
	}
}

func TestMembershipRemove(t *testing.T) {
	db := newTestDB(t)
	members := NewMembershipService(db)

	owner := seedUser(t, db, "owner", "owner@example.com")
	project := seedProject(t, db, "apollo", owner.ID)
	user := seedUser(t, db, "carol", "carol@example.com")
	seedMember(t, db, user.ID, project.ID, models.RoleTester)

	if err := members.Remove(user.ID, project.ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := members.Resolve(user.ID, project.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve after remove = %v, expected ErrNotFound", err)
	}
	if err := members.Remove(user.ID, project.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Remove = %v, expected ErrNotFound", err)
	}

	// Removal is a hard delete, so the pair can be added back.
	if _, err := members.Upsert(db, user.ID, project.ID, models.RoleApprover); err != nil {
		t.Errorf("Upsert after remove = %v, expected success", err)
	}
}

func TestMembershipList(t *testing.T) {
	db := newTestDB(t)
	members := NewMembershipService(db)

	owner := seedUser(t, db, "owner", "owner@example.com")
	project := seedProject(t, db, "apollo", owner.ID)
	other := seedProject(t, db, "zephyr", owner.ID)

	alice := seedUser(t, db, "alice", "alice@example.com")
	bob := seedUser(t, db, "bob", "bob@example.com")
	seedMember(t, db, alice.ID, project.ID, models.RoleTester)
	seedMember(t, db, bob.ID, project.ID, models.RoleManager)

	stranger := seedUser(t, db, "dora", "dora@example.com")
	seedMember(t, db, stranger.ID, other.ID, models.RoleTester)

	all, err := members.List(project.ID, &MemberListRequest{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if all.Total != 3 {
		t.Errorf("total = %d, expected 3 (owner + two members)", all.Total)
	}

	testers, err := members.List(project.ID, &MemberListRequest{Roles: []string{"tester"}})
	if err != nil {
		t.Fatalf("List by role failed: %v", err)
	}
	if testers.Total != 1 || testers.Items[0].UserID != alice.ID {
		t.Errorf("role filter returned %d rows, expected only alice", testers.Total)
	}

	search, err := members.List(project.ID, &MemberListRequest{Q: "bob@"})
	if err != nil {
		t.Fatalf("List by query failed: %v", err)
	}
	if search.Total != 1 || search.Items[0].UserID != bob.ID {
		t.Errorf("search returned %d rows, expected only bob", search.Total)
	}

	sorted, err := members.List(project.ID, &MemberListRequest{OrderBy: "username", Sort: "desc", PageSize: 2})
	if err != nil {
		t.Fatalf("List sorted failed: %v", err)
	}
	if len(sorted.Items) != 2 {
		t.Fatalf("page size 2 returned %d rows", len(sorted.Items))
	}
	if sorted.Items[0].User == nil || sorted.Items[0].User.Username != "owner" {
		t.Errorf("descending username sort did not put owner first")
	}
}

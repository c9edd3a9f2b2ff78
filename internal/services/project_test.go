package services

import (
	"errors"
	"testing"

	"github.com/huangang/testsentry/internal/models"
)

func TestProjectCreateEnrollsOwner(t *testing.T) {
	db := newTestDB(t)
	members := NewMembershipService(db)
	access := NewAccessService(members)
	projects := NewProjectService(db, access)

	user := seedUser(t, db, "alice", "alice@example.com")

	project, err := projects.Create(user.ID, &CreateProjectRequest{Name: "  apollo  ", Description: "lunar"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if project.Name != "apollo" {
		t.Errorf("name = %q, expected trimmed %q", project.Name, "apollo")
	}

	role, err := members.Resolve(user.ID, project.ID)
	if err != nil {
		t.Fatalf("creator has no membership: %v", err)
	}
	if role != models.RoleOwner {
		t.Errorf("creator role = %q, expected owner", role)
	}
}

func TestProjectListScopedToMember(t *testing.T) {
	db := newTestDB(t)
	members := NewMembershipService(db)
	access := NewAccessService(members)
	projects := NewProjectService(db, access)

	alice := seedUser(t, db, "alice", "alice@example.com")
	bob := seedUser(t, db, "bob", "bob@example.com")

	mine, err := projects.Create(alice.ID, &CreateProjectRequest{Name: "apollo"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := projects.Create(bob.ID, &CreateProjectRequest{Name: "zephyr"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	list, err := projects.List(alice.ID, &ProjectListRequest{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if list.Total != 1 || len(list.Items) != 1 {
		t.Fatalf("list returned %d items, expected 1", len(list.Items))
	}
	if list.Items[0].ID != mine.ID {
		t.Errorf("listed project = %d, expected %d", list.Items[0].ID, mine.ID)
	}
	if list.Items[0].Role != models.RoleOwner {
		t.Errorf("listed role = %q, expected owner", list.Items[0].Role)
	}
}

func TestProjectGetRequiresMembership(t *testing.T) {
	db := newTestDB(t)
	members := NewMembershipService(db)
	access := NewAccessService(members)
	projects := NewProjectService(db, access)

	alice := seedUser(t, db, "alice", "alice@example.com")
	bob := seedUser(t, db, "bob", "bob@example.com")

	project, err := projects.Create(alice.ID, &CreateProjectRequest{Name: "apollo"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, _, err := projects.Get(bob.ID, project.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("non-member Get = %v, expected ErrForbidden", err)
	}
	if _, _, err := projects.Get(alice.ID, project.ID+100); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing project Get = %v, expected ErrNotFound", err)
	}

	got, role, err := projects.Get(alice.ID, project.ID)
	if err != nil {
		t.Fatalf("member Get = %v, expected success", err)
	}
	if got.ID != project.ID || role != models.RoleOwner {
		t.Errorf("Get returned project %d role %q", got.ID, role)
	}
}

func TestProjectUpdatePermissions(t *testing.T) {
	db := newTestDB(t)
	members := NewMembershipService(db)
	access := NewAccessService(members)
	projects := NewProjectService(db, access)

	alice := seedUser(t, db, "alice", "alice@example.com")
	tester := seedUser(t, db, "tester", "tester@example.com")

	project, err := projects.Create(alice.ID, &CreateProjectRequest{Name: "apollo"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	seedMember(t, db, tester.ID, project.ID, models.RoleTester)

	archived := true
	if _, err := projects.Update(tester.ID, project.ID, &UpdateProjectRequest{IsArchived: &archived}); !errors.Is(err, ErrForbidden) {
		t.Errorf("tester Update = %v, expected ErrForbidden", err)
	}

	updated, err := projects.Update(alice.ID, project.ID, &UpdateProjectRequest{Name: "artemis", IsArchived: &archived})
	if err != nil {
		t.Fatalf("owner Update failed: %v", err)
	}
	if updated.Name != "artemis" || !updated.IsArchived {
		t.Errorf("update not applied: name=%q archived=%v", updated.Name, updated.IsArchived)
	}
}

func TestProjectDeleteOwnerOnly(t *testing.T) {
	db := newTestDB(t)
	members := NewMembershipService(db)
	access := NewAccessService(members)
	projects := NewProjectService(db, access)

	alice := seedUser(t, db, "alice", "alice@example.com")
	manager := seedUser(t, db, "manager", "manager@example.com")

	project, err := projects.Create(alice.ID, &CreateProjectRequest{Name: "apollo"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	seedMember(t, db, manager.ID, project.ID, models.RoleManager)

	if err := projects.Delete(manager.ID, project.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("manager Delete = %v, expected ErrForbidden", err)
	}
	if err := projects.Delete(alice.ID, project.ID); err != nil {
		t.Fatalf("owner Delete failed: %v", err)
	}

	// Soft delete hides the project from further reads.
	if _, _, err := projects.Get(alice.ID, project.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v, expected ErrNotFound", err)
	}
}

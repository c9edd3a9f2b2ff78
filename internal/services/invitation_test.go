package services

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/huangang/testsentry/internal/models"
)

func TestInvitationCreateAndAcceptRoundTrip(t *testing.T) {
	db, invitations, members, _ := newInvitationStack(t)

	owner := seedUser(t, db, "owner", "owner@example.com")
	project := seedProject(t, db, "apollo", owner.ID)
	invitee := seedUser(t, db, "tess", "tess@example.com")

	result, err := invitations.Create(owner.ID, project.ID, &CreateInvitationRequest{
		Email: "Tess@Example.com",
		Role:  "tester",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if result.Token == "" {
		t.Fatal("expected a raw token in the create result")
	}
	if result.Invitation.Email != "tess@example.com" {
		t.Errorf("email not normalized: %q", result.Invitation.Email)
	}
	if result.Invitation.Status != models.InvitationPending {
		t.Errorf("new invitation status = %q, expected pending", result.Invitation.Status)
	}
	if result.Invitation.PublicID == "" {
		t.Error("expected a public id")
	}

	membership, err := invitations.Accept(invitee.ID, invitee.Email, result.Token)
	if err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	if membership.Role != models.RoleTester {
		t.Errorf("membership role = %q, expected tester", membership.Role)
	}

	role, err := members.Resolve(invitee.ID, project.ID)
	if err != nil {
		t.Fatalf("Resolve after accept failed: %v", err)
	}
	if role != models.RoleTester {
		t.Errorf("resolved role = %q, expected tester", role)
	}

	var stored models.Invitation
	if err := db.First(&stored, result.Invitation.ID).Error; err != nil {
		t.Fatalf("failed to reload invitation: %v", err)
	}
	if stored.Status != models.InvitationAccepted {
		t.Errorf("stored status = %q, expected accepted", stored.Status)
	}
	if stored.AcceptedAt == nil {
		t.Error("expected accepted_at to be set")
	}
	if stored.PendingKey != nil {
		t.Error("expected pending_key to be cleared after accept")
	}

	// The consumed token must not validate again.
	if _, err := invitations.Validate(result.Token, invitee.Email); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Validate after accept = %v, expected ErrInvalidTransition", err)
	}
}

func TestInvitationCreatePermissions(t *testing.T) {
	db, invitations, _, _ := newInvitationStack(t)

	owner := seedUser(t, db, "owner", "owner@example.com")
	project := seedProject(t, db, "apollo", owner.ID)
	tester := seedUser(t, db, "tester", "tester@example.com")
	seedMember(t, db, tester.ID, project.ID, models.RoleTester)
	outsider := seedUser(t, db, "outsider", "outsider@example.com")

	req := &CreateInvitationRequest{Email: nextEmail(), Role: "tester"}

	if _, err := invitations.Create(tester.ID, project.ID, req); !errors.Is(err, ErrForbidden) {
		t.Errorf("tester Create = %v, expected ErrForbidden", err)
	}
	if _, err := invitations.Create(outsider.ID, project.ID, req); !errors.Is(err, ErrForbidden) {
		t.Errorf("outsider Create = %v, expected ErrForbidden", err)
	}
	if _, err := invitations.Create(0, project.ID, req); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("anonymous Create = %v, expected ErrUnauthenticated", err)
	}

	manager := seedUser(t, db, "manager", "manager@example.com")
	seedMember(t, db, manager.ID, project.ID, models.RoleManager)
	if _, err := invitations.Create(manager.ID, project.ID, req); err != nil {
		t.Errorf("manager Create = %v, expected success", err)
	}
}

func TestInvitationCreateRejectsUnknownRole(t *testing.T) {
	db, invitations, _, _ := newInvitationStack(t)

	owner := seedUser(t, db, "owner", "owner@example.com")
	project := seedProject(t, db, "apollo", owner.ID)

	_, err := invitations.Create(owner.ID, project.ID, &CreateInvitationRequest{
		Email: nextEmail(),
		Role:  "superuser",
	})
	if !errors.Is(err, ErrInvalidRole) {
		t.Errorf("Create with unknown role = %v, expected ErrInvalidRole", err)
	}
}

func TestInvitationValidateChecks(t *testing.T) {
	db, invitations, _, _ := newInvitationStack(t)

	owner := seedUser(t, db, "owner", "owner@example.com")
	project := seedProject(t, db, "apollo", owner.ID)

	result, err := invitations.Create(owner.ID, project.ID, &CreateInvitationRequest{
		Email: "invited@example.com",
		Role:  "approver",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := invitations.Validate("deadbeef", "invited@example.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown token = %v, expected ErrNotFound", err)
	}
	if _, err := invitations.Validate(result.Token, "somebody.else@example.com"); !errors.Is(err, ErrForbidden) {
		t.Errorf("mismatched email = %v, expected ErrForbidden", err)
	}
	// Case and whitespace in the caller email must not matter.
	if _, err := invitations.Validate(result.Token, "  Invited@Example.COM "); err != nil {
		t.Errorf("normalized email = %v, expected success", err)
	}
}

func TestInvitationExpiryBoundary(t *testing.T) {
	db, invitations, _, _ := newInvitationStack(t)

	owner := seedUser(t, db, "owner", "owner@example.com")
	project := seedProject(t, db, "apollo", owner.ID)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	invitations.now = func() time.Time { return base }

	result, err := invitations.Create(owner.ID, project.ID, &CreateInvitationRequest{
		Email: "late@example.com",
		Role:  "tester",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	expiresAt := result.Invitation.ExpiresAt

	// One second inside the window: still valid.
	invitations.now = func() time.Time { return expiresAt.Add(-time.Second) }
	if _, err := invitations.Validate(result.Token, "late@example.com"); err != nil {
		t.Errorf("Validate just before expiry = %v, expected success", err)
	}

	// The boundary itself counts as expired.
	invitations.now = func() time.Time { return expiresAt }
	if _, err := invitations.Validate(result.Token, "late@example.com"); !errors.Is(err, ErrExpired) {
		t.Errorf("Validate at expiry instant = %v, expected ErrExpired", err)
	}

	invitations.now = func() time.Time { return expiresAt.Add(time.Hour) }
	if _, err := invitations.Validate(result.Token, "late@example.com"); !errors.Is(err, ErrExpired) {
		t.Errorf("Validate after expiry = %v, expected ErrExpired", err)
	}

	// An expired token cannot be accepted either.
	invitee := seedUser(t, db, "late", "late@example.com")
	if _, err := invitations.Accept(invitee.ID, invitee.Email, result.Token); !errors.Is(err, ErrExpired) {
		t.Errorf("Accept after expiry = %v, expected ErrExpired", err)
	}
}

func TestInvitationSupersedeRefreshesPending(t *testing.T) {
	db, invitations, _, _ := newInvitationStack(t)

	owner := seedUser(t, db, "owner", "owner@example.com")
	manager := seedUser(t, db, "manager", "manager@example.com")
	project := seedProject(t, db, "apollo", owner.ID)
	seedMember(t, db, manager.ID, project.ID, models.RoleManager)

	first, err := invitations.Create(owner.ID, project.ID, &CreateInvitationRequest{
		Email: "twice@example.com",
		Role:  "tester",
	})
	if err != nil {
		t.Fatalf("first Create failed: %v", err)
	}

	second, err := invitations.Create(manager.ID, project.ID, &CreateInvitationRequest{
		Email: "twice@example.com",
		Role:  "approver",
	})
	if err != nil {
		t.Fatalf("second Create failed: %v", err)
	}

	// The pair still has exactly one row, refreshed in place.
	var count int64
	db.Model(&models.Invitation{}).
		Where("project_id = ? AND email = ?", project.ID, "twice@example.com").
		Count(&count)
	if count != 1 {
		t.Fatalf("invitation rows for the pair = %d, expected 1", count)
	}
	if second.Invitation.ID != first.Invitation.ID {
		t.Errorf("refresh created a new row: %d != %d", second.Invitation.ID, first.Invitation.ID)
	}
	if second.Invitation.Role != models.RoleApprover {
		t.Errorf("refreshed role = %q, expected approver", second.Invitation.Role)
	}
	if second.Invitation.InvitedBy != manager.ID {
		t.Errorf("refreshed inviter = %d, expected %d", second.Invitation.InvitedBy, manager.ID)
	}

	// The superseded token is dead; the new one works.
	if _, err := invitations.Validate(first.Token, "twice@example.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("old token = %v, expected ErrNotFound", err)
	}
	if _, err := invitations.Validate(second.Token, "twice@example.com"); err != nil {
		t.Errorf("new token = %v, expected success", err)
	}
}

func TestInvitationDeclineIsTerminal(t *testing.T) {
	db, invitations, members, _ := newInvitationStack(t)

	owner := seedUser(t, db, "owner", "owner@example.com")
	project := seedProject(t, db, "apollo", owner.ID)
	invitee := seedUser(t, db, "nope", "nope@example.com")

	result, err := invitations.Create(owner.ID, project.ID, &CreateInvitationRequest{
		Email: invitee.Email,
		Role:  "tester",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	declined, err := invitations.Decline(invitee.ID, invitee.Email, result.Token)
	if err != nil {
		t.Fatalf("Decline failed: %v", err)
	}
	if declined.Status != models.InvitationDeclined {
		t.Errorf("status = %q, expected declined", declined.Status)
	}
	if declined.DeclinedAt == nil {
		t.Error("expected declined_at to be set")
	}

	// No membership was created.
	if _, err := members.Resolve(invitee.ID, project.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve after decline = %v, expected ErrNotFound", err)
	}

	// Accepting a declined invitation fails.
	if _, err := invitations.Accept(invitee.ID, invitee.Email, result.Token); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Accept after decline = %v, expected ErrInvalidTransition", err)
	}

	// Declining frees the pair for a fresh invitation.
	if _, err := invitations.Create(owner.ID, project.ID, &CreateInvitationRequest{
		Email: invitee.Email,
		Role:  "tester",
	}); err != nil {
		t.Errorf("Create after decline = %v, expected success", err)
	}
	var count int64
	db.Model(&models.Invitation{}).
		Where("project_id = ? AND email = ?", project.ID, invitee.Email).
		Count(&count)
	if count != 2 {
		t.Errorf("invitation rows = %d, expected 2 (declined + fresh)", count)
	}
}

func TestInvitationAcceptOverwritesRole(t *testing.T) {
	db, invitations, members, _ := newInvitationStack(t)

	owner := seedUser(t, db, "owner", "owner@example.com")
	project := seedProject(t, db, "apollo", owner.ID)
	invitee := seedUser(t, db, "twice", "twice@example.com")
	seedMember(t, db, invitee.ID, project.ID, models.RoleTester)

	result, err := invitations.Create(owner.ID, project.ID, &CreateInvitationRequest{
		Email: invitee.Email,
		Role:  "manager",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := invitations.Accept(invitee.ID, invitee.Email, result.Token); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}

	role, err := members.Resolve(invitee.ID, project.ID)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if role != models.RoleManager {
		t.Errorf("role after accept = %q, expected manager", role)
	}

	var count int64
	db.Model(&models.Membership{}).
		Where("user_id = ? AND project_id = ?", invitee.ID, project.ID).
		Count(&count)
	if count != 1 {
		t.Errorf("membership rows = %d, expected 1", count)
	}
}

func TestInvitationConcurrentAcceptSingleWinner(t *testing.T) {
	db, invitations, _, _ := newInvitationStack(t)

	owner := seedUser(t, db, "owner", "owner@example.com")
	project := seedProject(t, db, "apollo", owner.ID)
	invitee := seedUser(t, db, "racer", "racer@example.com")

	result, err := invitations.Create(owner.ID, project.ID, &CreateInvitationRequest{
		Email: invitee.Email,
		Role:  "tester",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	const attempts = 20
	var wg sync.WaitGroup
	errs := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = invitations.Accept(invitee.ID, invitee.Email, result.Token)
		}(i)
	}
	wg.Wait()

	wins := 0
	for i, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrInvalidTransition):
		default:
			t.Errorf("attempt %d: unexpected error %v", i, err)
		}
	}
	if wins != 1 {
		t.Errorf("winners = %d, expected exactly 1", wins)
	}

	var memberships int64
	db.Model(&models.Membership{}).
		Where("user_id = ? AND project_id = ?", invitee.ID, project.ID).
		Count(&memberships)
	if memberships != 1 {
		t.Errorf("membership rows = %d, expected 1", memberships)
	}
}

func TestInvitationConcurrentCreateSamePair(t *testing.T) {
	db, invitations, _, _ := newInvitationStack(t)

	owner := seedUser(t, db, "owner", "owner@example.com")
	project := seedProject(t, db, "apollo", owner.ID)

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = invitations.Create(owner.ID, project.ID, &CreateInvitationRequest{
				Email: "contested@example.com",
				Role:  "tester",
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("create %d failed: %v", i, err)
		}
	}

	var pending int64
	db.Model(&models.Invitation{}).
		Where("project_id = ? AND email = ? AND status = ?", project.ID, "contested@example.com", models.InvitationPending).
		Count(&pending)
	if pending != 1 {
		t.Errorf("pending rows = %d, expected exactly 1", pending)
	}
}

func TestInvitationListStatusMapping(t *testing.T) {
	db, invitations, _, _ := newInvitationStack(t)

	owner := seedUser(t, db, "owner", "owner@example.com")
	project := seedProject(t, db, "apollo", owner.ID)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	invitations.now = func() time.Time { return base }

	stale, err := invitations.Create(owner.ID, project.ID, &CreateInvitationRequest{
		Email: "stale@example.com",
		Role:  "tester",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Move past the first invitation's expiry, then create a live one.
	later := stale.Invitation.ExpiresAt.Add(time.Hour)
	invitations.now = func() time.Time { return later }

	if _, err := invitations.Create(owner.ID, project.ID, &CreateInvitationRequest{
		Email: "fresh@example.com",
		Role:  "tester",
	}); err != nil {
		t.Fatalf("second Create failed: %v", err)
	}

	pendingList, err := invitations.ListForProject(project.ID, &InvitationListRequest{Statuses: []string{models.InvitationPending}})
	if err != nil {
		t.Fatalf("List pending failed: %v", err)
	}
	if pendingList.Total != 1 || len(pendingList.Items) != 1 || pendingList.Items[0].Email != "fresh@example.com" {
		t.Errorf("pending filter returned %d items, expected only the fresh invitation", len(pendingList.Items))
	}

	expiredList, err := invitations.ListForProject(project.ID, &InvitationListRequest{Statuses: []string{models.InvitationExpired}})
	if err != nil {
		t.Fatalf("List expired failed: %v", err)
	}
	if expiredList.Total != 1 || len(expiredList.Items) != 1 {
		t.Fatalf("expired filter returned %d items, expected 1", len(expiredList.Items))
	}
	if expiredList.Items[0].Email != "stale@example.com" {
		t.Errorf("expired filter returned %q", expiredList.Items[0].Email)
	}
	// The stored row is still pending; only the observed status changes.
	if expiredList.Items[0].Status != models.InvitationExpired {
		t.Errorf("observed status = %q, expected expired", expiredList.Items[0].Status)
	}
}

func TestInvitationSweepExpired(t *testing.T) {
	db, invitations, _, _ := newInvitationStack(t)

	owner := seedUser(t, db, "owner", "owner@example.com")
	project := seedProject(t, db, "apollo", owner.ID)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	invitations.now = func() time.Time { return base }

	result, err := invitations.Create(owner.ID, project.ID, &CreateInvitationRequest{
		Email: "sweep@example.com",
		Role:  "tester",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	invitations.now = func() time.Time { return result.Invitation.ExpiresAt }

	swept, err := invitations.SweepExpired()
	if err != nil {
		t.Fatalf("SweepExpired failed: %v", err)
	}
	if swept != 1 {
		t.Errorf("swept = %d, expected 1", swept)
	}

	var stored models.Invitation
	if err := db.First(&stored, result.Invitation.ID).Error; err != nil {
		t.Fatalf("failed to reload invitation: %v", err)
	}
	if stored.Status != models.InvitationExpired {
		t.Errorf("status after sweep = %q, expected expired", stored.Status)
	}
	if stored.PendingKey != nil {
		t.Error("expected pending_key cleared by sweep")
	}

	// A second sweep finds nothing.
	swept, err = invitations.SweepExpired()
	if err != nil {
		t.Fatalf("second SweepExpired failed: %v", err)
	}
	if swept != 0 {
		t.Errorf("second sweep = %d, expected 0", swept)
	}

	// The pair is free again for a new invitation.
	if _, err := invitations.Create(owner.ID, project.ID, &CreateInvitationRequest{
		Email: "sweep@example.com",
		Role:  "tester",
	}); err != nil {
		t.Errorf("Create after sweep = %v, expected success", err)
	}
}

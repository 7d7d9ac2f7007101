package assignments

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/router-for-me/EnterpriseAccess/internal/models"
)

func TestAcceptSetsTransaction(t *testing.T) {
	conn := setupAssignmentsDB(t)
	cfg := createConfiguration(t, conn)
	row := createAssignment(t, conn, cfg, "a@example.com", testContentKey, -100, models.AssignmentStateAllocated)
	txUUID := uuid.New()

	if err := Accept(context.Background(), conn, row, txUUID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	stored, err := Get(context.Background(), conn, row.UUID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.State != models.AssignmentStateAccepted {
		t.Fatalf("expected accepted, got %s", stored.State)
	}
	if stored.TransactionUUID == nil || *stored.TransactionUUID != txUUID {
		t.Fatalf("expected transaction uuid %s, got %v", txUUID, stored.TransactionUUID)
	}
	if countActions(t, conn, row.UUID, models.AssignmentActionRedeemed) != 1 {
		t.Fatalf("expected redeemed action")
	}

	if err = Cancel(context.Background(), conn, stored); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition cancelling accepted assignment, got %v", err)
	}
}

func TestMarkErroredThenCancel(t *testing.T) {
	conn := setupAssignmentsDB(t)
	cfg := createConfiguration(t, conn)
	row := createAssignment(t, conn, cfg, "a@example.com", testContentKey, -100, models.AssignmentStateAllocated)

	if err := MarkErrored(context.Background(), conn, row, errors.New("ledger rejected")); err != nil {
		t.Fatalf("mark errored: %v", err)
	}
	if row.State != models.AssignmentStateErrored {
		t.Fatalf("expected errored, got %s", row.State)
	}
	if err := Accept(context.Background(), conn, row, uuid.New()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition accepting errored assignment, got %v", err)
	}
	if err := Cancel(context.Background(), conn, row); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if countActions(t, conn, row.UUID, models.AssignmentActionCancelled) != 1 {
		t.Fatalf("expected cancelled action")
	}
}

func TestTransitionDetectsStaleState(t *testing.T) {
	conn := setupAssignmentsDB(t)
	cfg := createConfiguration(t, conn)
	row := createAssignment(t, conn, cfg, "a@example.com", testContentKey, -100, models.AssignmentStateAllocated)
	stale := *row

	if err := Cancel(context.Background(), conn, row); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := Accept(context.Background(), conn, &stale, uuid.New()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for stale copy, got %v", err)
	}
}

func TestGetNotFound(t *testing.T) {
	conn := setupAssignmentsDB(t)
	if _, err := Get(context.Background(), conn, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to models.AssignmentState
		want     bool
	}{
		{models.AssignmentStateAllocated, models.AssignmentStateAccepted, true},
		{models.AssignmentStateAllocated, models.AssignmentStateErrored, true},
		{models.AssignmentStateAllocated, models.AssignmentStateCancelled, true},
		{models.AssignmentStateErrored, models.AssignmentStateCancelled, true},
		{models.AssignmentStateErrored, models.AssignmentStateAccepted, false},
		{models.AssignmentStateAccepted, models.AssignmentStateCancelled, false},
		{models.AssignmentStateCancelled, models.AssignmentStateAccepted, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

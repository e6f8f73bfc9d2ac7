package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"setorstok/backend/internal/domain"
	"setorstok/backend/internal/store"
)

func TestCreateShiftEnforcesSingleActive(t *testing.T) {
	s := New()
	ctx := context.Background()

	first, err := s.CreateShift(ctx, domain.Shift{RiderID: "rd-1", ShiftDate: "2025-03-10"})
	if err != nil {
		t.Fatalf("create shift failed: %v", err)
	}
	if first.ShiftNumber != 1 || first.Status != domain.ShiftStatusActive {
		t.Fatalf("unexpected first shift: %+v", first)
	}

	if _, err := s.CreateShift(ctx, domain.Shift{RiderID: "rd-1", ShiftDate: "2025-03-10"}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("second active shift must conflict, got %v", err)
	}

	// A different date is an independent key.
	if _, err := s.CreateShift(ctx, domain.Shift{RiderID: "rd-1", ShiftDate: "2025-03-11"}); err != nil {
		t.Fatalf("shift on another date failed: %v", err)
	}
}

func TestFinalizeShiftIsIdempotentOnReport(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	shift, err := s.CreateShift(ctx, domain.Shift{RiderID: "rd-1", ShiftDate: "2025-03-10"})
	if err != nil {
		t.Fatalf("create shift failed: %v", err)
	}

	closed, report, err := s.FinalizeShift(ctx, shift.ID, now, "", domain.DailyReport{
		RiderID:       "rd-1",
		ReportDate:    "2025-03-10",
		TotalSales:    100000,
		CashCollected: 80000,
	})
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	if closed.Status != domain.ShiftStatusCompleted || !closed.ReportSubmitted {
		t.Fatalf("shift not closed: %+v", closed)
	}
	if closed.CashCollected != 80000 {
		t.Fatalf("shift totals not denormalized from report: %+v", closed)
	}
	if report.ShiftID != shift.ID {
		t.Fatalf("report not bound to shift: %+v", report)
	}

	if _, _, err := s.FinalizeShift(ctx, shift.ID, now, "", domain.DailyReport{RiderID: "rd-1"}); !errors.Is(err, store.ErrAlreadySubmitted) {
		t.Fatalf("second finalize must report already submitted, got %v", err)
	}

	// The active slot is freed for a follow-up shift with the next number.
	if _, err := s.GetActiveShift(ctx, "rd-1", "2025-03-10"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("closed shift still registered as active")
	}
	next, err := s.CreateShift(ctx, domain.Shift{RiderID: "rd-1", ShiftDate: "2025-03-10"})
	if err != nil {
		t.Fatalf("follow-up shift failed: %v", err)
	}
	if next.ShiftNumber != 2 {
		t.Fatalf("expected shift number 2, got %d", next.ShiftNumber)
	}
}

func TestConfirmReceiveRejectsNonSentMovement(t *testing.T) {
	s := New()
	ctx := context.Background()

	movement, err := s.CreateMovement(ctx, domain.StockMovement{
		ProductID:    "prd-1",
		RiderID:      "rd-1",
		Quantity:     3,
		Kind:         domain.MovementKindSent,
		Status:       domain.MovementStatusPending,
		ExpectedTime: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create movement failed: %v", err)
	}

	if _, _, _, err := s.ConfirmReceive(ctx, movement.ID, time.Now().UTC()); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("confirming a pending movement must fail validation, got %v", err)
	}
}

func TestUpsertExpenseDeduplicatesOnLineKey(t *testing.T) {
	s := New()
	ctx := context.Background()

	first, err := s.UpsertExpense(ctx, domain.OperationalExpense{
		RiderID:     "rd-1",
		ShiftID:     "shift-1",
		LineKey:     "shift-1:0",
		ExpenseType: "bensin",
		Amount:      20000,
		ExpenseDate: "2025-03-10",
	})
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	replay, err := s.UpsertExpense(ctx, domain.OperationalExpense{
		RiderID:     "rd-1",
		ShiftID:     "shift-1",
		LineKey:     "shift-1:0",
		ExpenseType: "bensin",
		Amount:      20000,
		ExpenseDate: "2025-03-10",
	})
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if replay.ID != first.ID {
		t.Fatalf("replayed line created a new row: %s vs %s", replay.ID, first.ID)
	}

	expenses, err := s.ListExpenses(ctx, "shift-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(expenses) != 1 {
		t.Fatalf("expected 1 expense row, got %d", len(expenses))
	}
}

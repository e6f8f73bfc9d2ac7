package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"setorstok/backend/internal/cache"
	"setorstok/backend/internal/domain"
	"setorstok/backend/internal/proofstore"
	"setorstok/backend/internal/store"
	"setorstok/backend/internal/store/memory"
)

func newTestService() *Service {
	repo := memory.NewSeeded()
	return New(repo, cache.NoopSalesCache{}, proofstore.NewMemory(), time.UTC, 5*time.Second)
}

func branchCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{
		Username: "branch-kemang",
		Role:     "branch",
		BranchID: "br-kemang",
	})
}

func riderCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{
		Username: "rider-agus",
		Role:     "rider",
		RiderID:  "rd-agus",
		BranchID: "br-kemang",
	})
}

func sendAndReceive(t *testing.T, svc *Service, productID string, qty int) *domain.ReceiveStockResponse {
	t.Helper()

	movement, err := svc.SendStock(branchCtx(), domain.SendStockRequest{
		RiderID:   "rd-agus",
		ProductID: productID,
		Quantity:  qty,
	})
	if err != nil {
		t.Fatalf("send stock failed: %v", err)
	}

	resp, err := svc.ConfirmReceive(riderCtx(), domain.ReceiveStockRequest{MovementID: movement.ID})
	if err != nil {
		t.Fatalf("confirm receive failed: %v", err)
	}
	return resp
}

func returnEverything(t *testing.T, svc *Service) {
	t.Helper()

	balances, err := svc.ListRiderStock(riderCtx(), "")
	if err != nil {
		t.Fatalf("list rider stock failed: %v", err)
	}
	lines := make([]domain.ReturnLine, 0, len(balances))
	for _, balance := range balances {
		lines = append(lines, domain.ReturnLine{BalanceID: balance.ID, ProofRef: "proof-" + balance.ID})
	}
	if len(lines) == 0 {
		return
	}
	resp, err := svc.ConfirmReturn(riderCtx(), domain.ReturnStockRequest{Lines: lines})
	if err != nil {
		t.Fatalf("confirm return failed: %v", err)
	}
	for _, result := range resp.Results {
		if !result.OK {
			t.Fatalf("return line %s failed: %s", result.BalanceID, result.Error)
		}
	}
}

func TestConfirmReceiveIsIdempotent(t *testing.T) {
	svc := newTestService()

	movement, err := svc.SendStock(branchCtx(), domain.SendStockRequest{
		RiderID:   "rd-agus",
		ProductID: "prd-galon-19l",
		Quantity:  10,
	})
	if err != nil {
		t.Fatalf("send stock failed: %v", err)
	}

	first, err := svc.ConfirmReceive(riderCtx(), domain.ReceiveStockRequest{MovementID: movement.ID})
	if err != nil {
		t.Fatalf("first confirm failed: %v", err)
	}
	if first.Repeated {
		t.Fatalf("first confirm reported repeated")
	}
	if first.Balance.StockQuantity != 10 {
		t.Fatalf("expected balance 10 after receive, got %d", first.Balance.StockQuantity)
	}

	second, err := svc.ConfirmReceive(riderCtx(), domain.ReceiveStockRequest{MovementID: movement.ID})
	if err != nil {
		t.Fatalf("second confirm failed: %v", err)
	}
	if !second.Repeated {
		t.Fatalf("second confirm should report repeated")
	}
	if second.Balance.StockQuantity != 10 {
		t.Fatalf("double-tap credited stock twice: balance %d", second.Balance.StockQuantity)
	}
	if second.Shift.ID != first.Shift.ID {
		t.Fatalf("repeated confirm switched shifts: %s vs %s", first.Shift.ID, second.Shift.ID)
	}
}

func TestSaleRejectsInsufficientStockWithoutPartialDecrement(t *testing.T) {
	svc := newTestService()
	sendAndReceive(t, svc, "prd-galon-19l", 2)
	sendAndReceive(t, svc, "prd-gas-3kg", 5)

	_, err := svc.RecordSale(riderCtx(), domain.SaleRequest{
		PaymentMethod: "cash",
		Items: []domain.SaleItem{
			{ProductID: "prd-gas-3kg", Quantity: 2},
			{ProductID: "prd-galon-19l", Quantity: 3},
		},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}

	balances, err := svc.ListRiderStock(riderCtx(), "")
	if err != nil {
		t.Fatalf("list rider stock failed: %v", err)
	}
	for _, balance := range balances {
		switch balance.ProductID {
		case "prd-galon-19l":
			if balance.StockQuantity != 2 {
				t.Fatalf("galon balance changed on failed sale: %d", balance.StockQuantity)
			}
		case "prd-gas-3kg":
			if balance.StockQuantity != 5 {
				t.Fatalf("gas balance changed on failed sale: %d", balance.StockQuantity)
			}
		}
	}
}

func TestStockConservationAcrossDay(t *testing.T) {
	svc := newTestService()
	sendAndReceive(t, svc, "prd-galon-19l", 10)

	if _, err := svc.RecordSale(riderCtx(), domain.SaleRequest{
		PaymentMethod: "cash",
		Items:         []domain.SaleItem{{ProductID: "prd-galon-19l", Quantity: 4}},
	}); err != nil {
		t.Fatalf("sale failed: %v", err)
	}

	// Physical count finds 5, not 6: one bottle broke.
	adj, err := svc.AdjustStock(riderCtx(), domain.AdjustStockRequest{
		ProductID: "prd-galon-19l",
		RealCount: 5,
		Notes:     "pecah di jalan",
	})
	if err != nil {
		t.Fatalf("adjust failed: %v", err)
	}
	if adj.Variance != -1 {
		t.Fatalf("expected variance -1, got %d", adj.Variance)
	}
	if adj.Movement == nil || adj.Movement.Kind != domain.MovementKindAdjustmentOut {
		t.Fatalf("expected adjustment_out movement, got %+v", adj.Movement)
	}

	returnEverything(t, svc)

	balances, err := svc.ListRiderStock(riderCtx(), "")
	if err != nil {
		t.Fatalf("list rider stock failed: %v", err)
	}
	for _, balance := range balances {
		if balance.StockQuantity != 0 {
			t.Fatalf("balance %s not zero after full return: %d", balance.ProductID, balance.StockQuantity)
		}
	}
}

func TestAdjustWithoutVarianceWritesNoMovement(t *testing.T) {
	svc := newTestService()
	sendAndReceive(t, svc, "prd-galon-19l", 7)

	adj, err := svc.AdjustStock(riderCtx(), domain.AdjustStockRequest{
		ProductID: "prd-galon-19l",
		RealCount: 7,
	})
	if err != nil {
		t.Fatalf("adjust failed: %v", err)
	}
	if adj.Variance != 0 || adj.Movement != nil {
		t.Fatalf("zero variance must not create a movement, got variance=%d movement=%+v", adj.Variance, adj.Movement)
	}
}

func TestReturnRequiresProofPerLine(t *testing.T) {
	svc := newTestService()
	received := sendAndReceive(t, svc, "prd-galon-19l", 3)

	resp, err := svc.ConfirmReturn(riderCtx(), domain.ReturnStockRequest{
		Lines: []domain.ReturnLine{{BalanceID: received.Balance.ID, ProofRef: "  "}},
	})
	if err != nil {
		t.Fatalf("confirm return failed: %v", err)
	}
	if resp.Results[0].OK {
		t.Fatalf("return without proof must fail")
	}
	if resp.Results[0].Error != store.ErrProofRequired.Error() {
		t.Fatalf("expected proof required error, got %q", resp.Results[0].Error)
	}

	balances, err := svc.ListRiderStock(riderCtx(), "")
	if err != nil {
		t.Fatalf("list rider stock failed: %v", err)
	}
	if balances[0].StockQuantity != 3 {
		t.Fatalf("balance changed despite rejected return: %d", balances[0].StockQuantity)
	}
}

func TestReturnAppliedLinesSurviveFailedLines(t *testing.T) {
	svc := newTestService()
	galon := sendAndReceive(t, svc, "prd-galon-19l", 3)
	sendAndReceive(t, svc, "prd-gas-3kg", 2)

	resp, err := svc.ConfirmReturn(riderCtx(), domain.ReturnStockRequest{
		Lines: []domain.ReturnLine{
			{BalanceID: galon.Balance.ID, ProofRef: "proof-1"},
			{BalanceID: "bal-missing", ProofRef: "proof-2"},
		},
	})
	if err != nil {
		t.Fatalf("confirm return failed: %v", err)
	}
	if !resp.Results[0].OK {
		t.Fatalf("first line should have applied: %s", resp.Results[0].Error)
	}
	if resp.Results[1].OK {
		t.Fatalf("missing balance line should fail")
	}
	if resp.Results[0].Balance.StockQuantity != 0 {
		t.Fatalf("applied line should zero the balance, got %d", resp.Results[0].Balance.StockQuantity)
	}

	// Retrying the already-applied line is a harmless no-op.
	retry, err := svc.ConfirmReturn(riderCtx(), domain.ReturnStockRequest{
		Lines: []domain.ReturnLine{{BalanceID: galon.Balance.ID, ProofRef: "proof-1"}},
	})
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if !retry.Results[0].OK || retry.Results[0].Movement != nil {
		t.Fatalf("retry of returned line should be a movement-free no-op: %+v", retry.Results[0])
	}
}

func TestComputeDeposit(t *testing.T) {
	expenses := []domain.OperationalExpense{
		{ExpenseType: "bensin", Amount: 30000},
		{ExpenseType: "parkir", Amount: 20000},
	}

	if got := ComputeDeposit(200000, expenses); got != 150000 {
		t.Fatalf("expected deposit 150000, got %d", got)
	}
	if got := ComputeDeposit(100000, []domain.OperationalExpense{{ExpenseType: "servis", Amount: 150000}}); got != 0 {
		t.Fatalf("deposit must floor at zero, got %d", got)
	}
	if got := ComputeDeposit(75000, nil); got != 75000 {
		t.Fatalf("expected full cash as deposit, got %d", got)
	}
}

func TestSubmitBlockedWhileStockOutstanding(t *testing.T) {
	svc := newTestService()
	sendAndReceive(t, svc, "prd-galon-19l", 5)

	_, err := svc.SubmitShiftReport(riderCtx(), domain.SubmitShiftReportRequest{})
	if !errors.Is(err, store.ErrStockNotReturned) {
		t.Fatalf("expected stock-not-returned error, got %v", err)
	}

	shift, err := svc.GetActiveShift(riderCtx(), "")
	if err != nil {
		t.Fatalf("active shift lookup failed: %v", err)
	}
	if _, err := svc.GetDailyReport(riderCtx(), "", shift.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("no report should exist after blocked submit, got %v", err)
	}
}

func TestSubmitShiftReportComputesDeposit(t *testing.T) {
	svc := newTestService()
	sendAndReceive(t, svc, "prd-galon-19l", 10)

	// 4 galon cash = 88000, 2 galon qris = 44000, 1 galon transfer = 22000.
	for _, sale := range []struct {
		method string
		qty    int
	}{
		{"cash", 4},
		{"qris", 2},
		{"bank_transfer", 1},
	} {
		_, err := svc.RecordSale(riderCtx(), domain.SaleRequest{
			PaymentMethod: sale.method,
			Items:         []domain.SaleItem{{ProductID: "prd-galon-19l", Quantity: sale.qty}},
		})
		if err != nil {
			t.Fatalf("sale %s failed: %v", sale.method, err)
		}
	}

	returnEverything(t, svc)

	resp, err := svc.SubmitShiftReport(riderCtx(), domain.SubmitShiftReportRequest{
		Expenses: []domain.ExpenseLine{
			{ExpenseType: "bensin", Amount: 25000, ReceiptData: []byte("struk-bensin")},
			{ExpenseType: "parkir", Amount: 3000},
		},
		DepositProofData: []byte("foto-setoran"),
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	if resp.Sales.Cash != 88000 || resp.Sales.QRIS != 44000 || resp.Sales.Transfer != 22000 {
		t.Fatalf("unexpected sales buckets: %+v", resp.Sales)
	}
	if resp.Sales.Total != 154000 || resp.Sales.Count != 3 {
		t.Fatalf("unexpected sales totals: %+v", resp.Sales)
	}
	if resp.TotalExpenses != 28000 {
		t.Fatalf("expected total expenses 28000, got %d", resp.TotalExpenses)
	}
	if resp.Deposit != 60000 {
		t.Fatalf("expected deposit 88000-28000=60000, got %d", resp.Deposit)
	}
	if resp.Report.CashCollected != 60000 {
		t.Fatalf("report must carry the computed deposit, got %d", resp.Report.CashCollected)
	}
	if resp.Report.DepositProofRef == "" {
		t.Fatalf("deposit proof reference missing")
	}
	if resp.Shift.Status != domain.ShiftStatusCompleted || !resp.Shift.ReportSubmitted {
		t.Fatalf("shift not closed: %+v", resp.Shift)
	}
	if len(resp.Expenses) != 2 {
		t.Fatalf("expected 2 expense rows, got %d", len(resp.Expenses))
	}
	if resp.Expenses[0].ReceiptRef == "" {
		t.Fatalf("receipt reference missing on first expense line")
	}
}

func TestSubmitShiftReportIsIdempotent(t *testing.T) {
	svc := newTestService()
	sendAndReceive(t, svc, "prd-galon-19l", 2)
	if _, err := svc.RecordSale(riderCtx(), domain.SaleRequest{
		PaymentMethod: "cash",
		Items:         []domain.SaleItem{{ProductID: "prd-galon-19l", Quantity: 2}},
	}); err != nil {
		t.Fatalf("sale failed: %v", err)
	}
	returnEverything(t, svc)

	first, err := svc.SubmitShiftReport(riderCtx(), domain.SubmitShiftReportRequest{
		Expenses: []domain.ExpenseLine{{ExpenseType: "bensin", Amount: 10000}},
	})
	if err != nil {
		t.Fatalf("first submit failed: %v", err)
	}

	_, err = svc.SubmitShiftReport(riderCtx(), domain.SubmitShiftReportRequest{
		ShiftID:  first.Shift.ID,
		Expenses: []domain.ExpenseLine{{ExpenseType: "bensin", Amount: 10000}},
	})
	if !errors.Is(err, store.ErrAlreadySubmitted) {
		t.Fatalf("second submit should report already submitted, got %v", err)
	}

	report, err := svc.GetDailyReport(riderCtx(), "", first.Shift.ID)
	if err != nil {
		t.Fatalf("report lookup failed: %v", err)
	}
	if report.ID != first.Report.ID {
		t.Fatalf("a second report was created: %s vs %s", report.ID, first.Report.ID)
	}

	expenses, err := svc.ListExpenses(riderCtx(), first.Shift.ID)
	if err != nil {
		t.Fatalf("list expenses failed: %v", err)
	}
	if len(expenses) != 1 {
		t.Fatalf("expense lines duplicated on retry: %d", len(expenses))
	}
}

func TestVoidedTransactionExcludedFromAggregate(t *testing.T) {
	svc := newTestService()
	sendAndReceive(t, svc, "prd-galon-19l", 5)

	keep, err := svc.RecordSale(riderCtx(), domain.SaleRequest{
		PaymentMethod: "cash",
		Items:         []domain.SaleItem{{ProductID: "prd-galon-19l", Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("sale failed: %v", err)
	}
	void, err := svc.RecordSale(riderCtx(), domain.SaleRequest{
		PaymentMethod: "cash",
		Items:         []domain.SaleItem{{ProductID: "prd-galon-19l", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("sale failed: %v", err)
	}

	if _, err := svc.VoidTransaction(branchCtx(), domain.VoidTransactionRequest{
		TransactionID: void.Transaction.ID,
		Reason:        "salah input",
	}); err != nil {
		t.Fatalf("void failed: %v", err)
	}

	now := time.Now().UTC()
	summary, err := svc.AggregateSales(riderCtx(), "", now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}
	if summary.Cash != keep.Transaction.TotalAmount {
		t.Fatalf("voided transaction leaked into aggregate: cash=%d want %d", summary.Cash, keep.Transaction.TotalAmount)
	}
	if summary.Count != 1 {
		t.Fatalf("expected 1 counted transaction, got %d", summary.Count)
	}
}

func TestVoidRequiresBranchRole(t *testing.T) {
	svc := newTestService()
	sendAndReceive(t, svc, "prd-galon-19l", 1)

	sale, err := svc.RecordSale(riderCtx(), domain.SaleRequest{
		PaymentMethod: "cash",
		Items:         []domain.SaleItem{{ProductID: "prd-galon-19l", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("sale failed: %v", err)
	}

	_, err = svc.VoidTransaction(riderCtx(), domain.VoidTransactionRequest{
		TransactionID: sale.Transaction.ID,
		Reason:        "test",
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("rider must not void transactions, got %v", err)
	}
}

func TestConcurrentReceivesShareOneShift(t *testing.T) {
	svc := newTestService()

	movements := make([]string, 0, 8)
	for i := 0; i < 8; i++ {
		movement, err := svc.SendStock(branchCtx(), domain.SendStockRequest{
			RiderID:   "rd-agus",
			ProductID: "prd-galon-19l",
			Quantity:  1,
		})
		if err != nil {
			t.Fatalf("send stock failed: %v", err)
		}
		movements = append(movements, movement.ID)
	}

	shiftIDs := make([]string, len(movements))
	var wg sync.WaitGroup
	for i, id := range movements {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			resp, err := svc.ConfirmReceive(riderCtx(), domain.ReceiveStockRequest{MovementID: id})
			if err != nil {
				t.Errorf("confirm receive failed: %v", err)
				return
			}
			shiftIDs[i] = resp.Shift.ID
		}(i, id)
	}
	wg.Wait()

	for _, id := range shiftIDs[1:] {
		if id != shiftIDs[0] {
			t.Fatalf("concurrent receives produced multiple shifts: %v", shiftIDs)
		}
	}

	balances, err := svc.ListRiderStock(riderCtx(), "")
	if err != nil {
		t.Fatalf("list rider stock failed: %v", err)
	}
	if balances[0].StockQuantity != 8 {
		t.Fatalf("expected balance 8 after 8 receives, got %d", balances[0].StockQuantity)
	}
}

func TestSecondShiftSameDayGetsNextNumber(t *testing.T) {
	svc := newTestService()
	sendAndReceive(t, svc, "prd-galon-19l", 1)
	returnEverything(t, svc)

	first, err := svc.SubmitShiftReport(riderCtx(), domain.SubmitShiftReportRequest{})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if first.Shift.ShiftNumber != 1 {
		t.Fatalf("expected first shift number 1, got %d", first.Shift.ShiftNumber)
	}

	second := sendAndReceive(t, svc, "prd-galon-19l", 1)
	if second.Shift.ID == first.Shift.ID {
		t.Fatalf("new receive after close must open a fresh shift")
	}
	if second.Shift.ShiftNumber != 2 {
		t.Fatalf("expected second shift number 2, got %d", second.Shift.ShiftNumber)
	}
}

func TestPaymentMethodFolding(t *testing.T) {
	summary := foldTotals([]domain.PaymentTotal{
		{Method: "cash", Count: 2, Amount: 50000},
		{Method: "QRIS", Count: 1, Amount: 20000},
		{Method: "bank_transfer", Count: 1, Amount: 30000},
		{Method: "bank", Count: 1, Amount: 10000},
		{Method: "voucher", Count: 1, Amount: 5000},
	})

	if summary.Cash != 50000 || summary.QRIS != 20000 || summary.Transfer != 40000 {
		t.Fatalf("unexpected buckets: %+v", summary)
	}
	// Unrecognized methods still count toward the grand total.
	if summary.Total != 115000 || summary.Count != 6 {
		t.Fatalf("unexpected totals: %+v", summary)
	}
}

func TestVerificationOverlayDoesNotTouchReport(t *testing.T) {
	svc := newTestService()
	sendAndReceive(t, svc, "prd-galon-19l", 1)
	if _, err := svc.RecordSale(riderCtx(), domain.SaleRequest{
		PaymentMethod: "cash",
		Items:         []domain.SaleItem{{ProductID: "prd-galon-19l", Quantity: 1}},
	}); err != nil {
		t.Fatalf("sale failed: %v", err)
	}
	returnEverything(t, svc)

	submitted, err := svc.SubmitShiftReport(riderCtx(), domain.SubmitShiftReportRequest{})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	verification, err := svc.SetVerificationFlag(branchCtx(), domain.VerifyFlagRequest{
		RiderID: "rd-agus",
		Date:    submitted.Report.ReportDate,
		Field:   domain.VerifyFieldCash,
		Value:   true,
	})
	if err != nil {
		t.Fatalf("set flag failed: %v", err)
	}
	if !verification.CashVerified || verification.DepositVerified {
		t.Fatalf("unexpected flag state: %+v", verification)
	}
	if verification.VerifiedBy != "branch-kemang" {
		t.Fatalf("expected verifier recorded, got %q", verification.VerifiedBy)
	}

	if _, err := svc.SetVerificationNotes(branchCtx(), domain.VerifyNotesRequest{
		RiderID: "rd-agus",
		Date:    submitted.Report.ReportDate,
		Notes:   "selisih 2000 dicek ulang",
	}); err != nil {
		t.Fatalf("set notes failed: %v", err)
	}

	report, err := svc.GetDailyReport(riderCtx(), "", submitted.Shift.ID)
	if err != nil {
		t.Fatalf("report lookup failed: %v", err)
	}
	if report.CashCollected != submitted.Report.CashCollected || report.TotalSales != submitted.Report.TotalSales {
		t.Fatalf("verification overlay mutated the report: %+v", report)
	}
}

func TestVerificationUnknownFieldRejected(t *testing.T) {
	svc := newTestService()

	_, err := svc.SetVerificationFlag(branchCtx(), domain.VerifyFlagRequest{
		RiderID: "rd-agus",
		Date:    "2025-01-15",
		Field:   "vibes",
		Value:   true,
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("unknown field must be rejected, got %v", err)
	}
}

func TestUntouchedVerificationReadsAllFalse(t *testing.T) {
	svc := newTestService()

	verification, err := svc.GetVerification(branchCtx(), "rd-agus", "2025-01-15")
	if err != nil {
		t.Fatalf("get verification failed: %v", err)
	}
	if verification.CashVerified || verification.QRISVerified || verification.TransferVerified ||
		verification.ExpenseVerified || verification.DepositVerified {
		t.Fatalf("untouched checklist must read all-false: %+v", verification)
	}
}

func TestRiderCannotActOnOtherRider(t *testing.T) {
	svc := newTestService()

	_, err := svc.RecordSale(riderCtx(), domain.SaleRequest{
		RiderID:       "rd-budi",
		PaymentMethod: "cash",
		Items:         []domain.SaleItem{{ProductID: "prd-galon-19l", Quantity: 1}},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("rider acting for another rider must be rejected, got %v", err)
	}
}

func TestRiderCannotListOtherRiderExpenses(t *testing.T) {
	svc := newTestService()

	receive := sendAndReceive(t, svc, "prd-galon-19l", 2)
	returnEverything(t, svc)

	submit, err := svc.SubmitShiftReport(riderCtx(), domain.SubmitShiftReportRequest{
		Expenses: []domain.ExpenseLine{{ExpenseType: "bensin", Amount: 12000}},
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if submit.Shift.ID != receive.Shift.ID {
		t.Fatalf("submit closed a different shift: %s vs %s", submit.Shift.ID, receive.Shift.ID)
	}

	otherRider := WithActor(context.Background(), domain.Actor{
		Username: "rider-budi",
		Role:     "rider",
		RiderID:  "rd-budi",
		BranchID: "br-kemang",
	})
	if _, err := svc.ListExpenses(otherRider, submit.Shift.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("another rider reading shift expenses must get not found, got %v", err)
	}

	expenses, err := svc.ListExpenses(riderCtx(), submit.Shift.ID)
	if err != nil {
		t.Fatalf("owner listing expenses failed: %v", err)
	}
	if len(expenses) != 1 || expenses[0].Amount != 12000 {
		t.Fatalf("unexpected expenses for owner: %+v", expenses)
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"setorstok/backend/internal/cache"
	"setorstok/backend/internal/domain"
	"setorstok/backend/internal/proofstore"
	"setorstok/backend/internal/store"
	"setorstok/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Service implements the reconciliation workflow on top of the repository.
// All calendar-day decisions (shift dates, aggregation windows) use the
// configured rider-local timezone, never server UTC.
type Service struct {
	repo   store.Repository
	cache  cache.SalesCache
	proofs proofstore.Store
	loc    *time.Location
	aggTTL time.Duration

	// submitting guards against concurrent shift-report submissions for the
	// same rider within this process. The store-level idempotency still holds
	// across processes; this only turns a racing double-tap into a fast 409.
	submitting sync.Map
}

func New(repo store.Repository, salesCache cache.SalesCache, proofs proofstore.Store, loc *time.Location, aggregateTTL time.Duration) *Service {
	if salesCache == nil {
		salesCache = cache.NoopSalesCache{}
	}
	if proofs == nil {
		proofs = proofstore.Unavailable{}
	}
	if loc == nil {
		loc = time.UTC
	}
	if aggregateTTL < time.Second {
		aggregateTTL = 20 * time.Second
	}

	return &Service{
		repo:   repo,
		cache:  salesCache,
		proofs: proofs,
		loc:    loc,
		aggTTL: aggregateTTL,
	}
}

func (s *Service) localDate(t time.Time) string {
	return t.In(s.loc).Format("2006-01-02")
}

// dayWindow returns the [start, end) UTC instants covering one rider-local
// calendar date.
func (s *Service) dayWindow(date string) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation("2006-01-02", date, s.loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: bad date %q", store.ErrValidation, date)
	}
	return start.UTC(), start.AddDate(0, 0, 1).UTC(), nil
}

func requireRole(ctx context.Context, roles ...string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, fmt.Errorf("%w: missing actor", store.ErrValidation)
	}
	for _, role := range roles {
		if actor.Role == role {
			return actor, nil
		}
	}
	return domain.Actor{}, fmt.Errorf("%w: role %s not allowed", store.ErrValidation, actor.Role)
}

// resolveRider pins rider-scoped requests to the authenticated rider. Branch
// and admin actors may act on any rider they name.
func resolveRider(ctx context.Context, requested string) (string, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return "", fmt.Errorf("%w: missing actor", store.ErrValidation)
	}
	if actor.Role == "rider" {
		if requested != "" && requested != actor.RiderID {
			return "", fmt.Errorf("%w: rider mismatch", store.ErrValidation)
		}
		return actor.RiderID, nil
	}
	if requested == "" {
		return "", fmt.Errorf("%w: rider_id required", store.ErrValidation)
	}
	return requested, nil
}

func parseTimeOrNow(raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad timestamp %q", store.ErrValidation, raw)
	}
	return t.UTC(), nil
}

// --- Stock ledger ---

func (s *Service) SendStock(ctx context.Context, req domain.SendStockRequest) (*domain.StockMovement, error) {
	actor, err := requireRole(ctx, "branch", "admin")
	if err != nil {
		return nil, err
	}
	if req.RiderID == "" || req.ProductID == "" || req.Quantity < 1 {
		return nil, fmt.Errorf("%w: rider_id, product_id and positive quantity required", store.ErrValidation)
	}

	expected, err := parseTimeOrNow(req.ExpectedTime)
	if err != nil {
		return nil, err
	}

	branchID := req.BranchID
	if branchID == "" {
		branchID = actor.BranchID
	}

	products, err := s.repo.GetProductsByIDs(ctx, []string{req.ProductID})
	if err != nil {
		return nil, err
	}
	if _, ok := products[req.ProductID]; !ok {
		return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, req.ProductID)
	}

	movement := domain.StockMovement{
		ID:           xid.New("mv"),
		ProductID:    req.ProductID,
		RiderID:      req.RiderID,
		BranchID:     branchID,
		Quantity:     req.Quantity,
		Kind:         domain.MovementKindSent,
		Status:       domain.MovementStatusSent,
		ExpectedTime: expected,
		Notes:        strings.TrimSpace(req.Notes),
		CreatedAt:    time.Now().UTC(),
	}
	return s.repo.CreateMovement(ctx, movement)
}

// ConfirmReceive marks a sent movement received and credits the rider
// balance. Confirming twice is a no-op. Every confirmation, repeated or not,
// ensures the rider has an active shift for the local date so a crash between
// the credit and the shift creation heals itself on retry.
func (s *Service) ConfirmReceive(ctx context.Context, req domain.ReceiveStockRequest) (*domain.ReceiveStockResponse, error) {
	if req.MovementID == "" {
		return nil, fmt.Errorf("%w: movement_id required", store.ErrValidation)
	}
	actualTime, err := parseTimeOrNow(req.ActualTime)
	if err != nil {
		return nil, err
	}

	movement, err := s.repo.GetMovement(ctx, req.MovementID)
	if err != nil {
		return nil, err
	}
	if _, err := resolveRider(ctx, movement.RiderID); err != nil {
		return nil, err
	}

	if expectedDate := s.localDate(movement.ExpectedTime); expectedDate != s.localDate(actualTime) {
		log.Printf("[service] WARN: movement %s expected on %s confirmed on %s", movement.ID, expectedDate, s.localDate(actualTime))
	}

	confirmed, balance, repeated, err := s.repo.ConfirmReceive(ctx, req.MovementID, actualTime)
	if err != nil {
		return nil, err
	}

	shift, err := s.EnsureActiveShift(ctx, confirmed.RiderID, confirmed.BranchID, actualTime)
	if err != nil {
		return nil, err
	}

	return &domain.ReceiveStockResponse{
		Movement: *confirmed,
		Balance:  *balance,
		Shift:    *shift,
		Repeated: repeated,
	}, nil
}

func (s *Service) RecordSale(ctx context.Context, req domain.SaleRequest) (*domain.SaleResponse, error) {
	riderID, err := resolveRider(ctx, req.RiderID)
	if err != nil {
		return nil, err
	}
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: at least one item required", store.ErrValidation)
	}
	method := strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if method == "" {
		return nil, fmt.Errorf("%w: payment_method required", store.ErrValidation)
	}

	ids := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		if item.ProductID == "" || item.Quantity < 1 {
			return nil, fmt.Errorf("%w: each item needs product_id and positive quantity", store.ErrValidation)
		}
		ids = append(ids, item.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	shift, err := s.EnsureActiveShift(ctx, riderID, "", now)
	if err != nil {
		return nil, err
	}

	var total int64
	items := make([]domain.TransactionItem, 0, len(req.Items))
	for _, line := range req.Items {
		product, ok := products[line.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, line.ProductID)
		}
		subtotal := product.Price * int64(line.Quantity)
		items = append(items, domain.TransactionItem{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: product.Price,
			Subtotal:  subtotal,
		})
		total += subtotal
	}

	tx := domain.Transaction{
		ID:            xid.New("tx"),
		RiderID:       riderID,
		BranchID:      shift.BranchID,
		ShiftID:       shift.ID,
		PaymentMethod: method,
		TotalAmount:   total,
		Status:        domain.TxStatusCompleted,
		CreatedAt:     now,
		Items:         items,
	}

	saved, balances, err := s.repo.RecordSale(ctx, tx)
	if err != nil {
		return nil, err
	}
	return &domain.SaleResponse{Transaction: *saved, Balances: balances}, nil
}

// ConfirmReturn processes each return line independently. Lines that applied
// stay applied even when a later line fails; the caller retries only the
// failed lines (a retried line finds a zero balance and is a no-op).
func (s *Service) ConfirmReturn(ctx context.Context, req domain.ReturnStockRequest) (*domain.ReturnStockResponse, error) {
	riderID, err := resolveRider(ctx, req.RiderID)
	if err != nil {
		return nil, err
	}
	if len(req.Lines) == 0 {
		return nil, fmt.Errorf("%w: at least one return line required", store.ErrValidation)
	}

	now := time.Now().UTC()
	results := make([]domain.ReturnLineResult, 0, len(req.Lines))
	for _, line := range req.Lines {
		result := domain.ReturnLineResult{BalanceID: line.BalanceID}
		if strings.TrimSpace(line.ProofRef) == "" {
			result.Error = store.ErrProofRequired.Error()
			results = append(results, result)
			continue
		}

		movement, balance, err := s.repo.ReturnFullBalance(ctx, riderID, line.BalanceID, line.ProofRef, now)
		if err != nil {
			result.Error = err.Error()
			results = append(results, result)
			continue
		}
		result.OK = true
		result.Movement = movement
		result.Balance = balance
		results = append(results, result)
	}
	return &domain.ReturnStockResponse{Results: results}, nil
}

func (s *Service) AdjustStock(ctx context.Context, req domain.AdjustStockRequest) (*domain.AdjustStockResponse, error) {
	riderID, err := resolveRider(ctx, req.RiderID)
	if err != nil {
		return nil, err
	}
	if req.ProductID == "" || req.RealCount < 0 {
		return nil, fmt.Errorf("%w: product_id and non-negative real_count required", store.ErrValidation)
	}

	variance, movement, balance, err := s.repo.AdjustStock(ctx, riderID, req.ProductID, req.RealCount, req.Notes, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	return &domain.AdjustStockResponse{Variance: variance, Movement: movement, Balance: *balance}, nil
}

func (s *Service) ListRiderStock(ctx context.Context, riderID string) ([]domain.RiderStock, error) {
	riderID, err := resolveRider(ctx, riderID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListRiderStock(ctx, riderID)
}

func (s *Service) ListMovements(ctx context.Context, riderID string, from time.Time, to time.Time, limit int) ([]domain.StockMovement, error) {
	if actor, ok := ActorFromContext(ctx); ok && actor.Role == "rider" {
		riderID = actor.RiderID
	}
	return s.repo.ListMovements(ctx, riderID, from, to, limit)
}

// --- Shift lifecycle ---

// EnsureActiveShift returns the rider's active shift for the local date of
// at, creating it when absent. Losing the creation race is fine: the winner's
// shift is fetched and returned, so callers always converge on one shift.
func (s *Service) EnsureActiveShift(ctx context.Context, riderID string, branchID string, at time.Time) (*domain.Shift, error) {
	if riderID == "" {
		return nil, fmt.Errorf("%w: rider_id required", store.ErrValidation)
	}
	date := s.localDate(at)

	shift, err := s.repo.GetActiveShift(ctx, riderID, date)
	if err == nil {
		return shift, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	created, err := s.repo.CreateShift(ctx, domain.Shift{
		RiderID:   riderID,
		BranchID:  branchID,
		ShiftDate: date,
		StartTime: at.UTC(),
	})
	if err == nil {
		return created, nil
	}
	if errors.Is(err, store.ErrConflict) {
		return s.repo.GetActiveShift(ctx, riderID, date)
	}
	return nil, err
}

func (s *Service) GetActiveShift(ctx context.Context, riderID string) (*domain.Shift, error) {
	riderID, err := resolveRider(ctx, riderID)
	if err != nil {
		return nil, err
	}
	return s.repo.GetActiveShift(ctx, riderID, s.localDate(time.Now()))
}

// --- Sales aggregation ---

// bucketForMethod folds raw payment method strings into reporting channels.
// Unrecognized methods count toward the total only.
func bucketForMethod(method string) string {
	switch strings.ToLower(strings.TrimSpace(method)) {
	case "cash":
		return "cash"
	case "qris":
		return "qris"
	case "transfer", "bank_transfer", "bank":
		return "transfer"
	default:
		return ""
	}
}

func foldTotals(rows []domain.PaymentTotal) domain.SalesSummary {
	var summary domain.SalesSummary
	for _, row := range rows {
		switch bucketForMethod(row.Method) {
		case "cash":
			summary.Cash += row.Amount
		case "qris":
			summary.QRIS += row.Amount
		case "transfer":
			summary.Transfer += row.Amount
		}
		summary.Total += row.Amount
		summary.Count += row.Count
	}
	return summary
}

// AggregateSales serves dashboard reads through the cache. Voided
// transactions never appear: the repository aggregates completed rows only.
func (s *Service) AggregateSales(ctx context.Context, riderID string, from time.Time, to time.Time) (*domain.SalesSummary, error) {
	riderID, err := resolveRider(ctx, riderID)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("sales:%s:%d:%d", riderID, from.Unix(), to.Unix())
	if cached, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		return cached, nil
	} else if err != nil {
		log.Printf("[service] WARN: sales cache read failed key=%s: %v", key, err)
	}

	summary, err := s.aggregateFresh(ctx, riderID, from, to)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, key, summary, s.aggTTL); err != nil {
		log.Printf("[service] WARN: sales cache write failed key=%s: %v", key, err)
	}
	return summary, nil
}

// AggregateSalesForDate aggregates one rider-local calendar date.
func (s *Service) AggregateSalesForDate(ctx context.Context, riderID string, date string) (*domain.SalesSummary, error) {
	from, to, err := s.dayWindow(date)
	if err != nil {
		return nil, err
	}
	return s.AggregateSales(ctx, riderID, from, to)
}

func (s *Service) aggregateFresh(ctx context.Context, riderID string, from time.Time, to time.Time) (*domain.SalesSummary, error) {
	rows, err := s.repo.AggregateSales(ctx, riderID, from, to)
	if err != nil {
		return nil, err
	}
	summary := foldTotals(rows)
	return &summary, nil
}

func (s *Service) VoidTransaction(ctx context.Context, req domain.VoidTransactionRequest) (*domain.Transaction, error) {
	if _, err := requireRole(ctx, "branch", "admin"); err != nil {
		return nil, err
	}
	if req.TransactionID == "" || strings.TrimSpace(req.Reason) == "" {
		return nil, fmt.Errorf("%w: transaction_id and reason required", store.ErrValidation)
	}
	// Stock is not restored on void; a physical discrepancy is corrected
	// through an explicit adjustment.
	return s.repo.VoidTransaction(ctx, req.TransactionID, strings.TrimSpace(req.Reason), time.Now().UTC())
}

// --- Deposit & shift report ---

// ComputeDeposit is the single authority on the deposit amount: cash sales
// minus the sum of operational expenses, floored at zero. Negative results
// mean expenses exceeded cash and the rider deposits nothing.
func ComputeDeposit(cashSales int64, expenses []domain.OperationalExpense) int64 {
	var total int64
	for _, expense := range expenses {
		total += expense.Amount
	}
	deposit := cashSales - total
	if deposit < 0 {
		return 0
	}
	return deposit
}

// SubmitShiftReport closes the rider's shift: it verifies all stock is
// returned, freezes the day's sales figures, records expenses, computes the
// deposit, and atomically creates the daily report while completing the
// shift. Safe to retry after any partial failure.
func (s *Service) SubmitShiftReport(ctx context.Context, req domain.SubmitShiftReportRequest) (*domain.SubmitShiftReportResponse, error) {
	riderID, err := resolveRider(ctx, req.RiderID)
	if err != nil {
		return nil, err
	}

	if _, loaded := s.submitting.LoadOrStore(riderID, struct{}{}); loaded {
		return nil, store.ErrAlreadySubmitting
	}
	defer s.submitting.Delete(riderID)

	outstanding, err := s.repo.CountOutstandingStock(ctx, riderID)
	if err != nil {
		return nil, err
	}
	if outstanding > 0 {
		return nil, fmt.Errorf("%w: %d products still held", store.ErrStockNotReturned, outstanding)
	}

	now := time.Now().UTC()
	var shift *domain.Shift
	if req.ShiftID != "" {
		shift, err = s.repo.GetShift(ctx, req.ShiftID)
		if err != nil {
			return nil, err
		}
		if shift.RiderID != riderID {
			return nil, store.ErrNotFound
		}
	} else {
		shift, err = s.EnsureActiveShift(ctx, riderID, req.BranchID, now)
		if err != nil {
			return nil, err
		}
	}
	if shift.ReportSubmitted {
		return nil, store.ErrAlreadySubmitted
	}

	// Freeze the figures over the shift's full local calendar day. The
	// submit path always reads the store directly, never the cache.
	from, to, err := s.dayWindow(shift.ShiftDate)
	if err != nil {
		return nil, err
	}
	sales, err := s.aggregateFresh(ctx, riderID, from, to)
	if err != nil {
		// Closing figures must come from the store; without them the close
		// cannot proceed.
		return nil, fmt.Errorf("%w: sales aggregation: %v", store.ErrDependency, err)
	}

	expenses := make([]domain.OperationalExpense, 0, len(req.Expenses))
	for i, line := range req.Expenses {
		if line.Amount <= 0 {
			continue
		}
		if strings.TrimSpace(line.ExpenseType) == "" {
			return nil, fmt.Errorf("%w: expense line %d missing expense_type", store.ErrValidation, i)
		}

		receiptRef := ""
		if len(line.ReceiptData) > 0 {
			receiptRef, err = s.proofs.Put(ctx, "receipt", line.ReceiptData)
			if err != nil {
				log.Printf("[service] WARN: receipt upload failed shift=%s line=%d: %v", shift.ID, i, err)
				receiptRef = ""
			}
		}

		saved, err := s.repo.UpsertExpense(ctx, domain.OperationalExpense{
			RiderID:     riderID,
			ShiftID:     shift.ID,
			LineKey:     fmt.Sprintf("%s:%d", shift.ID, i),
			ExpenseType: strings.TrimSpace(line.ExpenseType),
			Amount:      line.Amount,
			Description: strings.TrimSpace(line.Description),
			ReceiptRef:  receiptRef,
			ExpenseDate: shift.ShiftDate,
			CreatedAt:   now,
		})
		if err != nil {
			return nil, err
		}
		expenses = append(expenses, *saved)
	}

	deposit := ComputeDeposit(sales.Cash, expenses)

	depositProofRef := ""
	if len(req.DepositProofData) > 0 {
		depositProofRef, err = s.proofs.Put(ctx, "deposit", req.DepositProofData)
		if err != nil {
			log.Printf("[service] WARN: deposit proof upload failed shift=%s: %v", shift.ID, err)
			depositProofRef = ""
		}
	}

	branchID := shift.BranchID
	if branchID == "" {
		branchID = req.BranchID
	}

	closedShift, report, err := s.repo.FinalizeShift(ctx, shift.ID, now, req.Notes, domain.DailyReport{
		RiderID:           riderID,
		ShiftID:           shift.ID,
		BranchID:          branchID,
		ReportDate:        shift.ShiftDate,
		TotalSales:        sales.Total,
		CashCollected:     deposit,
		TotalTransactions: sales.Count,
		DepositProofRef:   depositProofRef,
		CreatedAt:         now,
	})
	if err != nil {
		return nil, err
	}

	var totalExpenses int64
	for _, expense := range expenses {
		totalExpenses += expense.Amount
	}

	return &domain.SubmitShiftReportResponse{
		Shift:         *closedShift,
		Report:        *report,
		Sales:         *sales,
		Expenses:      expenses,
		TotalExpenses: totalExpenses,
		Deposit:       report.CashCollected,
	}, nil
}

func (s *Service) GetDailyReport(ctx context.Context, riderID string, shiftID string) (*domain.DailyReport, error) {
	riderID, err := resolveRider(ctx, riderID)
	if err != nil {
		return nil, err
	}
	return s.repo.GetDailyReport(ctx, riderID, shiftID)
}

func (s *Service) ListDailyReports(ctx context.Context, branchID string, reportDate string) ([]domain.DailyReport, error) {
	actor, err := requireRole(ctx, "branch", "admin")
	if err != nil {
		return nil, err
	}
	if actor.Role == "branch" && actor.BranchID != "" {
		branchID = actor.BranchID
	}
	return s.repo.ListDailyReports(ctx, branchID, reportDate)
}

func (s *Service) ListExpenses(ctx context.Context, shiftID string) ([]domain.OperationalExpense, error) {
	if shiftID == "" {
		return nil, fmt.Errorf("%w: shift_id required", store.ErrValidation)
	}
	shift, err := s.repo.GetShift(ctx, shiftID)
	if err != nil {
		return nil, err
	}
	if actor, ok := ActorFromContext(ctx); ok && actor.Role == "rider" && shift.RiderID != actor.RiderID {
		return nil, store.ErrNotFound
	}
	return s.repo.ListExpenses(ctx, shiftID)
}

// --- Verification overlay ---

// SetVerificationFlag records one branch-side checklist tick. The overlay is
// observational: it never alters reports, shifts, or the computed deposit.
func (s *Service) SetVerificationFlag(ctx context.Context, req domain.VerifyFlagRequest) (*domain.DepositVerification, error) {
	actor, err := requireRole(ctx, "branch", "admin")
	if err != nil {
		return nil, err
	}
	if req.RiderID == "" || req.Date == "" {
		return nil, fmt.Errorf("%w: rider_id and date required", store.ErrValidation)
	}
	return s.repo.UpsertVerificationFlag(ctx, req.RiderID, req.Date, req.Field, req.Value, actor.Username, time.Now().UTC())
}

func (s *Service) SetVerificationNotes(ctx context.Context, req domain.VerifyNotesRequest) (*domain.DepositVerification, error) {
	actor, err := requireRole(ctx, "branch", "admin")
	if err != nil {
		return nil, err
	}
	if req.RiderID == "" || req.Date == "" {
		return nil, fmt.Errorf("%w: rider_id and date required", store.ErrValidation)
	}
	return s.repo.UpsertVerificationNotes(ctx, req.RiderID, req.Date, req.Notes, actor.Username, time.Now().UTC())
}

func (s *Service) GetVerification(ctx context.Context, riderID string, date string) (*domain.DepositVerification, error) {
	if _, err := requireRole(ctx, "branch", "admin"); err != nil {
		return nil, err
	}
	verification, err := s.repo.GetVerification(ctx, riderID, date)
	if errors.Is(err, store.ErrNotFound) {
		// An untouched checklist reads as all-false rather than 404.
		return &domain.DepositVerification{RiderID: riderID, DepositDate: date}, nil
	}
	return verification, err
}

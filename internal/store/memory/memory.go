package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"setorstok/backend/internal/domain"
	"setorstok/backend/internal/store"
	"setorstok/backend/internal/xid"
)

// Store is the in-memory Repository used in dev/demo mode and by tests.
// A single mutex guards all maps, which gives every Repository call the
// atomicity the interface demands.
type Store struct {
	mu               sync.RWMutex
	products         map[string]domain.Product
	movements        map[string]*domain.StockMovement
	movementLog      []string
	balancesByID     map[string]*domain.RiderStock
	balanceIDByKey   map[string]string
	transactionsByID map[string]*domain.Transaction
	txLog            []string
	shiftsByID       map[string]domain.Shift
	activeShiftByKey map[string]string
	expensesByKey    map[string]domain.OperationalExpense
	reportsByKey     map[string]domain.DailyReport
	verifications    map[string]domain.DepositVerification
	usersByUsername  map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		products:         make(map[string]domain.Product),
		movements:        make(map[string]*domain.StockMovement),
		movementLog:      make([]string, 0, 256),
		balancesByID:     make(map[string]*domain.RiderStock),
		balanceIDByKey:   make(map[string]string),
		transactionsByID: make(map[string]*domain.Transaction),
		txLog:            make([]string, 0, 256),
		shiftsByID:       make(map[string]domain.Shift),
		activeShiftByKey: make(map[string]string),
		expensesByKey:    make(map[string]domain.OperationalExpense),
		reportsByKey:     make(map[string]domain.DailyReport),
		verifications:    make(map[string]domain.DepositVerification),
		usersByUsername:  make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store preloaded with a small product catalog and
// dev/demo user accounts. Seed credentials come from SEED_BRANCH_PASSWORD
// and SEED_RIDER_PASSWORD; hardcoded dev defaults apply when unset.
func NewSeeded() *Store {
	s := New()

	for _, p := range []domain.Product{
		{ID: "prd-galon-19l", Name: "Air Galon 19L", Price: 22000, Active: true},
		{ID: "prd-botol-600", Name: "Air Botol 600ml", Price: 4000, Active: true},
		{ID: "prd-botol-1500", Name: "Air Botol 1.5L", Price: 7000, Active: true},
		{ID: "prd-gas-3kg", Name: "Gas LPG 3kg", Price: 23000, Active: true},
		{ID: "prd-gas-12kg", Name: "Gas LPG 12kg", Price: 215000, Active: true},
		{ID: "prd-es-kristal", Name: "Es Kristal 5kg", Price: 12000, Active: true},
	} {
		s.products[p.ID] = p
	}

	s.usersByUsername = seedUsers()
	return s
}

func seedUsers() map[string]domain.UserAccount {
	branchPwd := envOr("SEED_BRANCH_PASSWORD", "branch123")
	riderPwd := envOr("SEED_RIDER_PASSWORD", "rider123")
	if os.Getenv("SEED_BRANCH_PASSWORD") == "" || os.Getenv("SEED_RIDER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_BRANCH_PASSWORD and SEED_RIDER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
		riderID  string
		branchID string
	}{
		{"branch-kemang", branchPwd, "branch", "", "br-kemang"},
		{"rider-agus", riderPwd, "rider", "rd-agus", "br-kemang"},
		{"rider-budi", riderPwd, "rider", "rd-budi", "br-kemang"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			RiderID:   u.riderID,
			BranchID:  u.branchID,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func balanceKey(riderID, productID string) string {
	return riderID + "|" + productID
}

func shiftKey(riderID, shiftDate string) string {
	return riderID + "|" + shiftDate
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok && p.Active {
			result[id] = p
		}
	}
	return result, nil
}

func (s *Store) CreateMovement(_ context.Context, movement domain.StockMovement) (*domain.StockMovement, error) {
	if movement.RiderID == "" || movement.ProductID == "" || movement.Quantity < 1 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if movement.ID == "" {
		movement.ID = xid.New("mv")
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}
	if _, exists := s.movements[movement.ID]; exists {
		return nil, store.ErrConflict
	}

	stored := movement
	s.movements[movement.ID] = &stored
	s.movementLog = append(s.movementLog, movement.ID)
	copied := stored
	return &copied, nil
}

func (s *Store) GetMovement(_ context.Context, id string) (*domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	movement, exists := s.movements[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := *movement
	return &copied, nil
}

func (s *Store) ListMovements(_ context.Context, riderID string, from time.Time, to time.Time, limit int) ([]domain.StockMovement, error) {
	if limit < 1 {
		limit = 200
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockMovement, 0, limit)
	for i := len(s.movementLog) - 1; i >= 0 && len(result) < limit; i-- {
		movement := s.movements[s.movementLog[i]]
		if riderID != "" && movement.RiderID != riderID {
			continue
		}
		if !from.IsZero() && movement.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !movement.CreatedAt.Before(to) {
			continue
		}
		result = append(result, *movement)
	}
	return result, nil
}

func (s *Store) ConfirmReceive(_ context.Context, movementID string, actualTime time.Time) (*domain.StockMovement, *domain.RiderStock, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	movement, exists := s.movements[movementID]
	if !exists {
		return nil, nil, false, store.ErrNotFound
	}

	if movement.Status == domain.MovementStatusReceived {
		balance := s.lockedBalance(movement.RiderID, movement.ProductID)
		m, b := *movement, *balance
		return &m, &b, true, nil
	}
	if movement.Status != domain.MovementStatusSent {
		return nil, nil, false, fmt.Errorf("%w: movement %s is %s, not sent", store.ErrValidation, movementID, movement.Status)
	}

	at := actualTime.UTC()
	movement.Status = domain.MovementStatusReceived
	movement.ActualTime = &at

	balance := s.lockedBalance(movement.RiderID, movement.ProductID)
	balance.StockQuantity += movement.Quantity
	balance.UpdatedAt = at

	m, b := *movement, *balance
	return &m, &b, false, nil
}

// lockedBalance returns the mutable balance row for (rider, product),
// creating a zero row on first touch. Callers must hold s.mu.
func (s *Store) lockedBalance(riderID, productID string) *domain.RiderStock {
	key := balanceKey(riderID, productID)
	if id, ok := s.balanceIDByKey[key]; ok {
		return s.balancesByID[id]
	}
	balance := &domain.RiderStock{
		ID:        xid.New("bal"),
		RiderID:   riderID,
		ProductID: productID,
		UpdatedAt: time.Now().UTC(),
	}
	s.balancesByID[balance.ID] = balance
	s.balanceIDByKey[key] = balance.ID
	return balance
}

func (s *Store) RecordSale(_ context.Context, tx domain.Transaction) (*domain.Transaction, []domain.RiderStock, error) {
	if tx.RiderID == "" || len(tx.Items) == 0 {
		return nil, nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Verify all lines before touching anything so a failed sale never
	// leaves a partial decrement behind.
	for _, item := range tx.Items {
		if item.Quantity < 1 {
			return nil, nil, store.ErrValidation
		}
		balance := s.lockedBalance(tx.RiderID, item.ProductID)
		if balance.StockQuantity < item.Quantity {
			return nil, nil, fmt.Errorf("%w: product %s has %d, requested %d",
				store.ErrInsufficientStock, item.ProductID, balance.StockQuantity, item.Quantity)
		}
	}

	now := time.Now().UTC()
	balances := make([]domain.RiderStock, 0, len(tx.Items))
	for _, item := range tx.Items {
		balance := s.lockedBalance(tx.RiderID, item.ProductID)
		balance.StockQuantity -= item.Quantity
		balance.UpdatedAt = now
		balances = append(balances, *balance)
	}

	if tx.ID == "" {
		tx.ID = xid.New("tx")
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	if tx.Status == "" {
		tx.Status = domain.TxStatusCompleted
	}

	stored := tx
	s.transactionsByID[tx.ID] = &stored
	s.txLog = append(s.txLog, tx.ID)
	copied := stored
	return &copied, balances, nil
}

func (s *Store) ReturnFullBalance(_ context.Context, riderID string, balanceID string, proofRef string, at time.Time) (*domain.StockMovement, *domain.RiderStock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	balance, exists := s.balancesByID[balanceID]
	if !exists || balance.RiderID != riderID {
		return nil, nil, store.ErrNotFound
	}

	if balance.StockQuantity == 0 {
		copied := *balance
		return nil, &copied, nil
	}

	at = at.UTC()
	movement := &domain.StockMovement{
		ID:           xid.New("mv"),
		ProductID:    balance.ProductID,
		RiderID:      riderID,
		Quantity:     balance.StockQuantity,
		Kind:         domain.MovementKindReturned,
		Status:       domain.MovementStatusReturned,
		ExpectedTime: at,
		ActualTime:   &at,
		ProofRef:     proofRef,
		CreatedAt:    at,
	}
	s.movements[movement.ID] = movement
	s.movementLog = append(s.movementLog, movement.ID)

	balance.StockQuantity = 0
	balance.UpdatedAt = at

	m, b := *movement, *balance
	return &m, &b, nil
}

func (s *Store) AdjustStock(_ context.Context, riderID string, productID string, realCount int, notes string, at time.Time) (int, *domain.StockMovement, *domain.RiderStock, error) {
	if riderID == "" || productID == "" || realCount < 0 {
		return 0, nil, nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	balance := s.lockedBalance(riderID, productID)
	variance := realCount - balance.StockQuantity
	if variance == 0 {
		copied := *balance
		return 0, nil, &copied, nil
	}

	at = at.UTC()
	kind := domain.MovementKindAdjustmentIn
	qty := variance
	if variance < 0 {
		kind = domain.MovementKindAdjustmentOut
		qty = -variance
	}
	movement := &domain.StockMovement{
		ID:           xid.New("mv"),
		ProductID:    productID,
		RiderID:      riderID,
		Quantity:     qty,
		Kind:         kind,
		Status:       domain.MovementStatusReceived,
		ExpectedTime: at,
		ActualTime:   &at,
		Notes:        notes,
		CreatedAt:    at,
	}
	s.movements[movement.ID] = movement
	s.movementLog = append(s.movementLog, movement.ID)

	balance.StockQuantity = realCount
	balance.UpdatedAt = at

	m, b := *movement, *balance
	return variance, &m, &b, nil
}

func (s *Store) GetBalance(_ context.Context, balanceID string) (*domain.RiderStock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	balance, exists := s.balancesByID[balanceID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := *balance
	return &copied, nil
}

func (s *Store) ListRiderStock(_ context.Context, riderID string) ([]domain.RiderStock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.RiderStock, 0, 16)
	for _, balance := range s.balancesByID {
		if balance.RiderID != riderID {
			continue
		}
		result = append(result, *balance)
	}
	slices.SortFunc(result, func(a, b domain.RiderStock) int {
		return strings.Compare(a.ProductID, b.ProductID)
	})
	return result, nil
}

func (s *Store) CountOutstandingStock(_ context.Context, riderID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, balance := range s.balancesByID {
		if balance.RiderID == riderID && balance.StockQuantity > 0 {
			count++
		}
	}
	return count, nil
}

func (s *Store) CreateShift(_ context.Context, shift domain.Shift) (*domain.Shift, error) {
	if shift.RiderID == "" || shift.ShiftDate == "" {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := shiftKey(shift.RiderID, shift.ShiftDate)
	if _, active := s.activeShiftByKey[key]; active {
		return nil, store.ErrConflict
	}

	maxNumber := 0
	for _, existing := range s.shiftsByID {
		if existing.RiderID == shift.RiderID && existing.ShiftDate == shift.ShiftDate && existing.ShiftNumber > maxNumber {
			maxNumber = existing.ShiftNumber
		}
	}

	if shift.ID == "" {
		shift.ID = xid.New("shift")
	}
	if shift.StartTime.IsZero() {
		shift.StartTime = time.Now().UTC()
	}
	shift.ShiftNumber = maxNumber + 1
	shift.Status = domain.ShiftStatusActive
	shift.EndTime = nil
	shift.ReportSubmitted = false

	s.shiftsByID[shift.ID] = shift
	s.activeShiftByKey[key] = shift.ID
	saved := shift
	return &saved, nil
}

func (s *Store) GetActiveShift(_ context.Context, riderID string, shiftDate string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.activeShiftByKey[shiftKey(riderID, shiftDate)]
	if !exists {
		return nil, store.ErrNotFound
	}
	shift := s.shiftsByID[id]
	return &shift, nil
}

func (s *Store) GetShift(_ context.Context, shiftID string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shift, exists := s.shiftsByID[shiftID]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &shift, nil
}

func (s *Store) AggregateSales(_ context.Context, riderID string, from time.Time, to time.Time) ([]domain.PaymentTotal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := make(map[string]*domain.PaymentTotal, 4)
	for _, id := range s.txLog {
		tx := s.transactionsByID[id]
		if tx.RiderID != riderID || tx.Status != domain.TxStatusCompleted {
			continue
		}
		if tx.CreatedAt.Before(from) || !tx.CreatedAt.Before(to) {
			continue
		}
		row, ok := totals[tx.PaymentMethod]
		if !ok {
			row = &domain.PaymentTotal{Method: tx.PaymentMethod}
			totals[tx.PaymentMethod] = row
		}
		row.Count++
		row.Amount += tx.TotalAmount
	}

	result := make([]domain.PaymentTotal, 0, len(totals))
	for _, row := range totals {
		result = append(result, *row)
	}
	slices.SortFunc(result, func(a, b domain.PaymentTotal) int {
		return strings.Compare(a.Method, b.Method)
	})
	return result, nil
}

func (s *Store) VoidTransaction(_ context.Context, id string, reason string, at time.Time) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, exists := s.transactionsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	if tx.Status != domain.TxStatusCompleted {
		return nil, fmt.Errorf("%w: transaction %s is %s", store.ErrValidation, id, tx.Status)
	}

	at = at.UTC()
	tx.Status = domain.TxStatusVoided
	tx.VoidReason = reason
	tx.VoidedAt = &at

	copied := *tx
	return &copied, nil
}

func (s *Store) UpsertExpense(_ context.Context, expense domain.OperationalExpense) (*domain.OperationalExpense, error) {
	if expense.LineKey == "" || expense.ShiftID == "" || expense.Amount < 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.expensesByKey[expense.LineKey]; ok {
		copied := existing
		return &copied, nil
	}

	if expense.ID == "" {
		expense.ID = xid.New("exp")
	}
	if expense.CreatedAt.IsZero() {
		expense.CreatedAt = time.Now().UTC()
	}
	s.expensesByKey[expense.LineKey] = expense
	saved := expense
	return &saved, nil
}

func (s *Store) ListExpenses(_ context.Context, shiftID string) ([]domain.OperationalExpense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.OperationalExpense, 0, 8)
	for _, expense := range s.expensesByKey {
		if expense.ShiftID == shiftID {
			result = append(result, expense)
		}
	}
	slices.SortFunc(result, func(a, b domain.OperationalExpense) int {
		return strings.Compare(a.LineKey, b.LineKey)
	})
	return result, nil
}

func (s *Store) FinalizeShift(_ context.Context, shiftID string, endTime time.Time, notes string, report domain.DailyReport) (*domain.Shift, *domain.DailyReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shift, exists := s.shiftsByID[shiftID]
	if !exists {
		return nil, nil, store.ErrNotFound
	}
	if shift.ReportSubmitted {
		return nil, nil, store.ErrAlreadySubmitted
	}

	reportKey := report.RiderID + "|" + shiftID
	saved, exists := s.reportsByKey[reportKey]
	if !exists {
		if report.ID == "" {
			report.ID = xid.New("rpt")
		}
		if report.CreatedAt.IsZero() {
			report.CreatedAt = time.Now().UTC()
		}
		report.ShiftID = shiftID
		s.reportsByKey[reportKey] = report
		saved = report
	}

	endTime = endTime.UTC()
	shift.Status = domain.ShiftStatusCompleted
	shift.EndTime = &endTime
	shift.ReportSubmitted = true
	shift.TotalSales = saved.TotalSales
	shift.CashCollected = saved.CashCollected
	shift.TotalTransactions = saved.TotalTransactions
	if notes != "" {
		shift.Notes = notes
	}
	s.shiftsByID[shiftID] = shift

	key := shiftKey(shift.RiderID, shift.ShiftDate)
	if s.activeShiftByKey[key] == shiftID {
		delete(s.activeShiftByKey, key)
	}

	closedShift, closedReport := shift, saved
	return &closedShift, &closedReport, nil
}

func (s *Store) GetDailyReport(_ context.Context, riderID string, shiftID string) (*domain.DailyReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report, exists := s.reportsByKey[riderID+"|"+shiftID]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &report, nil
}

func (s *Store) ListDailyReports(_ context.Context, branchID string, reportDate string) ([]domain.DailyReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.DailyReport, 0, 16)
	for _, report := range s.reportsByKey {
		if branchID != "" && report.BranchID != branchID {
			continue
		}
		if reportDate != "" && report.ReportDate != reportDate {
			continue
		}
		result = append(result, report)
	}
	slices.SortFunc(result, func(a, b domain.DailyReport) int {
		return strings.Compare(a.RiderID, b.RiderID)
	})
	return result, nil
}

func (s *Store) UpsertVerificationFlag(_ context.Context, riderID string, date string, field string, value bool, verifiedBy string, at time.Time) (*domain.DepositVerification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := riderID + "|" + date
	v := s.verifications[key]
	v.RiderID = riderID
	v.DepositDate = date

	switch field {
	case domain.VerifyFieldCash:
		v.CashVerified = value
	case domain.VerifyFieldQRIS:
		v.QRISVerified = value
	case domain.VerifyFieldTransfer:
		v.TransferVerified = value
	case domain.VerifyFieldExpenses:
		v.ExpenseVerified = value
	case domain.VerifyFieldDeposit:
		v.DepositVerified = value
	default:
		return nil, fmt.Errorf("%w: unknown verification field %q", store.ErrValidation, field)
	}

	v.VerifiedBy = verifiedBy
	v.UpdatedAt = at.UTC()
	s.verifications[key] = v
	saved := v
	return &saved, nil
}

func (s *Store) UpsertVerificationNotes(_ context.Context, riderID string, date string, notes string, verifiedBy string, at time.Time) (*domain.DepositVerification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := riderID + "|" + date
	v := s.verifications[key]
	v.RiderID = riderID
	v.DepositDate = date
	v.Notes = notes
	v.VerifiedBy = verifiedBy
	v.UpdatedAt = at.UTC()
	s.verifications[key] = v
	saved := v
	return &saved, nil
}

func (s *Store) GetVerification(_ context.Context, riderID string, date string) (*domain.DepositVerification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, exists := s.verifications[riderID+"|"+date]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &v, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "rider"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

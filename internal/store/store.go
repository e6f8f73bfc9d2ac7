package store

import (
	"context"
	"errors"
	"time"

	"setorstok/backend/internal/domain"
)

// Sentinel conditions surfaced to callers. Every rejected transition maps to
// one of these so the rider-facing workflow can gate on the exact reason.
var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrProofRequired     = errors.New("proof required")
	ErrStockNotReturned  = errors.New("stock not returned")
	ErrAlreadySubmitted  = errors.New("report already submitted")
	ErrAlreadySubmitting = errors.New("submission already in progress")
	ErrConflict          = errors.New("conflict")
	ErrDependency        = errors.New("dependency unavailable")
)

// Repository is the persistence boundary of the reconciliation engine.
// Multi-step effects that must land atomically (receive confirmation, sale,
// return line, adjustment, shift finalization) are single Repository calls
// so each implementation can guarantee atomicity with its own means.
type Repository interface {
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)

	CreateMovement(ctx context.Context, movement domain.StockMovement) (*domain.StockMovement, error)
	GetMovement(ctx context.Context, id string) (*domain.StockMovement, error)
	ListMovements(ctx context.Context, riderID string, from time.Time, to time.Time, limit int) ([]domain.StockMovement, error)

	// ConfirmReceive transitions a sent movement to received and credits the
	// rider balance in one atomic unit. Confirming an already-received
	// movement is a no-op returning the existing state with repeated=true.
	ConfirmReceive(ctx context.Context, movementID string, actualTime time.Time) (*domain.StockMovement, *domain.RiderStock, bool, error)

	// RecordSale checks and decrements every item balance and persists the
	// transaction atomically. Fails with ErrInsufficientStock without any
	// partial decrement.
	RecordSale(ctx context.Context, tx domain.Transaction) (*domain.Transaction, []domain.RiderStock, error)

	// ReturnFullBalance writes a returned movement for the full remaining
	// quantity of one balance and zeroes it, atomically. A zero balance
	// returns the balance unchanged with a nil movement.
	ReturnFullBalance(ctx context.Context, riderID string, balanceID string, proofRef string, at time.Time) (*domain.StockMovement, *domain.RiderStock, error)

	// AdjustStock sets the balance to realCount and writes the matching
	// adjustment movement. Variance zero writes nothing.
	AdjustStock(ctx context.Context, riderID string, productID string, realCount int, notes string, at time.Time) (int, *domain.StockMovement, *domain.RiderStock, error)

	GetBalance(ctx context.Context, balanceID string) (*domain.RiderStock, error)
	ListRiderStock(ctx context.Context, riderID string) ([]domain.RiderStock, error)
	CountOutstandingStock(ctx context.Context, riderID string) (int, error)

	// CreateShift assigns the next shift number for (rider, date) and
	// persists the shift. A second active shift for the same rider and date
	// fails with ErrConflict; the data layer, not application logic, owns
	// this uniqueness.
	CreateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error)
	GetActiveShift(ctx context.Context, riderID string, shiftDate string) (*domain.Shift, error)
	GetShift(ctx context.Context, shiftID string) (*domain.Shift, error)

	AggregateSales(ctx context.Context, riderID string, from time.Time, to time.Time) ([]domain.PaymentTotal, error)
	VoidTransaction(ctx context.Context, id string, reason string, at time.Time) (*domain.Transaction, error)

	// UpsertExpense persists one expense line idempotently on its LineKey:
	// replaying the same line returns the stored row instead of duplicating.
	UpsertExpense(ctx context.Context, expense domain.OperationalExpense) (*domain.OperationalExpense, error)
	ListExpenses(ctx context.Context, shiftID string) ([]domain.OperationalExpense, error)

	// FinalizeShift creates the daily report if absent for (rider, shift) and
	// marks the shift completed with its denormalized totals, in one atomic
	// unit. An existing report is returned as-is (idempotent-create); a shift
	// already submitted fails with ErrAlreadySubmitted.
	FinalizeShift(ctx context.Context, shiftID string, endTime time.Time, notes string, report domain.DailyReport) (*domain.Shift, *domain.DailyReport, error)

	GetDailyReport(ctx context.Context, riderID string, shiftID string) (*domain.DailyReport, error)
	ListDailyReports(ctx context.Context, branchID string, reportDate string) ([]domain.DailyReport, error)

	UpsertVerificationFlag(ctx context.Context, riderID string, date string, field string, value bool, verifiedBy string, at time.Time) (*domain.DepositVerification, error)
	UpsertVerificationNotes(ctx context.Context, riderID string, date string, notes string, verifiedBy string, at time.Time) (*domain.DepositVerification, error)
	GetVerification(ctx context.Context, riderID string, date string) (*domain.DepositVerification, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

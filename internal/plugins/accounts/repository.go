package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/isadetaseek/andrea/internal/apperror"
)

// Repository defines the data access contract for accounts and their
// conversation documents. All SQL lives in the concrete implementation --
// no SQL leaks out.
type Repository interface {
	// Credential store.
	CreateAccount(ctx context.Context, acct *Account) error
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByID(ctx context.Context, id string) (*Account, error)
	EmailExists(ctx context.Context, email string) (bool, error)

	// Document store. EnsureDocument and TouchLastLogin back the identity
	// machine; ConversationCount and IncrementConversations back the
	// quota counter.
	CreateDocument(ctx context.Context, doc *AccountDocument) error
	GetDocument(ctx context.Context, accountID string) (*AccountDocument, error)
	EnsureDocument(ctx context.Context, accountID, email string) (premium bool, err error)
	TouchLastLogin(ctx context.Context, accountID string) error
	SetPremium(ctx context.Context, accountID, plan string) error
	ConversationCount(ctx context.Context, accountID string) (int, error)
	IncrementConversations(ctx context.Context, accountID string, delta int) error
}

// repository implements Repository with hand-written MariaDB queries.
type repository struct {
	db *sql.DB
}

// NewRepository creates an account repository backed by the given DB pool.
func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

// CreateAccount inserts a new credential row.
func (r *repository) CreateAccount(ctx context.Context, acct *Account) error {
	query := `INSERT INTO accounts (id, email, password_hash, is_disabled, created_at)
	          VALUES (?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		acct.ID,
		acct.Email,
		acct.PasswordHash,
		acct.IsDisabled,
		acct.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting account: %w", err)
	}

	return nil
}

// FindByEmail retrieves an account by its email address.
// Returns apperror.NotFound if no account exists with this email.
func (r *repository) FindByEmail(ctx context.Context, email string) (*Account, error) {
	query := `SELECT id, email, password_hash, is_disabled, created_at
	          FROM accounts WHERE email = ?`

	acct := &Account{}
	err := r.db.QueryRowContext(ctx, query, email).Scan(
		&acct.ID,
		&acct.Email,
		&acct.PasswordHash,
		&acct.IsDisabled,
		&acct.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("account not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying account by email: %w", err)
	}

	return acct, nil
}

// FindByID retrieves an account by its UUID.
// Returns apperror.NotFound if no account exists with this ID.
func (r *repository) FindByID(ctx context.Context, id string) (*Account, error) {
	query := `SELECT id, email, password_hash, is_disabled, created_at
	          FROM accounts WHERE id = ?`

	acct := &Account{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&acct.ID,
		&acct.Email,
		&acct.PasswordHash,
		&acct.IsDisabled,
		&acct.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("account not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying account by id: %w", err)
	}

	return acct, nil
}

// EmailExists returns true if an account with the given email already exists.
// Used during registration to check for duplicates before hashing the password.
func (r *repository) EmailExists(ctx context.Context, email string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM accounts WHERE email = ?)`

	var exists bool
	err := r.db.QueryRowContext(ctx, query, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking email existence: %w", err)
	}

	return exists, nil
}

// --- Document store ---

// CreateDocument inserts a fresh conversation document.
func (r *repository) CreateDocument(ctx context.Context, doc *AccountDocument) error {
	query := `INSERT INTO account_documents
	          (account_id, email, conversation_count, premium, created_at, last_login)
	          VALUES (?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		doc.AccountID,
		doc.Email,
		doc.ConversationCount,
		doc.Premium,
		doc.CreatedAt,
		doc.LastLogin,
	)
	if err != nil {
		return fmt.Errorf("inserting account document: %w", err)
	}

	return nil
}

// GetDocument retrieves the conversation document for an account.
// Returns apperror.NotFound if the account has no document yet.
func (r *repository) GetDocument(ctx context.Context, accountID string) (*AccountDocument, error) {
	query := `SELECT account_id, email, conversation_count, premium, premium_plan,
	                 premium_since, created_at, last_login, last_activity
	          FROM account_documents WHERE account_id = ?`

	doc := &AccountDocument{}
	err := r.db.QueryRowContext(ctx, query, accountID).Scan(
		&doc.AccountID,
		&doc.Email,
		&doc.ConversationCount,
		&doc.Premium,
		&doc.PremiumPlan,
		&doc.PremiumSince,
		&doc.CreatedAt,
		&doc.LastLogin,
		&doc.LastActivity,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("account document not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying account document: %w", err)
	}

	return doc, nil
}

// EnsureDocument loads the document for an account, creating it with a zero
// conversation count if absent. Returns the document's premium flag, which
// is authoritative for restoring Premium on sign-in.
func (r *repository) EnsureDocument(ctx context.Context, accountID, email string) (bool, error) {
	doc, err := r.GetDocument(ctx, accountID)
	if err == nil {
		return doc.Premium, nil
	}

	var appErr *apperror.AppError
	if !errors.As(err, &appErr) || appErr.Code != 404 {
		return false, err
	}

	now := time.Now().UTC()
	create := &AccountDocument{
		AccountID:         accountID,
		Email:             email,
		ConversationCount: 0,
		Premium:           false,
		CreatedAt:         now,
		LastLogin:         &now,
	}
	if err := r.CreateDocument(ctx, create); err != nil {
		return false, err
	}

	return false, nil
}

// TouchLastLogin stamps the document's last_login field to now.
func (r *repository) TouchLastLogin(ctx context.Context, accountID string) error {
	query := `UPDATE account_documents SET last_login = NOW() WHERE account_id = ?`

	_, err := r.db.ExecContext(ctx, query, accountID)
	if err != nil {
		return fmt.Errorf("updating last login: %w", err)
	}

	return nil
}

// SetPremium sets the premium flag, plan, and upgrade timestamp.
func (r *repository) SetPremium(ctx context.Context, accountID, plan string) error {
	query := `UPDATE account_documents
	          SET premium = TRUE, premium_plan = ?, premium_since = NOW()
	          WHERE account_id = ?`

	result, err := r.db.ExecContext(ctx, query, plan, accountID)
	if err != nil {
		return fmt.Errorf("setting premium flag: %w", err)
	}

	n, _ := result.RowsAffected()
	if n == 0 {
		return apperror.NewNotFound("account document not found")
	}

	return nil
}

// ConversationCount reads the document's turn count. An absent document
// reads as zero: documents are bootstrapped on sign-in, not here.
func (r *repository) ConversationCount(ctx context.Context, accountID string) (int, error) {
	query := `SELECT conversation_count FROM account_documents WHERE account_id = ?`

	var count int
	err := r.db.QueryRowContext(ctx, query, accountID).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("querying conversation count: %w", err)
	}

	return count, nil
}

// IncrementConversations adds delta to the turn count in a single relative
// UPDATE. This is deliberately not read-modify-write: concurrent turns from
// multiple tabs or devices must not lose updates.
func (r *repository) IncrementConversations(ctx context.Context, accountID string, delta int) error {
	query := `UPDATE account_documents
	          SET conversation_count = conversation_count + ?, last_activity = NOW()
	          WHERE account_id = ?`

	result, err := r.db.ExecContext(ctx, query, delta, accountID)
	if err != nil {
		return fmt.Errorf("incrementing conversation count: %w", err)
	}

	n, _ := result.RowsAffected()
	if n == 0 {
		return apperror.NewNotFound("account document not found")
	}

	return nil
}

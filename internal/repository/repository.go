package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/formrelay/form-service/internal/models"
	"github.com/lib/pq"
)

// Storage-level sentinel errors. Uniqueness is enforced by database
// constraints so concurrent writers cannot race past these checks.
var (
	ErrDuplicateEmail = errors.New("email already registered")
	ErrDuplicateForm  = errors.New("formId already taken")
	ErrNotFound       = errors.New("record not found")
)

const (
	uniqueViolation     = pq.ErrorCode("23505")
	foreignKeyViolation = pq.ErrorCode("23503")
)

// Repository provides database operations
type Repository struct {
	db *sql.DB
}

// NewRepository initializes a new repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation
}

// CreateUser inserts a new user. A duplicate email surfaces as
// ErrDuplicateEmail, never as a silent overwrite.
func (r *Repository) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (email, password_hash, created_at)
		VALUES ($1, $2, CURRENT_TIMESTAMP)
		RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query, user.Email, user.PasswordHash).
		Scan(&user.ID, &user.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// FindUserByEmail retrieves a user by exact email match
func (r *Repository) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `
		SELECT id, email, password_hash, api_key, api_key_usages, api_key_capacity, created_at
		FROM users
		WHERE email = $1`
	return r.scanUser(r.db.QueryRowContext(ctx, query, email))
}

// FindUserByID retrieves a user by id
func (r *Repository) FindUserByID(ctx context.Context, id int64) (*models.User, error) {
	query := `
		SELECT id, email, password_hash, api_key, api_key_usages, api_key_capacity, created_at
		FROM users
		WHERE id = $1`
	return r.scanUser(r.db.QueryRowContext(ctx, query, id))
}

func (r *Repository) scanUser(row *sql.Row) (*models.User, error) {
	user := &models.User{}
	var apiKey sql.NullString
	var usages, capacity sql.NullInt64
	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &apiKey, &usages, &capacity, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if apiKey.Valid {
		user.APIKey = &models.APIKey{
			Key:      apiKey.String,
			Usages:   int(usages.Int64),
			Capacity: int(capacity.Int64),
		}
	}
	return user, nil
}

// SetAPIKey stores the user's API key record
func (r *Repository) SetAPIKey(ctx context.Context, userID int64, key *models.APIKey) error {
	query := `
		UPDATE users
		SET api_key = $2, api_key_usages = $3, api_key_capacity = $4
		WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, userID, key.Key, key.Usages, key.Capacity)
	if err != nil {
		return fmt.Errorf("failed to set api key: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to set api key: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateForm registers a new form owned by a user. The formId is
// globally unique; a taken id surfaces as ErrDuplicateForm.
func (r *Repository) CreateForm(ctx context.Context, form *models.Form) error {
	query := `
		INSERT INTO forms (form_id, user_id, name, created_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
		RETURNING created_at`
	err := r.db.QueryRowContext(ctx, query, form.FormID, form.UserID, form.Name).
		Scan(&form.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateForm
	}
	if isForeignKeyViolation(err) {
		// Owner vanished between authentication and the insert
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to create form: %w", err)
	}
	return nil
}

// FindForm retrieves a form definition by its formId
func (r *Repository) FindForm(ctx context.Context, formID string) (*models.Form, error) {
	form := &models.Form{}
	query := `
		SELECT form_id, user_id, name, created_at
		FROM forms
		WHERE form_id = $1`
	err := r.db.QueryRowContext(ctx, query, formID).
		Scan(&form.FormID, &form.UserID, &form.Name, &form.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find form: %w", err)
	}
	return form, nil
}

// CreateSubmission persists one immutable form submission
func (r *Repository) CreateSubmission(ctx context.Context, sub *models.FormSubmit) error {
	params, err := json.Marshal(sub.Parameters)
	if err != nil {
		return fmt.Errorf("failed to encode parameters: %w", err)
	}
	origin := sql.NullString{String: sub.Origin, Valid: sub.Origin != ""}
	query := `
		INSERT INTO form_submissions (form_id, origin, parameters, submitted_at)
		VALUES ($1, $2, $3, $4)`
	if _, err := r.db.ExecContext(ctx, query, sub.FormID, origin, params, sub.Datetime); err != nil {
		return fmt.Errorf("failed to create submission: %w", err)
	}
	return nil
}

// FindSubmissionsByFormID returns all submissions for a form,
// oldest first. An unknown formId yields an empty slice here; the
// existence check belongs to the service layer.
func (r *Repository) FindSubmissionsByFormID(ctx context.Context, formID string) ([]models.FormSubmit, error) {
	query := `
		SELECT form_id, origin, parameters, submitted_at
		FROM form_submissions
		WHERE form_id = $1
		ORDER BY submitted_at`
	rows, err := r.db.QueryContext(ctx, query, formID)
	if err != nil {
		return nil, fmt.Errorf("failed to find submissions: %w", err)
	}
	defer rows.Close()

	submissions := []models.FormSubmit{}
	for rows.Next() {
		var sub models.FormSubmit
		var origin sql.NullString
		var params []byte
		if err := rows.Scan(&sub.FormID, &origin, &params, &sub.Datetime); err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		sub.Origin = origin.String
		if err := json.Unmarshal(params, &sub.Parameters); err != nil {
			return nil, fmt.Errorf("failed to decode parameters: %w", err)
		}
		submissions = append(submissions, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read submissions: %w", err)
	}
	return submissions, nil
}

// DigestRow summarizes recent submissions for one form
type DigestRow struct {
	FormID     string
	FormName   string
	OwnerEmail string
	Count      int
}

// CountSubmissionsSince returns per-form submission counts since the
// given time, joined with the owning user's email. Forms without
// recent submissions are omitted.
func (r *Repository) CountSubmissionsSince(ctx context.Context, since time.Time) ([]DigestRow, error) {
	query := `
		SELECT f.form_id, f.name, u.email, COUNT(s.form_id)
		FROM forms f
		JOIN users u ON u.id = f.user_id
		JOIN form_submissions s ON s.form_id = f.form_id
		WHERE s.submitted_at >= $1
		GROUP BY f.form_id, f.name, u.email
		ORDER BY f.form_id`
	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count submissions: %w", err)
	}
	defer rows.Close()

	var digest []DigestRow
	for rows.Next() {
		var row DigestRow
		if err := rows.Scan(&row.FormID, &row.FormName, &row.OwnerEmail, &row.Count); err != nil {
			return nil, fmt.Errorf("failed to scan digest row: %w", err)
		}
		digest = append(digest, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read digest rows: %w", err)
	}
	return digest, nil
}

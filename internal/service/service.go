package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/formrelay/form-service/internal/models"
	"github.com/formrelay/form-service/internal/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrFormNotFound marks a lookup or submission against an unknown formId
var ErrFormNotFound = errors.New("form not found")

// Storage is the persistence surface the services depend on,
// implemented by repository.Repository.
type Storage interface {
	CreateUser(ctx context.Context, user *models.User) error
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	FindUserByID(ctx context.Context, id int64) (*models.User, error)
	SetAPIKey(ctx context.Context, userID int64, key *models.APIKey) error
	CreateForm(ctx context.Context, form *models.Form) error
	FindForm(ctx context.Context, formID string) (*models.Form, error)
	CreateSubmission(ctx context.Context, sub *models.FormSubmit) error
	FindSubmissionsByFormID(ctx context.Context, formID string) ([]models.FormSubmit, error)
}

// PasswordHasher is the credential hashing surface,
// implemented by security.Hasher.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, hash string) bool
}

// Service handles business logic for users and form submissions
type Service struct {
	repo           Storage
	hasher         PasswordHasher
	log            *logrus.Logger
	apiKeyCapacity int
}

// NewService initializes a new service
func NewService(repo Storage, hasher PasswordHasher, log *logrus.Logger, apiKeyCapacity int) *Service {
	return &Service{repo: repo, hasher: hasher, log: log, apiKeyCapacity: apiKeyCapacity}
}

// Register creates a new user with a hashed password. A duplicate
// email surfaces as repository.ErrDuplicateEmail so callers can map it
// to a conflict rather than a server error.
func (s *Service) Register(ctx context.Context, email, password string) (*models.User, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Email:        email,
		PasswordHash: hash,
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	s.log.Infof("User registered: %s", user.Email)
	return user, nil
}

// VerifyCredentials resolves an email/password pair to a user.
// An unknown email and a wrong password both return repository.ErrNotFound
// so the two cases are indistinguishable to callers.
func (s *Service) VerifyCredentials(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.repo.FindUserByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		return nil, repository.ErrNotFound
	}

	s.log.Infof("User logged in: %s", user.Email)
	return user, nil
}

// GetUserByEmail retrieves a user by exact email match
func (s *Service) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.repo.FindUserByEmail(ctx, email)
}

// GetUserByID retrieves a user by id
func (s *Service) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	return s.repo.FindUserByID(ctx, id)
}

// Exists reports whether the id refers to a registered user. Token
// subjects are re-checked against the directory on every request.
func (s *Service) Exists(ctx context.Context, userID int64) bool {
	_, err := s.repo.FindUserByID(ctx, userID)
	return err == nil
}

// AddFormToUser registers a new form under the given owner. The
// formId is globally unique; re-adding an existing id is rejected
// with repository.ErrDuplicateForm regardless of the name.
func (s *Service) AddFormToUser(ctx context.Context, userID int64, formID, name string) (*models.Form, error) {
	form := &models.Form{
		FormID: formID,
		UserID: userID,
		Name:   name,
	}
	if err := s.repo.CreateForm(ctx, form); err != nil {
		return nil, err
	}

	s.log.Infof("Form %s added for user %d", formID, userID)
	return form, nil
}

// ProvisionAPIKey assigns a fresh API key record to the user and
// returns it. Any previous key is replaced.
func (s *Service) ProvisionAPIKey(ctx context.Context, userID int64) (*models.APIKey, error) {
	key := &models.APIKey{
		Key:      uuid.New().String(),
		Usages:   0,
		Capacity: s.apiKeyCapacity,
	}
	if err := s.repo.SetAPIKey(ctx, userID, key); err != nil {
		return nil, err
	}

	s.log.Infof("API key provisioned for user %d", userID)
	return key, nil
}

// GetForm retrieves a form definition, mapping an unknown formId
// to ErrFormNotFound
func (s *Service) GetForm(ctx context.Context, formID string) (*models.Form, error) {
	form, err := s.repo.FindForm(ctx, formID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrFormNotFound
	}
	if err != nil {
		return nil, err
	}
	return form, nil
}

// ListSubmissions returns all submissions for an existing form,
// oldest first. A form with no submissions yields an empty slice;
// an unknown formId yields ErrFormNotFound.
func (s *Service) ListSubmissions(ctx context.Context, formID string) ([]models.FormSubmit, error) {
	if _, err := s.GetForm(ctx, formID); err != nil {
		return nil, err
	}
	return s.repo.FindSubmissionsByFormID(ctx, formID)
}

// Submit records one form submission with a server-side timestamp.
// The form must exist; a storage failure propagates as an error, it
// is never swallowed.
func (s *Service) Submit(ctx context.Context, formID, origin string, parameters map[string]string, now time.Time) (*models.FormSubmit, error) {
	if _, err := s.GetForm(ctx, formID); err != nil {
		return nil, err
	}

	sub := &models.FormSubmit{
		FormID:     formID,
		Origin:     origin,
		Parameters: parameters,
		Datetime:   now,
	}
	if err := s.repo.CreateSubmission(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to store submission: %w", err)
	}

	s.log.Infof("Submission stored for form %s", formID)
	return sub, nil
}

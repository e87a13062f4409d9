package service

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/formrelay/form-service/internal/models"
	"github.com/formrelay/form-service/internal/repository"
	"github.com/formrelay/form-service/internal/security"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// fakeStorage mimics the database constraints in memory: unique
// emails, globally unique formIds.
type fakeStorage struct {
	nextID      int64
	users       map[int64]*models.User
	forms       map[string]*models.Form
	submissions map[string][]models.FormSubmit
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		users:       map[int64]*models.User{},
		forms:       map[string]*models.Form{},
		submissions: map[string][]models.FormSubmit{},
	}
}

func (f *fakeStorage) CreateUser(ctx context.Context, user *models.User) error {
	for _, existing := range f.users {
		if existing.Email == user.Email {
			return repository.ErrDuplicateEmail
		}
	}
	f.nextID++
	user.ID = f.nextID
	user.CreatedAt = time.Now()
	stored := *user
	f.users[user.ID] = &stored
	return nil
}

func (f *fakeStorage) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, user := range f.users {
		if user.Email == email {
			copied := *user
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeStorage) FindUserByID(ctx context.Context, id int64) (*models.User, error) {
	user, ok := f.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *user
	return &copied, nil
}

func (f *fakeStorage) SetAPIKey(ctx context.Context, userID int64, key *models.APIKey) error {
	user, ok := f.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	copied := *key
	user.APIKey = &copied
	return nil
}

func (f *fakeStorage) CreateForm(ctx context.Context, form *models.Form) error {
	if _, taken := f.forms[form.FormID]; taken {
		return repository.ErrDuplicateForm
	}
	form.CreatedAt = time.Now()
	stored := *form
	f.forms[form.FormID] = &stored
	return nil
}

func (f *fakeStorage) FindForm(ctx context.Context, formID string) (*models.Form, error) {
	form, ok := f.forms[formID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *form
	return &copied, nil
}

func (f *fakeStorage) CreateSubmission(ctx context.Context, sub *models.FormSubmit) error {
	f.submissions[sub.FormID] = append(f.submissions[sub.FormID], *sub)
	return nil
}

func (f *fakeStorage) FindSubmissionsByFormID(ctx context.Context, formID string) ([]models.FormSubmit, error) {
	subs := []models.FormSubmit{}
	subs = append(subs, f.submissions[formID]...)
	return subs, nil
}

func newTestService() (*Service, *fakeStorage) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	storage := newFakeStorage()
	return NewService(storage, security.NewHasher(bcrypt.MinCost), log, 100), storage
}

func TestRegisterThenVerifyCredentials(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	created, err := svc.Register(ctx, "user@example.com", "secret1")
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.NotEqual(t, "secret1", created.PasswordHash)

	user, err := svc.VerifyCredentials(ctx, "user@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, user.ID)

	_, err = svc.VerifyCredentials(ctx, "user@example.com", "wrong")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestVerifyCredentialsUnknownEmailMatchesWrongPassword(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Register(ctx, "user@example.com", "secret1")
	require.NoError(t, err)

	_, unknownErr := svc.VerifyCredentials(ctx, "nobody@example.com", "secret1")
	_, wrongErr := svc.VerifyCredentials(ctx, "user@example.com", "nope")

	// Both paths must be indistinguishable to prevent email enumeration
	assert.Equal(t, unknownErr, wrongErr)
	assert.ErrorIs(t, unknownErr, repository.ErrNotFound)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Register(ctx, "user@example.com", "secret1")
	require.NoError(t, err)

	_, err = svc.Register(ctx, "user@example.com", "secret2")
	assert.ErrorIs(t, err, repository.ErrDuplicateEmail)

	// The original record is unaffected: the first password still works
	_, err = svc.VerifyCredentials(ctx, "user@example.com", "secret1")
	assert.NoError(t, err)
	_, err = svc.VerifyCredentials(ctx, "user@example.com", "secret2")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestAddFormToUser(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	user, err := svc.Register(ctx, "user@example.com", "secret1")
	require.NoError(t, err)

	form, err := svc.AddFormToUser(ctx, user.ID, "contact", "Contact form")
	require.NoError(t, err)
	assert.Equal(t, "contact", form.FormID)
	assert.Equal(t, user.ID, form.UserID)

	// Re-adding the same formId is rejected, even with another name
	_, err = svc.AddFormToUser(ctx, user.ID, "contact", "Contact form")
	assert.ErrorIs(t, err, repository.ErrDuplicateForm)
	_, err = svc.AddFormToUser(ctx, user.ID, "contact", "Another name")
	assert.ErrorIs(t, err, repository.ErrDuplicateForm)
}

func TestFormIDUniqueAcrossUsers(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	first, err := svc.Register(ctx, "first@example.com", "secret1")
	require.NoError(t, err)
	second, err := svc.Register(ctx, "second@example.com", "secret2")
	require.NoError(t, err)

	_, err = svc.AddFormToUser(ctx, first.ID, "contact", "Contact form")
	require.NoError(t, err)
	_, err = svc.AddFormToUser(ctx, second.ID, "contact", "Contact form")
	assert.ErrorIs(t, err, repository.ErrDuplicateForm)
}

func TestListSubmissionsEmptyForm(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	user, err := svc.Register(ctx, "user@example.com", "secret1")
	require.NoError(t, err)
	_, err = svc.AddFormToUser(ctx, user.ID, "contact", "Contact form")
	require.NoError(t, err)

	subs, err := svc.ListSubmissions(ctx, "contact")
	require.NoError(t, err)
	assert.NotNil(t, subs)
	assert.Empty(t, subs)
}

func TestListSubmissionsUnknownForm(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.ListSubmissions(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrFormNotFound)
}

func TestSubmit(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	user, err := svc.Register(ctx, "user@example.com", "secret1")
	require.NoError(t, err)
	_, err = svc.AddFormToUser(ctx, user.ID, "contact", "Contact form")
	require.NoError(t, err)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	sub, err := svc.Submit(ctx, "contact", "https://example.com", map[string]string{"k": "v"}, now)
	require.NoError(t, err)
	assert.Equal(t, "contact", sub.FormID)
	assert.Equal(t, "https://example.com", sub.Origin)
	assert.Equal(t, map[string]string{"k": "v"}, sub.Parameters)
	assert.Equal(t, now, sub.Datetime)

	subs, err := svc.ListSubmissions(ctx, "contact")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, map[string]string{"k": "v"}, subs[0].Parameters)
}

func TestSubmitUnknownForm(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Submit(context.Background(), "missing", "", map[string]string{"k": "v"}, time.Now())
	assert.ErrorIs(t, err, ErrFormNotFound)
}

func TestProvisionAPIKey(t *testing.T) {
	svc, storage := newTestService()
	ctx := context.Background()

	user, err := svc.Register(ctx, "user@example.com", "secret1")
	require.NoError(t, err)

	key, err := svc.ProvisionAPIKey(ctx, user.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, key.Key)
	assert.Equal(t, 0, key.Usages)
	assert.Equal(t, 100, key.Capacity)

	stored, err := storage.FindUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.APIKey)
	assert.Equal(t, key.Key, stored.APIKey.Key)
}

func TestProvisionAPIKeyUnknownUser(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.ProvisionAPIKey(context.Background(), 999)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

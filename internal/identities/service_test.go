package identities

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Aidin1998/brokerage/pkg/errors"
	"github.com/Aidin1998/brokerage/pkg/models"
)

func setupTestService(t *testing.T) *Service {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Customer{}, &models.AssetBalance{}))
	return &Service{logger: zap.NewNop(), db: db, jwtSecret: []byte("test-secret"), jwtExpirationHours: 1}
}

func registerReq(username string) *models.RegisterRequest {
	return &models.RegisterRequest{
		Name:     "Test",
		Surname:  "User",
		Email:    username + "@test.local",
		Username: username,
		Password: "password123",
	}
}

func TestRegisterGrantsCashRow(t *testing.T) {
	s := setupTestService(t)
	ctx := context.Background()

	customer, err := s.Register(ctx, registerReq("alice"))
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, customer.Role)
	assert.NotEqual(t, "password123", customer.PasswordHash)

	// Every new account starts with a zero-balance cash row
	var balance models.AssetBalance
	err = s.db.Where("customer_id = ? AND symbol = ?", customer.ID, models.TRY).First(&balance).Error
	require.NoError(t, err)
	assert.True(t, balance.Total.IsZero())
	assert.True(t, balance.Usable.IsZero())
}

func TestRegisterDuplicate(t *testing.T) {
	s := setupTestService(t)
	ctx := context.Background()

	_, err := s.Register(ctx, registerReq("alice"))
	require.NoError(t, err)

	_, err = s.Register(ctx, registerReq("alice"))
	assert.ErrorIs(t, err, errors.ErrDuplicateCustomer)

	// Same email, different username
	req := registerReq("alice2")
	req.Email = "alice@test.local"
	_, err = s.Register(ctx, req)
	assert.ErrorIs(t, err, errors.ErrDuplicateCustomer)
}

func TestLoginAndValidateToken(t *testing.T) {
	s := setupTestService(t)
	ctx := context.Background()

	customer, err := s.Register(ctx, registerReq("alice"))
	require.NoError(t, err)

	resp, err := s.Login(ctx, &models.LoginRequest{Username: "alice", Password: "password123"})
	require.NoError(t, err)
	assert.Equal(t, customer.ID, resp.CustomerID)
	assert.NotEmpty(t, resp.Token)

	id, role, err := s.ValidateToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, customer.ID, id)
	assert.Equal(t, models.RoleUser, role)
}

func TestLoginBadCredentials(t *testing.T) {
	s := setupTestService(t)
	ctx := context.Background()
	_, err := s.Register(ctx, registerReq("alice"))
	require.NoError(t, err)

	_, err = s.Login(ctx, &models.LoginRequest{Username: "alice", Password: "wrongpassword"})
	assert.ErrorIs(t, err, errors.ErrUnauthorized)

	_, err = s.Login(ctx, &models.LoginRequest{Username: "nobody", Password: "password123"})
	assert.ErrorIs(t, err, errors.ErrUnauthorized)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	s := setupTestService(t)
	_, _, err := s.ValidateToken("not-a-token")
	assert.ErrorIs(t, err, errors.ErrUnauthorized)
}

func TestIsAdmin(t *testing.T) {
	s := setupTestService(t)
	ctx := context.Background()

	customer, err := s.Register(ctx, registerReq("alice"))
	require.NoError(t, err)

	isAdmin, err := s.IsAdmin(ctx, customer.ID)
	require.NoError(t, err)
	assert.False(t, isAdmin)

	require.NoError(t, s.db.Model(customer).Update("role", models.RoleAdmin).Error)
	isAdmin, err = s.IsAdmin(ctx, customer.ID)
	require.NoError(t, err)
	assert.True(t, isAdmin)

	_, err = s.IsAdmin(ctx, uuid.New())
	assert.ErrorIs(t, err, errors.ErrCustomerNotFound)
}

func TestUpdateCustomer(t *testing.T) {
	s := setupTestService(t)
	ctx := context.Background()

	alice, err := s.Register(ctx, registerReq("alice"))
	require.NoError(t, err)
	bob, err := s.Register(ctx, registerReq("bob"))
	require.NoError(t, err)

	updated, err := s.UpdateCustomer(ctx, alice.ID, alice.ID, &models.UpdateCustomerRequest{
		Name: "Alice", Surname: "Updated", Email: "alice-new@test.local",
	})
	require.NoError(t, err)
	assert.Equal(t, "Updated", updated.Surname)
	assert.Equal(t, "alice-new@test.local", updated.Email)

	// Another user may not touch the profile
	_, err = s.UpdateCustomer(ctx, alice.ID, bob.ID, &models.UpdateCustomerRequest{
		Name: "X", Surname: "X", Email: "x@test.local",
	})
	assert.ErrorIs(t, err, errors.ErrForbidden)

	// Taking another customer's email is rejected
	_, err = s.UpdateCustomer(ctx, alice.ID, alice.ID, &models.UpdateCustomerRequest{
		Name: "Alice", Surname: "Updated", Email: "bob@test.local",
	})
	assert.ErrorIs(t, err, errors.ErrDuplicateCustomer)
}

func TestGetCustomerVisibility(t *testing.T) {
	s := setupTestService(t)
	ctx := context.Background()

	alice, err := s.Register(ctx, registerReq("alice"))
	require.NoError(t, err)
	bob, err := s.Register(ctx, registerReq("bob"))
	require.NoError(t, err)

	// Owner sees itself
	got, err := s.GetCustomer(ctx, alice.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)

	// Another user does not
	_, err = s.GetCustomer(ctx, alice.ID, bob.ID)
	assert.ErrorIs(t, err, errors.ErrForbidden)

	// An admin does
	require.NoError(t, s.db.Model(bob).Update("role", models.RoleAdmin).Error)
	got, err = s.GetCustomer(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)
}

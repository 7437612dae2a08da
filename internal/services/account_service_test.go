package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"frais/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newAccountService(t *testing.T) *AccountService {
	t.Helper()
	f := newFixture(t)
	s := NewAccountService(f.repo)
	s.cost = bcrypt.MinCost
	return s
}

func TestCreateAndAuthenticateVisitor(t *testing.T) {
	s := newAccountService(t)
	ctx := context.Background()

	v, err := s.CreateVisitor(ctx, NewAccount{Login: "dandre", Password: "oppg5", Name: "Andre", FirstName: "David"})
	require.NoError(t, err)
	assert.NotEmpty(t, v.ID)
	assert.NotEqual(t, "oppg5", v.PasswordHash)

	got, err := s.AuthenticateVisitor(ctx, "dandre", "oppg5")
	require.NoError(t, err)
	assert.Equal(t, v.ID, got.ID)

	_, err = s.AuthenticateVisitor(ctx, "dandre", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = s.AuthenticateVisitor(ctx, "ghost", "oppg5")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = s.CreateVisitor(ctx, NewAccount{Login: "dandre", Password: "x", Name: "Dup"})
	assert.ErrorIs(t, err, core.ErrConflict)
}

func TestCreateAccountantKeepsGivenID(t *testing.T) {
	s := newAccountService(t)
	ctx := context.Background()

	a, err := s.CreateAccountant(ctx, NewAccount{ID: "c01", Login: "compta", Password: "secret", Name: "Martin"})
	require.NoError(t, err)
	assert.Equal(t, "c01", a.ID)

	got, err := s.AuthenticateAccountant(ctx, "compta", "secret")
	require.NoError(t, err)
	assert.Equal(t, "Martin", got.Name)

	_, err = s.GetAccountant(ctx, "c02")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestNewAccountValidation(t *testing.T) {
	s := newAccountService(t)

	_, err := s.CreateVisitor(context.Background(), NewAccount{Password: strings.Repeat("p", 73)})
	var ve *core.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, []string{
		"login is required",
		"password is longer than 72 bytes",
		"name is required",
	}, ve.Problems)
}

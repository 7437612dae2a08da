package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"frais/internal/core"
	"frais/internal/log"
	"frais/internal/storage"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned for an unknown login or a wrong password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// maxPasswordBytes is the bcrypt input limit.
const maxPasswordBytes = 72

// NewAccount describes a visitor or accountant to create. ID defaults to a
// fresh UUID.
type NewAccount struct {
	ID        string
	Login     string
	Password  string
	Name      string
	FirstName string
}

func (a NewAccount) validate() error {
	var ve core.ValidationError
	if strings.TrimSpace(a.Login) == "" {
		ve.Add("login is required")
	}
	switch {
	case a.Password == "":
		ve.Add("password is required")
	case len(a.Password) > maxPasswordBytes:
		ve.Add("password is longer than %d bytes", maxPasswordBytes)
	}
	if strings.TrimSpace(a.Name) == "" {
		ve.Add("name is required")
	}
	return ve.Err()
}

// AccountService manages visitor and accountant credentials.
type AccountService struct {
	deps
	cost int
}

func NewAccountService(repo *storage.SQLiteRepository, opts ...Option) *AccountService {
	return &AccountService{
		deps: newDeps(repo, log.ComponentAccounts, opts),
		cost: bcrypt.DefaultCost,
	}
}

func (s *AccountService) hash(a NewAccount) (id, hash string, err error) {
	if err := a.validate(); err != nil {
		return "", "", err
	}
	h, err := bcrypt.GenerateFromPassword([]byte(a.Password), s.cost)
	if err != nil {
		return "", "", fmt.Errorf("hash password: %w", err)
	}
	id = strings.TrimSpace(a.ID)
	if id == "" {
		id = uuid.NewString()
	}
	return id, string(h), nil
}

func (s *AccountService) CreateVisitor(ctx context.Context, a NewAccount) (*core.Visitor, error) {
	id, hash, err := s.hash(a)
	if err != nil {
		return nil, err
	}
	v := core.Visitor{
		ID:           id,
		Login:        strings.TrimSpace(a.Login),
		PasswordHash: hash,
		Name:         strings.TrimSpace(a.Name),
		FirstName:    strings.TrimSpace(a.FirstName),
	}
	if err := s.repo.CreateVisitor(ctx, v); err != nil {
		return nil, fmt.Errorf("create visitor %s: %w", v.Login, err)
	}
	s.logger.InfoContext(ctx, "Visitor created", log.FieldVisitorID, v.ID, "login", v.Login)
	return &v, nil
}

func (s *AccountService) CreateAccountant(ctx context.Context, a NewAccount) (*core.Accountant, error) {
	id, hash, err := s.hash(a)
	if err != nil {
		return nil, err
	}
	acc := core.Accountant{
		ID:           id,
		Login:        strings.TrimSpace(a.Login),
		PasswordHash: hash,
		Name:         strings.TrimSpace(a.Name),
		FirstName:    strings.TrimSpace(a.FirstName),
	}
	if err := s.repo.CreateAccountant(ctx, acc); err != nil {
		return nil, fmt.Errorf("create accountant %s: %w", acc.Login, err)
	}
	s.logger.InfoContext(ctx, "Accountant created", log.FieldAccountant, acc.ID, "login", acc.Login)
	return &acc, nil
}

func checkPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

func (s *AccountService) AuthenticateVisitor(ctx context.Context, login, password string) (*core.Visitor, error) {
	v, err := s.repo.GetVisitorByLogin(ctx, strings.TrimSpace(login))
	if err != nil {
		return nil, fmt.Errorf("authenticate visitor: %w", err)
	}
	if v == nil {
		s.logger.WarnContext(ctx, "Visitor login rejected", "login", login)
		return nil, ErrInvalidCredentials
	}
	if err := checkPassword(v.PasswordHash, password); err != nil {
		s.logger.WarnContext(ctx, "Visitor login rejected", "login", login)
		return nil, err
	}
	return v, nil
}

func (s *AccountService) AuthenticateAccountant(ctx context.Context, login, password string) (*core.Accountant, error) {
	a, err := s.repo.GetAccountantByLogin(ctx, strings.TrimSpace(login))
	if err != nil {
		return nil, fmt.Errorf("authenticate accountant: %w", err)
	}
	if a == nil {
		s.logger.WarnContext(ctx, "Accountant login rejected", "login", login)
		return nil, ErrInvalidCredentials
	}
	if err := checkPassword(a.PasswordHash, password); err != nil {
		s.logger.WarnContext(ctx, "Accountant login rejected", "login", login)
		return nil, err
	}
	return a, nil
}

func (s *AccountService) GetVisitor(ctx context.Context, id string) (*core.Visitor, error) {
	v, err := s.repo.GetVisitor(ctx, id)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("visitor %s: %w", id, core.ErrNotFound)
	}
	return v, nil
}

func (s *AccountService) GetAccountant(ctx context.Context, id string) (*core.Accountant, error) {
	a, err := s.repo.GetAccountant(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("accountant %s: %w", id, core.ErrNotFound)
	}
	return a, nil
}

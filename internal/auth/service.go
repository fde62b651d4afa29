package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/visitsafe/server/internal/model"
	"github.com/visitsafe/server/internal/repo"
)

// ErrInvalidCredentials is returned for any bad username/password pair. It is
// deliberately uniform so callers cannot probe which part was wrong.
var ErrInvalidCredentials = errors.New("invalid credentials")

// adminPrincipalID is the synthetic subject used for residency-admin sessions;
// the admin is a role on the residency itself, not a stored principal.
const adminPrincipalID = "admin"

// Session is the result of a successful login.
type Session struct {
	Token       string
	Role        model.Role
	PrincipalID string
	ResidencyID string
	DisplayName string
}

// AuthService orchestrates authentication operations
type AuthService struct {
	jwtService  *JWTService
	residents   repo.ResidentRepo
	guards      repo.GuardRepo
	residencies repo.ResidencyRepo
}

// NewAuthService creates a new auth service
func NewAuthService(
	jwtService *JWTService,
	residents repo.ResidentRepo,
	guards repo.GuardRepo,
	residencies repo.ResidencyRepo,
) *AuthService {
	return &AuthService{
		jwtService:  jwtService,
		residents:   residents,
		guards:      guards,
		residencies: residencies,
	}
}

// Login authenticates a principal of the given role within a residency and
// issues an access token.
func (s *AuthService) Login(ctx context.Context, residencyID string, role model.Role, username, password string) (Session, error) {
	if residencyID == "" || username == "" || password == "" {
		return Session{}, ErrInvalidCredentials
	}

	switch role {
	case model.RoleResident:
		return s.loginResident(ctx, residencyID, username, password)
	case model.RoleGuard:
		return s.loginGuard(ctx, residencyID, username, password)
	case model.RoleAdmin:
		return s.loginAdmin(ctx, residencyID, password)
	}
	return Session{}, fmt.Errorf("unknown role %q", role)
}

func (s *AuthService) loginResident(ctx context.Context, residencyID, username, password string) (Session, error) {
	hash, err := s.residents.PasswordHash(ctx, residencyID, username)
	if err != nil {
		return Session{}, credentialsErr(err)
	}
	if !CheckPassword(hash, password) {
		return Session{}, ErrInvalidCredentials
	}

	resident, err := s.residents.GetByUsername(ctx, residencyID, username)
	if err != nil {
		return Session{}, credentialsErr(err)
	}
	token, err := s.jwtService.SignToken(resident.ID, residencyID, model.RoleResident, username)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:       token,
		Role:        model.RoleResident,
		PrincipalID: resident.ID,
		ResidencyID: residencyID,
		DisplayName: resident.DisplayName,
	}, nil
}

func (s *AuthService) loginGuard(ctx context.Context, residencyID, username, password string) (Session, error) {
	hash, err := s.guards.PasswordHash(ctx, residencyID, username)
	if err != nil {
		return Session{}, credentialsErr(err)
	}
	if !CheckPassword(hash, password) {
		return Session{}, ErrInvalidCredentials
	}

	guard, err := s.guards.GetByUsername(ctx, residencyID, username)
	if err != nil {
		return Session{}, credentialsErr(err)
	}
	token, err := s.jwtService.SignToken(guard.ID, residencyID, model.RoleGuard, username)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:       token,
		Role:        model.RoleGuard,
		PrincipalID: guard.ID,
		ResidencyID: residencyID,
		DisplayName: guard.DisplayName,
	}, nil
}

func (s *AuthService) loginAdmin(ctx context.Context, residencyID, password string) (Session, error) {
	hash, err := s.residencies.AdminPasswordHash(ctx, residencyID)
	if err != nil {
		return Session{}, credentialsErr(err)
	}
	if !CheckPassword(hash, password) {
		return Session{}, ErrInvalidCredentials
	}

	token, err := s.jwtService.SignToken(adminPrincipalID, residencyID, model.RoleAdmin, adminPrincipalID)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:       token,
		Role:        model.RoleAdmin,
		PrincipalID: adminPrincipalID,
		ResidencyID: residencyID,
		DisplayName: adminPrincipalID,
	}, nil
}

func credentialsErr(err error) error {
	if errors.Is(err, model.ErrNotFound) {
		return ErrInvalidCredentials
	}
	return err
}

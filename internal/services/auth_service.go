package services

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/healthdash/backend/internal/models"
	"github.com/healthdash/backend/internal/repositories"
	"github.com/healthdash/backend/internal/wallet"
	"go.uber.org/zap"
)

// CredentialStore is the users table as the auth service sees it.
// Find methods return nil, nil for a missing record.
type CredentialStore interface {
	FindByEmail(ctx context.Context, email string) (*models.UserRecord, error)
	FindByWallet(ctx context.Context, address string) (*models.UserRecord, error)
	Insert(ctx context.Context, rec models.UserRecord) (*models.UserRecord, error)
}

type PasswordHasher interface {
	Hash(secret string) (string, error)
	Verify(secret, digest string) bool
}

// AuthService checks credentials and produces identities. It never touches
// session state.
type AuthService struct {
	store     CredentialStore
	hasher    PasswordHasher
	validator *Validator
	log       *zap.Logger

	dummyOnce   sync.Once
	dummyDigest string
}

func NewAuthService(store CredentialStore, hasher PasswordHasher, log *zap.Logger) *AuthService {
	return &AuthService{
		store:     store,
		hasher:    hasher,
		validator: NewValidator(),
		log:       log,
	}
}

func (s *AuthService) Signup(ctx context.Context, in SignupInput) (*models.Identity, error) {
	in.FullName = strings.TrimSpace(in.FullName)
	in.Email = normalizeEmail(in.Email)
	in.Role = strings.ToLower(strings.TrimSpace(in.Role))
	if err := s.validator.ValidateSignup(in); err != nil {
		return nil, err
	}

	existing, err := s.store.FindByEmail(ctx, in.Email)
	if err != nil {
		return nil, s.storeError("find by email", err)
	}
	if existing != nil {
		return nil, ErrEmailAlreadyExists
	}

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, s.storeError("hash password", err)
	}

	// doctors wait for manual verification
	rec := models.UserRecord{
		Identity: models.Identity{
			FullName:   in.FullName,
			Email:      in.Email,
			Role:       in.Role,
			IsVerified: in.Role != models.RoleDoctor,
		},
		PasswordHash: digest,
	}
	if addr := wallet.NormalizeAddress(in.WalletAddress); addr != "" {
		rec.WalletAddress = &addr
	}

	switch in.Role {
	case models.RoleDoctor:
		rec.Doctor = &models.DoctorProfile{
			Specialization: strings.TrimSpace(in.Specialization),
			RegistrationID: strings.TrimSpace(in.RegistrationID),
			DocumentURLs:   in.DocumentURLs,
		}
	case models.RolePatient:
		phone, _ := NormalizePhone(in.Phone)
		rec.Patient = &models.PatientProfile{
			Age:      in.Age,
			Phone:    phone,
			Gender:   strings.TrimSpace(in.Gender),
			DeviceID: strings.TrimSpace(in.DeviceID),
		}
	}

	created, err := s.store.Insert(ctx, rec)
	switch {
	case errors.Is(err, repositories.ErrDuplicateEmail):
		return nil, ErrEmailAlreadyExists
	case errors.Is(err, repositories.ErrDuplicateWallet):
		return nil, ErrWalletAlreadyLinked
	case err != nil:
		return nil, s.storeError("insert user", err)
	}

	s.log.Info("user signed up",
		zap.Int64("user_id", created.ID),
		zap.String("role", created.Role),
		zap.Bool("verified", created.IsVerified),
	)
	id := created.Identity
	return &id, nil
}

// Signin fails with ErrInvalidCredentials for an unknown email and for a wrong
// password alike. The digest comparison runs in both cases.
func (s *AuthService) Signin(ctx context.Context, in SigninInput) (*models.Identity, error) {
	in.Email = normalizeEmail(in.Email)
	if err := s.validator.ValidateSignin(in); err != nil {
		return nil, err
	}

	rec, err := s.store.FindByEmail(ctx, in.Email)
	if err != nil {
		return nil, s.storeError("find by email", err)
	}

	digest := s.dummy()
	if rec != nil {
		digest = rec.PasswordHash
	}
	ok := s.hasher.Verify(in.Password, digest)
	if rec == nil || !ok {
		return nil, ErrInvalidCredentials
	}

	return gate(rec)
}

func (s *AuthService) SigninWithWallet(ctx context.Context, address string) (*models.Identity, error) {
	addr := wallet.NormalizeAddress(address)
	if addr == "" {
		return nil, &ValidationError{Fields: map[string]string{"address": "is required"}}
	}

	rec, err := s.store.FindByWallet(ctx, addr)
	if err != nil {
		return nil, s.storeError("find by wallet", err)
	}
	if rec == nil {
		return nil, ErrNoAccountForWallet
	}
	return gate(rec)
}

// Revalidate re-reads the record behind a cached identity and applies the
// verification gate again.
func (s *AuthService) Revalidate(ctx context.Context, identity models.Identity) (models.Identity, error) {
	rec, err := s.store.FindByEmail(ctx, normalizeEmail(identity.Email))
	if err != nil {
		return identity, s.storeError("find by email", err)
	}
	if rec == nil || rec.ID != identity.ID {
		return identity, ErrInvalidCredentials
	}
	id, err := gate(rec)
	if err != nil {
		return identity, err
	}
	return *id, nil
}

func gate(rec *models.UserRecord) (*models.Identity, error) {
	if rec.AwaitingVerification() {
		return nil, ErrPendingVerification
	}
	id := rec.Identity
	return &id, nil
}

// dummy returns a digest to compare against when the email is unknown.
func (s *AuthService) dummy() string {
	s.dummyOnce.Do(func() {
		d, err := s.hasher.Hash("healthdash-timing-equalizer")
		if err != nil {
			s.log.Warn("failed to build dummy digest", zap.Error(err))
		}
		s.dummyDigest = d
	})
	return s.dummyDigest
}

func (s *AuthService) storeError(op string, err error) error {
	s.log.Error("credential store failure", zap.String("op", op), zap.Error(err))
	return &StoreError{Op: op, Err: err}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

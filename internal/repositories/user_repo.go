package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/healthdash/backend/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrDuplicateEmail  = errors.New("users: email already taken")
	ErrDuplicateWallet = errors.New("users: wallet address already linked")
)

const uniqueViolation = "23505"

const userColumns = `
	id, full_name, email, password_hash, role, wallet_address, is_verified,
	COALESCE(specialization, ''), COALESCE(registration_id, ''), document_urls,
	COALESCE(age, 0), COALESCE(phone, ''), COALESCE(gender, ''), COALESCE(device_id, ''),
	created_at`

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

// FindByEmail returns nil, nil when no user has the email.
func (r *UserRepo) FindByEmail(ctx context.Context, email string) (*models.UserRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanOptionalUser(row)
}

// FindByWallet returns nil, nil when no user has the wallet address.
func (r *UserRepo) FindByWallet(ctx context.Context, address string) (*models.UserRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE wallet_address = $1`, address)
	return scanOptionalUser(row)
}

func (r *UserRepo) Insert(ctx context.Context, rec models.UserRecord) (*models.UserRecord, error) {
	var (
		specialization, registrationID *string
		documentURLs                   = []string{}
		age                            *int
		phone, gender, deviceID        *string
	)
	if d := rec.Doctor; d != nil {
		specialization = &d.Specialization
		registrationID = &d.RegistrationID
		if d.DocumentURLs != nil {
			documentURLs = d.DocumentURLs
		}
	}
	if p := rec.Patient; p != nil {
		age = &p.Age
		phone = &p.Phone
		gender = &p.Gender
		if p.DeviceID != "" {
			deviceID = &p.DeviceID
		}
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO users (
			full_name, email, password_hash, role, wallet_address, is_verified,
			specialization, registration_id, document_urls,
			age, phone, gender, device_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING `+userColumns,
		rec.FullName, rec.Email, rec.PasswordHash, rec.Role, rec.WalletAddress, rec.IsVerified,
		specialization, registrationID, documentURLs,
		age, phone, gender, deviceID,
	)

	u, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			switch pgErr.ConstraintName {
			case "users_email_key":
				return nil, ErrDuplicateEmail
			case "users_wallet_address_key":
				return nil, ErrDuplicateWallet
			}
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func scanOptionalUser(row pgx.Row) (*models.UserRecord, error) {
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func scanUser(row pgx.Row) (*models.UserRecord, error) {
	var (
		u   models.UserRecord
		doc models.DoctorProfile
		pat models.PatientProfile
	)
	err := row.Scan(
		&u.ID, &u.FullName, &u.Email, &u.PasswordHash, &u.Role, &u.WalletAddress, &u.IsVerified,
		&doc.Specialization, &doc.RegistrationID, &doc.DocumentURLs,
		&pat.Age, &pat.Phone, &pat.Gender, &pat.DeviceID,
		&u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	switch u.Role {
	case models.RoleDoctor:
		u.Doctor = &doc
	case models.RolePatient:
		u.Patient = &pat
	}
	return &u, nil
}

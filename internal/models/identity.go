package models

import "time"

// Roles
const (
	RoleDoctor  = "doctor"
	RolePatient = "patient"
)

// Roles returns every role the portal knows about.
func Roles() []string {
	return []string{RoleDoctor, RolePatient}
}

func IsValidRole(role string) bool {
	return role == RoleDoctor || role == RolePatient
}

type DoctorProfile struct {
	Specialization string   `json:"specialization"`
	RegistrationID string   `json:"registration_id"`
	DocumentURLs   []string `json:"document_urls,omitempty"`
}

type PatientProfile struct {
	Age      int    `json:"age"`
	Phone    string `json:"phone"`
	Gender   string `json:"gender"`
	DeviceID string `json:"device_id,omitempty"`
}

// Identity is an authenticated principal as seen outside the credential store.
// It never carries the password digest.
type Identity struct {
	ID            int64           `json:"id"`
	FullName      string          `json:"full_name"`
	Email         string          `json:"email"`
	Role          string          `json:"role"`
	WalletAddress *string         `json:"wallet_address,omitempty"`
	IsVerified    bool            `json:"is_verified"`
	Doctor        *DoctorProfile  `json:"doctor,omitempty"`
	Patient       *PatientProfile `json:"patient,omitempty"`
}

func (i Identity) IsDoctor() bool { return i.Role == RoleDoctor }

// AwaitingVerification reports whether the identity is a doctor that has not
// been verified yet. Patients are never gated.
func (i Identity) AwaitingVerification() bool {
	return i.IsDoctor() && !i.IsVerified
}

// UserRecord is a row of the users table.
type UserRecord struct {
	Identity
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// Audit actions
const (
	AuditActionSignup          = "signup"
	AuditActionSignin          = "signin"
	AuditActionSigninFailed    = "signin_failed"
	AuditActionWalletSignin    = "wallet_signin"
	AuditActionWalletSigninErr = "wallet_signin_failed"
)

type AuditLog struct {
	ID          uuid.UUID `json:"id"`
	ActorUserID *int64    `json:"actor_user_id,omitempty"`
	ActorType   string    `json:"actor_type"` // user/anonymous/system
	Action      string    `json:"action"`
	EntityType  string    `json:"entity_type"`
	EntityID    *int64    `json:"entity_id,omitempty"`
	Meta        any       `json:"meta,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

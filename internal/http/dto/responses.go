package dto

import (
	"time"

	"github.com/healthdash/backend/internal/models"
)

type AuthResponse struct {
	Token     string          `json:"token"`
	Identity  models.Identity `json:"identity"`
	ExpiresAt time.Time       `json:"expires_at"`
}

type ErrorResponse struct {
	Error     string            `json:"error"`
	Details   map[string]string `json:"details,omitempty"`
	Retryable bool              `json:"retryable,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type MeResponse struct {
	Identity  models.Identity `json:"identity"`
	ExpiresAt time.Time       `json:"expires_at"`
	Home      string          `json:"home"`
}

type AuthorizeResponse struct {
	Path          string `json:"path"`
	Authenticated bool   `json:"authenticated"`
	Allow         bool   `json:"allow"`
	RedirectTo    string `json:"redirect_to,omitempty"`
}

type PageResponse struct {
	Route    string           `json:"route"`
	Page     string           `json:"page"`
	Identity *models.Identity `json:"identity,omitempty"`
}

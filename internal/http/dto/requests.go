package dto

// SignupRequest and SigninRequest are decoded straight into
// services.SignupInput and services.SigninInput.

type WalletSigninRequest struct {
	Address string `json:"address"`
}

package config

import (
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SESSION_TTL_HOURS", "")
	t.Setenv("SESSION_SWEEP_INTERVAL_SECONDS", "")
	t.Setenv("REVALIDATE_VERIFICATION", "")
	t.Setenv("WALLET_SEED", "")

	cfg := Load()
	if cfg.SessionTTL != 30*24*time.Hour {
		t.Errorf("SessionTTL = %v, want 720h", cfg.SessionTTL)
	}
	if cfg.SweepInterval != time.Minute {
		t.Errorf("SweepInterval = %v, want 1m", cfg.SweepInterval)
	}
	if !cfg.RevalidateOnLoad {
		t.Error("RevalidateOnLoad should default to true")
	}
	if len(cfg.WalletSeed) != 0 {
		t.Errorf("WalletSeed = %v, want empty", cfg.WalletSeed)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SESSION_TTL_HOURS", "2")
	t.Setenv("REVALIDATE_VERIFICATION", "false")
	t.Setenv("WALLET_SEED", "  alpha beta   gamma ")
	t.Setenv("BCRYPT_COST", "not-a-number")

	cfg := Load()
	if cfg.SessionTTL != 2*time.Hour {
		t.Errorf("SessionTTL = %v", cfg.SessionTTL)
	}
	if cfg.RevalidateOnLoad {
		t.Error("RevalidateOnLoad should be false")
	}
	if len(cfg.WalletSeed) != 3 || cfg.WalletSeed[1] != "beta" {
		t.Errorf("WalletSeed = %v", cfg.WalletSeed)
	}
	if cfg.BcryptCost != bcrypt.DefaultCost {
		t.Errorf("BcryptCost = %d, want default", cfg.BcryptCost)
	}
}

func TestValidateClampsBadValues(t *testing.T) {
	cfg := &Config{BcryptCost: 99, SessionTTL: -1, JWTSecret: "s"}
	cfg.Validate(zap.NewNop())

	if cfg.BcryptCost != bcrypt.DefaultCost {
		t.Errorf("BcryptCost = %d", cfg.BcryptCost)
	}
	if cfg.SessionTTL != 720*time.Hour {
		t.Errorf("SessionTTL = %v", cfg.SessionTTL)
	}
	if cfg.SweepInterval != time.Minute {
		t.Errorf("SweepInterval = %v", cfg.SweepInterval)
	}
}

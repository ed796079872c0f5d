package app

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// minAdminBcryptCost rejects hashes generated for tests or by mistake.
const minAdminBcryptCost = 10

// ValidateAdminConfig enforces the admin credential policy at startup.
//
// Fail-fast: a malformed hash would otherwise lock every operator out at the first request.
func ValidateAdminConfig(cfg Config) error {
	if cfg.AdminPasswordHash == "" {
		if cfg.RequireAdminAuth {
			return errors.New("security policy: PARLEY_REQUIRE_ADMIN_AUTH=true but PARLEY_ADMIN_PASSWORD_HASH is missing")
		}
		return nil
	}

	if cfg.AdminUser == "" {
		return errors.New("security policy: PARLEY_ADMIN_USER is empty")
	}

	cost, err := bcrypt.Cost([]byte(cfg.AdminPasswordHash))
	if err != nil {
		return fmt.Errorf("security policy: PARLEY_ADMIN_PASSWORD_HASH is not a bcrypt hash: %w", err)
	}
	if cfg.RequireAdminAuth && cost < minAdminBcryptCost {
		return fmt.Errorf("security policy: admin bcrypt cost %d below minimum %d", cost, minAdminBcryptCost)
	}
	return nil
}

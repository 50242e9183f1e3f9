package auth

import (
	"crypto/subtle"
	"errors"

	"ai-call-center/internal/config"

	"golang.org/x/crypto/bcrypt"
)

var ErrBadCredentials = errors.New("auth: invalid username or password")

// Operator checks console logins against the configured account.
type Operator struct {
	username string
	hash     []byte
}

// NewOperator returns nil when no account is configured; Check on a nil Operator always fails.
func NewOperator(cfg config.OperatorConfig) *Operator {
	if cfg.Username == "" || cfg.PasswordHash == "" {
		return nil
	}
	return &Operator{username: cfg.Username, hash: []byte(cfg.PasswordHash)}
}

func (o *Operator) Check(username, password string) error {
	if o == nil {
		return ErrBadCredentials
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(o.username)) == 1
	// Always run bcrypt so a wrong username costs the same as a wrong password.
	pwErr := bcrypt.CompareHashAndPassword(o.hash, []byte(password))
	if !userOK || pwErr != nil {
		return ErrBadCredentials
	}
	return nil
}

func (o *Operator) Username() string {
	if o == nil {
		return ""
	}
	return o.username
}

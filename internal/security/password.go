package security

import (
	"errors"
	"fmt"

	"github.com/cwrk-planet/aidchat/internal/domain"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrPasswordTooShort   = fmt.Errorf("%w: password too short", domain.ErrValidation)
	ErrPasswordMismatch   = fmt.Errorf("%w: invalid credentials", domain.ErrUnauthenticated)
	errBcryptPasswordLong = fmt.Errorf("%w: password too long", domain.ErrValidation)
)

type BcryptConfig struct {
	Cost      int // по умолчанию bcrypt.DefaultCost
	MinLength int // по умолчанию 6
}

func HashPassword(plain string, cfg *BcryptConfig) (string, error) {
	minLen := 6
	cost := bcrypt.DefaultCost

	if cfg != nil {
		if cfg.MinLength > 0 {
			minLen = cfg.MinLength
		}
		if cfg.Cost > 0 {
			cost = cfg.Cost
		}
	}

	if len(plain) < minLen {
		return "", ErrPasswordTooShort
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", errBcryptPasswordLong
		}
		return "", err
	}

	return string(hash), nil
}

func ComparePassword(hash, plain string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrPasswordMismatch
		}
		return err
	}
	return nil
}

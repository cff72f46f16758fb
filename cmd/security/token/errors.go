package token

import "errors"

// Public, stable errors for callers.
var (
	ErrSecretMissing  = errors.New("token signing secret missing")
	ErrSecretTooShort = errors.New("token signing secret too short")
	ErrSecretWeak     = errors.New("token signing secret has too little variety")
)

package license

import "errors"

var (
	ErrLicenseNotFound     = errors.New("license not found")
	ErrLimitReached        = errors.New("maximum activations reached")
	ErrNoActiveActivation  = errors.New("no active activation for hardware id")
	ErrInvalidTransition   = errors.New("invalid license status transition")
	ErrDuplicateKey        = errors.New("license key already exists")
	ErrInvalidInput        = errors.New("invalid input")
	ErrProductNotFound     = errors.New("product not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrKeyGenerationFailed = errors.New("license key generation failed")
)

package user

import "errors"

var (
	ErrProfileNotFound   = errors.New("profile not found")
	ErrProfileExists     = errors.New("profile already exists")
	ErrNameChangeTooSoon = errors.New("name can be changed once every 7 days")
	ErrInvalidName       = errors.New("invalid name")
	ErrInvalidLocation   = errors.New("invalid location")
	ErrTooManyContacts   = errors.New("too many emergency contacts")
	ErrInvalidContact    = errors.New("invalid emergency contact")
)

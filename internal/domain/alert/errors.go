package alert

import "errors"

var (
	ErrAlertNotFound   = errors.New("alert not found")
	ErrForbidden       = errors.New("only the alert owner can do this")
	ErrInvalidType     = errors.New("invalid emergency type")
	ErrNotesTooLong    = errors.New("notes too long")
	ErrTooManyPhotos   = errors.New("too many photos")
	ErrInvalidPhoto    = errors.New("invalid photo")
	ErrInvalidLocation = errors.New("invalid location")
)

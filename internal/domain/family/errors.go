package family

import "errors"

var (
	ErrFamilyNotFound       = errors.New("family not found")
	ErrInviteNotFound       = errors.New("invite code not found")
	ErrInviteExpired        = errors.New("invite code expired")
	ErrInviteCodeTaken      = errors.New("invite code in use by another family")
	ErrInvalidInviteCode    = errors.New("invite code must be 6 letters or digits")
	ErrFamilyFull           = errors.New("family is full")
	ErrAlreadyMember        = errors.New("already a member of this family")
	ErrAlreadyInFamily      = errors.New("already in another family")
	ErrMemberNotFound       = errors.New("member not found")
	ErrForbidden            = errors.New("only the family creator can do this")
	ErrNotMember            = errors.New("not a member of this family")
	ErrCannotRemoveCreator  = errors.New("creator cannot be removed, leave the family instead")
	ErrInvalidName          = errors.New("family name must be 1 to 50 characters")
	ErrCodeGenerationFailed = errors.New("invite code generation failed")
)

package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")

	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrExceedsClaimable = errors.New("amount exceeds claimable")
	ErrExceedsRemaining = errors.New("amount exceeds remaining principal")
	ErrTransferLocked   = errors.New("position transfer locked until fully claimed")
	ErrPaused           = errors.New("ledger paused")
	ErrReentrantCall    = errors.New("reentrant call")
	ErrBusy             = errors.New("ledger busy")

	ErrArithmeticUnderflow = errors.New("arithmetic underflow")
	ErrArithmeticOverflow  = errors.New("arithmetic overflow")

	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrTokenPaused           = errors.New("token paused")
)

// Refinements of ErrInvalidArgument and ErrInvalidSignature. Each matches its
// parent with errors.Is.
var (
	ErrInvalidRecipient = fmt.Errorf("%w: zero recipient", ErrInvalidArgument)
	ErrZeroAmount       = fmt.Errorf("%w: zero amount", ErrInvalidArgument)

	ErrSignatureExpired   = fmt.Errorf("%w: expired", ErrInvalidSignature)
	ErrSignatureReplayed  = fmt.Errorf("%w: already used", ErrInvalidSignature)
	ErrSignerMismatch     = fmt.Errorf("%w: signer mismatch", ErrInvalidSignature)
	ErrMalformedSignature = fmt.Errorf("%w: malformed", ErrInvalidSignature)
)

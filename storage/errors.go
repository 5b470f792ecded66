package storage

import "errors"

var (
	ErrNotFound       = errors.New("storage: not found")
	ErrAlreadyExists  = errors.New("storage: region already exists")
	ErrInvalidAddress = errors.New("storage: invalid address")
	ErrMissingPayer   = errors.New("storage: missing payer")
	ErrInvalidSize    = errors.New("storage: invalid region size")
	ErrRegionOverflow = errors.New("storage: data exceeds region size")
	ErrHandleClosed   = errors.New("storage: handle already written or discarded")
	ErrUnauthorized   = errors.New("storage: allocation not authorized")
)

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func IsAlreadyExists(err error) bool { return errors.Is(err, ErrAlreadyExists) }

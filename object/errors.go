package object

import "errors"

var (
	ErrNoStorage       = errors.New("object has no property storage")
	ErrForeignProperty = errors.New("property is not part of this storage layout")
	ErrArrayIndex      = errors.New("array index out of range")
	ErrLayoutCycle     = errors.New("struct layout depends on itself")
	ErrKindMismatch    = errors.New("value kind does not match property kind")
)

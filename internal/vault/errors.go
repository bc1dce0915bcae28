package vault

import (
	"errors"
	"fmt"
)

// Code classifies a vault failure.
type Code int

const (
	// CodeInvalidQuery: a migration query broke a structural rule. Nothing was touched.
	CodeInvalidQuery Code = iota + 1
	// CodeNoItemsToMigrate: a well-formed migration query matched nothing.
	CodeNoItemsToMigrate
	// CodeDuplicateKey: a migrated key collides with another match or an existing vault key.
	CodeDuplicateKey
	// CodeStore: the underlying store refused an operation.
	CodeStore
	// CodeConstruction: the vault identity cannot be used with this store.
	CodeConstruction
	// CodeInvalidKey: a key is empty, reserved, or contains NUL.
	CodeInvalidKey
	// CodeInvalidValue: a value is empty.
	CodeInvalidValue
)

func (c Code) String() string {
	switch c {
	case CodeInvalidQuery:
		return "invalid query"
	case CodeNoItemsToMigrate:
		return "no items to migrate found"
	case CodeDuplicateKey:
		return "duplicate key"
	case CodeStore:
		return "store error"
	case CodeConstruction:
		return "invalid vault configuration"
	case CodeInvalidKey:
		return "invalid key"
	case CodeInvalidValue:
		return "invalid value"
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Sentinels for errors.Is. Any *Error with the same Code matches.
var (
	ErrInvalidQuery     = &Error{Code: CodeInvalidQuery}
	ErrNoItemsToMigrate = &Error{Code: CodeNoItemsToMigrate}
	ErrDuplicateKey     = &Error{Code: CodeDuplicateKey}
	ErrStore            = &Error{Code: CodeStore}
	ErrConstruction     = &Error{Code: CodeConstruction}
	ErrInvalidKey       = &Error{Code: CodeInvalidKey}
	ErrInvalidValue     = &Error{Code: CodeInvalidValue}
)

// Error is the only error type the vault package returns.
type Error struct {
	Code Code
	Op   string // "set", "get", "migrate", ...
	Key  string // item key, when one is involved
	Err  error  // underlying cause, often a keychain sentinel
}

func (e *Error) Error() string {
	msg := e.Code.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Key != "" {
		msg += fmt.Sprintf(" (key %q)", e.Key)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// CodeOf returns the Code of the first *Error in err's chain, or 0.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

func storeError(op, key string, err error) error {
	return &Error{Code: CodeStore, Op: op, Key: key, Err: err}
}

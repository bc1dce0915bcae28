// Package keychain describes the predicate protocol lockbox speaks to a
// platform secure store, plus the stores that implement it.
//
// A Query is a set of attribute constraints and result-shaping flags, the same
// shape the macOS SecItem API accepts. Attributes left at their zero value do
// not constrain a match. Every query must name a Class.
//
// On darwin the SystemStore talks to the real Keychain. Everywhere else, and
// in unit tests, MemoryStore provides the same semantics in process.
package keychain

import (
	"errors"
	"time"
)

var (
	// ErrItemNotFound is returned when a query matches nothing.
	ErrItemNotFound = errors.New("keychain item not found")
	// ErrDuplicateItem is returned by Add when an item with the same primary key exists.
	ErrDuplicateItem = errors.New("keychain item already exists")
	// ErrAuthFailed is returned when the caller is not allowed to touch the item.
	ErrAuthFailed = errors.New("keychain authorization failed")
	// ErrInteractionNotAllowed is returned when the store is locked.
	ErrInteractionNotAllowed = errors.New("keychain interaction not allowed")
	// ErrUnsupported is returned for attribute combinations the store cannot honour.
	ErrUnsupported = errors.New("keychain operation unsupported")
)

// Class identifies the kind of secret a query targets.
type Class string

const (
	ClassGenericPassword  Class = "genp"
	ClassInternetPassword Class = "inet"
)

// Accessibility says when an item may be read relative to device lock state.
type Accessibility string

const (
	AccessibleWhenUnlocked                   Accessibility = "ak"
	AccessibleAfterFirstUnlock               Accessibility = "ck"
	AccessibleAlways                         Accessibility = "dk"
	AccessibleWhenPasscodeSetThisDeviceOnly  Accessibility = "akpu"
	AccessibleWhenUnlockedThisDeviceOnly     Accessibility = "aku"
	AccessibleAfterFirstUnlockThisDeviceOnly Accessibility = "cku"
	AccessibleAlwaysThisDeviceOnly           Accessibility = "dku"
)

// MatchLimit bounds how many items a search returns.
type MatchLimit int

const (
	// MatchLimitUnset behaves like MatchLimitOne, as SecItemCopyMatching does.
	MatchLimitUnset MatchLimit = iota
	MatchLimitOne
	MatchLimitAll
)

// Query is both a match predicate and, for Add, the item to create.
//
// Service applies to generic passwords only. Server, Protocol, Port, Path and
// AuthenticationType apply to internet passwords only.
type Query struct {
	Class          Class
	Service        string
	Account        string
	AccessGroup    string
	Label          string
	Accessible     Accessibility
	Synchronizable bool

	Server             string
	Protocol           string
	Port               int32
	Path               string
	AuthenticationType string

	// Data is the secret payload for Add. It never constrains a match.
	Data []byte
	// PersistentRef restricts a match to exactly one previously returned item.
	PersistentRef []byte

	MatchLimit          MatchLimit
	ReturnData          bool
	ReturnAttributes    bool
	ReturnRef           bool
	ReturnPersistentRef bool
}

// Result is one matched item. Fields are filled according to the query's
// return flags: Data only with ReturnData, attributes only with
// ReturnAttributes, PersistentRef only with ReturnPersistentRef.
//
// Accessible is empty when the store cannot read it back from the item.
type Result struct {
	Class              Class
	Service            string
	Account            string
	AccessGroup        string
	Label              string
	Accessible         Accessibility
	Synchronizable     bool
	Server             string
	Protocol           string
	Port               int32
	Path               string
	AuthenticationType string
	Data               []byte
	PersistentRef      []byte
	Created            time.Time
	Modified           time.Time
}

// samePrimaryKey reports whether a and b name the same item slot: Add of
// one fails with ErrDuplicateItem while the other exists. The key depends on
// the class.
func samePrimaryKey(a, b Query) bool {
	if a.Class != b.Class ||
		a.Account != b.Account ||
		a.AccessGroup != b.AccessGroup ||
		a.Synchronizable != b.Synchronizable {
		return false
	}
	if a.Class == ClassInternetPassword {
		return a.Server == b.Server &&
			a.Protocol == b.Protocol &&
			a.Port == b.Port &&
			a.Path == b.Path &&
			a.AuthenticationType == b.AuthenticationType
	}
	return a.Service == b.Service
}

// Store is the predicate store lockbox runs on. Implementations must be safe
// for concurrent use, and each call must apply atomically.
type Store interface {
	Add(item Query) error
	Update(match Query, data []byte) error
	Search(q Query) ([]Result, error)
	Delete(q Query) error
}

// HardwareBacked is implemented by stores that can report whether
// secure-hardware-backed items are available.
type HardwareBacked interface {
	SupportsSecureHardware() bool
}

// SupportsSecureHardware reports whether s advertises secure hardware.
func SupportsSecureHardware(s Store) bool {
	hb, ok := s.(HardwareBacked)
	return ok && hb.SupportsSecureHardware()
}

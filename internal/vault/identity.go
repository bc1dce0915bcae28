package vault

import (
	"fmt"
	"strings"

	"github.com/benaskins/lockbox/internal/keychain"
)

// Policy controls when a vault's secrets can be read, relative to device lock
// state and whether they may leave the device.
type Policy int

const (
	PolicyWhenUnlocked Policy = iota + 1
	PolicyAfterFirstUnlock
	PolicyAlways
	PolicyWhenPasscodeSetThisDeviceOnly
	PolicyWhenUnlockedThisDeviceOnly
	PolicyAfterFirstUnlockThisDeviceOnly
	PolicyAlwaysThisDeviceOnly
)

var policies = []struct {
	policy     Policy
	name       string
	accessible keychain.Accessibility
}{
	{PolicyWhenUnlocked, "when-unlocked", keychain.AccessibleWhenUnlocked},
	{PolicyAfterFirstUnlock, "after-first-unlock", keychain.AccessibleAfterFirstUnlock},
	{PolicyAlways, "always", keychain.AccessibleAlways},
	{PolicyWhenPasscodeSetThisDeviceOnly, "when-passcode-set-this-device-only", keychain.AccessibleWhenPasscodeSetThisDeviceOnly},
	{PolicyWhenUnlockedThisDeviceOnly, "when-unlocked-this-device-only", keychain.AccessibleWhenUnlockedThisDeviceOnly},
	{PolicyAfterFirstUnlockThisDeviceOnly, "after-first-unlock-this-device-only", keychain.AccessibleAfterFirstUnlockThisDeviceOnly},
	{PolicyAlwaysThisDeviceOnly, "always-this-device-only", keychain.AccessibleAlwaysThisDeviceOnly},
}

// ParsePolicy accepts the names printed by Policy.String.
func ParsePolicy(s string) (Policy, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, p := range policies {
		if p.name == s {
			return p.policy, nil
		}
	}
	return 0, fmt.Errorf("unknown policy %q", s)
}

func (p Policy) String() string {
	for _, e := range policies {
		if e.policy == p {
			return e.name
		}
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

// Valid reports whether p is one of the declared policies.
func (p Policy) Valid() bool {
	_, ok := p.accessibility()
	return ok
}

// ThisDeviceOnly reports whether secrets under p are bound to this device.
func (p Policy) ThisDeviceOnly() bool {
	return strings.HasSuffix(p.String(), "this-device-only")
}

func (p Policy) accessibility() (keychain.Accessibility, bool) {
	for _, e := range policies {
		if e.policy == p {
			return e.accessible, true
		}
	}
	return "", false
}

// Kind separates vault variants that must never share a namespace.
type Kind int

const (
	KindStandard Kind = iota
	// KindSynchronizable vaults are eligible for iCloud Keychain sync.
	KindSynchronizable
	// KindSecureHardware vaults require a store with secure hardware.
	KindSecureHardware
)

var kindNames = map[Kind]string{
	KindStandard:       "standard",
	KindSynchronizable: "synchronizable",
	KindSecureHardware: "secure-hardware",
}

// ParseKind accepts the names printed by Kind.String. Empty means standard.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return KindStandard, nil
	}
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown kind %q", s)
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Identity is everything that distinguishes one vault from another. Two
// vaults are the same vault exactly when their identities are equal.
type Identity struct {
	Name        string
	Policy      Policy
	SharedGroup string
	Kind        Kind
}

// Equal reports whether a and b name the same vault.
func (id Identity) Equal(other Identity) bool {
	return id == other
}

func (id Identity) String() string {
	if id.SharedGroup != "" {
		return fmt.Sprintf("%s/%s (%s, group %s)", id.Kind, id.Name, id.Policy, id.SharedGroup)
	}
	return fmt.Sprintf("%s/%s (%s)", id.Kind, id.Name, id.Policy)
}

// Validate checks the identity against the capabilities of store.
func (id Identity) Validate(store keychain.Store) error {
	if strings.TrimSpace(id.Name) == "" {
		return constructionError(id, "empty name")
	}
	if strings.ContainsRune(id.Name, 0) || strings.ContainsRune(id.SharedGroup, 0) {
		return constructionError(id, "name or group contains NUL")
	}
	if !id.Policy.Valid() {
		return constructionError(id, "unknown policy")
	}
	switch id.Kind {
	case KindStandard:
	case KindSynchronizable:
		if id.Policy.ThisDeviceOnly() {
			return constructionError(id, "synchronizable vaults cannot use a this-device-only policy")
		}
	case KindSecureHardware:
		if !id.Policy.ThisDeviceOnly() {
			return constructionError(id, "secure hardware vaults require a this-device-only policy")
		}
		if !keychain.SupportsSecureHardware(store) {
			return constructionError(id, "store has no secure hardware")
		}
	default:
		return constructionError(id, "unknown kind")
	}
	return nil
}

func constructionError(id Identity, reason string) error {
	return &Error{Code: CodeConstruction, Op: "new", Err: fmt.Errorf("%s: %s", id, reason)}
}

package vault

import (
	"log/slog"

	"github.com/google/uuid"
)

// canaryKey is written by CanAccess. Callers cannot use it: keys containing
// NUL are rejected by checkKey.
const canaryKey = "\x00lockbox-canary"

// CanAccess reports whether the vault can currently be written and read back.
// It writes a fresh random value under a reserved key and reads it again; the
// canary is left in place and never appears in Keys.
func (v *Vault) CanAccess() bool {
	want := uuid.NewString()
	if err := v.set(canaryKey, []byte(want)); err != nil {
		slog.Debug("vault access probe write failed", "vault", v.id.String(), "error", err)
		return false
	}
	got, ok, err := v.get(canaryKey)
	if err != nil || !ok {
		slog.Debug("vault access probe read failed", "vault", v.id.String(), "found", ok, "error", err)
		return false
	}
	return string(got) == want
}

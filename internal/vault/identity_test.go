package vault

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benaskins/lockbox/internal/keychain"
)

func TestPolicyRoundTrip(t *testing.T) {
	for _, e := range policies {
		p, err := ParsePolicy(e.policy.String())
		require.NoError(t, err)
		assert.Equal(t, e.policy, p)
	}

	_, err := ParsePolicy("whenever")
	assert.Error(t, err)
	assert.Equal(t, "policy(0)", Policy(0).String())
}

func TestPolicyThisDeviceOnly(t *testing.T) {
	assert.False(t, PolicyWhenUnlocked.ThisDeviceOnly())
	assert.False(t, PolicyAlways.ThisDeviceOnly())
	assert.True(t, PolicyWhenPasscodeSetThisDeviceOnly.ThisDeviceOnly())
	assert.True(t, PolicyAfterFirstUnlockThisDeviceOnly.ThisDeviceOnly())
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("")
	require.NoError(t, err)
	assert.Equal(t, KindStandard, k)

	k, err = ParseKind("Secure-Hardware")
	require.NoError(t, err)
	assert.Equal(t, KindSecureHardware, k)

	_, err = ParseKind("enclave")
	assert.Error(t, err)
}

func TestIdentityEqual(t *testing.T) {
	a := Identity{Name: "valet_testing", Policy: PolicyWhenUnlocked}
	b := Identity{Name: "valet_testing", Policy: PolicyWhenUnlocked}
	assert.True(t, a.Equal(b))

	for name, other := range map[string]Identity{
		"name":   {Name: "wat", Policy: PolicyWhenUnlocked},
		"policy": {Name: "valet_testing", Policy: PolicyAfterFirstUnlockThisDeviceOnly},
		"group":  {Name: "valet_testing", Policy: PolicyWhenUnlocked, SharedGroup: "team.shared"},
		"kind":   {Name: "valet_testing", Policy: PolicyWhenUnlocked, Kind: KindSynchronizable},
	} {
		assert.False(t, a.Equal(other), "identities differing by %s should not be equal", name)
	}
}

func TestIdentityValidate(t *testing.T) {
	plain := keychain.NewMemoryStore()
	hardware := keychain.NewMemoryStore()
	hardware.SetSecureHardware(true)

	tests := []struct {
		name  string
		id    Identity
		store keychain.Store
		ok    bool
	}{
		{"standard", Identity{Name: "app", Policy: PolicyWhenUnlocked}, plain, true},
		{"empty name", Identity{Policy: PolicyWhenUnlocked}, plain, false},
		{"blank name", Identity{Name: "  ", Policy: PolicyWhenUnlocked}, plain, false},
		{"unset policy", Identity{Name: "app"}, plain, false},
		{"unknown policy", Identity{Name: "app", Policy: Policy(42)}, plain, false},
		{"unknown kind", Identity{Name: "app", Policy: PolicyWhenUnlocked, Kind: Kind(9)}, plain, false},
		{"synchronizable", Identity{Name: "app", Policy: PolicyAfterFirstUnlock, Kind: KindSynchronizable}, plain, true},
		{"synchronizable device only", Identity{Name: "app", Policy: PolicyWhenUnlockedThisDeviceOnly, Kind: KindSynchronizable}, plain, false},
		{"secure hardware unsupported", Identity{Name: "app", Policy: PolicyWhenPasscodeSetThisDeviceOnly, Kind: KindSecureHardware}, plain, false},
		{"secure hardware", Identity{Name: "app", Policy: PolicyWhenPasscodeSetThisDeviceOnly, Kind: KindSecureHardware}, hardware, true},
		{"secure hardware syncable policy", Identity{Name: "app", Policy: PolicyWhenUnlocked, Kind: KindSecureHardware}, hardware, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.id.Validate(tt.store)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, ErrConstruction), "expected ErrConstruction, got %v", err)
		})
	}
}

func TestBaseQuery(t *testing.T) {
	got := BaseQuery(Identity{Name: "payments", Policy: PolicyAfterFirstUnlock})
	want := keychain.Query{
		Class:      keychain.ClassGenericPassword,
		Service:    "lockbox.standard.payments.after-first-unlock",
		Accessible: keychain.AccessibleAfterFirstUnlock,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("base query mismatch (-want +got):\n%s", diff)
	}
}

func TestBaseQuerySharedSynchronizable(t *testing.T) {
	got := BaseQuery(Identity{
		Name:        "payments",
		Policy:      PolicyWhenUnlocked,
		SharedGroup: "ABCDE12345.com.example.shared",
		Kind:        KindSynchronizable,
	})
	want := keychain.Query{
		Class:          keychain.ClassGenericPassword,
		Service:        "lockbox-shared.synchronizable.payments.when-unlocked",
		AccessGroup:    "ABCDE12345.com.example.shared",
		Accessible:     keychain.AccessibleWhenUnlocked,
		Synchronizable: true,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("base query mismatch (-want +got):\n%s", diff)
	}
}

func TestBaseQueryDeterministicAndDisjoint(t *testing.T) {
	id := Identity{Name: "app", Policy: PolicyWhenUnlocked}
	assert.Empty(t, cmp.Diff(BaseQuery(id), BaseQuery(id)))

	others := []Identity{
		{Name: "app2", Policy: PolicyWhenUnlocked},
		{Name: "app", Policy: PolicyWhenUnlockedThisDeviceOnly},
		{Name: "app", Policy: PolicyWhenUnlocked, Kind: KindSynchronizable},
		{Name: "app", Policy: PolicyWhenUnlocked, SharedGroup: "group"},
	}
	base := BaseQuery(id)
	for _, other := range others {
		assert.NotEmpty(t, cmp.Diff(base, BaseQuery(other)), "expected %s to have its own namespace", other)
	}

	// Result shaping is added per operation, never in the base.
	assert.Equal(t, keychain.MatchLimitUnset, base.MatchLimit)
	assert.False(t, base.ReturnData || base.ReturnAttributes || base.ReturnRef || base.ReturnPersistentRef)
}

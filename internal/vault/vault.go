// Package vault stores small secrets in named, policy-scoped namespaces of a
// shared keychain.Store.
//
// A Vault is stateless glue: it owns no data and caches nothing. Every call
// becomes one or a few predicate operations built from the vault's base
// query, so any two vaults with equal identities see exactly the same items.
//
// Vaults can also import items written by other software with Migrate, which
// either copies every matched item or copies none.
package vault

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/benaskins/lockbox/internal/keychain"
)

// setAttempts bounds the update/add retry loop when concurrent writers keep
// adding and removing the same key underneath us.
const setAttempts = 5

// Vault is a handle on one namespace of a keychain.Store.
type Vault struct {
	store keychain.Store
	id    Identity
	base  keychain.Query
}

// New validates id against store and returns a handle for it.
func New(store keychain.Store, id Identity) (*Vault, error) {
	if store == nil {
		return nil, &Error{Code: CodeConstruction, Op: "new", Err: errors.New("nil store")}
	}
	if err := id.Validate(store); err != nil {
		return nil, err
	}
	return &Vault{store: store, id: id, base: BaseQuery(id)}, nil
}

// Identity returns the identity the vault was built from.
func (v *Vault) Identity() Identity {
	return v.id
}

// Equal reports whether v and other address the same namespace.
func (v *Vault) Equal(other *Vault) bool {
	if v == nil || other == nil {
		return v == other
	}
	return v.id.Equal(other.id)
}

func (v *Vault) String() string {
	return v.id.String()
}

// Set stores value under key, replacing any previous value.
func (v *Vault) Set(key string, value []byte) error {
	if err := checkKey("set", key); err != nil {
		return err
	}
	if len(value) == 0 {
		return &Error{Code: CodeInvalidValue, Op: "set", Key: key, Err: errors.New("empty value")}
	}
	return v.set(key, value)
}

// SetString stores s as UTF-8 bytes.
func (v *Vault) SetString(key, s string) error {
	return v.Set(key, []byte(s))
}

func (v *Vault) set(key string, value []byte) error {
	q := v.itemQuery(key)
	for attempt := 0; attempt < setAttempts; attempt++ {
		err := v.store.Update(q, value)
		if err == nil {
			return nil
		}
		if !errors.Is(err, keychain.ErrItemNotFound) {
			return storeError("set", key, err)
		}

		err = v.store.Add(v.newItem(key, value))
		if err == nil {
			return nil
		}
		// Another writer added the key between our update and add; go
		// round again and update it.
		if !errors.Is(err, keychain.ErrDuplicateItem) {
			return storeError("set", key, err)
		}
	}
	return storeError("set", key, errors.New("key kept changing under concurrent writers"))
}

// newItem is the Add query that creates key holding value.
func (v *Vault) newItem(key string, value []byte) keychain.Query {
	item := v.itemQuery(key)
	item.Label = fmt.Sprintf("lockbox: %s", v.id.Name)
	item.Data = value
	return item
}

// Get returns the value stored under key. A missing key is reported with
// ok == false and a nil error.
func (v *Vault) Get(key string) (value []byte, ok bool, err error) {
	if err := checkKey("get", key); err != nil {
		return nil, false, err
	}
	return v.get(key)
}

// GetString is Get for values written with SetString.
func (v *Vault) GetString(key string) (string, bool, error) {
	value, ok, err := v.Get(key)
	return string(value), ok, err
}

func (v *Vault) get(key string) ([]byte, bool, error) {
	q := v.itemQuery(key)
	q.MatchLimit = keychain.MatchLimitOne
	q.ReturnData = true
	results, err := v.store.Search(q)
	if errors.Is(err, keychain.ErrItemNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storeError("get", key, err)
	}
	return results[0].Data, true, nil
}

// Contains reports whether key has a value, without reading it.
func (v *Vault) Contains(key string) (bool, error) {
	if err := checkKey("contains", key); err != nil {
		return false, err
	}
	return v.contains(key)
}

func (v *Vault) contains(key string) (bool, error) {
	q := v.itemQuery(key)
	q.MatchLimit = keychain.MatchLimitOne
	// Stores may report nothing for a query that asks for nothing back.
	q.ReturnAttributes = true
	_, err := v.store.Search(q)
	if errors.Is(err, keychain.ErrItemNotFound) {
		return false, nil
	}
	if err != nil {
		return false, storeError("contains", key, err)
	}
	return true, nil
}

// Keys returns every key in the vault, sorted.
func (v *Vault) Keys() ([]string, error) {
	q := v.base
	q.MatchLimit = keychain.MatchLimitAll
	q.ReturnAttributes = true
	results, err := v.store.Search(q)
	if errors.Is(err, keychain.ErrItemNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("keys", "", err)
	}
	keys := make([]string, 0, len(results))
	for _, r := range results {
		if r.Account == canaryKey {
			continue
		}
		keys = append(keys, r.Account)
	}
	sort.Strings(keys)
	return keys, nil
}

// Remove deletes key. Removing a missing key succeeds.
func (v *Vault) Remove(key string) error {
	if err := checkKey("remove", key); err != nil {
		return err
	}
	return v.remove(key)
}

func (v *Vault) remove(key string) error {
	err := v.store.Delete(v.itemQuery(key))
	if err != nil && !errors.Is(err, keychain.ErrItemNotFound) {
		return storeError("remove", key, err)
	}
	return nil
}

// RemoveAll deletes every item in the vault. An empty vault is not an error.
func (v *Vault) RemoveAll() error {
	err := v.store.Delete(v.base)
	if err != nil && !errors.Is(err, keychain.ErrItemNotFound) {
		return storeError("remove all", "", err)
	}
	return nil
}

// checkKey enforces the caller key contract. NUL is reserved so that the
// access probe's canary can never collide with a caller key.
func checkKey(op, key string) error {
	switch {
	case key == "":
		return &Error{Code: CodeInvalidKey, Op: op, Err: errors.New("empty key")}
	case strings.ContainsRune(key, 0):
		return &Error{Code: CodeInvalidKey, Op: op, Key: key, Err: errors.New("key contains NUL")}
	}
	return nil
}

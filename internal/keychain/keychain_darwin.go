//go:build darwin

package keychain

import (
	"errors"
	"fmt"
	"runtime"

	gokeychain "github.com/keybase/go-keychain"
)

// SystemStore runs queries against the macOS Keychain.
type SystemStore struct{}

// NewSystemStore creates a new Keychain-backed store.
func NewSystemStore() *SystemStore {
	return &SystemStore{}
}

// SupportsSecureHardware reports true on Apple silicon, where every machine
// carries a Secure Enclave.
func (s *SystemStore) SupportsSecureHardware() bool {
	return runtime.GOARCH == "arm64"
}

func (s *SystemStore) Add(item Query) error {
	it, err := toItem(item)
	if err != nil {
		return err
	}
	if item.Data != nil {
		it.SetData(item.Data)
	}
	if err := gokeychain.AddItem(it); err != nil {
		return fmt.Errorf("keychain add %q: %w", item.Account, mapError(err))
	}
	return nil
}

func (s *SystemStore) Update(match Query, data []byte) error {
	match, err := s.resolve(match)
	if err != nil {
		return err
	}
	it, err := toItem(match)
	if err != nil {
		return err
	}
	update := gokeychain.NewItem()
	update.SetData(data)
	if err := gokeychain.UpdateItem(it, update); err != nil {
		return fmt.Errorf("keychain update %q: %w", match.Account, mapError(err))
	}
	return nil
}

func (s *SystemStore) Search(q Query) ([]Result, error) {
	if q.ReturnRef {
		return nil, fmt.Errorf("%w: in-memory item references", ErrUnsupported)
	}
	q, err := s.resolve(q)
	if err != nil {
		return nil, err
	}
	it, err := toItem(q)
	if err != nil {
		return nil, err
	}
	if q.MatchLimit == MatchLimitAll {
		it.SetMatchLimit(gokeychain.MatchLimitAll)
	} else {
		it.SetMatchLimit(gokeychain.MatchLimitOne)
	}
	it.SetReturnData(q.ReturnData)
	// SecItemCopyMatching reports nothing for a query without return flags,
	// and persistent refs are derived from attributes, so attributes are
	// fetched unless data alone was asked for.
	it.SetReturnAttributes(q.ReturnAttributes || q.ReturnPersistentRef || !q.ReturnData)

	found, err := gokeychain.QueryItem(it)
	if err != nil {
		return nil, fmt.Errorf("keychain search: %w", mapError(err))
	}
	if len(found) == 0 {
		return nil, ErrItemNotFound
	}

	results := make([]Result, 0, len(found))
	for _, f := range found {
		attrs := fromQueryResult(q.Class, f)
		// The search pins synchronizable, so the query's value is the
		// item's. Accessibility is not reported back by go-keychain.
		attrs.Synchronizable = q.Synchronizable

		var r Result
		if q.ReturnAttributes {
			r = attrs
		}
		if q.ReturnData {
			r.Data = f.Data
		}
		if q.ReturnPersistentRef {
			ref, err := encodeRef(refFor(q.Class, q.Synchronizable, attrs))
			if err != nil {
				return nil, err
			}
			r.PersistentRef = ref
		}
		results = append(results, r)
	}
	return results, nil
}

func (s *SystemStore) Delete(q Query) error {
	q, err := s.resolve(q)
	if err != nil {
		return err
	}
	it, err := toItem(q)
	if err != nil {
		return err
	}
	if err := gokeychain.DeleteItem(it); err != nil {
		return fmt.Errorf("keychain delete %q: %w", q.Account, mapError(err))
	}
	return nil
}

// resolve turns a persistent-ref query into one pinned on the referenced
// item's primary key. go-keychain cannot constrain an attribute to the empty
// value, so a ref whose pinned attributes still match more than one item is
// refused rather than risk touching the others.
func (s *SystemStore) resolve(q Query) (Query, error) {
	if q.PersistentRef == nil {
		return q, nil
	}
	pinned, err := resolveRef(q)
	if err != nil {
		return Query{}, err
	}
	all := Query{
		Class:              pinned.Class,
		Service:            pinned.Service,
		Account:            pinned.Account,
		AccessGroup:        pinned.AccessGroup,
		Synchronizable:     pinned.Synchronizable,
		Server:             pinned.Server,
		Protocol:           pinned.Protocol,
		Port:               pinned.Port,
		Path:               pinned.Path,
		AuthenticationType: pinned.AuthenticationType,
		MatchLimit:         MatchLimitAll,
		ReturnAttributes:   true,
	}
	candidates, err := s.Search(all)
	if err != nil {
		return Query{}, err
	}
	if len(candidates) > 1 {
		return Query{}, fmt.Errorf("%w: persistent ref matches %d items", ErrUnsupported, len(candidates))
	}
	return pinned, nil
}

func fromQueryResult(class Class, f gokeychain.QueryResult) Result {
	r := Result{
		Class:       class,
		Account:     f.Account,
		AccessGroup: f.AccessGroup,
		Label:       f.Label,
		Created:     f.CreationDate,
		Modified:    f.ModificationDate,
	}
	if class == ClassInternetPassword {
		r.Server = f.Server
		r.Protocol = f.Protocol
		r.Port = f.Port
		r.Path = f.Path
		r.AuthenticationType = f.AuthenticationType
	} else {
		r.Service = f.Service
	}
	return r
}

func toItem(q Query) (gokeychain.Item, error) {
	it := gokeychain.NewItem()
	switch q.Class {
	case ClassGenericPassword:
		it.SetSecClass(gokeychain.SecClassGenericPassword)
		if q.Service != "" {
			it.SetService(q.Service)
		}
	case ClassInternetPassword:
		it.SetSecClass(gokeychain.SecClassInternetPassword)
		if q.Server != "" {
			it.SetServer(q.Server)
		}
		if q.Protocol != "" {
			it.SetProtocol(q.Protocol)
		}
		if q.Port != 0 {
			it.SetPort(q.Port)
		}
		if q.Path != "" {
			it.SetPath(q.Path)
		}
		if q.AuthenticationType != "" {
			it.SetAuthenticationType(q.AuthenticationType)
		}
	default:
		return gokeychain.Item{}, fmt.Errorf("%w: class %q", ErrUnsupported, q.Class)
	}
	if q.Account != "" {
		it.SetAccount(q.Account)
	}
	if q.AccessGroup != "" {
		it.SetAccessGroup(q.AccessGroup)
	}
	if q.Label != "" {
		it.SetLabel(q.Label)
	}
	if q.Accessible != "" {
		acc, ok := accessibility[q.Accessible]
		if !ok {
			return gokeychain.Item{}, fmt.Errorf("%w: accessibility %q", ErrUnsupported, q.Accessible)
		}
		it.SetAccessible(acc)
	}
	if q.Synchronizable {
		it.SetSynchronizable(gokeychain.SynchronizableYes)
	} else {
		it.SetSynchronizable(gokeychain.SynchronizableNo)
	}
	return it, nil
}

var accessibility = map[Accessibility]gokeychain.Accessible{
	AccessibleWhenUnlocked:                   gokeychain.AccessibleWhenUnlocked,
	AccessibleAfterFirstUnlock:               gokeychain.AccessibleAfterFirstUnlock,
	AccessibleAlways:                         gokeychain.AccessibleAlways,
	AccessibleWhenPasscodeSetThisDeviceOnly:  gokeychain.AccessibleWhenPasscodeSetThisDeviceOnly,
	AccessibleWhenUnlockedThisDeviceOnly:     gokeychain.AccessibleWhenUnlockedThisDeviceOnly,
	AccessibleAfterFirstUnlockThisDeviceOnly: gokeychain.AccessibleAfterFirstUnlockThisDeviceOnly,
	AccessibleAlwaysThisDeviceOnly:           gokeychain.AccessibleAccessibleAlwaysThisDeviceOnly,
}

// mapError translates Keychain status codes into this package's sentinels,
// keeping the original error in the chain.
func mapError(err error) error {
	switch {
	case errors.Is(err, gokeychain.ErrorItemNotFound):
		return fmt.Errorf("%w (%v)", ErrItemNotFound, err)
	case errors.Is(err, gokeychain.ErrorDuplicateItem):
		return fmt.Errorf("%w (%v)", ErrDuplicateItem, err)
	case errors.Is(err, gokeychain.ErrorAuthFailed):
		return fmt.Errorf("%w (%v)", ErrAuthFailed, err)
	case errors.Is(err, gokeychain.ErrorInteractionNotAllowed):
		return fmt.Errorf("%w (%v)", ErrInteractionNotAllowed, err)
	}
	return err
}

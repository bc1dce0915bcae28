//go:build integration && darwin

package keychain

import (
	"errors"
	"testing"
)

// Integration tests use the real macOS Keychain.
// Run with: go test -tags integration ./internal/keychain/
//
// Requires an unlocked login Keychain and an interactive session
// (first run may prompt for Keychain access approval).

const integrationService = "com.lockbox.test"

func cleanupIntegration(t *testing.T, s *SystemStore) {
	t.Helper()
	s.Delete(Query{Class: ClassGenericPassword, Service: integrationService})
}

func TestKeychainAddAndSearch(t *testing.T) {
	s := NewSystemStore()
	defer cleanupIntegration(t, s)

	item := genericPassword(integrationService, "test/add-search")
	item.Data = []byte("hello-keychain")
	if err := s.Add(item); err != nil {
		t.Fatalf("Add: %v", err)
	}

	q := genericPassword(integrationService, "test/add-search")
	q.ReturnData = true
	results, err := s.Search(q)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if string(results[0].Data) != "hello-keychain" {
		t.Errorf("expected 'hello-keychain', got %q", results[0].Data)
	}
}

func TestKeychainDuplicate(t *testing.T) {
	s := NewSystemStore()
	defer cleanupIntegration(t, s)

	s.Add(genericPassword(integrationService, "test/dup"))
	if err := s.Add(genericPassword(integrationService, "test/dup")); !errors.Is(err, ErrDuplicateItem) {
		t.Errorf("expected ErrDuplicateItem, got %v", err)
	}
}

func TestKeychainUpdate(t *testing.T) {
	s := NewSystemStore()
	defer cleanupIntegration(t, s)

	item := genericPassword(integrationService, "test/update")
	item.Data = []byte("first")
	s.Add(item)
	if err := s.Update(genericPassword(integrationService, "test/update"), []byte("second")); err != nil {
		t.Fatalf("Update: %v", err)
	}

	q := genericPassword(integrationService, "test/update")
	q.ReturnData = true
	results, err := s.Search(q)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if string(results[0].Data) != "second" {
		t.Errorf("expected 'second', got %q", results[0].Data)
	}
}

func TestKeychainPersistentRef(t *testing.T) {
	s := NewSystemStore()
	defer cleanupIntegration(t, s)

	s.Add(genericPassword(integrationService, "test/ref-a"))
	s.Add(genericPassword(integrationService, "test/ref-b"))

	refs, err := s.Search(Query{
		Class:               ClassGenericPassword,
		Service:             integrationService,
		MatchLimit:          MatchLimitAll,
		ReturnAttributes:    true,
		ReturnPersistentRef: true,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("expected 2 results, got %d", len(refs))
	}

	byRef, err := s.Search(Query{Class: ClassGenericPassword, PersistentRef: refs[0].PersistentRef, ReturnAttributes: true})
	if err != nil {
		t.Fatalf("Search by ref: %v", err)
	}
	if byRef[0].Account != refs[0].Account {
		t.Errorf("expected %q, got %q", refs[0].Account, byRef[0].Account)
	}
}

func TestKeychainDeleteMissing(t *testing.T) {
	s := NewSystemStore()

	err := s.Delete(genericPassword(integrationService, "test/never-existed"))
	if !errors.Is(err, ErrItemNotFound) {
		t.Errorf("expected ErrItemNotFound, got %v", err)
	}
}

func TestKeychainSearchWithoutReturnFlags(t *testing.T) {
	s := NewSystemStore()
	defer cleanupIntegration(t, s)

	item := genericPassword(integrationService, "test/exists")
	item.Data = []byte("present")
	if err := s.Add(item); err != nil {
		t.Fatalf("Add: %v", err)
	}

	q := genericPassword(integrationService, "test/exists")
	q.MatchLimit = MatchLimitOne
	results, err := s.Search(q)
	if err != nil {
		t.Fatalf("expected an existence check to find the item, got %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Account != "" || results[0].Data != nil {
		t.Errorf("expected an unshaped result, got %+v", results[0])
	}
}

func TestKeychainAttributesDoNotEchoQuery(t *testing.T) {
	s := NewSystemStore()
	defer cleanupIntegration(t, s)

	item := genericPassword(integrationService, "test/attrs")
	item.Data = []byte("x")
	if err := s.Add(item); err != nil {
		t.Fatalf("Add: %v", err)
	}

	results, err := s.Search(Query{Class: ClassGenericPassword, Service: integrationService, ReturnAttributes: true})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if results[0].Accessible != "" {
		t.Errorf("expected accessibility to be left unset, got %q", results[0].Accessible)
	}
	if results[0].Account != "test/attrs" {
		t.Errorf("expected account test/attrs, got %q", results[0].Account)
	}
}

func TestKeychainInternetPasswordRefIsExact(t *testing.T) {
	s := NewSystemStore()
	const account = "lockbox-integration"
	defer s.Delete(Query{Class: ClassInternetPassword, Account: account})

	for server, label := range map[string]string{
		"a.lockbox.test": "lockbox-integration-a",
		"b.lockbox.test": "lockbox-integration-b",
	} {
		if err := s.Add(Query{
			Class:    ClassInternetPassword,
			Server:   server,
			Protocol: "htps",
			Account:  account,
			Label:    label,
			Data:     []byte("secret-" + server),
		}); err != nil {
			t.Fatalf("Add %s: %v", server, err)
		}
	}

	refs, err := s.Search(Query{
		Class:               ClassInternetPassword,
		Label:               "lockbox-integration-a",
		MatchLimit:          MatchLimitAll,
		ReturnAttributes:    true,
		ReturnPersistentRef: true,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(refs) != 1 || refs[0].Server != "a.lockbox.test" {
		t.Fatalf("expected only the a.lockbox.test item, got %+v", refs)
	}

	data, err := s.Search(Query{Class: ClassInternetPassword, PersistentRef: refs[0].PersistentRef, ReturnData: true})
	if err != nil {
		t.Fatalf("Search by ref: %v", err)
	}
	if string(data[0].Data) != "secret-a.lockbox.test" {
		t.Errorf("expected the a.lockbox.test secret, got %q", data[0].Data)
	}

	if err := s.Delete(Query{Class: ClassInternetPassword, PersistentRef: refs[0].PersistentRef}); err != nil {
		t.Fatalf("Delete by ref: %v", err)
	}
	if _, err := s.Search(Query{Class: ClassInternetPassword, Server: "b.lockbox.test", Account: account}); err != nil {
		t.Errorf("expected the b.lockbox.test item to survive, got %v", err)
	}
}

package keychain

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/benaskins/lockbox/internal/audit"
)

func setupAuditedStore(t *testing.T) (*AuditedStore, *MemoryStore, string) {
	t.Helper()
	auditPath := filepath.Join(t.TempDir(), "audit.log")

	auditLog, err := audit.NewLogger(auditPath)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	t.Cleanup(func() { auditLog.Close() })

	inner := NewMemoryStore()
	return NewAuditedStore(inner, auditLog, "cli"), inner, auditPath
}

func readAuditEntries(t *testing.T, path string) []audit.Entry {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	entries := make([]audit.Entry, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		var e audit.Entry
		json.Unmarshal([]byte(line), &e)
		entries = append(entries, e)
	}
	return entries
}

func TestAuditedStoreAddLogsWrite(t *testing.T) {
	store, _, auditPath := setupAuditedStore(t)

	item := genericPassword("svc", "test/key")
	item.Data = []byte("value")
	store.Add(item)

	entries := readAuditEntries(t, auditPath)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Action != audit.ActionItemAdd {
		t.Errorf("expected item_add, got %v", entries[0].Action)
	}
	if entries[0].Account != "test/key" {
		t.Errorf("expected test/key, got %q", entries[0].Account)
	}
	if entries[0].Actor != "cli" {
		t.Errorf("expected cli, got %q", entries[0].Actor)
	}
}

func TestAuditedStoreFailedAddRecordsError(t *testing.T) {
	store, _, auditPath := setupAuditedStore(t)

	store.Add(genericPassword("svc", "dup"))
	err := store.Add(genericPassword("svc", "dup"))
	if !errors.Is(err, ErrDuplicateItem) {
		t.Fatalf("expected ErrDuplicateItem through wrapper, got %v", err)
	}

	entries := readAuditEntries(t, auditPath)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[1].Error == "" {
		t.Error("expected error in audit entry")
	}
}

func TestAuditedStoreDataReadsAreLogged(t *testing.T) {
	store, _, auditPath := setupAuditedStore(t)

	store.Add(genericPassword("svc", "test/get"))

	// Attribute-only lookups are not recorded.
	attrs := genericPassword("svc", "test/get")
	attrs.ReturnAttributes = true
	store.Search(attrs)

	data := genericPassword("svc", "test/get")
	data.ReturnData = true
	store.Search(data)

	entries := readAuditEntries(t, auditPath)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[1].Action != audit.ActionItemRead {
		t.Errorf("expected item_read, got %v", entries[1].Action)
	}
}

func TestAuditedStoreUpdateAndDelete(t *testing.T) {
	store, inner, auditPath := setupAuditedStore(t)

	store.Add(genericPassword("svc", "test/del"))
	store.Update(genericPassword("svc", "test/del"), []byte("new"))
	store.Delete(genericPassword("svc", "test/del"))

	// Deleting a missing item is passed through and not recorded.
	if err := store.Delete(genericPassword("svc", "test/del")); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("expected ErrItemNotFound, got %v", err)
	}

	entries := readAuditEntries(t, auditPath)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[1].Action != audit.ActionItemUpdate {
		t.Errorf("expected item_update, got %v", entries[1].Action)
	}
	if entries[2].Action != audit.ActionItemDelete {
		t.Errorf("expected item_delete, got %v", entries[2].Action)
	}
	if inner.Len() != 0 {
		t.Errorf("expected inner store to be empty, got %d", inner.Len())
	}
}

func TestAuditedStoreForwardsHardwareSupport(t *testing.T) {
	store, inner, _ := setupAuditedStore(t)
	inner.SetSecureHardware(true)

	if !SupportsSecureHardware(store) {
		t.Error("expected audited store to report inner secure hardware")
	}
}

func TestAuditedStoreLogDefaultsActor(t *testing.T) {
	store, _, auditPath := setupAuditedStore(t)

	store.Log(audit.Entry{Action: audit.ActionMigrate, Count: 2})

	entries := readAuditEntries(t, auditPath)
	if entries[0].Actor != "cli" {
		t.Errorf("expected cli, got %q", entries[0].Actor)
	}
	if entries[0].Count != 2 {
		t.Errorf("expected count 2, got %d", entries[0].Count)
	}
}

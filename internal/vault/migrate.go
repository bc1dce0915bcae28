package vault

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/benaskins/lockbox/internal/audit"
	"github.com/benaskins/lockbox/internal/keychain"
)

// MigrationReport describes a migration that copied every matched item.
type MigrationReport struct {
	// Migrated lists the keys now present in the destination vault, sorted.
	Migrated []string
	// Removed counts source items deleted after the copy.
	Removed int
	// RemovalErr is set when removeOnCompletion was requested and some source
	// items could not be deleted. The copy itself still succeeded; those
	// items now exist in both places.
	RemovalErr error
}

// recorder is implemented by stores that keep an audit trail, such as
// keychain.AuditedStore.
type recorder interface {
	Log(entry audit.Entry)
}

type stagedItem struct {
	key  string
	data []byte
	ref  []byte
}

// Migrate copies every item matched by source into v, keyed by each item's
// account attribute. If removeOnCompletion is set, the source items are
// deleted once all of them have been copied.
//
// source must name a class, must not limit matches to one, and must ask for
// attributes and persistent references but neither data nor plain refs;
// otherwise Migrate fails with ErrInvalidQuery without touching the store.
// Secret bytes are fetched one item at a time by persistent reference.
//
// Either every matched item ends up in v or none do. A key that appears twice
// in the matches, or that v already holds, fails the whole migration with
// ErrDuplicateKey before anything is written. Existing vault items are never
// overwritten: items are created, not upserted, so a key another writer adds
// while the migration runs also fails it with ErrDuplicateKey and keeps the
// other writer's value.
//
// On a failed write only the items this migration created are removed. If
// that removal itself fails, the returned error carries the rollback errors
// too, and the vault may hold part of the batch.
func (v *Vault) Migrate(source keychain.Query, removeOnCompletion bool) (*MigrationReport, error) {
	log := slog.With("vault", v.id.String())

	log.Debug("migration", "phase", "validating")
	if err := validateMigrationQuery(source); err != nil {
		return nil, err
	}

	report, err := v.migrate(log, source, removeOnCompletion)
	v.record(report, err)
	if err != nil {
		log.Debug("migration failed", "code", CodeOf(err).String(), "error", err)
		return nil, err
	}
	log.Info("migration complete", "migrated", len(report.Migrated), "removed", report.Removed)
	return report, nil
}

// MigrateFrom moves every item of src into v. It is Migrate with src's
// namespace as the source query.
func (v *Vault) MigrateFrom(src *Vault, removeOnCompletion bool) (*MigrationReport, error) {
	if src == nil || src.Equal(v) {
		return nil, &Error{Code: CodeInvalidQuery, Op: "migrate", Err: errors.New("source and destination are the same vault")}
	}
	q := src.base
	q.MatchLimit = keychain.MatchLimitAll
	q.ReturnAttributes = true
	q.ReturnPersistentRef = true
	return v.Migrate(q, removeOnCompletion)
}

func validateMigrationQuery(q keychain.Query) error {
	invalid := func(reason string) error {
		return &Error{Code: CodeInvalidQuery, Op: "migrate", Err: errors.New(reason)}
	}
	switch {
	case q.Class == "":
		return invalid("query has no class")
	case q.MatchLimit == keychain.MatchLimitOne:
		return invalid("query limits matches to one")
	case q.ReturnData:
		return invalid("query returns data")
	case q.ReturnRef:
		return invalid("query returns item references")
	case !q.ReturnAttributes:
		return invalid("query does not return attributes")
	case !q.ReturnPersistentRef:
		return invalid("query does not return persistent references")
	}
	return nil
}

func (v *Vault) migrate(log *slog.Logger, source keychain.Query, removeOnCompletion bool) (*MigrationReport, error) {
	log.Debug("migration", "phase", "querying")
	source.MatchLimit = keychain.MatchLimitAll
	matches, err := v.store.Search(source)
	if err != nil && !errors.Is(err, keychain.ErrItemNotFound) {
		return nil, storeError("migrate", "", err)
	}
	// A previous access probe on a lockbox source leaves its canary behind.
	// It is not data.
	matches = dropCanary(matches)
	if len(matches) == 0 {
		return nil, &Error{Code: CodeNoItemsToMigrate, Op: "migrate"}
	}

	log.Debug("migration", "phase", "fetching", "matches", len(matches))
	staged, err := v.stage(source.Class, matches)
	if err != nil {
		return nil, err
	}

	log.Debug("migration", "phase", "writing", "items", len(staged))
	if !v.CanAccess() {
		return nil, storeError("migrate", "", errors.New("destination vault is not writable"))
	}
	written := make([]string, 0, len(staged))
	for _, it := range staged {
		err := v.store.Add(v.newItem(it.key, it.data))
		if err == nil {
			written = append(written, it.key)
			continue
		}
		code := CodeStore
		if errors.Is(err, keychain.ErrDuplicateItem) {
			code = CodeDuplicateKey
			err = fmt.Errorf("key was added to vault during migration: %w", err)
		}
		if rbErr := v.rollback(log, written); rbErr != nil {
			err = errors.Join(err, rbErr)
		}
		return nil, &Error{Code: code, Op: "migrate", Key: it.key, Err: err}
	}
	sort.Strings(written)
	report := &MigrationReport{Migrated: written}

	if removeOnCompletion {
		log.Debug("migration", "phase", "deleting")
		report.Removed, report.RemovalErr = v.removeSources(source.Class, staged)
		if report.RemovalErr != nil {
			log.Warn("migrated items could not all be removed from source",
				"removed", report.Removed, "total", len(staged), "error", report.RemovalErr)
		}
	}
	return report, nil
}

// stage resolves every match to a key and its secret bytes, and checks for
// collisions. Nothing is written.
func (v *Vault) stage(class keychain.Class, matches []keychain.Result) ([]stagedItem, error) {
	staged := make([]stagedItem, 0, len(matches))
	seen := make(map[string]bool, len(matches))
	for _, m := range matches {
		key := m.Account
		if key == "" || strings.ContainsRune(key, 0) {
			return nil, &Error{Code: CodeInvalidKey, Op: "migrate", Key: key, Err: errors.New("matched item has no usable account")}
		}
		if len(m.PersistentRef) == 0 {
			return nil, storeError("migrate", key, errors.New("matched item has no persistent reference"))
		}
		if seen[key] {
			return nil, &Error{Code: CodeDuplicateKey, Op: "migrate", Key: key, Err: errors.New("key matched more than once")}
		}
		seen[key] = true

		exists, err := v.contains(key)
		if err != nil {
			return nil, &Error{Code: CodeStore, Op: "migrate", Key: key, Err: cause(err)}
		}
		if exists {
			return nil, &Error{Code: CodeDuplicateKey, Op: "migrate", Key: key, Err: errors.New("key already exists in vault")}
		}

		data, err := v.fetch(class, m.PersistentRef)
		if err != nil {
			return nil, storeError("migrate", key, err)
		}
		staged = append(staged, stagedItem{key: key, data: data, ref: m.PersistentRef})
	}
	return staged, nil
}

func (v *Vault) fetch(class keychain.Class, ref []byte) ([]byte, error) {
	results, err := v.store.Search(keychain.Query{
		Class:         class,
		PersistentRef: ref,
		MatchLimit:    keychain.MatchLimitOne,
		ReturnData:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("fetching by persistent reference: %w", err)
	}
	if len(results[0].Data) == 0 {
		return nil, errors.New("matched item has no data")
	}
	return results[0].Data, nil
}

// rollback removes the items a failed migration created.
func (v *Vault) rollback(log *slog.Logger, keys []string) error {
	var errs []error
	for _, key := range keys {
		if err := v.remove(key); err != nil {
			log.Error("rolling back migrated item", "key", key, "error", err)
			errs = append(errs, fmt.Errorf("rolling back %q: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

func (v *Vault) removeSources(class keychain.Class, staged []stagedItem) (int, error) {
	removed := 0
	var errs []error
	for _, it := range staged {
		err := v.store.Delete(keychain.Query{Class: class, PersistentRef: it.ref})
		if err != nil && !errors.Is(err, keychain.ErrItemNotFound) {
			errs = append(errs, fmt.Errorf("removing %q: %w", it.key, err))
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

func (v *Vault) record(report *MigrationReport, err error) {
	r, ok := v.store.(recorder)
	if !ok {
		return
	}
	e := audit.Entry{
		Action:      audit.ActionMigrate,
		Service:     v.base.Service,
		AccessGroup: v.base.AccessGroup,
	}
	if report != nil {
		e.Count = len(report.Migrated)
	}
	if err != nil {
		e.Error = err.Error()
	}
	r.Log(e)
}

func dropCanary(matches []keychain.Result) []keychain.Result {
	kept := matches[:0]
	for _, m := range matches {
		if m.Account != canaryKey {
			kept = append(kept, m)
		}
	}
	return kept
}

// cause strips a vault *Error so it can be rewrapped under another op.
func cause(err error) error {
	var e *Error
	if errors.As(err, &e) && e.Err != nil {
		return e.Err
	}
	return err
}

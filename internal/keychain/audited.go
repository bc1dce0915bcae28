package keychain

import (
	"fmt"

	"github.com/benaskins/lockbox/internal/audit"
)

// AuditedStore wraps a Store and records every mutation, and every search that
// returns secret bytes, to an audit log.
type AuditedStore struct {
	inner Store
	audit *audit.Logger
	actor string // "cli" or "library"
}

// NewAuditedStore wraps an existing store with audit logging.
func NewAuditedStore(inner Store, auditLog *audit.Logger, actor string) *AuditedStore {
	return &AuditedStore{
		inner: inner,
		audit: auditLog,
		actor: actor,
	}
}

// SupportsSecureHardware forwards to the wrapped store.
func (s *AuditedStore) SupportsSecureHardware() bool {
	return SupportsSecureHardware(s.inner)
}

func (s *AuditedStore) Add(item Query) error {
	err := s.inner.Add(item)
	s.log(audit.ActionItemAdd, item, err)
	if err != nil {
		return fmt.Errorf("audited store add: %w", err)
	}
	return nil
}

func (s *AuditedStore) Update(match Query, data []byte) error {
	err := s.inner.Update(match, data)
	s.log(audit.ActionItemUpdate, match, err)
	if err != nil {
		return fmt.Errorf("audited store update: %w", err)
	}
	return nil
}

func (s *AuditedStore) Search(q Query) ([]Result, error) {
	results, err := s.inner.Search(q)
	if err != nil {
		return nil, fmt.Errorf("audited store search: %w", err)
	}
	// Attribute-only lookups carry no secret bytes and are not recorded.
	if q.ReturnData {
		for _, r := range results {
			e := q
			if r.Account != "" {
				e.Account = r.Account
			}
			s.log(audit.ActionItemRead, e, nil)
		}
	}
	return results, nil
}

func (s *AuditedStore) Delete(q Query) error {
	err := s.inner.Delete(q)
	if err == nil {
		s.log(audit.ActionItemDelete, q, nil)
		return nil
	}
	return fmt.Errorf("audited store delete: %w", err)
}

// Log records a caller-level event, such as a completed migration.
func (s *AuditedStore) Log(entry audit.Entry) {
	if entry.Actor == "" {
		entry.Actor = s.actor
	}
	// Audit logging is best-effort; a failure to log should not block the operation.
	_ = s.audit.Log(entry)
}

func (s *AuditedStore) log(action audit.Action, q Query, err error) {
	e := audit.Entry{
		Action:      action,
		Service:     q.Service,
		Account:     q.Account,
		AccessGroup: q.AccessGroup,
	}
	if err != nil {
		e.Error = err.Error()
	}
	s.Log(e)
}

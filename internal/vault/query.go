package vault

import (
	"strings"

	"github.com/benaskins/lockbox/internal/keychain"
)

// Service prefixes for every Keychain item lockbox owns. Shared vaults get
// their own prefix because a query without an access group matches items in
// every group the process can reach.
const (
	servicePrefix       = "lockbox"
	sharedServicePrefix = "lockbox-shared"
)

// BaseQuery returns the predicate that selects exactly the items belonging to
// the vault with identity id. It carries only matching attributes; callers
// add limits and return flags per operation.
//
// Kind, name and policy are all folded into the service attribute so that
// vaults differing in any of them land in disjoint namespaces even on stores
// that ignore the accessibility attribute when matching. The shared group is
// matched through the access group attribute.
func BaseQuery(id Identity) keychain.Query {
	acc, _ := id.Policy.accessibility()
	return keychain.Query{
		Class:          keychain.ClassGenericPassword,
		Service:        serviceName(id),
		AccessGroup:    id.SharedGroup,
		Accessible:     acc,
		Synchronizable: id.Kind == KindSynchronizable,
	}
}

func serviceName(id Identity) string {
	prefix := servicePrefix
	if id.SharedGroup != "" {
		prefix = sharedServicePrefix
	}
	return strings.Join([]string{prefix, id.Kind.String(), id.Name, id.Policy.String()}, ".")
}

func (v *Vault) itemQuery(key string) keychain.Query {
	q := v.base
	q.Account = key
	return q
}

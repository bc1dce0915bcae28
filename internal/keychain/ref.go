package keychain

import (
	"encoding/json"
	"fmt"
)

// systemRef is the durable reference SystemStore hands out: the item's full
// primary key for its class, so resolving it can only ever select that one
// item.
type systemRef struct {
	Class          Class  `json:"c"`
	Service        string `json:"s,omitempty"`
	Account        string `json:"a"`
	AccessGroup    string `json:"g,omitempty"`
	Synchronizable bool   `json:"y,omitempty"`

	Server             string `json:"sv,omitempty"`
	Protocol           string `json:"pr,omitempty"`
	Port               int32  `json:"po,omitempty"`
	Path               string `json:"pa,omitempty"`
	AuthenticationType string `json:"at,omitempty"`
}

// refFor builds the reference for an item found by a search in class with
// the given synchronizable constraint.
func refFor(class Class, synchronizable bool, r Result) systemRef {
	ref := systemRef{
		Class:          class,
		Account:        r.Account,
		AccessGroup:    r.AccessGroup,
		Synchronizable: synchronizable,
	}
	if class == ClassInternetPassword {
		ref.Server = r.Server
		ref.Protocol = r.Protocol
		ref.Port = r.Port
		ref.Path = r.Path
		ref.AuthenticationType = r.AuthenticationType
	} else {
		ref.Service = r.Service
	}
	return ref
}

func encodeRef(r systemRef) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encoding persistent ref: %w", err)
	}
	return data, nil
}

// resolveRef replaces q's persistent ref with the primary key it encodes.
// A ref that contradicts an attribute q already pins matches nothing.
func resolveRef(q Query) (Query, error) {
	var ref systemRef
	if err := json.Unmarshal(q.PersistentRef, &ref); err != nil {
		return Query{}, fmt.Errorf("%w: malformed persistent ref", ErrItemNotFound)
	}
	key := Query{
		Class:              ref.Class,
		Service:            ref.Service,
		Account:            ref.Account,
		AccessGroup:        ref.AccessGroup,
		Synchronizable:     ref.Synchronizable,
		Server:             ref.Server,
		Protocol:           ref.Protocol,
		Port:               ref.Port,
		Path:               ref.Path,
		AuthenticationType: ref.AuthenticationType,
	}
	if conflicts(q, key) {
		return Query{}, ErrItemNotFound
	}

	q.PersistentRef = nil
	q.Class = key.Class
	q.Service = key.Service
	q.Account = key.Account
	q.AccessGroup = key.AccessGroup
	q.Synchronizable = key.Synchronizable
	q.Server = key.Server
	q.Protocol = key.Protocol
	q.Port = key.Port
	q.Path = key.Path
	q.AuthenticationType = key.AuthenticationType
	return q, nil
}

func conflicts(q, key Query) bool {
	differs := func(set, want string) bool { return set != "" && set != want }
	return differs(string(q.Class), string(key.Class)) ||
		differs(q.Service, key.Service) ||
		differs(q.Account, key.Account) ||
		differs(q.AccessGroup, key.AccessGroup) ||
		differs(q.Server, key.Server) ||
		differs(q.Protocol, key.Protocol) ||
		differs(q.Path, key.Path) ||
		differs(q.AuthenticationType, key.AuthenticationType) ||
		(q.Port != 0 && q.Port != key.Port)
}

package acl

import (
	"context"
	"strconv"

	"github.com/nyxmail/corestore/internal/store/document"
	"github.com/nyxmail/corestore/internal/store/keycodec"
	"github.com/nyxmail/corestore/internal/store/kv"
	"github.com/nyxmail/corestore/internal/store/schema"
	"github.com/nyxmail/corestore/pkg/storeerr"
)

// DirectoryAccount is the reserved account id whose Principal collection
// holds every principal document cluster-wide: principals are resolved
// independently of the mail account they describe, so they can't live in
// the per-account keyspace the rest of the document model uses.
const DirectoryAccount uint32 = 0

// Grants is a decoded ACL entry map: grantee principal id to the
// capability bitmask held on the document it was read from.
type Grants map[uint32]Capability

// DecodeGrants reconstructs a Grants map from a TypeObject property
// value written by EncodeGrants. A non-object or malformed value decodes
// to an empty map rather than erroring, consistent with "no ACL entries"
// being indistinguishable from "not-yet-set".
func DecodeGrants(v document.Value) Grants {
	g := make(Grants, len(v.Obj))
	for k, raw := range v.Obj {
		id, err := strconv.ParseUint(k, 10, 32)
		if err != nil {
			continue
		}
		mask, ok := raw.(uint64)
		if !ok {
			continue
		}
		g[uint32(id)] = Capability(mask)
	}
	return g
}

// EncodeGrants serializes a Grants map into the TypeObject property value
// the write pipeline stores verbatim.
func EncodeGrants(g Grants) document.Value {
	obj := make(map[string]any, len(g))
	for id, mask := range g {
		obj[strconv.FormatUint(uint64(id), 10)] = uint64(mask)
	}
	return document.Value{Type: schema.TypeObject, Obj: obj}
}

// ContainerResolver reports the container collection and document ids a
// document belongs to, for the second step of the ACL walk (e.g. a mail
// document's containing mailboxes). A collection with no notion of a
// container (Mailbox itself, Principal) returns ok=false.
type ContainerResolver func(doc *document.Document) (collection schema.Collection, ids []uint32, ok bool)

// Resolver evaluates ACL checks and resolves principals against the
// directory; it backs the protocol-facing principal lookup, recipient
// expansion, and authentication operations.
type Resolver struct {
	kv         kv.Engine
	schemas    *schema.Registry
	containers map[schema.Collection]ContainerResolver
}

// New wires a Resolver from its dependencies. containers registers the
// per-collection container lookups the ACL walk consults; collections
// absent from the map are treated as containerless.
func New(kvEngine kv.Engine, schemas *schema.Registry, containers map[schema.Collection]ContainerResolver) *Resolver {
	return &Resolver{kv: kvEngine, schemas: schemas, containers: containers}
}

// MailboxContainer is the ContainerResolver for the Mail collection:
// a mail's containers are the mailboxes named by its mailboxIds tag set.
func MailboxContainer(field schema.PropertyID) ContainerResolver {
	return func(doc *document.Document) (schema.Collection, []uint32, bool) {
		v, ok := doc.Properties[field]
		if !ok || len(v.Tags) == 0 {
			return 0, nil, false
		}
		ids := make([]uint32, 0, len(v.Tags))
		for _, t := range v.Tags {
			id, err := strconv.ParseUint(t, 10, 32)
			if err != nil {
				continue
			}
			ids = append(ids, uint32(id))
		}
		if len(ids) == 0 {
			return 0, nil, false
		}
		return schema.CollectionMailbox, ids, true
	}
}

func (r *Resolver) loadDocument(ctx context.Context, account uint32, collection schema.Collection, id uint32) (*document.Document, error) {
	raw, err := r.kv.Get(ctx, keycodec.Values(account, byte(collection), id, 0xFF))
	if err == kv.ErrKeyNotFound {
		return nil, storeerr.ErrDocumentNotFound
	}
	if err != nil {
		return nil, storeerr.ErrStorageUnavailable.WithCause(err)
	}
	return document.Decode(account, collection, id, raw)
}

func aclField(collection schema.Collection) (schema.PropertyID, bool) {
	switch collection {
	case schema.CollectionMailbox:
		return schema.PropMailboxACL, true
	case schema.CollectionPrincipal:
		return schema.PropPrincipalACL, true
	default:
		return 0, false
	}
}

// Check walks the direct ACL on (collection, documentID), then its
// containers' ACLs, then the group-membership closure of each grantee,
// and returns ErrPermissionDenied unless the union of matching grants
// holds every bit of required.
func (r *Resolver) Check(ctx context.Context, account uint32, principal uint32, collection schema.Collection, documentID uint32, required Capability) error {
	doc, err := r.loadDocument(ctx, account, collection, documentID)
	if err != nil {
		return err
	}

	granted, err := r.grantedCapabilities(ctx, account, collection, doc, principal)
	if err != nil {
		return err
	}

	if resolve, ok := r.containers[collection]; ok {
		if containerColl, ids, ok := resolve(doc); ok {
			for _, cid := range ids {
				cdoc, err := r.loadDocument(ctx, account, containerColl, cid)
				if err != nil {
					if storeerr.Is(err, storeerr.KindNotFound) {
						continue
					}
					return err
				}
				cgrants, err := r.grantedCapabilities(ctx, account, containerColl, cdoc, principal)
				if err != nil {
					return err
				}
				granted |= cgrants
			}
		}
	}

	if !Has(granted, required) {
		return storeerr.ErrPermissionDenied.WithDetails("missing capability " + required.String())
	}
	return nil
}

// grantedCapabilities unions every grant on doc's ACL field whose
// grantee is principal or a group principal's transitively contains it.
func (r *Resolver) grantedCapabilities(ctx context.Context, account uint32, collection schema.Collection, doc *document.Document, principal uint32) (Capability, error) {
	field, ok := aclField(collection)
	if !ok {
		return 0, nil
	}
	v, ok := doc.Properties[field]
	if !ok {
		return 0, nil
	}
	grants := DecodeGrants(v)

	var granted Capability
	for grantee, mask := range grants {
		if mask == 0 {
			continue
		}
		if grantee == principal {
			granted |= mask
			continue
		}
		isMember, err := r.isGroupMember(ctx, grantee, principal, make(map[uint32]bool))
		if err != nil {
			return 0, err
		}
		if isMember {
			granted |= mask
		}
	}
	return granted, nil
}

// isGroupMember reports whether principal is a (possibly transitive)
// member of the group principal group. visited guards against membership
// cycles between groups.
func (r *Resolver) isGroupMember(ctx context.Context, group, principal uint32, visited map[uint32]bool) (bool, error) {
	if visited[group] {
		return false, nil
	}
	visited[group] = true

	doc, err := r.loadDocument(ctx, DirectoryAccount, schema.CollectionPrincipal, group)
	if err != nil {
		if storeerr.Is(err, storeerr.KindNotFound) {
			return false, nil
		}
		return false, err
	}
	members, ok := doc.Properties[schema.PropPrincipalMembers]
	if !ok {
		return false, nil
	}
	for k := range members.Obj {
		id, err := strconv.ParseUint(k, 10, 32)
		if err != nil {
			continue
		}
		memberID := uint32(id)
		if memberID == principal {
			return true, nil
		}
		isSub, err := r.isGroupMember(ctx, memberID, principal, visited)
		if err != nil {
			return false, err
		}
		if isSub {
			return true, nil
		}
	}
	return false, nil
}

package acl

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/nyxmail/corestore/internal/store/document"
	"github.com/nyxmail/corestore/internal/store/query"
	"github.com/nyxmail/corestore/internal/store/schema"
	"github.com/nyxmail/corestore/pkg/storeerr"
)

// Principal types, a closed set.
const (
	TypeIndividual = "individual"
	TypeGroup      = "group"
	TypeResource   = "resource"
	TypeLocation   = "location"
	TypeDomain     = "domain"
	TypeList       = "list"
	TypeOther      = "other"
)

// argon2id parameters: memory=16384 KiB, time=2, parallelism=2.
const (
	argonTime    = 2
	argonMemory  = 16384
	argonThreads = 2
	argonKeyLen  = 32
	argonSaltLen = 16
)

// PrincipalResolver looks up and authenticates principals against the
// directory account's Principal collection, backed by the query engine
// for indexed lookups.
type PrincipalResolver struct {
	r  *Resolver
	qe *query.Engine
}

// NewPrincipalResolver wires a PrincipalResolver from an ACL Resolver (for
// document loading) and the query engine (for indexed email/name lookup).
func NewPrincipalResolver(r *Resolver, qe *query.Engine) *PrincipalResolver {
	return &PrincipalResolver{r: r, qe: qe}
}

// PrincipalToID resolves a normalized email address to the principal
// (account) id it names. Direct email match is an indexed range lookup;
// a miss falls back to a directory scan over each principal's alias set,
// since Aliases carries no range index (schema.PropPrincipalAliases is
// OptStore-only — the directory is small enough that this is cheap).
func (p *PrincipalResolver) PrincipalToID(ctx context.Context, email string) (uint32, error) {
	email = normalizeEmail(email)
	if email == "" {
		return 0, storeerr.ErrInvalidProperty.WithDetails("malformed email address")
	}

	if id, ok, err := p.lookupByEmail(ctx, email); err != nil {
		return 0, err
	} else if ok {
		return id, nil
	}

	id, ok, err := p.scanAliases(ctx, email)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, storeerr.ErrPrincipalNotFound
	}
	return id, nil
}

// PrincipalToEmail resolves a principal id to its primary email address.
func (p *PrincipalResolver) PrincipalToEmail(ctx context.Context, principalID uint32) (string, error) {
	doc, err := p.r.loadDocument(ctx, DirectoryAccount, schema.CollectionPrincipal, principalID)
	if err != nil {
		return "", err
	}
	v, ok := doc.Properties[schema.PropPrincipalEmail]
	if !ok {
		return "", storeerr.ErrPrincipalNotFound.WithDetails("principal has no email")
	}
	return v.Text, nil
}

// ExpandRecipient resolves a normalized email to the account ids that
// should receive mail sent to it: one id for an individual or alias, the
// member ids for a list, and ErrPrincipalNotFound for an unknown address.
func (p *PrincipalResolver) ExpandRecipient(ctx context.Context, email string) ([]uint32, error) {
	id, err := p.PrincipalToID(ctx, email)
	if err != nil {
		return nil, err
	}
	doc, err := p.r.loadDocument(ctx, DirectoryAccount, schema.CollectionPrincipal, id)
	if err != nil {
		return nil, err
	}
	typ := doc.Properties[schema.PropPrincipalType].Text

	if typ != TypeList {
		return []uint32{id}, nil
	}

	members := doc.Properties[schema.PropPrincipalMembers]
	ids := make([]uint32, 0, len(members.Obj))
	for k := range members.Obj {
		mid, err := strconv.ParseUint(k, 10, 32)
		if err != nil {
			continue
		}
		ids = append(ids, uint32(mid))
	}
	return ids, nil
}

// Authenticate verifies secret against the principal named by email and
// returns its account id, or ErrPermissionDenied on any mismatch
// (unknown principal and wrong secret are deliberately indistinguishable
// to the caller, so failed logins don't leak which emails are registered).
func (p *PrincipalResolver) Authenticate(ctx context.Context, email, secret string) (uint32, error) {
	id, err := p.PrincipalToID(ctx, email)
	if err != nil {
		return 0, storeerr.ErrPermissionDenied.WithDetails("invalid credentials")
	}
	doc, err := p.r.loadDocument(ctx, DirectoryAccount, schema.CollectionPrincipal, id)
	if err != nil {
		return 0, storeerr.ErrPermissionDenied.WithDetails("invalid credentials")
	}
	hash := doc.Properties[schema.PropPrincipalSecret].Text
	if hash == "" || !verifySecret(secret, hash) {
		return 0, storeerr.ErrPermissionDenied.WithDetails("invalid credentials")
	}
	return id, nil
}

// HashSecret produces the $argon2id$... encoded secret hash stored under
// schema.PropPrincipalSecret.
func HashSecret(secret string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", storeerr.ErrInternal.WithCause(err)
	}
	hash := argon2.IDKey([]byte(secret), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

func verifySecret(secret, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}
	computed := argon2.IDKey([]byte(secret), salt, argonTime, argonMemory, argonThreads, uint32(len(expected)))
	return subtle.ConstantTimeCompare(computed, expected) == 1
}

func (p *PrincipalResolver) lookupByEmail(ctx context.Context, email string) (uint32, bool, error) {
	filter := query.Leaf(query.Range(schema.PropPrincipalEmail, query.RangeEQ, document.TextValue(email)))
	res, err := p.qe.Query(ctx, DirectoryAccount, schema.CollectionPrincipal, filter, nil, query.Page{Limit: 1})
	if err != nil {
		return 0, false, err
	}
	if len(res.DocumentIDs) == 0 {
		return 0, false, nil
	}
	return res.DocumentIDs[0], true, nil
}

func (p *PrincipalResolver) scanAliases(ctx context.Context, email string) (uint32, bool, error) {
	res, err := p.qe.Query(ctx, DirectoryAccount, schema.CollectionPrincipal, nil, nil, query.Page{})
	if err != nil {
		return 0, false, err
	}
	for _, id := range res.DocumentIDs {
		doc, err := p.r.loadDocument(ctx, DirectoryAccount, schema.CollectionPrincipal, id)
		if err != nil {
			continue
		}
		aliases := doc.Properties[schema.PropPrincipalAliases]
		for k := range aliases.Obj {
			if normalizeEmail(k) == email {
				return id, true, nil
			}
		}
	}
	return 0, false, nil
}

func normalizeEmail(email string) string {
	email = strings.TrimSpace(email)
	if !strings.Contains(email, "@") {
		return ""
	}
	return strings.ToLower(email)
}

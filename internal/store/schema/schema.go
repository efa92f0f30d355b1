// Package schema declares the closed set of collections and, per
// collection, the typed property table the document/ORM and write pipeline
// validate against. A schema resolves "is this property required", "is it
// indexed, and how", and "what's the collection's byte id" at construction
// time rather than through a generic trait, per the re-architecture note
// on polymorphism over "Object".
package schema

// Collection is the closed set of object kinds, one byte id each.
type Collection byte

const (
	CollectionMail             Collection = 'M'
	CollectionMailbox          Collection = 'X'
	CollectionThread           Collection = 'T'
	CollectionIdentity         Collection = 'I'
	CollectionEmailSubmission  Collection = 'S'
	CollectionVacationResponse Collection = 'V'
	CollectionPushSubscription Collection = 'P'
	CollectionPrincipal        Collection = 'R'
	CollectionSieveScript      Collection = 'Z'
)

func (c Collection) String() string {
	switch c {
	case CollectionMail:
		return "Mail"
	case CollectionMailbox:
		return "Mailbox"
	case CollectionThread:
		return "Thread"
	case CollectionIdentity:
		return "Identity"
	case CollectionEmailSubmission:
		return "EmailSubmission"
	case CollectionVacationResponse:
		return "VacationResponse"
	case CollectionPushSubscription:
		return "PushSubscription"
	case CollectionPrincipal:
		return "Principal"
	case CollectionSieveScript:
		return "SieveScript"
	default:
		return "Unknown"
	}
}

// AllCollections enumerates the closed set, used by bootstrap and by tests
// that walk every collection.
var AllCollections = []Collection{
	CollectionMail, CollectionMailbox, CollectionThread, CollectionIdentity,
	CollectionEmailSubmission, CollectionVacationResponse,
	CollectionPushSubscription, CollectionPrincipal, CollectionSieveScript,
}

// Bit returns the collection's position within AllCollections, its bit
// index in the compact collection masks the Raft log entry format uses.
func (c Collection) Bit() (uint, bool) {
	for i, x := range AllCollections {
		if x == c {
			return uint(i), true
		}
	}
	return 0, false
}

// CollectionFromBit reverses Bit.
func CollectionFromBit(i uint) (Collection, bool) {
	if int(i) >= len(AllCollections) {
		return 0, false
	}
	return AllCollections[i], true
}

// PropertyType is the closed set of typed-value kinds a property may hold.
type PropertyType byte

const (
	TypeText PropertyType = iota
	TypeUint
	TypeInt
	TypeFloat
	TypeBool
	TypeObject
	TypeBlobRef
	TypeNull
)

// IndexKind selects which derived structure(s) a property populates.
// Options compose as a bitmask: a property may be both TOKENIZE and STORE.
type IndexKind uint8

const IndexNone IndexKind = 0

const (
	// OptKeyword indexes the raw value as a single bitmap term (e.g. a flag name).
	OptKeyword IndexKind = 1 << iota
	// OptTokenize splits the value into words and indexes each as an exact+stemmed posting.
	OptTokenize
	// OptFullText additionally builds a term-position blob enabling phrase search.
	OptFullText
	// OptStore writes the raw value into Values (retrievable via get_document_value).
	OptStore
	// OptSortIndex writes a big-endian Indexes entry enabling range scans and sort.
	OptSortIndex
)

// PropertyID identifies a schema-declared field of a document by a small integer.
type PropertyID uint8

// PartID identifies which sub-part of a document a tokenized field belongs
// to (e.g. subject vs body vs attachment), carried on each Token.
type PartID uint8

// FieldSchema declares one property's type and indexing behavior.
type FieldSchema struct {
	ID       PropertyID
	Name     string
	Type     PropertyType
	Options  IndexKind
	Required bool
	PartID   PartID // meaningful only when OptTokenize|OptFullText is set
}

// CollectionSchema is the per-collection descriptor resolved at
// construction time: required properties, indexed properties with their
// options flags, and the collection constant.
type CollectionSchema struct {
	Collection Collection
	Fields     map[PropertyID]FieldSchema
}

// Field looks up a property by id.
func (s *CollectionSchema) Field(id PropertyID) (FieldSchema, bool) {
	f, ok := s.Fields[id]
	return f, ok
}

// RequiredFields returns the ids of every property this collection requires on insert.
func (s *CollectionSchema) RequiredFields() []PropertyID {
	var out []PropertyID
	for id, f := range s.Fields {
		if f.Required {
			out = append(out, id)
		}
	}
	return out
}

// Registry maps each collection to its schema, built once at process start.
type Registry struct {
	schemas map[Collection]*CollectionSchema
}

// NewRegistry builds the closed registry of all nine collection schemas.
func NewRegistry() *Registry {
	r := &Registry{schemas: make(map[Collection]*CollectionSchema, len(AllCollections))}
	r.schemas[CollectionMail] = mailSchema()
	r.schemas[CollectionMailbox] = mailboxSchema()
	r.schemas[CollectionThread] = threadSchema()
	r.schemas[CollectionIdentity] = identitySchema()
	r.schemas[CollectionEmailSubmission] = emailSubmissionSchema()
	r.schemas[CollectionVacationResponse] = vacationResponseSchema()
	r.schemas[CollectionPushSubscription] = pushSubscriptionSchema()
	r.schemas[CollectionPrincipal] = principalSchema()
	r.schemas[CollectionSieveScript] = sieveScriptSchema()
	return r
}

// Get returns the schema for a collection, or nil if unknown.
func (r *Registry) Get(c Collection) *CollectionSchema { return r.schemas[c] }

// Mail property ids.
const (
	PropMailSubject PropertyID = iota
	PropMailFrom
	PropMailTo
	PropMailBody
	PropMailReceivedAt
	PropMailSize
	PropMailMessageID
	PropMailThreadID
	PropMailMailboxIDs // tag field: mailbox membership
	PropMailKeywords   // tag field: $seen, $flagged, ...
	PropMailBlobID
)

func mailSchema() *CollectionSchema {
	return &CollectionSchema{
		Collection: CollectionMail,
		Fields: map[PropertyID]FieldSchema{
			PropMailSubject:    {ID: PropMailSubject, Name: "subject", Type: TypeText, Options: OptTokenize | OptFullText | OptStore, PartID: 0, Required: false},
			PropMailFrom:       {ID: PropMailFrom, Name: "from", Type: TypeText, Options: OptTokenize | OptStore, Required: true},
			PropMailTo:         {ID: PropMailTo, Name: "to", Type: TypeText, Options: OptTokenize | OptStore},
			PropMailBody:       {ID: PropMailBody, Name: "body", Type: TypeText, Options: OptTokenize | OptFullText, PartID: 1},
			PropMailReceivedAt: {ID: PropMailReceivedAt, Name: "receivedAt", Type: TypeUint, Options: OptSortIndex | OptStore, Required: true},
			PropMailSize:       {ID: PropMailSize, Name: "size", Type: TypeUint, Options: OptSortIndex | OptStore},
			PropMailMessageID:  {ID: PropMailMessageID, Name: "messageId", Type: TypeText, Options: OptStore, Required: true},
			PropMailThreadID:   {ID: PropMailThreadID, Name: "threadId", Type: TypeUint, Options: OptSortIndex | OptStore, Required: true},
			PropMailMailboxIDs: {ID: PropMailMailboxIDs, Name: "mailboxIds", Type: TypeUint, Options: OptKeyword},
			PropMailKeywords:   {ID: PropMailKeywords, Name: "keywords", Type: TypeText, Options: OptKeyword},
			PropMailBlobID:     {ID: PropMailBlobID, Name: "blobId", Type: TypeBlobRef, Options: OptStore, Required: true},
		},
	}
}

// Mailbox property ids.
const (
	PropMailboxName PropertyID = iota
	PropMailboxParentID
	PropMailboxRole
	PropMailboxSortOrder
	PropMailboxACL
)

func mailboxSchema() *CollectionSchema {
	return &CollectionSchema{
		Collection: CollectionMailbox,
		Fields: map[PropertyID]FieldSchema{
			PropMailboxName:      {ID: PropMailboxName, Name: "name", Type: TypeText, Options: OptStore | OptSortIndex, Required: true},
			PropMailboxParentID:  {ID: PropMailboxParentID, Name: "parentId", Type: TypeUint, Options: OptStore | OptSortIndex},
			PropMailboxRole:      {ID: PropMailboxRole, Name: "role", Type: TypeText, Options: OptStore | OptKeyword},
			PropMailboxSortOrder: {ID: PropMailboxSortOrder, Name: "sortOrder", Type: TypeUint, Options: OptStore | OptSortIndex},
			PropMailboxACL:       {ID: PropMailboxACL, Name: "acl", Type: TypeObject, Options: OptStore},
		},
	}
}

// Thread property ids.
const (
	PropThreadSubjectHash PropertyID = iota
	PropThreadMessageIDs
)

func threadSchema() *CollectionSchema {
	return &CollectionSchema{
		Collection: CollectionThread,
		Fields: map[PropertyID]FieldSchema{
			PropThreadSubjectHash: {ID: PropThreadSubjectHash, Name: "subjectHash", Type: TypeText, Options: OptStore | OptSortIndex, Required: true},
			PropThreadMessageIDs:  {ID: PropThreadMessageIDs, Name: "messageIds", Type: TypeObject, Options: OptStore},
		},
	}
}

// Identity property ids.
const (
	PropIdentityName PropertyID = iota
	PropIdentityEmail
	PropIdentityReplyTo
)

func identitySchema() *CollectionSchema {
	return &CollectionSchema{
		Collection: CollectionIdentity,
		Fields: map[PropertyID]FieldSchema{
			PropIdentityName:    {ID: PropIdentityName, Name: "name", Type: TypeText, Options: OptStore},
			PropIdentityEmail:   {ID: PropIdentityEmail, Name: "email", Type: TypeText, Options: OptStore | OptSortIndex, Required: true},
			PropIdentityReplyTo: {ID: PropIdentityReplyTo, Name: "replyTo", Type: TypeText, Options: OptStore},
		},
	}
}

// EmailSubmission property ids.
const (
	PropSubmissionIdentityID PropertyID = iota
	PropSubmissionEmailID
	PropSubmissionSendAt
	PropSubmissionStatus
)

func emailSubmissionSchema() *CollectionSchema {
	return &CollectionSchema{
		Collection: CollectionEmailSubmission,
		Fields: map[PropertyID]FieldSchema{
			PropSubmissionIdentityID: {ID: PropSubmissionIdentityID, Name: "identityId", Type: TypeUint, Options: OptStore, Required: true},
			PropSubmissionEmailID:    {ID: PropSubmissionEmailID, Name: "emailId", Type: TypeUint, Options: OptStore, Required: true},
			PropSubmissionSendAt:     {ID: PropSubmissionSendAt, Name: "sendAt", Type: TypeUint, Options: OptStore | OptSortIndex},
			PropSubmissionStatus:     {ID: PropSubmissionStatus, Name: "status", Type: TypeText, Options: OptStore | OptKeyword},
		},
	}
}

// VacationResponse property ids.
const (
	PropVacationSubject PropertyID = iota
	PropVacationText
	PropVacationEnabled
)

func vacationResponseSchema() *CollectionSchema {
	return &CollectionSchema{
		Collection: CollectionVacationResponse,
		Fields: map[PropertyID]FieldSchema{
			PropVacationSubject: {ID: PropVacationSubject, Name: "subject", Type: TypeText, Options: OptStore},
			PropVacationText:    {ID: PropVacationText, Name: "textBody", Type: TypeText, Options: OptStore},
			PropVacationEnabled: {ID: PropVacationEnabled, Name: "isEnabled", Type: TypeBool, Options: OptStore},
		},
	}
}

// PushSubscription property ids.
const (
	PropPushDeviceClientID PropertyID = iota
	PropPushURL
	PropPushExpires
)

func pushSubscriptionSchema() *CollectionSchema {
	return &CollectionSchema{
		Collection: CollectionPushSubscription,
		Fields: map[PropertyID]FieldSchema{
			PropPushDeviceClientID: {ID: PropPushDeviceClientID, Name: "deviceClientId", Type: TypeText, Options: OptStore, Required: true},
			PropPushURL:            {ID: PropPushURL, Name: "url", Type: TypeText, Options: OptStore, Required: true},
			PropPushExpires:        {ID: PropPushExpires, Name: "expires", Type: TypeUint, Options: OptStore | OptSortIndex},
		},
	}
}

// Principal property ids.
const (
	PropPrincipalName PropertyID = iota
	PropPrincipalEmail
	PropPrincipalAliases
	PropPrincipalType
	PropPrincipalSecret
	PropPrincipalMembers
	PropPrincipalQuota
	PropPrincipalACL
)

func principalSchema() *CollectionSchema {
	return &CollectionSchema{
		Collection: CollectionPrincipal,
		Fields: map[PropertyID]FieldSchema{
			PropPrincipalName:    {ID: PropPrincipalName, Name: "name", Type: TypeText, Options: OptStore | OptSortIndex, Required: true},
			PropPrincipalEmail:   {ID: PropPrincipalEmail, Name: "email", Type: TypeText, Options: OptStore | OptSortIndex},
			PropPrincipalAliases: {ID: PropPrincipalAliases, Name: "aliases", Type: TypeObject, Options: OptStore},
			PropPrincipalType:    {ID: PropPrincipalType, Name: "type", Type: TypeText, Options: OptStore | OptKeyword, Required: true},
			PropPrincipalSecret:  {ID: PropPrincipalSecret, Name: "secret", Type: TypeText, Options: OptStore},
			PropPrincipalMembers: {ID: PropPrincipalMembers, Name: "members", Type: TypeObject, Options: OptStore},
			PropPrincipalQuota:   {ID: PropPrincipalQuota, Name: "quota", Type: TypeUint, Options: OptStore},
			PropPrincipalACL:     {ID: PropPrincipalACL, Name: "acl", Type: TypeObject, Options: OptStore},
		},
	}
}

// SieveScript property ids.
const (
	PropSieveName PropertyID = iota
	PropSieveSource
	PropSieveIsActive
)

func sieveScriptSchema() *CollectionSchema {
	return &CollectionSchema{
		Collection: CollectionSieveScript,
		Fields: map[PropertyID]FieldSchema{
			PropSieveName:     {ID: PropSieveName, Name: "name", Type: TypeText, Options: OptStore | OptSortIndex, Required: true},
			PropSieveSource:   {ID: PropSieveSource, Name: "source", Type: TypeBlobRef, Options: OptStore, Required: true},
			PropSieveIsActive: {ID: PropSieveIsActive, Name: "isActive", Type: TypeBool, Options: OptStore},
		},
	}
}

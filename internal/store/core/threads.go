package core

import (
	"context"
	"strings"
	"sync"

	"github.com/nyxmail/corestore/internal/store/document"
	"github.com/nyxmail/corestore/internal/store/query"
	"github.com/nyxmail/corestore/internal/store/schema"
	"github.com/nyxmail/corestore/internal/store/write"
)

// ResolveThread finds the thread a mail document belongs to: an existing
// thread whose normalized subject matches and whose recorded message ids
// overlap the mail's References/Message-ID set, or a freshly created one
// otherwise. The whole resolve-or-create runs under a per-account lock so
// two mails of the same new conversation arriving concurrently cannot
// both mint a thread.
//
// messageIDs is the union of the mail's own Message-ID and every id in
// its References header. A mail with no message ids always starts a new
// thread: a bare subject match is not enough to join two conversations.
func (s *Store) ResolveThread(ctx context.Context, account uint32, subject string, messageIDs []string) (uint32, error) {
	normalized := NormalizeSubject(subject)

	lock := s.threadLock(account)
	lock.Lock()
	defer lock.Unlock()

	if len(messageIDs) > 0 {
		id, found, err := s.matchThread(ctx, account, normalized, messageIDs)
		if err != nil {
			return 0, err
		}
		if found {
			return id, nil
		}
	}

	return s.createThread(ctx, account, normalized, messageIDs)
}

func (s *Store) threadLock(account uint32) *sync.Mutex {
	l, ok := s.threadLocks.Get(account)
	if !ok {
		s.createMu.Lock()
		if l, ok = s.threadLocks.Get(account); !ok {
			l = &sync.Mutex{}
			s.threadLocks.Set(account, l)
		}
		s.createMu.Unlock()
	}
	return l
}

// matchThread scans threads with the same normalized subject for one
// whose recorded message ids intersect messageIDs, and records the new
// ids on the matched thread.
func (s *Store) matchThread(ctx context.Context, account uint32, normalized string, messageIDs []string) (uint32, bool, error) {
	res, err := s.queries.Query(ctx, account, schema.CollectionThread,
		query.Leaf(query.Range(schema.PropThreadSubjectHash, query.RangeEQ, document.TextValue(normalized))),
		nil, query.Page{})
	if err != nil {
		return 0, false, err
	}

	for _, threadID := range res.DocumentIDs {
		doc, err := s.loadDocument(ctx, account, schema.CollectionThread, threadID)
		if err != nil {
			return 0, false, err
		}
		known := doc.Properties[schema.PropThreadMessageIDs].Obj
		matched := false
		for _, mid := range messageIDs {
			if _, ok := known[mid]; ok {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}

		// Record the unseen ids so later replies can join through them.
		modified := doc.Clone()
		merged := make(map[string]any, len(known)+len(messageIDs))
		for k, v := range known {
			merged[k] = v
		}
		for _, mid := range messageIDs {
			merged[mid] = true
		}
		if len(merged) != len(known) {
			modified.Set(schema.PropThreadMessageIDs, document.Value{Type: schema.TypeObject, Obj: merged})
			if _, err := s.pipeline.Write(ctx, &write.WriteBatch{
				Account:    account,
				Collection: schema.CollectionThread,
				Ops:        []write.DocOp{{Kind: write.OpUpdate, Document: modified}},
			}); err != nil {
				return 0, false, err
			}
		}
		return threadID, true, nil
	}
	return 0, false, nil
}

func (s *Store) createThread(ctx context.Context, account uint32, normalized string, messageIDs []string) (uint32, error) {
	id, err := s.AssignDocumentID(ctx, account, schema.CollectionThread)
	if err != nil {
		return 0, err
	}

	doc := document.New(account, schema.CollectionThread, id)
	doc.Set(schema.PropThreadSubjectHash, document.TextValue(normalized))
	ids := make(map[string]any, len(messageIDs))
	for _, mid := range messageIDs {
		ids[mid] = true
	}
	doc.Set(schema.PropThreadMessageIDs, document.Value{Type: schema.TypeObject, Obj: ids})

	if _, err := s.pipeline.Write(ctx, &write.WriteBatch{
		Account:    account,
		Collection: schema.CollectionThread,
		Ops:        []write.DocOp{{Kind: write.OpInsert, Document: doc}},
	}); err != nil {
		return 0, err
	}
	return id, nil
}

// NormalizeSubject lowercases a subject, strips any run of reply/forward
// prefixes ("re:", "fwd:", "fw:") and bracketed list tags, and collapses
// interior whitespace, so replies across clients hash to the same thread
// key.
func NormalizeSubject(subject string) string {
	s := strings.ToLower(strings.TrimSpace(subject))
	for {
		trimmed := s
		for _, p := range [...]string{"re:", "fwd:", "fw:"} {
			if strings.HasPrefix(trimmed, p) {
				trimmed = strings.TrimSpace(trimmed[len(p):])
			}
		}
		if strings.HasPrefix(trimmed, "[") {
			if end := strings.Index(trimmed, "]"); end >= 0 {
				trimmed = strings.TrimSpace(trimmed[end+1:])
			}
		}
		if trimmed == s {
			break
		}
		s = trimmed
	}
	return strings.Join(strings.Fields(s), " ")
}

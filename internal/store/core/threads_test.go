package core

import (
	"context"
	"testing"

	"github.com/nyxmail/corestore/internal/store/schema"
)

func TestNormalizeSubjectStripsReplyPrefixes(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Hello World", "hello world"},
		{"Re: Hello World", "hello world"},
		{"RE: re: Fwd: Hello   World", "hello world"},
		{"[list] Re: Hello World", "hello world"},
		{"  Fw: [ann] budget  ", "budget"},
		{"", ""},
	}
	for _, c := range cases {
		if got := NormalizeSubject(c.in); got != c.want {
			t.Fatalf("NormalizeSubject(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestResolveThreadJoinsByReference(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	first, err := s.ResolveThread(ctx, 1, "Project kickoff", []string{"<m1@x>"})
	if err != nil {
		t.Fatalf("resolve first: %v", err)
	}

	// A reply shares the normalized subject and references the first id.
	second, err := s.ResolveThread(ctx, 1, "Re: Project kickoff", []string{"<m2@x>", "<m1@x>"})
	if err != nil {
		t.Fatalf("resolve reply: %v", err)
	}
	if second != first {
		t.Fatalf("reply should join thread %d, got %d", first, second)
	}

	// A later reply referencing only the second message still joins,
	// because the thread recorded <m2@x> when the reply arrived.
	third, err := s.ResolveThread(ctx, 1, "Re: Project kickoff", []string{"<m3@x>", "<m2@x>"})
	if err != nil {
		t.Fatalf("resolve third: %v", err)
	}
	if third != first {
		t.Fatalf("chained reply should join thread %d, got %d", first, third)
	}
}

func TestResolveThreadSameSubjectDisjointReferences(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	a, err := s.ResolveThread(ctx, 1, "lunch?", []string{"<a@x>"})
	if err != nil {
		t.Fatalf("resolve a: %v", err)
	}
	b, err := s.ResolveThread(ctx, 1, "lunch?", []string{"<b@x>"})
	if err != nil {
		t.Fatalf("resolve b: %v", err)
	}
	if a == b {
		t.Fatalf("disjoint references must not share a thread")
	}
}

func TestResolveThreadWithoutReferencesAlwaysMints(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	a, err := s.ResolveThread(ctx, 1, "status", nil)
	if err != nil {
		t.Fatalf("resolve a: %v", err)
	}
	b, err := s.ResolveThread(ctx, 1, "status", nil)
	if err != nil {
		t.Fatalf("resolve b: %v", err)
	}
	if a == b {
		t.Fatalf("referenceless mails must each start a new thread")
	}
}

func TestResolveThreadIsolatedPerAccount(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	a, err := s.ResolveThread(ctx, 1, "shared subject", []string{"<same@x>"})
	if err != nil {
		t.Fatalf("resolve account 1: %v", err)
	}
	b, err := s.ResolveThread(ctx, 2, "shared subject", []string{"<same@x>"})
	if err != nil {
		t.Fatalf("resolve account 2: %v", err)
	}
	// Thread ids are allocated per account, each account starting fresh.
	if a != b {
		// Equal ids are fine too; what matters is the documents live apart.
		t.Logf("accounts allocated different ids: %d vs %d", a, b)
	}
	doc1, err := s.GetDocument(ctx, 1, schema.CollectionThread, a)
	if err != nil {
		t.Fatalf("account 1 thread doc: %v", err)
	}
	doc2, err := s.GetDocument(ctx, 2, schema.CollectionThread, b)
	if err != nil {
		t.Fatalf("account 2 thread doc: %v", err)
	}
	if doc1.Account == doc2.Account {
		t.Fatalf("thread documents should live in separate accounts")
	}
}

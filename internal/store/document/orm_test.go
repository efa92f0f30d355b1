package document

import (
	"testing"

	"github.com/nyxmail/corestore/internal/store/schema"
)

func TestMergeDetectsValueChange(t *testing.T) {
	source := New(1, schema.CollectionMail, 10)
	source.Set(schema.PropMailSubject, TextValue("hello"))

	modified := source.Clone()
	modified.Set(schema.PropMailSubject, TextValue("goodbye"))

	diff, changed := Merge(source, modified)
	if !changed {
		t.Fatalf("expected a change to be detected")
	}
	if len(diff.Changes) != 1 || diff.Changes[0].Kind != ChangeSet {
		t.Fatalf("expected exactly one ChangeSet, got %+v", diff.Changes)
	}
}

func TestMergeNoOpWhenIdentical(t *testing.T) {
	source := New(1, schema.CollectionMail, 10)
	source.Set(schema.PropMailSubject, TextValue("hello"))
	modified := source.Clone()

	diff, changed := Merge(source, modified)
	if changed || diff.HasChanges() {
		t.Fatalf("expected no changes for an identical working copy")
	}
}

func TestMergeDetectsPropertyCleared(t *testing.T) {
	source := New(1, schema.CollectionMail, 10)
	source.Set(schema.PropMailSize, UintValue(100))

	modified := source.Clone()
	modified.Remove(schema.PropMailSize)

	diff, changed := Merge(source, modified)
	if !changed {
		t.Fatalf("expected removal to be detected as a change")
	}
	if diff.Changes[0].Kind != ChangeCleared {
		t.Fatalf("expected ChangeCleared, got %v", diff.Changes[0].Kind)
	}
}

func TestMergeDetectsTagAddAndRemove(t *testing.T) {
	source := New(1, schema.CollectionMail, 10)
	source.Tag(schema.PropMailKeywords, "$seen")

	modified := source.Clone()
	modified.Untag(schema.PropMailKeywords, "$seen")
	modified.Tag(schema.PropMailKeywords, "$flagged")

	diff, changed := Merge(source, modified)
	if !changed {
		t.Fatalf("expected tag changes to be detected")
	}
	var sawAdded, sawRemoved bool
	for _, c := range diff.Changes {
		if c.Kind == ChangeTagsAdded {
			sawAdded = true
			if len(c.TagsAdded) != 1 || c.TagsAdded[0] != "$flagged" {
				t.Fatalf("unexpected tags added: %v", c.TagsAdded)
			}
		}
		if c.Kind == ChangeTagsRemoved {
			sawRemoved = true
			if len(c.TagsRemoved) != 1 || c.TagsRemoved[0] != "$seen" {
				t.Fatalf("unexpected tags removed: %v", c.TagsRemoved)
			}
		}
	}
	if !sawAdded || !sawRemoved {
		t.Fatalf("expected both an added and a removed tag change, got %+v", diff.Changes)
	}
}

func TestInsertValidateRejectsMissingRequiredProperty(t *testing.T) {
	doc := New(1, schema.CollectionMail, 10)
	sc := schema.NewRegistry().Get(schema.CollectionMail)
	if err := InsertValidate(doc, sc); err == nil {
		t.Fatalf("expected validation error for missing required properties")
	}
}

func TestInsertValidateRejectsUndeclaredProperty(t *testing.T) {
	doc := New(1, schema.CollectionMailbox, 10)
	doc.Set(schema.PropMailboxName, TextValue("Inbox"))
	doc.Set(schema.PropertyID(250), TextValue("bogus"))
	sc := schema.NewRegistry().Get(schema.CollectionMailbox)
	if err := InsertValidate(doc, sc); err == nil {
		t.Fatalf("expected validation error for a property not declared by the schema")
	}
}

package document

import (
	"errors"
	"testing"

	"github.com/dshills/daxls/internal/protocol"
)

func pos(line, character int) protocol.Position {
	return protocol.Position{Line: line, Character: character}
}

func rng(startLine, startChar, endLine, endChar int) *protocol.Range {
	return &protocol.Range{Start: pos(startLine, startChar), End: pos(endLine, endChar)}
}

func TestLineAccess(t *testing.T) {
	doc := newDocument("file:///q.dax", "dax", 1, "SUM(1)\nCALCULATE(\n\ttest\n")

	if got := doc.LineCount(); got != 4 {
		t.Fatalf("LineCount = %d, want 4", got)
	}

	wantLines := []string{"SUM(1)\n", "CALCULATE(\n", "\ttest\n", ""}
	for i, want := range wantLines {
		got, err := doc.Line(i)
		if err != nil {
			t.Fatalf("Line(%d): %v", i, err)
		}
		if got != want {
			t.Fatalf("Line(%d) = %q, want %q", i, got, want)
		}
	}

	if _, err := doc.Line(4); err == nil {
		t.Fatal("Line(4) succeeded past the end of the document")
	}
	if _, err := doc.Line(-1); err == nil {
		t.Fatal("Line(-1) succeeded")
	}
}

func TestLineStartRuneCountsRunesNotBytes(t *testing.T) {
	doc := newDocument("file:///q.dax", "dax", 1, "héllo\nwörld\n\U0001d538b\nx")

	wants := []int{0, 6, 12, 15}
	for i, want := range wants {
		got, err := doc.LineStartRune(i)
		if err != nil {
			t.Fatalf("LineStartRune(%d): %v", i, err)
		}
		if got != want {
			t.Fatalf("LineStartRune(%d) = %d, want %d", i, got, want)
		}
	}
}

func TestByteOffsetUTF16(t *testing.T) {
	// U+1D538 occupies two UTF-16 units and four bytes.
	doc := newDocument("file:///q.dax", "dax", 1, "a\U0001d538b")

	cases := []struct {
		char int
		want int
	}{
		{0, 0},
		{1, 1},  // after "a"
		{3, 5},  // after the surrogate pair
		{4, 6},  // end of line
		{99, 6}, // clamps
	}
	for _, tc := range cases {
		got, err := doc.ByteOffset(pos(0, tc.char))
		if err != nil {
			t.Fatalf("ByteOffset(char %d): %v", tc.char, err)
		}
		if got != tc.want {
			t.Fatalf("ByteOffset(char %d) = %d, want %d", tc.char, got, tc.want)
		}
	}
}

func TestByteOffsetExcludesTerminator(t *testing.T) {
	doc := newDocument("file:///q.dax", "dax", 1, "ab\r\ncd")

	got, err := doc.ByteOffset(pos(0, 50))
	if err != nil {
		t.Fatalf("ByteOffset: %v", err)
	}
	if got != 2 {
		t.Fatalf("ByteOffset clamped to %d, want 2 (before the terminator)", got)
	}
}

func TestStoreOpenGetClose(t *testing.T) {
	s := NewStore()

	if _, err := s.Get("file:///missing.dax"); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("Get missing: err = %v, want ErrNotOpen", err)
	}

	s.Open("file:///q.dax", "dax", 1, "EVALUATE Sales")
	doc, err := s.Get("file:///q.dax")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if doc.LanguageID != "dax" || doc.Version != 1 || doc.Text != "EVALUATE Sales" {
		t.Fatalf("unexpected document: %+v", doc)
	}
	if got := s.Len(); got != 1 {
		t.Fatalf("Len = %d, want 1", got)
	}

	s.Close("file:///q.dax")
	if _, err := s.Get("file:///q.dax"); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("Get after close: err = %v, want ErrNotOpen", err)
	}
	s.Close("file:///q.dax") // closing again is fine
}

func TestApplyFullReplacement(t *testing.T) {
	s := NewStore()
	s.Open("file:///q.dax", "dax", 1, "old text")

	doc, err := s.Apply("file:///q.dax", 2, []protocol.TextDocumentContentChangeEvent{
		{Text: "EVALUATE Sales"},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if doc.Text != "EVALUATE Sales" || doc.Version != 2 {
		t.Fatalf("after full replace: %+v", doc)
	}
}

func TestApplyIncremental(t *testing.T) {
	s := NewStore()
	s.Open("file:///q.dax", "dax", 1, "EVALUATE\nSUM(1)\n")

	doc, err := s.Apply("file:///q.dax", 2, []protocol.TextDocumentContentChangeEvent{
		{Range: rng(1, 4, 1, 5), Text: "2"},
		{Range: rng(0, 8, 0, 8), Text: " Sales"},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if doc.Text != "EVALUATE Sales\nSUM(2)\n" {
		t.Fatalf("Text = %q", doc.Text)
	}
}

func TestApplyEditSpanningNewline(t *testing.T) {
	s := NewStore()
	s.Open("file:///q.dax", "dax", 1, "DEFINE\nEVALUATE Sales\n")

	doc, err := s.Apply("file:///q.dax", 2, []protocol.TextDocumentContentChangeEvent{
		{Range: rng(0, 0, 1, 0), Text: ""},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if doc.Text != "EVALUATE Sales\n" {
		t.Fatalf("Text = %q", doc.Text)
	}
}

func TestApplyKeepsOldSnapshot(t *testing.T) {
	s := NewStore()
	old := s.Open("file:///q.dax", "dax", 1, "before")

	if _, err := s.Apply("file:///q.dax", 2, []protocol.TextDocumentContentChangeEvent{{Text: "after"}}); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if old.Text != "before" {
		t.Fatalf("old snapshot mutated: %q", old.Text)
	}
	doc, err := s.Get("file:///q.dax")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if doc.Text != "after" {
		t.Fatalf("current snapshot = %q, want %q", doc.Text, "after")
	}
}

func TestApplyErrors(t *testing.T) {
	s := NewStore()

	if _, err := s.Apply("file:///missing.dax", 1, nil); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("Apply missing: err = %v, want ErrNotOpen", err)
	}

	s.Open("file:///q.dax", "dax", 1, "one line")
	_, err := s.Apply("file:///q.dax", 2, []protocol.TextDocumentContentChangeEvent{
		{Range: rng(5, 0, 5, 1), Text: "x"},
	})
	if err == nil {
		t.Fatal("Apply with an out-of-range line succeeded")
	}
}

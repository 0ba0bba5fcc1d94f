// Package document tracks open editor documents and answers the position
// arithmetic needed to talk to the analysis engine: line text, rune offsets
// of line starts, and UTF-16 column handling.
package document

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/dshills/daxls/internal/protocol"
)

// ErrNotOpen indicates the document is not open in the store.
var ErrNotOpen = errors.New("document not open")

// lineStart records where a logical line begins, in byte and rune terms.
type lineStart struct {
	byteOff int
	runeOff int
}

// Document is an immutable snapshot of one open document. The store hands out
// a fresh snapshot on every change, so a holder keeps reading a consistent
// version while later edits land.
type Document struct {
	URI        protocol.DocumentURI
	LanguageID string
	Version    int
	Text       string

	lines []lineStart
}

func newDocument(uri protocol.DocumentURI, languageID string, version int, text string) *Document {
	return &Document{
		URI:        uri,
		LanguageID: languageID,
		Version:    version,
		Text:       text,
		lines:      indexLines(text),
	}
}

// indexLines records the start of every logical line. A trailing newline
// opens a final empty line, matching editor line counting.
func indexLines(text string) []lineStart {
	starts := make([]lineStart, 1, strings.Count(text, "\n")+1)
	runes := 0
	for i, r := range text {
		runes++
		if r == '\n' {
			starts = append(starts, lineStart{byteOff: i + 1, runeOff: runes})
		}
	}
	return starts
}

// LineCount returns the number of logical lines.
func (d *Document) LineCount() int { return len(d.lines) }

// Line returns the text of the zero-based line including its terminator.
// The final line carries none.
func (d *Document) Line(line int) (string, error) {
	if line < 0 || line >= len(d.lines) {
		return "", fmt.Errorf("line %d out of range (document has %d)", line, len(d.lines))
	}
	start := d.lines[line].byteOff
	if line+1 < len(d.lines) {
		return d.Text[start:d.lines[line+1].byteOff], nil
	}
	return d.Text[start:], nil
}

// LineStartRune returns the rune offset of the start of the given line within
// the document text.
func (d *Document) LineStartRune(line int) (int, error) {
	if line < 0 || line >= len(d.lines) {
		return 0, fmt.Errorf("line %d out of range (document has %d)", line, len(d.lines))
	}
	return d.lines[line].runeOff, nil
}

// ByteOffset converts a protocol position into a byte offset into Text.
// Columns are UTF-16 code units and clamp to the end of the line content.
func (d *Document) ByteOffset(pos protocol.Position) (int, error) {
	text, err := d.Line(pos.Line)
	if err != nil {
		return 0, err
	}
	return d.lines[pos.Line].byteOff + utf16Column(text, pos.Character), nil
}

// utf16Column converts a UTF-16 column into a byte offset within line.
// Positions never address the line terminator.
func utf16Column(line string, col int) int {
	line = strings.TrimRight(line, "\r\n")
	if col <= 0 {
		return 0
	}
	units := 0
	for i, r := range line {
		if units >= col {
			return i
		}
		n := utf16RuneLen(r)
		if n < 0 {
			n = 1
		}
		units += n
	}
	return len(line)
}

// utf16RuneLen replicates utf16.RuneLen, which the stdlib only gained in
// Go 1.23: the number of 16-bit words in the UTF-16 encoding of r, or -1 if
// r is not a valid value to encode in UTF-16.
func utf16RuneLen(r rune) int {
	const (
		surr1    = 0xd800
		surr3    = 0xe000
		surrSelf = 0x10000
	)
	switch {
	case 0 <= r && r < surr1, surr3 <= r && r < surrSelf:
		return 1
	case surrSelf <= r && r <= unicode.MaxRune:
		return 2
	default:
		return -1
	}
}

// Store holds the open documents for a server session. Safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	docs map[protocol.DocumentURI]*Document
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{docs: make(map[protocol.DocumentURI]*Document)}
}

// Open registers a document. Reopening a URI replaces the previous snapshot.
func (s *Store) Open(uri protocol.DocumentURI, languageID string, version int, text string) *Document {
	doc := newDocument(uri, languageID, version, text)
	s.mu.Lock()
	s.docs[uri] = doc
	s.mu.Unlock()
	return doc
}

// Get returns the current snapshot of an open document.
func (s *Store) Get(uri protocol.DocumentURI) (*Document, error) {
	s.mu.RLock()
	doc, ok := s.docs[uri]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", uri, ErrNotOpen)
	}
	return doc, nil
}

// Apply applies didChange content changes in order and stores the resulting
// snapshot. A change without a range replaces the whole document.
func (s *Store) Apply(uri protocol.DocumentURI, version int, changes []protocol.TextDocumentContentChangeEvent) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[uri]
	if !ok {
		return nil, fmt.Errorf("%s: %w", uri, ErrNotOpen)
	}

	cur := doc
	for _, change := range changes {
		if change.Range == nil {
			cur = newDocument(uri, doc.LanguageID, version, change.Text)
			continue
		}
		startOff, err := cur.ByteOffset(change.Range.Start)
		if err != nil {
			return nil, fmt.Errorf("apply change: %w", err)
		}
		endOff, err := cur.ByteOffset(change.Range.End)
		if err != nil {
			return nil, fmt.Errorf("apply change: %w", err)
		}
		if endOff < startOff {
			return nil, fmt.Errorf("apply change: inverted range %v", change.Range)
		}
		cur = newDocument(uri, doc.LanguageID, version, cur.Text[:startOff]+change.Text+cur.Text[endOff:])
	}

	s.docs[uri] = cur
	return cur, nil
}

// Close removes a document. Closing an unopened document is a no-op.
func (s *Store) Close(uri protocol.DocumentURI) {
	s.mu.Lock()
	delete(s.docs, uri)
	s.mu.Unlock()
}

// Len returns the number of open documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

package adapter

import (
	"encoding/json"
	"testing"

	"github.com/dshills/daxls/internal/document"
	"github.com/dshills/daxls/internal/protocol"
)

func openDoc(t *testing.T, text string) *document.Document {
	t.Helper()
	store := document.NewStore()
	return store.Open("file:///model.dax", "dax", 1, text)
}

func TestPositionContext(t *testing.T) {
	doc := openDoc(t, "EVALUATE\nSUM('Sales'[Amt])\n")

	params, err := PositionContext(doc, protocol.Position{Line: 1, Character: 4})
	if err != nil {
		t.Fatalf("PositionContext: %v", err)
	}
	if params.Line != "SUM('Sales'[Amt])\n" {
		t.Errorf("line = %q, want terminator included", params.Line)
	}
	if params.Column != 4 {
		t.Errorf("column = %d, want 4", params.Column)
	}
	if params.LineOffset != 9 {
		t.Errorf("lineOffset = %d, want 9", params.LineOffset)
	}
	if params.FullText != doc.Text {
		t.Errorf("fullText = %q, want whole document", params.FullText)
	}
}

func TestPositionContextColumnPassthrough(t *testing.T) {
	// The column is the client's UTF-16 offset and goes to the engine as is,
	// even when it points past the end of the line.
	doc := openDoc(t, "SUM(\n")

	params, err := PositionContext(doc, protocol.Position{Line: 0, Character: 40})
	if err != nil {
		t.Fatalf("PositionContext: %v", err)
	}
	if params.Column != 40 {
		t.Errorf("column = %d, want 40", params.Column)
	}
}

func TestPositionContextCountsRunes(t *testing.T) {
	doc := openDoc(t, "héllo\nwörld\n")

	params, err := PositionContext(doc, protocol.Position{Line: 1, Character: 0})
	if err != nil {
		t.Fatalf("PositionContext: %v", err)
	}
	if params.LineOffset != 6 {
		t.Errorf("lineOffset = %d, want rune offset 6", params.LineOffset)
	}
}

func TestPositionContextOutOfRange(t *testing.T) {
	doc := openDoc(t, "EVALUATE\n")

	if _, err := PositionContext(doc, protocol.Position{Line: 7, Character: 0}); err == nil {
		t.Fatal("expected error for line past end of document")
	}
}

func TestSignatureContextOmitsLineOffset(t *testing.T) {
	doc := openDoc(t, "SUM(1,\n")

	params, err := SignatureContext(doc, protocol.Position{Line: 0, Character: 6})
	if err != nil {
		t.Fatalf("SignatureContext: %v", err)
	}
	b, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(b, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := fields["lineOffset"]; ok {
		t.Error("signature params must not carry lineOffset")
	}
	for _, key := range []string{"line", "column", "fullText"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("signature params missing %q", key)
		}
	}
}

func TestDiagnosticsContext(t *testing.T) {
	doc := openDoc(t, "EVALUATE Sales\n")

	params := DiagnosticsContext(doc)
	if params.FullText != doc.Text {
		t.Errorf("fullText = %q, want whole document", params.FullText)
	}
	if params.URI != "file:///model.dax" {
		t.Errorf("uri = %q, want file:///model.dax", params.URI)
	}
}

func TestEngineError(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantMsg string
		wantOK  bool
	}{
		{"error string", `{"error":"unknown function"}`, "unknown function", true},
		{"error empty", `{"error":""}`, "", true},
		{"no error", `{"items":[]}`, "", false},
		{"empty object", `{}`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok := EngineError(json.RawMessage(tt.raw))
			if ok != tt.wantOK || msg != tt.wantMsg {
				t.Errorf("EngineError = (%q, %v), want (%q, %v)", msg, ok, tt.wantMsg, tt.wantOK)
			}
		})
	}
}

func TestCompletionMapping(t *testing.T) {
	raw := json.RawMessage(`{
		"isIncomplete": true,
		"items": [
			{"label": "SUM", "kind": 3, "detail": "Aggregation", "documentation": "Adds numbers.", "insertText": "SUM("},
			{"label": "Sales", "kind": 7},
			{"label": "VAR", "kind": 14, "insertText": ""},
			{"kind": 99}
		]
	}`)

	list := Completion(raw)
	if !list.IsIncomplete {
		t.Error("isIncomplete not carried over")
	}
	if len(list.Items) != 4 {
		t.Fatalf("items = %d, want 4", len(list.Items))
	}

	sum := list.Items[0]
	if sum.Label != "SUM" || sum.Kind != protocol.CompletionItemKindFunction || sum.InsertText != "SUM(" {
		t.Errorf("unexpected first item %+v", sum)
	}
	if sum.Detail != "Aggregation" {
		t.Errorf("detail = %q", sum.Detail)
	}
	if doc, ok := sum.Documentation.(string); !ok || doc != "Adds numbers." {
		t.Errorf("documentation = %#v", sum.Documentation)
	}

	if list.Items[1].Kind != protocol.CompletionItemKindClass {
		t.Errorf("kind 7 mapped to %d", list.Items[1].Kind)
	}
	if list.Items[1].InsertText != "Sales" {
		t.Errorf("missing insertText should fall back to label, got %q", list.Items[1].InsertText)
	}

	if list.Items[2].InsertText != "VAR" {
		t.Errorf("empty insertText should fall back to label, got %q", list.Items[2].InsertText)
	}
	if list.Items[2].Kind != protocol.CompletionItemKindKeyword {
		t.Errorf("kind 14 mapped to %d", list.Items[2].Kind)
	}

	if list.Items[3].Label != "" {
		t.Errorf("missing label should stay empty, got %q", list.Items[3].Label)
	}
	if list.Items[3].Kind != protocol.CompletionItemKindText {
		t.Errorf("unknown kind should map to text, got %d", list.Items[3].Kind)
	}
}

func TestCompletionStructuredDocumentation(t *testing.T) {
	raw := json.RawMessage(`{"items":[{"label":"SUM","documentation":{"kind":"markdown","value":"**Sum**"}}]}`)

	list := Completion(raw)
	if len(list.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(list.Items))
	}
	doc, ok := list.Items[0].Documentation.(map[string]any)
	if !ok {
		t.Fatalf("documentation = %#v, want object preserved", list.Items[0].Documentation)
	}
	if doc["value"] != "**Sum**" {
		t.Errorf("documentation value = %v", doc["value"])
	}
}

func TestCompletionEmptyResult(t *testing.T) {
	list := Completion(json.RawMessage(`{}`))
	if list.IsIncomplete {
		t.Error("missing isIncomplete should read false")
	}
	if list.Items == nil || len(list.Items) != 0 {
		t.Errorf("items = %#v, want empty non-nil slice", list.Items)
	}

	b, err := json.Marshal(list)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"isIncomplete":false,"items":[]}` {
		t.Errorf("serialized form = %s", b)
	}
}

func TestSignatureHelpMapping(t *testing.T) {
	raw := json.RawMessage(`{
		"signatures": [
			{
				"label": "SUM(column)",
				"documentation": "Adds numbers.",
				"parameters": [{"label": "column", "documentation": "The column to sum."}]
			}
		],
		"activeSignature": 0,
		"activeParameter": 1
	}`)

	help := SignatureHelp(raw)
	if len(help.Signatures) != 1 {
		t.Fatalf("signatures = %d, want 1", len(help.Signatures))
	}
	sig := help.Signatures[0]
	if sig.Label != "SUM(column)" {
		t.Errorf("label = %q", sig.Label)
	}
	if len(sig.Parameters) != 1 || sig.Parameters[0].Label != "column" {
		t.Errorf("parameters = %+v", sig.Parameters)
	}
	if help.ActiveSignature != 0 || help.ActiveParameter != 1 {
		t.Errorf("active = (%d, %d), want (0, 1)", help.ActiveSignature, help.ActiveParameter)
	}
}

func TestSignatureHelpDefaults(t *testing.T) {
	help := SignatureHelp(json.RawMessage(`{}`))
	if help.ActiveSignature != 0 || help.ActiveParameter != 0 {
		t.Errorf("active = (%d, %d), want zeros", help.ActiveSignature, help.ActiveParameter)
	}
	if help.Signatures == nil || len(help.Signatures) != 0 {
		t.Errorf("signatures = %#v, want empty non-nil slice", help.Signatures)
	}

	// The zero defaults must survive serialization.
	b, err := json.Marshal(help)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"signatures":[],"activeSignature":0,"activeParameter":0}` {
		t.Errorf("serialized form = %s", b)
	}
}

func TestHoverMapping(t *testing.T) {
	hov := Hover(json.RawMessage(`{"contents":"**Sum**: adds numbers"}`))
	if hov == nil {
		t.Fatal("expected hover result")
	}
	if hov.Contents.Kind != protocol.MarkupKindMarkdown {
		t.Errorf("kind = %q, want markdown", hov.Contents.Kind)
	}
	if hov.Contents.Value != "**Sum**: adds numbers" {
		t.Errorf("value = %q", hov.Contents.Value)
	}
	if hov.Range == nil {
		t.Fatal("missing range should default, not stay nil")
	}
	want := protocol.Range{}
	if *hov.Range != want {
		t.Errorf("range = %+v, want zero positions", *hov.Range)
	}
}

func TestHoverExplicitRange(t *testing.T) {
	raw := json.RawMessage(`{"contents":"x","range":{"start":{"line":2,"character":1},"end":{"line":2,"character":4}}}`)

	hov := Hover(raw)
	if hov == nil {
		t.Fatal("expected hover result")
	}
	want := protocol.Range{
		Start: protocol.Position{Line: 2, Character: 1},
		End:   protocol.Position{Line: 2, Character: 4},
	}
	if *hov.Range != want {
		t.Errorf("range = %+v, want %+v", *hov.Range, want)
	}
}

func TestHoverEmpty(t *testing.T) {
	for _, raw := range []string{`{}`, `{"contents":""}`, `{"contents":null}`} {
		if hov := Hover(json.RawMessage(raw)); hov != nil {
			t.Errorf("Hover(%s) = %+v, want nil", raw, hov)
		}
	}
}

func TestDiagnosticsMapping(t *testing.T) {
	raw := json.RawMessage(`{
		"diagnostics": [
			{
				"range": {"start": {"line": 1, "character": 0}, "end": {"line": 1, "character": 3}},
				"severity": 2,
				"message": "unused variable",
				"source": "linter",
				"code": "DAX042"
			},
			{"message": "syntax error"},
			{"severity": 9, "code": 7}
		]
	}`)

	diags := Diagnostics(raw)
	if len(diags) != 3 {
		t.Fatalf("diagnostics = %d, want 3", len(diags))
	}

	first := diags[0]
	if first.Severity != protocol.SeverityWarning || first.Source != "linter" {
		t.Errorf("unexpected first diagnostic %+v", first)
	}
	if first.Range.Start.Line != 1 || first.Range.End.Character != 3 {
		t.Errorf("range = %+v", first.Range)
	}
	if code, ok := first.Code.(string); !ok || code != "DAX042" {
		t.Errorf("code = %#v", first.Code)
	}

	second := diags[1]
	if second.Severity != protocol.SeverityError {
		t.Errorf("missing severity should read error, got %d", second.Severity)
	}
	if second.Source != "dax" {
		t.Errorf("missing source should default to dax, got %q", second.Source)
	}
	if second.Range != (protocol.Range{}) {
		t.Errorf("missing range should default to zero positions, got %+v", second.Range)
	}
	if second.Code != nil {
		t.Errorf("missing code should stay nil, got %#v", second.Code)
	}

	third := diags[2]
	if third.Severity != protocol.SeverityError {
		t.Errorf("unknown severity should read error, got %d", third.Severity)
	}
	if code, ok := third.Code.(float64); !ok || code != 7 {
		t.Errorf("numeric code = %#v", third.Code)
	}
}

func TestDiagnosticsEmpty(t *testing.T) {
	for _, raw := range []string{`{}`, `{"diagnostics":[]}`} {
		diags := Diagnostics(json.RawMessage(raw))
		if diags == nil || len(diags) != 0 {
			t.Errorf("Diagnostics(%s) = %#v, want empty non-nil slice", raw, diags)
		}
	}
}

func TestRangeClampsNegatives(t *testing.T) {
	raw := json.RawMessage(`{"contents":"x","range":{"start":{"line":-5,"character":-1},"end":{"line":0,"character":2}}}`)

	hov := Hover(raw)
	if hov == nil {
		t.Fatal("expected hover result")
	}
	if hov.Range.Start.Line != 0 || hov.Range.Start.Character != 0 {
		t.Errorf("negative positions should clamp to zero, got %+v", hov.Range.Start)
	}
}

// Package adapter converts between the analysis engine's JSON shapes and the
// editor protocol's typed structures. Conversion is pure and tolerant: absent
// fields get safe defaults, and nothing in here ever fails a request. A
// result with no usable payload maps to the method's neutral value.
package adapter

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/dshills/daxls/internal/document"
	"github.com/dshills/daxls/internal/protocol"
)

// PositionParams is the engine parameter shape for completion and hover.
type PositionParams struct {
	Line       string `json:"line"`
	Column     int    `json:"column"`
	LineOffset int    `json:"lineOffset"`
	FullText   string `json:"fullText"`
}

// SignatureParams is the engine parameter shape for signature help.
type SignatureParams struct {
	Line     string `json:"line"`
	Column   int    `json:"column"`
	FullText string `json:"fullText"`
}

// DiagnosticsParams is the engine parameter shape for whole-document analysis.
type DiagnosticsParams struct {
	FullText string `json:"fullText"`
	URI      string `json:"uri"`
}

// PositionContext builds the cursor context sent with completion and hover:
// the cursor line's text with its terminator, the UTF-16 column exactly as
// the client sent it, the rune offset of the line start, and the full
// document text.
func PositionContext(doc *document.Document, pos protocol.Position) (PositionParams, error) {
	line, err := doc.Line(pos.Line)
	if err != nil {
		return PositionParams{}, fmt.Errorf("position context: %w", err)
	}
	offset, err := doc.LineStartRune(pos.Line)
	if err != nil {
		return PositionParams{}, fmt.Errorf("position context: %w", err)
	}
	return PositionParams{
		Line:       line,
		Column:     pos.Character,
		LineOffset: offset,
		FullText:   doc.Text,
	}, nil
}

// SignatureContext builds the cursor context sent with signature help.
func SignatureContext(doc *document.Document, pos protocol.Position) (SignatureParams, error) {
	line, err := doc.Line(pos.Line)
	if err != nil {
		return SignatureParams{}, fmt.Errorf("signature context: %w", err)
	}
	return SignatureParams{
		Line:     line,
		Column:   pos.Character,
		FullText: doc.Text,
	}, nil
}

// DiagnosticsContext builds the parameters for whole-document analysis.
func DiagnosticsContext(doc *document.Document) DiagnosticsParams {
	return DiagnosticsParams{FullText: doc.Text, URI: string(doc.URI)}
}

// EngineError reports whether the result carries a semantic engine error and
// returns its description. Such a result is a valid wire exchange that simply
// has no usable payload.
func EngineError(raw json.RawMessage) (string, bool) {
	v := gjson.GetBytes(raw, "error")
	if !v.Exists() {
		return "", false
	}
	return v.String(), true
}

// Completion maps an engine completion result.
func Completion(raw json.RawMessage) protocol.CompletionList {
	list := EmptyCompletion()
	list.IsIncomplete = gjson.GetBytes(raw, "isIncomplete").Bool()
	gjson.GetBytes(raw, "items").ForEach(func(_, item gjson.Result) bool {
		label := item.Get("label").String()
		insert := item.Get("insertText").String()
		if insert == "" {
			insert = label
		}
		ci := protocol.CompletionItem{
			Label:      label,
			Kind:       completionKind(item.Get("kind")),
			Detail:     item.Get("detail").String(),
			SortText:   item.Get("sortText").String(),
			FilterText: item.Get("filterText").String(),
			InsertText: insert,
		}
		if doc := item.Get("documentation"); doc.Exists() {
			ci.Documentation = doc.Value()
		}
		list.Items = append(list.Items, ci)
		return true
	})
	return list
}

// EmptyCompletion is the neutral completion result: empty and complete.
func EmptyCompletion() protocol.CompletionList {
	return protocol.CompletionList{IsIncomplete: false, Items: []protocol.CompletionItem{}}
}

// SignatureHelp maps an engine signature help result.
func SignatureHelp(raw json.RawMessage) *protocol.SignatureHelp {
	help := &protocol.SignatureHelp{
		Signatures:      []protocol.SignatureInformation{},
		ActiveSignature: clampInt(gjson.GetBytes(raw, "activeSignature").Int()),
		ActiveParameter: clampInt(gjson.GetBytes(raw, "activeParameter").Int()),
	}
	gjson.GetBytes(raw, "signatures").ForEach(func(_, sig gjson.Result) bool {
		si := protocol.SignatureInformation{Label: sig.Get("label").String()}
		if doc := sig.Get("documentation"); doc.Exists() {
			si.Documentation = doc.Value()
		}
		sig.Get("parameters").ForEach(func(_, p gjson.Result) bool {
			pi := protocol.ParameterInformation{Label: p.Get("label").String()}
			if doc := p.Get("documentation"); doc.Exists() {
				pi.Documentation = doc.Value()
			}
			si.Parameters = append(si.Parameters, pi)
			return true
		})
		help.Signatures = append(help.Signatures, si)
		return true
	})
	return help
}

// Hover maps an engine hover result. Nil means nothing to show. The range
// defaults to the zero position when the engine does not provide one.
func Hover(raw json.RawMessage) *protocol.Hover {
	contents := gjson.GetBytes(raw, "contents").String()
	if contents == "" {
		return nil
	}
	rng := mapRange(gjson.GetBytes(raw, "range"))
	return &protocol.Hover{
		Contents: protocol.MarkupContent{Kind: protocol.MarkupKindMarkdown, Value: contents},
		Range:    &rng,
	}
}

// Diagnostics maps an engine diagnostics result.
func Diagnostics(raw json.RawMessage) []protocol.Diagnostic {
	out := []protocol.Diagnostic{}
	gjson.GetBytes(raw, "diagnostics").ForEach(func(_, d gjson.Result) bool {
		diag := protocol.Diagnostic{
			Range:    mapRange(d.Get("range")),
			Severity: severity(d.Get("severity")),
			Message:  d.Get("message").String(),
			Source:   d.Get("source").String(),
		}
		if diag.Source == "" {
			diag.Source = "dax"
		}
		if code := d.Get("code"); code.Exists() {
			diag.Code = code.Value()
		}
		out = append(out, diag)
		return true
	})
	return out
}

// completionKind maps the engine's item kind onto the protocol's. Anything
// unrecognized reads as plain text.
func completionKind(v gjson.Result) protocol.CompletionItemKind {
	switch v.Int() {
	case 2:
		return protocol.CompletionItemKindMethod
	case 3:
		return protocol.CompletionItemKindFunction
	case 5:
		return protocol.CompletionItemKindField
	case 6:
		return protocol.CompletionItemKindVariable
	case 7:
		return protocol.CompletionItemKindClass
	case 14:
		return protocol.CompletionItemKindKeyword
	default:
		return protocol.CompletionItemKindText
	}
}

// severity maps the engine's severity onto the protocol's. Anything
// unrecognized reads as an error.
func severity(v gjson.Result) protocol.DiagnosticSeverity {
	switch v.Int() {
	case 2:
		return protocol.SeverityWarning
	case 3:
		return protocol.SeverityInformation
	case 4:
		return protocol.SeverityHint
	default:
		return protocol.SeverityError
	}
}

// mapRange converts an engine range, defaulting missing pieces to the zero
// position.
func mapRange(v gjson.Result) protocol.Range {
	if !v.Exists() {
		return protocol.Range{}
	}
	return protocol.Range{
		Start: mapPosition(v.Get("start")),
		End:   mapPosition(v.Get("end")),
	}
}

func mapPosition(v gjson.Result) protocol.Position {
	return protocol.Position{
		Line:      clampInt(v.Get("line").Int()),
		Character: clampInt(v.Get("character").Int()),
	}
}

func clampInt(v int64) int {
	if v < 0 {
		return 0
	}
	return int(v)
}

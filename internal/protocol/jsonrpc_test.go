package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestIsNotification(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{"no id", `{"jsonrpc":"2.0","method":"exit"}`, true},
		{"number id", `{"jsonrpc":"2.0","id":1,"method":"shutdown"}`, false},
		{"string id", `{"jsonrpc":"2.0","id":"a-1","method":"shutdown"}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req Request
			if err := json.Unmarshal([]byte(tt.raw), &req); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got := req.IsNotification(); got != tt.want {
				t.Errorf("IsNotification() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRequestKeepsRawID(t *testing.T) {
	var req Request
	if err := json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":"req-7","method":"x"}`), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := string(req.ID); got != `"req-7"` {
		t.Errorf("ID = %s, want raw string form", got)
	}
}

func TestNewResponseNilResult(t *testing.T) {
	data, err := json.Marshal(NewResponse(json.RawMessage("3"), nil))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"jsonrpc":"2.0","id":3,"result":null}`
	if string(data) != want {
		t.Errorf("response = %s, want %s", data, want)
	}
}

// A typed nil pointer must still serialize an explicit result:null, since
// handlers pass *Hover and *SignatureHelp values that may be nil.
func TestNewResponseTypedNilResult(t *testing.T) {
	var hov *Hover
	data, err := json.Marshal(NewResponse(json.RawMessage("4"), hov))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"jsonrpc":"2.0","id":4,"result":null}`
	if string(data) != want {
		t.Errorf("response = %s, want %s", data, want)
	}
}

func TestNewResponseMissingID(t *testing.T) {
	data, err := json.Marshal(NewResponse(nil, json.RawMessage(`"ok"`)))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"id":null`) {
		t.Errorf("response = %s, want id null", data)
	}
}

func TestNewErrorResponse(t *testing.T) {
	data, err := json.Marshal(NewErrorResponse(json.RawMessage("9"), CodeMethodNotFound, "no such method"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(data)
	if strings.Contains(s, `"result"`) {
		t.Errorf("error response carries result: %s", s)
	}
	if !strings.Contains(s, `"code":-32601`) || !strings.Contains(s, `"message":"no such method"`) {
		t.Errorf("response = %s", s)
	}
}

func TestResponseErrorError(t *testing.T) {
	err := &ResponseError{Code: CodeInternalError, Message: "boom"}
	if got := err.Error(); got != "rpc error -32603: boom" {
		t.Errorf("Error() = %q", got)
	}
}

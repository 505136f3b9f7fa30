package replication

import (
	"errors"
	"strings"
	"testing"
)

func TestOperation_TextRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		op   Operation
	}{
		{name: "simple put", op: PutOp("name", "alice")},
		{name: "value with spaces", op: PutOp("greeting", "hello   big\tworld")},
		{name: "key with spaces", op: PutOp("a key", "v")},
		{name: "reserved characters", op: PutOp("k+%", "50% off & more=yes")},
		{name: "unicode", op: PutOp("ключ", "значение ✓")},
		{name: "empty value", op: PutOp("k", "")},
		{name: "delete", op: DeleteOp("gone")},
		{name: "delete key with spaces", op: DeleteOp("x y")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, err := tt.op.MarshalText()
			if err != nil {
				t.Fatalf("MarshalText() error = %v", err)
			}
			// The receiver rejoins whitespace-split tokens with single spaces.
			fields := strings.Fields(string(text))
			rejoined := strings.Join(fields, " ")
			if rejoined != string(text) || len(fields) > 3 {
				t.Fatalf("encoded fields contain whitespace: %q", text)
			}

			var got Operation
			if err := got.UnmarshalText([]byte(rejoined)); err != nil {
				t.Fatalf("UnmarshalText(%q) error = %v", rejoined, err)
			}
			if got != tt.op {
				t.Fatalf("round trip = %+v, want %+v", got, tt.op)
			}
		})
	}
}

func TestOperation_Unmarshal_CaseInsensitiveVerb(t *testing.T) {
	for _, text := range []string{"delete k", "Delete k", "DELETE k"} {
		var op Operation
		if err := op.UnmarshalText([]byte(text)); err != nil {
			t.Fatalf("UnmarshalText(%q) error = %v", text, err)
		}
		if op != DeleteOp("k") {
			t.Fatalf("UnmarshalText(%q) = %+v", text, op)
		}
	}

	var op Operation
	if err := op.UnmarshalText([]byte("put k v")); err != nil {
		t.Fatalf("UnmarshalText(put) error = %v", err)
	}
	if op != PutOp("k", "v") {
		t.Fatalf("UnmarshalText(put) = %+v", op)
	}
}

func TestOperation_Unmarshal_RejectsMalformed(t *testing.T) {
	tests := []string{
		"",
		"   ",
		"PUT",
		"PUT a b c",
		"DELETE",
		"DELETE a b",
		"UPSERT a b",
		"PUT %zz v",
		"PUT k %zz",
	}

	for _, text := range tests {
		t.Run(text, func(t *testing.T) {
			op := PutOp("untouched", "yes")
			err := op.UnmarshalText([]byte(text))
			if !errors.Is(err, ErrMalformedOperation) {
				t.Fatalf("UnmarshalText(%q) error = %v, want ErrMalformedOperation", text, err)
			}
			if op != PutOp("untouched", "yes") {
				t.Fatalf("operation modified on error: %+v", op)
			}
		})
	}
}

func TestOperation_Marshal_RejectsInvalid(t *testing.T) {
	if _, err := PutOp("", "v").MarshalText(); !errors.Is(err, ErrMalformedOperation) {
		t.Fatalf("empty key error = %v, want ErrMalformedOperation", err)
	}
	if _, err := (Operation{Key: "k"}).MarshalText(); !errors.Is(err, ErrMalformedOperation) {
		t.Fatalf("zero kind error = %v, want ErrMalformedOperation", err)
	}
}

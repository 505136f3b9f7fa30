package replication

import (
	"fmt"
	"net/url"
	"strings"
)

// OpKind identifies the mutation carried by an Operation.
type OpKind int

// Supported operation kinds.
const (
	OpPut OpKind = iota + 1
	OpDelete
)

const (
	opVerbPut    = "PUT"
	opVerbDelete = "DELETE"
)

// Operation is a single store mutation propagated from a primary to its backups.
//
// The text form is "PUT <key> <value>" or "DELETE <key>" with key and value
// query-escaped, so an encoded operation never contains whitespace and survives
// line tokenization unchanged. An empty value is encoded by omitting the field.
type Operation struct {
	Kind  OpKind
	Key   string
	Value string
}

// PutOp returns an operation that upserts key.
func PutOp(key, value string) Operation {
	return Operation{Kind: OpPut, Key: key, Value: value}
}

// DeleteOp returns an operation that removes key.
func DeleteOp(key string) Operation {
	return Operation{Kind: OpDelete, Key: key}
}

// MarshalText implements encoding.TextMarshaler.
func (o Operation) MarshalText() ([]byte, error) {
	if o.Key == "" {
		return nil, fmt.Errorf("%w: empty key", ErrMalformedOperation)
	}
	key := url.QueryEscape(o.Key)

	switch o.Kind {
	case OpPut:
		if o.Value == "" {
			return []byte(opVerbPut + " " + key), nil
		}
		return []byte(opVerbPut + " " + key + " " + url.QueryEscape(o.Value)), nil
	case OpDelete:
		return []byte(opVerbDelete + " " + key), nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %d", ErrMalformedOperation, o.Kind)
	}
}

// UnmarshalText implements encoding.TextUnmarshaler. The verb is matched
// case-insensitively.
func (o *Operation) UnmarshalText(text []byte) error {
	parts := strings.Fields(string(text))
	if len(parts) == 0 {
		return fmt.Errorf("%w: empty", ErrMalformedOperation)
	}

	var op Operation
	switch strings.ToUpper(parts[0]) {
	case opVerbPut:
		if len(parts) != 2 && len(parts) != 3 {
			return fmt.Errorf("%w: %q", ErrMalformedOperation, text)
		}
		op.Kind = OpPut
		if len(parts) == 3 {
			value, err := url.QueryUnescape(parts[2])
			if err != nil {
				return fmt.Errorf("%w: value: %v", ErrMalformedOperation, err)
			}
			op.Value = value
		}
	case opVerbDelete:
		if len(parts) != 2 {
			return fmt.Errorf("%w: %q", ErrMalformedOperation, text)
		}
		op.Kind = OpDelete
	default:
		return fmt.Errorf("%w: unknown verb %q", ErrMalformedOperation, parts[0])
	}

	key, err := url.QueryUnescape(parts[1])
	if err != nil {
		return fmt.Errorf("%w: key: %v", ErrMalformedOperation, err)
	}
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrMalformedOperation)
	}
	op.Key = key

	*o = op
	return nil
}

func (k OpKind) String() string {
	switch k {
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

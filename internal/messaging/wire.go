package messaging

import (
	"errors"
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/bardlex/nanowork/internal/work"
)

// Message is a value carried on a Kafka topic in protobuf wire format.
// Unknown fields are skipped on decode so producers can add fields first.
type Message interface {
	Marshal() []byte
	Unmarshal(b []byte) error
}

var (
	_ Message = (*WorkRequest)(nil)
	_ Message = (*WorkResult)(nil)
)

// WorkRequest field numbers
const (
	reqRequestID  protowire.Number = 1
	reqRequester  protowire.Number = 2
	reqAction     protowire.Number = 3
	reqRoot       protowire.Number = 4
	reqWork       protowire.Number = 5
	reqDifficulty protowire.Number = 6
	reqCreatedAt  protowire.Number = 7
)

// WorkResult field numbers
const (
	resRequestID    protowire.Number = 1
	resAction       protowire.Number = 2
	resRoot         protowire.Number = 3
	resStatus       protowire.Number = 4
	resWork         protowire.Number = 5
	resDifficulty   protowire.Number = 6
	resValue        protowire.Number = 7
	resMultiplier   protowire.Number = 8
	resAttempts     protowire.Number = 9
	resCancelled    protowire.Number = 10
	resErrorType    protowire.Number = 11
	resErrorMessage protowire.Number = 12
	resDurationMs   protowire.Number = 13
	resCompletedAt  protowire.Number = 14
)

var errWireType = errors.New("unexpected wire type")

// Marshal encodes the request. Zero-valued fields are omitted.
func (r *WorkRequest) Marshal() []byte {
	b := make([]byte, 0, 96)
	b = appendString(b, reqRequestID, r.RequestID)
	b = appendString(b, reqRequester, r.Requester)
	b = appendVarint(b, reqAction, uint64(r.Action))
	if !r.Root.IsZero() {
		b = protowire.AppendTag(b, reqRoot, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Root[:])
	}
	b = appendFixed64(b, reqWork, uint64(r.Work))
	b = appendFixed64(b, reqDifficulty, r.Difficulty)
	b = appendTime(b, reqCreatedAt, r.CreatedAt)
	return b
}

// Unmarshal decodes b into r, replacing its contents
func (r *WorkRequest) Unmarshal(b []byte) error {
	*r = WorkRequest{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case reqRequestID:
			return consumeString(b, typ, &r.RequestID)
		case reqRequester:
			return consumeString(b, typ, &r.Requester)
		case reqAction:
			var v uint64
			n, err := consumeVarint(b, typ, &v)
			r.Action = Action(v)
			return n, err
		case reqRoot:
			return consumeRoot(b, typ, &r.Root)
		case reqWork:
			var v uint64
			n, err := consumeFixed64(b, typ, &v)
			r.Work = work.Nonce(v)
			return n, err
		case reqDifficulty:
			return consumeFixed64(b, typ, &r.Difficulty)
		case reqCreatedAt:
			return consumeTime(b, typ, &r.CreatedAt)
		}
		return -1, nil
	})
}

// Marshal encodes the result. Zero-valued fields are omitted.
func (r *WorkResult) Marshal() []byte {
	b := make([]byte, 0, 160)
	b = appendString(b, resRequestID, r.RequestID)
	b = appendVarint(b, resAction, uint64(r.Action))
	if !r.Root.IsZero() {
		b = protowire.AppendTag(b, resRoot, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Root[:])
	}
	b = appendString(b, resStatus, r.Status)
	b = appendFixed64(b, resWork, uint64(r.Work))
	b = appendFixed64(b, resDifficulty, r.Difficulty)
	b = appendFixed64(b, resValue, r.Value)
	b = appendFixed64(b, resMultiplier, math.Float64bits(r.Multiplier))
	b = appendVarint(b, resAttempts, r.Attempts)
	b = appendVarint(b, resCancelled, uint64(r.Cancelled))
	b = appendString(b, resErrorType, r.ErrorType)
	b = appendString(b, resErrorMessage, r.ErrorMessage)
	b = appendFixed64(b, resDurationMs, math.Float64bits(r.DurationMs))
	b = appendTime(b, resCompletedAt, r.CompletedAt)
	return b
}

// Unmarshal decodes b into r, replacing its contents
func (r *WorkResult) Unmarshal(b []byte) error {
	*r = WorkResult{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		var v uint64
		switch num {
		case resRequestID:
			return consumeString(b, typ, &r.RequestID)
		case resAction:
			n, err := consumeVarint(b, typ, &v)
			r.Action = Action(v)
			return n, err
		case resRoot:
			return consumeRoot(b, typ, &r.Root)
		case resStatus:
			return consumeString(b, typ, &r.Status)
		case resWork:
			n, err := consumeFixed64(b, typ, &v)
			r.Work = work.Nonce(v)
			return n, err
		case resDifficulty:
			return consumeFixed64(b, typ, &r.Difficulty)
		case resValue:
			return consumeFixed64(b, typ, &r.Value)
		case resMultiplier:
			n, err := consumeFixed64(b, typ, &v)
			r.Multiplier = math.Float64frombits(v)
			return n, err
		case resAttempts:
			return consumeVarint(b, typ, &r.Attempts)
		case resCancelled:
			n, err := consumeVarint(b, typ, &v)
			r.Cancelled = uint32(v)
			return n, err
		case resErrorType:
			return consumeString(b, typ, &r.ErrorType)
		case resErrorMessage:
			return consumeString(b, typ, &r.ErrorMessage)
		case resDurationMs:
			n, err := consumeFixed64(b, typ, &v)
			r.DurationMs = math.Float64frombits(v)
			return n, err
		case resCompletedAt:
			return consumeTime(b, typ, &r.CompletedAt)
		}
		return -1, nil
	})
}

// consumeFields walks b field by field. field returns the bytes it consumed,
// or -1 to have an unknown field skipped.
func consumeFields(b []byte, field func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		n, err := field(num, typ, b)
		if err != nil {
			return fmt.Errorf("field %d: %w", num, err)
		}
		if n < 0 {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
			}
		}
		b = b[n:]
	}
	return nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendFixed64(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, v)
}

// appendTime encodes t as signed unix nanoseconds
func appendTime(b []byte, num protowire.Number, t time.Time) []byte {
	if t.IsZero() {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(t.UnixNano()))
}

func consumeString(b []byte, typ protowire.Type, dst *string) (int, error) {
	if typ != protowire.BytesType {
		return 0, errWireType
	}
	v, n := protowire.ConsumeString(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*dst = v
	return n, nil
}

func consumeVarint(b []byte, typ protowire.Type, dst *uint64) (int, error) {
	if typ != protowire.VarintType {
		return 0, errWireType
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*dst = v
	return n, nil
}

func consumeFixed64(b []byte, typ protowire.Type, dst *uint64) (int, error) {
	if typ != protowire.Fixed64Type {
		return 0, errWireType
	}
	v, n := protowire.ConsumeFixed64(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*dst = v
	return n, nil
}

func consumeRoot(b []byte, typ protowire.Type, dst *work.Root) (int, error) {
	if typ != protowire.BytesType {
		return 0, errWireType
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	root, err := work.RootFromBytes(v)
	if err != nil {
		return 0, err
	}
	*dst = root
	return n, nil
}

func consumeTime(b []byte, typ protowire.Type, dst *time.Time) (int, error) {
	var v uint64
	n, err := consumeVarint(b, typ, &v)
	if err != nil {
		return 0, err
	}
	*dst = time.Unix(0, protowire.DecodeZigZag(v))
	return n, nil
}

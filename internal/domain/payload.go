package domain

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"gorm.io/datatypes"
)

// PayloadVersion tags the envelope layout written by this build.
const PayloadVersion = 1

// Payload is an opaque provider snapshot (render request/response, delivery
// result) stored as {"v":<version>,"data":<raw json>} in a single text column.
type Payload struct {
	Version int            `json:"v"`
	Data    datatypes.JSON `json:"data"`
}

// NewPayload marshals v into a versioned payload.
func NewPayload(v any) (Payload, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Payload{}, errors.Wrap(err, "marshal payload")
	}
	return Payload{Version: PayloadVersion, Data: datatypes.JSON(b)}, nil
}

// RawPayload wraps a provider body. Valid JSON is kept verbatim; anything
// else is stored as a JSON string so the column always holds valid JSON.
func RawPayload(b []byte) Payload {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return Payload{}
	}
	if json.Valid(b) {
		return Payload{Version: PayloadVersion, Data: datatypes.JSON(append([]byte(nil), b...))}
	}
	quoted, _ := json.Marshal(string(b))
	return Payload{Version: PayloadVersion, Data: datatypes.JSON(quoted)}
}

// ErrorPayload records an error summary as {"error": "..."}.
func ErrorPayload(err error) Payload {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	p, _ := NewPayload(map[string]string{"error": msg})
	return p
}

// IsZero reports whether the payload carries no data.
func (p Payload) IsZero() bool { return len(p.Data) == 0 }

// Decode unmarshals the payload data into dst.
func (p Payload) Decode(dst any) error {
	if p.IsZero() {
		return errors.New("empty payload")
	}
	return json.Unmarshal(p.Data, dst)
}

// Value implements driver.Valuer.
func (p Payload) Value() (driver.Value, error) {
	if p.IsZero() {
		return nil, nil
	}
	if p.Version == 0 {
		p.Version = PayloadVersion
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner. Rows written before the envelope existed
// (bare JSON) are wrapped as version 1.
func (p *Payload) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*p = Payload{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.Newf("payload: unsupported scan type %T", src)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		*p = Payload{}
		return nil
	}

	var env struct {
		V    *int            `json:"v"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err == nil && env.V != nil {
		*p = Payload{Version: *env.V, Data: datatypes.JSON(env.Data)}
		return nil
	}
	*p = RawPayload(raw)
	return nil
}

// GormDataType keeps the column a plain text blob on every dialect.
func (Payload) GormDataType() string { return "text" }

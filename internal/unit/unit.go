package unit

import "errors"

var (
	ErrMalformed           = errors.New("malformed unit frame")
	ErrUnsupportedEncoding = errors.New("unsupported encoding")
)

// Unit is one observed mutation of a tracked entity. Everything except ID and
// Deleted is payload and is handed to the store as-is.
type Unit struct {
	ID      uint64  `json:"id"`
	Deleted bool    `json:"deleted,omitempty"`
	Kind    string  `json:"kind,omitempty"`
	Owner   int32   `json:"owner,omitempty"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Health  int32   `json:"health,omitempty"`
	Frame   uint64  `json:"frame,omitempty"`
}

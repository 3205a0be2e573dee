package unit

import (
	"bytes"
	"fmt"
	"math"

	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/encoding/protowire"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Encoding is the serialization of a frame payload.
type Encoding string

const (
	EncodingJSON     Encoding = "json"
	EncodingProtobuf Encoding = "protobuf"
)

// Compression is applied on top of the encoded payload.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
)

// Protobuf field numbers.
//
//	message UnitBatch { repeated Unit units = 1; }
//	message Unit {
//	  uint64 id = 1; bool deleted = 2; string kind = 3; sint32 owner = 4;
//	  double x = 5; double y = 6; sint32 health = 7; uint64 frame = 8;
//	}
const (
	fieldBatchUnits protowire.Number = 1

	fieldID      protowire.Number = 1
	fieldDeleted protowire.Number = 2
	fieldKind    protowire.Number = 3
	fieldOwner   protowire.Number = 4
	fieldX       protowire.Number = 5
	fieldY       protowire.Number = 6
	fieldHealth  protowire.Number = 7
	fieldFrame   protowire.Number = 8
)

// Decoder turns wire frames into units. A Decoder is not safe for concurrent
// use; each source connection owns one.
type Decoder struct {
	encoding    Encoding
	compression Compression
	zstd        *zstd.Decoder
}

func NewDecoder(encoding Encoding, compression Compression) (*Decoder, error) {
	switch encoding {
	case EncodingJSON, EncodingProtobuf:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, encoding)
	}

	d := &Decoder{encoding: encoding, compression: compression}
	switch compression {
	case "", CompressionNone:
		d.compression = CompressionNone
	case CompressionZstd:
		zd, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("create zstd decoder: %w", err)
		}
		d.zstd = zd
	default:
		return nil, fmt.Errorf("%w: compression %q", ErrUnsupportedEncoding, compression)
	}
	return d, nil
}

// Decode returns the units carried by one frame, in frame order.
func (d *Decoder) Decode(frame []byte) ([]Unit, error) {
	payload := frame
	if d.zstd != nil {
		var err error
		payload, err = d.zstd.DecodeAll(frame, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress frame: %w", err)
		}
	}

	if d.encoding == EncodingProtobuf {
		return DecodeProto(payload)
	}
	return DecodeJSON(payload)
}

// Close releases decoder resources.
func (d *Decoder) Close() {
	if d.zstd != nil {
		d.zstd.Close()
	}
}

// DecodeJSON accepts either a single unit object or an array of them.
func DecodeJSON(data []byte) ([]Unit, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrMalformed)
	}

	if trimmed[0] == '[' {
		var units []Unit
		if err := json.Unmarshal(trimmed, &units); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return units, nil
	}

	var u Unit
	if err := json.Unmarshal(trimmed, &u); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return []Unit{u}, nil
}

// EncodeJSON is the inverse of DecodeJSON for a single unit.
func EncodeJSON(u Unit) ([]byte, error) {
	return json.Marshal(u)
}

// DecodeProto parses a UnitBatch message.
func DecodeProto(data []byte) ([]Unit, error) {
	var units []Unit
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		data = data[n:]

		if num == fieldBatchUnits && typ == protowire.BytesType {
			msg, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			u, err := decodeProtoUnit(msg)
			if err != nil {
				return nil, err
			}
			units = append(units, u)
			data = data[n:]
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		data = data[n:]
	}
	return units, nil
}

func decodeProtoUnit(data []byte) (Unit, error) {
	var u Unit
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Unit{}, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case fieldID, fieldDeleted, fieldOwner, fieldHealth, fieldFrame:
			if typ != protowire.VarintType {
				return Unit{}, fmt.Errorf("%w: field %d has wire type %d", ErrMalformed, num, typ)
			}
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return Unit{}, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			data = data[n:]
			switch num {
			case fieldID:
				u.ID = v
			case fieldDeleted:
				u.Deleted = protowire.DecodeBool(v)
			case fieldOwner:
				u.Owner = int32(protowire.DecodeZigZag(v))
			case fieldHealth:
				u.Health = int32(protowire.DecodeZigZag(v))
			case fieldFrame:
				u.Frame = v
			}

		case fieldX, fieldY:
			if typ != protowire.Fixed64Type {
				return Unit{}, fmt.Errorf("%w: field %d has wire type %d", ErrMalformed, num, typ)
			}
			v, n := protowire.ConsumeFixed64(data)
			if n < 0 {
				return Unit{}, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			data = data[n:]
			if num == fieldX {
				u.X = math.Float64frombits(v)
			} else {
				u.Y = math.Float64frombits(v)
			}

		case fieldKind:
			if typ != protowire.BytesType {
				return Unit{}, fmt.Errorf("%w: field %d has wire type %d", ErrMalformed, num, typ)
			}
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return Unit{}, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			data = data[n:]
			u.Kind = string(v)

		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return Unit{}, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return u, nil
}

// AppendProto appends a UnitBatch message holding units to b.
func AppendProto(b []byte, units ...Unit) []byte {
	for _, u := range units {
		b = protowire.AppendTag(b, fieldBatchUnits, protowire.BytesType)
		b = protowire.AppendBytes(b, appendProtoUnit(nil, u))
	}
	return b
}

func appendProtoUnit(b []byte, u Unit) []byte {
	b = protowire.AppendTag(b, fieldID, protowire.VarintType)
	b = protowire.AppendVarint(b, u.ID)
	if u.Deleted {
		b = protowire.AppendTag(b, fieldDeleted, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	if u.Kind != "" {
		b = protowire.AppendTag(b, fieldKind, protowire.BytesType)
		b = protowire.AppendString(b, u.Kind)
	}
	if u.Owner != 0 {
		b = protowire.AppendTag(b, fieldOwner, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(u.Owner)))
	}
	b = protowire.AppendTag(b, fieldX, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(u.X))
	b = protowire.AppendTag(b, fieldY, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(u.Y))
	if u.Health != 0 {
		b = protowire.AppendTag(b, fieldHealth, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(u.Health)))
	}
	if u.Frame != 0 {
		b = protowire.AppendTag(b, fieldFrame, protowire.VarintType)
		b = protowire.AppendVarint(b, u.Frame)
	}
	return b
}

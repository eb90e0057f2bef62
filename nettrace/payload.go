// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package nettrace

import (
	"github.com/pkg/errors"

	"github.com/danjacques/gonettrace/support/binreader"
)

// TypeCode identifies a parameter's wire type in an event's payload schema.
type TypeCode int32

// Type codes, as they appear in metadata type signatures.
const (
	TypeStruct   TypeCode = 1
	TypeBoolean  TypeCode = 3
	TypeChar     TypeCode = 4
	TypeInt8     TypeCode = 5
	TypeUint8    TypeCode = 6
	TypeInt16    TypeCode = 7
	TypeUint16   TypeCode = 8
	TypeInt32    TypeCode = 9
	TypeUint32   TypeCode = 10
	TypeInt64    TypeCode = 11
	TypeUint64   TypeCode = 12
	TypeFloat32  TypeCode = 13
	TypeFloat64  TypeCode = 14
	TypeDecimal  TypeCode = 15
	TypeDateTime TypeCode = 16
	TypeGUID     TypeCode = 17
	TypeString   TypeCode = 18
	TypeArray    TypeCode = 19
)

// Size and offset sentinels for PayloadFetch.
const (
	// SizeNulTerminated marks a field whose extent is a UTF-16 NUL
	// terminator.
	SizeNulTerminated uint16 = 0xFFFF
	// SizeCountedArray marks a field prefixed by a u16 element count.
	SizeCountedArray uint16 = 0xFFFE

	// OffsetRuntime marks an offset that must be resolved against the actual
	// payload at decode time. Any earlier variable-size field forces all
	// subsequent offsets to OffsetRuntime.
	OffsetRuntime uint16 = 0xFFFF
)

// PayloadFetch describes how to pull one parameter out of an event payload.
type PayloadFetch struct {
	Type TypeCode
	// Size is the fixed byte width of the field, or one of the Size
	// sentinels.
	Size uint16
	// Offset is the byte offset of the field within the payload, or
	// OffsetRuntime.
	Offset uint16

	// Fields is populated for TypeStruct.
	Fields []NamedFetch
	// Element is populated for TypeArray.
	Element *PayloadFetch
}

// NamedFetch pairs a parameter name with its fetch descriptor.
type NamedFetch struct {
	Name  string
	Fetch PayloadFetch
}

// IsVariableSize reports whether the field's extent depends on payload
// contents.
func (f *PayloadFetch) IsVariableSize() bool {
	return f.Size == SizeNulTerminated || f.Size == SizeCountedArray || f.Type == TypeStruct
}

// fixedSizeForType returns the byte width of a fixed-size type code, or
// (0, false) for composite and variable types.
func fixedSizeForType(t TypeCode) (uint16, bool) {
	switch t {
	case TypeInt8, TypeUint8:
		return 1, true
	case TypeChar, TypeInt16, TypeUint16:
		return 2, true
	case TypeBoolean, TypeInt32, TypeUint32, TypeFloat32:
		return 4, true
	case TypeInt64, TypeUint64, TypeFloat64, TypeDateTime:
		return 8, true
	case TypeDecimal, TypeGUID:
		return 16, true
	default:
		return 0, false
	}
}

// fieldCount upper bound from the wire format.
const maxSchemaFieldCount = 0x4000

// parseType recursively decodes one type signature.
func parseType(r *binreader.R, layoutV2 bool) (PayloadFetch, error) {
	var f PayloadFetch

	code, err := r.Int32()
	if err != nil {
		return f, normalize(err)
	}
	f.Type = TypeCode(code)

	if size, ok := fixedSizeForType(f.Type); ok {
		f.Size = size
		return f, nil
	}

	switch f.Type {
	case TypeString:
		f.Size = SizeNulTerminated
		return f, nil

	case TypeStruct:
		count, err := r.Int32()
		if err != nil {
			return f, normalize(err)
		}
		if count < 0 || count >= maxSchemaFieldCount {
			return f, errors.Wrapf(ErrInvalidFormat, "struct field count %d", count)
		}
		if f.Fields, err = parseSchemaFields(r, int(count), layoutV2); err != nil {
			return f, err
		}
		return f, nil

	case TypeArray:
		elem, err := parseType(r, layoutV2)
		if err != nil {
			return f, err
		}
		f.Element = &elem
		f.Size = SizeCountedArray
		return f, nil

	default:
		return f, errors.Wrapf(ErrUnsupportedTypeCode, "type code %d", code)
	}
}

// parseSchemaFields decodes count schema entries.
//
// Layout V1 entries are a type signature followed by the parameter name.
// Layout V2 entries are self-sized: a byte length, the name, the type
// signature, and possibly trailing bytes to skip.
func parseSchemaFields(r *binreader.R, count int, layoutV2 bool) ([]NamedFetch, error) {
	fields := make([]NamedFetch, 0, count)
	for i := 0; i < count; i++ {
		var nf NamedFetch

		if layoutV2 {
			length, err := r.Int32()
			if err != nil {
				return nil, normalize(err)
			}
			if length < 4 {
				return nil, errors.Wrapf(ErrInvalidFormat, "schema field length %d", length)
			}
			end := r.Pos().Add(int(length) - 4)

			if nf.Name, err = r.UTF16NulString(); err != nil {
				return nil, normalize(err)
			}
			if nf.Fetch, err = parseType(r, layoutV2); err != nil {
				return nil, err
			}

			// Skip any trailing bytes the writer declared.
			skip := end.Sub(r.Pos())
			if skip < 0 {
				return nil, errors.Wrapf(ErrInvalidFormat, "schema field overruns its length by %d", -skip)
			}
			if skip > 0 {
				if err = r.Skip(skip); err != nil {
					return nil, normalize(err)
				}
			}
		} else {
			var err error
			if nf.Fetch, err = parseType(r, layoutV2); err != nil {
				return nil, err
			}
			if nf.Name, err = r.UTF16NulString(); err != nil {
				return nil, normalize(err)
			}
		}

		fields = append(fields, nf)
	}
	return fields, nil
}

// parseParameterSchema decodes a full parameter schema: a field count
// followed by that many entries, with offsets assigned.
func parseParameterSchema(r *binreader.R, layoutV2 bool) ([]NamedFetch, error) {
	count, err := r.Int32()
	if err != nil {
		return nil, normalize(err)
	}
	if count < 0 || count >= maxSchemaFieldCount {
		return nil, errors.Wrapf(ErrInvalidFormat, "schema field count %d", count)
	}

	fields, err := parseSchemaFields(r, int(count), layoutV2)
	if err != nil {
		return nil, err
	}
	assignOffsets(fields)
	return fields, nil
}

// assignOffsets walks the field list maintaining a rolling offset. Once a
// variable-size or composite field is seen, every subsequent offset is
// OffsetRuntime.
func assignOffsets(fields []NamedFetch) {
	offset := uint16(0)
	for i := range fields {
		f := &fields[i].Fetch
		if offset == OffsetRuntime || f.IsVariableSize() {
			offset = OffsetRuntime
			f.Offset = OffsetRuntime
			continue
		}
		f.Offset = offset
		offset += f.Size
	}
}

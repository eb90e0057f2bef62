// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package binreader

import (
	"encoding/binary"
	"unicode/utf16"
)

// Little-endian primitive reads.
//
// All of these advance the cursor by the width of the value. They return
// ErrShortSource if the source ends mid-value.

// Uint8 reads a single byte.
func (r *R) Uint8() (uint8, error) { return r.ReadByte() }

// Int16 reads a little-endian 16-bit signed integer.
func (r *R) Int16() (int16, error) {
	v, err := r.Next(2)
	if err != nil {
		return 0, err
	}
	return int16(binary.LittleEndian.Uint16(v)), nil
}

// Int32 reads a little-endian 32-bit signed integer.
func (r *R) Int32() (int32, error) {
	v, err := r.Next(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(v)), nil
}

// Int64 reads a little-endian 64-bit signed integer.
func (r *R) Int64() (int64, error) {
	v, err := r.Next(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(v)), nil
}

// GUID reads a 16-byte RFC-4122 in-memory GUID.
func (r *R) GUID() ([16]byte, error) {
	var g [16]byte
	v, err := r.Next(16)
	if err != nil {
		return g, err
	}
	copy(g[:], v)
	return g, nil
}

// UTF16NulString reads a UTF-16LE string terminated by a 0x0000 code unit.
// The terminator is consumed and not included in the result.
func (r *R) UTF16NulString() (string, error) {
	var units []uint16
	for {
		v, err := r.Next(2)
		if err != nil {
			return "", err
		}
		c := binary.LittleEndian.Uint16(v)
		if c == 0 {
			break
		}
		units = append(units, c)
	}
	if len(units) == 0 {
		return "", nil
	}
	return string(utf16.Decode(units)), nil
}

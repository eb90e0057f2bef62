// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package nettrace

import (
	"github.com/pkg/errors"

	"github.com/danjacques/gonettrace/support/binreader"
)

// Serialization tags used by the stream's object framing.
type tag byte

const (
	tagError              tag = 0
	tagNullReference      tag = 1
	tagObjectReference    tag = 2
	tagForwardReference   tag = 3
	tagBlob               tag = 4
	tagBeginPrivateObject tag = 5
	tagEndObject          tag = 6
	tagForwardDefinition  tag = 7
)

// streamHeaderMagic is the serialization preamble that opens every trace,
// with or without the Nettrace prefix.
const streamHeaderMagic = "!FastSerialization.1"

// netTraceMagic is the eight-byte literal that opens a V4+ trace.
var netTraceMagic = []byte("Nettrace")

// serializationType identifies a serialized object: its name and the version
// bounds its writer declared.
type serializationType struct {
	Name             string
	Version          int32
	MinReaderVersion int32
}

// readStreamHeader consumes the serialization preamble.
func readStreamHeader(r *binreader.R) error {
	n, err := r.Int32()
	if err != nil {
		return normalize(err)
	}
	if n != int32(len(streamHeaderMagic)) {
		return errors.Wrapf(ErrInvalidFormat, "stream header length %d", n)
	}
	v, err := r.Next(int(n))
	if err != nil {
		return normalize(err)
	}
	if string(v) != streamHeaderMagic {
		return errors.Wrapf(ErrInvalidFormat, "stream header %q", v)
	}
	return nil
}

// readTag consumes a single serialization tag.
func readTag(r *binreader.R) (tag, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, normalize(err)
	}
	return tag(b), nil
}

// expectTag consumes a tag and fails unless it matches want.
func expectTag(r *binreader.R, want tag) error {
	t, err := readTag(r)
	if err != nil {
		return err
	}
	if t != want {
		return errors.Wrapf(ErrInvalidFormat, "expected tag %d, got %d at %d", want, t, r.Pos())
	}
	return nil
}

// readSerializationType reads an object's type record:
//
//	BeginPrivateObject, NullReference, version:int32, minReaderVersion:int32,
//	nameLength:int32, name UTF-8 bytes, EndObject
func readSerializationType(r *binreader.R) (st serializationType, err error) {
	if err = expectTag(r, tagBeginPrivateObject); err != nil {
		return
	}
	if err = expectTag(r, tagNullReference); err != nil {
		return
	}
	if st.Version, err = r.Int32(); err != nil {
		err = normalize(err)
		return
	}
	if st.MinReaderVersion, err = r.Int32(); err != nil {
		err = normalize(err)
		return
	}
	var nameLen int32
	if nameLen, err = r.Int32(); err != nil {
		err = normalize(err)
		return
	}
	if nameLen < 0 || nameLen > 0x1000 {
		err = errors.Wrapf(ErrInvalidFormat, "object type name length %d", nameLen)
		return
	}
	var name []byte
	if name, err = r.Next(int(nameLen)); err != nil {
		err = normalize(err)
		return
	}
	st.Name = string(name)
	if err = expectTag(r, tagEndObject); err != nil {
		return
	}
	return
}

// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package nettrace

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/danjacques/gonettrace/support/binreader"
	"github.com/danjacques/gonettrace/support/logging"
)

// Well-known opcodes.
const (
	OpcodeInfo  uint8 = 0
	OpcodeStart uint8 = 1
	OpcodeStop  uint8 = 2
)

// Metadata blob extension tags.
const (
	metadataTagOpcode             uint8 = 1
	metadataTagParameterPayloadV2 uint8 = 2
)

// EventDescriptor is a registered event schema, decoded from a metadata
// event.
type EventDescriptor struct {
	// MetadataID is the trace-unique id events use to reference this
	// descriptor. Ids are assigned by the emitter starting from 1.
	MetadataID int32

	ProviderName string
	// ProviderID is derived from ProviderName; see ProviderGUIDFromName.
	ProviderID GUID

	EventID uint16
	// EventName is empty when the emitter did not name the event.
	EventName    string
	EventVersion uint8
	Keywords     uint64
	Level        uint8
	Opcode       uint8

	// ContainsParameterMetadata is false when the metadata carried no schema,
	// or when the schema was discarded because of an unsupported type code.
	ContainsParameterMetadata bool
	// Parameters is the ordered payload schema.
	Parameters []NamedFetch
}

// metadataRegistry maintains the mapping from metadata id to descriptor for
// the lifetime of a trace.
type metadataRegistry struct {
	logger  logging.L
	entries map[int32]*EventDescriptor
}

func newMetadataRegistry(logger logging.L) *metadataRegistry {
	return &metadataRegistry{
		logger:  logging.Must(logger),
		entries: map[int32]*EventDescriptor{},
	}
}

// register installs d, replacing any earlier registration with the same id.
func (mr *metadataRegistry) register(d *EventDescriptor) {
	if prev := mr.entries[d.MetadataID]; prev != nil {
		mr.logger.Warnf("metadata id %d re-registered (provider %q, event %d)",
			d.MetadataID, d.ProviderName, d.EventID)
	}
	mr.entries[d.MetadataID] = d
}

// lookup returns the descriptor for id, or nil.
func (mr *metadataRegistry) lookup(id int32) *EventDescriptor {
	return mr.entries[id]
}

// parseMetadataBlob decodes a metadata event payload into a descriptor.
//
// The descriptor takes the id stored inside the blob; that id is not compared
// with any id from the enclosing event header.
//
// An unsupported parameter type code is contained here: the descriptor is
// returned with no parameters rather than an error.
func parseMetadataBlob(payload []byte, logger logging.L) (*EventDescriptor, error) {
	r := binreader.FromBytes(payload)
	logger = logging.Must(logger)

	var d EventDescriptor
	id, err := r.Int32()
	if err != nil {
		return nil, normalize(err)
	}
	d.MetadataID = id

	if d.ProviderName, err = r.UTF16NulString(); err != nil {
		return nil, normalize(err)
	}
	d.ProviderID = ProviderGUIDFromName(d.ProviderName)

	eventID, err := r.Int32()
	if err != nil {
		return nil, normalize(err)
	}
	d.EventID = uint16(eventID)

	if d.EventName, err = r.UTF16NulString(); err != nil {
		return nil, normalize(err)
	}

	keywords, err := r.Int64()
	if err != nil {
		return nil, normalize(err)
	}
	d.Keywords = uint64(keywords)

	version, err := r.Int32()
	if err != nil {
		return nil, normalize(err)
	}
	d.EventVersion = uint8(version)

	level, err := r.Int32()
	if err != nil {
		return nil, normalize(err)
	}
	d.Level = uint8(level)
	if level > 5 {
		logger.Debugf("metadata id %d: level %d exceeds expected maximum", d.MetadataID, level)
	}

	// The base header may be followed by a parameter schema and tagged
	// extensions.
	var headerOpcode uint8
	if r.Remaining() > 0 {
		params, err := parseParameterSchema(r, false)
		switch errors.Cause(err) {
		case nil:
			d.Parameters = params
			d.ContainsParameterMetadata = true

			if err := parseMetadataTags(r, &d, &headerOpcode, logger); err != nil {
				return nil, err
			}

		case ErrUnsupportedTypeCode:
			// Contained: discard the schema and keep the descriptor. The
			// remainder of the blob cannot be located reliably, so the tags
			// are lost with it.
			logger.Warnf("metadata id %d (provider %q): %s; registering without parameters",
				d.MetadataID, d.ProviderName, err)
			d.Parameters = nil
			d.ContainsParameterMetadata = false

		default:
			return nil, err
		}
	}

	resolveOpcode(&d, headerOpcode)

	if override := wellKnownSchemaOverride(&d); override != nil {
		d.Parameters = override
		d.ContainsParameterMetadata = true
		assignOffsets(d.Parameters)
	}

	return &d, nil
}

// parseMetadataTags consumes the tagged extensions that follow a parameter
// schema: { tagLength:i32, tag:u8, tagBytes[tagLength] }.
func parseMetadataTags(r *binreader.R, d *EventDescriptor, headerOpcode *uint8, logger logging.L) error {
	for r.Remaining() >= 5 {
		tagLen, err := r.Int32()
		if err != nil {
			return normalize(err)
		}
		tagKind, err := r.Uint8()
		if err != nil {
			return normalize(err)
		}
		if tagLen < 0 || int(tagLen) > r.Remaining() {
			return errors.Wrapf(ErrInvalidFormat, "metadata tag %d length %d", tagKind, tagLen)
		}
		body, err := r.Next(int(tagLen))
		if err != nil {
			return normalize(err)
		}

		switch tagKind {
		case metadataTagOpcode:
			if len(body) < 1 {
				return errors.Wrap(ErrInvalidFormat, "empty opcode tag")
			}
			*headerOpcode = body[0]

		case metadataTagParameterPayloadV2:
			params, err := parseParameterSchema(binreader.FromBytes(body), true)
			switch errors.Cause(err) {
			case nil:
				d.Parameters = params
				d.ContainsParameterMetadata = true
			case ErrUnsupportedTypeCode:
				logger.Warnf("metadata id %d: %s in V2 parameter payload; registering without parameters",
					d.MetadataID, err)
				d.Parameters = nil
				d.ContainsParameterMetadata = false
			default:
				return err
			}

		default:
			logger.Debugf("metadata id %d: skipping unknown tag %d (%d bytes)",
				d.MetadataID, tagKind, tagLen)
		}
	}
	return nil
}

// resolveOpcode settles the descriptor's opcode: an explicit Opcode tag wins;
// otherwise a Start/Stop suffix on the event name implies the opcode and is
// stripped from the canonical name.
func resolveOpcode(d *EventDescriptor, headerOpcode uint8) {
	if headerOpcode != 0 {
		d.Opcode = headerOpcode
		return
	}

	lower := strings.ToLower(d.EventName)
	switch {
	case strings.HasSuffix(lower, "start"):
		d.Opcode = OpcodeStart
		d.EventName = d.EventName[:len(d.EventName)-len("start")]
	case strings.HasSuffix(lower, "stop"):
		d.Opcode = OpcodeStop
		d.EventName = d.EventName[:len(d.EventName)-len("stop")]
	default:
		d.Opcode = OpcodeInfo
	}
}

// diagnosticSourceProvider historically emitted argument payloads without
// metadata; its schema is substituted for the events it mis-declares.
const diagnosticSourceProvider = "Microsoft-Diagnostics-DiagnosticSource"

var diagnosticSourceEvents = map[string]struct{}{
	"Event":                   {},
	"Activity1Start":          {},
	"Activity1Stop":           {},
	"Activity2Start":          {},
	"Activity2Stop":           {},
	"RecursiveActivity1Start": {},
	"RecursiveActivity1Stop":  {},
}

// wellKnownSchemaOverride returns the substitute schema for descriptors that
// need one, or nil.
//
// The event-name check runs after opcode resolution has stripped any
// Start/Stop suffix, so it consults both the canonical name and the name with
// the opcode's suffix appended back.
func wellKnownSchemaOverride(d *EventDescriptor) []NamedFetch {
	if d.ProviderName != diagnosticSourceProvider {
		return nil
	}

	name := d.EventName
	if _, ok := diagnosticSourceEvents[name]; !ok {
		// The canonical name may have had its suffix stripped.
		switch d.Opcode {
		case OpcodeStart:
			name += "Start"
		case OpcodeStop:
			name += "Stop"
		}
		if _, ok := diagnosticSourceEvents[name]; !ok {
			return nil
		}
	}

	str := PayloadFetch{Type: TypeString, Size: SizeNulTerminated}
	return []NamedFetch{
		{Name: "SourceName", Fetch: str},
		{Name: "EventName", Fetch: str},
		{Name: "Arguments", Fetch: PayloadFetch{
			Type: TypeArray,
			Size: SizeCountedArray,
			Element: &PayloadFetch{
				Type: TypeStruct,
				Fields: []NamedFetch{
					{Name: "Key", Fetch: str},
					{Name: "Value", Fetch: str},
				},
			},
		}},
	}
}

// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package nettrace

import (
	"crypto/sha1"
	"fmt"
	"strings"
	"unicode/utf16"
)

// GUID is a 16-byte RFC-4122 identifier in its in-memory layout.
type GUID [16]byte

// String renders the GUID in its canonical form. The in-memory layout's
// first three groups are little-endian.
func (g GUID) String() string {
	return fmt.Sprintf("%02x%02x%02x%02x-%02x%02x-%02x%02x-%02x%02x-%02x%02x%02x%02x%02x%02x",
		g[3], g[2], g[1], g[0],
		g[5], g[4],
		g[7], g[6],
		g[8], g[9],
		g[10], g[11], g[12], g[13], g[14], g[15])
}

// ZeroGUID is the all-zero GUID, used for events with no provider name.
var ZeroGUID GUID

func mustParseGUID(s string) GUID {
	var g GUID
	hex := func(c byte) byte {
		switch {
		case c >= '0' && c <= '9':
			return c - '0'
		case c >= 'a' && c <= 'f':
			return c - 'a' + 10
		case c >= 'A' && c <= 'F':
			return c - 'A' + 10
		}
		panic("invalid GUID literal")
	}
	clean := strings.ReplaceAll(s, "-", "")
	if len(clean) != 32 {
		panic("invalid GUID literal")
	}
	var raw [16]byte
	for i := 0; i < 16; i++ {
		raw[i] = hex(clean[2*i])<<4 | hex(clean[2*i+1])
	}
	// The canonical string's first three groups are little-endian in memory.
	g[0], g[1], g[2], g[3] = raw[3], raw[2], raw[1], raw[0]
	g[4], g[5] = raw[5], raw[4]
	g[6], g[7] = raw[7], raw[6]
	copy(g[8:], raw[8:])
	return g
}

// Well-known provider registrations that predate name-hashed GUIDs.
var legacyProviderGUIDs = map[string]GUID{
	"Microsoft-Windows-DotNETRuntime":                  mustParseGUID("e13c0d23-ccbc-4e12-931b-d9cc2eee27e4"),
	"Microsoft-Windows-DotNETRuntimePrivate":           mustParseGUID("763fd754-7086-4dfe-95eb-c01a46faf4ca"),
	"Microsoft-Windows-DotNETRuntimeRundown":           mustParseGUID("a669021c-c450-4609-a035-5af59af4df18"),
	"Microsoft-Windows-DotNETRuntimeStress":            mustParseGUID("cc2bcbba-16b6-4cf3-8990-d74c2e8af500"),
	"System.Diagnostics.Eventing.FrameworkEventSource": mustParseGUID("8e9f5090-2d75-4d03-8a81-e5afbf85daf1"),
	"System.Threading.Tasks.TplEventSource":            mustParseGUID("2e5dba47-a3d2-4d16-8ee0-6671ffdcd7b5"),
	"Microsoft-DotNETCore-SampleProfiler":              mustParseGUID("3c530d44-97ae-513a-1e6d-783e8f8e03a9"),
}

// eventSourceNamespace is the namespace GUID mixed into name-hashed provider
// GUIDs by the EventSource name-to-GUID algorithm.
var eventSourceNamespace = [16]byte{
	0x48, 0x2C, 0x2D, 0xB2, 0xC3, 0x90, 0x47, 0xC8,
	0x87, 0xF8, 0x1A, 0x15, 0xBF, 0xC1, 0x30, 0xFB,
}

// ProviderGUIDFromName derives a provider's GUID from its name.
//
// Well-known legacy registrations return their constant GUIDs. Any other
// non-empty name is hashed with the EventSource name-to-GUID algorithm: the
// upper-cased name is encoded as big-endian UTF-16, appended to a fixed
// namespace, and digested with SHA-1; the first 16 digest bytes form the
// GUID with the version nibble forced to 5. An empty name yields ZeroGUID.
func ProviderGUIDFromName(name string) GUID {
	if name == "" {
		return ZeroGUID
	}
	if g, ok := legacyProviderGUIDs[name]; ok {
		return g
	}

	upper := strings.ToUpper(name)
	units := utf16.Encode([]rune(upper))
	buf := make([]byte, 0, len(eventSourceNamespace)+2*len(units))
	buf = append(buf, eventSourceNamespace[:]...)
	for _, u := range units {
		buf = append(buf, byte(u>>8), byte(u))
	}

	sum := sha1.Sum(buf)
	var g GUID
	copy(g[:], sum[:16])
	g[7] = (g[7] & 0x0F) | 0x50
	return g
}

// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package nettrace

import (
	"crypto/sha1"
	"unicode/utf16"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"
)

var _ = Describe("provider GUID derivation", func() {
	It("returns the zero GUID for an empty name", func() {
		Expect(ProviderGUIDFromName("")).To(Equal(ZeroGUID))
	})

	It("renders canonically", func() {
		g := ProviderGUIDFromName("Microsoft-Windows-DotNETRuntime")
		Expect(g.String()).To(Equal("e13c0d23-ccbc-4e12-931b-d9cc2eee27e4"))
	})

	DescribeTable("legacy registrations resolve to their constants",
		func(name, want string) {
			Expect(ProviderGUIDFromName(name)).To(Equal(mustParseGUID(want)))
		},
		Entry("CLR", "Microsoft-Windows-DotNETRuntime", "e13c0d23-ccbc-4e12-931b-d9cc2eee27e4"),
		Entry("CLR private", "Microsoft-Windows-DotNETRuntimePrivate", "763fd754-7086-4dfe-95eb-c01a46faf4ca"),
		Entry("CLR rundown", "Microsoft-Windows-DotNETRuntimeRundown", "a669021c-c450-4609-a035-5af59af4df18"),
		Entry("CLR stress", "Microsoft-Windows-DotNETRuntimeStress", "cc2bcbba-16b6-4cf3-8990-d74c2e8af500"),
		Entry("framework", "System.Diagnostics.Eventing.FrameworkEventSource", "8e9f5090-2d75-4d03-8a81-e5afbf85daf1"),
		Entry("TPL", "System.Threading.Tasks.TplEventSource", "2e5dba47-a3d2-4d16-8ee0-6671ffdcd7b5"),
		Entry("sample profiler", "Microsoft-DotNETCore-SampleProfiler", "3c530d44-97ae-513a-1e6d-783e8f8e03a9"),
	)

	Context("name-hashed GUIDs", func() {
		// referenceHash is an independent rendering of the EventSource
		// algorithm, kept deliberately literal.
		referenceHash := func(name string) GUID {
			input := eventSourceNamespace[:]
			for _, u := range utf16.Encode([]rune(name)) {
				input = append(input, byte(u>>8), byte(u&0xFF))
			}
			sum := sha1.Sum(input)

			var g GUID
			copy(g[:], sum[:16])
			g[7] = (g[7] & 0x0F) | 0x50
			return g
		}

		It("hashes custom source names", func() {
			g := ProviderGUIDFromName("Some-Custom-Source")
			Expect(g).To(Equal(referenceHash("SOME-CUSTOM-SOURCE")))
			Expect(g).ToNot(Equal(ZeroGUID))
		})

		It("is case-insensitive", func() {
			Expect(ProviderGUIDFromName("my-provider")).To(
				Equal(ProviderGUIDFromName("MY-PROVIDER")))
		})

		It("stamps the version nibble", func() {
			g := ProviderGUIDFromName("Some-Custom-Source")
			Expect(g[7] >> 4).To(Equal(byte(5)))
		})

		It("differs between names", func() {
			Expect(ProviderGUIDFromName("Provider-A")).ToNot(
				Equal(ProviderGUIDFromName("Provider-B")))
		})

		It("is stable across calls", func() {
			Expect(ProviderGUIDFromName("Some-Custom-Source")).To(
				Equal(ProviderGUIDFromName("Some-Custom-Source")))
		})
	})
})

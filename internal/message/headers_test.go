package message_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/forward-proxy/internal/message"
)

var _ = Describe("Headers", func() {
	It("should be usable as a zero value", func() {
		var h message.Headers
		Expect(h.Len()).To(Equal(0))
		_, ok := h.Get("Host")
		Expect(ok).To(BeFalse())
		Expect(h.Entries()).To(BeEmpty())
	})

	It("should append new names last", func() {
		h := message.NewHeaders(message.Header{Name: "A", Value: "1"}).With("B", "2")
		Expect(h.Entries()).To(Equal([]message.Header{{Name: "A", Value: "1"}, {Name: "B", Value: "2"}}))
	})

	It("should overwrite existing names in place", func() {
		h := message.NewHeaders(
			message.Header{Name: "A", Value: "1"},
			message.Header{Name: "B", Value: "2"},
		).With("A", "9")
		Expect(h.Entries()).To(Equal([]message.Header{{Name: "A", Value: "9"}, {Name: "B", Value: "2"}}))
	})

	It("should leave the original untouched", func() {
		orig := message.NewHeaders(message.Header{Name: "A", Value: "1"})
		_ = orig.With("A", "2").With("C", "3")

		Expect(orig.Len()).To(Equal(1))
		value, _ := orig.Get("A")
		Expect(value).To(Equal("1"))
	})

	It("should hand out copies from Entries", func() {
		h := message.NewHeaders(message.Header{Name: "A", Value: "1"})
		entries := h.Entries()
		entries[0].Value = "changed"

		value, _ := h.Get("A")
		Expect(value).To(Equal("1"))
	})
})

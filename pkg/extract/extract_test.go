package extract_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/reveriehq/reverie/pkg/extract"
)

var _ = Describe("Reasoning", func() {
	It("reads reasoning_content", func() {
		payload := []byte(`{"choices":[{"message":{"reasoning_content":"hmm","content":"hi"}}]}`)
		Expect(extract.Reasoning(payload)).To(Equal("hmm"))
	})

	It("falls back to reasoning", func() {
		payload := []byte(`{"choices":[{"message":{"reasoning":"hmm2","content":"hi"}}]}`)
		Expect(extract.Reasoning(payload)).To(Equal("hmm2"))
	})

	It("prefers reasoning_content when both are present", func() {
		payload := []byte(`{"choices":[{"message":{"reasoning_content":"a","reasoning":"b"}}]}`)
		Expect(extract.Reasoning(payload)).To(Equal("a"))
	})

	It("returns empty for payloads without reasoning", func() {
		payload := []byte(`{"choices":[{"message":{"content":"hi"}}]}`)
		Expect(extract.Reasoning(payload)).To(BeEmpty())
	})

	It("returns empty for invalid JSON", func() {
		Expect(extract.Reasoning([]byte(`{not json`))).To(BeEmpty())
	})
})

var _ = Describe("ResponseText", func() {
	It("reads the assistant message content", func() {
		payload := []byte(`{"choices":[{"message":{"content":"final answer"}}]}`)
		Expect(extract.ResponseText(payload)).To(Equal("final answer"))
	})

	It("returns empty when absent", func() {
		Expect(extract.ResponseText([]byte(`{}`))).To(BeEmpty())
	})
})

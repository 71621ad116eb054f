package capture_test

import (
	"context"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/reveriehq/reverie/pkg/cache"
	"github.com/reveriehq/reverie/pkg/capture"
	"github.com/reveriehq/reverie/pkg/storage"
	"github.com/reveriehq/reverie/pkg/storage/inmemory"
)

var _ = Describe("Capture Service", func() {
	var (
		ctx     context.Context
		service *capture.Service
		t1, t2  time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()

		cached, err := cache.New(cache.Config{Store: inmemory.NewDriver()})
		Expect(err).NotTo(HaveOccurred())

		service, err = capture.New(capture.Config{Cache: cached})
		Expect(err).NotTo(HaveOccurred())

		t1 = time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
		t2 = t1.Add(time.Minute)
	})

	Describe("OnReasoning", func() {
		It("makes the record visible to Latest", func() {
			service.OnReasoning("S1/dm", "user-1", "I think...", "Hello!", "hi", t1)

			rec, err := service.Latest(ctx, "S1/dm")
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Reasoning).To(Equal("I think..."))
			Expect(rec.TriggerID).To(Equal("user-1"))
		})

		It("overwrites the previous latest", func() {
			service.OnReasoning("S1/dm", "u", "first", "", "", t1)
			service.OnReasoning("S1/dm", "u", "second", "", "", t2)

			rec, err := service.Latest(ctx, "S1/dm")
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Reasoning).To(Equal("second"))
		})

		It("absorbs events without a key", func() {
			service.OnReasoning("", "u", "orphan", "", "", t1)

			_, err := service.Latest(ctx, "")
			Expect(storage.IsNotFound(err)).To(BeTrue())
		})

		It("drops events without reasoning text", func() {
			service.OnReasoning("S1/dm", "u", "", "resp", "", t1)

			_, err := service.Latest(ctx, "S1/dm")
			Expect(storage.IsNotFound(err)).To(BeTrue())
		})

		It("stamps missing timestamps", func() {
			service.OnReasoning("S1/dm", "u", "r", "", "", time.Time{})

			rec, err := service.Latest(ctx, "S1/dm")
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.CreatedAt).NotTo(BeZero())
		})
	})

	Describe("OnResponse", func() {
		It("extracts reasoning from a provider payload", func() {
			payload := []byte(`{"choices":[{"message":{"reasoning_content":"deep thought","content":"42"}}]}`)
			service.OnResponse("S1/dm", "u", payload, "question", t1)

			rec, err := service.Latest(ctx, "S1/dm")
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Reasoning).To(Equal("deep thought"))
			Expect(rec.Response).To(Equal("42"))
			Expect(rec.UserMessage).To(Equal("question"))
		})

		It("drops payloads without reasoning", func() {
			service.OnResponse("S1/dm", "u", []byte(`{"choices":[{"message":{"content":"hi"}}]}`), "", t1)

			_, err := service.Latest(ctx, "S1/dm")
			Expect(storage.IsNotFound(err)).To(BeTrue())
		})

		It("absorbs malformed payloads", func() {
			service.OnResponse("S1/dm", "u", []byte(`{broken`), "", t1)

			_, err := service.Latest(ctx, "S1/dm")
			Expect(storage.IsNotFound(err)).To(BeTrue())
		})
	})

	Describe("Latest", func() {
		It("truncates long reasoning for display only", func() {
			cached, err := cache.New(cache.Config{Store: inmemory.NewDriver()})
			Expect(err).NotTo(HaveOccurred())

			short, err := capture.New(capture.Config{Cache: cached, MaxReasoningLen: 10})
			Expect(err).NotTo(HaveOccurred())

			long := strings.Repeat("x", 50)
			short.OnReasoning("S1/dm", "u", long, "", "", t1)

			rec, err := short.Latest(ctx, "S1/dm")
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Reasoning).To(Equal(strings.Repeat("x", 10) + "..."))

			// The cached record keeps the full text.
			full, err := cached.GetLatest(ctx, "S1/dm")
			Expect(err).NotTo(HaveOccurred())
			Expect(full.Reasoning).To(Equal(long))
		})
	})
})

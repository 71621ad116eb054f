package inmemory_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/reveriehq/reverie/pkg/storage"
	"github.com/reveriehq/reverie/pkg/storage/inmemory"
	"github.com/reveriehq/reverie/pkg/thought"
)

var _ = Describe("Inmemory Driver", func() {
	var (
		ctx    context.Context
		driver *inmemory.Driver
		base   time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		driver = inmemory.NewDriver()
		base = time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	})

	rec := func(key, reasoning string, at time.Time) *thought.Record {
		return &thought.Record{ConversationKey: key, Reasoning: reasoning, CreatedAt: at}
	}

	It("rejects nil records", func() {
		Expect(driver.Append(ctx, nil)).NotTo(Succeed())
	})

	It("returns NotFoundError for empty partitions", func() {
		_, err := driver.ReadLatest(ctx, "empty")
		Expect(storage.IsNotFound(err)).To(BeTrue())
	})

	It("returns the second of two appends as latest", func() {
		Expect(driver.Append(ctx, rec("S1/dm", "r1", base))).To(Succeed())
		Expect(driver.Append(ctx, rec("S1/dm", "r2", base.Add(time.Second)))).To(Succeed())

		latest, err := driver.ReadLatest(ctx, "S1/dm")
		Expect(err).NotTo(HaveOccurred())
		Expect(latest.Reasoning).To(Equal("r2"))
	})

	It("breaks timestamp ties by insertion order", func() {
		Expect(driver.Append(ctx, rec("S1/dm", "first", base))).To(Succeed())
		Expect(driver.Append(ctx, rec("S1/dm", "second", base))).To(Succeed())

		latest, err := driver.ReadLatest(ctx, "S1/dm")
		Expect(err).NotTo(HaveOccurred())
		Expect(latest.Reasoning).To(Equal("second"))
	})

	It("keeps partitions isolated", func() {
		Expect(driver.Append(ctx, rec("S1/dm", "a", base))).To(Succeed())
		Expect(driver.Append(ctx, rec("S2/dm", "b", base))).To(Succeed())

		records, err := driver.ReadSince(ctx, "S1/dm", time.Time{}, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(records).To(HaveLen(1))
		Expect(records[0].Reasoning).To(Equal("a"))
	})

	It("applies cutoff and limit in ReadSince", func() {
		for i := 0; i < 5; i++ {
			Expect(driver.Append(ctx, rec("S1/dm", "r", base.Add(time.Duration(i)*time.Second)))).To(Succeed())
		}

		records, err := driver.ReadSince(ctx, "S1/dm", base, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(records).To(HaveLen(2))
		Expect(records[0].CreatedAt).To(Equal(base.Add(time.Second)))
	})

	It("upserts watermarks", func() {
		Expect(driver.PutWatermark(ctx, "S1/dm", thought.Watermark{URL: "u1"})).To(Succeed())
		Expect(driver.PutWatermark(ctx, "S1/dm", thought.Watermark{URL: "u2"})).To(Succeed())

		wm, err := driver.GetWatermark(ctx, "S1/dm")
		Expect(err).NotTo(HaveOccurred())
		Expect(wm.URL).To(Equal("u2"))
	})
})

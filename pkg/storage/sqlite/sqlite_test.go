package sqlite_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/reveriehq/reverie/pkg/storage"
	"github.com/reveriehq/reverie/pkg/storage/sqlite"
	"github.com/reveriehq/reverie/pkg/thought"
)

// sqliteTestRecord builds a record for key with a timestamp offset in
// seconds from a fixed base.
func sqliteTestRecord(key, reasoning string, offsetSec int) *thought.Record {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &thought.Record{
		ConversationKey: key,
		TriggerID:       "user-1",
		Reasoning:       reasoning,
		Response:        "reply",
		UserMessage:     "prompt",
		CreatedAt:       base.Add(time.Duration(offsetSec) * time.Second),
	}
}

var _ = Describe("SQLite Driver", func() {
	var (
		driver *sqlite.Driver
		ctx    context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		driver, err = sqlite.NewDriver(":memory:")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if driver != nil {
			driver.Close()
		}
	})

	Describe("NewDriver", func() {
		It("creates a driver with a file database", func() {
			tmpDir := GinkgoT().TempDir()
			dbPath := filepath.Join(tmpDir, "test.db")

			d, err := sqlite.NewDriver(dbPath)
			Expect(err).NotTo(HaveOccurred())
			defer d.Close()

			_, err = os.Stat(dbPath)
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("Append and ReadLatest", func() {
		It("returns NotFoundError for an unknown key", func() {
			_, err := driver.ReadLatest(ctx, "nobody")
			Expect(storage.IsNotFound(err)).To(BeTrue())
		})

		It("returns the newest of two appended records", func() {
			Expect(driver.Append(ctx, sqliteTestRecord("S1/dm", "first", 1))).To(Succeed())
			Expect(driver.Append(ctx, sqliteTestRecord("S1/dm", "second", 2))).To(Succeed())

			rec, err := driver.ReadLatest(ctx, "S1/dm")
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Reasoning).To(Equal("second"))
			Expect(rec.ConversationKey).To(Equal("S1/dm"))
		})

		It("breaks timestamp ties by insertion order", func() {
			Expect(driver.Append(ctx, sqliteTestRecord("tie", "a", 5))).To(Succeed())
			Expect(driver.Append(ctx, sqliteTestRecord("tie", "b", 5))).To(Succeed())

			rec, err := driver.ReadLatest(ctx, "tie")
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Reasoning).To(Equal("b"))
		})

		It("keeps partitions isolated per key", func() {
			Expect(driver.Append(ctx, sqliteTestRecord("a", "for-a", 1))).To(Succeed())
			Expect(driver.Append(ctx, sqliteTestRecord("b", "for-b", 2))).To(Succeed())

			rec, err := driver.ReadLatest(ctx, "a")
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Reasoning).To(Equal("for-a"))
		})
	})

	Describe("ReadSince", func() {
		BeforeEach(func() {
			for i := 1; i <= 6; i++ {
				Expect(driver.Append(ctx, sqliteTestRecord("hist", fmt.Sprintf("r%d", i), i))).To(Succeed())
			}
		})

		It("returns all records for the zero cutoff", func() {
			recs, err := driver.ReadSince(ctx, "hist", time.Time{}, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(recs).To(HaveLen(6))
		})

		It("returns only records strictly after the cutoff", func() {
			cutoff := sqliteTestRecord("hist", "", 4).CreatedAt
			recs, err := driver.ReadSince(ctx, "hist", cutoff, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(recs).To(HaveLen(2))
			Expect(recs[0].Reasoning).To(Equal("r5"))
			Expect(recs[1].Reasoning).To(Equal("r6"))
		})

		It("compares sub-second timestamps by time, not digit count", func() {
			// 0.1005s > 0.1s even though "…05.1005Z" < "…05.1Z" as text.
			base := time.Date(2025, 6, 1, 12, 0, 5, 0, time.UTC)
			rec := sqliteTestRecord("subsec", "after-cutoff", 0)
			rec.CreatedAt = base.Add(100500 * time.Microsecond)
			Expect(driver.Append(ctx, rec)).To(Succeed())

			recs, err := driver.ReadSince(ctx, "subsec", base.Add(100*time.Millisecond), 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(recs).To(HaveLen(1))
			Expect(recs[0].Reasoning).To(Equal("after-cutoff"))
		})

		It("orders records with mixed fractional precision by time", func() {
			base := time.Date(2025, 6, 1, 12, 0, 5, 0, time.UTC)
			offsets := []time.Duration{
				100 * time.Millisecond,
				100500 * time.Microsecond,
				time.Second,
				1005 * time.Millisecond,
			}
			for i, off := range offsets {
				rec := sqliteTestRecord("mixed", fmt.Sprintf("m%d", i), 0)
				rec.CreatedAt = base.Add(off)
				Expect(driver.Append(ctx, rec)).To(Succeed())
			}

			recs, err := driver.ReadSince(ctx, "mixed", time.Time{}, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(recs).To(HaveLen(4))
			for i := 1; i < len(recs); i++ {
				Expect(recs[i].CreatedAt.After(recs[i-1].CreatedAt)).To(BeTrue())
			}
			Expect(recs[0].Reasoning).To(Equal("m0"))
			Expect(recs[1].Reasoning).To(Equal("m1"))
			Expect(recs[3].Reasoning).To(Equal("m3"))
		})

		It("round-trips nanosecond timestamps exactly", func() {
			rec := sqliteTestRecord("nano", "precise", 0)
			rec.CreatedAt = time.Date(2025, 6, 1, 12, 0, 5, 123456789, time.UTC)
			Expect(driver.Append(ctx, rec)).To(Succeed())

			got, err := driver.ReadLatest(ctx, "nano")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.CreatedAt.Equal(rec.CreatedAt)).To(BeTrue())
		})

		It("orders ascending and truncates to the limit", func() {
			recs, err := driver.ReadSince(ctx, "hist", time.Time{}, 4)
			Expect(err).NotTo(HaveOccurred())
			Expect(recs).To(HaveLen(4))
			for i := 1; i < len(recs); i++ {
				Expect(recs[i].CreatedAt.After(recs[i-1].CreatedAt)).To(BeTrue())
			}
		})
	})

	Describe("watermarks", func() {
		It("returns NotFoundError before any commit", func() {
			_, err := driver.GetWatermark(ctx, "S1/dm")
			Expect(storage.IsNotFound(err)).To(BeTrue())
		})

		It("upserts on conflict", func() {
			first := thought.Watermark{URL: "https://x/1.json", LastExported: time.Date(2025, 6, 1, 12, 0, 1, 0, time.UTC)}
			second := thought.Watermark{URL: "https://x/2.json", LastExported: time.Date(2025, 6, 1, 12, 0, 2, 0, time.UTC)}

			Expect(driver.PutWatermark(ctx, "S1/dm", first)).To(Succeed())
			Expect(driver.PutWatermark(ctx, "S1/dm", second)).To(Succeed())

			got, err := driver.GetWatermark(ctx, "S1/dm")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.URL).To(Equal("https://x/2.json"))
			Expect(got.LastExported.Equal(second.LastExported)).To(BeTrue())
		})
	})
})

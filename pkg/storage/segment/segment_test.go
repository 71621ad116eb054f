package segment_test

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/reveriehq/reverie/pkg/storage"
	"github.com/reveriehq/reverie/pkg/storage/segment"
	"github.com/reveriehq/reverie/pkg/thought"
)

// testRecord builds a record for key with the given reasoning text and a
// timestamp offset in seconds from a fixed base.
func testRecord(key, reasoning string, offsetSec int) *thought.Record {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &thought.Record{
		ConversationKey: key,
		TriggerID:       "user-1",
		Reasoning:       reasoning,
		Response:        "reply to " + reasoning,
		UserMessage:     "prompt for " + reasoning,
		CreatedAt:       base.Add(time.Duration(offsetSec) * time.Second),
	}
}

var _ = Describe("Segment Driver", func() {
	var (
		driver *segment.Driver
		dir    string
		ctx    context.Context
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		var err error
		driver, err = segment.NewDriver(segment.Config{
			Dir:      dir,
			Capacity: 3,
			Retain:   2,
			Logger:   zap.NewNop(),
		})
		Expect(err).NotTo(HaveOccurred())
		ctx = context.Background()
	})

	Describe("Append and ReadLatest", func() {
		It("returns NotFoundError for an unknown key", func() {
			_, err := driver.ReadLatest(ctx, "nobody")
			Expect(storage.IsNotFound(err)).To(BeTrue())
		})

		It("returns the most recently appended record", func() {
			Expect(driver.Append(ctx, testRecord("S1/dm", "first", 1))).To(Succeed())
			Expect(driver.Append(ctx, testRecord("S1/dm", "second", 2))).To(Succeed())

			rec, err := driver.ReadLatest(ctx, "S1/dm")
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Reasoning).To(Equal("second"))
		})

		It("preserves the raw conversation key in the record payload", func() {
			Expect(driver.Append(ctx, testRecord("S1/dm", "first", 1))).To(Succeed())

			rec, err := driver.ReadLatest(ctx, "S1/dm")
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.ConversationKey).To(Equal("S1/dm"))
		})

		It("stores partitions under sanitized directory names", func() {
			Expect(driver.Append(ctx, testRecord("S1/dm", "first", 1))).To(Succeed())

			entries, err := os.ReadDir(dir)
			Expect(err).NotTo(HaveOccurred())
			for _, entry := range entries {
				Expect(entry.Name()).NotTo(ContainSubstring("/"))
			}
		})
	})

	Describe("rotation", func() {
		It("opens a new segment when the active one reaches capacity", func() {
			for i := range 4 {
				Expect(driver.Append(ctx, testRecord("rot", fmt.Sprintf("r%d", i), i))).To(Succeed())
			}

			partition := filepath.Join(dir, thought.SanitizeKey("rot"))
			entries, err := os.ReadDir(partition)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(2))
		})

		It("deletes oldest segments beyond the retention count", func() {
			// Capacity 3, retain 2: 12 appends want 4 segments, 2 survive.
			for i := range 12 {
				Expect(driver.Append(ctx, testRecord("rot", fmt.Sprintf("r%d", i), i))).To(Succeed())
			}

			partition := filepath.Join(dir, thought.SanitizeKey("rot"))
			entries, err := os.ReadDir(partition)
			Expect(err).NotTo(HaveOccurred())
			Expect(len(entries)).To(BeNumerically("<=", 2))

			// Newest records survive pruning.
			rec, err := driver.ReadLatest(ctx, "rot")
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Reasoning).To(Equal("r11"))
		})
	})

	Describe("ReadSince", func() {
		BeforeEach(func() {
			for i := 1; i <= 8; i++ {
				Expect(driver.Append(ctx, testRecord("hist", fmt.Sprintf("r%d", i), i))).To(Succeed())
			}
		})

		It("merges records across rotated segments", func() {
			recs, err := driver.ReadSince(ctx, "hist", time.Time{}, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(recs).To(HaveLen(8))
		})

		It("returns only records strictly after the cutoff, ascending", func() {
			cutoff := testRecord("hist", "", 3).CreatedAt
			recs, err := driver.ReadSince(ctx, "hist", cutoff, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(recs).To(HaveLen(5))
			Expect(recs[0].Reasoning).To(Equal("r4"))
			for i := 1; i < len(recs); i++ {
				Expect(recs[i].CreatedAt.After(recs[i-1].CreatedAt)).To(BeTrue())
			}
		})

		It("truncates to the limit", func() {
			recs, err := driver.ReadSince(ctx, "hist", time.Time{}, 3)
			Expect(err).NotTo(HaveOccurred())
			Expect(recs).To(HaveLen(3))
			Expect(recs[2].Reasoning).To(Equal("r3"))
		})

		It("holds the ordering property for random cutoffs", func() {
			rng := rand.New(rand.NewSource(42))
			for range 25 {
				cutoff := testRecord("hist", "", rng.Intn(10)).CreatedAt
				limit := rng.Intn(6)

				recs, err := driver.ReadSince(ctx, "hist", cutoff, limit)
				Expect(err).NotTo(HaveOccurred())
				if limit > 0 {
					Expect(len(recs)).To(BeNumerically("<=", limit))
				}
				for _, rec := range recs {
					Expect(rec.CreatedAt.After(cutoff)).To(BeTrue())
				}
				for i := 1; i < len(recs); i++ {
					Expect(recs[i].CreatedAt.Before(recs[i-1].CreatedAt)).To(BeFalse())
				}
			}
		})
	})

	Describe("corruption handling", func() {
		It("skips a corrupt segment and keeps reading valid ones", func() {
			for i := 1; i <= 6; i++ {
				Expect(driver.Append(ctx, testRecord("bad", fmt.Sprintf("r%d", i), i))).To(Succeed())
			}

			partition := filepath.Join(dir, thought.SanitizeKey("bad"))
			Expect(os.WriteFile(filepath.Join(partition, "segment_1.json"), []byte("{not json"), 0o644)).To(Succeed())

			recs, err := driver.ReadSince(ctx, "bad", time.Time{}, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(recs).To(HaveLen(3))

			rec, err := driver.ReadLatest(ctx, "bad")
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Reasoning).To(Equal("r6"))
		})
	})

	Describe("crash safety", func() {
		It("ignores a leftover temp file from an interrupted write", func() {
			Expect(driver.Append(ctx, testRecord("crash", "r1", 1))).To(Succeed())

			// Simulate a crash between temp-file creation and rename.
			partition := filepath.Join(dir, thought.SanitizeKey("crash"))
			Expect(os.WriteFile(filepath.Join(partition, "segment_1.json.tmp"), []byte("[{\"partial"), 0o644)).To(Succeed())

			rec, err := driver.ReadLatest(ctx, "crash")
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Reasoning).To(Equal("r1"))

			// The next append still lands in the real segment.
			Expect(driver.Append(ctx, testRecord("crash", "r2", 2))).To(Succeed())
			recs, err := driver.ReadSince(ctx, "crash", time.Time{}, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(recs).To(HaveLen(2))
		})
	})

	Describe("watermarks", func() {
		It("returns NotFoundError before any commit", func() {
			_, err := driver.GetWatermark(ctx, "S1/dm")
			Expect(storage.IsNotFound(err)).To(BeTrue())
		})

		It("round-trips a watermark", func() {
			wm := thought.Watermark{
				URL:          "https://cdn.example.com/memory/abc.json",
				LastExported: time.Date(2025, 6, 1, 12, 0, 5, 0, time.UTC),
			}
			Expect(driver.PutWatermark(ctx, "S1/dm", wm)).To(Succeed())

			got, err := driver.GetWatermark(ctx, "S1/dm")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.URL).To(Equal(wm.URL))
			Expect(got.LastExported.Equal(wm.LastExported)).To(BeTrue())
		})

		It("survives a driver restart", func() {
			wm := thought.Watermark{URL: "https://x/y.json", LastExported: time.Now().UTC()}
			Expect(driver.PutWatermark(ctx, "S1/dm", wm)).To(Succeed())

			reopened, err := segment.NewDriver(segment.Config{Dir: dir, Logger: zap.NewNop()})
			Expect(err).NotTo(HaveOccurred())

			got, err := reopened.GetWatermark(ctx, "S1/dm")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.URL).To(Equal(wm.URL))
		})
	})
})

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/reveriehq/reverie/pkg/cache"
	"github.com/reveriehq/reverie/pkg/capture"
	"github.com/reveriehq/reverie/pkg/export"
	"github.com/reveriehq/reverie/pkg/flush"
	"github.com/reveriehq/reverie/pkg/storage/inmemory"
	"github.com/reveriehq/reverie/pkg/thought"
)

type stubUploader struct {
	uploads int
}

func (u *stubUploader) Upload(_ context.Context, objectKey string, _ []byte) (string, error) {
	u.uploads++
	return "https://cdn.example.com/" + objectKey, nil
}

var _ = Describe("Handlers", func() {
	var (
		server   *Server
		capturer *capture.Service
		uploader *stubUploader
		base     time.Time
	)

	BeforeEach(func() {
		store := inmemory.NewDriver()

		scheduler, err := flush.NewScheduler(flush.Config{
			Store:         store,
			Debounce:      time.Hour,
			SweepInterval: time.Hour,
		})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(scheduler.Close)

		cached, err := cache.New(cache.Config{Store: store, Flusher: scheduler})
		Expect(err).NotTo(HaveOccurred())

		capturer, err = capture.New(capture.Config{Cache: cached})
		Expect(err).NotTo(HaveOccurred())

		cursor, err := export.NewCursor(export.CursorConfig{
			Reader:     store,
			Watermarks: cached,
			Flusher:    scheduler,
		})
		Expect(err).NotTo(HaveOccurred())

		uploader = &stubUploader{}
		pipeline, err := export.NewPipeline(export.PipelineConfig{
			Cursor:   cursor,
			Uploader: uploader,
		})
		Expect(err).NotTo(HaveOccurred())

		server = NewServer(Config{ListenAddr: ":0"}, capturer, store, scheduler, pipeline, zap.NewNop())
		base = time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	})

	request := func(method, path string) *http.Response {
		req, err := http.NewRequest(method, path, nil)
		Expect(err).NotTo(HaveOccurred())
		resp, err := server.app.Test(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	postJSON := func(path string, body any) *http.Response {
		payload, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		req, err := http.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", "application/json")
		resp, err := server.app.Test(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	decode := func(resp *http.Response, into any) {
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(json.Unmarshal(body, into)).To(Succeed())
	}

	keyQuery := "key=" + url.QueryEscape("S1/dm")

	Describe("GET /ping", func() {
		It("returns pong", func() {
			resp := request(http.MethodGet, "/ping")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("POST /thoughts", func() {
		It("requires a conversation key", func() {
			resp := postJSON("/thoughts", IngestRequest{Reasoning: "pondering"})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("requires reasoning or a payload", func() {
			resp := postJSON("/thoughts", IngestRequest{ConversationKey: "S1/dm"})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("captures pre-extracted reasoning", func() {
			resp := postJSON("/thoughts", IngestRequest{
				ConversationKey: "S1/dm",
				TriggerID:       "user-1",
				Reasoning:       "pondering",
				Response:        "hello",
				CreatedAt:       base,
			})
			Expect(resp.StatusCode).To(Equal(http.StatusAccepted))

			latest := request(http.MethodGet, "/thoughts/latest?"+keyQuery)
			Expect(latest.StatusCode).To(Equal(http.StatusOK))

			var rec thought.Record
			decode(latest, &rec)
			Expect(rec.Reasoning).To(Equal("pondering"))
			Expect(rec.Response).To(Equal("hello"))
		})

		It("extracts reasoning from a raw provider payload", func() {
			payload := `{"choices":[{"message":{"reasoning_content":"deep thought","content":"42"}}]}`
			resp := postJSON("/thoughts", IngestRequest{
				ConversationKey: "S1/dm",
				Payload:         json.RawMessage(payload),
				CreatedAt:       base,
			})
			Expect(resp.StatusCode).To(Equal(http.StatusAccepted))

			latest := request(http.MethodGet, "/thoughts/latest?"+keyQuery)
			Expect(latest.StatusCode).To(Equal(http.StatusOK))

			var rec thought.Record
			decode(latest, &rec)
			Expect(rec.Reasoning).To(Equal("deep thought"))
			Expect(rec.Response).To(Equal("42"))
		})

		It("absorbs payloads without a reasoning field", func() {
			payload := `{"choices":[{"message":{"content":"plain reply"}}]}`
			resp := postJSON("/thoughts", IngestRequest{
				ConversationKey: "S1/dm",
				Payload:         json.RawMessage(payload),
			})
			Expect(resp.StatusCode).To(Equal(http.StatusAccepted))

			latest := request(http.MethodGet, "/thoughts/latest?"+keyQuery)
			Expect(latest.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("GET /thoughts/latest", func() {
		It("requires a key", func() {
			resp := request(http.MethodGet, "/thoughts/latest")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("returns 404 for an unknown key", func() {
			resp := request(http.MethodGet, "/thoughts/latest?"+keyQuery)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("returns the latest captured record", func() {
			capturer.OnReasoning("S1/dm", "user-1", "pondering", "hello", "hi", base)

			resp := request(http.MethodGet, "/thoughts/latest?"+keyQuery)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var rec thought.Record
			decode(resp, &rec)
			Expect(rec.Reasoning).To(Equal("pondering"))
			Expect(rec.ConversationKey).To(Equal("S1/dm"))
		})
	})

	Describe("GET /thoughts/since", func() {
		BeforeEach(func() {
			capturer.OnReasoning("S1/dm", "u", "r1", "", "", base)
			capturer.OnReasoning("S1/dm", "u", "r2", "", "", base.Add(time.Minute))
		})

		It("returns all records including unflushed ones", func() {
			resp := request(http.MethodGet, "/thoughts/since?"+keyQuery)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var body struct {
				Count    int               `json:"count"`
				Thoughts []*thought.Record `json:"thoughts"`
			}
			decode(resp, &body)
			Expect(body.Count).To(Equal(2))
		})

		It("honors the after cutoff", func() {
			resp := request(http.MethodGet,
				"/thoughts/since?"+keyQuery+"&after="+url.QueryEscape(base.Format(time.RFC3339)))

			var body struct {
				Count int `json:"count"`
			}
			decode(resp, &body)
			Expect(body.Count).To(Equal(1))
		})

		It("rejects a malformed cutoff", func() {
			resp := request(http.MethodGet, "/thoughts/since?"+keyQuery+"&after=yesterday")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("POST /export", func() {
		It("returns 404 when nothing was ever captured", func() {
			resp := request(http.MethodPost, "/export?"+keyQuery)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("exports captured records and returns the URL", func() {
			capturer.OnReasoning("S1/dm", "u", "r1", "", "", base)

			resp := request(http.MethodPost, "/export?"+keyQuery)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var body ExportResponse
			decode(resp, &body)
			Expect(body.State).To(Equal("new-records"))
			Expect(body.Count).To(Equal(1))
			Expect(body.URL).To(HavePrefix("https://cdn.example.com/"))
		})

		It("returns the previous URL when nothing is new", func() {
			capturer.OnReasoning("S1/dm", "u", "r1", "", "", base)

			first := request(http.MethodPost, "/export?"+keyQuery)
			Expect(first.StatusCode).To(Equal(http.StatusOK))

			second := request(http.MethodPost, "/export?"+keyQuery)
			Expect(second.StatusCode).To(Equal(http.StatusOK))

			var body ExportResponse
			decode(second, &body)
			Expect(body.State).To(Equal("no-new"))
			Expect(uploader.uploads).To(Equal(1))
		})
	})
})

package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/scambait/internal/http/handler"
	"basegraph.app/scambait/internal/model"
	"basegraph.app/scambait/internal/service"
	"basegraph.app/scambait/internal/store"
)

var _ = Describe("ConversationHandler", func() {
	var (
		router *gin.Engine
		svc    *mockConversationService
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		svc = &mockConversationService{}
		h := handler.NewConversationHandler(svc, "X-Trace-Id")
		router.GET("/conversations/:conversation_id/events", h.Events)
		router.POST("/conversations/:conversation_id/events", h.Ingest)
		router.GET("/conversations/:conversation_id/turn", h.LatestTurn)
		router.DELETE("/conversations/:conversation_id/memory/:key", h.DeleteMemory)
	})

	serve := func(method, path string, body []byte) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Trace-Id", "trace-abc")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	Describe("Ingest", func() {
		It("returns 201 and forwards the trace id", func() {
			var got service.IngestEventParams
			svc.ingestFn = func(_ context.Context, params service.IngestEventParams) (*service.IngestEventResult, error) {
				got = params
				return &service.IngestEventResult{
					Event:    &model.Event{ID: 9, ConversationID: params.ConversationID, Role: params.Role},
					TaskID:   "task-9",
					Enqueued: true,
				}, nil
			}

			body, _ := json.Marshal(map[string]any{"role": "scammer", "text": "hi", "source_message_id": "tg:5"})
			w := serve(http.MethodPost, "/conversations/42/events", body)

			Expect(w.Code).To(Equal(http.StatusCreated))
			Expect(got.ConversationID).To(Equal(int64(42)))
			Expect(got.ExternalID).To(Equal("tg:5"))
			Expect(got.TraceID).NotTo(BeNil())
			Expect(*got.TraceID).To(Equal("trace-abc"))

			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["task_id"]).To(Equal("task-9"))
			Expect(resp["enqueued"]).To(BeTrue())
		})

		It("returns 200 for duplicates", func() {
			svc.ingestFn = func(context.Context, service.IngestEventParams) (*service.IngestEventResult, error) {
				return &service.IngestEventResult{Event: &model.Event{ID: 9}, Duplicated: true}, nil
			}
			body, _ := json.Marshal(map[string]any{"role": "scammer", "text": "hi"})
			Expect(serve(http.MethodPost, "/conversations/42/events", body).Code).To(Equal(http.StatusOK))
		})

		It("maps invalid input to 400", func() {
			svc.ingestFn = func(context.Context, service.IngestEventParams) (*service.IngestEventResult, error) {
				return nil, fmt.Errorf("%w: unknown role", service.ErrInvalidInput)
			}
			body, _ := json.Marshal(map[string]any{"role": "admin"})
			Expect(serve(http.MethodPost, "/conversations/42/events", body).Code).To(Equal(http.StatusBadRequest))
		})

		It("rejects bodies without a role", func() {
			Expect(serve(http.MethodPost, "/conversations/42/events", []byte(`{"text":"x"}`)).Code).To(Equal(http.StatusBadRequest))
		})

		It("rejects a malformed conversation id", func() {
			body, _ := json.Marshal(map[string]any{"role": "scammer"})
			Expect(serve(http.MethodPost, "/conversations/abc/events", body).Code).To(Equal(http.StatusBadRequest))
		})

		It("returns 500 when the service fails", func() {
			svc.ingestFn = func(context.Context, service.IngestEventParams) (*service.IngestEventResult, error) {
				return nil, errors.New("boom")
			}
			body, _ := json.Marshal(map[string]any{"role": "scammer"})
			Expect(serve(http.MethodPost, "/conversations/42/events", body).Code).To(Equal(http.StatusInternalServerError))
		})
	})

	Describe("Events", func() {
		It("applies the default limit and honours ?limit", func() {
			Expect(serve(http.MethodGet, "/conversations/42/events", nil).Code).To(Equal(http.StatusOK))
			Expect(svc.lastEventsArg).To(Equal(200))

			Expect(serve(http.MethodGet, "/conversations/42/events?limit=0", nil).Code).To(Equal(http.StatusOK))
			Expect(svc.lastEventsArg).To(Equal(0))
		})

		It("rejects out of range limits", func() {
			Expect(serve(http.MethodGet, "/conversations/42/events?limit=-1", nil).Code).To(Equal(http.StatusBadRequest))
			Expect(serve(http.MethodGet, "/conversations/42/events?limit=5000", nil).Code).To(Equal(http.StatusBadRequest))
		})
	})

	It("returns 404 when no turn exists", func() {
		svc.latestTurnFn = func(context.Context, int64) (*model.Turn, error) {
			return nil, store.ErrNotFound
		}
		Expect(serve(http.MethodGet, "/conversations/42/turn", nil).Code).To(Equal(http.StatusNotFound))
	})

	It("deletes memory keys", func() {
		var gotKey string
		svc.deleteMemory = func(_ context.Context, _ int64, key string) error {
			gotKey = key
			return nil
		}
		Expect(serve(http.MethodDelete, "/conversations/42/memory/victim_name", nil).Code).To(Equal(http.StatusNoContent))
		Expect(gotKey).To(Equal("victim_name"))
	})
})

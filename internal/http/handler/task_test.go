package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/scambait/internal/http/handler"
	"basegraph.app/scambait/internal/queue"
	"basegraph.app/scambait/internal/service"
	"basegraph.app/scambait/internal/status"
	"basegraph.app/scambait/internal/turn"
)

var _ = Describe("TaskHandler", func() {
	var (
		router *gin.Engine
		svc    *mockTaskService
		got    []service.TaskParams
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		got = nil
		svc = &mockTaskService{
			enqueueFn: func(_ context.Context, params service.TaskParams) (string, error) {
				got = append(got, params)
				return "task-7", nil
			},
		}
		h := handler.NewTaskHandler(svc, "X-Trace-Id")
		c := router.Group("/conversations/:conversation_id")
		c.POST("/generate", h.Generate)
		c.POST("/send", h.Send)
		c.POST("/abort", h.Abort)
		c.POST("/skip", h.Skip)
		c.POST("/auto", h.Auto)
		c.POST("/dry-run", h.DryRun)
		c.GET("/state", h.State)
		router.POST("/scan", h.Scan)
	})

	post := func(path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	DescribeTable("enqueues one task per control request",
		func(path, body string, want service.TaskParams) {
			w := post(path, body)
			Expect(w.Code).To(Equal(http.StatusAccepted))
			Expect(got).To(HaveLen(1))
			Expect(got[0].Type).To(Equal(want.Type))
			Expect(got[0].ConversationID).To(Equal(want.ConversationID))
			Expect(got[0].Trigger).To(Equal(want.Trigger))

			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["task_id"]).To(Equal("task-7"))
		},
		Entry("generate", "/conversations/5/generate", "", service.TaskParams{Type: queue.TaskTypeGenerate, ConversationID: 5}),
		Entry("generate with trigger", "/conversations/5/generate", `{"trigger":"operator"}`, service.TaskParams{Type: queue.TaskTypeGenerate, ConversationID: 5, Trigger: "operator"}),
		Entry("send", "/conversations/5/send", "", service.TaskParams{Type: queue.TaskTypeTriggerSend, ConversationID: 5}),
		Entry("abort", "/conversations/5/abort", "", service.TaskParams{Type: queue.TaskTypeAbortSend, ConversationID: 5}),
		Entry("skip", "/conversations/5/skip", "", service.TaskParams{Type: queue.TaskTypeSkip, ConversationID: 5}),
		Entry("dry run", "/conversations/5/dry-run", "", service.TaskParams{Type: queue.TaskTypeDryRun, ConversationID: 5}),
		Entry("scan", "/scan", `{"conversation_ids":[1,2]}`, service.TaskParams{Type: queue.TaskTypeScan}),
	)

	It("passes the auto flag through", func() {
		Expect(post("/conversations/5/auto", `{"enabled":false}`).Code).To(Equal(http.StatusAccepted))
		Expect(got).To(HaveLen(1))
		Expect(got[0].Enabled).NotTo(BeNil())
		Expect(*got[0].Enabled).To(BeFalse())
	})

	It("requires the auto flag", func() {
		Expect(post("/conversations/5/auto", `{}`).Code).To(Equal(http.StatusBadRequest))
		Expect(got).To(BeEmpty())
	})

	It("accepts a scan with no body", func() {
		Expect(post("/scan", "").Code).To(Equal(http.StatusAccepted))
		Expect(got[0].ConversationIDs).To(BeEmpty())
	})

	It("maps invalid input to 400", func() {
		svc.enqueueFn = func(context.Context, service.TaskParams) (string, error) {
			return "", fmt.Errorf("%w: nope", service.ErrInvalidInput)
		}
		Expect(post("/conversations/5/generate", "").Code).To(Equal(http.StatusBadRequest))
	})

	Describe("State", func() {
		get := func(path string) *httptest.ResponseRecorder {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
			return w
		}

		It("returns 404 before the worker published anything", func() {
			Expect(get("/conversations/5/state").Code).To(Equal(http.StatusNotFound))
		})

		It("returns the snapshot", func() {
			svc.stateFn = func(_ context.Context, id int64) (*turn.Pending, error) {
				return &turn.Pending{ConversationID: id, State: turn.StateWaiting}, nil
			}
			w := get("/conversations/5/state")
			Expect(w.Code).To(Equal(http.StatusOK))

			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["state"]).To(Equal(string(turn.StateWaiting)))
		})
	})
})

var _ = Describe("StatusStreamHandler", func() {
	It("relays feed entries as server-sent events and resumes from the last id", func() {
		gin.SetMode(gin.TestMode)
		router := gin.New()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var lastIDs []string
		svc := &mockTaskService{
			feedFn: func(_ context.Context, id int64, lastID string, _ time.Duration) ([]status.Entry, error) {
				lastIDs = append(lastIDs, lastID)
				if len(lastIDs) == 1 {
					return []status.Entry{{
						ID:             "1-0",
						Kind:           status.KindStateChanged,
						ConversationID: id,
						State:          &turn.Pending{ConversationID: id, State: turn.StateSendingTyping},
					}}, nil
				}
				cancel()
				return nil, ctx.Err()
			},
		}
		h := handler.NewStatusStreamHandler(svc)
		router.GET("/conversations/:conversation_id/stream", h.Stream)

		req := httptest.NewRequest(http.MethodGet, "/conversations/5/stream", nil).WithContext(ctx)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		Expect(w.Header().Get("Content-Type")).To(Equal("text/event-stream"))
		Expect(lastIDs).To(Equal([]string{"$", "1-0"}))

		body := w.Body.String()
		Expect(body).To(HavePrefix("event:ping\ndata:ready\n\n"))
		Expect(body).To(ContainSubstring("event:" + status.KindStateChanged + "\n"))
		Expect(body).To(ContainSubstring(`"state":"` + string(turn.StateSendingTyping) + `"`))
	})

	It("rejects a malformed conversation id", func() {
		router := gin.New()
		router.GET("/conversations/:conversation_id/stream", handler.NewStatusStreamHandler(&mockTaskService{}).Stream)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/conversations/x/stream", bytes.NewReader(nil)))
		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})
})

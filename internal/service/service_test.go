package service_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/scambait/internal/forward"
	"basegraph.app/scambait/internal/model"
	"basegraph.app/scambait/internal/queue"
	"basegraph.app/scambait/internal/service"
	"basegraph.app/scambait/internal/store"
)

func ptr[T any](v T) *T { return &v }

var _ = Describe("Services", func() {
	var (
		ctx      context.Context
		stores   *store.InMemory
		producer *mockProducer
		services *service.Services
	)

	BeforeEach(func() {
		ctx = context.Background()
		stores = store.NewInMemory()
		producer = &mockProducer{}
		services = service.NewServices(stores, producer, &mockStatus{}, 0)
	})

	Describe("IngestEvent", func() {
		It("enqueues an inbound task for a new counterparty message", func() {
			res, err := services.Conversations().IngestEvent(ctx, service.IngestEventParams{
				ConversationID: 42,
				ExternalID:     "tg:1",
				Role:           model.RoleScammer,
				Text:           "hello dear",
				TraceID:        ptr("trace-1"),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Enqueued).To(BeTrue())
			Expect(res.TaskID).To(Equal("task-1"))
			Expect(res.Event.EventType).To(Equal(model.EventTypeMessage))
			Expect(producer.tasks).To(ConsistOf(queue.Task{
				Type:           queue.TaskTypeInboundMessage,
				ConversationID: 42,
				TraceID:        ptr("trace-1"),
			}))
		})

		It("dedupes by source message id without enqueueing", func() {
			params := service.IngestEventParams{ConversationID: 42, ExternalID: "tg:1", Role: model.RoleScammer, Text: "hi"}
			_, err := services.Conversations().IngestEvent(ctx, params)
			Expect(err).NotTo(HaveOccurred())

			res, err := services.Conversations().IngestEvent(ctx, params)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Duplicated).To(BeTrue())
			Expect(res.Enqueued).To(BeFalse())
			Expect(producer.tasks).To(HaveLen(1))
		})

		It("records our own messages without scheduling anything", func() {
			res, err := services.Conversations().IngestEvent(ctx, service.IngestEventParams{ConversationID: 42, Role: model.RoleBaiter, Text: "ok"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Enqueued).To(BeFalse())
			Expect(producer.tasks).To(BeEmpty())
		})

		It("rejects unknown roles", func() {
			_, err := services.Conversations().IngestEvent(ctx, service.IngestEventParams{ConversationID: 42, Role: "admin"})
			Expect(err).To(MatchError(service.ErrInvalidInput))
		})

		It("returns enqueue failures", func() {
			producer.enqueueFn = func(context.Context, queue.Task) (string, error) {
				return "", errors.New("redis down")
			}
			_, err := services.Conversations().IngestEvent(ctx, service.IngestEventParams{ConversationID: 1, Role: model.RoleScammer, Text: "x"})
			Expect(err).To(MatchError(ContainSubstring("redis down")))
		})
	})

	Describe("Tasks", func() {
		It("requires a conversation except for scans", func() {
			_, err := services.Tasks().Enqueue(ctx, service.TaskParams{Type: queue.TaskTypeGenerate})
			Expect(err).To(MatchError(service.ErrInvalidInput))

			id, err := services.Tasks().Enqueue(ctx, service.TaskParams{Type: queue.TaskTypeScan})
			Expect(err).NotTo(HaveOccurred())
			Expect(id).NotTo(BeEmpty())
		})

		It("requires a flag for set_auto", func() {
			_, err := services.Tasks().Enqueue(ctx, service.TaskParams{Type: queue.TaskTypeSetAuto, ConversationID: 3})
			Expect(err).To(MatchError(service.ErrInvalidInput))
		})
	})

	Describe("Directives", func() {
		It("defaults the scope and trims text", func() {
			d, err := services.Directives().Add(ctx, 5, "  ask for their bank  ", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Text).To(Equal("ask for their bank"))
			Expect(d.Scope).To(Equal(model.DirectiveScopeChat))
			Expect(d.Active).To(BeTrue())
		})

		It("rejects empty text and unknown scopes", func() {
			_, err := services.Directives().Add(ctx, 5, "  ", model.DirectiveScopeOnce)
			Expect(err).To(MatchError(service.ErrInvalidInput))
			_, err = services.Directives().Add(ctx, 5, "x", "forever")
			Expect(err).To(MatchError(service.ErrInvalidInput))
		})
	})

	Describe("Forward", func() {
		copyFrom := func(sender int64, text string, minute int) forward.Copy {
			return forward.Copy{
				Date: time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC),
				Origin: &forward.Origin{
					Kind:       forward.OriginUser,
					Date:       ptr(time.Date(2026, 2, 1, 11, minute, 0, 0, time.UTC)),
					SenderUser: &forward.User{ID: ptr(sender), FirstName: "Sam"},
				},
				Text:             text,
				ControlChatID:    1,
				ControlMessageID: int64(minute),
			}
		}

		It("infers the target and enqueues generation for new counterparty items", func() {
			res, err := services.Forward().Ingest(ctx, service.ForwardParams{
				Copies: []forward.Copy{copyFrom(77, "send the fee", 1)},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Target).To(Equal(int64(77)))
			Expect(res.Decision.Mode).To(Equal(forward.ModeAppend))
			Expect(res.Inserted).To(HaveLen(1))
			Expect(res.Inserted[0].Role).To(Equal(model.RoleScammer))
			Expect(res.TaskID).NotTo(BeEmpty())
		})

		It("files unresolved batches under a placeholder alias without enqueueing", func() {
			alias, err := services.Forward().Alias("romance-1")
			Expect(err).NotTo(HaveOccurred())

			res, err := services.Forward().Ingest(ctx, service.ForwardParams{
				Alias:  "romance-1",
				Copies: []forward.Copy{copyFrom(77, "hi", 2)},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Target).To(Equal(alias))
			Expect(res.Placeholder).To(BeTrue())
			Expect(res.Inserted).To(HaveLen(1))
			Expect(res.Inserted[0].Role).To(Equal(model.RoleManual))
			Expect(producer.tasks).To(BeEmpty())
		})

		It("plans without writing", func() {
			plan, err := services.Forward().Plan(ctx, service.ForwardParams{Copies: []forward.Copy{copyFrom(77, "hi", 3)}})
			Expect(err).NotTo(HaveOccurred())
			Expect(plan.Decision.Mode).To(Equal(forward.ModeAppend))

			events, err := stores.Events().List(ctx, 77, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(events).To(BeEmpty())
		})

		It("rejects a blank alias", func() {
			_, err := services.Forward().Alias(" ")
			Expect(err).To(MatchError(service.ErrInvalidInput))
			Expect(err).To(MatchError(forward.ErrEmptyAlias))
		})
	})
})

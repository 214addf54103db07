package worker_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/scambait/internal/brain"
	"basegraph.app/scambait/internal/queue"
	"basegraph.app/scambait/internal/turn"
	"basegraph.app/scambait/internal/worker"
)

func ptr[T any](v T) *T { return &v }

var _ = Describe("Dispatcher", func() {
	var (
		ctx        context.Context
		engine     *mockEngine
		scanner    *mockScanner
		gen        *mockGenerator
		publisher  *mockPublisher
		dispatcher *worker.Dispatcher
	)

	BeforeEach(func() {
		ctx = context.Background()
		engine = &mockEngine{started: true}
		scanner = &mockScanner{}
		gen = &mockGenerator{}
		publisher = &mockPublisher{}
		dispatcher = worker.NewDispatcher(engine, gen, scanner, publisher)
	})

	DescribeTable("routes conversation tasks to the engine",
		func(msg queue.Message, want call) {
			msg.ConversationID = 42
			Expect(dispatcher.Dispatch(ctx, msg)).To(Succeed())
			Expect(engine.calls).To(ConsistOf(want))
		},
		Entry("inbound message", queue.Message{TaskType: queue.TaskTypeInboundMessage}, call{op: "auto_generate", id: 42, trigger: worker.TriggerInbound}),
		Entry("generate", queue.Message{TaskType: queue.TaskTypeGenerate}, call{op: "generate", id: 42, trigger: worker.TriggerManual}),
		Entry("generate with trigger", queue.Message{TaskType: queue.TaskTypeGenerate, Trigger: "operator"}, call{op: "generate", id: 42, trigger: "operator"}),
		Entry("trigger send", queue.Message{TaskType: queue.TaskTypeTriggerSend}, call{op: "send", id: 42, trigger: worker.TriggerManual}),
		Entry("abort", queue.Message{TaskType: queue.TaskTypeAbortSend}, call{op: "abort", id: 42}),
		Entry("skip", queue.Message{TaskType: queue.TaskTypeSkip}, call{op: "skip", id: 42}),
		Entry("set auto", queue.Message{TaskType: queue.TaskTypeSetAuto, Enabled: ptr(true)}, call{op: "set_auto", id: 42, on: true}),
	)

	It("treats a no-op machine operation as handled", func() {
		engine.started = false
		Expect(dispatcher.Dispatch(ctx, queue.Message{TaskType: queue.TaskTypeTriggerSend, ConversationID: 1})).To(Succeed())
	})

	It("fails an inbound task when events cannot be read", func() {
		engine.autoErr = errors.New("db down")
		err := dispatcher.Dispatch(ctx, queue.Message{TaskType: queue.TaskTypeInboundMessage, ConversationID: 1})
		Expect(err).To(MatchError(ContainSubstring("db down")))
	})

	It("rejects set_auto without a flag", func() {
		Expect(dispatcher.Dispatch(ctx, queue.Message{TaskType: queue.TaskTypeSetAuto, ConversationID: 1})).NotTo(Succeed())
		Expect(engine.calls).To(BeEmpty())
	})

	Describe("scan", func() {
		It("passes the requested subset", func() {
			Expect(dispatcher.Dispatch(ctx, queue.Message{TaskType: queue.TaskTypeScan, ConversationIDs: []int64{3, 4}})).To(Succeed())
			Expect(scanner.got).To(Equal([]int64{3, 4}))
		})

		It("drops the task while another scan runs", func() {
			scanner.scanFn = func(context.Context, []int64) (turn.ScanReport, error) {
				return turn.ScanReport{}, turn.ErrScanBusy
			}
			Expect(dispatcher.Dispatch(ctx, queue.Message{TaskType: queue.TaskTypeScan})).To(Succeed())
		})

		It("surfaces other scan failures", func() {
			scanner.scanFn = func(context.Context, []int64) (turn.ScanReport, error) {
				return turn.ScanReport{}, errors.New("boom")
			}
			Expect(dispatcher.Dispatch(ctx, queue.Message{TaskType: queue.TaskTypeScan})).NotTo(Succeed())
		})
	})

	Describe("dry run", func() {
		It("generates without registering and publishes the result", func() {
			Expect(dispatcher.Dispatch(ctx, queue.Message{TaskType: queue.TaskTypeDryRun, ConversationID: 9})).To(Succeed())

			Expect(gen.requests).To(ConsistOf(brain.Request{ConversationID: 9, Trigger: worker.TriggerManual, DryRun: true}))
			Expect(engine.calls).To(BeEmpty())
			Expect(publisher.published).To(HaveLen(1))
			Expect(publisher.published[0].result).NotTo(BeNil())
			Expect(publisher.published[0].err).To(BeNil())
		})

		It("publishes generation failures instead of retrying", func() {
			gen.generateFn = func(context.Context, brain.Request) (*brain.Result, error) {
				return nil, fmt.Errorf("%w after 2 attempt(s)", brain.ErrContractRejected)
			}
			Expect(dispatcher.Dispatch(ctx, queue.Message{TaskType: queue.TaskTypeDryRun, ConversationID: 9})).To(Succeed())
			Expect(publisher.published).To(HaveLen(1))
			Expect(publisher.published[0].err).To(MatchError(brain.ErrContractRejected))
		})

		It("fails when the result cannot be published", func() {
			publisher.err = errors.New("redis down")
			Expect(dispatcher.Dispatch(ctx, queue.Message{TaskType: queue.TaskTypeDryRun, ConversationID: 9})).NotTo(Succeed())
		})
	})
})

var _ = Describe("Worker", func() {
	var (
		engine   *mockEngine
		consumer *mockConsumer
		w        *worker.Worker
	)

	BeforeEach(func() {
		engine = &mockEngine{started: true}
		consumer = &mockConsumer{}
		dispatcher := worker.NewDispatcher(engine, &mockGenerator{}, &mockScanner{}, &mockPublisher{})
		w = worker.New(consumer, dispatcher, worker.Config{MaxAttempts: 2})
	})

	It("acknowledges a handled task", func() {
		err := w.ProcessMessage(context.Background(), queue.Message{ID: "1-0", TaskType: queue.TaskTypeSkip, ConversationID: 5})
		Expect(err).NotTo(HaveOccurred())
		Expect(consumer.acked).To(ConsistOf("1-0"))
	})

	It("recovers a panic without acknowledging", func() {
		engine.panicOn = "skip"
		err := w.ProcessMessage(context.Background(), queue.Message{ID: "1-0", TaskType: queue.TaskTypeSkip, ConversationID: 5})
		Expect(err).To(MatchError(ContainSubstring("panic")))
		Expect(consumer.acked).To(BeEmpty())
	})

	It("requeues failures until the attempt limit, then dead-letters them", func() {
		engine.autoErr = errors.New("db down")
		batches := [][]queue.Message{
			{{ID: "1-0", TaskType: queue.TaskTypeInboundMessage, ConversationID: 5, Attempt: 1}},
			{{ID: "2-0", TaskType: queue.TaskTypeInboundMessage, ConversationID: 5, Attempt: 2}},
		}
		// only the worker goroutine reads, so batches needs no lock
		consumer.readFn = func(ctx context.Context) ([]queue.Message, error) {
			if len(batches) == 0 {
				<-ctx.Done()
				return nil, ctx.Err()
			}
			next := batches[0]
			batches = batches[1:]
			return next, nil
		}

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- w.Run(ctx) }()

		Eventually(func() []string {
			consumer.mu.Lock()
			defer consumer.mu.Unlock()
			return consumer.dlq
		}).Should(ConsistOf("2-0"))

		cancel()
		Eventually(done, time.Second*2).Should(Receive())

		consumer.mu.Lock()
		defer consumer.mu.Unlock()
		Expect(consumer.requeued).To(ConsistOf("1-0"))
		Expect(consumer.lastError).To(ContainSubstring("db down"))
		Expect(consumer.acked).To(BeEmpty())
	})
})

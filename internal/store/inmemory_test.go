package store_test

import (
	"context"
	"errors"
	"sync"

	"basegraph.app/scambait/internal/model"
	"basegraph.app/scambait/internal/store"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("InMemory", func() {
	var (
		ctx      context.Context
		provider *store.InMemory
	)

	BeforeEach(func() {
		ctx = context.Background()
		provider = store.NewInMemory()
	})

	Describe("Events", func() {
		It("deduplicates by external id within a conversation", func() {
			first, created, err := provider.Events().Append(ctx, &model.Event{ConversationID: 7, ExternalID: "m1", Text: "hello", Role: model.RoleScammer})
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeTrue())

			again, created, err := provider.Events().Append(ctx, &model.Event{ConversationID: 7, ExternalID: "m1", Text: "changed"})
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeFalse())
			Expect(again.ID).To(Equal(first.ID))
			Expect(again.Text).To(Equal("hello"))

			_, created, err = provider.Events().Append(ctx, &model.Event{ConversationID: 8, ExternalID: "m1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeTrue())
		})

		It("lists the newest events in order", func() {
			for _, text := range []string{"a", "b", "c"} {
				_, _, err := provider.Events().Append(ctx, &model.Event{ConversationID: 1, Text: text})
				Expect(err).NotTo(HaveOccurred())
			}
			events, err := provider.Events().List(ctx, 1, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(events).To(HaveLen(2))
			Expect(events[0].Text).To(Equal("b"))
			Expect(events[1].Text).To(Equal("c"))

			ids, err := provider.Events().ConversationIDs(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(ids).To(Equal([]int64{1}))
		})
	})

	Describe("Turns", func() {
		It("deep-merges analysis with the previous turn", func() {
			_, err := provider.Turns().Save(ctx, &model.Turn{ConversationID: 3, Analysis: map[string]any{
				"directives": map[string]any{"acknowledged": []any{1}},
				"phase":      "rapport",
			}})
			Expect(err).NotTo(HaveOccurred())

			saved, err := provider.Turns().Save(ctx, &model.Turn{ConversationID: 3, Analysis: map[string]any{
				"directives": map[string]any{"rejected": []any{2}},
			}})
			Expect(err).NotTo(HaveOccurred())
			Expect(saved.Analysis).To(HaveKeyWithValue("phase", "rapport"))
			Expect(saved.Analysis["directives"]).To(Equal(map[string]any{
				"acknowledged": []any{1},
				"rejected":     []any{2},
			}))

			latest, err := provider.Turns().Latest(ctx, 3)
			Expect(err).NotTo(HaveOccurred())
			Expect(latest.ID).To(Equal(saved.ID))
		})

		It("returns ErrNotFound without turns", func() {
			_, err := provider.Turns().Latest(ctx, 99)
			Expect(errors.Is(err, store.ErrNotFound)).To(BeTrue())
		})
	})

	Describe("Directives", func() {
		It("deactivates only the listed ids", func() {
			once, err := provider.Directives().Add(ctx, &model.Directive{ConversationID: 4, Text: "ask for iban", Scope: model.DirectiveScopeOnce})
			Expect(err).NotTo(HaveOccurred())
			chat, err := provider.Directives().Add(ctx, &model.Directive{ConversationID: 4, Text: "be slow"})
			Expect(err).NotTo(HaveOccurred())
			Expect(chat.Scope).To(Equal(model.DirectiveScopeChat))

			n, err := provider.Directives().Deactivate(ctx, 4, []int64{once.ID, 12345})
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))

			active, err := provider.Directives().ListActive(ctx, 4)
			Expect(err).NotTo(HaveOccurred())
			Expect(active).To(ConsistOf(HaveField("ID", chat.ID)))
		})
	})

	Describe("Profiles", func() {
		It("records field-level history", func() {
			_, changes, err := provider.Profiles().Apply(ctx, 5, map[string]any{
				"identity": map[string]any{"username": "bob"},
			}, model.ProfileSourceForward)
			Expect(err).NotTo(HaveOccurred())
			Expect(changes).To(HaveLen(1))

			profile, changes, err := provider.Profiles().Apply(ctx, 5, map[string]any{
				"identity": map[string]any{"username": "bobby", "first_name": "Bob"},
			}, model.ProfileSourceForward)
			Expect(err).NotTo(HaveOccurred())
			Expect(changes).To(HaveLen(2))
			Expect(profile.Snapshot["identity"]).To(HaveKeyWithValue("username", "bobby"))

			_, changes, err = provider.Profiles().Apply(ctx, 5, map[string]any{
				"identity": map[string]any{"username": "bobby"},
			}, model.ProfileSourceForward)
			Expect(err).NotTo(HaveOccurred())
			Expect(changes).To(BeEmpty())

			history, err := provider.Profiles().Changes(ctx, 5, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(history).To(HaveLen(3))
		})
	})

	Describe("Memory", func() {
		It("upserts, lists and deletes", func() {
			Expect(provider.Memory().Upsert(ctx, 6, "bank", "Acme")).To(Succeed())
			Expect(provider.Memory().Upsert(ctx, 6, "bank", "Zenith")).To(Succeed())
			Expect(provider.Memory().Upsert(ctx, 6, "alias", "Ray")).To(Succeed())

			entries, err := provider.Memory().List(ctx, 6)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(2))
			Expect(entries[0].Key).To(Equal("alias"))
			Expect(entries[1].Value).To(Equal("Zenith"))

			Expect(provider.Memory().Delete(ctx, 6, "alias")).To(Succeed())
			Expect(errors.Is(provider.Memory().Delete(ctx, 6, "alias"), store.ErrNotFound)).To(BeTrue())
		})
	})

	Describe("WithTx", func() {
		It("lets nested store calls run under the held lock", func() {
			err := provider.WithTx(ctx, func(tx store.Provider) error {
				if _, err := tx.Turns().Save(ctx, &model.Turn{ConversationID: 2, Suggestion: "hi"}); err != nil {
					return err
				}
				_, err := tx.Directives().Deactivate(ctx, 2, []int64{1})
				return err
			})
			Expect(err).NotTo(HaveOccurred())
		})

		It("serializes concurrent writers", func() {
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer GinkgoRecover()
					_, _, err := provider.Events().Append(ctx, &model.Event{ConversationID: 9})
					Expect(err).NotTo(HaveOccurred())
				}()
			}
			wg.Wait()
			events, err := provider.Events().List(ctx, 9, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(events).To(HaveLen(20))
		})
	})
})

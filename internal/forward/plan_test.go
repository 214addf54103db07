package forward_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/scambait/internal/forward"
	"basegraph.app/scambait/internal/model"
	"basegraph.app/scambait/internal/store"
)

const scammerID = int64(4242)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

// userCopy is a forward of a text message originally sent by the scammer account.
func userCopy(n int, text string) forward.Copy {
	return forward.Copy{
		Date: base.Add(time.Hour),
		Origin: &forward.Origin{
			Kind: forward.OriginUser,
			Date: ptr(base.Add(time.Duration(n) * time.Minute)),
			SenderUser: &forward.User{
				ID:        ptr(scammerID),
				FirstName: "Mark",
				LastName:  "Ellis",
				Username:  "mark_e",
			},
		},
		ControlSender:    &forward.User{ID: ptr(int64(7)), FirstName: "Op"},
		Text:             text,
		ControlChatID:    99,
		ControlMessageID: int64(1000 + n),
	}
}

func channelCopy(msgID int64, text string) forward.Copy {
	return forward.Copy{
		Date: base,
		Origin: &forward.Origin{
			Kind:       forward.OriginChannel,
			MessageID:  ptr(msgID),
			SenderChat: &forward.Chat{ID: ptr(scammerID), Type: "channel", Title: "Crypto Desk"},
		},
		Text:             text,
		ControlChatID:    99,
		ControlMessageID: msgID + 500,
	}
}

func payloads(copies ...forward.Copy) []forward.Payload {
	out := make([]forward.Payload, len(copies))
	for i, c := range copies {
		target, ok := forward.InferTarget(c)
		Expect(ok).To(BeTrue())
		out[i] = forward.BuildPayload(c, forward.InferRole(c, target))
	}
	return out
}

var _ = Describe("Forward merge", func() {
	var (
		ctx      context.Context
		stores   *store.InMemory
		ingester *forward.Ingester
	)

	BeforeEach(func() {
		ctx = context.Background()
		stores = store.NewInMemory()
		ingester = forward.NewIngester(stores, 0)
	})

	ingest := func(batch []forward.Payload) *forward.IngestResult {
		res, err := ingester.Ingest(ctx, scammerID, batch, false)
		Expect(err).NotTo(HaveOccurred())
		return res
	}

	Describe("pre-flight", func() {
		It("refuses an unresolved target without placeholder permission", func() {
			d, err := forward.Plan(ctx, stores.Events(), 0, payloads(userCopy(1, "hi")), false)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Mode).To(Equal(forward.ModeUnresolved))
			Expect(d.Reason).To(Equal("target chat unresolved"))
			Expect(d.InsertPayloads).To(BeEmpty())
		})

		It("accepts a placeholder target when allowed", func() {
			alias, err := forward.PlaceholderAlias("mark")
			Expect(err).NotTo(HaveOccurred())
			d, err := forward.Plan(ctx, stores.Events(), alias, payloads(userCopy(1, "hi")), true)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Mode).To(Equal(forward.ModeAppend))
		})

		It("blocks an empty batch", func() {
			d, err := forward.Plan(ctx, stores.Events(), scammerID, nil, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Mode).To(Equal(forward.ModeBlocked))
			Expect(d.Reason).To(Equal("batch empty"))
		})

		It("blocks items without identity", func() {
			batch := []forward.Payload{{EventType: "message", Role: model.RoleScammer, Text: "x", Meta: map[string]any{}}}
			d, err := forward.Plan(ctx, stores.Events(), scammerID, batch, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Mode).To(Equal(forward.ModeBlocked))
			Expect(d.Reason).To(Equal("1 item(s) missing forward_identity"))
		})
	})

	It("inserts nothing when the same batch is ingested twice", func() {
		batch := payloads(userCopy(1, "hello"), userCopy(2, "are you there"))

		first := ingest(batch)
		Expect(first.Decision.Mode).To(Equal(forward.ModeAppend))
		Expect(first.Decision.Reason).To(Equal("append 2 item(s)"))
		Expect(first.Inserted).To(HaveLen(2))

		second := ingest(batch)
		Expect(second.Decision.Mode).To(Equal(forward.ModeBlocked))
		Expect(second.Decision.Reason).To(Equal("batch already present"))
		Expect(second.Inserted).To(BeEmpty())

		events, err := stores.Events().List(ctx, scammerID, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(HaveLen(2))
	})

	It("appends a batch that extends the stored tail", func() {
		ingest(payloads(userCopy(1, "a"), userCopy(2, "b")))

		res := ingest(payloads(userCopy(2, "b"), userCopy(3, "c")))
		Expect(res.Decision.Mode).To(Equal(forward.ModeAppend))
		Expect(res.Inserted).To(HaveLen(1))
		Expect(res.Inserted[0].Text).To(Equal("c"))
	})

	It("backfills when an unseen item precedes a known one", func() {
		ingest(payloads(userCopy(2, "b"), userCopy(3, "c")))

		res := ingest(payloads(userCopy(1, "a"), userCopy(2, "b")))
		Expect(res.Decision.Mode).To(Equal(forward.ModeBackfill))
		Expect(res.Decision.Reason).To(Equal("backfill 1 item(s)"))
	})

	It("backfills when the known prefix is not the stored tail", func() {
		ingest(payloads(userCopy(1, "a"), userCopy(2, "b"), userCopy(3, "c")))

		res := ingest(payloads(userCopy(1, "a"), userCopy(4, "d")))
		Expect(res.Decision.Mode).To(Equal(forward.ModeBackfill))
	})

	It("backfills a batch with no new counterparty items", func() {
		ingest(payloads(userCopy(1, "a")))

		own := userCopy(5, "my reply")
		own.Origin.SenderUser.ID = ptr(int64(7))
		batch := []forward.Payload{forward.BuildPayload(own, forward.InferRole(own, scammerID))}
		Expect(batch[0].Role).To(Equal(model.RoleManual))

		d, err := forward.Plan(ctx, stores.Events(), scammerID, batch, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Mode).To(Equal(forward.ModeBackfill))
	})

	It("marks an edited channel post as a revision", func() {
		ingest(payloads(channelCopy(10, "original")))

		batch := payloads(channelCopy(10, "edited"))
		d, err := forward.Plan(ctx, stores.Events(), scammerID, batch, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(d.InsertPayloads).To(HaveLen(1))
		meta := d.InsertPayloads[0].Meta
		Expect(meta).To(HaveKeyWithValue("revision_of_forward_identity_key", "channel:4242:10"))
		Expect(meta).To(HaveKeyWithValue("revision_reason", "content_changed"))
		Expect(batch[0].Meta).NotTo(HaveKey("revision_reason"))
	})

	It("upgrades a placeholder forward row", func() {
		ingest(payloads(channelCopy(11, "")))

		photo := channelCopy(11, "")
		photo.HasPhoto = true
		photo.PhotoUniqueID = "AQADx"
		d, err := forward.Plan(ctx, stores.Events(), scammerID, payloads(photo), false)
		Expect(err).NotTo(HaveOccurred())
		Expect(d.InsertPayloads).To(HaveLen(1))
		Expect(d.InsertPayloads[0].EventType).To(Equal(model.EventTypePhoto))
		Expect(d.InsertPayloads[0].Meta).To(HaveKey("revision_of_forward_identity_key"))
	})

	It("applies the forward profile to the snapshot", func() {
		ingest(payloads(userCopy(1, "hello")))

		profile, err := stores.Profiles().Get(ctx, scammerID)
		Expect(err).NotTo(HaveOccurred())
		identity, ok := profile.Snapshot["identity"].(map[string]any)
		Expect(ok).To(BeTrue())
		Expect(identity).To(HaveKeyWithValue("display_name", "Mark Ellis"))
		Expect(identity).To(HaveKeyWithValue("username", "mark_e"))
		Expect(profile.Snapshot).To(HaveKeyWithValue("provenance", map[string]any{"last_source": model.ProfileSourceForward}))

		changes, err := stores.Profiles().Changes(ctx, scammerID, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(changes).NotTo(BeEmpty())
		for _, c := range changes {
			Expect(c.Source).To(Equal(model.ProfileSourceForward))
		}
	})

	It("keeps the identity and profile meta on stored events", func() {
		res := ingest(payloads(userCopy(1, "hello")))
		e := res.Inserted[0]
		Expect(e.Role).To(Equal(model.RoleScammer))
		Expect(e.ExternalID).To(HavePrefix("fwd:v2:origin_signature:"))
		Expect(e.TsUTC).NotTo(BeNil())
		Expect(e.TsUTC.Equal(base.Add(time.Minute))).To(BeTrue())
		Expect(forward.ScammerName(e.Meta)).To(Equal("Mark Ellis"))
		Expect(forward.BaiterName(e.Meta)).To(Equal("Op"))
	})
})

package contract_test

import (
	"strings"
	"time"

	"basegraph.app/scambait/internal/contract"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func envelope(actions string) string {
	return `{"schema":"scambait.llm.v1","analysis":{},"message":{"text":"hi"},"actions":` + actions + `}`
}

var _ = Describe("ValidateText", func() {
	Context("top-level shape", func() {
		DescribeTable("rejects with a root issue when a required key is missing",
			func(raw string) {
				out, issues := contract.ValidateText(raw)
				Expect(out).To(BeNil())
				Expect(issues).NotTo(BeEmpty())
				Expect(issues[0].Path).To(Equal("root"))
			},
			Entry("schema", `{"analysis":{},"message":{},"actions":[{"type":"noop"}]}`),
			Entry("analysis", `{"schema":"scambait.llm.v1","message":{},"actions":[{"type":"noop"}]}`),
			Entry("message", `{"schema":"scambait.llm.v1","analysis":{},"actions":[{"type":"noop"}]}`),
			Entry("actions", `{"schema":"scambait.llm.v1","analysis":{},"message":{}}`),
		)

		It("rejects unexpected top-level keys", func() {
			raw := `{"schema":"scambait.llm.v1","analysis":{},"message":{"text":"hi"},"actions":[{"type":"noop"}],"extra":1}`
			out, issues := contract.ValidateText(raw)
			Expect(out).To(BeNil())
			Expect(issues[0].Path).To(Equal("root"))
			Expect(issues[0].Actual).To(ContainSubstring("extra"))
		})

		It("rejects invalid JSON", func() {
			out, issues := contract.ValidateText(`{"schema":`)
			Expect(out).To(BeNil())
			Expect(issues[0].Reason).To(Equal("invalid json"))
		})

		It("rejects trailing garbage", func() {
			out, _ := contract.ValidateText(envelope(`[{"type":"noop"}]`) + ` trailing`)
			Expect(out).To(BeNil())
		})

		It("rejects a wrong schema tag", func() {
			raw := strings.Replace(envelope(`[{"type":"noop"}]`), "scambait.llm.v1", "scambait.llm.v2", 1)
			out, issues := contract.ValidateText(raw)
			Expect(out).To(BeNil())
			Expect(issues[0].Path).To(Equal("schema"))
		})

		It("strips think segments before parsing", func() {
			raw := "<think>plan the reply\n{not json}</think>\n" + envelope(`[{"type":"send_message","message":{"text":"hello"}}]`)
			out, issues := contract.ValidateText(raw)
			Expect(issues).To(BeEmpty())
			Expect(out.Suggestion).To(Equal("hello"))
		})
	})

	Context("action normalization", func() {
		It("accepts single-key send_message shorthand using the top-level message text", func() {
			out, issues := contract.ValidateText(envelope(`[{"send_message":{}}]`))
			Expect(issues).To(BeEmpty())
			Expect(out).NotTo(BeNil())
			Expect(out.Actions).To(Equal([]contract.Action{contract.SendMessage{Text: "hi"}}))
			Expect(out.Suggestion).To(Equal("hi"))
		})

		It("maps the action alias onto type", func() {
			out, issues := contract.ValidateText(envelope(`[{"action":"mark_read"},{"action":"send_message","message":{"text":"yo"}}]`))
			Expect(issues).To(BeEmpty())
			Expect(out.Actions[0]).To(Equal(contract.MarkRead{}))
			Expect(out.Suggestion).To(Equal("yo"))
		})

		It("folds dotted message.text into a message object", func() {
			out, issues := contract.ValidateText(envelope(`[{"type":"send_message","message.text":"  dotted  "}]`))
			Expect(issues).To(BeEmpty())
			Expect(out.Actions[0]).To(Equal(contract.SendMessage{Text: "dotted"}))
		})

		It("wraps a single action object into an array", func() {
			out, issues := contract.ValidateText(envelope(`{"type":"send_message","message":{"text":"one"}}`))
			Expect(issues).To(BeEmpty())
			Expect(out.Actions).To(HaveLen(1))
		})
	})

	Context("per-action rules", func() {
		DescribeTable("rejects the whole plan on any bad action",
			func(actions, path string) {
				out, issues := contract.ValidateText(envelope(actions))
				Expect(out).To(BeNil())
				Expect(issues).To(HaveLen(1))
				Expect(issues[0].Path).To(Equal(path))
			},
			Entry("extra key on mark_read", `[{"type":"mark_read","now":true}]`, "actions[0]"),
			Entry("actions[].text instead of message.text", `[{"type":"send_message","text":"hi"}]`, "actions[0]"),
			Entry("unknown type", `[{"type":"delete_message"}]`, "actions[0].type"),
			Entry("typing above 60", `[{"type":"simulate_typing","duration_seconds":61}]`, "actions[0].duration_seconds"),
			Entry("typing as string", `[{"type":"simulate_typing","duration_seconds":"5"}]`, "actions[0].duration_seconds"),
			Entry("wait unit", `[{"type":"wait","value":1,"unit":"hours"}]`, "actions[0].unit"),
			Entry("negative wait", `[{"type":"wait","value":-1,"unit":"seconds"}]`, "actions[0].value"),
			Entry("wait seconds max", `[{"type":"wait","value":86401,"unit":"seconds"}]`, "actions[0].value"),
			Entry("wait minutes max", `[{"type":"wait","value":10081,"unit":"minutes"}]`, "actions[0].value"),
			Entry("blank send text", `[{"type":"send_message","message":{"text":"   "}}]`, "actions[0].message.text"),
			Entry("non-object message", `[{"type":"send_message","message":"hi"}]`, "actions[0].message"),
			Entry("float reply_to", `[{"type":"send_message","message":{"text":"a"},"reply_to":1.5}]`, "actions[0].reply_to"),
			Entry("bad send_at_utc", `[{"type":"send_message","message":{"text":"a"},"send_at_utc":"tomorrow"}]`, "actions[0].send_at_utc"),
			Entry("edit missing new_text", `[{"type":"edit_message","message_id":4}]`, "actions[0]"),
			Entry("blank escalation reason", `[{"type":"escalate_to_human","reason":" "}]`, "actions[0].reason"),
			Entry("second action broken", `[{"type":"noop"},{"type":"wait"}]`, "actions[1]"),
			Entry("empty list", `[]`, "actions"),
			Entry("scalar", `"noop"`, "actions"),
		)

		It("rejects more than ten actions", func() {
			many := "[" + strings.TrimSuffix(strings.Repeat(`{"type":"noop"},`, 11), ",") + "]"
			out, issues := contract.ValidateText(envelope(many))
			Expect(out).To(BeNil())
			Expect(issues[0].Reason).To(Equal("too many actions"))
		})

		It("rejects overlong messages", func() {
			long := strings.Repeat("x", contract.MaxMessageChars+1)
			out, issues := contract.ValidateText(envelope(`[{"type":"send_message","message":{"text":"` + long + `"}}]`))
			Expect(out).To(BeNil())
			Expect(issues[0].Reason).To(Equal("text too long"))
		})

		It("builds typed actions for a full plan", func() {
			out, issues := contract.ValidateText(envelope(`[
				{"type":"mark_read"},
				{"type":"simulate_typing","duration_seconds":2.5},
				{"type":"wait","value":2,"unit":"Minutes"},
				{"type":"send_message","message":{"text":"sure"},"reply_to":"77","send_at_utc":"2030-01-02T03:04:05Z"},
				{"type":"edit_message","message_id":12,"new_text":"sure!"},
				{"type":"escalate_to_human","reason":"  asks for id  "}
			]`))
			Expect(issues).To(BeEmpty())
			ref := contract.MessageRef("77")
			at := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
			Expect(out.Actions).To(Equal([]contract.Action{
				contract.MarkRead{},
				contract.SimulateTyping{DurationSeconds: 2.5},
				contract.Wait{Value: 2, Unit: contract.UnitMinutes},
				contract.SendMessage{Text: "sure", ReplyTo: &ref, SendAt: &at},
				contract.EditMessage{MessageID: "12", NewText: "sure!"},
				contract.EscalateToHuman{Reason: "asks for id"},
			}))
			Expect(out.Suggestion).To(Equal("sure"))
		})
	})

	Context("suggestion extraction", func() {
		It("uses the first send_message", func() {
			out, _ := contract.ValidateText(envelope(`[{"type":"send_message","message":{"text":"first"}},{"type":"send_message","message":{"text":"second"}}]`))
			Expect(out.Suggestion).To(Equal("first"))
		})

		It("falls back to message.text without a send_message", func() {
			out, issues := contract.ValidateText(envelope(`[{"type":"noop"}]`))
			Expect(issues).To(BeEmpty())
			Expect(out.Suggestion).To(Equal("hi"))
		})

		It("rejects when neither a send nor message text nor conflict exists", func() {
			raw := `{"schema":"scambait.llm.v1","analysis":{},"message":{},"actions":[{"type":"noop"}]}`
			out, issues := contract.ValidateText(raw)
			Expect(out).To(BeNil())
			Expect(issues[0].Path).To(Equal("actions"))
			Expect(issues[0].Reason).To(Equal("missing send_message action with message.text"))
		})

		It("accepts a conflict in place of a message", func() {
			raw := `{"schema":"scambait.llm.v1","analysis":{},"message":{},"actions":[{"type":"noop"}],"conflict":{"reason":"unclear"}}`
			out, issues := contract.ValidateText(raw)
			Expect(issues).To(BeEmpty())
			Expect(out.Suggestion).To(BeEmpty())
			Expect(out.Conflict).To(HaveKeyWithValue("reason", "unclear"))
		})
	})
})

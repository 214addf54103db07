package contract_test

import (
	"strings"

	"basegraph.app/scambait/common/llm"
	"basegraph.app/scambait/internal/contract"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func actCall(args string) []llm.ToolCall {
	return []llm.ToolCall{{ID: "call_1", Name: "act", Arguments: args}}
}

var _ = Describe("ValidateToolCalls", func() {
	Context("fatal shapes", func() {
		It("rejects an empty call list", func() {
			out, issues, _ := contract.ValidateToolCalls(nil, "")
			Expect(out).To(BeNil())
			Expect(issues).To(ConsistOf(HaveField("Reason", "no tool calls returned")))
		})

		It("rejects calls without act", func() {
			out, issues, _ := contract.ValidateToolCalls([]llm.ToolCall{{Name: "search"}}, "")
			Expect(out).To(BeNil())
			Expect(issues[0].Path).To(Equal("tool_calls"))
			Expect(issues[0].Reason).To(Equal("no act() tool call"))
		})

		It("rejects empty action arrays", func() {
			out, issues, _ := contract.ValidateToolCalls(actCall(`{"actions":[]}`), "")
			Expect(out).To(BeNil())
			Expect(issues[0].Path).To(Equal("act.actions"))
		})

		It("rejects arguments that are not an object even after repair", func() {
			out, issues, _ := contract.ValidateToolCalls(actCall(`definitely not json`), "")
			Expect(out).To(BeNil())
			Expect(issues).NotTo(BeEmpty())
		})
	})

	It("maps medium latency to three minutes", func() {
		out, issues, _ := contract.ValidateToolCalls(actCall(`{"actions":[{"type":"wait","latency_class":"medium"}]}`), "")
		Expect(issues).To(BeEmpty())
		Expect(out.Actions).To(Equal([]contract.Action{contract.Wait{Value: 3, Unit: contract.UnitMinutes}}))
	})

	DescribeTable("latency classes",
		func(class string, expected contract.Wait) {
			out, _, _ := contract.ValidateToolCalls(actCall(`{"actions":[{"type":"wait","latency_class":"`+class+`"}]}`), "")
			Expect(out.Actions).To(Equal([]contract.Action{expected}))
		},
		Entry("short", "short", contract.Wait{Value: 30, Unit: contract.UnitSeconds}),
		Entry("long", "long", contract.Wait{Value: 15, Unit: contract.UnitMinutes}),
		Entry("unknown falls back to short", "forever", contract.Wait{Value: 30, Unit: contract.UnitSeconds}),
	)

	It("keeps only the first send_message and the first wait", func() {
		out, issues, _ := contract.ValidateToolCalls(actCall(`{"actions":[
			{"type":"send_message","text":"one"},
			{"type":"send_message","text":"two"},
			{"type":"wait","latency_class":"short"},
			{"type":"wait","latency_class":"long"}
		]}`), "")
		Expect(out.Actions).To(HaveLen(2))
		Expect(out.Suggestion).To(Equal("one"))
		Expect(issues).To(ConsistOf(
			HaveField("Reason", "duplicate send_message action skipped"),
			HaveField("Reason", "duplicate wait action skipped"),
		))
	})

	It("collects memory pairs and notes into analysis", func() {
		out, issues, memory := contract.ValidateToolCalls(actCall(`{"actions":[
			{"type":"set_memory","key":" bank ","value":" Acme Trust "},
			{"type":"set_memory","key":"  ","value":"ignored"},
			{"type":"add_note","text":"asked for fee"},
			{"type":"add_note","text":"second"}
		],"analysis":{"directives":{"acknowledged":[3]}}}`), "")
		Expect(issues).To(BeEmpty())
		Expect(memory).To(Equal([]contract.MemoryPair{{Key: "bank", Value: "Acme Trust"}}))
		Expect(out.Analysis).To(HaveKeyWithValue("bank", "Acme Trust"))
		Expect(out.Analysis["notes"]).To(Equal([]any{"asked for fee", "second"}))
		Expect(out.Analysis).To(HaveKey("directives"))
		Expect(out.Actions).To(Equal([]contract.Action{contract.Noop{}}))
	})

	It("normalizes typing, handoff and reply_to", func() {
		out, issues, _ := contract.ValidateToolCalls(actCall(`{"actions":[
			{"type":"send_typing","duration_seconds":120},
			{"type":"send_typing"},
			{"type":"send_typing","duration_class":"medium"},
			{"type":"decide_handoff","reason":""},
			{"type":"send_message","text":"ok","reply_to":"42"}
		]}`), "")
		Expect(issues).To(BeEmpty())
		ref := contract.MessageRef("42")
		Expect(out.Actions).To(Equal([]contract.Action{
			contract.SimulateTyping{DurationSeconds: 60},
			contract.SimulateTyping{DurationSeconds: 5},
			contract.SimulateTyping{DurationSeconds: 10},
			contract.EscalateToHuman{Reason: "Handoff requested."},
			contract.SendMessage{Text: "ok", ReplyTo: &ref},
		}))
	})

	It("reports empty send text and unknown types without failing", func() {
		out, issues, _ := contract.ValidateToolCalls(actCall(`{"actions":[
			{"type":"send_message","text":"  "},
			{"type":"dance"}
		]}`), "")
		Expect(out).NotTo(BeNil())
		Expect(out.Actions).To(Equal([]contract.Action{contract.Noop{}}))
		Expect(issues).To(ConsistOf(
			contract.Issue{Path: "act.actions.send_message.text", Reason: "text must be non-empty"},
			contract.Issue{Path: "act.actions.dance", Reason: "unknown action type: dance"},
		))
	})

	It("truncates long messages", func() {
		long := strings.Repeat("y", contract.MaxMessageChars+50)
		out, _, _ := contract.ValidateToolCalls(actCall(`{"actions":[{"type":"send_message","text":"`+long+`"}]}`), "")
		Expect(out.Suggestion).To(HaveLen(contract.MaxMessageChars))
	})

	It("repairs malformed arguments and records the repair", func() {
		out, issues, _ := contract.ValidateToolCalls(actCall(`{"actions":[{"type":"send_message","text":"fixed"}]`), "")
		Expect(out).NotTo(BeNil())
		Expect(out.Suggestion).To(Equal("fixed"))
		Expect(issues).To(ContainElement(HaveField("Path", "act.arguments")))
	})

	It("unwraps double-encoded arguments", func() {
		out, issues, _ := contract.ValidateToolCalls(actCall(`"{\"actions\":[{\"type\":\"send_message\",\"text\":\"inner\"}]}"`), "")
		Expect(issues).To(BeEmpty())
		Expect(out.Suggestion).To(Equal("inner"))
	})

	It("advertises the act tool schema", func() {
		tool := contract.ActTool()
		Expect(tool.Name).To(Equal("act"))
		schema := llm.SchemaMap(tool.Parameters)
		Expect(schema["required"]).To(ContainElement("actions"))
	})
})

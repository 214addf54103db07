package contract

import (
	"encoding/json"
	"strings"

	"basegraph.app/scambait/common/llm"
)

const (
	RejectContractValidation = "contract_validation_failed"
	RejectStylePolicy        = "style_policy_violation"
	maxFailedGenerationChars = 12000
)

var disallowedStylePhrases = []string{
	"qualified financial advisor",
	"verify the platform's legitimacy",
	"if you have concerns about potential scams",
	"next steps to protect yourself",
	"request a written agreement",
	"independent legal advice",
	"risk-free high yields is a red flag",
}

// single phrases that are disqualifying on their own
var hardStylePhrases = []string{
	"qualified financial advisor",
	"next steps to protect yourself",
}

// BuildRepairMessages returns the prompt for a repair attempt. Repairs answer with a
// bare JSON object, so contractPrompt is normally TextModePrompt.
func BuildRepairMessages(contractPrompt, failedGeneration, rejectReason string) []llm.Message {
	clipped := truncateRunes(strings.TrimSpace(failedGeneration), maxFailedGenerationChars)
	if rejectReason == "" {
		rejectReason = RejectContractValidation
	}
	return []llm.Message{
		{Role: llm.RoleSystem, Content: contractPrompt},
		{Role: llm.RoleSystem, Content: "Repair task: previous output violated the JSON contract. " +
			"Return only a corrected " + SchemaVersion + " JSON object."},
		{Role: llm.RoleSystem, Content: "If reject_reason is " + RejectStylePolicy + ", keep the output in-role as ScamBaiter and avoid " +
			"generic financial safety/advisory language."},
		{Role: llm.RoleSystem, Content: "For send_message actions, use actions[].message.text. Do not use actions[].text."},
		{Role: llm.RoleUser, Content: encodeJSON(map[string]string{"failed_generation": clipped})},
		{Role: llm.RoleUser, Content: encodeJSON(map[string]string{"reject_reason": rejectReason})},
	}
}

// ViolatesStylePolicy reports whether a reply slipped into generic advisory tone.
func ViolatesStylePolicy(reply string) bool {
	text := strings.ToLower(strings.TrimSpace(reply))
	if text == "" {
		return false
	}
	for _, phrase := range hardStylePhrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	matches := 0
	for _, phrase := range disallowedStylePhrases {
		if strings.Contains(text, phrase) {
			matches++
		}
	}
	return matches >= 2
}

func encodeJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}

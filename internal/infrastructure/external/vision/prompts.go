// Package vision implements the vision-language model client.
package vision

import (
	"fmt"
	"strings"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROMPTS
// ══════════════════════════════════════════════════════════════════════════════

// systemPrompt fixes the model's role and output contract.
// The score scale here is the raw per-frame scale, not the accumulated one.
const systemPrompt = `You are a classroom monitoring assistant. You are shown a single screenshot from a student's computer. Judge how relevant the visible activity is to the class task.

Respond with JSON only, matching this shape exactly:
{"score": <integer 0-5>, "description": "<1-2 sentences describing what is on screen>", "short_description": "<3-6 word summary>", "suggestion": "<one of: on-task, sussy, needs-reminder>"}

Scoring scale:
- 5: clearly working on the class task
- 4: related work (documentation, notes, course material)
- 3: ambiguous, cannot tell
- 2: probably off-task (chat, unrelated browsing)
- 1: clearly off-task
- 0: games, video, or anything plainly unrelated

Do not include markdown fences or any text outside the JSON object.`

// buildUserPrompt assembles the per-request text part.
// An empty task context is allowed; the model then judges general
// schoolwork relevance instead of a specific assignment.
func buildUserPrompt(taskContext string) string {
	var b strings.Builder

	if strings.TrimSpace(taskContext) != "" {
		fmt.Fprintf(&b, "The class is currently working on: %s\n\n", strings.TrimSpace(taskContext))
	} else {
		b.WriteString("No specific assignment is set right now; judge general schoolwork relevance.\n\n")
	}

	b.WriteString("Score this screenshot.")
	return b.String()
}

// verdictSchema is the strict JSON schema requested from the model.
// Kept as a plain map so it marshals straight into the response_format.
var verdictSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"score": map[string]interface{}{
			"type":    "integer",
			"minimum": 0,
			"maximum": 5,
		},
		"description": map[string]interface{}{
			"type": "string",
		},
		"short_description": map[string]interface{}{
			"type": "string",
		},
		"suggestion": map[string]interface{}{
			"type": "string",
			"enum": []string{"on-task", "sussy", "needs-reminder"},
		},
	},
	"required":             []string{"score", "description", "short_description", "suggestion"},
	"additionalProperties": false,
}

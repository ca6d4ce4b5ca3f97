package classifier

import (
	"fmt"
	"strings"

	"github.com/xaenox/prospect-bot/internal/models"
)

const systemPrompt = `You qualify sales leads from Instagram direct messages.
You receive a numbered list of ideal customer characteristics and the messages a prospect wrote.
Mark a characteristic only when the prospect's own words clearly reveal it.
Answer with a single JSON object and nothing else:
{"characteristics": [<1-based indices>], "confidence": <number between 0 and 1>}`

// BuildUserPrompt enumerates the traits with 1-based indices followed by the prospect text.
func BuildUserPrompt(text string, traits []models.Trait) string {
	var b strings.Builder
	b.WriteString("Ideal customer characteristics:\n")
	for i, t := range traits {
		fmt.Fprintf(&b, "%d. %s\n", i+1, t.Name)
	}
	b.WriteString("\nProspect messages:\n")
	b.WriteString(strings.TrimSpace(text))
	return b.String()
}

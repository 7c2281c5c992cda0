package gemini

import (
	"fmt"
	"strings"
)

// SystemInstruction frames the model as a screening aid for clinicians.
const SystemInstruction = `You screen journal and chat entries written by people enrolled in a
mental health monitoring program. You look for language indicating crisis
risk: hopelessness, being a burden, self-harm, suicidal ideation, plans or
means. You never diagnose. You answer only with JSON.`

// BuildPrompt asks for a single verdict over every entry.
func BuildPrompt(texts []string) string {
	var b strings.Builder
	b.WriteString("Classify the following entries as a whole.\n\n")
	for i, t := range texts {
		fmt.Fprintf(&b, "Entry %d:\n%s\n\n", i+1, t)
	}
	b.WriteString(`Respond with JSON of the form
{"indicators": ["short phrase", ...], "severity": "none|low|moderate|high|critical", "confidence": 0.0-1.0}
"indicators" lists the concerning phrases you found, quoted from the entries.
"severity" is the most severe tier present.
"confidence" is how sure you are that the entries express crisis risk.`)
	return b.String()
}

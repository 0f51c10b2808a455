package a2a

import "strings"

// Version is advertised in the agent card.
const Version = "0.1.0"

// BuildAgentCard returns the AgentCard for the ReviewForge service with one
// skill per routable task type.
func BuildAgentCard(baseURL string, taskTypes []string) AgentCard {
	card := AgentCard{
		Name:        "ReviewForge",
		Description: "Hierarchical multi-reviewer draft review and revision",
		URL:         baseURL,
		Version:     Version,
		Skills:      make([]Skill, 0, len(taskTypes)),
	}
	for _, typ := range taskTypes {
		card.Skills = append(card.Skills, Skill{
			ID:          typ,
			Name:        skillName(typ),
			Description: "Route a " + typ + " task to an actor that can handle it",
			InputModes:  []string{"text"},
			OutputModes: []string{"text"},
		})
	}
	card.Capabilities.Streaming = true
	return card
}

func skillName(typ string) string {
	parts := strings.FieldsFunc(typ, func(r rune) bool { return r == '_' || r == '-' })
	for i, p := range parts {
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ") + " Task"
}

package domain

import "sort"

// Persona selects the system prompt a session speaks through.
// Unknown names resolve to the default so a bad offer never fails a session.
type Persona struct {
	Name         string `json:"name"`
	Title        string `json:"title"`
	SystemPrompt string `json:"-"`
}

const DefaultPersona = "shepherd"

var personas = map[string]Persona{
	"shepherd": {
		Name:         "shepherd",
		Title:        "Pastoral Counsel",
		SystemPrompt: "You are a warm, patient pastoral counselor. Listen closely, respond with empathy and encouragement, and keep answers short enough to speak aloud.",
	},
	"scholar": {
		Name:         "scholar",
		Title:        "Scripture Study",
		SystemPrompt: "You are a careful scripture scholar. Answer questions about text, history and context precisely, citing passages where relevant, in a few spoken sentences.",
	},
	"psalmist": {
		Name:         "psalmist",
		Title:        "Worship & Prayer",
		SystemPrompt: "You are a gentle worship leader. Offer prayers, psalms and words of comfort in simple, lyrical language suitable for reading aloud.",
	},
}

// PersonaByName resolves name to a known persona, falling back to the default.
func PersonaByName(name string) Persona {
	if p, ok := personas[name]; ok {
		return p
	}
	return personas[DefaultPersona]
}

// PersonaNames lists the selectable personas for the API surface.
func PersonaNames() []string {
	names := make([]string, 0, len(personas))
	for name := range personas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

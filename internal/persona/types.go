package persona

// Persona is the person the twin speaks as: who they are, how they talk,
// and the facts and views they are happy to share with callers.
type Persona struct {
	Identity  Identity          `json:"identity"`
	Style     Style             `json:"style"`
	Expertise map[string]string `json:"expertise,omitempty"` // domain -> level (e.g. "payments" -> "expert")
	Interests []string          `json:"interests,omitempty"`
	Opinions  []string          `json:"opinions,omitempty"`
	Facts     []string          `json:"facts,omitempty"`
	// Greetings maps a language code to the greeting played at call start.
	Greetings map[string]string `json:"greetings,omitempty"`
}

// Identity is the persona's public self-description.
type Identity struct {
	Name     string `json:"name,omitempty"`
	Role     string `json:"role,omitempty"`
	Bio      string `json:"bio,omitempty"`
	Location string `json:"location,omitempty"`
}

// Style captures how the persona speaks.
type Style struct {
	Tone       string   `json:"tone,omitempty"`       // e.g. "warm, direct"
	Catchwords []string `json:"catchwords,omitempty"` // phrases the persona often uses
}

// Keys lists the persona keys SetField accepts.
var Keys = []string{
	"identity.name", "identity.role", "identity.bio", "identity.location",
	"style.tone", "style.catchwords",
	"expertise", "interests", "opinions", "facts", "greetings",
}

// ValidKey reports whether key is a persona key.
func ValidKey(key string) bool {
	for _, k := range Keys {
		if k == key {
			return true
		}
	}
	return false
}

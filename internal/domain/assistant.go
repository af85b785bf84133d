package domain

// Assistant is a pre-configured persona. Loaded once from static
// configuration and never mutated.
type Assistant struct {
	ID             string   `json:"id" yaml:"id"`
	Name           string   `json:"name" yaml:"name"`
	Role           string   `json:"role" yaml:"role"`
	Color          string   `json:"color" yaml:"color"`
	Avatar         string   `json:"avatar" yaml:"avatar"`
	Specialties    []string `json:"specialties" yaml:"specialties"`
	ExamplePrompts []string `json:"examplePrompts" yaml:"example_prompts"`
}

package sources

// File is the top-level structure of sources.yaml.
type File struct {
	Sources []SourceProps `yaml:"sources"`
}

// SourceProps is one repository entry as written in the file.
type SourceProps struct {
	ID              int64    `yaml:"id"`
	Title           string   `yaml:"title"`
	Format          string   `yaml:"format"`
	StartURL        string   `yaml:"start_url"`
	ResumeURL       string   `yaml:"resume_url,omitempty"`
	URLPattern      string   `yaml:"url_pattern"`
	IdentifierType  string   `yaml:"identifier_type,omitempty"`
	Delay           string   `yaml:"delay,omitempty"` // Go duration or whole seconds
	LegacyPrefix    string   `yaml:"legacy_prefix,omitempty"`
	CanonicalPrefix string   `yaml:"canonical_prefix,omitempty"`
	ExcludeFrom     []string `yaml:"exclude_from,omitempty"`
	Disabled        bool     `yaml:"disabled,omitempty"`
}

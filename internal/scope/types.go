package scope

// Rules defines which discovered links a crawl may follow.
type Rules struct {
	// ExcludeExtensions lists path extensions (without the dot) that never
	// name an auditable page.
	ExcludeExtensions []string `json:"exclude_extensions" yaml:"exclude_extensions"`

	// ExcludePatterns are regular expressions matched against the absolute URL.
	ExcludePatterns []string `json:"exclude_patterns" yaml:"exclude_patterns"`
}

// DefaultRules returns the rules used when none are configured.
func DefaultRules() Rules {
	return Rules{
		ExcludeExtensions: append([]string(nil), DefaultExcludeExtensions...),
	}
}

package output

// Default limits for result folding.
const (
	// DefaultMaxResponseBytes is the size above which a payload is sampled or cut.
	DefaultMaxResponseBytes = 200000

	// DefaultSampleItems is how many list items an oversized list keeps.
	DefaultSampleItems = 50

	// AbsoluteMaxResponseBytes caps MaxResponseBytes (2MB).
	AbsoluteMaxResponseBytes = 2 * 1024 * 1024

	// AbsoluteMaxSampleItems caps SampleItems.
	AbsoluteMaxSampleItems = 1000
)

// Config holds configuration for result folding.
type Config struct {
	// MaxResponseBytes is the size limit of one folded result.
	// Default: 200000, Absolute max: 2MB
	MaxResponseBytes int `json:"max_response_bytes" yaml:"max_response_bytes"`

	// SampleItems is the number of items kept when a list is too large.
	// Default: 50
	SampleItems int `json:"sample_items" yaml:"sample_items"`

	// SlimOutput enables removal of verbose fields.
	// Default: true
	SlimOutput bool `json:"slim_output" yaml:"slim_output"`

	// MaskSecrets replaces secret data with "***REDACTED***".
	// Default: true
	MaskSecrets bool `json:"mask_secrets" yaml:"mask_secrets"`

	// ExcludedFields lists paths of fields to remove in slim mode.
	ExcludedFields []string `json:"excluded_fields,omitempty" yaml:"excluded_fields,omitempty"`
}

// DefaultConfig returns the default folding configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxResponseBytes: DefaultMaxResponseBytes,
		SampleItems:      DefaultSampleItems,
		SlimOutput:       true,
		MaskSecrets:      true,
		ExcludedFields:   DefaultExcludedFields(),
	}
}

// DefaultExcludedFields returns the fields removed in slim mode.
func DefaultExcludedFields() []string {
	return []string{
		// Managed fields are verbose and rarely useful for troubleshooting
		"metadata.managedFields",
		// Last-applied-configuration duplicates the entire manifest
		"metadata.annotations.kubectl.kubernetes.io/last-applied-configuration",
		"metadata.annotations.deployment.kubernetes.io/revision",
		"status.conditions[*].lastProbeTime",
		"status.conditions[*].lastHeartbeatTime",
		"metadata.resourceVersion",
		"metadata.uid",
		"metadata.selfLink",
		"metadata.generation",
	}
}

// Validate returns a copy with out-of-range values replaced or capped.
func (c *Config) Validate() *Config {
	validated := *c

	if validated.MaxResponseBytes <= 0 {
		validated.MaxResponseBytes = DefaultMaxResponseBytes
	}
	if validated.SampleItems <= 0 {
		validated.SampleItems = DefaultSampleItems
	}

	if validated.MaxResponseBytes > AbsoluteMaxResponseBytes {
		validated.MaxResponseBytes = AbsoluteMaxResponseBytes
	}
	if validated.SampleItems > AbsoluteMaxSampleItems {
		validated.SampleItems = AbsoluteMaxSampleItems
	}

	if validated.SlimOutput && len(validated.ExcludedFields) == 0 {
		validated.ExcludedFields = DefaultExcludedFields()
	}
	validated.ExcludedFields = append([]string(nil), validated.ExcludedFields...)

	return &validated
}

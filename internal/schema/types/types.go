package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
)

// SchemaType represents the type of schema
type SchemaType string

const (
	// JSON represents JSON Schema format
	JSON SchemaType = "JSON"
	// Avro represents Avro format
	Avro SchemaType = "AVRO"
	// Protobuf represents Protocol Buffers format
	Protobuf SchemaType = "PROTOBUF"
)

// ParseSchemaType validates a schema type name received from the API or config.
func ParseSchemaType(s string) (SchemaType, error) {
	switch t := SchemaType(s); t {
	case JSON, Avro, Protobuf:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, s)
	}
}

// CompatibilityMode represents the compatibility mode for schema evolution
type CompatibilityMode string

const (
	// Backward compatibility: new schema can read data written with old schema
	Backward CompatibilityMode = "BACKWARD"
	// Forward compatibility: old schema can read data written with new schema
	Forward CompatibilityMode = "FORWARD"
	// Full compatibility: both backward and forward compatibility
	Full CompatibilityMode = "FULL"
	// None: no compatibility checking
	None CompatibilityMode = "NONE"
	// BackwardTransitive: new schema can read data written with all previous schemas
	BackwardTransitive CompatibilityMode = "BACKWARD_TRANSITIVE"
	// ForwardTransitive: all previous schemas can read data written with new schema
	ForwardTransitive CompatibilityMode = "FORWARD_TRANSITIVE"
	// FullTransitive: both backward and forward transitive compatibility
	FullTransitive CompatibilityMode = "FULL_TRANSITIVE"
)

// ParseCompatibilityMode validates a mode string received from the API or config.
func ParseCompatibilityMode(s string) (CompatibilityMode, error) {
	switch m := CompatibilityMode(s); m {
	case Backward, Forward, Full, None, BackwardTransitive, ForwardTransitive, FullTransitive:
		return m, nil
	default:
		return "", fmt.Errorf("invalid compatibility mode %q", s)
	}
}

// IsTransitive reports whether the mode compares against the whole retained
// history rather than only the latest comparable version.
func (m CompatibilityMode) IsTransitive() bool {
	switch m {
	case BackwardTransitive, ForwardTransitive, FullTransitive:
		return true
	default:
		return false
	}
}

// Base strips the transitive qualifier, leaving the per-pair direction.
func (m CompatibilityMode) Base() CompatibilityMode {
	switch m {
	case BackwardTransitive:
		return Backward
	case ForwardTransitive:
		return Forward
	case FullTransitive:
		return Full
	default:
		return m
	}
}

// Schema represents a stored schema version
type Schema struct {
	ID          string            `json:"id"`
	Subject     string            `json:"subject"`
	Version     *semver.Version   `json:"version"`
	Type        SchemaType        `json:"type"`
	Schema      string            `json:"schema"`
	Hash        string            `json:"hash"`
	State       SchemaState       `json:"state"`
	Owner       string            `json:"owner,omitempty"`
	Description string            `json:"description,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	Deprecation *DeprecationInfo  `json:"deprecation,omitempty"`
	Deletion    *DeletionInfo     `json:"deletion,omitempty"`
	Transitions []StateTransition `json:"transitions,omitempty"`
}

// Comparable reports whether this version participates in compatibility
// comparison sets. Draft and Deleted versions never do.
func (s *Schema) Comparable() bool {
	return s.State.Comparable()
}

// DeprecationInfo carries the migration guidance attached when a version is
// deprecated.
type DeprecationInfo struct {
	Reason         string     `json:"reason,omitempty"`
	DeprecatedBy   string     `json:"deprecated_by,omitempty"`
	DeprecatedAt   time.Time  `json:"deprecated_at"`
	SunsetAt       *time.Time `json:"sunset_at,omitempty"`
	MigrationGuide string     `json:"migration_guide,omitempty"`
	ReplacementID  string     `json:"replacement_id,omitempty"`
}

// DeletionInfo records who removed a version and why.
type DeletionInfo struct {
	Reason    string    `json:"reason,omitempty"`
	DeletedBy string    `json:"deleted_by,omitempty"`
	DeletedAt time.Time `json:"deleted_at"`
}

// Fingerprint returns the content hash used for schema identity and cache
// keys: hex-encoded SHA-256 of the raw schema text.
func Fingerprint(schema string) string {
	sum := sha256.Sum256([]byte(schema))
	return hex.EncodeToString(sum[:])
}

// SchemaFormat defines the interface for schema format implementations
type SchemaFormat interface {
	// Validate validates a schema string
	Validate(schemaStr string) error
	// Serialize serializes data according to a schema
	Serialize(data interface{}, schemaStr string) ([]byte, error)
	// Deserialize deserializes data according to a schema
	Deserialize(data []byte, schemaStr string) (interface{}, error)
	// CheckBackward reports the violations a consumer reading with newSchema
	// would hit on data written with oldSchema
	CheckBackward(newSchema, oldSchema string) ([]Violation, error)
	// CheckForward reports the violations a consumer reading with oldSchema
	// would hit on data written with newSchema
	CheckForward(newSchema, oldSchema string) ([]Violation, error)
}

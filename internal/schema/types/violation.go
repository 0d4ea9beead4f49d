package types

// ViolationType identifies the kind of structural change behind a
// compatibility violation.
type ViolationType string

const (
	ViolationFieldRemoved           ViolationType = "FIELD_REMOVED"
	ViolationTypeChanged            ViolationType = "TYPE_CHANGED"
	ViolationRequiredAdded          ViolationType = "REQUIRED_ADDED"
	ViolationConstraintAdded        ViolationType = "CONSTRAINT_ADDED"
	ViolationEnumValueRemoved       ViolationType = "ENUM_VALUE_REMOVED"
	ViolationFormatChanged          ViolationType = "FORMAT_CHANGED"
	ViolationFieldMadeRequired      ViolationType = "FIELD_MADE_REQUIRED"
	ViolationArrayItemsChanged      ViolationType = "ARRAY_ITEMS_CHANGED"
	ViolationMapValueChanged        ViolationType = "MAP_VALUE_CHANGED"
	ViolationUnionTypesIncompatible ViolationType = "UNION_TYPES_INCOMPATIBLE"
	ViolationNamespaceChanged       ViolationType = "NAMESPACE_CHANGED"
	ViolationNameChanged            ViolationType = "NAME_CHANGED"
	// ViolationCustom covers format-specific findings that have no dedicated
	// type; the concrete name travels in Violation.CustomType.
	ViolationCustom ViolationType = "CUSTOM"
)

// Severity ranks how disruptive a violation is to existing consumers.
type Severity string

const (
	SeverityBreaking Severity = "BREAKING"
	SeverityWarning  Severity = "WARNING"
	SeverityInfo     Severity = "INFO"
)

// Violation describes one structural difference found between two schema
// versions. FieldPath addresses the element that changed: a property name for
// JSON Schema ("address.street"), a field name for Avro ("age"), a field
// number for Protobuf ("3").
type Violation struct {
	Type        ViolationType `json:"violation_type"`
	CustomType  string        `json:"custom_type,omitempty"`
	FieldPath   string        `json:"field_path"`
	OldValue    string        `json:"old_value,omitempty"`
	NewValue    string        `json:"new_value,omitempty"`
	Severity    Severity      `json:"severity"`
	Description string        `json:"description"`
}

// Breaking builds a violation that makes the overall verdict incompatible.
func Breaking(t ViolationType, path, description string) Violation {
	return Violation{Type: t, FieldPath: path, Severity: SeverityBreaking, Description: description}
}

// Warning builds a violation that is surfaced but does not fail the check.
func Warning(t ViolationType, path, description string) Violation {
	return Violation{Type: t, FieldPath: path, Severity: SeverityWarning, Description: description}
}

// Info builds a purely informational violation.
func Info(t ViolationType, path, description string) Violation {
	return Violation{Type: t, FieldPath: path, Severity: SeverityInfo, Description: description}
}

// Custom builds a breaking violation with a caller-defined type name.
func Custom(name, path, description string) Violation {
	return Violation{Type: ViolationCustom, CustomType: name, FieldPath: path, Severity: SeverityBreaking, Description: description}
}

// WithValues attaches the before/after values to the violation.
func (v Violation) WithValues(oldValue, newValue string) Violation {
	v.OldValue = oldValue
	v.NewValue = newValue
	return v
}

// IsBreaking reports whether this violation alone fails the check.
func (v Violation) IsBreaking() bool {
	return v.Severity == SeverityBreaking
}

// Result is the outcome of evaluating one candidate schema against a
// subject's history under a given mode.
type Result struct {
	Compatible      bool              `json:"is_compatible"`
	Mode            CompatibilityMode `json:"mode"`
	Violations      []Violation       `json:"violations"`
	CheckedVersions []string          `json:"checked_versions,omitempty"`
}

// NewResult derives the verdict from the violations it is given: a result is
// compatible exactly when none of them is breaking.
func NewResult(mode CompatibilityMode, violations []Violation, checked []string) Result {
	r := Result{Compatible: true, Mode: mode, Violations: violations, CheckedVersions: checked}
	for _, v := range violations {
		if v.IsBreaking() {
			r.Compatible = false
			break
		}
	}
	return r
}

// BreakingCount returns the number of breaking violations in the result.
func (r Result) BreakingCount() int {
	n := 0
	for _, v := range r.Violations {
		if v.IsBreaking() {
			n++
		}
	}
	return n
}

package avro

import (
	"errors"
	"testing"

	"schemaguard/internal/schema/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const userSchema = `{
	"type": "record",
	"name": "User",
	"namespace": "example",
	"fields": [
		{"name": "id", "type": "string"},
		{"name": "age", "type": "int"},
		{"name": "nickname", "type": ["null", "string"], "default": null}
	]
}`

func TestValidate(t *testing.T) {
	f := New()

	assert.NoError(t, f.Validate(userSchema))
	assert.NoError(t, f.Validate(`"string"`))
	assert.Error(t, f.Validate(`{"type": "record"}`))
	assert.Error(t, f.Validate(`{not json`))
}

func TestCheckReflexive(t *testing.T) {
	schemas := []string{
		userSchema,
		`{"type": "enum", "name": "Status", "symbols": ["ON", "OFF"]}`,
		`{"type": "array", "items": "long"}`,
		`{"type": "map", "values": ["null", "double"]}`,
	}

	f := New()
	for _, s := range schemas {
		backward, err := f.CheckBackward(s, s)
		require.NoError(t, err)
		assert.Empty(t, backward)

		forward, err := f.CheckForward(s, s)
		require.NoError(t, err)
		assert.Empty(t, forward)
	}
}

func TestParseFailure(t *testing.T) {
	f := New()

	_, err := f.CheckBackward(`{broken`, userSchema)
	require.Error(t, err)
	var parseErr *types.ParseError
	assert.True(t, errors.As(err, &parseErr))
	assert.Equal(t, types.Avro, parseErr.Format)

	_, err = f.CheckForward(userSchema, `{broken`)
	require.Error(t, err)
	assert.True(t, errors.As(err, &parseErr))
}

func TestIntToLongPromotion(t *testing.T) {
	old := `{"type": "record", "name": "R", "fields": [{"name": "age", "type": "int"}]}`
	new := `{"type": "record", "name": "R", "fields": [{"name": "age", "type": "long"}]}`

	f := New()
	backward, err := f.CheckBackward(new, old)
	require.NoError(t, err)
	assert.Empty(t, backward)

	forward, err := f.CheckForward(new, old)
	require.NoError(t, err)
	assert.Empty(t, forward)
}

func TestIncompatibleTypeChange(t *testing.T) {
	old := `{"type": "record", "name": "R", "fields": [{"name": "age", "type": "int"}]}`
	new := `{"type": "record", "name": "R", "fields": [{"name": "age", "type": "string"}]}`

	f := New()
	violations, err := f.CheckBackward(new, old)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, types.ViolationTypeChanged, violations[0].Type)
	assert.Equal(t, "age", violations[0].FieldPath)
	assert.Equal(t, types.SeverityBreaking, violations[0].Severity)
	assert.Equal(t, "int", violations[0].OldValue)
	assert.Equal(t, "string", violations[0].NewValue)
}

func TestFieldRemoval(t *testing.T) {
	withDefault := `{"type": "record", "name": "R", "fields": [
		{"name": "id", "type": "string"},
		{"name": "note", "type": "string", "default": ""}
	]}`
	withoutDefault := `{"type": "record", "name": "R", "fields": [
		{"name": "id", "type": "string"},
		{"name": "note", "type": "string"}
	]}`
	removed := `{"type": "record", "name": "R", "fields": [{"name": "id", "type": "string"}]}`

	f := New()

	// Removing a field that carried a default is only informational
	violations, err := f.CheckBackward(removed, withDefault)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, types.ViolationFieldRemoved, violations[0].Type)
	assert.Equal(t, "note", violations[0].FieldPath)
	assert.Equal(t, types.SeverityInfo, violations[0].Severity)

	// Without a default the removal is breaking for backward
	violations, err = f.CheckBackward(removed, withoutDefault)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, types.ViolationFieldRemoved, violations[0].Type)
	assert.Equal(t, types.SeverityBreaking, violations[0].Severity)
}

func TestFieldAdditionForward(t *testing.T) {
	old := `{"type": "record", "name": "R", "fields": [{"name": "id", "type": "string"}]}`
	addedNoDefault := `{"type": "record", "name": "R", "fields": [
		{"name": "id", "type": "string"},
		{"name": "score", "type": "int"}
	]}`
	addedWithDefault := `{"type": "record", "name": "R", "fields": [
		{"name": "id", "type": "string"},
		{"name": "score", "type": "int", "default": 0}
	]}`

	f := New()

	violations, err := f.CheckForward(addedNoDefault, old)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, types.ViolationRequiredAdded, violations[0].Type)
	assert.Equal(t, "score", violations[0].FieldPath)
	assert.True(t, violations[0].IsBreaking())

	violations, err = f.CheckForward(addedWithDefault, old)
	require.NoError(t, err)
	assert.Empty(t, violations)

	// Additions never break backward reads
	violations, err = f.CheckBackward(addedNoDefault, old)
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestEnumSymbolRemoval(t *testing.T) {
	old := `{"type": "record", "name": "R", "fields": [
		{"name": "status", "type": {"type": "enum", "name": "Status", "symbols": ["ON", "OFF", "PAUSED"]}}
	]}`
	new := `{"type": "record", "name": "R", "fields": [
		{"name": "status", "type": {"type": "enum", "name": "Status", "symbols": ["ON", "OFF"]}}
	]}`

	f := New()
	violations, err := f.CheckBackward(new, old)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, types.ViolationEnumValueRemoved, violations[0].Type)
	assert.Equal(t, "status", violations[0].FieldPath)
	assert.True(t, violations[0].IsBreaking())
	assert.Contains(t, violations[0].Description, "PAUSED")

	// Symbol additions are fine
	violations, err = f.CheckBackward(old, new)
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestUnionMemberRemoval(t *testing.T) {
	old := `{"type": "record", "name": "R", "fields": [
		{"name": "value", "type": ["null", "string", "int"]}
	]}`
	new := `{"type": "record", "name": "R", "fields": [
		{"name": "value", "type": ["null", "string"]}
	]}`

	f := New()
	violations, err := f.CheckBackward(new, old)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, types.ViolationUnionTypesIncompatible, violations[0].Type)
	assert.Equal(t, "value[2]", violations[0].FieldPath)
	assert.True(t, violations[0].IsBreaking())
}

func TestNullableCollapse(t *testing.T) {
	old := `{"type": "record", "name": "R", "fields": [
		{"name": "email", "type": ["null", "string"], "default": null}
	]}`
	new := `{"type": "record", "name": "R", "fields": [
		{"name": "email", "type": "string"}
	]}`

	f := New()
	violations, err := f.CheckBackward(new, old)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, types.ViolationFieldMadeRequired, violations[0].Type)
	assert.Equal(t, "email", violations[0].FieldPath)

	// The opposite widening breaks old readers instead
	violations, err = f.CheckForward(old, new)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, types.ViolationUnionTypesIncompatible, violations[0].Type)
}

func TestIdentityChanges(t *testing.T) {
	old := `{"type": "record", "name": "User", "namespace": "example", "fields": []}`
	renamed := `{"type": "record", "name": "Account", "namespace": "example", "fields": []}`
	moved := `{"type": "record", "name": "User", "namespace": "example.v2", "fields": []}`

	f := New()

	violations, err := f.CheckBackward(renamed, old)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, types.ViolationNameChanged, violations[0].Type)
	assert.Equal(t, "name", violations[0].FieldPath)
	assert.True(t, violations[0].IsBreaking())

	violations, err = f.CheckForward(moved, old)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, types.ViolationNamespaceChanged, violations[0].Type)
	assert.Equal(t, "namespace", violations[0].FieldPath)
}

func TestNestedRecordPaths(t *testing.T) {
	old := `{"type": "record", "name": "Order", "fields": [
		{"name": "customer", "type": {"type": "record", "name": "Customer", "fields": [
			{"name": "age", "type": "int"}
		]}}
	]}`
	new := `{"type": "record", "name": "Order", "fields": [
		{"name": "customer", "type": {"type": "record", "name": "Customer", "fields": [
			{"name": "age", "type": "boolean"}
		]}}
	]}`

	f := New()
	violations, err := f.CheckBackward(new, old)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, "customer.age", violations[0].FieldPath)
	assert.Equal(t, types.ViolationTypeChanged, violations[0].Type)
}

func TestCheckDeterministic(t *testing.T) {
	old := `{"type": "record", "name": "R", "fields": [
		{"name": "a", "type": "string"},
		{"name": "b", "type": "int"},
		{"name": "c", "type": "boolean"}
	]}`
	new := `{"type": "record", "name": "R", "fields": [{"name": "z", "type": "long"}]}`

	f := New()
	first, err := f.CheckBackward(new, old)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := f.CheckBackward(new, old)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	schema := `{"type": "record", "name": "R", "fields": [
		{"name": "id", "type": "string"},
		{"name": "count", "type": "long"}
	]}`

	f := New()
	data, err := f.Serialize(map[string]interface{}{"id": "a1", "count": int64(7)}, schema)
	require.NoError(t, err)

	decoded, err := f.Deserialize(data, schema)
	require.NoError(t, err)
	m, ok := decoded.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "a1", m["id"])
	assert.Equal(t, int64(7), m["count"])
}

package avro

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"schemaguard/internal/schema/types"

	"github.com/hamba/avro/v2"
)

// Format implements types.SchemaFormat for Avro
type Format struct{}

// New creates a new Avro format implementation
func New() *Format {
	return &Format{}
}

func (f *Format) Validate(schemaStr string) error {
	_, err := avro.Parse(schemaStr)
	if err != nil {
		return fmt.Errorf("parse schema: %w", err)
	}
	return nil
}

func (f *Format) Serialize(data interface{}, schemaStr string) ([]byte, error) {
	schema, err := avro.Parse(schemaStr)
	if err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}

	native, err := f.toNative(data)
	if err != nil {
		return nil, fmt.Errorf("convert to native: %w", err)
	}

	return avro.Marshal(schema, native)
}

func (f *Format) Deserialize(data []byte, schemaStr string) (interface{}, error) {
	schema, err := avro.Parse(schemaStr)
	if err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}

	var native interface{}
	if err := avro.Unmarshal(schema, data, &native); err != nil {
		return nil, fmt.Errorf("deserialize: %w", err)
	}

	return native, nil
}

// direction selects which side of a comparison acts as the reader.
type direction int

const (
	backward direction = iota // new schema reads old data
	forward                   // old schema reads new data
)

func (f *Format) CheckBackward(newSchema, oldSchema string) ([]types.Violation, error) {
	return f.check(newSchema, oldSchema, backward)
}

func (f *Format) CheckForward(newSchema, oldSchema string) ([]types.Violation, error) {
	return f.check(newSchema, oldSchema, forward)
}

func (f *Format) check(newSchema, oldSchema string, dir direction) ([]types.Violation, error) {
	oldParsed, err := avro.Parse(oldSchema)
	if err != nil {
		return nil, types.NewParseError(types.Avro, err)
	}
	newParsed, err := avro.Parse(newSchema)
	if err != nil {
		return nil, types.NewParseError(types.Avro, err)
	}

	return f.compareType("", oldParsed, newParsed, dir), nil
}

// compareType diffs two Avro types occupying the same position in the schema
// tree. Blocks run in a fixed order with sorted iteration, so the output is
// deterministic for identical inputs.
func (f *Format) compareType(path string, oldType, newType avro.Schema, dir direction) []types.Violation {
	oldType = deref(oldType)
	newType = deref(newType)

	ot, nt := oldType.Type(), newType.Type()

	// Promotions (int->long->float->double, string<->bytes) are safe reads in
	// either direction.
	if ot == nt || samePromotionFamily(ot, nt) {
		switch o := oldType.(type) {
		case *avro.RecordSchema:
			if n, ok := newType.(*avro.RecordSchema); ok {
				return f.compareRecords(path, o, n, dir)
			}
		case *avro.EnumSchema:
			if n, ok := newType.(*avro.EnumSchema); ok {
				return f.compareEnums(path, o, n)
			}
		case *avro.ArraySchema:
			if n, ok := newType.(*avro.ArraySchema); ok {
				if hasBreaking(f.compareType(path, o.Items(), n.Items(), dir)) {
					return []types.Violation{types.Breaking(types.ViolationArrayItemsChanged, at(path),
						"array item schema changed incompatibly")}
				}
				return nil
			}
		case *avro.MapSchema:
			if n, ok := newType.(*avro.MapSchema); ok {
				if hasBreaking(f.compareType(path, o.Values(), n.Values(), dir)) {
					return []types.Violation{types.Breaking(types.ViolationMapValueChanged, at(path),
						"map value schema changed incompatibly")}
				}
				return nil
			}
		case *avro.UnionSchema:
			if n, ok := newType.(*avro.UnionSchema); ok {
				return f.compareUnions(path, o, n, dir)
			}
		case *avro.FixedSchema:
			if n, ok := newType.(*avro.FixedSchema); ok {
				if o.Size() != n.Size() {
					return []types.Violation{types.Breaking(types.ViolationTypeChanged, at(path),
						fmt.Sprintf("fixed size changed from %d to %d", o.Size(), n.Size())).
						WithValues(fmt.Sprintf("%d", o.Size()), fmt.Sprintf("%d", n.Size()))}
				}
				return nil
			}
		}
		return nil
	}

	// One side is a union and the other is not: nullability changes.
	if ou, ok := oldType.(*avro.UnionSchema); ok {
		return f.compareUnionCollapsed(path, ou, newType, dir)
	}
	if nu, ok := newType.(*avro.UnionSchema); ok {
		return f.compareUnionWidened(path, oldType, nu, dir)
	}

	return []types.Violation{types.Breaking(types.ViolationTypeChanged, at(path),
		fmt.Sprintf("type changed from %s to %s", ot, nt)).
		WithValues(string(ot), string(nt))}
}

func (f *Format) compareRecords(path string, oldRec, newRec *avro.RecordSchema, dir direction) []types.Violation {
	var out []types.Violation

	// Identity changes are never compatible, regardless of mode.
	if oldRec.Name() != newRec.Name() {
		out = append(out, types.Breaking(types.ViolationNameChanged, childPath(path, "name"),
			fmt.Sprintf("record name changed from %s to %s", oldRec.Name(), newRec.Name())).
			WithValues(oldRec.Name(), newRec.Name()))
	}
	if oldRec.Namespace() != newRec.Namespace() {
		out = append(out, types.Breaking(types.ViolationNamespaceChanged, childPath(path, "namespace"),
			fmt.Sprintf("record namespace changed from %q to %q", oldRec.Namespace(), newRec.Namespace())).
			WithValues(oldRec.Namespace(), newRec.Namespace()))
	}

	oldFields := fieldsByName(oldRec)
	newFields := fieldsByName(newRec)

	// Fields present in the old record and gone from the new one
	for _, name := range sortedFieldNames(oldFields) {
		if newFields[name] != nil {
			continue
		}
		if dir == backward && !oldFields[name].HasDefault() {
			out = append(out, types.Breaking(types.ViolationFieldRemoved, childPath(path, name),
				"field removed without a default"))
		} else {
			out = append(out, types.Info(types.ViolationFieldRemoved, childPath(path, name), "field removed"))
		}
	}

	// Fields the new record introduces
	for _, name := range sortedFieldNames(newFields) {
		if oldFields[name] != nil {
			continue
		}
		if dir == forward && !newFields[name].HasDefault() {
			out = append(out, types.Breaking(types.ViolationRequiredAdded, childPath(path, name),
				"field added without a default; old readers cannot synthesize it"))
		}
	}

	// Recurse into fields both sides share
	for _, name := range sortedFieldNames(oldFields) {
		newField := newFields[name]
		if newField == nil {
			continue
		}
		out = append(out, f.compareType(childPath(path, name), oldFields[name].Type(), newField.Type(), dir)...)
	}

	return out
}

func (f *Format) compareEnums(path string, oldEnum, newEnum *avro.EnumSchema) []types.Violation {
	newSymbols := make(map[string]bool, len(newEnum.Symbols()))
	for _, s := range newEnum.Symbols() {
		newSymbols[s] = true
	}

	var missing []string
	for _, s := range oldEnum.Symbols() {
		if !newSymbols[s] {
			missing = append(missing, s)
		}
	}
	if len(missing) == 0 {
		// Symbol additions are non-breaking
		return nil
	}
	sort.Strings(missing)

	return []types.Violation{types.Breaking(types.ViolationEnumValueRemoved, at(path),
		fmt.Sprintf("enum symbols removed: %s", strings.Join(missing, ", "))).
		WithValues(strings.Join(oldEnum.Symbols(), ","), strings.Join(newEnum.Symbols(), ","))}
}

func (f *Format) compareUnions(path string, oldUnion, newUnion *avro.UnionSchema, dir direction) []types.Violation {
	var out []types.Violation

	for i, member := range oldUnion.Types() {
		match := findUnionMember(newUnion, member)
		if match == nil {
			out = append(out, types.Breaking(types.ViolationUnionTypesIncompatible,
				fmt.Sprintf("%s[%d]", at(path), i),
				fmt.Sprintf("union member %s removed", memberName(member))).
				WithValues(memberName(member), ""))
			continue
		}
		out = append(out, f.compareType(fmt.Sprintf("%s[%d]", at(path), i), member, match, dir)...)
	}

	// Member additions are non-breaking
	return out
}

// compareUnionCollapsed handles an old union narrowed to a bare type, most
// commonly [null, T] collapsing to T.
func (f *Format) compareUnionCollapsed(path string, oldUnion *avro.UnionSchema, newType avro.Schema, dir direction) []types.Violation {
	match := findUnionMember(oldUnion, newType)
	if match == nil {
		return []types.Violation{types.Breaking(types.ViolationTypeChanged, at(path),
			fmt.Sprintf("type changed from union to %s", newType.Type())).
			WithValues("union", string(newType.Type()))}
	}

	var out []types.Violation
	if dir == backward && oldUnion.Nullable() {
		out = append(out, types.Breaking(types.ViolationFieldMadeRequired, at(path),
			"optional field made required; old data may hold null"))
	}
	return append(out, f.compareType(path, match, newType, dir)...)
}

// compareUnionWidened handles a bare type widened to a union, most commonly
// T becoming [null, T].
func (f *Format) compareUnionWidened(path string, oldType avro.Schema, newUnion *avro.UnionSchema, dir direction) []types.Violation {
	match := findUnionMember(newUnion, oldType)
	if match == nil {
		return []types.Violation{types.Breaking(types.ViolationTypeChanged, at(path),
			fmt.Sprintf("type changed from %s to union", oldType.Type())).
			WithValues(string(oldType.Type()), "union")}
	}

	var out []types.Violation
	if dir == forward {
		out = append(out, types.Breaking(types.ViolationUnionTypesIncompatible, at(path),
			"type widened to a union; old readers cannot handle the new members"))
	}
	return append(out, f.compareType(path, oldType, match, dir)...)
}

// findUnionMember locates the member of u that a value of type t matches:
// same type, same name for named types, or a member of t's promotion family.
func findUnionMember(u *avro.UnionSchema, t avro.Schema) avro.Schema {
	t = deref(t)
	for _, member := range u.Types() {
		member = deref(member)
		if member.Type() != t.Type() && !samePromotionFamily(member.Type(), t.Type()) {
			continue
		}
		if memberName(member) == memberName(t) {
			return member
		}
	}
	return nil
}

func deref(s avro.Schema) avro.Schema {
	if ref, ok := s.(*avro.RefSchema); ok {
		return ref.Schema()
	}
	return s
}

// samePromotionFamily reports whether two types belong to the same promotion
// lattice and are therefore readable in either direction.
func samePromotionFamily(a, b avro.Type) bool {
	numeric := map[avro.Type]bool{avro.Int: true, avro.Long: true, avro.Float: true, avro.Double: true}
	if numeric[a] && numeric[b] {
		return true
	}
	stringy := map[avro.Type]bool{avro.String: true, avro.Bytes: true}
	return stringy[a] && stringy[b]
}

func memberName(s avro.Schema) string {
	switch t := deref(s).(type) {
	case *avro.RecordSchema:
		return t.FullName()
	case *avro.EnumSchema:
		return t.FullName()
	case *avro.FixedSchema:
		return t.FullName()
	default:
		return string(t.Type())
	}
}

func fieldsByName(rec *avro.RecordSchema) map[string]*avro.Field {
	fields := make(map[string]*avro.Field, len(rec.Fields()))
	for _, field := range rec.Fields() {
		fields[field.Name()] = field
	}
	return fields
}

func sortedFieldNames(fields map[string]*avro.Field) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func hasBreaking(violations []types.Violation) bool {
	for _, v := range violations {
		if v.IsBreaking() {
			return true
		}
	}
	return false
}

func at(path string) string {
	if path == "" {
		return "schema"
	}
	return path
}

func childPath(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func (f *Format) toNative(data interface{}) (interface{}, error) {
	if _, ok := data.(map[string]interface{}); ok {
		return data, nil
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal to JSON: %w", err)
	}

	var native interface{}
	if err := json.Unmarshal(jsonData, &native); err != nil {
		return nil, fmt.Errorf("unmarshal to native: %w", err)
	}

	return native, nil
}

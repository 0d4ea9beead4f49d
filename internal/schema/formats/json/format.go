package json

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"

	"schemaguard/internal/schema/types"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Format implements types.SchemaFormat for JSON Schema
type Format struct{}

// New creates a new JSON Schema format implementation
func New() *Format {
	return &Format{}
}

func (f *Format) Validate(schemaStr string) error {
	_, err := jsonschema.CompileString("schema.json", schemaStr)
	return err
}

func (f *Format) Serialize(data interface{}, schemaStr string) ([]byte, error) {
	// Compile schema
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader([]byte(schemaStr))); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	// Validate data against schema
	if err := schema.Validate(data); err != nil {
		return nil, fmt.Errorf("validate data: %w", err)
	}

	return json.Marshal(data)
}

func (f *Format) Deserialize(data []byte, schemaStr string) (interface{}, error) {
	var result interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unmarshal JSON: %w", err)
	}

	// Compile schema
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader([]byte(schemaStr))); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	// Validate data against schema
	if err := schema.Validate(result); err != nil {
		return nil, fmt.Errorf("validate data: %w", err)
	}

	return result, nil
}

// direction selects which side of a comparison acts as the reader.
type direction int

const (
	backward direction = iota // new schema reads old data
	forward                   // old schema reads new data
)

func (d direction) String() string {
	if d == forward {
		return "forward"
	}
	return "backward"
}

func (f *Format) CheckBackward(newSchema, oldSchema string) ([]types.Violation, error) {
	return f.check(newSchema, oldSchema, backward)
}

func (f *Format) CheckForward(newSchema, oldSchema string) ([]types.Violation, error) {
	return f.check(newSchema, oldSchema, forward)
}

func (f *Format) check(newSchema, oldSchema string, dir direction) ([]types.Violation, error) {
	oldNode, err := parseSchema(oldSchema)
	if err != nil {
		return nil, err
	}
	newNode, err := parseSchema(newSchema)
	if err != nil {
		return nil, err
	}

	slog.Debug("checking JSON Schema compatibility", "direction", dir.String())
	return f.compare("", oldNode, newNode, dir), nil
}

func parseSchema(schemaStr string) (*schemaNode, error) {
	if _, err := jsonschema.CompileString("schema.json", schemaStr); err != nil {
		return nil, types.NewParseError(types.JSON, err)
	}
	var raw interface{}
	if err := json.Unmarshal([]byte(schemaStr), &raw); err != nil {
		return nil, types.NewParseError(types.JSON, err)
	}
	if m, ok := raw.(map[string]interface{}); ok {
		return &schemaNode{raw: m}, nil
	}
	// Boolean schemas carry no structure to compare
	return &schemaNode{raw: map[string]interface{}{}}, nil
}

// compare walks the old and new schema trees in lock-step, collecting
// violations. Blocks run in a fixed order and iterate names sorted, so the
// output is deterministic for identical inputs.
func (f *Format) compare(path string, oldNode, newNode *schemaNode, dir direction) []types.Violation {
	var out []types.Violation

	oldTypes := oldNode.typeList()
	newTypes := newNode.typeList()
	if len(oldTypes) > 0 && len(newTypes) > 0 {
		readerTypes, writerTypes := newTypes, oldTypes
		if dir == forward {
			readerTypes, writerTypes = oldTypes, newTypes
		}
		if !readable(readerTypes, writerTypes) {
			v := types.Breaking(types.ViolationTypeChanged, at(path),
				fmt.Sprintf("type changed from %s to %s", strings.Join(oldTypes, ","), strings.Join(newTypes, ","))).
				WithValues(strings.Join(oldTypes, ","), strings.Join(newTypes, ","))
			// Nothing below the node is meaningful once its type is gone
			return []types.Violation{v}
		}
	}

	out = append(out, f.constraintViolations(path, oldNode, newNode, dir)...)
	out = append(out, f.enumViolations(path, oldNode, newNode, dir)...)

	oldProps := oldNode.properties()
	newProps := newNode.properties()

	readerNode, writerNode := newNode, oldNode
	readerProps, writerProps := newProps, oldProps
	if dir == forward {
		readerNode, writerNode = oldNode, newNode
		readerProps, writerProps = oldProps, newProps
	}

	// Entries the reader requires that producers never guaranteed
	writerRequired := writerNode.requiredSet()
	for _, name := range sortedNames(readerNode.requiredSet()) {
		if writerRequired[name] {
			continue
		}
		if dir == forward && writerProps[name] == nil {
			// Dropped entirely; reported as a removal below
			continue
		}
		if prop := readerProps[name]; prop != nil && prop.hasDefault() {
			continue
		}
		desc := "required property added without a default"
		if dir == forward {
			desc = "property no longer required but readers expect it"
		}
		out = append(out, types.Breaking(types.ViolationRequiredAdded, childPath(path, name), desc))
	}

	// Properties present in the old schema and gone from the new one
	for _, name := range sortedPropNames(oldProps) {
		if newProps[name] != nil {
			continue
		}
		if dir == forward && !oldProps[name].hasDefault() {
			out = append(out, types.Breaking(types.ViolationFieldRemoved, childPath(path, name), "property removed without a default"))
		} else {
			out = append(out, types.Info(types.ViolationFieldRemoved, childPath(path, name), "property removed"))
		}
	}

	if readerNode.additionalForbidden() && !writerNode.additionalForbidden() {
		desc := "constraint additionalProperties tightened"
		if dir == forward {
			desc = "constraint additionalProperties loosened"
		}
		out = append(out, types.Breaking(types.ViolationConstraintAdded, at(path), desc).
			WithValues(oldNode.additionalString(), newNode.additionalString()))
	}

	if oldAP, newAP := oldNode.additionalSchema(), newNode.additionalSchema(); oldAP != nil && newAP != nil {
		if hasBreaking(f.compare(path, oldAP, newAP, dir)) {
			out = append(out, types.Breaking(types.ViolationMapValueChanged, at(path), "map value schema changed incompatibly"))
		}
	}

	if oldItems, newItems := oldNode.items(), newNode.items(); oldItems != nil && newItems != nil {
		if hasBreaking(f.compare(path, oldItems, newItems, dir)) {
			out = append(out, types.Breaking(types.ViolationArrayItemsChanged, at(path), "array item schema changed incompatibly").
				WithValues(strings.Join(oldItems.typeList(), ","), strings.Join(newItems.typeList(), ",")))
		}
	}

	// Recurse into properties both sides share
	for _, name := range sortedPropNames(oldProps) {
		if newProps[name] == nil {
			continue
		}
		out = append(out, f.compare(childPath(path, name), oldProps[name], newProps[name], dir)...)
	}

	return out
}

// numericConstraints are checked in this order; tighter means the reader
// enforces a bound the writer never promised.
var numericConstraints = []struct {
	key     string
	tighter func(reader float64, writer float64, writerSet bool) bool
}{
	{"minimum", func(r, w float64, set bool) bool { return !set || r > w }},
	{"maximum", func(r, w float64, set bool) bool { return !set || r < w }},
	{"minLength", func(r, w float64, set bool) bool {
		if !set {
			w = 0
		}
		return r > w
	}},
	{"maxLength", func(r, w float64, set bool) bool { return !set || r < w }},
}

func (f *Format) constraintViolations(path string, oldNode, newNode *schemaNode, dir direction) []types.Violation {
	readerNode, writerNode := newNode, oldNode
	if dir == forward {
		readerNode, writerNode = oldNode, newNode
	}

	var out []types.Violation
	for _, c := range numericConstraints {
		readerVal, readerSet := readerNode.number(c.key)
		if !readerSet {
			continue
		}
		writerVal, writerSet := writerNode.number(c.key)
		if c.tighter(readerVal, writerVal, writerSet) {
			out = append(out, types.Breaking(types.ViolationConstraintAdded, at(path),
				fmt.Sprintf("constraint %s %s", c.key, tightenedWord(dir))).
				WithValues(numString(oldNode, c.key), numString(newNode, c.key)))
		}
	}

	if readerPat, ok := readerNode.str("pattern"); ok {
		writerPat, writerSet := writerNode.str("pattern")
		if !writerSet || writerPat != readerPat {
			oldPat, _ := oldNode.str("pattern")
			newPat, _ := newNode.str("pattern")
			out = append(out, types.Breaking(types.ViolationConstraintAdded, at(path),
				fmt.Sprintf("constraint pattern %s", tightenedWord(dir))).
				WithValues(oldPat, newPat))
		}
	}

	return out
}

func (f *Format) enumViolations(path string, oldNode, newNode *schemaNode, dir direction) []types.Violation {
	readerNode, writerNode := newNode, oldNode
	if dir == forward {
		readerNode, writerNode = oldNode, newNode
	}

	readerEnum := readerNode.enumValues()
	if len(readerEnum) == 0 {
		return nil
	}

	writerEnum := writerNode.enumValues()
	if len(writerEnum) == 0 {
		return []types.Violation{types.Breaking(types.ViolationConstraintAdded, at(path),
			fmt.Sprintf("constraint enum %s", tightenedWord(dir))).
			WithValues(enumString(oldNode.enumValues()), enumString(newNode.enumValues()))}
	}

	var missing []string
	for _, w := range writerEnum {
		found := false
		for _, r := range readerEnum {
			if reflect.DeepEqual(w, r) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, fmt.Sprintf("%v", w))
		}
	}
	if len(missing) == 0 {
		return nil
	}

	desc := fmt.Sprintf("enum values removed: %s", strings.Join(missing, ", "))
	if dir == forward {
		desc = fmt.Sprintf("enum values added: %s", strings.Join(missing, ", "))
	}
	return []types.Violation{types.Breaking(types.ViolationEnumValueRemoved, at(path), desc).
		WithValues(enumString(oldNode.enumValues()), enumString(newNode.enumValues()))}
}

// readable reports whether every type the writer may produce is accepted by
// at least one of the reader's types. integer widening to number is the one
// recognized widening.
func readable(readerTypes, writerTypes []string) bool {
	for _, w := range writerTypes {
		ok := false
		for _, r := range readerTypes {
			if r == w || (w == "integer" && r == "number") {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func tightenedWord(dir direction) string {
	if dir == forward {
		return "loosened"
	}
	return "tightened"
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

func sortedNames(set map[string]bool) []string {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedPropNames(props map[string]*schemaNode) []string {
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func numString(n *schemaNode, key string) string {
	if v, ok := n.number(key); ok {
		return fmt.Sprintf("%v", v)
	}
	return ""
}

func enumString(values []interface{}) string {
	if len(values) == 0 {
		return ""
	}
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%v", v)
	}
	return strings.Join(parts, ",")
}

// schemaNode wraps one raw JSON Schema object for structural inspection.
type schemaNode struct {
	raw map[string]interface{}
}

func (n *schemaNode) typeList() []string {
	switch t := n.raw["type"].(type) {
	case string:
		return []string{t}
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, v := range t {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func (n *schemaNode) properties() map[string]*schemaNode {
	props := make(map[string]*schemaNode)
	if m, ok := n.raw["properties"].(map[string]interface{}); ok {
		for name, v := range m {
			if pm, ok := v.(map[string]interface{}); ok {
				props[name] = &schemaNode{raw: pm}
			} else {
				props[name] = &schemaNode{raw: map[string]interface{}{}}
			}
		}
	}
	return props
}

func (n *schemaNode) requiredSet() map[string]bool {
	required := make(map[string]bool)
	if list, ok := n.raw["required"].([]interface{}); ok {
		for _, v := range list {
			if name, ok := v.(string); ok {
				required[name] = true
			}
		}
	}
	return required
}

func (n *schemaNode) hasDefault() bool {
	_, ok := n.raw["default"]
	return ok
}

func (n *schemaNode) items() *schemaNode {
	if m, ok := n.raw["items"].(map[string]interface{}); ok {
		return &schemaNode{raw: m}
	}
	return nil
}

func (n *schemaNode) additionalForbidden() bool {
	b, ok := n.raw["additionalProperties"].(bool)
	return ok && !b
}

func (n *schemaNode) additionalSchema() *schemaNode {
	if m, ok := n.raw["additionalProperties"].(map[string]interface{}); ok {
		return &schemaNode{raw: m}
	}
	return nil
}

func (n *schemaNode) additionalString() string {
	switch v := n.raw["additionalProperties"].(type) {
	case bool:
		return fmt.Sprintf("%t", v)
	case map[string]interface{}:
		return "schema"
	default:
		return "true"
	}
}

func (n *schemaNode) enumValues() []interface{} {
	list, _ := n.raw["enum"].([]interface{})
	return list
}

func (n *schemaNode) number(key string) (float64, bool) {
	v, ok := n.raw[key].(float64)
	return v, ok
}

func (n *schemaNode) str(key string) (string, bool) {
	v, ok := n.raw[key].(string)
	return v, ok
}

package protobuf

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"schemaguard/internal/schema/types"

	"github.com/bufbuild/protocompile"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

const fileName = "schema.proto"

// Format implements types.SchemaFormat for Protobuf. Schemas are .proto
// source text, compiled to descriptors with protocompile.
type Format struct{}

// New creates a new Protobuf format implementation
func New() *Format {
	return &Format{}
}

func (f *Format) Validate(schemaStr string) error {
	_, err := f.parse(schemaStr)
	return err
}

func (f *Format) Serialize(data interface{}, schemaStr string) ([]byte, error) {
	md, err := f.rootMessage(schemaStr)
	if err != nil {
		return nil, err
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal to JSON: %w", err)
	}

	message := dynamicpb.NewMessage(md)
	if err := protojson.Unmarshal(jsonData, message); err != nil {
		return nil, fmt.Errorf("convert to proto message: %w", err)
	}

	return proto.Marshal(message)
}

func (f *Format) Deserialize(data []byte, schemaStr string) (interface{}, error) {
	md, err := f.rootMessage(schemaStr)
	if err != nil {
		return nil, err
	}

	message := dynamicpb.NewMessage(md)
	if err := proto.Unmarshal(data, message); err != nil {
		return nil, fmt.Errorf("unmarshal proto message: %w", err)
	}

	jsonData, err := protojson.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("convert to JSON: %w", err)
	}

	var result interface{}
	if err := json.Unmarshal(jsonData, &result); err != nil {
		return nil, fmt.Errorf("unmarshal JSON: %w", err)
	}

	return result, nil
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
	oldFile, err := f.parse(oldSchema)
	if err != nil {
		return nil, err
	}
	newFile, err := f.parse(newSchema)
	if err != nil {
		return nil, err
	}

	var out []types.Violation

	oldMessages := oldFile.Messages()
	newMessages := newFile.Messages()

	// A file with a single message on each side is compared as one pair even
	// when the message was renamed; multi-message files pair by name.
	if oldMessages.Len() == 1 && newMessages.Len() == 1 {
		omd, nmd := oldMessages.Get(0), newMessages.Get(0)
		if omd.Name() != nmd.Name() {
			out = append(out, types.Warning(types.ViolationNameChanged, "name",
				fmt.Sprintf("message renamed from %s to %s", omd.Name(), nmd.Name())).
				WithValues(string(omd.Name()), string(nmd.Name())))
		}
		return append(out, f.compareMessages("", omd, nmd, dir)...), nil
	}

	names := make([]string, 0, oldMessages.Len())
	for i := 0; i < oldMessages.Len(); i++ {
		names = append(names, string(oldMessages.Get(i).Name()))
	}
	sort.Strings(names)

	for _, name := range names {
		omd := oldMessages.ByName(protoreflect.Name(name))
		nmd := newMessages.ByName(protoreflect.Name(name))
		if nmd == nil {
			v := types.Warning(types.ViolationFieldRemoved, name, "message removed")
			if dir == forward {
				v = types.Breaking(types.ViolationFieldRemoved, name, "message removed; old readers expect it")
			}
			out = append(out, v)
			continue
		}
		out = append(out, f.compareMessages(name, omd, nmd, dir)...)
	}

	return out, nil
}

// compareMessages diffs two message descriptors by field number. Field paths
// are the field number, prefixed with the message name for multi-message
// files and nested messages.
func (f *Format) compareMessages(path string, oldMsg, newMsg protoreflect.MessageDescriptor, dir direction) []types.Violation {
	var out []types.Violation

	oldFields := fieldsByNumber(oldMsg)
	newFields := fieldsByNumber(newMsg)

	for _, num := range sortedNumbers(oldFields) {
		oldField := oldFields[num]
		fieldPath := numberPath(path, num)

		newField, exists := newFields[num]
		if !exists {
			out = append(out, f.removedFieldViolation(fieldPath, oldField, newMsg, dir))
			continue
		}

		if oldField.Name() != newField.Name() {
			if !wireCompatible(oldField, newField) {
				// Same number, different name, different wire shape: the
				// number was reused for an unrelated field.
				out = append(out, types.Custom("FieldNumberReused", fieldPath,
					fmt.Sprintf("field number %d reused: %s (%s) replaced by %s (%s)",
						num, oldField.Name(), oldField.Kind(), newField.Name(), newField.Kind())).
					WithValues(string(oldField.Name()), string(newField.Name())))
				continue
			}
			out = append(out, types.Warning(types.ViolationNameChanged, fieldPath,
				fmt.Sprintf("field %d renamed from %s to %s", num, oldField.Name(), newField.Name())).
				WithValues(string(oldField.Name()), string(newField.Name())))
		} else if !wireCompatible(oldField, newField) {
			out = append(out, types.Breaking(types.ViolationTypeChanged, fieldPath,
				fmt.Sprintf("field type changed from %s to %s across wire groups",
					oldField.Kind(), newField.Kind())).
				WithValues(oldField.Kind().String(), newField.Kind().String()))
		}

		if oldField.IsList() != newField.IsList() {
			out = append(out, types.Breaking(types.ViolationTypeChanged, fieldPath,
				"field cardinality changed between repeated and singular").
				WithValues(label(oldField), label(newField)))
		}

		if dir == backward && !isRequired(oldField) && isRequired(newField) {
			out = append(out, types.Breaking(types.ViolationFieldMadeRequired, fieldPath,
				"optional field made required; old data may omit it"))
		}
		if dir == forward && isRequired(oldField) && !isRequired(newField) {
			out = append(out, types.Breaking(types.ViolationFieldMadeRequired, fieldPath,
				"field no longer required but old readers still require it"))
		}
	}

	for _, num := range sortedNumbers(newFields) {
		if _, exists := oldFields[num]; exists {
			continue
		}
		newField := newFields[num]
		fieldPath := numberPath(path, num)

		if oldMsg.ReservedRanges().Has(num) {
			out = append(out, types.Breaking(types.ViolationFieldRemoved, fieldPath,
				fmt.Sprintf("field number %d was reserved; stale writers may still emit it", num)).
				WithValues("reserved", string(newField.Name())))
			continue
		}
		if dir == backward && isRequired(newField) {
			out = append(out, types.Breaking(types.ViolationRequiredAdded, fieldPath,
				"required field added; old data cannot satisfy it"))
		}
	}

	// Recurse into nested messages both sides define, skipping synthesized
	// map entries which are covered by the field comparison above.
	nestedNames := make([]string, 0, oldMsg.Messages().Len())
	for i := 0; i < oldMsg.Messages().Len(); i++ {
		nested := oldMsg.Messages().Get(i)
		if nested.IsMapEntry() {
			continue
		}
		nestedNames = append(nestedNames, string(nested.Name()))
	}
	sort.Strings(nestedNames)
	for _, name := range nestedNames {
		omd := oldMsg.Messages().ByName(protoreflect.Name(name))
		nmd := newMsg.Messages().ByName(protoreflect.Name(name))
		if nmd == nil {
			continue
		}
		out = append(out, f.compareMessages(childPath(path, name), omd, nmd, dir)...)
	}

	return out
}

func (f *Format) removedFieldViolation(fieldPath string, oldField protoreflect.FieldDescriptor, newMsg protoreflect.MessageDescriptor, dir direction) types.Violation {
	if dir == forward && isRequired(oldField) {
		return types.Breaking(types.ViolationFieldRemoved, fieldPath,
			"required field removed; old readers reject data without it").
			WithValues(string(oldField.Name()), "")
	}
	if newMsg.ReservedRanges().Has(oldField.Number()) {
		// Properly retired: the number cannot be reused
		return types.Info(types.ViolationFieldRemoved, fieldPath,
			fmt.Sprintf("field %s removed and its number reserved", oldField.Name())).
			WithValues(string(oldField.Name()), "")
	}
	return types.Warning(types.ViolationFieldRemoved, fieldPath,
		fmt.Sprintf("field %s removed without reserving its number", oldField.Name())).
		WithValues(string(oldField.Name()), "")
}

func (f *Format) parse(schemaStr string) (protoreflect.FileDescriptor, error) {
	compiler := protocompile.Compiler{
		Resolver: protocompile.WithStandardImports(&protocompile.SourceResolver{
			Accessor: protocompile.SourceAccessorFromMap(map[string]string{
				fileName: schemaStr,
			}),
		}),
	}

	files, err := compiler.Compile(context.Background(), fileName)
	if err != nil {
		return nil, types.NewParseError(types.Protobuf, err)
	}

	return files[0], nil
}

func (f *Format) rootMessage(schemaStr string) (protoreflect.MessageDescriptor, error) {
	file, err := f.parse(schemaStr)
	if err != nil {
		return nil, err
	}
	if file.Messages().Len() == 0 {
		return nil, fmt.Errorf("no message type found in schema")
	}
	return file.Messages().Get(0), nil
}

// wireCompatible reports whether two fields share an on-wire encoding, so a
// change between them does not break decoding. Message and enum references
// additionally compare by full name.
func wireCompatible(a, b protoreflect.FieldDescriptor) bool {
	ga, gb := wireGroup(a), wireGroup(b)
	return ga == gb && ga != ""
}

func wireGroup(fd protoreflect.FieldDescriptor) string {
	switch fd.Kind() {
	case protoreflect.Int32Kind, protoreflect.Int64Kind,
		protoreflect.Uint32Kind, protoreflect.Uint64Kind,
		protoreflect.BoolKind, protoreflect.EnumKind:
		return "varint"
	case protoreflect.Sint32Kind, protoreflect.Sint64Kind:
		return "zigzag"
	case protoreflect.Fixed32Kind, protoreflect.Sfixed32Kind, protoreflect.FloatKind:
		return "fixed32"
	case protoreflect.Fixed64Kind, protoreflect.Sfixed64Kind, protoreflect.DoubleKind:
		return "fixed64"
	case protoreflect.StringKind, protoreflect.BytesKind:
		return "length-delimited"
	case protoreflect.MessageKind:
		return "message:" + string(fd.Message().FullName())
	case protoreflect.GroupKind:
		return "group:" + string(fd.Message().FullName())
	default:
		return ""
	}
}

func isRequired(fd protoreflect.FieldDescriptor) bool {
	return fd.Cardinality() == protoreflect.Required
}

func label(fd protoreflect.FieldDescriptor) string {
	if fd.IsList() {
		return "repeated"
	}
	return "singular"
}

func fieldsByNumber(md protoreflect.MessageDescriptor) map[protoreflect.FieldNumber]protoreflect.FieldDescriptor {
	fields := make(map[protoreflect.FieldNumber]protoreflect.FieldDescriptor, md.Fields().Len())
	for i := 0; i < md.Fields().Len(); i++ {
		fd := md.Fields().Get(i)
		fields[fd.Number()] = fd
	}
	return fields
}

func sortedNumbers(fields map[protoreflect.FieldNumber]protoreflect.FieldDescriptor) []protoreflect.FieldNumber {
	numbers := make([]protoreflect.FieldNumber, 0, len(fields))
	for num := range fields {
		numbers = append(numbers, num)
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	return numbers
}

func numberPath(path string, num protoreflect.FieldNumber) string {
	return childPath(path, fmt.Sprintf("%d", num))
}

func childPath(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

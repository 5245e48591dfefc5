package commands

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

const (
	argTag    = "arg"
	injectTag = "inject"
)

// Field describes one bindable field of a command, for catalogues and help output.
type Field struct {
	Name     string `json:"name" yaml:"name"`
	Type     string `json:"type" yaml:"type"`
	Required bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Injected bool   `json:"injected,omitempty" yaml:"injected,omitempty"`
	Optional bool   `json:"optional,omitempty" yaml:"optional,omitempty"`
}

type schemaField struct {
	index    []int
	name     string
	typ      reflect.Type
	required bool
	optional bool
	nullable bool
	coerce   bool
}

// Schema is the compiled binding plan for a command struct.
// It is built once at registration and is safe for concurrent use.
type Schema struct {
	typ      reflect.Type
	defaults reflect.Value
	args     []schemaField
	byName   map[string]int
	injects  []schemaField
}

// compileSchema reads the arg and inject tags of t. sample supplies default field values
// and may be the zero Value.
func compileSchema(t reflect.Type, sample reflect.Value) (*Schema, error) {
	s := &Schema{
		typ:    t,
		byName: make(map[string]int),
	}
	if sample.IsValid() {
		s.defaults = sample
	} else {
		s.defaults = reflect.Zero(t)
	}

	for _, f := range reflect.VisibleFields(t) {
		if f.Anonymous {
			switch f.Type.Kind() {
			case reflect.Struct:
				continue
			case reflect.Pointer:
				return nil, &InvalidSchemaError{Type: t.String(), Field: f.Name, Reason: "embedded pointers are not supported"}
			}
		}
		if !f.IsExported() {
			continue
		}

		argValue, hasArg := f.Tag.Lookup(argTag)
		injectValue, hasInject := f.Tag.Lookup(injectTag)
		if hasArg && hasInject {
			return nil, &InvalidSchemaError{Type: t.String(), Field: f.Name, Reason: "field cannot be both an argument and injected"}
		}

		if hasInject {
			field, err := parseInjectTag(t, f, injectValue)
			if err != nil {
				return nil, err
			}
			s.injects = append(s.injects, field)
			continue
		}

		field, skip, err := parseArgTag(t, f, argValue)
		if err != nil {
			return nil, err
		}
		if skip {
			continue
		}
		if _, exists := s.byName[field.name]; exists {
			return nil, &InvalidSchemaError{Type: t.String(), Field: f.Name, Reason: fmt.Sprintf("argument %q declared twice", field.name)}
		}
		s.byName[field.name] = len(s.args)
		s.args = append(s.args, field)
	}

	return s, nil
}

func parseArgTag(t reflect.Type, f reflect.StructField, tag string) (schemaField, bool, error) {
	if tag == "-" {
		return schemaField{}, true, nil
	}
	parts := strings.Split(tag, ",")
	field := schemaField{
		index: f.Index,
		name:  strings.TrimSpace(parts[0]),
		typ:   f.Type,
	}
	if field.name == "" {
		field.name = strings.ToLower(f.Name)
	}
	for _, opt := range parts[1:] {
		switch strings.TrimSpace(opt) {
		case "required":
			field.required = true
		case "":
		default:
			return schemaField{}, false, &InvalidSchemaError{Type: t.String(), Field: f.Name, Reason: fmt.Sprintf("unknown arg option %q", opt)}
		}
	}
	return field, false, nil
}

func parseInjectTag(t reflect.Type, f reflect.StructField, tag string) (schemaField, error) {
	parts := strings.Split(tag, ",")
	field := schemaField{
		index: f.Index,
		name:  strings.TrimSpace(parts[0]),
		typ:   f.Type,
	}
	if field.name == "" {
		return schemaField{}, &InvalidSchemaError{Type: t.String(), Field: f.Name, Reason: "inject tag needs a key"}
	}
	for _, opt := range parts[1:] {
		switch strings.TrimSpace(opt) {
		case "optional":
			field.optional = true
		case "nullable":
			field.nullable = true
		case "coerce":
			field.coerce = true
		case "":
		default:
			return schemaField{}, &InvalidSchemaError{Type: t.String(), Field: f.Name, Reason: fmt.Sprintf("unknown inject option %q", opt)}
		}
	}
	return field, nil
}

// Fields lists the arguments followed by the injected fields.
func (s *Schema) Fields() []Field {
	fields := make([]Field, 0, len(s.args)+len(s.injects))
	for _, f := range s.args {
		fields = append(fields, Field{Name: f.name, Type: f.typ.String(), Required: f.required})
	}
	for _, f := range s.injects {
		fields = append(fields, Field{Name: f.name, Type: f.typ.String(), Injected: true, Optional: f.optional})
	}
	return fields
}

// Bind builds a new *T from args and env. Every field failure is collected into a single
// BadArgumentsError.
func (s *Schema) Bind(command string, args map[string]any, env Env) (any, error) {
	ptr := reflect.New(s.typ)
	value := ptr.Elem()
	value.Set(s.defaults)

	var errs []error

	var unknown []string
	for key := range args {
		if _, ok := s.byName[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	for _, key := range unknown {
		errs = append(errs, &InvalidArgumentError{Field: key, Reason: "unknown argument"})
	}

	for _, f := range s.args {
		raw, present := args[f.name]
		if !present || raw == nil {
			if f.required {
				errs = append(errs, &InvalidArgumentError{Field: f.name, Reason: "expected a value but got none"})
			}
			continue
		}
		if err := decodeInto(raw, value.FieldByIndex(f.index)); err != nil {
			errs = append(errs, &InvalidArgumentError{Field: f.name, Reason: err.Error()})
		}
	}

	for _, f := range s.injects {
		if err := s.inject(f, value.FieldByIndex(f.index), env); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return nil, &BadArgumentsError{Command: command, Errors: errs}
	}
	return ptr.Interface(), nil
}

func (s *Schema) inject(f schemaField, target reflect.Value, env Env) error {
	v, ok := env.Lookup(f.name)
	if !ok {
		if f.optional {
			return nil
		}
		return &MissingInjectedFieldError{Key: f.name}
	}

	if isNil(v) {
		if f.nullable {
			target.Set(reflect.Zero(f.typ))
			return nil
		}
		return &InvalidArgumentError{Field: f.name, Reason: "expected a value but got nil"}
	}

	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(f.typ) {
		target.Set(rv)
		return nil
	}
	if f.coerce {
		if err := decodeInto(v, target); err != nil {
			return &InvalidArgumentError{Field: f.name, Reason: err.Error()}
		}
		return nil
	}
	return &InvalidArgumentError{Field: f.name, Reason: fmt.Sprintf("expected %s but got %T", f.typ, v)}
}

func decodeInto(raw any, target reflect.Value) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      target.Addr().Interface(),
		TagName:     argTag,
		ErrorUnused: true,
		ZeroFields:  true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.TextUnmarshallerHookFunc(),
		),
	})
	if err != nil {
		return err
	}
	return decoder.Decode(raw)
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Pointer, reflect.Slice:
		return rv.IsNil()
	}
	return false
}

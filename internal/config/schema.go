package config

import (
	"fmt"
	"strings"

	"github.com/mschirtzinger/docsync/internal/odm"
)

// SchemaDef declares one collection in the config file:
//
//	[[schemas]]
//	name = "Note"
//
//	[[schemas.fields]]
//	name = "title"
//	type = "string"
//	required = true
//
//	[[schemas.fields]]
//	name = "tags"
//	type = "list"
//	elem = { type = "string" }
type SchemaDef struct {
	Name   string     `mapstructure:"name" toml:"name"`
	Fields []FieldDef `mapstructure:"fields" toml:"fields"`
}

// FieldDef declares one field. Type is one of string, int, float, bool,
// datetime, objectid, reference, list, map and embedded. Lists and maps
// name their element type in Elem; references and embedded fields name
// another schema in Schema.
type FieldDef struct {
	Name     string    `mapstructure:"name" toml:"name,omitempty"`
	Type     string    `mapstructure:"type" toml:"type"`
	Required bool      `mapstructure:"required" toml:"required,omitempty"`
	Unique   bool      `mapstructure:"unique" toml:"unique,omitempty"`
	NoSync   bool      `mapstructure:"nosync" toml:"nosync,omitempty"`
	Default  any       `mapstructure:"default" toml:"default,omitempty"`
	Elem     *FieldDef `mapstructure:"elem" toml:"elem,omitempty"`
	Schema   string    `mapstructure:"schema" toml:"schema,omitempty"`
}

// BuildSchemas turns the definitions into schemas, in declaration order.
// Embedded schemas may be declared in any order but must not embed
// themselves, directly or not.
func BuildSchemas(defs []SchemaDef) ([]*odm.Schema, error) {
	b := &builder{
		defs:     make(map[string]SchemaDef, len(defs)),
		built:    make(map[string]*odm.Schema, len(defs)),
		visiting: make(map[string]bool),
	}
	for _, d := range defs {
		if d.Name == "" {
			return nil, fmt.Errorf("schema without name")
		}
		if _, dup := b.defs[d.Name]; dup {
			return nil, fmt.Errorf("schema %q declared twice", d.Name)
		}
		b.defs[d.Name] = d
	}

	out := make([]*odm.Schema, 0, len(defs))
	for _, d := range defs {
		s, err := b.schema(d.Name)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

type builder struct {
	defs     map[string]SchemaDef
	built    map[string]*odm.Schema
	visiting map[string]bool
}

func (b *builder) schema(name string) (*odm.Schema, error) {
	if s, ok := b.built[name]; ok {
		return s, nil
	}
	def, ok := b.defs[name]
	if !ok {
		return nil, fmt.Errorf("unknown schema %q", name)
	}
	if b.visiting[name] {
		return nil, fmt.Errorf("schema %q embeds itself", name)
	}
	b.visiting[name] = true
	defer delete(b.visiting, name)

	fields := make([]odm.Field, 0, len(def.Fields))
	for _, fd := range def.Fields {
		if fd.Name == "" {
			return nil, fmt.Errorf("schema %s: field without name", name)
		}
		f, err := b.field(fd.Name, fd)
		if err != nil {
			return nil, fmt.Errorf("schema %s: %w", name, err)
		}
		fields = append(fields, f)
	}

	s, err := odm.NewSchema(name, fields...)
	if err != nil {
		return nil, err
	}
	b.built[name] = s
	return s, nil
}

func (b *builder) field(name string, fd FieldDef) (odm.Field, error) {
	var opts []odm.Option
	if fd.Required {
		opts = append(opts, odm.Required())
	}
	if fd.Unique {
		opts = append(opts, odm.Unique())
	}
	if fd.NoSync {
		opts = append(opts, odm.NoSync())
	}
	if fd.Default != nil {
		opts = append(opts, odm.Default(fd.Default))
	}

	switch strings.ToLower(fd.Type) {
	case "string":
		return odm.String(name, opts...), nil
	case "int":
		return odm.Int(name, opts...), nil
	case "float":
		return odm.Float(name, opts...), nil
	case "bool":
		return odm.Bool(name, opts...), nil
	case "datetime":
		return odm.DateTime(name, opts...), nil
	case "objectid":
		return odm.ObjectID(name, opts...), nil
	case "reference":
		if fd.Schema == "" {
			return nil, fmt.Errorf("field %s: reference needs a schema", name)
		}
		if _, ok := b.defs[fd.Schema]; !ok {
			return nil, fmt.Errorf("field %s: unknown schema %q", name, fd.Schema)
		}
		return odm.Reference(name, fd.Schema, opts...), nil
	case "list", "map":
		if fd.Elem == nil {
			return nil, fmt.Errorf("field %s: %s needs an elem type", name, fd.Type)
		}
		elem, err := b.field("", *fd.Elem)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		if strings.EqualFold(fd.Type, "list") {
			return odm.ListOf(name, elem, opts...), nil
		}
		return odm.MapOf(name, elem, opts...), nil
	case "embedded":
		s, err := b.schema(fd.Schema)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		return odm.Embed(name, s, opts...), nil
	default:
		return nil, fmt.Errorf("field %s: unknown type %q", name, fd.Type)
	}
}

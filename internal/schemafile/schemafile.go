// Package schemafile loads entity registrations from a YAML schema
// file into a schema.Registry. Join keys, table names, and bridge
// metadata left out of the file fall back to the naming conventions
// applied at registration.
package schemafile

import (
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"tidb-docquery/schema"
)

// File is the root of a schema document.
type File struct {
	Entities []Entity `mapstructure:"entities"`
}

// Entity declares one registrable entity type.
type Entity struct {
	Type      string     `mapstructure:"type"`
	Table     string     `mapstructure:"table"`
	Fields    []Field    `mapstructure:"fields"`
	Relations []Relation `mapstructure:"relations"`
}

// Field maps a storage column onto an optional public alias. A bare
// string in the file is shorthand for a field without an alias.
type Field struct {
	Column string `mapstructure:"column"`
	Alias  string `mapstructure:"alias"`
}

// Relation declares a relation to another entity.
type Relation struct {
	Name            string             `mapstructure:"name"`
	Kind            schema.Cardinality `mapstructure:"kind"`
	Target          string             `mapstructure:"target"`
	ParentKey       string             `mapstructure:"parent_key"`
	ChildKey        string             `mapstructure:"child_key"`
	BridgeTable     string             `mapstructure:"bridge_table"`
	BridgeParentKey string             `mapstructure:"bridge_parent_key"`
	BridgeChildKey  string             `mapstructure:"bridge_child_key"`
}

// Load reads a YAML schema file and builds a registry from it.
func Load(path string) (*schema.Registry, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read schema file %q: %w", path, err)
	}
	return build(v)
}

// Read builds a registry from YAML on a reader.
func Read(r io.Reader) (*schema.Registry, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(r); err != nil {
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}
	return build(v)
}

func build(v *viper.Viper) (*schema.Registry, error) {
	var f File
	if err := v.UnmarshalExact(
		&f,
		viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				stringToCardinalityHookFunc(),
				stringToFieldHookFunc(),
			),
		),
	); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}

	if len(f.Entities) == 0 {
		return nil, fmt.Errorf("schema declares no entities")
	}

	reg := schema.NewRegistry()
	for _, e := range f.Entities {
		fields := make([]schema.FieldDescriptor, len(e.Fields))
		for i, fd := range e.Fields {
			fields[i] = schema.FieldDescriptor{
				StorageName: fd.Column,
				Alias:       fd.Alias,
			}
		}

		relations := make([]schema.RelationDescriptor, len(e.Relations))
		for i, rel := range e.Relations {
			relations[i] = schema.RelationDescriptor{
				Name:            rel.Name,
				Kind:            rel.Kind,
				Target:          rel.Target,
				ParentKey:       rel.ParentKey,
				ChildKey:        rel.ChildKey,
				BridgeTable:     rel.BridgeTable,
				BridgeParentKey: rel.BridgeParentKey,
				BridgeChildKey:  rel.BridgeChildKey,
			}
		}

		if err := reg.Register(e.Type, e.Table, fields, relations); err != nil {
			return nil, fmt.Errorf("failed to register entity %q: %w", e.Type, err)
		}
	}

	return reg, nil
}

func stringToCardinalityHookFunc() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf(schema.Cardinality(0)) {
			return data, nil
		}
		return schema.ParseCardinality(strings.TrimSpace(data.(string)))
	}
}

func stringToFieldHookFunc() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf(Field{}) {
			return data, nil
		}
		return Field{Column: strings.TrimSpace(data.(string))}, nil
	}
}

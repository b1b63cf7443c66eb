// Package schema loads the description of extractable properties and how each
// one maps onto the soccer database.
package schema

import (
	"os"
	"regexp"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// PropertySpec describes one extractable property and where its canonical
// values live.
type PropertySpec struct {
	Name     string `json:"name"`
	Type     string `json:"type"`      // container type handed to the extractor, normally "array"
	ItemType string `json:"item_type"` // element type, normally "string"

	DBTable  string `json:"db_table"`
	DBColumn string `json:"db_column"`
	PKColumn string `json:"pk_column,omitempty"`
	Numeric  bool   `json:"numeric"`

	AugmentedTable  string `json:"augmented_table,omitempty"`
	AugmentedColumn string `json:"augmented_column,omitempty"`
	AugmentedFK     string `json:"augmented_fk,omitempty"`
}

// HasPK reports whether the property has a primary key column.
func (p PropertySpec) HasPK() bool {
	return p.PKColumn != ""
}

// HasAugmentation reports whether an alias table is configured.
func (p PropertySpec) HasAugmentation() bool {
	return p.AugmentedTable != ""
}

// Schema is the ordered set of properties loaded at startup.
type Schema struct {
	Properties []PropertySpec
	Required   []string
}

type rawItems struct {
	Type            string `yaml:"type"`
	DBTable         string `yaml:"db_table"`
	DBColumn        string `yaml:"db_column"`
	PKColumn        string `yaml:"pk_column"`
	Numeric         bool   `yaml:"numeric"`
	AugmentedTable  string `yaml:"augmented_table"`
	AugmentedColumn string `yaml:"augmented_column"`
	AugmentedFK     string `yaml:"augmented_fk"`
}

type rawProperty struct {
	Type  string   `yaml:"type"`
	Items rawItems `yaml:"items"`

	DBTable         string `yaml:"db_table"`
	DBColumn        string `yaml:"db_column"`
	PKColumn        string `yaml:"pk_column"`
	Numeric         bool   `yaml:"numeric"`
	AugmentedTable  string `yaml:"augmented_table"`
	AugmentedColumn string `yaml:"augmented_column"`
	AugmentedFK     string `yaml:"augmented_fk"`
}

// Load reads and validates a schema file. JSON files are accepted as is.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "schema: read %s", path)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, eris.Wrapf(err, "schema: load %s", path)
	}
	return s, nil
}

// Parse decodes a schema document, keeping properties in declaration order.
func Parse(data []byte) (*Schema, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "schema: parse")
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, eris.New("schema: document is not a mapping")
	}
	root := doc.Content[0]

	s := &Schema{}
	var propsNode *yaml.Node
	for i := 0; i+1 < len(root.Content); i += 2 {
		switch root.Content[i].Value {
		case "properties":
			propsNode = root.Content[i+1]
		case "required":
			if err := root.Content[i+1].Decode(&s.Required); err != nil {
				return nil, eris.Wrap(err, "schema: decode required")
			}
		}
	}
	if propsNode == nil || propsNode.Kind != yaml.MappingNode {
		return nil, eris.New("schema: missing properties mapping")
	}

	for i := 0; i+1 < len(propsNode.Content); i += 2 {
		name := propsNode.Content[i].Value
		var raw rawProperty
		if err := propsNode.Content[i+1].Decode(&raw); err != nil {
			return nil, eris.Wrapf(err, "schema: decode property %s", name)
		}
		s.Properties = append(s.Properties, raw.spec(name))
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// spec flattens both the nested items form and the flat form.
func (r rawProperty) spec(name string) PropertySpec {
	it := r.Items
	if it.DBTable == "" {
		it = rawItems{
			Type:            it.Type,
			DBTable:         r.DBTable,
			DBColumn:        r.DBColumn,
			PKColumn:        r.PKColumn,
			Numeric:         r.Numeric,
			AugmentedTable:  r.AugmentedTable,
			AugmentedColumn: r.AugmentedColumn,
			AugmentedFK:     r.AugmentedFK,
		}
	}
	p := PropertySpec{
		Name:            name,
		Type:            r.Type,
		ItemType:        it.Type,
		DBTable:         it.DBTable,
		DBColumn:        it.DBColumn,
		PKColumn:        it.PKColumn,
		Numeric:         it.Numeric,
		AugmentedTable:  it.AugmentedTable,
		AugmentedColumn: it.AugmentedColumn,
		AugmentedFK:     it.AugmentedFK,
	}
	if p.Type == "" {
		p.Type = "array"
	}
	if p.ItemType == "" {
		p.ItemType = "string"
	}
	return p
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ValidIdentifier reports whether s is safe to interpolate as a table or
// column name.
func ValidIdentifier(s string) bool {
	return identRe.MatchString(s)
}

// Validate checks every property for usable table and column names.
func (s *Schema) Validate() error {
	if len(s.Properties) == 0 {
		return eris.New("schema: no properties defined")
	}
	seen := make(map[string]bool, len(s.Properties))
	for _, p := range s.Properties {
		if seen[p.Name] {
			return eris.Errorf("schema: duplicate property %s", p.Name)
		}
		seen[p.Name] = true

		if p.DBTable == "" || p.DBColumn == "" {
			return eris.Errorf("schema: property %s needs db_table and db_column", p.Name)
		}
		idents := []string{p.DBTable, p.DBColumn}
		if p.PKColumn != "" {
			idents = append(idents, p.PKColumn)
		}

		aug := 0
		for _, f := range []string{p.AugmentedTable, p.AugmentedColumn, p.AugmentedFK} {
			if f != "" {
				aug++
				idents = append(idents, f)
			}
		}
		if aug != 0 && aug != 3 {
			return eris.Errorf("schema: property %s has a partial augmentation config", p.Name)
		}
		if aug == 3 && p.PKColumn == "" {
			return eris.Errorf("schema: property %s uses augmentation without pk_column", p.Name)
		}

		for _, id := range idents {
			if !ValidIdentifier(id) {
				return eris.Errorf("schema: property %s has invalid identifier %q", p.Name, id)
			}
		}
	}
	for _, r := range s.Required {
		if !seen[r] {
			return eris.Errorf("schema: required property %s is not defined", r)
		}
	}
	return nil
}

// Lookup returns the spec for a property name.
func (s *Schema) Lookup(name string) (PropertySpec, bool) {
	for _, p := range s.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return PropertySpec{}, false
}

// Names returns property names in declaration order.
func (s *Schema) Names() []string {
	out := make([]string, len(s.Properties))
	for i, p := range s.Properties {
		out[i] = p.Name
	}
	return out
}

// ExtractionField is the type-only view of a property the extractor sees.
type ExtractionField struct {
	Name     string
	Type     string
	ItemType string
}

// ExtractionSchema strips everything but names and types.
func (s *Schema) ExtractionSchema() []ExtractionField {
	out := make([]ExtractionField, len(s.Properties))
	for i, p := range s.Properties {
		out[i] = ExtractionField{Name: p.Name, Type: p.Type, ItemType: p.ItemType}
	}
	return out
}

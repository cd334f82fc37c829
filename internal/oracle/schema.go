// Package oracle is the contract boundary to the external classification
// capability: prompt assembly, constrained generation and strict validation.
package oracle

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Kind is a JSON value type.
type Kind string

const (
	KindObject  Kind = "object"
	KindArray   Kind = "array"
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindInteger Kind = "integer"
	KindBoolean Kind = "boolean"
)

// Node describes one value in an output document.
type Node struct {
	Type        Kind
	Description string
	Properties  []Property
	// Open objects accept any keys and are not walked further.
	Open      bool
	Items     *Node
	Enum      []string
	MinLength int
	Minimum   *float64
	Maximum   *float64
	Nullable  bool
}

// Property is a named member of an object node.
type Property struct {
	Name     string
	Node     *Node
	Optional bool
}

// Schema is a statically declared output contract for one stage.
type Schema struct {
	Name     string
	Strict   bool
	Root     *Node
	raw      json.RawMessage
	compiled *jsonschema.Schema
}

// NewSchema builds a schema, renders its JSON Schema document and compiles
// it once. Descriptors are static, so a failure here panics.
func NewSchema(name string, strict bool, root *Node) *Schema {
	raw, err := json.Marshal(root.jsonSchema())
	if err != nil {
		panic(fmt.Sprintf("oracle: render schema %s: %v", name, err))
	}
	compiled, err := compile(name, raw)
	if err != nil {
		panic(fmt.Sprintf("oracle: compile schema %s: %v", name, err))
	}
	return &Schema{Name: name, Strict: strict, Root: root, raw: raw, compiled: compiled}
}

func compile(name string, raw []byte) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	url := "https://turngate.local/schemas/" + name + ".json"
	c := jsonschema.NewCompiler()
	c.DefaultDraft(jsonschema.Draft2020)
	if err := c.AddResource(url, doc); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

// JSON returns the JSON Schema document sent with each request.
func (s *Schema) JSON() json.RawMessage {
	return s.raw
}

// Object declares a closed object.
func Object(props ...Property) *Node {
	return &Node{Type: KindObject, Properties: props}
}

// OpenObject declares an object with arbitrary members.
func OpenObject() *Node {
	return &Node{Type: KindObject, Open: true}
}

// Array declares a list of items.
func Array(items *Node) *Node {
	return &Node{Type: KindArray, Items: items}
}

// String declares a string.
func String() *Node {
	return &Node{Type: KindString}
}

// NonEmptyString declares a string with at least one character.
func NonEmptyString() *Node {
	return &Node{Type: KindString, MinLength: 1}
}

// Enum declares a string restricted to values.
func Enum(values ...string) *Node {
	return &Node{Type: KindString, Enum: values}
}

// Number declares a number bounded by [lo, hi].
func Number(lo, hi float64) *Node {
	return &Node{Type: KindNumber, Minimum: &lo, Maximum: &hi}
}

// Integer declares an integer.
func Integer() *Node {
	return &Node{Type: KindInteger}
}

// Boolean declares a boolean.
func Boolean() *Node {
	return &Node{Type: KindBoolean}
}

// Prop declares a required member.
func Prop(name string, n *Node) Property {
	return Property{Name: name, Node: n}
}

// OptionalProp declares a member that may be absent.
func OptionalProp(name string, n *Node) Property {
	return Property{Name: name, Node: n, Optional: true}
}

// Describe sets the description and returns n.
func (n *Node) Describe(text string) *Node {
	n.Description = text
	return n
}

// OrNull allows JSON null and returns n.
func (n *Node) OrNull() *Node {
	n.Nullable = true
	return n
}

func (n *Node) jsonSchema() map[string]any {
	out := map[string]any{}
	if n.Nullable {
		out["type"] = []string{string(n.Type), "null"}
	} else {
		out["type"] = string(n.Type)
	}
	if n.Description != "" {
		out["description"] = n.Description
	}
	switch n.Type {
	case KindObject:
		if n.Open {
			out["additionalProperties"] = true
			break
		}
		props := make(map[string]any, len(n.Properties))
		required := make([]string, 0, len(n.Properties))
		for _, p := range n.Properties {
			props[p.Name] = p.Node.jsonSchema()
			if !p.Optional {
				required = append(required, p.Name)
			}
		}
		out["properties"] = props
		out["required"] = required
		out["additionalProperties"] = false
	case KindArray:
		if n.Items != nil {
			out["items"] = n.Items.jsonSchema()
		}
	case KindString:
		if len(n.Enum) > 0 {
			enum := make([]any, 0, len(n.Enum)+1)
			for _, v := range n.Enum {
				enum = append(enum, v)
			}
			if n.Nullable {
				enum = append(enum, nil)
			}
			out["enum"] = enum
		}
		if n.MinLength > 0 {
			out["minLength"] = n.MinLength
		}
	case KindNumber, KindInteger:
		if n.Minimum != nil {
			out["minimum"] = *n.Minimum
		}
		if n.Maximum != nil {
			out["maximum"] = *n.Maximum
		}
	}
	return out
}

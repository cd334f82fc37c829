package oracle

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"

	"github.com/xiaot623/gogo/turngate/internal/domain"
)

// Parse decodes data as exactly one JSON document and validates it against
// the schema. Surrounding whitespace is the only tolerated extra text.
func (s *Schema) Parse(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, s.fail("$", "not a JSON document: "+err.Error())
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, s.fail("$", "trailing content after JSON document")
	}
	if err := s.Validate(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Validate checks a document decoded with UseNumber against the compiled
// schema and reports the first violation.
func (s *Schema) Validate(doc any) error {
	if err := s.compiled.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if !errors.As(err, &ve) {
			return s.fail("$", err.Error())
		}
		path, reason := describe(doc, ve)
		return s.fail(path, reason)
	}
	if path, n, ok := checkTrimmedLength(s.Root, doc, "$"); !ok {
		return s.fail(path, fmt.Sprintf("shorter than %d characters", n))
	}
	return nil
}

// Decode parses, validates and then decodes data into out, rejecting
// fields out does not declare.
func (s *Schema) Decode(data []byte, out any) error {
	if _, err := s.Parse(data); err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return s.fail("$", "decode: "+err.Error())
	}
	return nil
}

func (s *Schema) fail(path, reason string) error {
	return &domain.SchemaValidationError{Stage: s.Name, Path: path, Reason: reason}
}

// describe follows the first cause down to a leaf and renders its instance
// location as a $-rooted path. Keyword errors reported on the parent object
// name the offending member.
func describe(doc any, ve *jsonschema.ValidationError) (string, string) {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	path := instancePath(doc, ve.InstanceLocation)
	switch k := ve.ErrorKind.(type) {
	case *kind.AdditionalProperties:
		if len(k.Properties) > 0 {
			return path + "." + k.Properties[0], "unknown field"
		}
	case *kind.Required:
		if len(k.Missing) > 0 {
			return path + "." + k.Missing[0], "required field missing"
		}
	case *kind.Enum:
		return path, "value is not in the declared enum"
	case *kind.Type:
		return path, "expected " + strings.Join(k.Want, " or ")
	}
	return path, "violates " + strings.Join(ve.ErrorKind.KeywordPath(), "/")
}

func instancePath(doc any, tokens []string) string {
	var b strings.Builder
	b.WriteString("$")
	cur := doc
	for _, tok := range tokens {
		switch v := cur.(type) {
		case []any:
			b.WriteString("[" + tok + "]")
			if i, err := strconv.Atoi(tok); err == nil && i >= 0 && i < len(v) {
				cur = v[i]
			} else {
				cur = nil
			}
		case map[string]any:
			b.WriteString("." + tok)
			cur = v[tok]
		default:
			b.WriteString("." + tok)
			cur = nil
		}
	}
	return b.String()
}

// checkTrimmedLength enforces MinLength on the trimmed value, which JSON
// Schema cannot express.
func checkTrimmedLength(n *Node, v any, path string) (string, int, bool) {
	if n == nil || v == nil {
		return "", 0, true
	}
	switch n.Type {
	case KindObject:
		obj, ok := v.(map[string]any)
		if !ok || n.Open {
			return "", 0, true
		}
		for _, p := range n.Properties {
			if child, present := obj[p.Name]; present {
				if cp, want, ok := checkTrimmedLength(p.Node, child, path+"."+p.Name); !ok {
					return cp, want, false
				}
			}
		}
	case KindArray:
		arr, ok := v.([]any)
		if !ok {
			return "", 0, true
		}
		for i, item := range arr {
			if cp, want, ok := checkTrimmedLength(n.Items, item, fmt.Sprintf("%s[%d]", path, i)); !ok {
				return cp, want, false
			}
		}
	case KindString:
		if str, ok := v.(string); ok && utf8.RuneCountInString(strings.TrimSpace(str)) < n.MinLength {
			return path, n.MinLength, false
		}
	}
	return "", 0, true
}

package hparams

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var yamlLinePattern = regexp.MustCompile(`line (\d+)`)

// Load reads and parses the document at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &NotFoundError{Path: path, Err: err}
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	doc, err := parse(path, data)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Parse parses a flat "key: value" document. Duplicate keys are rejected.
func Parse(data []byte) (*Document, error) {
	return parse("", data)
}

func parse(path string, data []byte) (*Document, error) {
	var root yaml.Node
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&root); err != nil && !errors.Is(err, io.EOF) {
		return nil, &ParseError{Path: path, Line: yamlErrorLine(err), Msg: "invalid syntax", Err: err}
	}

	var next yaml.Node
	if err := dec.Decode(&next); !errors.Is(err, io.EOF) {
		if err != nil {
			return nil, &ParseError{Path: path, Line: yamlErrorLine(err), Msg: "invalid syntax", Err: err}
		}
		line := next.Line
		if len(next.Content) > 0 {
			line = next.Content[0].Line
		}
		return nil, &ParseError{Path: path, Line: line, Msg: "multiple documents are not supported"}
	}

	if root.Kind == 0 || len(root.Content) == 0 {
		return newDocument(path, nil), nil
	}

	mapping := root.Content[0]
	if mapping.Kind == yaml.ScalarNode && mapping.ShortTag() == "!!null" {
		return newDocument(path, nil), nil
	}
	if mapping.Kind != yaml.MappingNode {
		return nil, &ParseError{Path: path, Line: mapping.Line, Msg: "document must be a flat mapping of key: value pairs"}
	}

	group := groupFromComment(root.HeadComment)
	if g := groupFromComment(mapping.HeadComment); g != GroupNone {
		group = g
	}

	entries := make([]Entry, 0, len(mapping.Content)/2)
	lines := make(map[string]int, len(mapping.Content)/2)
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		keyNode, valueNode := mapping.Content[i], mapping.Content[i+1]

		key, err := parseKey(path, keyNode)
		if err != nil {
			return nil, err
		}
		if first, dup := lines[key]; dup {
			return nil, &ParseError{
				Path: path,
				Line: keyNode.Line,
				Key:  key,
				Msg:  fmt.Sprintf("duplicate key (first defined on line %d)", first),
			}
		}
		lines[key] = keyNode.Line

		value, err := parseValue(path, key, valueNode)
		if err != nil {
			return nil, err
		}

		if g := groupFromComment(keyNode.HeadComment); g != GroupNone {
			group = g
		}
		entries = append(entries, Entry{Key: key, Value: value, Group: group, Line: keyNode.Line})
	}

	return newDocument(path, entries), nil
}

func parseKey(path string, node *yaml.Node) (string, error) {
	if node.Kind != yaml.ScalarNode {
		return "", &ParseError{Path: path, Line: node.Line, Msg: "keys must be scalars"}
	}
	if node.ShortTag() == "!!merge" {
		return "", &ParseError{Path: path, Line: node.Line, Msg: "merge keys are not supported"}
	}
	key := strings.TrimSpace(node.Value)
	if key == "" {
		return "", &ParseError{Path: path, Line: node.Line, Msg: "empty key"}
	}
	return key, nil
}

func parseValue(path, key string, node *yaml.Node) (Value, error) {
	fail := func(msg string, err error) (Value, error) {
		return Value{}, &ParseError{Path: path, Line: node.Line, Key: key, Msg: msg, Err: err}
	}

	switch node.Kind {
	case yaml.ScalarNode:
	case yaml.AliasNode:
		return fail("aliases are not supported", nil)
	case yaml.SequenceNode, yaml.MappingNode:
		return fail("nested values are not supported", nil)
	default:
		return fail("unsupported node", nil)
	}

	switch node.ShortTag() {
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err != nil {
			return fail("invalid boolean", err)
		}
		return BoolValue(b), nil
	case "!!int":
		var i int64
		if err := node.Decode(&i); err != nil {
			return fail("invalid integer", err)
		}
		return IntValue(i), nil
	case "!!float":
		var f float64
		if err := node.Decode(&f); err != nil {
			return fail("invalid float", err)
		}
		return FloatValue(f), nil
	case "!!str", "!!timestamp":
		return StringValue(node.Value), nil
	case "!!null":
		return fail("missing value", nil)
	}
	return fail(fmt.Sprintf("unsupported tag %s", node.Tag), nil)
}

// groupFromComment picks a known group out of a short comment header such as
// "# lr scheduler". Longer prose comments never start a group.
func groupFromComment(comment string) Group {
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return GroupNone
	}
	lines := strings.Split(comment, "\n")
	text := strings.ToLower(strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(lines[len(lines)-1]), "#")))
	if text == "" || len(strings.Fields(text)) > 3 {
		return GroupNone
	}
	for _, g := range knownGroups {
		if strings.Contains(text, string(g)) {
			return g
		}
	}
	return GroupNone
}

func yamlErrorLine(err error) int {
	var typeErr *yaml.TypeError
	msg := err.Error()
	if errors.As(err, &typeErr) && len(typeErr.Errors) > 0 {
		msg = typeErr.Errors[0]
	}
	m := yamlLinePattern.FindStringSubmatch(msg)
	if m == nil {
		return 0
	}
	line, convErr := strconv.Atoi(m[1])
	if convErr != nil {
		return 0
	}
	return line
}

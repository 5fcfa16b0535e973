package hparams

import (
	"bytes"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Encode writes d in canonical form: one "key: value" line per entry in
// document order, with a "# group" header wherever the group changes.
func (d *Document) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(d.node(true)); err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	return nil
}

// Marshal returns the canonical encoding of d.
func (d *Document) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := d.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode stores the document into out, which is usually a pointer to a struct
// with yaml tags.
func (d *Document) Decode(out any) error {
	if err := d.node(false).Decode(out); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

func (d *Document) node(withGroups bool) *yaml.Node {
	mapping := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	group := GroupNone
	for _, e := range d.entries {
		key := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: e.Key}
		if withGroups && e.Group != group && e.Group != GroupNone {
			key.HeadComment = "# " + string(e.Group)
		}
		group = e.Group
		mapping.Content = append(mapping.Content, key, valueNode(e.Value))
	}
	return mapping
}

func valueNode(v Value) *yaml.Node {
	tags := map[Kind]string{
		KindBool:   "!!bool",
		KindInt:    "!!int",
		KindFloat:  "!!float",
		KindString: "!!str",
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: tags[v.Kind()], Value: v.String()}
}

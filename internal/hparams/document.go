package hparams

import (
	"fmt"
)

// Group is the informal section an entry sits in, taken from the comment
// header above it. It carries no structure.
type Group string

const (
	GroupNone         Group = ""
	GroupSystem       Group = "system"
	GroupDataset      Group = "dataset"
	GroupAugmentation Group = "augmentation"
	GroupModel        Group = "model"
	GroupLoss         Group = "loss"
	GroupScheduler    Group = "scheduler"
	GroupOptimizer    Group = "optimizer"
	GroupCheckpoint   Group = "checkpoint"
)

var knownGroups = []Group{
	GroupSystem,
	GroupDataset,
	GroupAugmentation,
	GroupModel,
	GroupLoss,
	GroupScheduler,
	GroupOptimizer,
	GroupCheckpoint,
}

// Entry is a single named setting.
type Entry struct {
	Key   string
	Value Value
	Group Group
	Line  int
}

// Document is an immutable, ordered set of uniquely keyed scalar settings.
type Document struct {
	path    string
	entries []Entry
	index   map[string]int
}

func newDocument(path string, entries []Entry) *Document {
	d := &Document{
		path:    path,
		entries: entries,
		index:   make(map[string]int, len(entries)),
	}
	for i, e := range entries {
		d.index[e.Key] = i
	}
	return d
}

// NewDocument builds a document from entries, rejecting duplicate or empty
// keys and invalid values with a ParseError.
func NewDocument(entries ...Entry) (*Document, error) {
	seen := make(map[string]int, len(entries))
	out := make([]Entry, 0, len(entries))
	for i, e := range entries {
		if e.Key == "" {
			return nil, &ParseError{Line: e.Line, Msg: fmt.Sprintf("entry %d has an empty key", i)}
		}
		if !e.Value.IsValid() {
			return nil, &ParseError{Line: e.Line, Key: e.Key, Msg: "value has no kind"}
		}
		if _, dup := seen[e.Key]; dup {
			return nil, &ParseError{Line: e.Line, Key: e.Key, Msg: "duplicate key"}
		}
		seen[e.Key] = i
		out = append(out, e)
	}
	return newDocument("", out), nil
}

// Path returns the file the document was loaded from, if any.
func (d *Document) Path() string { return d.path }

// Len returns the number of entries.
func (d *Document) Len() int { return len(d.entries) }

// Keys returns the keys in document order.
func (d *Document) Keys() []string {
	keys := make([]string, len(d.entries))
	for i, e := range d.entries {
		keys[i] = e.Key
	}
	return keys
}

// Entries returns a copy of the entries in document order.
func (d *Document) Entries() []Entry {
	out := make([]Entry, len(d.entries))
	copy(out, d.entries)
	return out
}

// Lookup returns the entry stored under key.
func (d *Document) Lookup(key string) (Entry, bool) {
	i, ok := d.index[key]
	if !ok {
		return Entry{}, false
	}
	return d.entries[i], true
}

// Has reports whether key is present.
func (d *Document) Has(key string) bool {
	_, ok := d.index[key]
	return ok
}

// Map returns the payloads keyed by name.
func (d *Document) Map() map[string]any {
	out := make(map[string]any, len(d.entries))
	for _, e := range d.entries {
		out[e.Key] = e.Value.Interface()
	}
	return out
}

// Equal reports whether both documents hold the same keys with the same
// values, ignoring order, groups and source lines.
func (d *Document) Equal(o *Document) bool {
	if d == nil || o == nil {
		return d == o
	}
	if len(d.entries) != len(o.entries) {
		return false
	}
	for _, e := range d.entries {
		other, ok := o.Lookup(e.Key)
		if !ok || !e.Value.Equal(other.Value) {
			return false
		}
	}
	return true
}

// Get returns the value for key coerced to kind.
func (d *Document) Get(key string, kind Kind) (Value, error) {
	e, ok := d.Lookup(key)
	if !ok {
		return Value{}, &MissingKeyError{Key: key}
	}
	v, ok := e.Value.Coerce(kind)
	if !ok {
		return Value{}, &TypeMismatchError{
			Key:   key,
			Want:  kind,
			Got:   e.Value.Kind(),
			Value: e.Value.String(),
		}
	}
	return v, nil
}

func (d *Document) Bool(key string) (bool, error) {
	v, err := d.Get(key, KindBool)
	return v.Bool(), err
}

func (d *Document) Int(key string) (int64, error) {
	v, err := d.Get(key, KindInt)
	return v.Int(), err
}

func (d *Document) Float(key string) (float64, error) {
	v, err := d.Get(key, KindFloat)
	return v.Float(), err
}

func (d *Document) String(key string) (string, error) {
	v, err := d.Get(key, KindString)
	if err != nil {
		return "", err
	}
	return v.String(), nil
}

// WithDefaults returns a copy of d with every absent schema field that has a
// default appended in schema order. d itself is left untouched.
func (d *Document) WithDefaults(s Schema) *Document {
	entries := d.Entries()
	added := make(map[string]struct{})
	for _, f := range s.Fields {
		if !f.Default.IsValid() || d.Has(f.Key) {
			continue
		}
		if _, dup := added[f.Key]; dup {
			continue
		}
		added[f.Key] = struct{}{}
		entries = append(entries, Entry{Key: f.Key, Value: f.Default, Group: f.Group})
	}
	return newDocument(d.path, entries)
}

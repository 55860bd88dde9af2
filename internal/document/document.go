// Package document reads and writes fact documents: YAML sequences of
// mappings, one mapping per fact, each remembered with the lines it spans.
package document

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/juju/errors"
	"gopkg.in/yaml.v3"

	"factum/internal/fault"
)

// Record is one raw fact declaration.
type Record struct {
	Fields   map[string]any
	Location fault.Location
	// Entries locates the elements of list-valued fields.
	Entries map[string][]fault.Location
}

// Loader resolves document paths. Include facts and file-valued clauses go
// through it, so tests can serve documents from memory.
type Loader interface {
	// Load reads and parses the document at path.
	Load(path string) ([]Record, error)
	// ReadFile returns the raw contents of path.
	ReadFile(path string) ([]byte, error)
}

// FileLoader reads documents from the file system.
type FileLoader struct{}

// Load implements Loader.
func (FileLoader) Load(path string) ([]Record, error) {
	data, err := FileLoader{}.ReadFile(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return Parse(path, data)
}

// ReadFile implements Loader.
func (FileLoader) ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, errors.NewNotFound(err, "document "+path)
	}
	if err != nil {
		return nil, errors.Annotatef(err, "reading %s", path)
	}
	return data, nil
}

// MapLoader serves documents from memory, keyed by cleaned path.
type MapLoader map[string]string

// Load implements Loader.
func (m MapLoader) Load(path string) ([]Record, error) {
	data, err := m.ReadFile(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return Parse(path, data)
}

// ReadFile implements Loader.
func (m MapLoader) ReadFile(path string) ([]byte, error) {
	text, ok := m[filepath.Clean(path)]
	if !ok {
		return nil, errors.NotFoundf("document %s", path)
	}
	return []byte(text), nil
}

// Parse reads the records of a document. Several YAML documents in one
// stream are concatenated; an empty stream has no records.
func Parse(file string, data []byte) ([]Record, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var out []Record
	for {
		var root yaml.Node
		err := dec.Decode(&root)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fault.Validationf(fault.Location{File: file}, "%v", err)
		}
		records, err := parseRoot(file, &root)
		if err != nil {
			return nil, err
		}
		out = append(out, records...)
	}
}

func parseRoot(file string, root *yaml.Node) ([]Record, error) {
	node := root
	if node.Kind == yaml.DocumentNode {
		if len(node.Content) == 0 {
			return nil, nil
		}
		node = node.Content[0]
	}
	switch node.Kind {
	case yaml.SequenceNode:
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			return nil, nil
		}
		fallthrough
	default:
		return nil, fault.Validationf(location(file, node), "a fact document is a list of facts")
	}

	out := make([]Record, 0, len(node.Content))
	for _, item := range node.Content {
		loc := location(file, item)
		if item.Kind != yaml.MappingNode {
			return nil, fault.Validationf(loc, "a fact is a mapping")
		}
		fields := make(map[string]any)
		if err := item.Decode(&fields); err != nil {
			return nil, fault.Validationf(loc, "%v", err)
		}
		out = append(out, Record{Fields: fields, Location: loc, Entries: entries(file, item)})
	}
	return out, nil
}

func entries(file string, mapping *yaml.Node) map[string][]fault.Location {
	var out map[string][]fault.Location
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		key, value := mapping.Content[i], mapping.Content[i+1]
		if value.Kind != yaml.SequenceNode {
			continue
		}
		if out == nil {
			out = make(map[string][]fault.Location)
		}
		locs := make([]fault.Location, len(value.Content))
		for j, elem := range value.Content {
			locs[j] = location(file, elem)
		}
		out[key.Value] = locs
	}
	return out
}

func location(file string, node *yaml.Node) fault.Location {
	return fault.Location{File: file, FirstLine: node.Line, LastLine: lastLine(node)}
}

func lastLine(node *yaml.Node) int {
	last := node.Line
	for _, c := range node.Content {
		if l := lastLine(c); l > last {
			last = l
		}
	}
	return last
}

// Marshal renders records as a document. Keys listed in lead come first, in
// that order; the rest follow sorted.
func Marshal(records []map[string]any, lead ...string) ([]byte, error) {
	seq := &yaml.Node{Kind: yaml.SequenceNode}
	for _, rec := range records {
		item := &yaml.Node{Kind: yaml.MappingNode}
		for _, key := range orderKeys(rec, lead) {
			var value yaml.Node
			if err := value.Encode(rec[key]); err != nil {
				return nil, errors.Annotatef(err, "encoding %q", key)
			}
			item.Content = append(item.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: key}, &value)
		}
		seq.Content = append(seq.Content, item)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(seq); err != nil {
		return nil, errors.Trace(err)
	}
	if err := enc.Close(); err != nil {
		return nil, errors.Trace(err)
	}
	return buf.Bytes(), nil
}

func orderKeys(rec map[string]any, lead []string) []string {
	keys := make([]string, 0, len(rec))
	seen := make(map[string]bool)
	for _, k := range lead {
		if _, ok := rec[k]; ok && !seen[k] {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	var rest []string
	for k := range rec {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

package seed

import (
	"io"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// A Document is the serialized form of a seed.
type Document struct {
	Namespace string                 `yaml:"namespace"`
	Name      string                 `yaml:"name"`
	Spec      map[string]interface{} `yaml:"spec"`
}

// Decode reads all YAML documents from r. Empty documents are skipped.
func Decode(r io.Reader) ([]Seed, error) {
	dec := yaml.NewDecoder(r)
	var out []Seed
	for i := 0; ; i++ {
		var doc Document
		err := dec.Decode(&doc)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, errors.Wrapf(err, "decode document %d", i)
		}
		if doc.Namespace == "" && doc.Name == "" && doc.Spec == nil {
			continue
		}
		s, err := doc.Seed()
		if err != nil {
			return nil, errors.Wrapf(err, "document %d", i)
		}
		out = append(out, s)
	}
}

// Seed converts the document to a seed with a canonical spec.
func (d Document) Seed() (Seed, error) {
	ref, err := ParseRef(d.Namespace + "/" + d.Name)
	if err != nil {
		return Seed{}, err
	}
	spec, err := CanonicalRecord(Record(d.Spec))
	if err != nil {
		return Seed{}, errors.Wrap(err, "normalize spec")
	}
	if spec == nil {
		spec = Record{}
	}
	return Seed{Ref: ref, Spec: spec}, nil
}

// Encode writes seeds as a YAML stream.
func Encode(w io.Writer, seeds ...Seed) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	for _, s := range seeds {
		doc := Document{Namespace: s.Ref.Namespace, Name: s.Ref.Name, Spec: s.Spec}
		if err := enc.Encode(doc); err != nil {
			return errors.Wrapf(err, "encode %s", s.Ref)
		}
	}
	return enc.Close()
}

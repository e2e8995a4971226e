// Package seed contains the data model of seeds: desired-state documents
// describing objects on a cloud platform.
package seed

import (
	"fmt"
	"sort"
	"strings"

	"github.com/func/seeder/failure"
	"github.com/pkg/errors"
)

// RequiresKey is the spec key holding the seed dependencies.
const RequiresKey = "requires"

// A Ref identifies a seed.
type Ref struct {
	Namespace string
	Name      string
}

// ParseRef parses a reference in the form <namespace>/<name>.
func ParseRef(str string) (Ref, error) {
	parts := strings.Split(str, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Ref{}, failure.Permanentf("invalid seed reference %q: must be <namespace>/<name>", str)
	}
	return Ref{Namespace: parts[0], Name: parts[1]}, nil
}

func (r Ref) String() string { return r.Namespace + "/" + r.Name }

// Less orders refs by namespace, then name.
func (r Ref) Less(other Ref) bool {
	if r.Namespace != other.Namespace {
		return r.Namespace < other.Namespace
	}
	return r.Name < other.Name
}

// A Seed is a desired-state document.
type Seed struct {
	Ref  Ref
	Spec Record
}

// Requires returns the seeds this seed depends on.
func (s Seed) Requires() ([]Ref, error) {
	v, ok := s.Spec[RequiresKey]
	if !ok || v == nil {
		return nil, nil
	}
	list, ok := List(v)
	if !ok {
		return nil, failure.Permanentf("requires must be a list, got %T", v)
	}
	refs := make([]Ref, 0, len(list))
	for i, item := range list {
		str, ok := item.(string)
		if !ok {
			return nil, failure.Permanentf("requires[%d] must be a string, got %T", i, item)
		}
		ref, err := ParseRef(str)
		if err != nil {
			return nil, errors.Wrapf(err, "requires[%d]", i)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// SortRefs sorts refs in place.
func SortRefs(refs []Ref) {
	sort.Slice(refs, func(i, j int) bool { return refs[i].Less(refs[j]) })
}

// SplitName splits a composite name such as user@project@domain into its
// segments.
func SplitName(name string) []string {
	return strings.Split(name, "@")
}

// JoinName joins name segments into a composite name.
func JoinName(parts ...string) string {
	return strings.Join(parts, "@")
}

// PathString formats a list of refs as a path: a -> b -> c.
func PathString(refs []Ref) string {
	ss := make([]string, len(refs))
	for i, r := range refs {
		ss[i] = r.String()
	}
	return strings.Join(ss, " -> ")
}

func typeName(v interface{}) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%T", v)
}

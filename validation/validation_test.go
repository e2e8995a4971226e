package validation_test

import (
	"fmt"
	"testing"

	"github.com/func/seeder/seed"
	"github.com/func/seeder/validation"
	"go.uber.org/multierr"
)

func ExampleValidator_Var() {
	v := validation.New()

	tag := "required,max=6"

	fmt.Println(v.Var("foobar", tag))
	fmt.Println(v.Var("foobarbaz", tag))
	fmt.Println(v.Var("", tag))
	// Output:
	// <nil>
	// length must be at most 6
	// value must be set
}

func TestValidator_Var(t *testing.T) {
	v := validation.New()
	tests := []struct {
		value   interface{}
		rules   string
		wantErr string
	}{
		{"ns/name", "ref", ""},
		{"ns/a/b", "ref", "must be a seed reference <namespace>/<name>"},
		{"name", "composite=3", ""},
		{"u@p@d", "composite=3", ""},
		{"u@p@d@x", "composite=3", "must be a name with at most 3 segments separated by @"},
		{"u@@d", "composite=3", "must be a name with at most 3 segments separated by @"},
		{"u@d", "scoped", ""},
		{"u", "scoped", "must be in the form <name>@<scope>"},
		{"p@@d", "scoped", "must be in the form <name>@<scope>"},
		{"all", "oneof=all", ""},
		{"some", "oneof=all", "must be one of: [all]"},
		{nil, "required", "value must be set"},
		{nil, "omitempty,max=3", ""},
		{"anything", "", ""},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%v/%s", tt.value, tt.rules), func(t *testing.T) {
			err := v.Var(tt.value, tt.rules)
			got := ""
			if err != nil {
				got = err.Error()
			}
			if got != tt.wantErr {
				t.Errorf("Var() err = %q, want %q", got, tt.wantErr)
			}
		})
	}
}

func TestValidator_Record(t *testing.T) {
	v := validation.New()
	r := seed.Record{"name": "", "description": "okay"}
	err := v.Record("projects[0]", r, map[string]string{
		"name":        "required",
		"description": "max=2",
		"domain":      "omitempty,composite=1",
	})
	errs := multierr.Errors(err)
	if len(errs) != 2 {
		t.Fatalf("Got %d errors, want 2: %v", len(errs), err)
	}
	want := []string{
		"projects[0].description: length must be at most 2",
		"projects[0].name: value must be set",
	}
	for i, e := range errs {
		if e.Error() != want[i] {
			t.Errorf("errs[%d] = %q, want %q", i, e, want[i])
		}
	}
}

func TestValidator_Each(t *testing.T) {
	v := validation.New()
	long := fmt.Sprintf("%061d", 0)
	err := v.Each("tags", []interface{}{"prod", "", long}, "required,max=60")
	errs := multierr.Errors(err)
	if len(errs) != 2 {
		t.Fatalf("Got %d errors, want 2: %v", len(errs), err)
	}
	if got := errs[0].Error(); got != "tags[1]: value must be set" {
		t.Errorf("errs[0] = %q", got)
	}
	if got := errs[1].Error(); got != "tags[2]: length must be at most 60" {
		t.Errorf("errs[1] = %q", got)
	}
}

func TestExclusive(t *testing.T) {
	r := seed.Record{"user": "u@d", "group": "g@d", "project": ""}
	if err := validation.Exclusive("a", r, "user", "group"); err == nil {
		t.Error("Exclusive(user, group) = nil, want error")
	}
	if err := validation.Exclusive("a", r, "project", "user"); err != nil {
		t.Errorf("Exclusive(project, user) = %v, want nil", err)
	}
}

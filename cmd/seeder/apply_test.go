package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/func/seeder/reconciler"
	"github.com/func/seeder/registry"
	"github.com/func/seeder/seed"
	"github.com/google/go-cmp/cmp"
)

func TestPrintResult(t *testing.T) {
	ref := seed.Ref{Namespace: "ns", Name: "a"}
	tests := []struct {
		name string
		res  reconciler.Result
		want string
	}{
		{
			name: "Seeded",
			res: reconciler.Result{Status: seed.Status{
				State:   seed.StateSeeded,
				Changes: map[string]int{"projects": 2, "domains": 1},
			}},
			want: "ns/a: seeded (domains=1, projects=2)\n",
		},
		{
			name: "NoChanges",
			res:  reconciler.Result{Status: seed.Status{State: seed.StateSeeded}},
			want: "ns/a: seeded (no changes)\n",
		},
		{
			name: "Waiting",
			res:  reconciler.Result{Reason: "dependency ns/b not reconciled yet"},
			want: "ns/a: waiting, dependency ns/b not reconciled yet\n",
		},
		{
			name: "Error",
			res: reconciler.Result{
				Status: seed.Status{State: seed.StateError, LatestError: map[string]string{"roles": "boom"}},
				Err:    errors.New("roles: boom"),
			},
			want: "ns/a: error\n  roles: boom\n",
		},
		{
			name: "NotFound",
			res:  reconciler.Result{},
			want: "ns/a: not found\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			printResult(&buf, ref, tt.res)
			if diff := cmp.Diff(buf.String(), tt.want); diff != "" {
				t.Errorf("printResult() (-got, +want)\n%s", diff)
			}
		})
	}
}

func TestPrintKinds(t *testing.T) {
	var buf bytes.Buffer
	printKinds(&buf, registry.Default())
	out := buf.String()
	for _, want := range []string{
		"domains\n",
		"  config (domain_configs)\n",
		"projects after domains\n",
		"  domain: name of the enclosing domain\n",
		"    tags: added, never removed\n",
		"groups after domains, users\n",
		"  users: names of users, added, never removed\n",
		"services after regions\n",
		"  endpoints\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("printKinds() output does not contain %q:\n%s", want, out)
		}
	}
}

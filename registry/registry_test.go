package registry_test

import (
	"context"
	"sort"
	"strings"
	"testing"

	"github.com/func/seeder/cloud"
	"github.com/func/seeder/cloud/memory"
	"github.com/func/seeder/failure"
	"github.com/func/seeder/registry"
	"github.com/func/seeder/seed"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/multierr"
	"go.uber.org/zap/zaptest"
)

func setup(t *testing.T, dryRun bool) (*registry.Registry, *memory.Platform, *registry.Pass) {
	t.Helper()
	reg := registry.Default()
	p := memory.New()
	c := cloud.New(p.Adapters(reg.Adapters()...), cloud.Options{DryRun: dryRun, Logger: zaptest.NewLogger(t)})
	return reg, p, registry.NewPass(c, zaptest.NewLogger(t))
}

// ops returns the mutating calls as "<op> <kind>".
func ops(calls []memory.Call) []string {
	var out []string
	for _, c := range calls {
		if c.Op != memory.OpList {
			out = append(out, c.Op+" "+c.Kind)
		}
	}
	return out
}

func list(items ...interface{}) []interface{} { return items }

func TestRegistry_Seed_nested(t *testing.T) {
	reg, p, pass := setup(t, false)
	ctx := context.Background()

	domains := list(seed.Record{
		"name": "d1",
		"projects": list(seed.Record{
			"name": "p1",
			"networks": list(seed.Record{
				"name": "n1",
				"tags": list("prod"),
			}),
		}),
	})

	if err := reg.Seed(ctx, pass, "domains", domains); err != nil {
		t.Fatalf("Seed() err = %v", err)
	}
	want := []string{"create domains", "create projects", "create networks", "add networks"}
	if diff := cmp.Diff(ops(p.Calls()), want); diff != "" {
		t.Errorf("First pass (-got, +want)\n%s", diff)
	}

	d := p.Objects("domains")[0]
	pr := p.Objects("projects")[0]
	n := p.Objects("networks")[0]
	if pr.Attr("domain_id") != d.ID() {
		t.Errorf("Project domain_id = %q, want %q", pr.Attr("domain_id"), d.ID())
	}
	if n.Attr("project_id") != pr.ID() {
		t.Errorf("Network project_id = %q, want %q", n.Attr("project_id"), pr.ID())
	}
	if diff := cmp.Diff(n["tags"], list("prod")); diff != "" {
		t.Errorf("Network tags (-got, +want)\n%s", diff)
	}

	p.Reset()
	if err := reg.Seed(ctx, pass, "domains", domains); err != nil {
		t.Fatalf("Seed() second pass err = %v", err)
	}
	if got := p.Mutations(); len(got) != 0 {
		t.Errorf("Second pass made %d mutating calls: %v", len(got), ops(got))
	}
}

func TestRegistry_Seed_dryRun(t *testing.T) {
	reg, p, pass := setup(t, true)
	err := reg.Seed(context.Background(), pass, "domains", list(seed.Record{
		"name":     "d1",
		"projects": list(seed.Record{"name": "p1"}),
	}))
	if err != nil {
		t.Fatalf("Seed() err = %v", err)
	}
	if got := p.Mutations(); len(got) != 0 {
		t.Errorf("Dry run made mutating calls: %v", ops(got))
	}
}

func TestRegistry_Seed_networks(t *testing.T) {
	reg, p, pass := setup(t, false)
	ctx := context.Background()
	did := p.Put("domains", seed.Record{"name": "d1"})
	pid := p.Put("projects", seed.Record{"name": "p1", "domain_id": did})

	networks := func(cidr, desc string) []interface{} {
		return list(seed.Record{
			"name":            "n1",
			"project":         "p1@d1",
			"router_external": true,
			"subnets": list(seed.Record{
				"name":        "s1",
				"cidr":        cidr,
				"gateway_ip":  "null",
				"description": desc,
			}),
		})
	}

	if err := reg.Seed(ctx, pass, "networks", networks("10.0.0.0/24", "a")); err != nil {
		t.Fatalf("Seed() err = %v", err)
	}
	creates := p.Mutations()
	if len(creates) != 2 {
		t.Fatalf("Got %d mutations, want 2: %v", len(creates), ops(creates))
	}
	nid := p.Objects("networks")[0].ID()
	wantNetwork := seed.Record{"name": "n1", "router:external": true, "project_id": pid}
	if diff := cmp.Diff(creates[0].Payload, wantNetwork); diff != "" {
		t.Errorf("Network payload (-got, +want)\n%s", diff)
	}
	wantSubnet := seed.Record{
		"name":        "s1",
		"cidr":        "10.0.0.0/24",
		"gateway_ip":  nil,
		"description": "a",
		"network_id":  nid,
		"project_id":  pid,
	}
	if diff := cmp.Diff(creates[1].Payload, wantSubnet); diff != "" {
		t.Errorf("Subnet payload (-got, +want)\n%s", diff)
	}

	// Create-only attributes are neither compared nor sent.
	p.Reset()
	if err := reg.Seed(ctx, pass, "networks", networks("10.9.0.0/24", "a")); err != nil {
		t.Fatalf("Seed() err = %v", err)
	}
	if got := p.Mutations(); len(got) != 0 {
		t.Errorf("Changed cidr made mutating calls: %v", ops(got))
	}

	p.Reset()
	if err := reg.Seed(ctx, pass, "networks", networks("10.9.0.0/24", "b")); err != nil {
		t.Fatalf("Seed() err = %v", err)
	}
	updates := p.Mutations()
	if diff := cmp.Diff(ops(updates), []string{"update subnets"}); diff != "" {
		t.Fatalf("Updates (-got, +want)\n%s", diff)
	}
	wantUpdate := seed.Record{"name": "s1", "gateway_ip": nil, "description": "b"}
	if diff := cmp.Diff(updates[0].Payload, wantUpdate); diff != "" {
		t.Errorf("Update payload (-got, +want)\n%s", diff)
	}
}

func TestRegistry_Seed_missingScope(t *testing.T) {
	reg, p, pass := setup(t, false)
	err := reg.Seed(context.Background(), pass, "projects", list(seed.Record{"name": "p1", "domain": "nope"}))
	if !failure.IsNotFound(err) {
		t.Errorf("Seed() err = %v, want not found", err)
	}
	if got := p.Mutations(); len(got) != 0 {
		t.Errorf("Mutating calls: %v", ops(got))
	}
}

func TestRegistry_Seed_staleScope(t *testing.T) {
	reg, p, pass := setup(t, false)
	ctx := context.Background()
	p.Put("domains", seed.Record{"name": "d1"})
	projects := list(seed.Record{"name": "p1", "domain": "d1"})

	p.Fail("projects", memory.OpCreate, failure.NotFoundf("domain not found"))
	if err := reg.Seed(ctx, pass, "projects", projects); !failure.IsNotFound(err) {
		t.Fatalf("Seed() err = %v, want not found", err)
	}
	if n := pass.Cloud.Identity.Len(); n != 0 {
		t.Errorf("Cached ids after not found = %d, want 0", n)
	}

	p.Reset()
	if err := reg.Seed(ctx, pass, "projects", projects); err != nil {
		t.Fatalf("Seed() retry err = %v", err)
	}
	lookups := 0
	for _, c := range p.Calls() {
		if c.Op == memory.OpList && c.Kind == "domains" {
			lookups++
		}
	}
	if lookups != 1 {
		t.Errorf("Domain lookups on retry = %d, want 1", lookups)
	}
	if diff := cmp.Diff(ops(p.Calls()), []string{"create projects"}); diff != "" {
		t.Errorf("Retry calls (-got, +want)\n%s", diff)
	}
}

func TestRegistry_Seed_groupMembers(t *testing.T) {
	reg, p, pass := setup(t, false)
	ctx := context.Background()

	domains := list(
		seed.Record{"name": "d2", "users": list(seed.Record{"name": "u2"})},
		seed.Record{
			"name":  "d1",
			"users": list(seed.Record{"name": "u1"}),
			"groups": list(seed.Record{
				"name":  "g1",
				"users": list("u1", "u2@d2"),
			}),
		},
	)

	if err := reg.Seed(ctx, pass, "domains", domains); err != nil {
		t.Fatalf("Seed() err = %v", err)
	}
	want := []string{
		"create domains", "create users",
		"create domains", "create users", "create groups", "add groups", "add groups",
	}
	if diff := cmp.Diff(ops(p.Calls()), want); diff != "" {
		t.Errorf("First pass (-got, +want)\n%s", diff)
	}

	ids := map[string]interface{}{}
	for _, u := range p.Objects("users") {
		ids[u.Attr("name")] = u.ID()
	}
	g := p.Objects("groups")[0]
	if diff := cmp.Diff(g["users"], list(ids["u1"], ids["u2"])); diff != "" {
		t.Errorf("Group users (-got, +want)\n%s", diff)
	}

	p.Reset()
	if err := reg.Seed(ctx, pass, "domains", domains); err != nil {
		t.Fatalf("Seed() second pass err = %v", err)
	}
	if got := p.Mutations(); len(got) != 0 {
		t.Errorf("Second pass made %d mutating calls: %v", len(got), ops(got))
	}
}

func TestRegistry_Seed_unknownMember(t *testing.T) {
	reg, p, pass := setup(t, false)
	p.Put("domains", seed.Record{"name": "d1"})
	err := reg.Seed(context.Background(), pass, "groups", list(seed.Record{
		"name":   "g1",
		"domain": "d1",
		"users":  list("nope"),
	}))
	if !failure.IsNotFound(err) {
		t.Errorf("Seed() err = %v, want not found", err)
	}
	if diff := cmp.Diff(ops(p.Calls()), []string{"create groups"}); diff != "" {
		t.Errorf("Calls (-got, +want)\n%s", diff)
	}
}

func TestRegistry_Seed_services(t *testing.T) {
	reg, p, pass := setup(t, false)
	ctx := context.Background()

	services := func(url string) []interface{} {
		return list(seed.Record{
			"name": "nova",
			"type": "compute",
			"endpoints": list(
				seed.Record{"interface": "public", "region": "r1", "url": url},
				seed.Record{"interface": "internal", "region": "r1", "url": "http://nova.internal:8774"},
			),
		})
	}

	if err := reg.Seed(ctx, pass, "services", services("https://nova.example.com")); err != nil {
		t.Fatalf("Seed() err = %v", err)
	}
	want := []string{"create services", "create endpoints", "create endpoints"}
	if diff := cmp.Diff(ops(p.Calls()), want); diff != "" {
		t.Errorf("First pass (-got, +want)\n%s", diff)
	}
	svc := p.Objects("services")[0]
	for _, e := range p.Objects("endpoints") {
		if e.Attr("service_id") != svc.ID() {
			t.Errorf("Endpoint service_id = %q, want %q", e.Attr("service_id"), svc.ID())
		}
	}

	p.Reset()
	if err := reg.Seed(ctx, pass, "services", services("https://compute.example.com")); err != nil {
		t.Fatalf("Seed() second pass err = %v", err)
	}
	if diff := cmp.Diff(ops(p.Calls()), []string{"update endpoints"}); diff != "" {
		t.Errorf("Second pass (-got, +want)\n%s", diff)
	}
}

func TestRegistry_Seed_roleInferences(t *testing.T) {
	reg, p, pass := setup(t, false)
	ctx := context.Background()
	admin := p.Put("roles", seed.Record{"name": "admin"})
	member := p.Put("roles", seed.Record{"name": "member"})

	inferences := list(seed.Record{"prior_role": "admin", "implied_role": "member"})
	if err := reg.Seed(ctx, pass, "role_inferences", inferences); err != nil {
		t.Fatalf("Seed() err = %v", err)
	}
	got := p.Objects("role_inferences")
	if len(got) != 1 {
		t.Fatalf("Role inferences = %d, want 1", len(got))
	}
	if got[0].Attr("prior_role_id") != admin || got[0].Attr("implied_role_id") != member {
		t.Errorf("Role inference = %v, want %s implies %s", got[0], admin, member)
	}

	p.Reset()
	if err := reg.Seed(ctx, pass, "role_inferences", inferences); err != nil {
		t.Fatalf("Seed() second pass err = %v", err)
	}
	if got := p.Mutations(); len(got) != 0 {
		t.Errorf("Second pass made %d mutating calls: %v", len(got), ops(got))
	}
}

func TestRegistry_Seed_rbacPolicies(t *testing.T) {
	reg, p, pass := setup(t, false)
	did := p.Put("domains", seed.Record{"name": "d1"})
	p1 := p.Put("projects", seed.Record{"name": "p1", "domain_id": did})
	p2 := p.Put("projects", seed.Record{"name": "p2", "domain_id": did})
	nid := p.Put("networks", seed.Record{"name": "n1", "project_id": p1})

	err := reg.Seed(context.Background(), pass, "rbac_policies", list(seed.Record{
		"object_type":        "network",
		"object_name":        "n1@p1@d1",
		"action":             "access_as_shared",
		"target_tenant_name": "p2@d1",
	}))
	if err != nil {
		t.Fatalf("Seed() err = %v", err)
	}
	got := p.Objects("rbac_policies")
	if len(got) != 1 {
		t.Fatalf("RBAC policies = %d, want 1", len(got))
	}
	want := seed.Record{
		"id":            got[0].ID(),
		"object_type":   "network",
		"object_id":     nid,
		"action":        "access_as_shared",
		"target_tenant": p2,
	}
	if diff := cmp.Diff(got[0], want); diff != "" {
		t.Errorf("RBAC policy (-got, +want)\n%s", diff)
	}
}

func TestRegistry_Flush(t *testing.T) {
	reg, p, pass := setup(t, false)
	ctx := context.Background()

	if err := reg.Seed(ctx, pass, "roles", list(seed.Record{"name": "admin"}, seed.Record{"name": "member"})); err != nil {
		t.Fatal(err)
	}
	domains := list(seed.Record{
		"name": "d1",
		"projects": list(seed.Record{
			"name":             "p1",
			"role_assignments": list(seed.Record{"group": "g1@d1", "role": "member"}),
		}),
		"users": list(seed.Record{
			"name":             "u1",
			"role_assignments": list(seed.Record{"project": "p1@d1", "role": "admin"}),
		}),
		"groups": list(seed.Record{"name": "g1"}),
		"role_assignments": list(
			seed.Record{"user": "u1@d1", "role": "admin", "inherited": true},
		),
	})
	if err := reg.Seed(ctx, pass, "domains", domains); err != nil {
		t.Fatalf("Seed() err = %v", err)
	}
	// Explicit assignment duplicating an inline one.
	if err := reg.Seed(ctx, pass, "role_assignments", list(seed.Record{"user": "u1@d1", "project": "p1@d1", "role": "admin"})); err != nil {
		t.Fatal(err)
	}
	if n := len(pass.Assignments()); n != 3 {
		t.Fatalf("Got %d assignments, want 3: %v", n, pass.Assignments())
	}

	p.Reset()
	granted, err := reg.Flush(ctx, pass)
	if err != nil {
		t.Fatalf("Flush() err = %v", err)
	}
	if granted != 3 {
		t.Errorf("Flush() granted = %d, want 3", granted)
	}

	did := p.Objects("domains")[0].ID()
	uid := p.Objects("users")[0].ID()
	pid := p.Objects("projects")[0].ID()
	gid := p.Objects("groups")[0].ID()
	roles := map[string]string{}
	for _, r := range p.Objects("roles") {
		roles[r.Attr("name")] = r.ID()
	}
	want := []seed.Record{
		{"role_id": roles["member"], "group_id": gid, "project_id": pid},
		{"role_id": roles["admin"], "user_id": uid, "project_id": pid},
		{"role_id": roles["admin"], "user_id": uid, "domain_id": did, "inherited": true},
	}
	var got []seed.Record
	for _, c := range p.Mutations() {
		got = append(got, c.Payload)
	}
	if diff := cmp.Diff(got, want, sortRecords()); diff != "" {
		t.Errorf("Grants (-got, +want)\n%s", diff)
	}

	// Granting again is a no-op.
	if err := reg.Seed(ctx, pass, "domains", domains); err != nil {
		t.Fatal(err)
	}
	p.Reset()
	granted, err = reg.Flush(ctx, pass)
	if err != nil {
		t.Fatalf("Flush() err = %v", err)
	}
	if granted != 0 || len(p.Mutations()) != 0 {
		t.Errorf("Second flush granted %d: %v", granted, ops(p.Mutations()))
	}
}

func sortRecords() cmp.Option {
	return cmp.Transformer("sort", func(in []seed.Record) []string {
		out := make([]string, len(in))
		for i, r := range in {
			out[i] = describe(r)
		}
		sort.Strings(out)
		return out
	})
}

func describe(r seed.Record) string {
	var b strings.Builder
	for _, k := range []string{"role_id", "user_id", "group_id", "project_id", "domain_id", "system", "inherited"} {
		if v, ok := r[k]; ok {
			b.WriteString(k)
			b.WriteString("=")
			if s, ok := v.(string); ok {
				b.WriteString(s)
			} else if v == true {
				b.WriteString("true")
			}
			b.WriteString(" ")
		}
	}
	return b.String()
}

func TestRegistry_Validate(t *testing.T) {
	reg := registry.Default()
	tests := []struct {
		name string
		spec seed.Record
		want []string
	}{
		{
			name: "Valid",
			spec: seed.Record{
				"requires": list("ns/other"),
				"domains": list(seed.Record{
					"name":     "d1",
					"projects": list(seed.Record{"name": "p1", "networks": list(seed.Record{"name": "n1", "tags": list("a")})}),
					"users": list(seed.Record{
						"name":             "u1",
						"role_assignments": list(seed.Record{"project": "p1@d1", "role": "admin"}),
					}),
				}),
				"role_assignments": list(seed.Record{"group": "g@d", "system": "all", "role": "admin"}),
			},
		},
		{
			name: "UnknownKind",
			spec: seed.Record{"domain": list()},
			want: []string{`unknown kind "domain", did you mean "domains"?`},
		},
		{
			name: "NestedOnly",
			spec: seed.Record{"domain_configs": list()},
			want: []string{`unknown kind "domain_configs"`},
		},
		{
			name: "MissingName",
			spec: seed.Record{"domains": list(seed.Record{"description": "x"})},
			want: []string{"domains[0].name: value must be set"},
		},
		{
			name: "MissingScope",
			spec: seed.Record{"projects": list(seed.Record{"name": "p1"})},
			want: []string{"projects[0]: domain is required"},
		},
		{
			name: "Tags",
			spec: seed.Record{"networks": list(seed.Record{
				"name":    "n1",
				"project": "p@d",
				"tags":    list("", strings.Repeat("x", 61)),
			})},
			want: []string{
				"networks[0].tags[0]: value must be set",
				"networks[0].tags[1]: length must be at most 60",
			},
		},
		{
			name: "Assignments",
			spec: seed.Record{"role_assignments": list(
				seed.Record{"user": "u@d", "project": "p@d"},
				seed.Record{"user": "u@d", "group": "g@d", "project": "p@d", "role": "r"},
				seed.Record{"user": "u@d", "system": "some", "role": "r"},
				seed.Record{"user": "u@d", "system": "all", "domain": "d", "role": "r"},
				seed.Record{"user": "u", "domain": "d", "project": "p@d", "role": "r"},
			)},
			want: []string{
				"role_assignments[0].role: value must be set",
				"role_assignments[1]: only one of user, group may be set",
				"role_assignments[2].system: must be one of: [all]",
				"role_assignments[3]: only one of system, domain may be set",
				"role_assignments[4].user: must be in the form <name>@<scope>",
				"role_assignments[4]: only one of project, domain may be set",
			},
		},
		{
			name: "InlineAssignment",
			spec: seed.Record{"domains": list(seed.Record{
				"name": "d1",
				"users": list(seed.Record{
					"name":             "u1",
					"role_assignments": list(seed.Record{"user": "x@d", "project": "p@d", "role": "r"}),
				}),
			})},
			want: []string{"domains[0].users[0].role_assignments[0]: user is implied by the enclosing user"},
		},
		{
			name: "Endpoints",
			spec: seed.Record{"services": list(seed.Record{
				"name": "nova",
				"type": "compute",
				"endpoints": list(
					seed.Record{"interface": "public", "region": "r1", "url": "not a url"},
					seed.Record{"interface": "private", "url": "http://nova:8774"},
				),
			})},
			want: []string{
				"services[0].endpoints[0].url: must be a valid URL",
				"services[0].endpoints[1].interface: must be one of: [public internal admin]",
				"services[0].endpoints[1].region: value must be set",
			},
		},
		{
			name: "RBACPolicy",
			spec: seed.Record{"rbac_policies": list(seed.Record{
				"object_type":        "port",
				"object_name":        "n1@p1@d1",
				"target_tenant_name": "p2",
			})},
			want: []string{
				"rbac_policies[0].action: value must be set",
				"rbac_policies[0].object_type: must be network",
				"rbac_policies[0].target_tenant_name: must be in the form <name>@<scope>",
			},
		},
		{
			name: "Members",
			spec: seed.Record{"groups": list(seed.Record{
				"name":   "g1",
				"domain": "d1",
				"users":  list("u1", "u1@d1@x", ""),
			})},
			want: []string{
				"groups[0].users[1]: must be a name with at most 2 segments",
				"groups[0].users[2]: value must be set",
			},
		},
		{
			name: "Requires",
			spec: seed.Record{"requires": list("nope")},
			want: []string{`invalid seed reference "nope"`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.Validate(tt.spec)
			if len(tt.want) == 0 {
				if err != nil {
					t.Fatalf("Validate() err = %v", err)
				}
				return
			}
			if !failure.IsPermanent(err) {
				t.Fatalf("Validate() err = %v, want permanent error", err)
			}
			var got []string
			for _, e := range multierr.Errors(errorsCause(err)) {
				got = append(got, e.Error())
			}
			for _, w := range tt.want {
				found := false
				for _, g := range got {
					if strings.Contains(g, w) {
						found = true
						break
					}
				}
				if !found {
					t.Errorf("Validate() errors = %q, want one containing %q", got, w)
				}
			}
			if len(got) != len(tt.want) {
				t.Errorf("Validate() returned %d errors, want %d: %q", len(got), len(tt.want), got)
			}
		})
	}
}

func errorsCause(err error) error {
	if f, ok := err.(*failure.Error); ok {
		return f.Err
	}
	return err
}

func TestRegistry_Changes(t *testing.T) {
	reg := registry.Default()
	prev := seed.Record{
		"requires": list("ns/a"),
		"roles":    list(map[string]interface{}{"name": "admin"}),
		"domains": list(map[string]interface{}{
			"name": "d1",
			"projects": list(
				map[string]interface{}{"name": "p1"},
				map[string]interface{}{"name": "p2"},
			),
			"config": map[string]interface{}{"identity": map[string]interface{}{"driver": "sql"}},
		}),
	}
	next := seed.Record{
		"requires": list("ns/a"),
		"roles":    list(map[string]interface{}{"name": "admin"}, map[string]interface{}{"name": "member"}),
		"domains": list(map[string]interface{}{
			"name": "d1",
			"projects": list(
				map[string]interface{}{"name": "p1"},
				map[string]interface{}{"name": "p2", "description": "new"},
			),
			"config": map[string]interface{}{"identity": map[string]interface{}{"driver": "sql"}},
		}),
	}

	got := reg.Changes(prev, next)
	want := map[string][]interface{}{
		"roles": list(seed.Record{"name": "member"}),
		"domains": list(seed.Record{
			"name":     "d1",
			"projects": list(seed.Record{"name": "p2", "description": "new"}),
		}),
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("Changes() (-got, +want)\n%s", diff)
	}

	if got := reg.Changes(next, next); len(got) != 0 {
		t.Errorf("Changes() of identical specs = %v, want empty", got)
	}
	if got := reg.Changes(nil, next); len(got) != 2 {
		t.Errorf("Changes() without previous spec = %v, want all kinds", got)
	}
}

func TestNew_afterCycle(t *testing.T) {
	_, err := registry.New([]*registry.Kind{
		{Name: "a", After: []string{"b"}},
		{Name: "b", After: []string{"c"}},
		{Name: "c", After: []string{"a"}},
	})
	if err == nil || !strings.Contains(err.Error(), "a -> b -> c -> a") {
		t.Errorf("New() err = %v, want after cycle", err)
	}
}

package registry

import "github.com/func/seeder/seed"

// A Kind declares how items of one resource kind are seeded.
type Kind struct {
	// Name is the spec attribute holding items of the kind.
	Name string

	// Adapter is the adapter kind used for the items. Defaults to Name.
	Adapter string

	// Nested kinds can only appear as children of other kinds.
	Nested bool

	// After lists kinds that must be seeded before this kind.
	After []string

	// Scope declares the parent the items live in.
	Scope Scope

	// Key lists the attributes that identify an item within its scope.
	// Defaults to name. Keyless kinds have at most one object per scope.
	Key     []string
	Keyless bool

	// Wrap puts the item under the given attribute before it is sent.
	Wrap string

	// Rename renames attributes before they are sent.
	Rename map[string]string

	// Transform modifies the item after renames.
	Transform func(seed.Record)

	// Refs resolves attributes holding composite names of other objects to
	// the ids of those objects.
	Refs map[string]Ref

	// Attributes lists the attributes sent to the platform, after renames
	// and refs have been applied. If nil, all attributes are sent.
	Attributes []string

	// StripOnUpdate lists attributes that can only be set on create.
	StripOnUpdate []string

	// Ignore lists attribute paths excluded from change detection, in
	// addition to secrets.
	Ignore []string

	// Children are nested kinds seeded after the item, scoped to it.
	Children []Child

	// Tags is a list attribute whose members are added one at a time
	// after the item has been seeded. Members are never removed.
	Tags string

	// Members is a list attribute holding composite names of other objects.
	// The named objects are added to the item after it has been seeded.
	// Members are never removed.
	Members *Members

	// AssignAs makes inline role_assignments of the item available. The
	// item fills the given field of each assignment.
	AssignAs string

	// Grant kinds are not upserted directly. Their items are role
	// assignments granted when the pass is flushed.
	Grant bool

	// Rules validate item attributes.
	Rules map[string]string

	// Check validates an item as a whole.
	Check func(path string, item seed.Record) error
}

func (k *Kind) adapter() string {
	if k.Adapter != "" {
		return k.Adapter
	}
	return k.Name
}

func (k *Kind) key(item seed.Record) seed.Record {
	if k.Keyless {
		return seed.Record{}
	}
	if len(k.Key) == 0 {
		return item.Only("name")
	}
	return item.Only(k.Key...)
}

// childAttrs returns the attributes that are split off an item before it is
// sent.
func (k *Kind) childAttrs() []string {
	var out []string
	for _, c := range k.Children {
		out = append(out, c.Attr)
	}
	if k.Tags != "" {
		out = append(out, k.Tags)
	}
	if k.Members != nil {
		out = append(out, k.Members.Attr)
	}
	if k.AssignAs != "" {
		out = append(out, AssignmentsAttr)
	}
	return out
}

// Scope declares the parent of a kind.
type Scope struct {
	// Attr is the attribute the parent id is set in.
	Attr string

	// From is the item attribute naming the parent when the item is not
	// nested in it.
	From string

	// Kind is the kind of the parent.
	Kind string

	// Inherit lists scope attributes of the parent that are carried over
	// when the item is nested.
	Inherit []string
}

// A Ref resolves an attribute holding a composite name to an id.
type Ref struct {
	Kind string // Kind of the referenced object.
	Into string // Attribute to set the id in. Dots denote nesting.
}

// A Child is a nested kind.
type Child struct {
	Attr      string // Attribute holding the nested items.
	Kind      string // Kind of the nested items.
	Singleton bool   // The attribute holds a single item rather than a list.

	// ScopeAttr is the attribute the parent id is set in. Defaults to the
	// scope attribute of the nested kind.
	ScopeAttr string
}

// Members declares a list attribute naming objects added to an item.
// Names without a scope are taken to be in the scope of the item's parent.
type Members struct {
	Attr string // Attribute holding the names.
	Kind string // Kind of the named objects.
}

// AssignmentsAttr is the attribute holding inline role assignments.
const AssignmentsAttr = "role_assignments"

var nameRules = map[string]string{"name": "required"}

// Kinds returns the default kind table.
func Kinds() []*Kind {
	return []*Kind{
		{
			Name:       "regions",
			Key:        []string{"id"},
			Attributes: []string{"id", "description", "parent_region_id"},
			Rules:      map[string]string{"id": "required"},
		},
		{
			Name:       "roles",
			Attributes: []string{"name", "description"},
			Rules:      nameRules,
		},
		{
			Name:  "role_inferences",
			After: []string{"roles"},
			Refs: map[string]Ref{
				"prior_role":   {Kind: "roles", Into: "prior_role_id"},
				"implied_role": {Kind: "roles", Into: "implied_role_id"},
			},
			Key:        []string{"prior_role_id", "implied_role_id"},
			Attributes: []string{"prior_role_id", "implied_role_id"},
			Rules: map[string]string{
				"prior_role":   "required",
				"implied_role": "required",
			},
		},
		{
			Name:       "services",
			After:      []string{"regions"},
			Key:        []string{"type", "name"},
			Attributes: []string{"type", "name", "enabled", "description"},
			Children: []Child{
				{Attr: "endpoints", Kind: "endpoints"},
			},
			Rules: map[string]string{
				"name": "required",
				"type": "required",
			},
		},
		{
			Name:       "endpoints",
			Nested:     true,
			Scope:      Scope{Attr: "service_id"},
			Key:        []string{"interface", "region"},
			Attributes: []string{"interface", "region", "url", "enabled", "name"},
			Rules: map[string]string{
				"interface": "required,oneof=public internal admin",
				"region":    "required",
				"url":       "required,url",
			},
		},
		{
			Name: "flavors",
			Rename: map[string]string{
				"is_public": "os-flavor-access:is_public",
				"disabled":  "OS-FLV-DISABLED:disabled",
				"ephemeral": "OS-FLV-EXT-DATA:ephemeral",
			},
			Attributes: []string{
				"id", "name", "ram", "vcpus", "disk", "swap", "rxtx_factor", "description",
				"os-flavor-access:is_public", "OS-FLV-DISABLED:disabled", "OS-FLV-EXT-DATA:ephemeral",
			},
			StripOnUpdate: []string{"id"},
			Children: []Child{
				{Attr: "extra_specs", Kind: "flavor_extra_specs", Singleton: true},
			},
			Rules: nameRules,
		},
		{
			Name:    "flavor_extra_specs",
			Nested:  true,
			Scope:   Scope{Attr: "flavor_id"},
			Keyless: true,
			Wrap:    "extra_specs",
		},
		{
			Name:       "volume_types",
			Attributes: []string{"name", "description", "is_public"},
			Children: []Child{
				{Attr: "extra_specs", Kind: "volume_type_extra_specs", Singleton: true},
			},
			Rules: nameRules,
		},
		{
			Name:    "volume_type_extra_specs",
			Nested:  true,
			Scope:   Scope{Attr: "volume_type_id"},
			Keyless: true,
			Wrap:    "extra_specs",
		},
		{
			Name:       "domains",
			Attributes: []string{"name", "description", "enabled"},
			Children: []Child{
				{Attr: "config", Kind: "domain_configs", Singleton: true},
				{Attr: "projects", Kind: "projects"},
				{Attr: "users", Kind: "users"},
				{Attr: "groups", Kind: "groups"},
			},
			AssignAs: "domain",
			Rules:    nameRules,
		},
		{
			Name:    "domain_configs",
			Nested:  true,
			Scope:   Scope{Attr: "domain_id"},
			Keyless: true,
			Wrap:    "config",
		},
		{
			Name:       "projects",
			After:      []string{"domains"},
			Scope:      Scope{Attr: "domain_id", From: "domain", Kind: "domains"},
			Attributes: []string{"name", "description", "enabled", "is_domain", "parent_id"},
			Children: []Child{
				{Attr: "network_quota", Kind: "network_quotas", Singleton: true},
				{Attr: "address_scopes", Kind: "address_scopes"},
				{Attr: "subnet_pools", Kind: "subnet_pools"},
				{Attr: "networks", Kind: "networks"},
				{Attr: "routers", Kind: "routers"},
			},
			AssignAs: "project",
			Rules:    nameRules,
		},
		{
			Name:  "users",
			After: []string{"domains", "projects"},
			Scope: Scope{Attr: "domain_id", From: "domain", Kind: "domains"},
			Refs: map[string]Ref{
				"default_project": {Kind: "projects", Into: "default_project_id"},
			},
			Attributes: []string{"name", "description", "enabled", "email", "password", "default_project_id"},
			AssignAs:   "user",
			Rules: map[string]string{
				"name":            "required",
				"default_project": "omitempty,scoped",
			},
		},
		{
			Name:       "groups",
			After:      []string{"domains", "users"},
			Scope:      Scope{Attr: "domain_id", From: "domain", Kind: "domains"},
			Attributes: []string{"name", "description"},
			Members:    &Members{Attr: "users", Kind: "users"},
			AssignAs:   "group",
			Rules:      nameRules,
		},
		{
			Name:  AssignmentsAttr,
			Grant: true,
			Rules: map[string]string{
				"role":    "required,composite=2",
				"user":    "omitempty,scoped",
				"group":   "omitempty,scoped",
				"project": "omitempty,scoped",
				"domain":  "omitempty,composite=1",
				"system":  "omitempty,oneof=all",
			},
			Check: checkAssignment,
		},
		{
			Name:  "address_scopes",
			After: []string{"projects"},
			Scope: Scope{Attr: "project_id", From: "project", Kind: "projects"},
			Attributes: []string{
				"name", "ip_version", "shared",
			},
			StripOnUpdate: []string{"ip_version"},
			Children: []Child{
				{Attr: "subnet_pools", Kind: "subnet_pools", ScopeAttr: "address_scope_id"},
			},
			Rules: nameRules,
		},
		{
			Name:  "subnet_pools",
			After: []string{"projects", "address_scopes"},
			Scope: Scope{Attr: "project_id", From: "project", Kind: "projects", Inherit: []string{"project_id"}},
			Refs: map[string]Ref{
				"address_scope": {Kind: "address_scopes", Into: "address_scope_id"},
			},
			Attributes: []string{
				"name", "description", "prefixes", "default_prefixlen", "min_prefixlen", "max_prefixlen",
				"shared", "is_default", "default_quota", "address_scope_id",
			},
			Rules: nameRules,
		},
		{
			Name:  "networks",
			After: []string{"projects", "subnet_pools"},
			Scope: Scope{Attr: "project_id", From: "project", Kind: "projects"},
			Rename: map[string]string{
				"router_external":           "router:external",
				"provider_network_type":     "provider:network_type",
				"provider_physical_network": "provider:physical_network",
				"provider_segmentation_id":  "provider:segmentation_id",
			},
			Attributes: []string{
				"name", "description", "admin_state_up", "shared", "mtu", "port_security_enabled",
				"router:external", "provider:network_type", "provider:physical_network", "provider:segmentation_id",
			},
			StripOnUpdate: []string{"provider:network_type", "provider:physical_network", "provider:segmentation_id"},
			Children: []Child{
				{Attr: "subnets", Kind: "subnets"},
			},
			Tags:  "tags",
			Rules: nameRules,
		},
		{
			Name:      "subnets",
			After:     []string{"networks", "subnet_pools"},
			Scope:     Scope{Attr: "network_id", From: "network", Kind: "networks", Inherit: []string{"project_id"}},
			Transform: nullGateway,
			Refs: map[string]Ref{
				"subnetpool": {Kind: "subnet_pools", Into: "subnetpool_id"},
			},
			Attributes: []string{
				"name", "description", "cidr", "ip_version", "gateway_ip", "enable_dhcp", "dns_nameservers",
				"host_routes", "allocation_pools", "segment_id", "tenant_id", "subnetpool_id", "prefixlen",
			},
			StripOnUpdate: []string{
				"cidr", "segment_id", "tenant_id", "network_id", "subnetpool_id", "ip_version", "prefixlen",
			},
			Tags:  "tags",
			Rules: nameRules,
		},
		{
			Name:  "routers",
			After: []string{"networks", "subnets"},
			Scope: Scope{Attr: "project_id", From: "project", Kind: "projects"},
			Refs: map[string]Ref{
				"external_network": {Kind: "networks", Into: "external_gateway_info.network_id"},
			},
			Attributes: []string{"name", "description", "admin_state_up", "distributed", "ha", "external_gateway_info"},
			Tags:       "tags",
			Rules:      nameRules,
		},
		{
			Name:  "rbac_policies",
			After: []string{"projects", "networks"},
			Refs: map[string]Ref{
				"object_name":        {Kind: "networks", Into: "object_id"},
				"target_tenant_name": {Kind: "projects", Into: "target_tenant"},
			},
			Key:        []string{"object_type", "object_id", "action", "target_tenant"},
			Attributes: []string{"object_type", "object_id", "action", "target_tenant"},
			Rules: map[string]string{
				"object_type":        "required,eq=network",
				"object_name":        "required,composite=3",
				"action":             "required,oneof=access_as_shared access_as_external",
				"target_tenant_name": "required,scoped",
			},
		},
		{
			Name:    "network_quotas",
			After:   []string{"projects"},
			Scope:   Scope{Attr: "project_id", From: "project", Kind: "projects"},
			Keyless: true,
		},
	}
}

// nullGateway converts the literal string null in gateway_ip to nil, which
// disables the gateway.
func nullGateway(item seed.Record) {
	if item.Attr("gateway_ip") == "null" {
		item["gateway_ip"] = nil
	}
}

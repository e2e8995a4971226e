package registry

import (
	"context"

	"github.com/func/seeder/seed"
	"github.com/func/seeder/upsert"
	"github.com/func/seeder/validation"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// checkAssignment checks the shape of a role assignment: one actor and one
// target.
func checkAssignment(path string, a seed.Record) error {
	err := multierr.Combine(
		validation.Exclusive(path, a, "user", "group"),
		validation.Exclusive(path, a, "project", "domain"),
		validation.Exclusive(path, a, "system", "project"),
		validation.Exclusive(path, a, "system", "domain"),
	)
	if a.Attr("user") == "" && a.Attr("group") == "" {
		err = multierr.Append(err, validation.FieldError{Path: path, Err: errors.New("user or group is required")})
	}
	if a.Attr("project") == "" && a.Attr("domain") == "" && a.Attr("system") == "" {
		err = multierr.Append(err, validation.FieldError{Path: path, Err: errors.New("project, domain or system is required")})
	}
	return err
}

// resolveAssignment resolves the names in a role assignment to ids.
func resolveAssignment(ctx context.Context, pass *Pass, a seed.Record) (seed.Record, error) {
	ids := pass.Cloud.Identity
	out := seed.Record{}

	roleID, err := ids.ResolveName(ctx, "roles", a.Attr("role"))
	if err != nil {
		return nil, errors.Wrapf(err, "resolve role %s", a.Attr("role"))
	}
	out["role_id"] = roleID

	for _, f := range []struct{ attr, kind, into string }{
		{"user", "users", "user_id"},
		{"group", "groups", "group_id"},
		{"project", "projects", "project_id"},
		{"domain", "domains", "domain_id"},
	} {
		name := a.Attr(f.attr)
		if name == "" {
			continue
		}
		id, err := ids.ResolveName(ctx, f.kind, name)
		if err != nil {
			return nil, errors.Wrapf(err, "resolve %s %s", f.attr, name)
		}
		out[f.into] = id
	}
	if s := a.Attr("system"); s != "" {
		out["system"] = s
	}
	if inherited, _ := a["inherited"].(bool); inherited {
		out["inherited"] = true
	}
	return out, nil
}

// Flush grants the role assignments collected in the pass. An assignment
// that already exists is left alone. Returns the number of assignments
// granted.
func (r *Registry) Flush(ctx context.Context, pass *Pass) (int, error) {
	assignments := pass.take()
	if len(assignments) == 0 {
		return 0, nil
	}
	logger := pass.logger().With(zap.String("kind", AssignmentsAttr))
	adapter, err := pass.Cloud.Adapter(r.kinds[AssignmentsAttr].adapter())
	if err != nil {
		return 0, err
	}

	granted := 0
	for _, a := range assignments {
		rec, rerr := resolveAssignment(ctx, pass, a)
		if rerr != nil {
			err = multierr.Append(err, rerr)
			continue
		}
		out, uerr := pass.Cloud.Executor.Upsert(ctx, adapter, upsert.Request{
			Kind:    AssignmentsAttr,
			Key:     rec,
			Desired: rec,
		})
		if uerr != nil {
			err = multierr.Append(err, errors.Wrapf(uerr, "grant %s", describeAssignment(a)))
			continue
		}
		if out.Op == upsert.Create {
			logger.Info("Grant", zap.String("assignment", describeAssignment(a)))
			granted++
		}
	}
	return granted, err
}

func describeAssignment(a seed.Record) string {
	actor := a.Attr("user")
	if actor == "" {
		actor = a.Attr("group")
	}
	target := a.Attr("project")
	if target == "" {
		target = a.Attr("domain")
	}
	if target == "" {
		target = "system:" + a.Attr("system")
	}
	return a.Attr("role") + " " + actor + " " + target
}

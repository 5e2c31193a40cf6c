package tools

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/itsneelabh/bloxgate/core"
	"github.com/itsneelabh/bloxgate/registry"
	"github.com/itsneelabh/bloxgate/resilience"
	"github.com/itsneelabh/bloxgate/upstream"
)

// Deps carries everything a tool handler needs. Handlers never talk to the
// upstream client directly; every call goes through the pipeline.
type Deps struct {
	Client     *upstream.Client
	Pipeline   *resilience.Pipeline
	DefaultTTL time.Duration
	Logger     core.Logger
}

// RegisterAll installs the complete tool catalog.
func RegisterAll(r *registry.Registry, d *Deps) error {
	if d.Logger == nil {
		d.Logger = &core.NoOpLogger{}
	}
	for _, group := range [][]*registry.Tool{
		d.ipamTools(),
		d.dnsTools(),
		d.dhcpTools(),
		d.federationTools(),
		d.vpnTools(),
		d.securityTools(),
		d.insightTools(),
		d.staticTools(),
	} {
		for _, t := range group {
			if err := r.Register(t); err != nil {
				return err
			}
		}
	}
	d.Logger.Info("tools_registered", map[string]interface{}{
		"count": r.Count(),
	})
	return nil
}

func (d *Deps) ttlFor(t *registry.Tool) time.Duration {
	if !t.ReadOnly || t.CacheTTL < 0 {
		return 0
	}
	if t.CacheTTL > 0 {
		return t.CacheTTL
	}
	return d.DefaultTTL
}

// run pushes one call through the resilience pipeline.
func (d *Deps) run(ctx context.Context, t *registry.Tool, service string, args map[string]interface{}, retryConflict bool, do func(ctx context.Context) (json.RawMessage, error)) (json.RawMessage, error) {
	class := resilience.ClassMutate
	if t.ReadOnly {
		class = resilience.ClassRead
	}
	result, err := d.Pipeline.Execute(ctx, resilience.Call{
		Tool:          t.Name,
		Service:       service,
		Class:         class,
		CacheTTL:      d.ttlFor(t),
		CacheArgs:     args,
		RetryConflict: retryConflict,
		Do:            do,
	})
	if err != nil {
		return nil, err
	}
	return result.Data, nil
}

// idPath resolves an upstream object id against its resource path. Full API
// ids ("ipam/subnet/abc") already contain the resource; bare ids do not.
func idPath(resource, id string) string {
	if strings.Contains(id, "/") {
		return id
	}
	return resource + "/" + id
}

// Shared schema fragments.

func listSchema(extra map[string]registry.Property) *registry.Schema {
	props := map[string]registry.Property{
		"filter":   {Type: registry.TypeString, Description: "Upstream filter expression, e.g. name==\"prod\""},
		"fields":   {Type: registry.TypeString, Description: "Comma-separated list of fields to return"},
		"order_by": {Type: registry.TypeString, Description: "Sort order, e.g. name asc"},
		"limit":    {Type: registry.TypeInteger, Description: "Maximum results to return", Default: 100, Minimum: registry.Min(1), Maximum: registry.Max(10000)},
		"offset":   {Type: registry.TypeInteger, Description: "Results to skip for pagination", Default: 0, Minimum: registry.Min(0)},
	}
	for k, v := range extra {
		props[k] = v
	}
	return registry.NewSchema(props)
}

func idSchema(desc string) *registry.Schema {
	return registry.NewSchema(map[string]registry.Property{
		"id": {Type: registry.TypeString, Description: desc, Required: true},
	})
}

func updateSchema(desc string) *registry.Schema {
	return registry.NewSchema(map[string]registry.Property{
		"id":      {Type: registry.TypeString, Description: desc, Required: true},
		"updates": {Type: registry.TypeObject, Description: "Fields to change, as a partial object", Required: true},
	})
}

// Generic tool builders. Creation tools get bespoke schemas in the domain
// files; list/get/update/delete share these shapes.

func (d *Deps) listTool(name, desc, service, resource string, extra map[string]registry.Property) *registry.Tool {
	t := &registry.Tool{
		Name:        name,
		Description: desc,
		Schema:      listSchema(extra),
		ReadOnly:    true,
	}
	t.Handler = func(ctx context.Context, args map[string]interface{}) (json.RawMessage, error) {
		return d.run(ctx, t, service, args, false, func(ctx context.Context) (json.RawMessage, error) {
			q := upstream.ListQuery(
				stringArg(args, "filter"),
				stringArg(args, "fields"),
				stringArg(args, "order_by"),
				intArg(args, "limit"),
				intArg(args, "offset"),
			)
			return d.Client.Get(ctx, service, resource, q)
		})
	}
	return t
}

func (d *Deps) getTool(name, desc, service, resource, idDesc string) *registry.Tool {
	t := &registry.Tool{
		Name:        name,
		Description: desc,
		Schema:      idSchema(idDesc),
		ReadOnly:    true,
	}
	t.Handler = func(ctx context.Context, args map[string]interface{}) (json.RawMessage, error) {
		return d.run(ctx, t, service, args, false, func(ctx context.Context) (json.RawMessage, error) {
			return d.Client.Get(ctx, service, idPath(resource, stringArg(args, "id")), nil)
		})
	}
	return t
}

func (d *Deps) updateTool(name, desc, service, resource, idDesc string) *registry.Tool {
	t := &registry.Tool{
		Name:        name,
		Description: desc,
		Schema:      updateSchema(idDesc),
	}
	t.Handler = func(ctx context.Context, args map[string]interface{}) (json.RawMessage, error) {
		return d.run(ctx, t, service, args, false, func(ctx context.Context) (json.RawMessage, error) {
			return d.Client.Patch(ctx, service, idPath(resource, stringArg(args, "id")), args["updates"])
		})
	}
	return t
}

func (d *Deps) deleteTool(name, desc, service, resource, idDesc string) *registry.Tool {
	t := &registry.Tool{
		Name:        name,
		Description: desc,
		Schema:      idSchema(idDesc),
	}
	t.Handler = func(ctx context.Context, args map[string]interface{}) (json.RawMessage, error) {
		return d.run(ctx, t, service, args, false, func(ctx context.Context) (json.RawMessage, error) {
			return d.Client.Delete(ctx, service, idPath(resource, stringArg(args, "id")))
		})
	}
	return t
}

// createTool builds a POST tool whose body is derived from the validated
// arguments by buildBody. A nil buildBody sends the arguments as-is.
func (d *Deps) createTool(name, desc, service, resource string, schema *registry.Schema, buildBody func(args map[string]interface{}) interface{}) *registry.Tool {
	t := &registry.Tool{
		Name:        name,
		Description: desc,
		Schema:      schema,
	}
	t.Handler = func(ctx context.Context, args map[string]interface{}) (json.RawMessage, error) {
		return d.run(ctx, t, service, args, false, func(ctx context.Context) (json.RawMessage, error) {
			var body interface{} = args
			if buildBody != nil {
				body = buildBody(args)
			}
			return d.Client.Post(ctx, service, resource, body)
		})
	}
	return t
}

// Argument accessors for validated args. Validation guarantees types, so
// these only need to handle absence.

func stringArg(args map[string]interface{}, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func intArg(args map[string]interface{}, key string) int {
	switch v := args[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func boolArg(args map[string]interface{}, key string) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return false
}

func objectArg(args map[string]interface{}, key string) map[string]interface{} {
	if v, ok := args[key].(map[string]interface{}); ok {
		return v
	}
	return nil
}

// compact drops empty values so optional arguments stay out of request
// bodies.
func compact(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case string:
			if val == "" {
				continue
			}
		case nil:
			continue
		}
		out[k] = v
	}
	return out
}

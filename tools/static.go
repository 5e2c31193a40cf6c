package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/itsneelabh/bloxgate/registry"
	"github.com/itsneelabh/bloxgate/upstream"
)

// Reference data tools. The answers change on upstream release cadence, not
// on user action, so they cache for an hour.
const referenceTTL = time.Hour

func (d *Deps) staticTools() []*registry.Tool {
	return []*registry.Tool{
		d.listSupportedSizesTool(),
		d.listCloudRegionsTool(),
		d.listServiceCapabilitiesTool(),
	}
}

func (d *Deps) listSupportedSizesTool() *registry.Tool {
	t := &registry.Tool{
		Name:        "list_supported_sizes",
		Description: "List the endpoint sizes the platform supports",
		Schema:      registry.NewSchema(map[string]registry.Property{}),
		ReadOnly:    true,
		CacheTTL:    referenceTTL,
	}
	t.Handler = func(ctx context.Context, args map[string]interface{}) (json.RawMessage, error) {
		return d.run(ctx, t, upstream.ServiceUniversal, args, false, func(ctx context.Context) (json.RawMessage, error) {
			return d.Client.Get(ctx, upstream.ServiceUniversal, "supportedsizes", nil)
		})
	}
	return t
}

// listCloudRegionsTool POSTs a provider selector but is semantically a read,
// so it still caches per provider.
func (d *Deps) listCloudRegionsTool() *registry.Tool {
	t := &registry.Tool{
		Name:        "list_cloud_regions",
		Description: "List available cloud provider regions for endpoint placement",
		Schema: registry.NewSchema(map[string]registry.Property{
			"provider": {Type: registry.TypeString, Description: "Cloud provider", Default: "AWS", Enum: []string{"AWS", "Azure", "GCP"}},
		}),
		ReadOnly: true,
		CacheTTL: referenceTTL,
	}
	t.Handler = func(ctx context.Context, args map[string]interface{}) (json.RawMessage, error) {
		return d.run(ctx, t, upstream.ServiceUniversal, args, false, func(ctx context.Context) (json.RawMessage, error) {
			return d.Client.Post(ctx, upstream.ServiceUniversal, "cloudproviderregions", map[string]interface{}{
				"provider": stringArg(args, "provider"),
			})
		})
	}
	return t
}

func (d *Deps) listServiceCapabilitiesTool() *registry.Tool {
	t := &registry.Tool{
		Name:        "list_service_capabilities",
		Description: "List the service capabilities (DNS, DFP, DHCP) deployable on endpoints",
		Schema:      registry.NewSchema(map[string]registry.Property{}),
		ReadOnly:    true,
		CacheTTL:    referenceTTL,
	}
	t.Handler = func(ctx context.Context, args map[string]interface{}) (json.RawMessage, error) {
		return d.run(ctx, t, upstream.ServiceUniversal, args, false, func(ctx context.Context) (json.RawMessage, error) {
			return d.Client.Get(ctx, upstream.ServiceUniversal, "capabilities", nil)
		})
	}
	return t
}

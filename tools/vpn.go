package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/itsneelabh/bloxgate/core"
	"github.com/itsneelabh/bloxgate/registry"
	"github.com/itsneelabh/bloxgate/upstream"
)

var endpointSizes = []string{"S", "M", "L"}

func (d *Deps) vpnTools() []*registry.Tool {
	svc := upstream.ServiceUniversal

	tools := []*registry.Tool{
		d.listTool("list_universal_services", "List universal services (NIOS-X as a Service deployments)", svc, upstream.ResUniversalService, nil),
		d.getTool("get_universal_service", "Get a universal service by id", svc, upstream.ResUniversalService, "Universal service id"),
		d.createTool("create_universal_service", "Create a universal service", svc, upstream.ResUniversalService,
			registry.NewSchema(map[string]registry.Property{
				"name":        {Type: registry.TypeString, Description: "Service name", Required: true},
				"description": {Type: registry.TypeString, Description: "Service description"},
				"profile":     {Type: registry.TypeObject, Description: "Optional service profile settings"},
			}),
			func(args map[string]interface{}) interface{} { return compact(args) },
		),
		d.updateTool("update_universal_service", "Update a universal service", svc, upstream.ResUniversalService, "Universal service id"),

		d.listTool("list_vpn_endpoints", "List service endpoints (NIOS-X instances)", svc, upstream.ResEndpoint, nil),
		d.getTool("get_vpn_endpoint", "Get a service endpoint by id", svc, upstream.ResEndpoint, "Endpoint id"),
		d.createTool("create_vpn_endpoint", "Create a service endpoint in a cloud region", svc, upstream.ResEndpoint,
			registry.NewSchema(map[string]registry.Property{
				"name":                 {Type: registry.TypeString, Description: "Endpoint name", Required: true},
				"universal_service_id": {Type: registry.TypeString, Description: "Parent universal service id", Required: true},
				"service_location":     {Type: registry.TypeString, Description: "Cloud region, e.g. aws-us-east-1", Required: true},
				"service_ip":           {Type: registry.TypeIP, Description: "Service IP for the endpoint", Required: true},
				"size":                 {Type: registry.TypeString, Description: "Endpoint size", Default: "S", Enum: endpointSizes},
			}),
			func(args map[string]interface{}) interface{} { return compact(args) },
		),
		d.updateTool("update_vpn_endpoint", "Update a service endpoint", svc, upstream.ResEndpoint, "Endpoint id"),
		d.deleteTool("delete_vpn_endpoint", "Delete a service endpoint", svc, upstream.ResEndpoint, "Endpoint id"),

		d.listTool("list_access_locations", "List VPN access locations (customer sites)", svc, upstream.ResAccessLocation, nil),
		d.getTool("get_access_location", "Get an access location by id", svc, upstream.ResAccessLocation, "Access location id"),
		d.createTool("create_access_location", "Attach an access location to an endpoint", svc, upstream.ResAccessLocation,
			registry.NewSchema(map[string]registry.Property{
				"endpoint_id":   {Type: registry.TypeString, Description: "Endpoint the site connects to", Required: true},
				"location_id":   {Type: registry.TypeString, Description: "Location identifier", Required: true},
				"name":          {Type: registry.TypeString, Description: "Access location name"},
				"tunnel_config": {Type: registry.TypeObject, Description: "IPSec tunnel settings (local/remote ids, tunnel IPs)"},
			}),
			func(args map[string]interface{}) interface{} { return compact(args) },
		),
		d.updateTool("update_access_location", "Update an access location", svc, upstream.ResAccessLocation, "Access location id"),
		d.deleteTool("delete_access_location", "Delete an access location", svc, upstream.ResAccessLocation, "Access location id"),
	}

	return append(tools,
		d.configureVPNTool(),
		d.deleteVPNServiceTool(),
		d.vpnEndpointCNAMEsTool(),
		d.listCredentialsTool(),
		d.createCredentialTool(),
		d.findOrCreateCredentialTool(),
		d.deleteCredentialTool(),
	)
}

// configureVPNTool drives the consolidated configure endpoint: service,
// endpoints, access locations, and credentials applied as one upstream
// transaction. The upstream answers 409 while a previous deployment settles,
// so conflicts are retried for this tool only.
func (d *Deps) configureVPNTool() *registry.Tool {
	t := &registry.Tool{
		Name:        "configure_vpn_infrastructure",
		Description: "Atomically create or update VPN infrastructure: universal service, endpoints, access locations, and credentials in one transaction",
		Schema: registry.NewSchema(map[string]registry.Property{
			"universal_service": {Type: registry.TypeObject, Description: "Universal service section", Required: true},
			"endpoints":         {Type: registry.TypeObject, Description: "Endpoint create/update/delete sections"},
			"access_locations":  {Type: registry.TypeObject, Description: "Access location create/update/delete sections"},
			"credentials":       {Type: registry.TypeObject, Description: "Credential create/update sections"},
			"locations":         {Type: registry.TypeObject, Description: "Location create/update sections"},
		}),
	}
	t.Handler = func(ctx context.Context, args map[string]interface{}) (json.RawMessage, error) {
		endpoints := objectArg(args, "endpoints")
		accessLocations := objectArg(args, "access_locations")
		// A service with neither endpoints nor access locations deploys
		// nothing and strands the service record; reject before the
		// upstream sees it.
		if len(endpoints) == 0 && len(accessLocations) == 0 {
			return nil, fmt.Errorf("%w: configure_vpn_infrastructure requires endpoints or access_locations, refusing partial deployment", core.ErrSchemaViolation)
		}
		payload := &upstream.ConsolidatedPayload{
			UniversalService: objectArg(args, "universal_service"),
			Endpoints:        endpoints,
			AccessLocations:  accessLocations,
			Credentials:      objectArg(args, "credentials"),
			Locations:        objectArg(args, "locations"),
		}
		return d.run(ctx, t, upstream.ServiceUniversal, args, true, func(ctx context.Context) (json.RawMessage, error) {
			return d.Client.ConsolidatedConfigure(ctx, payload)
		})
	}
	return t
}

// deleteVPNServiceTool removes a whole universal service. Destructive enough
// to demand an explicit confirm flag.
func (d *Deps) deleteVPNServiceTool() *registry.Tool {
	t := &registry.Tool{
		Name:        "delete_vpn_service",
		Description: "Delete a universal service and its deployed infrastructure. Requires confirm=true.",
		Schema: registry.NewSchema(map[string]registry.Property{
			"service_id": {Type: registry.TypeString, Description: "Universal service id", Required: true},
			"confirm":    {Type: registry.TypeBoolean, Description: "Must be true to proceed", Default: false},
		}),
	}
	t.Handler = func(ctx context.Context, args map[string]interface{}) (json.RawMessage, error) {
		if !boolArg(args, "confirm") {
			return nil, fmt.Errorf("%w: delete_vpn_service requires confirm=true", core.ErrSchemaViolation)
		}
		return d.run(ctx, t, upstream.ServiceUniversal, args, false, func(ctx context.Context) (json.RawMessage, error) {
			return d.Client.Delete(ctx, upstream.ServiceUniversal, idPath(upstream.ResUniversalService, stringArg(args, "service_id")))
		})
	}
	return t
}

// vpnEndpointCNAMEsTool extracts the DNS names clients tunnel to. The
// upstream has no dedicated endpoint for this, so the endpoint list is
// reduced client-side.
func (d *Deps) vpnEndpointCNAMEsTool() *registry.Tool {
	t := &registry.Tool{
		Name:        "get_vpn_endpoint_cnames",
		Description: "Get the CNAME each endpoint of a universal service is reachable at",
		Schema: registry.NewSchema(map[string]registry.Property{
			"service_id": {Type: registry.TypeString, Description: "Universal service id", Required: true},
		}),
		ReadOnly: true,
	}
	t.Handler = func(ctx context.Context, args map[string]interface{}) (json.RawMessage, error) {
		return d.run(ctx, t, upstream.ServiceUniversal, args, false, func(ctx context.Context) (json.RawMessage, error) {
			q := url.Values{}
			q.Set("_filter", `universal_service_id=="`+stringArg(args, "service_id")+`"`)
			raw, err := d.Client.Get(ctx, upstream.ServiceUniversal, upstream.ResEndpoint, q)
			if err != nil {
				return nil, err
			}
			var doc struct {
				Results []map[string]interface{} `json:"results"`
			}
			if err := json.Unmarshal(raw, &doc); err != nil {
				return raw, nil
			}
			out := make([]map[string]interface{}, 0, len(doc.Results))
			for _, ep := range doc.Results {
				out = append(out, map[string]interface{}{
					"id":               ep["id"],
					"name":             ep["name"],
					"cname":            ep["cname"],
					"service_location": ep["service_location"],
				})
			}
			return json.Marshal(map[string]interface{}{"results": out})
		})
	}
	return t
}

func (d *Deps) listCredentialsTool() *registry.Tool {
	t := &registry.Tool{
		Name:        "list_credentials",
		Description: "List PSK credentials, optionally filtered by name substring",
		Schema: registry.NewSchema(map[string]registry.Property{
			"name_filter": {Type: registry.TypeString, Description: "Case-insensitive name substring"},
			"limit":       {Type: registry.TypeInteger, Description: "Maximum results", Default: 100, Minimum: registry.Min(1), Maximum: registry.Max(10000)},
		}),
		ReadOnly: true,
	}
	t.Handler = func(ctx context.Context, args map[string]interface{}) (json.RawMessage, error) {
		return d.run(ctx, t, upstream.ServiceIAM, args, false, func(ctx context.Context) (json.RawMessage, error) {
			return d.Client.ListCredentials(ctx, stringArg(args, "name_filter"), intArg(args, "limit"))
		})
	}
	return t
}

func (d *Deps) createCredentialTool() *registry.Tool {
	t := &registry.Tool{
		Name:        "create_credential",
		Description: "Create a PSK credential for IPSec tunnels",
		Schema: registry.NewSchema(map[string]registry.Property{
			"name":          {Type: registry.TypeString, Description: "Credential name", Required: true},
			"psk":           {Type: registry.TypeString, Description: "Pre-shared key value", Required: true},
			"unique_suffix": {Type: registry.TypeBoolean, Description: "Append a random suffix to avoid name collisions", Default: true},
		}),
	}
	t.Handler = func(ctx context.Context, args map[string]interface{}) (json.RawMessage, error) {
		return d.run(ctx, t, upstream.ServiceIAM, args, false, func(ctx context.Context) (json.RawMessage, error) {
			return d.Client.CreateCredential(ctx, stringArg(args, "name"), stringArg(args, "psk"), boolArg(args, "unique_suffix"))
		})
	}
	return t
}

func (d *Deps) findOrCreateCredentialTool() *registry.Tool {
	t := &registry.Tool{
		Name:        "find_or_create_credential",
		Description: "Reuse a PSK credential matching the name, or create one with a unique suffix",
		Schema: registry.NewSchema(map[string]registry.Property{
			"name": {Type: registry.TypeString, Description: "Base credential name", Required: true},
			"psk":  {Type: registry.TypeString, Description: "Pre-shared key value", Required: true},
		}),
	}
	t.Handler = func(ctx context.Context, args map[string]interface{}) (json.RawMessage, error) {
		return d.run(ctx, t, upstream.ServiceIAM, args, false, func(ctx context.Context) (json.RawMessage, error) {
			return d.Client.FindOrCreateCredential(ctx, stringArg(args, "name"), stringArg(args, "psk"))
		})
	}
	return t
}

func (d *Deps) deleteCredentialTool() *registry.Tool {
	t := &registry.Tool{
		Name:        "delete_credential",
		Description: "Delete a PSK credential",
		Schema:      idSchema("Credential id"),
	}
	t.Handler = func(ctx context.Context, args map[string]interface{}) (json.RawMessage, error) {
		return d.run(ctx, t, upstream.ServiceIAM, args, false, func(ctx context.Context) (json.RawMessage, error) {
			return d.Client.Delete(ctx, upstream.ServiceIAM, idPath(upstream.ResKeys, stringArg(args, "id")))
		})
	}
	return t
}

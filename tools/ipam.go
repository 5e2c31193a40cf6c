package tools

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/itsneelabh/bloxgate/registry"
	"github.com/itsneelabh/bloxgate/upstream"
)

func (d *Deps) ipamTools() []*registry.Tool {
	svc := upstream.ServiceDDI

	tools := []*registry.Tool{
		d.listTool("list_ip_spaces", "List IPAM IP spaces", svc, upstream.ResIPSpace, nil),
		d.getTool("get_ip_space", "Get an IP space by id", svc, upstream.ResIPSpace, "IP space id"),
		d.createTool("create_ip_space", "Create a new IP space", svc, upstream.ResIPSpace,
			registry.NewSchema(map[string]registry.Property{
				"name":    {Type: registry.TypeString, Description: "IP space name", Required: true},
				"comment": {Type: registry.TypeString, Description: "Optional comment"},
			}),
			func(args map[string]interface{}) interface{} { return compact(args) },
		),
		d.deleteTool("delete_ip_space", "Delete an IP space", svc, upstream.ResIPSpace, "IP space id"),

		d.listTool("list_address_blocks", "List IPAM address blocks", svc, upstream.ResAddressBlock, nil),
		d.getTool("get_address_block", "Get an address block by id", svc, upstream.ResAddressBlock, "Address block id"),
		d.createTool("create_address_block", "Create an address block in an IP space", svc, upstream.ResAddressBlock,
			registry.NewSchema(map[string]registry.Property{
				"address": {Type: registry.TypeCIDR, Description: "Block in CIDR notation, e.g. 10.0.0.0/16", Required: true},
				"space":   {Type: registry.TypeString, Description: "IP space id", Required: true},
				"name":    {Type: registry.TypeString, Description: "Block name"},
				"comment": {Type: registry.TypeString, Description: "Optional comment"},
			}),
			buildCIDRBody,
		),
		d.deleteTool("delete_address_block", "Delete an address block", svc, upstream.ResAddressBlock, "Address block id"),

		d.listTool("list_subnets", "List subnets, optionally filtered", svc, upstream.ResSubnet, nil),
		d.getTool("get_subnet", "Get a subnet by id", svc, upstream.ResSubnet, "Subnet id"),
		d.createTool("create_subnet", "Create a subnet in an IP space", svc, upstream.ResSubnet,
			registry.NewSchema(map[string]registry.Property{
				"address": {Type: registry.TypeCIDR, Description: "Subnet in CIDR notation, e.g. 10.1.2.0/24", Required: true},
				"space":   {Type: registry.TypeString, Description: "IP space id", Required: true},
				"name":    {Type: registry.TypeString, Description: "Subnet name"},
				"comment": {Type: registry.TypeString, Description: "Optional comment"},
			}),
			buildCIDRBody,
		),
		d.updateTool("update_subnet", "Update subnet fields", svc, upstream.ResSubnet, "Subnet id"),
		d.deleteTool("delete_subnet", "Delete a subnet", svc, upstream.ResSubnet, "Subnet id"),

		d.listTool("list_addresses", "List IP addresses, optionally filtered by subnet or state", svc, upstream.ResAddress, nil),
		d.listTool("list_ranges", "List DHCP ranges", svc, upstream.ResRange, nil),
		d.createTool("create_range", "Create a DHCP range in a subnet", svc, upstream.ResRange,
			registry.NewSchema(map[string]registry.Property{
				"start":   {Type: registry.TypeIP, Description: "First address of the range", Required: true},
				"end":     {Type: registry.TypeIP, Description: "Last address of the range", Required: true},
				"space":   {Type: registry.TypeString, Description: "IP space id", Required: true},
				"name":    {Type: registry.TypeString, Description: "Range name"},
				"comment": {Type: registry.TypeString, Description: "Optional comment"},
			}),
			func(args map[string]interface{}) interface{} { return compact(args) },
		),
		d.deleteTool("delete_range", "Delete a DHCP range", svc, upstream.ResRange, "Range id"),

		d.listTool("list_ipam_hosts", "List IPAM host records", svc, upstream.ResHost, nil),
	}

	return append(tools,
		d.getIPAddressTool(),
		d.getSubnetUtilizationTool(),
		d.allocateNextIPTool(),
	)
}

// buildCIDRBody splits the CIDR argument into the address/cidr pair the
// upstream expects.
func buildCIDRBody(args map[string]interface{}) interface{} {
	body := compact(args)
	if prefix, ok := body["address"].(string); ok {
		if addr, bits, found := splitCIDR(prefix); found {
			body["address"] = addr
			body["cidr"] = bits
		}
	}
	return body
}

func splitCIDR(prefix string) (string, int, bool) {
	for i := len(prefix) - 1; i >= 0; i-- {
		if prefix[i] == '/' {
			bits, err := strconv.Atoi(prefix[i+1:])
			if err != nil {
				return "", 0, false
			}
			return prefix[:i], bits, true
		}
	}
	return "", 0, false
}

// getIPAddressTool looks up a single address record by its literal IP.
func (d *Deps) getIPAddressTool() *registry.Tool {
	t := &registry.Tool{
		Name:        "get_ip_address",
		Description: "Look up an IP address record including state and assignments",
		Schema: registry.NewSchema(map[string]registry.Property{
			"address": {Type: registry.TypeIP, Description: "The IP address to look up", Required: true},
		}),
		ReadOnly: true,
	}
	t.Handler = func(ctx context.Context, args map[string]interface{}) (json.RawMessage, error) {
		return d.run(ctx, t, upstream.ServiceDDI, args, false, func(ctx context.Context) (json.RawMessage, error) {
			q := url.Values{}
			q.Set("_filter", `address=="`+stringArg(args, "address")+`"`)
			return d.Client.Get(ctx, upstream.ServiceDDI, upstream.ResAddress, q)
		})
	}
	return t
}

// getSubnetUtilizationTool reads only the utilization fields of a subnet.
func (d *Deps) getSubnetUtilizationTool() *registry.Tool {
	t := &registry.Tool{
		Name:        "get_subnet_utilization",
		Description: "Get address utilization statistics for a subnet",
		Schema:      idSchema("Subnet id"),
		ReadOnly:    true,
	}
	t.Handler = func(ctx context.Context, args map[string]interface{}) (json.RawMessage, error) {
		return d.run(ctx, t, upstream.ServiceDDI, args, false, func(ctx context.Context) (json.RawMessage, error) {
			q := url.Values{}
			q.Set("_fields", "address,cidr,utilization,utilization_v6,usage")
			return d.Client.Get(ctx, upstream.ServiceDDI, idPath(upstream.ResSubnet, stringArg(args, "id")), q)
		})
	}
	return t
}

// allocateNextIPTool asks the upstream for the next free addresses in a
// subnet. Allocation mutates upstream state, so no caching.
func (d *Deps) allocateNextIPTool() *registry.Tool {
	t := &registry.Tool{
		Name:        "allocate_next_ip",
		Description: "Allocate the next available IP addresses from a subnet",
		Schema: registry.NewSchema(map[string]registry.Property{
			"subnet_id":  {Type: registry.TypeString, Description: "Subnet id to allocate from", Required: true},
			"count":      {Type: registry.TypeInteger, Description: "How many addresses to allocate", Default: 1, Minimum: registry.Min(1), Maximum: registry.Max(20)},
			"contiguous": {Type: registry.TypeBoolean, Description: "Require a contiguous run of addresses", Default: false},
		}),
	}
	t.Handler = func(ctx context.Context, args map[string]interface{}) (json.RawMessage, error) {
		return d.run(ctx, t, upstream.ServiceDDI, args, false, func(ctx context.Context) (json.RawMessage, error) {
			q := url.Values{}
			q.Set("count", strconv.Itoa(intArg(args, "count")))
			q.Set("contiguous", strconv.FormatBool(boolArg(args, "contiguous")))
			path := idPath(upstream.ResSubnet, stringArg(args, "subnet_id")) + "/nextavailableip"
			return d.Client.Get(ctx, upstream.ServiceDDI, path, q)
		})
	}
	return t
}

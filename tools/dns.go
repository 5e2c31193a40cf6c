package tools

import (
	"github.com/itsneelabh/bloxgate/registry"
	"github.com/itsneelabh/bloxgate/upstream"
)

var dnsRecordTypes = []string{"A", "AAAA", "CNAME", "PTR", "TXT", "MX", "SRV", "NS", "CAA"}

func (d *Deps) dnsTools() []*registry.Tool {
	svc := upstream.ServiceDDI

	return []*registry.Tool{
		d.listTool("list_dns_views", "List DNS views", svc, upstream.ResDNSView, nil),
		d.getTool("get_dns_view", "Get a DNS view by id", svc, upstream.ResDNSView, "DNS view id"),

		d.listTool("list_auth_zones", "List authoritative DNS zones", svc, upstream.ResAuthZone, nil),
		d.getTool("get_auth_zone", "Get an authoritative zone by id", svc, upstream.ResAuthZone, "Auth zone id"),
		d.createTool("create_auth_zone", "Create an authoritative DNS zone", svc, upstream.ResAuthZone,
			registry.NewSchema(map[string]registry.Property{
				"fqdn":         {Type: registry.TypeString, Description: "Zone FQDN, e.g. example.com.", Required: true},
				"view":         {Type: registry.TypeString, Description: "DNS view id"},
				"primary_type": {Type: registry.TypeString, Description: "Where the zone is primaried", Default: "cloud", Enum: []string{"cloud", "external"}},
				"comment":      {Type: registry.TypeString, Description: "Optional comment"},
			}),
			func(args map[string]interface{}) interface{} { return compact(args) },
		),
		d.updateTool("update_auth_zone", "Update an authoritative zone", svc, upstream.ResAuthZone, "Auth zone id"),
		d.deleteTool("delete_auth_zone", "Delete an authoritative zone", svc, upstream.ResAuthZone, "Auth zone id"),

		d.listTool("list_forward_zones", "List forward DNS zones", svc, upstream.ResForwardZone, nil),
		d.createTool("create_forward_zone", "Create a forward DNS zone", svc, upstream.ResForwardZone,
			registry.NewSchema(map[string]registry.Property{
				"fqdn":       {Type: registry.TypeString, Description: "Zone FQDN", Required: true},
				"forwarders": {Type: registry.TypeArray, Description: "Forwarder server addresses", Required: true},
				"view":       {Type: registry.TypeString, Description: "DNS view id"},
				"comment":    {Type: registry.TypeString, Description: "Optional comment"},
			}),
			buildForwardZoneBody,
		),
		d.deleteTool("delete_forward_zone", "Delete a forward zone", svc, upstream.ResForwardZone, "Forward zone id"),

		d.listTool("list_dns_records", "List DNS records, optionally filtered by zone or type", svc, upstream.ResDNSRecord, nil),
		d.getTool("get_dns_record", "Get a DNS record by id", svc, upstream.ResDNSRecord, "DNS record id"),
		d.createTool("create_dns_record", "Create a DNS record of any type", svc, upstream.ResDNSRecord,
			registry.NewSchema(map[string]registry.Property{
				"name_in_zone": {Type: registry.TypeString, Description: "Record name relative to the zone", Required: true},
				"zone":         {Type: registry.TypeString, Description: "Auth zone id", Required: true},
				"type":         {Type: registry.TypeString, Description: "Record type", Required: true, Enum: dnsRecordTypes},
				"rdata":        {Type: registry.TypeObject, Description: "Type-specific record data", Required: true},
				"ttl":          {Type: registry.TypeInteger, Description: "Record TTL in seconds", Minimum: registry.Min(0)},
				"comment":      {Type: registry.TypeString, Description: "Optional comment"},
			}),
			func(args map[string]interface{}) interface{} { return compact(args) },
		),
		d.createTool("create_a_record", "Create an A record mapping a name to an IPv4 address", svc, upstream.ResDNSRecord,
			registry.NewSchema(map[string]registry.Property{
				"name_in_zone": {Type: registry.TypeString, Description: "Record name relative to the zone", Required: true},
				"zone":         {Type: registry.TypeString, Description: "Auth zone id", Required: true},
				"address":      {Type: registry.TypeIP, Description: "IPv4 address the name resolves to", Required: true},
				"ttl":          {Type: registry.TypeInteger, Description: "Record TTL in seconds", Minimum: registry.Min(0)},
				"comment":      {Type: registry.TypeString, Description: "Optional comment"},
			}),
			func(args map[string]interface{}) interface{} {
				body := compact(args)
				body["type"] = "A"
				body["rdata"] = map[string]interface{}{"address": body["address"]}
				delete(body, "address")
				return body
			},
		),
		d.createTool("create_cname_record", "Create a CNAME record aliasing one name to another", svc, upstream.ResDNSRecord,
			registry.NewSchema(map[string]registry.Property{
				"name_in_zone": {Type: registry.TypeString, Description: "Alias name relative to the zone", Required: true},
				"zone":         {Type: registry.TypeString, Description: "Auth zone id", Required: true},
				"target":       {Type: registry.TypeString, Description: "Canonical name the alias points to", Required: true},
				"ttl":          {Type: registry.TypeInteger, Description: "Record TTL in seconds", Minimum: registry.Min(0)},
				"comment":      {Type: registry.TypeString, Description: "Optional comment"},
			}),
			func(args map[string]interface{}) interface{} {
				body := compact(args)
				body["type"] = "CNAME"
				body["rdata"] = map[string]interface{}{"cname": body["target"]}
				delete(body, "target")
				return body
			},
		),
		d.updateTool("update_dns_record", "Update a DNS record", svc, upstream.ResDNSRecord, "DNS record id"),
		d.deleteTool("delete_dns_record", "Delete a DNS record", svc, upstream.ResDNSRecord, "DNS record id"),
	}
}

func buildForwardZoneBody(args map[string]interface{}) interface{} {
	body := compact(args)
	if raw, ok := body["forwarders"].([]interface{}); ok {
		hosts := make([]map[string]interface{}, 0, len(raw))
		for _, f := range raw {
			if addr, ok := f.(string); ok {
				hosts = append(hosts, map[string]interface{}{"address": addr})
			}
		}
		body["external_forwarders"] = hosts
		delete(body, "forwarders")
	}
	return body
}

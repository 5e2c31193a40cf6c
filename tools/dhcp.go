package tools

import (
	"github.com/itsneelabh/bloxgate/registry"
	"github.com/itsneelabh/bloxgate/upstream"
)

func (d *Deps) dhcpTools() []*registry.Tool {
	svc := upstream.ServiceDDI

	return []*registry.Tool{
		d.listTool("list_dhcp_hosts", "List DHCP hosts (on-prem appliances serving DHCP)", svc, upstream.ResDHCPHost, nil),
		d.getTool("get_dhcp_host", "Get a DHCP host by id", svc, upstream.ResDHCPHost, "DHCP host id"),

		d.listTool("list_fixed_addresses", "List DHCP fixed address reservations", svc, upstream.ResFixedAddress, nil),
		d.getTool("get_fixed_address", "Get a fixed address by id", svc, upstream.ResFixedAddress, "Fixed address id"),
		d.createTool("create_fixed_address", "Reserve an IP for a specific client", svc, upstream.ResFixedAddress,
			registry.NewSchema(map[string]registry.Property{
				"address":     {Type: registry.TypeIP, Description: "Address to reserve", Required: true},
				"match_type":  {Type: registry.TypeString, Description: "How the client is identified", Required: true, Enum: []string{"mac", "client_text", "client_hex", "relay_text", "relay_hex"}},
				"match_value": {Type: registry.TypeString, Description: "MAC address or client identifier", Required: true},
				"ip_space":    {Type: registry.TypeString, Description: "IP space id", Required: true},
				"name":        {Type: registry.TypeString, Description: "Reservation name"},
				"comment":     {Type: registry.TypeString, Description: "Optional comment"},
			}),
			func(args map[string]interface{}) interface{} { return compact(args) },
		),
		d.updateTool("update_fixed_address", "Update a fixed address reservation", svc, upstream.ResFixedAddress, "Fixed address id"),
		d.deleteTool("delete_fixed_address", "Delete a fixed address reservation", svc, upstream.ResFixedAddress, "Fixed address id"),

		d.listTool("list_ha_groups", "List DHCP high-availability groups", svc, upstream.ResHAGroup, nil),
		d.getTool("get_ha_group", "Get a DHCP HA group by id", svc, upstream.ResHAGroup, "HA group id"),

		d.listTool("list_option_codes", "List DHCP option codes", svc, upstream.ResOptionCode, nil),
		d.listTool("list_option_spaces", "List DHCP option spaces", svc, upstream.ResOptionSpace, nil),
		d.listTool("list_hardware_filters", "List DHCP hardware filters", svc, upstream.ResHardwareFilter, nil),
		d.listTool("list_option_filters", "List DHCP option filters", svc, upstream.ResOptionFilter, nil),
		d.listTool("list_dhcp_leases", "List active DHCP leases", svc, upstream.ResLeases, nil),
	}
}

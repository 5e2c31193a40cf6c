package tools

import (
	"context"
	"encoding/json"

	"github.com/itsneelabh/bloxgate/registry"
	"github.com/itsneelabh/bloxgate/upstream"
)

func (d *Deps) federationTools() []*registry.Tool {
	svc := upstream.ServiceDDI

	tools := []*registry.Tool{
		d.listTool("list_federated_realms", "List federated realms", svc, upstream.ResFederatedRealm, nil),
		d.getTool("get_federated_realm", "Get a federated realm by id", svc, upstream.ResFederatedRealm, "Federated realm id"),
		d.createTool("create_federated_realm", "Create a federated realm", svc, upstream.ResFederatedRealm,
			registry.NewSchema(map[string]registry.Property{
				"name":    {Type: registry.TypeString, Description: "Realm name", Required: true},
				"comment": {Type: registry.TypeString, Description: "Optional comment"},
			}),
			func(args map[string]interface{}) interface{} { return compact(args) },
		),
		d.updateTool("update_federated_realm", "Update a federated realm", svc, upstream.ResFederatedRealm, "Federated realm id"),
		d.deleteTool("delete_federated_realm", "Delete a federated realm", svc, upstream.ResFederatedRealm, "Federated realm id"),

		d.listTool("list_federated_blocks", "List federated address blocks", svc, upstream.ResFederatedBlock, nil),
		d.getTool("get_federated_block", "Get a federated block by id", svc, upstream.ResFederatedBlock, "Federated block id"),
		d.createTool("create_federated_block", "Create a federated block under a realm", svc, upstream.ResFederatedBlock,
			registry.NewSchema(map[string]registry.Property{
				"address":         {Type: registry.TypeCIDR, Description: "Block in CIDR notation", Required: true},
				"federated_realm": {Type: registry.TypeString, Description: "Federated realm id", Required: true},
				"name":            {Type: registry.TypeString, Description: "Block name"},
				"comment":         {Type: registry.TypeString, Description: "Optional comment"},
			}),
			buildCIDRBody,
		),
		d.updateTool("update_federated_block", "Update a federated block", svc, upstream.ResFederatedBlock, "Federated block id"),
		d.deleteTool("delete_federated_block", "Delete a federated block", svc, upstream.ResFederatedBlock, "Federated block id"),

		d.listTool("list_delegations", "List federation delegations", svc, upstream.ResDelegation, nil),
		d.createTool("create_delegation", "Delegate a federated block to an owner", svc, upstream.ResDelegation,
			registry.NewSchema(map[string]registry.Property{
				"delegated_object": {Type: registry.TypeString, Description: "Id of the block being delegated", Required: true},
				"owner":            {Type: registry.TypeString, Description: "Owner the block is delegated to", Required: true},
				"comment":          {Type: registry.TypeString, Description: "Optional comment"},
			}),
			func(args map[string]interface{}) interface{} { return compact(args) },
		),
		d.deleteTool("delete_delegation", "Delete a federation delegation", svc, upstream.ResDelegation, "Delegation id"),
	}

	return append(tools, d.nextAvailableFederatedBlockTool())
}

// nextAvailableFederatedBlockTool reserves address space, so it runs as a
// mutation even though the upstream verb is GET.
func (d *Deps) nextAvailableFederatedBlockTool() *registry.Tool {
	t := &registry.Tool{
		Name:        "next_available_federated_block",
		Description: "Find the next available federated block of a given size under a realm",
		Schema: registry.NewSchema(map[string]registry.Property{
			"realm_id": {Type: registry.TypeString, Description: "Federated realm id", Required: true},
			"cidr":     {Type: registry.TypeInteger, Description: "Prefix length of the requested block", Required: true, Minimum: registry.Min(1), Maximum: registry.Max(128)},
			"count":    {Type: registry.TypeInteger, Description: "How many blocks to find", Default: 1, Minimum: registry.Min(1), Maximum: registry.Max(20)},
		}),
	}
	t.Handler = func(ctx context.Context, args map[string]interface{}) (json.RawMessage, error) {
		return d.run(ctx, t, upstream.ServiceDDI, args, false, func(ctx context.Context) (json.RawMessage, error) {
			return d.Client.NextAvailableFederatedBlock(ctx, stringArg(args, "realm_id"), intArg(args, "cidr"), intArg(args, "count"))
		})
	}
	return t
}

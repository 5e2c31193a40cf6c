package tools

import (
	"github.com/itsneelabh/bloxgate/registry"
	"github.com/itsneelabh/bloxgate/upstream"
)

func (d *Deps) securityTools() []*registry.Tool {
	svc := upstream.ServiceATCFW

	return []*registry.Tool{
		d.listTool("list_security_policies", "List DNS security policies", svc, upstream.ResSecurityPolicy, nil),
		d.getTool("get_security_policy", "Get a security policy by id", svc, upstream.ResSecurityPolicy, "Security policy id"),
		d.createTool("create_security_policy", "Create a DNS security policy", svc, upstream.ResSecurityPolicy,
			registry.NewSchema(map[string]registry.Property{
				"name":        {Type: registry.TypeString, Description: "Policy name", Required: true},
				"description": {Type: registry.TypeString, Description: "Policy description"},
				"rules":       {Type: registry.TypeArray, Description: "Ordered policy rules"},
				"precedence":  {Type: registry.TypeInteger, Description: "Policy precedence", Minimum: registry.Min(0)},
			}),
			func(args map[string]interface{}) interface{} { return compact(args) },
		),
		d.updateTool("update_security_policy", "Update a security policy", svc, upstream.ResSecurityPolicy, "Security policy id"),
		d.deleteTool("delete_security_policy", "Delete a security policy", svc, upstream.ResSecurityPolicy, "Security policy id"),

		d.listTool("list_named_lists", "List custom named lists (allow/block lists)", svc, upstream.ResNamedList, nil),
		d.getTool("get_named_list", "Get a named list by id", svc, upstream.ResNamedList, "Named list id"),
		d.createTool("create_named_list", "Create a custom named list of domains", svc, upstream.ResNamedList,
			registry.NewSchema(map[string]registry.Property{
				"name":        {Type: registry.TypeString, Description: "List name", Required: true},
				"type":        {Type: registry.TypeString, Description: "List type", Default: "custom_list", Enum: []string{"custom_list"}},
				"items":       {Type: registry.TypeArray, Description: "Domains in the list"},
				"description": {Type: registry.TypeString, Description: "List description"},
			}),
			buildNamedListBody,
		),
		d.updateTool("update_named_list", "Update a named list", svc, upstream.ResNamedList, "Named list id"),
		d.deleteTool("delete_named_list", "Delete a named list", svc, upstream.ResNamedList, "Named list id"),

		d.listTool("list_content_categories", "List content filtering categories", svc, upstream.ResContentCategory, nil),
		d.listTool("list_internal_domains", "List internal domain lists (bypass filtering)", svc, upstream.ResInternalDomain, nil),
		d.listTool("list_pop_regions", "List points of presence for DNS forwarding proxies", svc, upstream.ResPoPRegion, nil),
	}
}

// buildNamedListBody expands bare domain strings into the item objects the
// upstream expects.
func buildNamedListBody(args map[string]interface{}) interface{} {
	body := compact(args)
	if raw, ok := body["items"].([]interface{}); ok {
		items := make([]map[string]interface{}, 0, len(raw))
		for _, item := range raw {
			if domain, ok := item.(string); ok {
				items = append(items, map[string]interface{}{"item": domain})
			}
		}
		body["items_described"] = items
		delete(body, "items")
	}
	return body
}

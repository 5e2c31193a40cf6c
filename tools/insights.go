package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/itsneelabh/bloxgate/registry"
	"github.com/itsneelabh/bloxgate/upstream"
)

var insightStatuses = []string{"OPEN", "IN_PROGRESS", "RESOLVED", "CLOSED", "FALSE_POSITIVE"}

func (d *Deps) insightTools() []*registry.Tool {
	svc := upstream.ServiceInsights

	tools := []*registry.Tool{
		d.getTool("get_insight", "Get a security insight with full threat context", svc, upstream.ResInsights, "Insight id"),
		d.listTool("list_analytics_insights", "List configuration analytics insights", svc, upstream.ResAnalyticsInsight, nil),
	}

	// Sub-resource readers share one shape.
	for _, sub := range []struct{ name, desc, suffix string }{
		{"get_insight_indicators", "Get threat indicators observed for an insight", "indicators"},
		{"get_insight_events", "Get DNS security events behind an insight", "events"},
		{"get_insight_assets", "Get affected assets for an insight", "assets"},
		{"get_insight_comments", "Get analyst comments on an insight", "comments"},
	} {
		tools = append(tools, d.insightSubresourceTool(sub.name, sub.desc, sub.suffix))
	}

	return append(tools, d.listInsightsTool(), d.updateInsightStatusTool())
}

func (d *Deps) listInsightsTool() *registry.Tool {
	t := &registry.Tool{
		Name:        "list_insights",
		Description: "List SOC security insights, optionally filtered by status, threat type, or priority",
		Schema: registry.NewSchema(map[string]registry.Property{
			"status":      {Type: registry.TypeString, Description: "Insight status", Enum: insightStatuses},
			"threat_type": {Type: registry.TypeString, Description: "Threat type, e.g. malware, phishing"},
			"priority":    {Type: registry.TypeString, Description: "Priority level", Enum: []string{"critical", "high", "medium", "low", "info"}},
			"limit":       {Type: registry.TypeInteger, Description: "Maximum results", Default: 100, Minimum: registry.Min(1), Maximum: registry.Max(10000)},
			"offset":      {Type: registry.TypeInteger, Description: "Results to skip", Default: 0, Minimum: registry.Min(0)},
		}),
		ReadOnly: true,
	}
	t.Handler = func(ctx context.Context, args map[string]interface{}) (json.RawMessage, error) {
		return d.run(ctx, t, upstream.ServiceInsights, args, false, func(ctx context.Context) (json.RawMessage, error) {
			q := url.Values{}
			q.Set("_limit", strconv.Itoa(intArg(args, "limit")))
			q.Set("_offset", strconv.Itoa(intArg(args, "offset")))
			for _, key := range []string{"status", "threat_type", "priority"} {
				if v := stringArg(args, key); v != "" {
					q.Set(key, v)
				}
			}
			return d.Client.Get(ctx, upstream.ServiceInsights, upstream.ResInsights, q)
		})
	}
	return t
}

func (d *Deps) insightSubresourceTool(name, desc, suffix string) *registry.Tool {
	t := &registry.Tool{
		Name:        name,
		Description: desc,
		Schema: registry.NewSchema(map[string]registry.Property{
			"insight_id": {Type: registry.TypeString, Description: "Insight id", Required: true},
			"limit":      {Type: registry.TypeInteger, Description: "Maximum results", Default: 100, Minimum: registry.Min(1), Maximum: registry.Max(10000)},
		}),
		ReadOnly: true,
	}
	t.Handler = func(ctx context.Context, args map[string]interface{}) (json.RawMessage, error) {
		return d.run(ctx, t, upstream.ServiceInsights, args, false, func(ctx context.Context) (json.RawMessage, error) {
			q := url.Values{}
			q.Set("_limit", strconv.Itoa(intArg(args, "limit")))
			path := upstream.ResInsights + "/" + stringArg(args, "insight_id") + "/" + suffix
			return d.Client.Get(ctx, upstream.ServiceInsights, path, q)
		})
	}
	return t
}

func (d *Deps) updateInsightStatusTool() *registry.Tool {
	t := &registry.Tool{
		Name:        "update_insight_status",
		Description: "Update the status of one or more security insights",
		Schema: registry.NewSchema(map[string]registry.Property{
			"insight_ids": {Type: registry.TypeArray, Description: "Insight ids to update", Required: true},
			"status":      {Type: registry.TypeString, Description: "New status", Required: true, Enum: insightStatuses},
			"comment":     {Type: registry.TypeString, Description: "Optional comment explaining the change"},
		}),
	}
	t.Handler = func(ctx context.Context, args map[string]interface{}) (json.RawMessage, error) {
		return d.run(ctx, t, upstream.ServiceInsights, args, false, func(ctx context.Context) (json.RawMessage, error) {
			body := map[string]interface{}{
				"ids":    args["insight_ids"],
				"status": stringArg(args, "status"),
			}
			if comment := stringArg(args, "comment"); comment != "" {
				body["comment"] = comment
			}
			return d.Client.Request(ctx, http.MethodPut, upstream.ServicePath(upstream.ServiceInsights, upstream.ResInsightStatus), nil, body)
		})
	}
	return t
}

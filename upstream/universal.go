package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// ConsolidatedPayload is the atomic create/update document for VPN
// infrastructure: service, endpoints, access locations, and credentials in a
// single upstream transaction.
type ConsolidatedPayload struct {
	UniversalService map[string]interface{} `json:"universal_service,omitempty"`
	Endpoints        map[string]interface{} `json:"endpoints,omitempty"`
	AccessLocations  map[string]interface{} `json:"access_locations,omitempty"`
	Credentials      map[string]interface{} `json:"credentials,omitempty"`
	Locations        map[string]interface{} `json:"locations,omitempty"`
}

// ConsolidatedConfigure posts the payload to the consolidated configure
// endpoint. The upstream answers 409 while a previous deployment is still
// settling; the resilience pipeline retries those for this call only.
func (c *Client) ConsolidatedConfigure(ctx context.Context, payload *ConsolidatedPayload) (json.RawMessage, error) {
	return c.Post(ctx, ServiceUniversal, ResConsolidated, payload)
}

// CreateCredential registers a PSK credential via the IAM API. A short UUID
// suffix keeps repeated deployments from colliding on name.
func (c *Client) CreateCredential(ctx context.Context, name, psk string, uniqueSuffix bool) (json.RawMessage, error) {
	if uniqueSuffix {
		name = fmt.Sprintf("%s-%s", name, uuid.New().String()[:6])
	}
	body := map[string]interface{}{
		"name":      name,
		"source_id": "psk",
		"key_type":  "psk",
		"key_data":  map[string]string{"psk": psk},
	}
	return c.Post(ctx, ServiceIAM, ResKeys, body)
}

// ListCredentials lists IAM keys, optionally narrowed by a case-insensitive
// name substring. The IAM API has no server-side name filter.
func (c *Client) ListCredentials(ctx context.Context, nameFilter string, limit int) (json.RawMessage, error) {
	raw, err := c.Get(ctx, ServiceIAM, ResKeys, ListQuery("", "", "", limit, 0))
	if err != nil {
		return nil, err
	}
	if nameFilter == "" {
		return raw, nil
	}
	var doc struct {
		Results []map[string]interface{} `json:"results"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return raw, nil
	}
	needle := strings.ToLower(nameFilter)
	filtered := make([]map[string]interface{}, 0, len(doc.Results))
	for _, cred := range doc.Results {
		if name, _ := cred["name"].(string); strings.Contains(strings.ToLower(name), needle) {
			filtered = append(filtered, cred)
		}
	}
	out, err := json.Marshal(map[string]interface{}{"results": filtered})
	if err != nil {
		return raw, nil
	}
	return out, nil
}

// FindOrCreateCredential reuses an existing credential with a matching name
// or creates a new one with a unique suffix.
func (c *Client) FindOrCreateCredential(ctx context.Context, name, psk string) (json.RawMessage, error) {
	existing, err := c.ListCredentials(ctx, name, 100)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Results []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"results"`
	}
	if err := json.Unmarshal(existing, &doc); err == nil && len(doc.Results) > 0 {
		return json.Marshal(map[string]interface{}{
			"id":     doc.Results[0].ID,
			"name":   doc.Results[0].Name,
			"reused": true,
		})
	}

	created, err := c.CreateCredential(ctx, name, psk, true)
	if err != nil {
		return nil, err
	}
	var createdDoc struct {
		Results struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"results"`
	}
	if err := json.Unmarshal(created, &createdDoc); err != nil {
		return created, nil
	}
	return json.Marshal(map[string]interface{}{
		"id":     createdDoc.Results.ID,
		"name":   createdDoc.Results.Name,
		"reused": false,
	})
}

// NextAvailableFederatedBlock asks the federation API for the next free block
// of the given CIDR size under a realm.
func (c *Client) NextAvailableFederatedBlock(ctx context.Context, realmID string, cidr, count int) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("cidr", fmt.Sprintf("%d", cidr))
	if count > 0 {
		q.Set("count", fmt.Sprintf("%d", count))
	}
	resource := fmt.Sprintf("%s/%s/%s", ResFederatedRealm, trimIDPrefix(realmID), ResNextAvailableSuffix)
	return c.Get(ctx, ServiceDDI, resource, q)
}

// trimIDPrefix accepts both bare IDs and full API resource IDs like
// "federation/federated_realm/abc123".
func trimIDPrefix(id string) string {
	if i := strings.LastIndex(id, "/"); i >= 0 {
		return id[i+1:]
	}
	return id
}

package epias

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Plant is an entry of the injection-quantity power plant list.
type Plant struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	EIC       string `json:"eic,omitempty"`
	ShortName string `json:"shortName,omitempty"`
}

// UEVCB is a settlement unit of an organization.
type UEVCB struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	EIC  string `json:"eic,omitempty"`
}

// Plants returns the plants that can be used as a data filter.
func (c *Client) Plants(ctx context.Context) ([]Plant, error) {
	c.logger.Info("📋 Fetching power plant list...")

	body, err := c.do(ctx, endpointPlants, http.MethodGet, c.baseURL+"/data/injection-quantity-powerplant-list", nil)
	if err != nil {
		return nil, err
	}

	var plants []Plant
	if !decodeList(body, &plants) {
		c.warnFormatMismatch(endpointPlants, body)
		return []Plant{}, nil
	}

	c.logger.Info(fmt.Sprintf("✅ %d plants found", len(plants)))
	return plants, nil
}

// UEVCBs returns the settlement units of the given organization.
func (c *Client) UEVCBs(ctx context.Context, organizationID int64) ([]UEVCB, error) {
	c.logger.Info(fmt.Sprintf("🔍 Fetching UEVCB list for organization %d...", organizationID))

	payload, err := json.Marshal(map[string]int64{"organizationId": organizationID})
	if err != nil {
		return nil, fmt.Errorf("failed to encode uevcb request: %w", err)
	}

	body, err := c.do(ctx, endpointUEVCB, http.MethodPost, c.baseURL+"/data/uevcb-list", payload)
	if err != nil {
		return nil, err
	}

	var units []UEVCB
	if !decodeList(body, &units) {
		c.warnFormatMismatch(endpointUEVCB, body)
		return []UEVCB{}, nil
	}

	c.logger.Info(fmt.Sprintf("✅ %d UEVCBs found", len(units)))
	return units, nil
}

func decodeList(body []byte, out interface{}) bool {
	env, ok := decodeEnvelope(body)
	if !ok {
		return false
	}
	return json.Unmarshal(env.items, out) == nil
}

// Package energy talks to an external formation-energy prediction service.
package energy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"gomatter/internal/errors"
	"gomatter/ports"
)

// energyPaths are the response fields accepted as the formation energy, in order
var energyPaths = []string{
	"formation_energy_per_atom",
	"energy_per_atom",
	"prediction.formation_energy_per_atom",
	"result.energy",
	"energy",
}

// Client posts structure descriptors to a prediction service
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the service at baseURL
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// PredictEnergy implements ports.EnergyPredictor
func (c *Client) PredictEnergy(ctx context.Context, sd ports.StructureDescriptor) (float64, error) {
	raw, err := json.Marshal(sd)
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(raw))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, errors.ExternalServiceError("energy", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusNotImplemented {
		return 0, fmt.Errorf("%w: http %d", ports.ErrPredictionUnavailable, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, errors.ExternalServiceError("energy", fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}
	if !gjson.ValidBytes(body) {
		return 0, fmt.Errorf("energy service returned invalid JSON")
	}
	if msg := gjson.GetBytes(body, "error"); msg.Exists() && msg.String() != "" {
		return 0, errors.ExternalServiceError("energy", fmt.Errorf("%s", msg.String()))
	}
	for _, p := range energyPaths {
		if v := gjson.GetBytes(body, p); v.Exists() && v.Type == gjson.Number {
			return v.Float(), nil
		}
	}
	return 0, fmt.Errorf("energy service response has no energy field")
}

// Unavailable is the predictor used when no service is configured
type Unavailable struct{}

// PredictEnergy always fails with ports.ErrPredictionUnavailable
func (Unavailable) PredictEnergy(context.Context, ports.StructureDescriptor) (float64, error) {
	return 0, ports.ErrPredictionUnavailable
}

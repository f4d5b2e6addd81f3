package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/fare-engine/internal/models"
)

const metersPerMile = 1609.344

// HTTPProvider talks to the routing service. Leg lookups use the service's
// OSRM-compatible route endpoint; stop changes use its delta endpoint, which
// also prices the change.
type HTTPProvider struct {
	Endpoint string
	Client   *http.Client
}

func NewHTTPProvider(endpoint string) *HTTPProvider {
	return &HTTPProvider{Endpoint: endpoint, Client: &http.Client{Timeout: 2 * time.Second}}
}

// Route queries /route/v1/driving/{lon1},{lat1};{lon2},{lat2}?overview=false
// and converts the returned meters/seconds to miles/minutes.
func (p *HTTPProvider) Route(ctx context.Context, from, to Coord) (Route, error) {
	url := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=false",
		p.Endpoint, from.Lon, from.Lat, to.Lon, to.Lat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Route{}, err
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return Route{}, err
	}
	defer resp.Body.Close()
	var out struct {
		Routes []struct {
			Distance float64 `json:"distance"` // meters
			Duration float64 `json:"duration"` // seconds
		} `json:"routes"`
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Route{}, err
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		return Route{}, fmt.Errorf("routing: no route: %v", out.Code)
	}
	return Route{
		Miles:   out.Routes[0].Distance / metersPerMile,
		Minutes: out.Routes[0].Duration / 60,
	}, nil
}

// StopChange posts the stop edit to /v1/stop-changes and returns the
// service's route delta and suggested fare adjustment.
func (p *HTTPProvider) StopChange(ctx context.Context, req StopChangeRequest) (StopChange, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return StopChange{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint+"/v1/stop-changes", bytes.NewReader(body))
	if err != nil {
		return StopChange{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return StopChange{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return StopChange{}, fmt.Errorf("routing: stop change status %d", resp.StatusCode)
	}
	var out struct {
		DeltaMiles       float64 `json:"delta_miles"`
		DeltaMinutes     float64 `json:"delta_minutes"`
		DeltaWaitMinutes float64 `json:"delta_wait_minutes"`
		SuggestedCents   int64   `json:"suggested_delta_cents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return StopChange{}, err
	}
	sc := StopChange{SuggestedCents: models.Cents(out.SuggestedCents)}
	sc.Calc.DeltaMiles = out.DeltaMiles
	sc.Calc.DeltaMinutes = out.DeltaMinutes
	sc.Calc.DeltaWaitMinutes = out.DeltaWaitMinutes
	return sc, nil
}

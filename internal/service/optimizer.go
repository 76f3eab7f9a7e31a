package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartcity/intersection-sim/internal/domain"
	"github.com/smartcity/intersection-sim/pkg/utils"
)

// Green duration bounds the backend applies, reused by the local fallback
const (
	fallbackBaseGreen = 30
	minGreenSeconds   = 15
	maxGreenSeconds   = 90
)

var ErrMalformedResponse = errors.New("optimizer: malformed response")

// Optimizer handles communication with the signal optimization backend
type Optimizer struct {
	serviceURL string
	token      string
	httpClient *http.Client
	log        *logrus.Entry
}

// NewOptimizer creates a new optimizer client. An empty serviceURL makes every
// call use the local fallback.
func NewOptimizer(serviceURL, token string) *Optimizer {
	return &Optimizer{
		serviceURL: strings.TrimRight(serviceURL, "/"),
		token:      token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: logrus.WithField("module", "optimizer"),
	}
}

// NextGreen asks the backend for the green duration of the next phase
func (o *Optimizer) NextGreen(ctx context.Context, req domain.OptimizationRequest) (domain.OptimizationResult, error) {
	if o.serviceURL == "" {
		return FallbackGreen(req), nil
	}

	body, err := json.Marshal(req)
	if err != nil {
		return domain.OptimizationResult{}, fmt.Errorf("optimizer: failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/optimization/apply", o.serviceURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return domain.OptimizationResult{}, fmt.Errorf("optimizer: failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	o.authorize(httpReq)

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		o.log.Warnf("backend unreachable, using fallback: %v", err)
		return FallbackGreen(req), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		o.log.Warnf("backend returned status %d, using fallback", resp.StatusCode)
		return FallbackGreen(req), nil
	}

	var decoded domain.OptimizationResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return domain.OptimizationResult{}, fmt.Errorf("optimizer: failed to decode response: %w", err)
	}
	if !decoded.Success {
		// no applicable rule on the backend side
		o.log.Infof("backend declined (%s), using fallback", decoded.Message)
		return FallbackGreen(req), nil
	}
	if decoded.Details == nil || decoded.Details.NewGreenDuration <= 0 {
		return domain.OptimizationResult{}, ErrMalformedResponse
	}

	return domain.OptimizationResult{
		GreenSeconds: decoded.Details.NewGreenDuration,
		Reason:       decoded.Details.Reason,
	}, nil
}

// NotifyEmergency reports a preempting vehicle to the backend
func (o *Optimizer) NotifyEmergency(ctx context.Context, kind domain.EmergencyType) error {
	if o.serviceURL == "" {
		return nil
	}
	endpoint, ok := emergencyEndpoints[kind]
	if !ok {
		return fmt.Errorf("optimizer: no endpoint for emergency %q", kind)
	}

	url := fmt.Sprintf("%s/api/emergency/test/%s", o.serviceURL, endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("optimizer: failed to create emergency request: %w", err)
	}
	o.authorize(req)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("optimizer: emergency notification failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("optimizer: emergency notification returned status %d", resp.StatusCode)
	}
	return nil
}

var emergencyEndpoints = map[domain.EmergencyType]string{
	domain.EmergencyAmbulance: "ambulance",
	domain.EmergencyFire:      "firetruck",
	domain.EmergencyPolice:    "police",
}

// Health checks backend connectivity
func (o *Optimizer) Health(ctx context.Context) error {
	if o.serviceURL == "" {
		return errors.New("optimizer: no backend configured")
	}
	url := fmt.Sprintf("%s/api/health", o.serviceURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("optimizer: failed to create health request: %w", err)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("optimizer: health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("optimizer: health check returned status %d", resp.StatusCode)
	}

	return nil
}

func (o *Optimizer) authorize(req *http.Request) {
	if o.token != "" {
		req.Header.Set("Authorization", "Bearer "+o.token)
	}
}

// FallbackGreen applies the backend's density rule locally
func FallbackGreen(req domain.OptimizationRequest) domain.OptimizationResult {
	green := fallbackBaseGreen
	switch {
	case req.VehicleCount > 40:
		green += 10
	case req.VehicleCount > 25:
		green += 5
	}
	green = utils.Clamp(green, minGreenSeconds, maxGreenSeconds)

	return domain.OptimizationResult{
		GreenSeconds: green,
		Reason:       fmt.Sprintf("local rule - %d vehicles detected on %s", req.VehicleCount, req.Direction),
		IsMock:       true,
	}
}

// Package gateway issues JSON requests against the e-commerce API gateway.
package gateway

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidMode is returned by ParseMode for unrecognised routing modes.
var ErrInvalidMode = errors.New("invalid routing mode")

// Mode selects the gateway path shape.
type Mode string

const (
	// ServicePrefix routes through /{service}/{endpoint}.
	ServicePrefix Mode = "service-prefix"
	// APIPrefix routes through /{endpoint}, as the docker profile exposes it.
	APIPrefix Mode = "api-prefix"
)

// ParseMode accepts the canonical mode names plus the aliases the gateway
// deployments use. An empty string selects ServicePrefix.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "service-prefix", "service", "service_prefix":
		return ServicePrefix, nil
	case "api-prefix", "api", "api_only", "api-only":
		return APIPrefix, nil
	}
	return "", fmt.Errorf("%w: %q (want service-prefix or api-prefix)", ErrInvalidMode, s)
}

// Router builds request paths for a routing mode.
type Router struct {
	Mode Mode
}

// Path returns the gateway path for endpoint on service.
func (r Router) Path(service, endpoint string) string {
	endpoint = strings.TrimLeft(endpoint, "/")
	if r.Mode == APIPrefix {
		return "/" + endpoint
	}
	service = strings.Trim(service, `/\`)
	return "/" + service + "/" + endpoint
}

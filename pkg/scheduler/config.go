package scheduler

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

const (
	DefaultHost = "localhost"
	DefaultPort = 5665
)

// Config is the client's endpoint configuration.
//
// Endpoint wins when set; otherwise the base URL is http://Host:Port.
type Config struct {
	Endpoint string
	Host     string
	Port     int

	// NotFoundAsError makes Get report an HTTP 404 as a KindNotFound error
	// instead of (nil, nil).
	NotFoundAsError bool

	// Policy decides what a failing undo does during rollback.
	Policy CompensationPolicy
}

// BaseURL returns the endpoint without a trailing slash.
func (c Config) BaseURL() string {
	if ep := strings.TrimSpace(c.Endpoint); ep != "" {
		if !strings.Contains(ep, "://") {
			ep = "http://" + ep
		}
		return strings.TrimRight(ep, "/")
	}
	host := strings.TrimSpace(c.Host)
	if host == "" {
		host = DefaultHost
	}
	port := c.Port
	if port <= 0 {
		port = DefaultPort
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// Validate checks the parts of the config that can be wrong.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("scheduler port out of range: %d", c.Port)
	}
	switch c.Policy {
	case BestEffort, Strict:
	default:
		return fmt.Errorf("unknown compensation policy: %d", c.Policy)
	}
	return nil
}

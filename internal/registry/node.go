package registry

import (
	"strings"
	"time"

	"github.com/datadavev/mnstatus/internal/checker"
)

// Declared node states and types.
const (
	StateUp   = "up"
	StateDown = "down"
	TypeMN    = "mn"
	TypeCN    = "cn"
)

// Service is one service a node declares.
type Service struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Available bool   `json:"available"`
}

// Node is a registered node and the results of checks run against it.
type Node struct {
	ID            string                                   `json:"identifier"`
	Name          string                                   `json:"name"`
	Description   string                                   `json:"description,omitempty"`
	BaseURL       string                                   `json:"baseURL"`
	State         string                                   `json:"state"`
	Type          string                                   `json:"type"`
	Replicate     bool                                     `json:"replicate"`
	Synchronize   bool                                     `json:"synchronize"`
	Services      []Service                                `json:"services,omitempty"`
	LastHarvested *time.Time                               `json:"lastHarvested,omitempty"`
	Status        map[checker.Category]checker.CheckResult `json:"status,omitempty"`
}

// ServiceVersion returns the highest API version (1 or 2) declared for the
// named service, or 0 when the node does not declare it.
func (n Node) ServiceVersion(service string) int {
	v := 0
	for _, s := range n.Services {
		if s.Name != service {
			continue
		}
		switch strings.ToLower(s.Version) {
		case "v1":
			v = max(v, 1)
		case "v2":
			v = max(v, 2)
		}
	}
	return v
}

// Target describes the node to the checkers.
func (n Node) Target() checker.Target {
	return checker.Target{
		NodeID:         n.ID,
		BaseURL:        n.BaseURL,
		ServiceVersion: n.ServiceVersion("MNRead"),
	}
}

func (n Node) clone() Node {
	c := n
	c.Services = append([]Service(nil), n.Services...)
	if n.LastHarvested != nil {
		t := *n.LastHarvested
		c.LastHarvested = &t
	}
	c.Status = make(map[checker.Category]checker.CheckResult, len(n.Status))
	for k, v := range n.Status {
		c.Status[k] = v
	}
	return c
}

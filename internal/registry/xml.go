package registry

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/datadavev/mnstatus/internal/timeutil"
)

type nodeListXML struct {
	XMLName xml.Name  `xml:"nodeList"`
	Nodes   []nodeXML `xml:"node"`
}

type nodeXML struct {
	Replicate   string `xml:"replicate,attr"`
	Synchronize string `xml:"synchronize,attr"`
	Type        string `xml:"type,attr"`
	State       string `xml:"state,attr"`
	Identifier  string `xml:"identifier"`
	Name        string `xml:"name"`
	Description string `xml:"description"`
	BaseURL     string `xml:"baseURL"`
	Services    []struct {
		Name      string `xml:"name,attr"`
		Version   string `xml:"version,attr"`
		Available string `xml:"available,attr"`
	} `xml:"services>service"`
	LastHarvested string `xml:"synchronization>lastHarvested"`
}

// Parse decodes a nodeList document. Nodes without an identifier are skipped.
func Parse(data []byte) ([]Node, error) {
	var doc nodeListXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding node list: %w", err)
	}
	nodes := make([]Node, 0, len(doc.Nodes))
	for _, x := range doc.Nodes {
		id := strings.TrimSpace(x.Identifier)
		if id == "" {
			continue
		}
		n := Node{
			ID:          id,
			Name:        strings.TrimSpace(x.Name),
			Description: strings.TrimSpace(x.Description),
			BaseURL:     strings.TrimSpace(x.BaseURL),
			State:       strings.ToLower(x.State),
			Type:        strings.ToLower(x.Type),
			Replicate:   x.Replicate == "true",
			Synchronize: x.Synchronize == "true",
		}
		for _, s := range x.Services {
			n.Services = append(n.Services, Service{Name: s.Name, Version: s.Version, Available: s.Available == "true"})
		}
		if v := strings.TrimSpace(x.LastHarvested); v != "" {
			if t, err := timeutil.Parse(v); err == nil {
				n.LastHarvested = &t
			}
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// Package dataonetest provides an in-process DataONE federation for tests: a
// coordinating node serving the node list, the aggregated listing and the
// search index, plus one member node endpoint per registered node.
package dataonetest

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/datadavev/mnstatus/internal/timeutil"
)

// Object is one object held by a member node.
type Object struct {
	ID       string
	SeriesID string
	FormatID string
	Modified time.Time
	Uploaded time.Time
	Size     int64
	// Malformed objects are served without a dateSysMetadataModified element.
	Malformed bool
}

// Node is a registered node.
type Node struct {
	ID      string
	Name    string
	State   string
	Type    string
	Version int
	Objects []Object
	// PingStatus overrides the ping response code (default 200).
	PingStatus int
	// PingDelay delays the ping response.
	PingDelay time.Duration
	// BaseURL replaces the advertised base URL, pointing the node at
	// another server.
	BaseURL string
}

// Server is a running fake federation.
type Server struct {
	*httptest.Server

	// PageLimit caps the records returned per listing page when > 0.
	PageLimit int

	mu       sync.Mutex
	nodes    []Node
	requests map[string]int
}

// New starts a fake federation serving nodes. Close it when done.
func New(nodes ...Node) *Server {
	s := &Server{nodes: nodes, requests: make(map[string]int)}
	r := chi.NewRouter()
	r.Get("/cn/v2/node", s.handleNodeList)
	r.Get("/cn/v2/object", s.handleCNObjects)
	r.Get("/cn/v2/query/solr/", s.handleSolr)
	r.Get("/mn/{id}/{version}/monitor/ping", s.handlePing)
	r.Get("/mn/{id}/{version}/object", s.handleMNObjects)
	s.Server = httptest.NewServer(r)
	return s
}

// RegistryURL is the coordinating node base URL.
func (s *Server) RegistryURL() string {
	return s.URL + "/cn"
}

// NodeURL is the base URL advertised for node id.
func (s *Server) NodeURL(id string) string {
	return s.URL + "/mn/" + id
}

// Requests returns how many requests hit the named route kind
// ("node", "cn.object", "solr", "ping", "mn.object").
func (s *Server) Requests(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[kind]
}

func (s *Server) count(kind string) {
	s.mu.Lock()
	s.requests[kind]++
	s.mu.Unlock()
}

func (s *Server) node(id string) (Node, bool) {
	for _, n := range s.nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

type xmlService struct {
	Name      string `xml:"name,attr"`
	Version   string `xml:"version,attr"`
	Available string `xml:"available,attr"`
}

type xmlNode struct {
	Replicate     string       `xml:"replicate,attr"`
	Synchronize   string       `xml:"synchronize,attr"`
	Type          string       `xml:"type,attr"`
	State         string       `xml:"state,attr"`
	Identifier    string       `xml:"identifier"`
	Name          string       `xml:"name"`
	Description   string       `xml:"description"`
	BaseURL       string       `xml:"baseURL"`
	Services      []xmlService `xml:"services>service"`
	LastHarvested string       `xml:"synchronization>lastHarvested,omitempty"`
}

type xmlNodeList struct {
	XMLName xml.Name  `xml:"d1:nodeList"`
	NS      string    `xml:"xmlns:d1,attr"`
	Nodes   []xmlNode `xml:"node"`
}

func (s *Server) handleNodeList(w http.ResponseWriter, r *http.Request) {
	s.count("node")
	doc := xmlNodeList{NS: "http://ns.dataone.org/service/types/v2.0"}
	for _, n := range s.nodes {
		x := xmlNode{
			Replicate:     "false",
			Synchronize:   "true",
			Type:          n.Type,
			State:         n.State,
			Identifier:    n.ID,
			Name:          n.Name,
			Description:   "test node " + n.ID,
			BaseURL:       n.BaseURL,
			LastHarvested: "2024-01-02T03:04:05.000+00:00",
		}
		if x.BaseURL == "" {
			x.BaseURL = s.NodeURL(n.ID)
		}
		for v := 1; v <= n.Version; v++ {
			x.Services = append(x.Services, xmlService{Name: "MNRead", Version: fmt.Sprintf("v%d", v), Available: "true"})
		}
		doc.Nodes = append(doc.Nodes, x)
	}
	writeXML(w, doc)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	s.count("ping")
	n, ok := s.node(chi.URLParam(r, "id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	if n.PingDelay > 0 {
		time.Sleep(n.PingDelay)
	}
	status := n.PingStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
}

func (s *Server) handleMNObjects(w http.ResponseWriter, r *http.Request) {
	s.count("mn.object")
	n, ok := s.node(chi.URLParam(r, "id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	s.writeListing(w, r, n.Objects)
}

func (s *Server) handleCNObjects(w http.ResponseWriter, r *http.Request) {
	s.count("cn.object")
	var objects []Object
	nodeID := r.URL.Query().Get("nodeId")
	for _, n := range s.nodes {
		if nodeID == "" || n.ID == nodeID {
			objects = append(objects, n.Objects...)
		}
	}
	s.writeListing(w, r, objects)
}

type xmlChecksum struct {
	Algorithm string `xml:"algorithm,attr"`
	Value     string `xml:",chardata"`
}

type xmlObjectInfo struct {
	Identifier string      `xml:"identifier"`
	FormatID   string      `xml:"formatId"`
	Checksum   xmlChecksum `xml:"checksum"`
	Modified   string      `xml:"dateSysMetadataModified,omitempty"`
	Size       int64       `xml:"size"`
}

type xmlObjectList struct {
	XMLName xml.Name        `xml:"d1:objectList"`
	NS      string          `xml:"xmlns:d1,attr"`
	Count   int             `xml:"count,attr"`
	Start   int             `xml:"start,attr"`
	Total   int             `xml:"total,attr"`
	Objects []xmlObjectInfo `xml:"objectInfo"`
}

func (s *Server) writeListing(w http.ResponseWriter, r *http.Request, objects []Object) {
	q := r.URL.Query()
	var from, to time.Time
	var err error
	if v := q.Get("fromDate"); v != "" {
		if from, err = timeutil.Parse(v); err != nil {
			http.Error(w, "bad fromDate", http.StatusBadRequest)
			return
		}
	}
	if v := q.Get("toDate"); v != "" {
		if to, err = timeutil.Parse(v); err != nil {
			http.Error(w, "bad toDate", http.StatusBadRequest)
			return
		}
	}
	start, _ := strconv.Atoi(q.Get("start"))
	count := 1000
	if v := q.Get("count"); v != "" {
		count, _ = strconv.Atoi(v)
	}
	if s.PageLimit > 0 && count > s.PageLimit {
		count = s.PageLimit
	}

	var matched []Object
	for _, o := range objects {
		if !from.IsZero() && o.Modified.Before(from) {
			continue
		}
		if !to.IsZero() && !o.Modified.Before(to) {
			continue
		}
		matched = append(matched, o)
	}

	doc := xmlObjectList{NS: "http://ns.dataone.org/service/types/v1", Start: start, Total: len(matched)}
	for i := start; i < len(matched) && i < start+count; i++ {
		o := matched[i]
		x := xmlObjectInfo{
			Identifier: o.ID,
			FormatID:   o.FormatID,
			Checksum:   xmlChecksum{Algorithm: "MD5", Value: fmt.Sprintf("%032x", i)},
			Size:       o.Size,
		}
		if x.FormatID == "" {
			x.FormatID = "text/csv"
		}
		if !o.Malformed {
			x.Modified = o.Modified.UTC().Format("2006-01-02T15:04:05.000+00:00")
		}
		doc.Objects = append(doc.Objects, x)
	}
	doc.Count = len(doc.Objects)
	writeXML(w, doc)
}

type solrDoc struct {
	ID           string `json:"id"`
	SeriesID     string `json:"series_id,omitempty"`
	FormatID     string `json:"formatId"`
	DateModified string `json:"dateModified"`
	DateUploaded string `json:"dateUploaded"`
}

func (s *Server) handleSolr(w http.ResponseWriter, r *http.Request) {
	s.count("solr")
	q := r.URL.Query()
	if q.Get("wt") != "json" {
		http.Error(w, "wt must be json", http.StatusBadRequest)
		return
	}
	nodeID := unescape(strings.TrimPrefix(q.Get("q"), "datasource:"))
	n, _ := s.node(nodeID)

	objects := append([]Object(nil), n.Objects...)
	desc := strings.HasSuffix(q.Get("sort"), " desc")
	sort.SliceStable(objects, func(i, j int) bool {
		if desc {
			return objects[i].Modified.After(objects[j].Modified)
		}
		return objects[i].Modified.Before(objects[j].Modified)
	})
	rows, err := strconv.Atoi(q.Get("rows"))
	if err != nil {
		rows = 10
	}

	docs := []solrDoc{}
	for i := 0; i < len(objects) && i < rows; i++ {
		o := objects[i]
		docs = append(docs, solrDoc{
			ID:           o.ID,
			SeriesID:     o.SeriesID,
			FormatID:     o.FormatID,
			DateModified: o.Modified.UTC().Format(time.RFC3339Nano),
			DateUploaded: o.Uploaded.UTC().Format(time.RFC3339Nano),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"responseHeader": map[string]any{"status": 0},
		"response": map[string]any{
			"numFound": len(n.Objects),
			"start":    0,
			"docs":     docs,
		},
	})
}

func unescape(term string) string {
	var b strings.Builder
	escaped := false
	for _, r := range term {
		if r == '\\' && !escaped {
			escaped = true
			continue
		}
		escaped = false
		b.WriteRune(r)
	}
	return b.String()
}

func writeXML(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "text/xml")
	w.Write([]byte(xml.Header))
	xml.NewEncoder(w).Encode(v)
}

// Package seeder generates synthetic scan event trees and writes them to the
// scan_events table, so correlation rules can be exercised without running scans.
package seeder

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"time"

	"github.com/brianvoe/gofakeit/v6"
)

// Event mirrors a scan_events row.
type Event struct {
	ID              string
	ScanID          string
	Type            string
	Data            string
	Module          string
	Created         time.Time
	Hash            string
	SourceEventHash string
}

// RootHash marks events whose parent is the scan target.
const RootHash = "ROOT"

// childTypes lists which event types a discovery module emits from a parent type.
var childTypes = map[string][]string{
	"ROOT":          {"INTERNET_NAME", "DOMAIN_NAME"},
	"DOMAIN_NAME":   {"INTERNET_NAME", "EMAILADDR", "DOMAIN_WHOIS"},
	"INTERNET_NAME": {"IP_ADDRESS", "EMAILADDR", "LINKED_URL_INTERNAL"},
	"IP_ADDRESS":    {"TCP_PORT_OPEN", "GEOINFO", "MALICIOUS_IPADDR"},
	"TCP_PORT_OPEN": {"TCP_PORT_OPEN_BANNER", "SOFTWARE_USED"},
	"SOFTWARE_USED": {"VULNERABILITY_CVE_HIGH"},
}

var modules = map[string]string{
	"INTERNET_NAME":          "sfp_dnsresolve",
	"DOMAIN_NAME":            "sfp_dnsresolve",
	"EMAILADDR":              "sfp_email",
	"DOMAIN_WHOIS":           "sfp_whois",
	"IP_ADDRESS":             "sfp_dnsresolve",
	"LINKED_URL_INTERNAL":    "sfp_spider",
	"TCP_PORT_OPEN":          "sfp_portscan_tcp",
	"GEOINFO":                "sfp_ipinfo",
	"MALICIOUS_IPADDR":       "sfp_abuseipdb",
	"TCP_PORT_OPEN_BANNER":   "sfp_portscan_tcp",
	"SOFTWARE_USED":          "sfp_tool_whatweb",
	"VULNERABILITY_CVE_HIGH": "sfp_tool_nuclei",
}

// shareable types draw from a value pool common to all scans, which is what
// workspace and global scoped rules aggregate on.
var shareable = []string{"EMAILADDR", "IP_ADDRESS", "SOFTWARE_USED"}

// Generator builds provenance trees. It is not safe for concurrent use.
type Generator struct {
	cfg    *Config
	faker  *gofakeit.Faker
	rng    *rand.Rand
	shared map[string][]string
	base   time.Time
}

func NewGenerator(cfg *Config, base time.Time) *Generator {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	g := &Generator{
		cfg:    cfg,
		faker:  gofakeit.New(seed),
		rng:    rand.New(rand.NewSource(seed)),
		shared: make(map[string][]string),
		base:   base.UTC(),
	}
	for _, typ := range shareable {
		pool := make([]string, 0, cfg.SharedValues)
		for i := 0; i < cfg.SharedValues; i++ {
			pool = append(pool, g.value(typ, ""))
		}
		g.shared[typ] = pool
	}
	return g
}

// ScanIDs returns the ids of the scans Generate will produce.
func (g *Generator) ScanIDs() []string {
	ids := make([]string, g.cfg.Scans)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s-%03d", g.cfg.ScanPrefix, i+1)
	}
	return ids
}

// Generate produces one tree per scan. Every scan starts with a single root
// event for the target domain; each further event hangs off a random earlier
// event whose type can emit children.
func (g *Generator) Generate() []Event {
	var out []Event
	for _, scanID := range g.ScanIDs() {
		out = append(out, g.generateScan(scanID)...)
	}
	return out
}

func (g *Generator) generateScan(scanID string) []Event {
	domain := g.faker.DomainName()
	events := make([]Event, 0, g.cfg.EventsPerScan)
	events = append(events, g.newEvent(scanID, "DOMAIN_NAME", domain, RootHash, 0))

	// Parents that can still produce children.
	parents := []int{0}
	for i := 1; i < g.cfg.EventsPerScan; i++ {
		p := events[parents[g.rng.Intn(len(parents))]]
		candidates := childTypes[p.Type]
		typ := candidates[g.rng.Intn(len(candidates))]

		ev := g.newEvent(scanID, typ, g.value(typ, domain), p.Hash, i)
		events = append(events, ev)
		if _, ok := childTypes[typ]; ok {
			parents = append(parents, len(events)-1)
		}
	}
	return events
}

func (g *Generator) newEvent(scanID, typ, data, parentHash string, seq int) Event {
	created := g.base
	if g.cfg.TimeSpread > 0 && g.cfg.EventsPerScan > 1 {
		step := g.cfg.TimeSpread / time.Duration(g.cfg.EventsPerScan)
		created = created.Add(step * time.Duration(seq))
	}
	id := fmt.Sprintf("%s-%06d", scanID, seq)
	return Event{
		ID:              id,
		ScanID:          scanID,
		Type:            typ,
		Data:            data,
		Module:          modules[typ],
		Created:         created,
		Hash:            eventHash(id, typ, data),
		SourceEventHash: parentHash,
	}
}

func (g *Generator) value(typ, domain string) string {
	if pool := g.shared[typ]; len(pool) > 0 && g.rng.Float64() < g.cfg.ShareRatio {
		return pool[g.rng.Intn(len(pool))]
	}
	if domain == "" {
		domain = g.faker.DomainName()
	}

	switch typ {
	case "INTERNET_NAME":
		return g.faker.DomainSuffix() + "." + domain
	case "DOMAIN_NAME":
		return domain
	case "EMAILADDR":
		return g.faker.Username() + "@" + domain
	case "DOMAIN_WHOIS":
		return fmt.Sprintf("Registrant: %s\nOrganization: %s", g.faker.Name(), g.faker.Company())
	case "IP_ADDRESS", "MALICIOUS_IPADDR":
		return g.faker.IPv4Address()
	case "LINKED_URL_INTERNAL":
		return "https://" + domain + "/" + g.faker.Word()
	case "TCP_PORT_OPEN":
		return fmt.Sprintf("%s:%d", g.faker.IPv4Address(), g.faker.Number(1, 65535))
	case "GEOINFO":
		return g.faker.City() + ", " + g.faker.Country()
	case "TCP_PORT_OPEN_BANNER":
		return g.faker.AppName() + " " + g.faker.AppVersion()
	case "SOFTWARE_USED":
		return g.faker.RandomString([]string{"nginx", "Apache", "IIS", "OpenSSH", "WordPress", "Jetty"}) + " " + g.faker.AppVersion()
	case "VULNERABILITY_CVE_HIGH":
		return fmt.Sprintf("CVE-%d-%d", g.faker.Number(2015, 2026), g.faker.Number(1000, 49999))
	default:
		return g.faker.Word()
	}
}

func eventHash(id, typ, data string) string {
	sum := sha256.Sum256([]byte(id + "\x00" + typ + "\x00" + data))
	return hex.EncodeToString(sum[:16])
}

package tool

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/dkrish7/osprey/internal/config"
	"github.com/dkrish7/osprey/internal/sandbox"
	"github.com/dkrish7/osprey/model"
)

const domainHarvestName = "domain-harvest"

type DomainHarvestResult struct {
	Domain     string   `json:"domain"`
	Hosts      []string `json:"hosts"`
	Emails     []string `json:"emails"`
	IPs        []string `json:"ips"`
	HostCount  int      `json:"hostCount"`
	EmailCount int      `json:"emailCount"`
}

var (
	harvestHostRe  = regexp.MustCompile(`(?m)^([a-z0-9][a-z0-9.-]*\.[a-z]{2,}):?(\d{1,3}(?:\.\d{1,3}){3})?\s*$`)
	harvestEmailRe = regexp.MustCompile(`(?m)^([A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,})\s*$`)
)

type harvesterReport struct {
	Hosts  []string `json:"hosts"`
	Emails []string `json:"emails"`
	IPs    []string `json:"ips"`
}

func newDomainHarvest(runner sandbox.Runner, cfg *config.SandboxConfig) Executor {
	e := &executor{
		meta: model.ToolMetadata{
			Name:             domainHarvestName,
			Category:         "infrastructure",
			Image:            "osprey/theharvester:latest",
			BaseCommand:      []string{"theHarvester", "-f", "/dev/stdout"},
			Network:          string(sandbox.NetworkBridge),
			EstimatedRuntime: 5 * time.Minute,
			RateLimit:        model.RateSpec{Max: 5, WindowMs: 3600000},
		},
		runner:   runner,
		cpuQuota: cfg.CPU_QUOTA,
		memLimit: cfg.MEMORY_LIMIT_BYTES,
	}
	e.validate = validateDomainHarvest
	e.buildArgs = func(in Input) []string {
		args := []string{"-d", in["domain"].(string)}
		if s, ok := in["sources"].(string); ok {
			args = append(args, "-b", s)
		} else {
			args = append(args, "-b", "all")
		}
		if l, ok := in["limit"].(int); ok {
			args = append(args, "-l", strconv.Itoa(l))
		}
		return args
	}
	e.parseJSON = parseHarvestJSON
	e.parseText = parseHarvestText
	return e
}

func validateDomainHarvest(raw map[string]any) (Input, error) {
	domain, err := requiredString(domainHarvestName, raw, "domain", domainRe,
		"must be a bare domain name such as example.com")
	if err != nil {
		return nil, err
	}

	in := Input{"domain": domain}

	sources, err := optionalString(domainHarvestName, raw, "sources", sourcesRe,
		"must be a comma-separated list of source names")
	if err != nil {
		return nil, err
	}
	if sources != "" {
		in["sources"] = sources
	}

	if l, ok, err := optionalInt(domainHarvestName, raw, "limit", 1, 5000); err != nil {
		return nil, err
	} else if ok {
		in["limit"] = l
	}
	return in, nil
}

func parseHarvestJSON(in Input, raw []byte) (any, error) {
	var rep harvesterReport
	if err := json.Unmarshal(raw, &rep); err != nil {
		return nil, err
	}
	out := DomainHarvestResult{
		Domain: in["domain"].(string),
		Hosts:  dedupeSorted(rep.Hosts),
		Emails: dedupeSorted(rep.Emails),
		IPs:    dedupeSorted(rep.IPs),
	}
	out.HostCount = len(out.Hosts)
	out.EmailCount = len(out.Emails)
	return out, nil
}

func parseHarvestText(in Input, raw string) (any, error) {
	out := DomainHarvestResult{Domain: in["domain"].(string)}
	for _, m := range harvestHostRe.FindAllStringSubmatch(raw, -1) {
		out.Hosts = append(out.Hosts, m[1])
		if m[2] != "" {
			out.IPs = append(out.IPs, m[2])
		}
	}
	for _, m := range harvestEmailRe.FindAllStringSubmatch(raw, -1) {
		out.Emails = append(out.Emails, m[1])
	}
	if len(out.Hosts) == 0 && len(out.Emails) == 0 {
		return nil, fmt.Errorf("no hosts or emails in output")
	}
	out.Hosts = dedupeSorted(out.Hosts)
	out.Emails = dedupeSorted(out.Emails)
	out.IPs = dedupeSorted(out.IPs)
	out.HostCount = len(out.Hosts)
	out.EmailCount = len(out.Emails)
	return out, nil
}

func dedupeSorted(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

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

const usernameSearchName = "username-search"

type SiteHit struct {
	Site  string `json:"site"`
	URL   string `json:"url"`
	Found bool   `json:"found"`
}

type UsernameSearchResult struct {
	Username   string    `json:"username"`
	TotalSites int       `json:"totalSites"`
	FoundSites int       `json:"foundSites"`
	Results    []SiteHit `json:"results"`
}

// sherlock --print-found style output: "[+] Twitter: https://twitter.com/x"
var foundSiteRe = regexp.MustCompile(`(?m)^\[\+\]\s+([A-Za-z0-9_.\- ]+?):\s+(https?://\S+)\s*$`)

type usernameSite struct {
	Status  string `json:"status"`
	URLUser string `json:"url_user"`
}

func newUsernameSearch(runner sandbox.Runner, cfg *config.SandboxConfig) Executor {
	e := &executor{
		meta: model.ToolMetadata{
			Name:             usernameSearchName,
			Category:         "social",
			Image:            "osprey/sherlock:latest",
			BaseCommand:      []string{"sherlock", "--output-json"},
			Network:          string(sandbox.NetworkBridge),
			EstimatedRuntime: 2 * time.Minute,
			RateLimit:        model.RateSpec{Max: 10, WindowMs: 3600000},
		},
		runner:   runner,
		cpuQuota: cfg.CPU_QUOTA,
		memLimit: cfg.MEMORY_LIMIT_BYTES,
	}
	e.validate = validateUsernameSearch
	e.buildArgs = func(in Input) []string {
		args := []string{}
		if t, ok := in["timeout"].(int); ok {
			args = append(args, "--timeout", strconv.Itoa(t))
		}
		if p, ok := in["proxy"].(string); ok && p != "" {
			args = append(args, "--proxy", p)
		}
		// username is positional, last
		return append(args, in["username"].(string))
	}
	e.parseJSON = parseUsernameJSON
	e.parseText = parseUsernameText
	return e
}

func validateUsernameSearch(raw map[string]any) (Input, error) {
	username, err := requiredString(usernameSearchName, raw, "username", usernameRe,
		"must be 1-64 characters of letters, digits, '.', '_' or '-'")
	if err != nil {
		return nil, err
	}

	in := Input{"username": username}

	if t, ok, err := optionalInt(usernameSearchName, raw, "timeout", 1, 3600); err != nil {
		return nil, err
	} else if ok {
		in["timeout"] = t
	}

	proxy, err := optionalString(usernameSearchName, raw, "proxy", urlRe, "must be an http(s) URL")
	if err != nil {
		return nil, err
	}
	if proxy != "" {
		in["proxy"] = proxy
	}
	return in, nil
}

func parseUsernameJSON(in Input, raw []byte) (any, error) {
	var sites map[string]map[string]usernameSite
	if err := json.Unmarshal(raw, &sites); err != nil {
		return nil, err
	}
	username := in["username"].(string)
	persite, ok := sites[username]
	if !ok {
		return nil, fmt.Errorf("no entry for username %q", username)
	}

	out := UsernameSearchResult{Username: username, TotalSites: len(persite)}
	for site, rec := range persite {
		found := rec.Status == "Claimed"
		if found {
			out.FoundSites++
		}
		out.Results = append(out.Results, SiteHit{Site: site, URL: rec.URLUser, Found: found})
	}
	sort.Slice(out.Results, func(i, j int) bool { return out.Results[i].Site < out.Results[j].Site })
	return out, nil
}

// Fallback for text-mode output. Only discovered sites are recoverable from
// the printed list, so totals equal the found count. Heuristic and
// sherlock-version-dependent; the structured path stays authoritative.
func parseUsernameText(in Input, raw string) (any, error) {
	matches := foundSiteRe.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return nil, fmt.Errorf("no discovered-site markers in output")
	}
	out := UsernameSearchResult{
		Username:   in["username"].(string),
		TotalSites: len(matches),
		FoundSites: len(matches),
	}
	for _, m := range matches {
		out.Results = append(out.Results, SiteHit{Site: m[1], URL: m[2], Found: true})
	}
	return out, nil
}

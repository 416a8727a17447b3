package tool

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/dkrish7/osprey/internal/config"
	"github.com/dkrish7/osprey/internal/sandbox"
	"github.com/dkrish7/osprey/model"
)

const emailBreachName = "email-breach"

type BreachRecord struct {
	Name       string   `json:"name"`
	Date       string   `json:"date"`
	DataTypes  []string `json:"dataTypes"`
	Verified   bool     `json:"verified"`
	PasteCount int      `json:"pasteCount,omitempty"`
}

type EmailBreachResult struct {
	Email       string         `json:"email"`
	BreachCount int            `json:"breachCount"`
	Breaches    []BreachRecord `json:"breaches"`
}

var breachLineRe = regexp.MustCompile(`(?m)^\[!\]\s+(\S+)\s+\((\d{4}-\d{2}-\d{2})\)\s*$`)

type breachReport struct {
	Breaches []struct {
		Name       string   `json:"Name"`
		BreachDate string   `json:"BreachDate"`
		DataTypes  []string `json:"DataClasses"`
		IsVerified bool     `json:"IsVerified"`
	} `json:"breaches"`
	Pastes []struct {
		Source string `json:"Source"`
	} `json:"pastes"`
}

func newEmailBreach(runner sandbox.Runner, cfg *config.SandboxConfig) Executor {
	e := &executor{
		meta: model.ToolMetadata{
			Name:             emailBreachName,
			Category:         "people",
			Image:            "osprey/h8mail:latest",
			BaseCommand:      []string{"h8mail", "--json", "/dev/stdout", "-t"},
			Network:          string(sandbox.NetworkBridge),
			EstimatedRuntime: time.Minute,
			RateLimit:        model.RateSpec{Max: 20, WindowMs: 3600000},
		},
		runner:   runner,
		cpuQuota: cfg.CPU_QUOTA,
		memLimit: cfg.MEMORY_LIMIT_BYTES,
	}
	e.validate = validateEmailBreach
	e.buildArgs = func(in Input) []string {
		args := []string{in["email"].(string)}
		if in["include_pastes"] == true {
			args = append(args, "--pastes")
		}
		return args
	}
	e.parseJSON = parseBreachJSON
	e.parseText = parseBreachText
	return e
}

func validateEmailBreach(raw map[string]any) (Input, error) {
	email, err := requiredString(emailBreachName, raw, "email", emailRe,
		"must be a valid email address")
	if err != nil {
		return nil, err
	}

	in := Input{"email": email}
	if v, ok := boolField(raw, "include_pastes"); ok {
		in["include_pastes"] = v
	}
	return in, nil
}

func parseBreachJSON(in Input, raw []byte) (any, error) {
	var rep breachReport
	if err := json.Unmarshal(raw, &rep); err != nil {
		return nil, err
	}
	out := EmailBreachResult{Email: in["email"].(string)}
	for _, b := range rep.Breaches {
		out.Breaches = append(out.Breaches, BreachRecord{
			Name:      b.Name,
			Date:      b.BreachDate,
			DataTypes: b.DataTypes,
			Verified:  b.IsVerified,
		})
	}
	if len(out.Breaches) > 0 && len(rep.Pastes) > 0 {
		out.Breaches[0].PasteCount = len(rep.Pastes)
	}
	sort.Slice(out.Breaches, func(i, j int) bool { return out.Breaches[i].Name < out.Breaches[j].Name })
	out.BreachCount = len(out.Breaches)
	return out, nil
}

func parseBreachText(in Input, raw string) (any, error) {
	matches := breachLineRe.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return nil, fmt.Errorf("no breach markers in output")
	}
	out := EmailBreachResult{Email: in["email"].(string), BreachCount: len(matches)}
	for _, m := range matches {
		out.Breaches = append(out.Breaches, BreachRecord{Name: m[1], Date: m[2]})
	}
	return out, nil
}

package tool

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dkrish7/osprey/internal/config"
	"github.com/dkrish7/osprey/internal/sandbox"
	"github.com/dkrish7/osprey/model"
)

const phoneLookupName = "phone-lookup"

type PhoneLookupResult struct {
	Number      string `json:"number"`
	Valid       bool   `json:"valid"`
	CountryCode string `json:"countryCode"`
	Location    string `json:"location"`
	Carrier     string `json:"carrier"`
	LineType    string `json:"lineType"`
}

var phoneFieldRe = regexp.MustCompile(`(?m)^\[\+\]\s+([A-Za-z ]+):\s+(.+?)\s*$`)

type phoneReport struct {
	Number      string `json:"number"`
	Valid       bool   `json:"valid"`
	CountryCode string `json:"country_code"`
	Location    string `json:"location"`
	Carrier     string `json:"carrier"`
	LineType    string `json:"line_type"`
}

// Numbering-plan metadata is bundled in the image, so the container runs
// fully offline.
func newPhoneLookup(runner sandbox.Runner, cfg *config.SandboxConfig) Executor {
	e := &executor{
		meta: model.ToolMetadata{
			Name:             phoneLookupName,
			Category:         "people",
			Image:            "osprey/phoneinfoga:latest",
			BaseCommand:      []string{"phoneinfoga", "scan", "--format", "json", "-n"},
			Network:          string(sandbox.NetworkNone),
			EstimatedRuntime: 30 * time.Second,
			RateLimit:        model.RateSpec{Max: 30, WindowMs: 3600000},
		},
		runner:   runner,
		cpuQuota: cfg.CPU_QUOTA,
		memLimit: cfg.MEMORY_LIMIT_BYTES,
	}
	e.validate = validatePhoneLookup
	e.buildArgs = func(in Input) []string {
		args := []string{in["number"].(string)}
		if c, ok := in["country"].(string); ok {
			args = append(args, "--country", c)
		}
		return args
	}
	e.parseJSON = parsePhoneJSON
	e.parseText = parsePhoneText
	return e
}

func validatePhoneLookup(raw map[string]any) (Input, error) {
	number, err := requiredString(phoneLookupName, raw, "number", phoneRe,
		"must be 7-15 digits with an optional leading +")
	if err != nil {
		return nil, err
	}

	in := Input{"number": number}

	country, err := optionalString(phoneLookupName, raw, "country", countryRe,
		"must be a two-letter country code")
	if err != nil {
		return nil, err
	}
	if country != "" {
		in["country"] = strings.ToUpper(country)
	}
	return in, nil
}

func parsePhoneJSON(in Input, raw []byte) (any, error) {
	var rep phoneReport
	if err := json.Unmarshal(raw, &rep); err != nil {
		return nil, err
	}
	number := rep.Number
	if number == "" {
		number = in["number"].(string)
	}
	return PhoneLookupResult{
		Number:      number,
		Valid:       rep.Valid,
		CountryCode: rep.CountryCode,
		Location:    rep.Location,
		Carrier:     rep.Carrier,
		LineType:    rep.LineType,
	}, nil
}

func parsePhoneText(in Input, raw string) (any, error) {
	fields := map[string]string{}
	for _, m := range phoneFieldRe.FindAllStringSubmatch(raw, -1) {
		fields[strings.ToLower(strings.TrimSpace(m[1]))] = m[2]
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("no field markers in output")
	}
	return PhoneLookupResult{
		Number:      in["number"].(string),
		Valid:       strings.EqualFold(fields["valid"], "true") || strings.EqualFold(fields["valid"], "yes"),
		CountryCode: fields["country code"],
		Location:    fields["location"],
		Carrier:     fields["carrier"],
		LineType:    fields["line type"],
	}, nil
}

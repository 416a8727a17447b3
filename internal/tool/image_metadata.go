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

const imageMetadataName = "image-metadata"

type ImageMetadataResult struct {
	Source   string            `json:"source"`
	MIMEType string            `json:"mimeType"`
	Width    int               `json:"width"`
	Height   int               `json:"height"`
	GPS      *GPSCoordinates   `json:"gps,omitempty"`
	Tags     map[string]string `json:"tags"`
}

type GPSCoordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

var exifLineRe = regexp.MustCompile(`(?m)^([A-Za-z][A-Za-z0-9 /]+?)\s*:\s*(.+?)\s*$`)

func newImageMetadata(runner sandbox.Runner, cfg *config.SandboxConfig) Executor {
	e := &executor{
		meta: model.ToolMetadata{
			Name:             imageMetadataName,
			Category:         "media",
			Image:            "osprey/exiftool:latest",
			BaseCommand:      []string{"exiftool", "-json", "-n", "-fast2"},
			Network:          string(sandbox.NetworkBridge),
			EstimatedRuntime: 30 * time.Second,
			RateLimit:        model.RateSpec{Max: 60, WindowMs: 3600000},
		},
		runner:   runner,
		cpuQuota: cfg.CPU_QUOTA,
		memLimit: cfg.MEMORY_LIMIT_BYTES,
	}
	e.validate = validateImageMetadata
	e.buildArgs = func(in Input) []string {
		return []string{in["url"].(string)}
	}
	e.parseJSON = parseExifJSON
	e.parseText = parseExifText
	return e
}

func validateImageMetadata(raw map[string]any) (Input, error) {
	url, err := requiredString(imageMetadataName, raw, "url", urlRe,
		"must be an http(s) URL")
	if err != nil {
		return nil, err
	}
	return Input{"url": url}, nil
}

// exiftool -json prints an array with one object per input file.
func parseExifJSON(in Input, raw []byte) (any, error) {
	var recs []map[string]any
	if err := json.Unmarshal(raw, &recs); err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("empty record array")
	}
	rec := recs[0]

	out := ImageMetadataResult{
		Source: in["url"].(string),
		Tags:   map[string]string{},
	}
	for k, v := range rec {
		switch k {
		case "MIMEType":
			out.MIMEType, _ = v.(string)
		case "ImageWidth":
			if f, ok := v.(float64); ok {
				out.Width = int(f)
			}
		case "ImageHeight":
			if f, ok := v.(float64); ok {
				out.Height = int(f)
			}
		case "SourceFile", "ExifToolVersion":
		default:
			out.Tags[k] = fmt.Sprint(v)
		}
	}
	lat, okLat := rec["GPSLatitude"].(float64)
	lon, okLon := rec["GPSLongitude"].(float64)
	if okLat && okLon {
		out.GPS = &GPSCoordinates{Latitude: lat, Longitude: lon}
	}
	return out, nil
}

func parseExifText(in Input, raw string) (any, error) {
	matches := exifLineRe.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return nil, fmt.Errorf("no tag lines in output")
	}
	out := ImageMetadataResult{
		Source: in["url"].(string),
		Tags:   map[string]string{},
	}
	for _, m := range matches {
		key := strings.ReplaceAll(m[1], " ", "")
		switch key {
		case "MIMEType":
			out.MIMEType = m[2]
		case "ImageWidth":
			fmt.Sscanf(m[2], "%d", &out.Width)
		case "ImageHeight":
			fmt.Sscanf(m[2], "%d", &out.Height)
		default:
			out.Tags[key] = m[2]
		}
	}
	return out, nil
}

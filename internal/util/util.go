package util

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"

	"github.com/opencontainers/runtime-spec/specs-go"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func LoadSeccomp(path string) (*specs.LinuxSeccomp, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var seccomp specs.LinuxSeccomp
	if err := json.Unmarshal(b, &seccomp); err != nil {
		return nil, err
	}
	return &seccomp, nil
}

func RecordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// HashBytes returns the hex sha256 of data, used to key archived output.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum[:])
}

func GetOutputPath(outputHash string) string {
	return fmt.Sprintf("jobs/output/%s.log", outputHash)
}

func GetJobKey(id string) string {
	return fmt.Sprintf("job:%s", id)
}

func GetRateKey(userID, scope string) string {
	return fmt.Sprintf("rate:user:%s:%s", userID, scope)
}

// Package router routes generation requests across prioritized upstream
// strategies with per-strategy model-name remapping and automatic fallback.
package router

import "fmt"

// publicEquivalents is the single authoritative remap table from internal
// or preview model identifiers to their nearest stable public equivalent.
// Names not listed here pass through unchanged.
var publicEquivalents = map[string]string{
	"gemini-3-flash-preview":              "gemini-2.5-flash",
	"gemini-3-pro-preview":                "gemini-2.5-pro",
	"gemini-2.5-pro-preview-05-06":        "gemini-2.5-pro",
	"gemini-2.5-pro-preview-06-05":        "gemini-2.5-pro",
	"gemini-2.5-flash-preview-04-17":      "gemini-2.5-flash",
	"gemini-2.5-flash-preview-05-20":      "gemini-2.5-flash",
	"gemini-2.5-flash-lite-preview-06-17": "gemini-2.5-flash-lite",
}

// resourcePathModels are the internal identifiers the Cloud Code endpoint
// only accepts in the full publisher resource-path form.
var resourcePathModels = map[string]bool{
	"gemini-3-flash-preview": true,
	"gemini-3-pro-preview":   true,
}

// PublicModelName maps model to its stable public equivalent. Unknown
// names pass through unchanged rather than guessing an equivalence.
func PublicModelName(model string) string {
	if mapped, ok := publicEquivalents[model]; ok {
		return mapped
	}
	return model
}

// InternalModelName renders model for the internal endpoint. Models that
// require it are expanded to the publisher resource-path form.
func InternalModelName(model, projectID, region string) string {
	if !resourcePathModels[model] {
		return model
	}
	return fmt.Sprintf("projects/%s/locations/%s/publishers/google/models/%s", projectID, region, model)
}

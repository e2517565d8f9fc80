package server

import "github.com/PentesterFlow/SiteAudit/internal/minify"

// AnalyzeRequest starts a scan.
type AnalyzeRequest struct {
	URL string `json:"url" example:"https://example.com"`
}

// MinifyRequest minifies one asset, or a batch when Files is set.
type MinifyRequest struct {
	Code  string        `json:"code"`
	Type  string        `json:"type" example:"css"`
	Files []minify.File `json:"files,omitempty"`
}

// MinifyResponse is the single-asset minify result.
type MinifyResponse struct {
	Minified     string  `json:"minified"`
	OriginalSize int     `json:"originalSize"`
	MinifiedSize int     `json:"minifiedSize"`
	Savings      float64 `json:"savings"`
}

// MinifyBatchResponse holds one result per submitted file, in order.
type MinifyBatchResponse struct {
	Files        []minify.Result `json:"files"`
	OriginalSize int             `json:"originalSize"`
	MinifiedSize int             `json:"minifiedSize"`
	Savings      float64         `json:"savings"`
}

// HealthResponse reports liveness.
type HealthResponse struct {
	Status      string `json:"status"`
	Uptime      string `json:"uptime"`
	ActiveScans int64  `json:"activeScans"`
}

// ErrorResponse is a uniform error payload returned by the API.
type ErrorResponse struct {
	Error string `json:"error" example:"url is required"`
}

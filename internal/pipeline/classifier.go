// internal/pipeline/classifier.go
package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Request is the transport-independent view of an incoming request that
// validators and the classifier operate on. The transport layer builds one
// per request; it is discarded when evaluation completes.
type Request struct {
	Method      string
	Path        string
	ContentType string
	Headers     map[string]string
	Body        []byte

	// CallerID identifies the caller (tenant, API key, user). It scopes
	// rate limits and cache entries.
	CallerID string
}

// Size returns the body length in bytes.
func (r *Request) Size() int64 { return int64(len(r.Body)) }

// Header returns a header value, or "" when absent.
func (r *Request) Header(name string) string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers[name]
}

// Fingerprint derives a stable content hash for cache keys.
func (r *Request) Fingerprint() string {
	h := sha256.New()
	h.Write([]byte(r.Method))
	h.Write([]byte{0})
	h.Write([]byte(r.Path))
	h.Write([]byte{0})
	h.Write([]byte(r.ContentType))
	h.Write([]byte{0})
	h.Write(r.Body)
	return hex.EncodeToString(h.Sum(nil))
}

// ContentKind is the coarse content classification used to bias ordering.
type ContentKind int

const (
	ContentUnknown ContentKind = iota
	ContentStructured
	ContentText
	ContentBinary
)

// String returns the kind name
func (k ContentKind) String() string {
	switch k {
	case ContentStructured:
		return "structured"
	case ContentText:
		return "text"
	case ContentBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// Complexity buckets request size/shape into three levels.
type Complexity int

const (
	Simple Complexity = iota
	Medium
	Complex
)

// String returns the level name
func (c Complexity) String() string {
	switch c {
	case Simple:
		return "simple"
	case Medium:
		return "medium"
	default:
		return "complex"
	}
}

// RequestProfile is the ephemeral classification of one request. It is
// built at pipeline entry, consumed by the sorter, and never persisted.
type RequestProfile struct {
	ContentKind      ContentKind
	Size             int64
	Complexity       Complexity
	RequiresAuth     bool
	EndpointCategory string
}

// CategoryRule maps a path pattern to an endpoint category. Patterns ending
// in "/*" match by prefix, everything else matches exactly.
type CategoryRule struct {
	Pattern      string `yaml:"pattern"`
	Category     string `yaml:"category"`
	RequiresAuth bool   `yaml:"requires_auth"`
}

// ClassifierThresholds sets the size boundaries between complexity levels.
type ClassifierThresholds struct {
	MediumBytes  int64 `yaml:"medium_bytes"`
	ComplexBytes int64 `yaml:"complex_bytes"`
}

// DefaultThresholds returns the standard complexity boundaries.
func DefaultThresholds() ClassifierThresholds {
	return ClassifierThresholds{
		MediumBytes:  4 * 1024,
		ComplexBytes: 256 * 1024,
	}
}

// Classifier derives a RequestProfile from a request using deterministic
// heuristics. It is a pure function over its inputs: no I/O, no suspension.
type Classifier struct {
	categories []CategoryRule
	thresholds ClassifierThresholds
}

// NewClassifier creates a classifier with the given category table.
func NewClassifier(categories []CategoryRule, thresholds ClassifierThresholds) *Classifier {
	if thresholds.MediumBytes <= 0 {
		thresholds = DefaultThresholds()
	}
	return &Classifier{categories: categories, thresholds: thresholds}
}

// Classify builds the profile for one request.
func (c *Classifier) Classify(req *Request) RequestProfile {
	p := RequestProfile{
		ContentKind: classifyContent(req.ContentType),
		Size:        req.Size(),
	}

	switch {
	case p.Size >= c.thresholds.ComplexBytes:
		p.Complexity = Complex
	case p.Size >= c.thresholds.MediumBytes:
		p.Complexity = Medium
	default:
		p.Complexity = Simple
	}

	for _, rule := range c.categories {
		if matchesPattern(rule.Pattern, req.Path) {
			p.EndpointCategory = rule.Category
			p.RequiresAuth = rule.RequiresAuth
			break
		}
	}

	if req.Header("Authorization") != "" {
		p.RequiresAuth = true
	}

	return p
}

// classifyContent maps a content-type header to a content kind. Unknown or
// missing content types classify as ContentUnknown, which the sorter treats
// as no bias.
func classifyContent(contentType string) ContentKind {
	if contentType == "" {
		return ContentUnknown
	}

	// Strip charset and other parameters
	parts := strings.Split(contentType, ";")
	ct := strings.ToLower(strings.TrimSpace(parts[0]))

	switch {
	case ct == "application/json" || ct == "application/xml" ||
		ct == "text/xml" || ct == "application/yaml" ||
		strings.HasSuffix(ct, "+json") || strings.HasSuffix(ct, "+xml"):
		return ContentStructured
	case strings.HasPrefix(ct, "text/") || ct == "application/x-www-form-urlencoded":
		return ContentText
	case strings.HasPrefix(ct, "image/") || strings.HasPrefix(ct, "audio/") ||
		strings.HasPrefix(ct, "video/") || ct == "application/octet-stream":
		return ContentBinary
	default:
		return ContentUnknown
	}
}

// matchesPattern checks if a path matches a category pattern.
func matchesPattern(pattern, path string) bool {
	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "/*")
		return strings.HasPrefix(path, prefix)
	}
	return pattern == path
}

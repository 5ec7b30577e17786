// internal/pipeline/classifier_test.go
package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifier_ContentKind(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		want        ContentKind
	}{
		{"json", "application/json", ContentStructured},
		{"json with charset", "application/json; charset=utf-8", ContentStructured},
		{"xml", "application/xml", ContentStructured},
		{"vendored json", "application/vnd.api+json", ContentStructured},
		{"plain text", "text/plain", ContentText},
		{"form", "application/x-www-form-urlencoded", ContentText},
		{"png", "image/png", ContentBinary},
		{"octet stream", "application/octet-stream", ContentBinary},
		{"missing", "", ContentUnknown},
		{"gibberish", "application/x-custom", ContentUnknown},
	}

	c := NewClassifier(nil, DefaultThresholds())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profile := c.Classify(&Request{ContentType: tt.contentType})
			assert.Equal(t, tt.want, profile.ContentKind)
		})
	}
}

func TestClassifier_Complexity(t *testing.T) {
	c := NewClassifier(nil, ClassifierThresholds{MediumBytes: 100, ComplexBytes: 1000})

	tests := []struct {
		name string
		size int
		want Complexity
	}{
		{"tiny", 10, Simple},
		{"below medium boundary", 99, Simple},
		{"at medium boundary", 100, Medium},
		{"at complex boundary", 1000, Complex},
		{"huge", 5000, Complex},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profile := c.Classify(&Request{Body: []byte(strings.Repeat("x", tt.size))})
			assert.Equal(t, tt.want, profile.Complexity)
			assert.Equal(t, int64(tt.size), profile.Size)
		})
	}
}

func TestClassifier_EndpointCategory(t *testing.T) {
	c := NewClassifier([]CategoryRule{
		{Pattern: "/admin/*", Category: "admin", RequiresAuth: true},
		{Pattern: "/healthz", Category: "infra"},
	}, DefaultThresholds())

	tests := []struct {
		path         string
		wantCategory string
		wantAuth     bool
	}{
		{"/admin/users", "admin", true},
		{"/healthz", "infra", false},
		{"/public/docs", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			profile := c.Classify(&Request{Path: tt.path})
			assert.Equal(t, tt.wantCategory, profile.EndpointCategory)
			assert.Equal(t, tt.wantAuth, profile.RequiresAuth)
		})
	}
}

func TestClassifier_AuthorizationHeaderImpliesAuth(t *testing.T) {
	c := NewClassifier(nil, DefaultThresholds())

	profile := c.Classify(&Request{
		Path:    "/public/docs",
		Headers: map[string]string{"Authorization": "Bearer abc"},
	})
	assert.True(t, profile.RequiresAuth)
}

func TestClassifier_IsDeterministic(t *testing.T) {
	c := NewClassifier([]CategoryRule{
		{Pattern: "/api/*", Category: "api"},
	}, DefaultThresholds())

	req := &Request{
		Method:      "POST",
		Path:        "/api/items",
		ContentType: "application/json",
		Body:        []byte(`{"a":1}`),
	}

	first := c.Classify(req)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, c.Classify(req))
	}
}

func TestRequest_Fingerprint(t *testing.T) {
	a := &Request{Method: "POST", Path: "/x", Body: []byte("one")}
	b := &Request{Method: "POST", Path: "/x", Body: []byte("one")}
	c := &Request{Method: "POST", Path: "/x", Body: []byte("two")}

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}

package naming

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var labelPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

func TestSanitizeSubdomain(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"simple", "acme", "acme"},
		{"mixed case with punctuation", "My Co!!", "my-co"},
		{"leading and trailing dashes", "--Foo--", "foo"},
		{"repeated separators collapse", "a   b///c", "a-b-c"},
		{"unicode folds to dash", "café corp", "caf-corp"},
		{"digits preserved", "Startup 42", "startup-42"},
		{"all punctuation", "!!!", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeSubdomain(tt.input))
		})
	}
}

func TestSanitizeSubdomainShape(t *testing.T) {
	inputs := []string{
		"My Co!!", "--Foo--", "hello world", "...", "A", "9lives",
		"tabs\tand\nnewlines", "under_score", "tréma", "-x-",
	}

	for _, in := range inputs {
		got := SanitizeSubdomain(in)
		if got == "" {
			continue
		}
		assert.Regexp(t, labelPattern, got, "input %q", in)
	}
}

func TestSanitizeSubdomainIdempotent(t *testing.T) {
	inputs := []string{"My Co!!", "--Foo--", "acme", "", "a b c", "x_y_z"}
	for _, in := range inputs {
		once := SanitizeSubdomain(in)
		assert.Equal(t, once, SanitizeSubdomain(once), "input %q", in)
	}
}

func TestProjectSlug(t *testing.T) {
	a := ProjectSlug("startup", "user-123", "run-1")
	b := ProjectSlug("startup", "user-123", "run-1")
	c := ProjectSlug("startup", "user-123", "run-2")
	d := ProjectSlug("startup", "user-456", "run-1")

	// deterministic per (tenant, run), distinct across runs and tenants
	require.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)

	assert.Regexp(t, `^startup-[0-9a-f]{8}$`, a)
}

func TestFQDN(t *testing.T) {
	assert.Equal(t, "my-co.adaptivestartup.io", FQDN("my-co", "adaptivestartup.io"))
}

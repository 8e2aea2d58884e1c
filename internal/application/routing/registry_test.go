package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"z-content-ai-api/internal/domain/entity"
	apperrors "z-content-ai-api/pkg/errors"
)

func testProvider(name string, rpm, tpm int, caps ...string) entity.Provider {
	return entity.Provider{
		Name:         name,
		APIKey:       "key-" + name,
		BaseURL:      "http://" + name + ".local/v1",
		Models:       []string{name + "-model"},
		Capabilities: caps,
		RateLimit:    entity.RateLimitPolicy{RequestsPerMinute: rpm, TokensPerMinute: tpm},
	}
}

func TestNewRegistry_Validation(t *testing.T) {
	tests := []struct {
		name      string
		providers []entity.Provider
	}{
		{"empty name", []entity.Provider{testProvider("", 1, 1, "text-generation")}},
		{"no capabilities", []entity.Provider{testProvider("a", 1, 1)}},
		{"blank capability", []entity.Provider{testProvider("a", 1, 1, "text-generation", " ")}},
		{"no models", []entity.Provider{func() entity.Provider {
			p := testProvider("a", 1, 1, "text-generation")
			p.Models = nil
			return p
		}()}},
		{"blank model", []entity.Provider{func() entity.Provider {
			p := testProvider("a", 1, 1, "text-generation")
			p.Models = []string{""}
			return p
		}()}},
		{"zero rpm", []entity.Provider{testProvider("a", 0, 1, "text-generation")}},
		{"zero tpm", []entity.Provider{testProvider("a", 1, 0, "text-generation")}},
		{"duplicate", []entity.Provider{
			testProvider("a", 1, 1, "text-generation"),
			testProvider("a", 2, 2, "code-generation"),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.providers)
			require.Error(t, err)
			assert.True(t, apperrors.Is(err, apperrors.ErrInvalidConfig))
		})
	}
}

func TestRegistry_OrderAndFilter(t *testing.T) {
	reg, err := NewRegistry([]entity.Provider{
		testProvider("first", 10, 1000, "text-generation"),
		testProvider("second", 10, 1000, "code-generation"),
		testProvider("third", 10, 1000, "text-generation", "code-generation"),
	})
	require.NoError(t, err)

	names := func(ps []entity.Provider) []string {
		out := make([]string, 0, len(ps))
		for _, p := range ps {
			out = append(out, p.Name)
		}
		return out
	}

	assert.Equal(t, []string{"first", "second", "third"}, names(reg.ListProviders()))
	assert.Equal(t, []string{"first", "third"}, names(reg.FindByCapability("text-generation")))
	assert.Equal(t, []string{"second", "third"}, names(reg.FindByCapability("code-generation")))
	assert.Empty(t, reg.FindByCapability("image-generation"))

	p, ok := reg.Get("third")
	require.True(t, ok)
	assert.Equal(t, "third-model", p.DefaultModel())
	_, ok = reg.Get("missing")
	assert.False(t, ok)
}

func TestRegistry_ReturnsCopies(t *testing.T) {
	reg, err := NewRegistry([]entity.Provider{testProvider("a", 1, 1, "text-generation")})
	require.NoError(t, err)

	list := reg.ListProviders()
	list[0].Capabilities[0] = "mutated"
	list[0].Name = "mutated"

	p, ok := reg.Get("a")
	require.True(t, ok)
	assert.Equal(t, []string{"text-generation"}, p.Capabilities)
}

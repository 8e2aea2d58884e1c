package routing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"z-content-ai-api/internal/domain/entity"
	apperrors "z-content-ai-api/pkg/errors"
)

type stubAdmission struct {
	deny    map[string]bool
	checked []string
}

func (s *stubAdmission) IsAdmissible(_ context.Context, p entity.Provider, _ int) bool {
	s.checked = append(s.checked, p.Name)
	return !s.deny[p.Name]
}

func (s *stubAdmission) Record(context.Context, entity.Provider, int) {}

func newRegistry(t *testing.T, providers ...entity.Provider) *Registry {
	t.Helper()
	reg, err := NewRegistry(providers)
	require.NoError(t, err)
	return reg
}

func TestSelector_FirstAdmissibleInRegistryOrder(t *testing.T) {
	reg := newRegistry(t,
		testProvider("code-only", 10, 1000, "code-generation"),
		testProvider("a", 10, 1000, "text-generation"),
		testProvider("b", 10, 1000, "text-generation"),
	)
	adm := &stubAdmission{deny: map[string]bool{}}
	sel := NewSelector(reg, adm)

	p, err := sel.SelectOptimalProvider(context.Background(), "text-generation", 1)
	require.NoError(t, err)
	assert.Equal(t, "a", p.Name)
	assert.Equal(t, []string{"a"}, adm.checked)
}

func TestSelector_SkipsSaturated(t *testing.T) {
	reg := newRegistry(t,
		testProvider("a", 10, 1000, "text-generation"),
		testProvider("b", 10, 1000, "text-generation"),
	)
	sel := NewSelector(reg, &stubAdmission{deny: map[string]bool{"a": true}})

	p, err := sel.SelectOptimalProvider(context.Background(), "text-generation", 1)
	require.NoError(t, err)
	assert.Equal(t, "b", p.Name)
}

func TestSelector_NoneConfigured(t *testing.T) {
	reg := newRegistry(t, testProvider("a", 10, 1000, "code-generation"))
	sel := NewSelector(reg, &stubAdmission{})

	_, err := sel.SelectOptimalProvider(context.Background(), "text-generation", 1)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrNoProviderConfigured))
	assert.Equal(t, "No available AI providers configured", err.Error())
}

func TestSelector_AllSaturated(t *testing.T) {
	reg := newRegistry(t,
		testProvider("a", 10, 1000, "text-generation"),
		testProvider("b", 10, 1000, "text-generation"),
	)
	sel := NewSelector(reg, &stubAdmission{deny: map[string]bool{"a": true, "b": true}})

	_, err := sel.SelectOptimalProvider(context.Background(), "text-generation", 1)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrAllProvidersSaturated))
	assert.False(t, apperrors.Is(err, apperrors.ErrNoProviderConfigured))
}

func TestSelector_ScorerStableTies(t *testing.T) {
	reg := newRegistry(t,
		testProvider("a", 10, 1000, "text-generation"),
		testProvider("b", 10, 1000, "text-generation"),
		testProvider("c", 10, 1000, "text-generation"),
	)
	cost := map[string]float64{"a": 2, "b": 1, "c": 1}
	sel := NewSelector(reg, &stubAdmission{}, WithScorer(func(p entity.Provider) float64 { return cost[p.Name] }))

	p, err := sel.SelectOptimalProvider(context.Background(), "text-generation", 1)
	require.NoError(t, err)
	assert.Equal(t, "b", p.Name)
}

func TestSelector_WithSlidingWindow(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	reg := newRegistry(t,
		testProvider("a", 1, 1000, "text-generation"),
		testProvider("b", 1, 1000, "text-generation"),
	)
	sel := NewSelector(reg, NewSlidingWindowAdmission(reg, WithClock(clock.Now)))

	p1, err := sel.SelectOptimalProvider(ctx, "text-generation", 10)
	require.NoError(t, err)
	p2, err := sel.SelectOptimalProvider(ctx, "text-generation", 10)
	require.NoError(t, err)
	assert.Equal(t, "a", p1.Name)
	assert.Equal(t, "b", p2.Name)

	_, err = sel.SelectOptimalProvider(ctx, "text-generation", 10)
	assert.True(t, apperrors.Is(err, apperrors.ErrAllProvidersSaturated))
}

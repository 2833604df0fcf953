package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flashmart/internal/service/promotion/domain"
)

func TestEvaluate(t *testing.T) {
	engine, err := NewCELRuleEngineAdapter()
	require.NoError(t, err)

	tests := []struct {
		name string
		rule string
		fact domain.Fact
		want bool
	}{
		{
			name: "minimum spend met",
			rule: "subtotal >= 10000",
			fact: domain.Fact{Subtotal: 15000},
			want: true,
		},
		{
			name: "minimum spend not met",
			rule: "subtotal >= 10000",
			fact: domain.Fact{Subtotal: 9999},
			want: false,
		},
		{
			name: "combined condition",
			rule: "subtotal >= 1000 && item_count <= 5",
			fact: domain.Fact{Subtotal: 2000, ItemCount: 3},
			want: true,
		},
		{
			name: "user allowlist",
			rule: "user_id in [100, 200]",
			fact: domain.Fact{UserID: 100},
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := engine.Evaluate(tt.rule, tt.fact)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateErrors(t *testing.T) {
	engine, err := NewCELRuleEngineAdapter()
	require.NoError(t, err)

	t.Run("compile error", func(t *testing.T) {
		_, err := engine.Evaluate("subtotal >=", domain.Fact{})
		assert.Error(t, err)
	})

	t.Run("non-boolean result", func(t *testing.T) {
		_, err := engine.Evaluate("subtotal + 1", domain.Fact{})
		assert.Error(t, err)
	})

	t.Run("unknown variable", func(t *testing.T) {
		_, err := engine.Evaluate("vip_level > 2", domain.Fact{})
		assert.Error(t, err)
	})
}

func TestProgramCacheReuse(t *testing.T) {
	engine, err := NewCELRuleEngineAdapter()
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		got, err := engine.Evaluate("subtotal > 100", domain.Fact{Subtotal: 200})
		require.NoError(t, err)
		assert.True(t, got)
	}
}

package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reconhawk/reconhawk-stack/correlation/internal/models"
	"github.com/reconhawk/reconhawk-stack/correlation/internal/rules"
)

func TestRegistry(t *testing.T) {
	def := NewDefaultStrategy(NewMethods(), nil)
	r := NewRegistry(def)

	s, err := r.Lookup("")
	require.NoError(t, err)
	assert.Same(t, def, s)

	s, err = r.Lookup(rules.DefaultType)
	require.NoError(t, err)
	assert.Same(t, def, s)

	_, err = r.Lookup("sequence")
	assert.ErrorIs(t, err, ErrUnknownStrategy)

	assert.Error(t, r.Register("", def))
	assert.Error(t, r.Register("x", nil))
	assert.ErrorIs(t, r.Register(rules.DefaultType, def), ErrStrategyExists)
}

func TestHooks_NilSafe(t *testing.T) {
	var h *Hooks
	ctx := context.Background()
	rule := &rules.Rule{ID: "r"}

	assert.NotPanics(t, func() {
		h.firePreRule(ctx, rule)
		h.firePostRule(ctx, rule, RuleOutcome{})
		h.FirePreAggregate(ctx, rule, nil)
		h.FirePostAggregate(ctx, rule, nil)
	})
}

func TestHooks_MultipleCallbacksRunInOrder(t *testing.T) {
	var order []int
	h := NewHooks().
		OnPreAggregate(func(context.Context, *rules.Rule, []*models.Event) { order = append(order, 1) }).
		OnPreAggregate(func(context.Context, *rules.Rule, []*models.Event) { order = append(order, 2) })

	h.FirePreAggregate(context.Background(), &rules.Rule{}, nil)
	assert.Equal(t, []int{1, 2}, order)
}

package words

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/griffonary/gameerr"
)

func TestListSource_AvoidsRecent(t *testing.T) {
	src := NewListSource([]string{"cat", "dog", "owl"}, 1)
	recent := map[string]struct{}{"cat": {}, "dog": {}}

	for i := 0; i < 20; i++ {
		w, err := src.Next(context.Background(), recent)
		require.NoError(t, err)
		assert.Equal(t, "owl", w)
	}
}

func TestListSource_FallsBackWhenAllRecent(t *testing.T) {
	src := NewListSource([]string{"cat"}, 1)
	w, err := src.Next(context.Background(), map[string]struct{}{"cat": {}})
	require.NoError(t, err)
	assert.Equal(t, "cat", w)
}

func TestListSource_Empty(t *testing.T) {
	src := NewListSource(nil, 1)
	_, err := src.Next(context.Background(), nil)
	assert.ErrorIs(t, err, gameerr.ErrNotFound)
}

func TestListSource_CancelledContext(t *testing.T) {
	src := NewListSource([]string{"cat"}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := src.Next(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoad_SkipsBlankAndDuplicates(t *testing.T) {
	src, err := Load(strings.NewReader("cat\n\n dog \nCat\n"), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, src.Len())
}

package assistant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helsingborg-stad/fai-chat/provider"
)

func TestGrounded(t *testing.T) {
	assert.False(t, Assistant{}.Grounded())
	assert.False(t, Assistant{CollectionID: "docs"}.Grounded())
	assert.False(t, Assistant{MaxCollectionResults: 5}.Grounded())
	assert.True(t, Assistant{CollectionID: "docs", MaxCollectionResults: 5}.Grounded())
}

func TestStaticLookup(t *testing.T) {
	static := Static{
		"helper": {ID: "helper", Provider: provider.KindOpenAI, Model: "gpt-4o"},
	}

	got, err := static.Get(context.Background(), "anyone", "helper")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "gpt-4o", got.Model)

	missing, err := static.Get(context.Background(), "anyone", "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

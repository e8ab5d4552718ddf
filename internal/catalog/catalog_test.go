package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/ralph/internal/research"
)

var base = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func sess(id, query string, p research.Phase, age time.Duration, tags, entities []string) *research.Session {
	return &research.Session{
		ID:        id,
		Query:     query,
		Phase:     p,
		Depth:     research.DepthStandard,
		Tags:      tags,
		Entities:  entities,
		CreatedAt: base,
		UpdatedAt: base.Add(-age),
	}
}

func fixtures() []*research.Session {
	return []*research.Session{
		sess("20240501_090000_bitcoin_etf", "Bitcoin ETF flows", research.PhaseComplete, 3*time.Hour, []string{"bitcoin", "etf"}, []string{"BlackRock"}),
		sess("20240501_100000_eth_staking", "ethereum staking yields", research.PhaseExecution, time.Hour, []string{"ethereum", "staking"}, nil),
		sess("20240501_110000_solana", "solana fees", research.PhaseFailed, 2*time.Hour, nil, []string{"Jito Labs"}),
	}
}

func open(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "data", "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func ids(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}

func TestSyncAndList(t *testing.T) {
	ctx := context.Background()
	c := open(t)
	require.NoError(t, c.Sync(ctx, fixtures()))

	all, err := c.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"20240501_100000_eth_staking", "20240501_110000_solana", "20240501_090000_bitcoin_etf"}, ids(all))

	btc := all[2]
	assert.Equal(t, "Bitcoin ETF flows", btc.Query)
	assert.Equal(t, research.PhaseComplete, btc.Phase)
	assert.Equal(t, []string{"bitcoin", "etf"}, btc.Tags)
	assert.Equal(t, []string{"BlackRock"}, btc.Entities)
	assert.True(t, btc.UpdatedAt.Equal(base.Add(-3*time.Hour)))
	assert.Nil(t, all[1].Tags)

	complete, err := c.List(ctx, Filter{Phase: research.PhaseComplete})
	require.NoError(t, err)
	assert.Equal(t, []string{"20240501_090000_bitcoin_etf"}, ids(complete))

	globbed, err := c.List(ctx, Filter{Match: "*staking*"})
	require.NoError(t, err)
	assert.Equal(t, []string{"20240501_100000_eth_staking"}, ids(globbed))

	byQuery, err := c.List(ctx, Filter{Match: "Bitcoin*"})
	require.NoError(t, err)
	assert.Equal(t, []string{"20240501_090000_bitcoin_etf"}, ids(byQuery))

	_, err = c.List(ctx, Filter{Match: "[unclosed"})
	assert.Error(t, err)
}

func TestSync_UpdatesAndPrunes(t *testing.T) {
	ctx := context.Background()
	c := open(t)
	sessions := fixtures()
	require.NoError(t, c.Sync(ctx, sessions))

	moved := sessions[1].Clone()
	moved.Phase = research.PhaseComplete
	moved.Coverage.Current = 92
	moved.UpdatedAt = base
	require.NoError(t, c.Sync(ctx, []*research.Session{sessions[0], moved}))

	all, err := c.List(ctx, Filter{})
	require.NoError(t, err)
	require.Equal(t, []string{"20240501_100000_eth_staking", "20240501_090000_bitcoin_etf"}, ids(all))
	assert.Equal(t, research.PhaseComplete, all[0].Phase)
	assert.Equal(t, 92.0, all[0].Coverage)

	require.NoError(t, c.Sync(ctx, nil))
	all, err = c.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	c := open(t)
	require.NoError(t, c.Sync(ctx, fixtures()))

	tests := []struct {
		term string
		want []string
	}{
		{"bitcoin", []string{"20240501_090000_bitcoin_etf"}},
		{"ETF", []string{"20240501_090000_bitcoin_etf"}},
		{"blackrock", []string{"20240501_090000_bitcoin_etf"}},
		{"jito", []string{"20240501_110000_solana"}},
		{"  Staking ", []string{"20240501_100000_eth_staking"}},
		{"s", []string{"20240501_100000_eth_staking", "20240501_110000_solana", "20240501_090000_bitcoin_etf"}},
		{"dogecoin", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.term, func(t *testing.T) {
			got, err := c.Search(ctx, tt.term)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))

			var inMemory []string
			for _, s := range fixtures() {
				if FromSession(s).Matches(tt.term) {
					inMemory = append(inMemory, s.ID)
				}
			}
			assert.ElementsMatch(t, tt.want, inMemory)
		})
	}
}

func TestFilter_Matcher(t *testing.T) {
	e := FromSession(fixtures()[0])

	match, err := Filter{}.Matcher()
	require.NoError(t, err)
	assert.True(t, match(e))

	match, err = Filter{Phase: research.PhaseExecution}.Matcher()
	require.NoError(t, err)
	assert.False(t, match(e))

	match, err = Filter{Match: "2024050?_*"}.Matcher()
	require.NoError(t, err)
	assert.True(t, match(e))
}

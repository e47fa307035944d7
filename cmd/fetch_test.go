package cmd

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/statement-crawler/internal/aggregator"
	"github.com/JakeFAU/statement-crawler/internal/dispatcher"
)

func TestRootRegistersFetchData(t *testing.T) {
	t.Parallel()

	root := newRootCmd(viper.New())
	sub, _, err := root.Find([]string{"fetch-data"})
	require.NoError(t, err)
	assert.Equal(t, "fetch-data", sub.Name())
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
	for _, name := range []string{"output", "workers", "state-file", "judges"} {
		assert.NotNil(t, sub.Flags().Lookup(name), name)
	}
}

func TestFetchFlagsBindToConfigKeys(t *testing.T) {
	t.Parallel()

	v := viper.New()
	cmd := newFetchCmd(v)
	require.NoError(t, cmd.Flags().Parse([]string{"--output", "data", "--workers", "3", "--state-file", "state.json", "--judges", "loj,luogu"}))

	assert.Equal(t, "data", v.GetString("output"))
	assert.Equal(t, 3, v.GetInt("workers"))
	assert.Equal(t, "state.json", v.GetString("state_file"))
	assert.Equal(t, []string{"loj", "luogu"}, v.GetStringSlice("judges"))
}

func TestFetchRequiresOutput(t *testing.T) {
	t.Chdir(t.TempDir())

	root := newRootCmd(viper.New())
	root.SetArgs([]string{"fetch-data"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})

	err := root.Execute()
	require.Error(t, err)
	assert.ErrorContains(t, err, "load config")
}

func TestFetchRejectsZeroWorkers(t *testing.T) {
	t.Chdir(t.TempDir())

	root := newRootCmd(viper.New())
	root.SetArgs([]string{"fetch-data", "--output", t.TempDir(), "--workers", "0"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})

	err := root.Execute()
	require.Error(t, err)
	assert.ErrorContains(t, err, "workers")
}

func TestRenderSummary(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	renderSummary(&buf, dispatcher.Summary{
		Snapshot: aggregator.Snapshot{
			Total:           5,
			Completed:       3,
			LedgerErrors:    1,
			FinishedWorkers: 2,
			Workers:         2,
		},
		Enqueued: 5,
		Elapsed:  1500 * time.Millisecond,
	})

	out := buf.String()
	assert.Contains(t, out, "METRIC")
	assert.Contains(t, out, "Not completed")
	assert.Contains(t, out, "2/2")
	assert.Contains(t, out, "1.5s")
}

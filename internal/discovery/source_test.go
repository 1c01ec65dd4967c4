package discovery

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	monitorerrors "updatemonitor/internal/errors"
	"updatemonitor/pkg/models"
)

const discovered = `{
  "name": "arbitrum",
  "chain": "ethereum",
  "blockNumber": 19000000,
  "contracts": [
    {
      "name": "Bridge",
      "address": "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
      "upgradeability": {
        "type": "EIP1967 proxy",
        "admin": "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
        "implementation": "0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB"
      },
      "values": {"paused": false, "owners": ["0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"]}
    }
  ],
  "eoas": ["0xD1220A0cf47c7B9Be7A2E6BA89F429762e7b9aDb"]
}`

func newTestSource(t *testing.T) (*FileSource, string) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	dir := t.TempDir()
	return NewFileSource(dir, logger), dir
}

func writeDiscovered(t *testing.T, dir, chain, project, content string) {
	t.Helper()
	path := filepath.Join(dir, chain, project, FileName)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestFileSource_Read(t *testing.T) {
	source, dir := newTestSource(t)
	writeDiscovered(t, dir, "ethereum", "arbitrum", discovered)

	output, err := source.Read(context.Background(), "ethereum", "arbitrum")
	require.NoError(t, err)

	assert.Equal(t, "arbitrum", output.Name)
	assert.Equal(t, uint64(19000000), output.BlockNumber)
	require.Len(t, output.Contracts, 1)
	contract := output.Contracts[0]
	assert.Equal(t, "Bridge", contract.Name)
	proxy, ok := contract.Upgradeability.(*models.EIP1967Proxy)
	require.True(t, ok)
	assert.Equal(t, "0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB", proxy.Implementation.Hex())
	assert.Equal(t, false, contract.Values["paused"])
	assert.Len(t, output.Eoas, 1)
}

func TestFileSource_ReadErrors(t *testing.T) {
	source, dir := newTestSource(t)

	_, err := source.Read(context.Background(), "ethereum", "missing")
	assert.True(t, errors.Is(err, monitorerrors.ErrDiscoveryNotFound))

	writeDiscovered(t, dir, "ethereum", "broken", `{"contracts": [{"name": "X", "upgradeability": {"type": "nope"}}]}`)
	_, err = source.Read(context.Background(), "ethereum", "broken")
	require.Error(t, err)
	me, ok := monitorerrors.AsMonitorError(err)
	require.True(t, ok)
	assert.Equal(t, "DISCOVERY_INVALID", me.Code)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = source.Read(ctx, "ethereum", "broken")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileSource_Projects(t *testing.T) {
	source, dir := newTestSource(t)
	writeDiscovered(t, dir, "ethereum", "optimism", discovered)
	writeDiscovered(t, dir, "ethereum", "arbitrum", discovered)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "ethereum", "empty"), 0755))

	projects, err := source.Projects("ethereum")
	require.NoError(t, err)
	assert.Equal(t, []string{"arbitrum", "optimism"}, projects)

	projects, err = source.Projects("base")
	require.NoError(t, err)
	assert.Empty(t, projects)
}

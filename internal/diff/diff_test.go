package diff

import (
	"encoding/json"
	"testing"

	"updatemonitor/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	addrA = models.MustParseAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	addrB = models.MustParseAddress("0xde0B295669a9FD93d5F28D9Ec85E40f4cb697BAe")
	addrC = models.MustParseAddress("0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359")
)

func contract(name string, addr models.Address, values map[string]any) models.ContractParameters {
	return models.ContractParameters{Name: name, Address: addr, Values: values}
}

func TestComputeDiff_Classification(t *testing.T) {
	previous := []models.ContractParameters{
		contract("foo", addrA, map[string]any{"baz": "quax"}),
		contract("bar", addrB, map[string]any{"x": 1}),
	}
	current := []models.ContractParameters{
		contract("baz", addrC, nil),
		contract("foo", addrA, map[string]any{"baz": "quox"}),
	}

	result := ComputeDiff(previous, current, nil)
	require.Len(t, result, 3)

	assert.Equal(t, "foo", result[0].Name)
	assert.Empty(t, result[0].Type)
	assert.Equal(t, []models.FieldDiff{
		{Key: models.Some("values.baz"), Before: models.Some("quax"), After: models.Some("quox")},
	}, result[0].Diff)

	assert.Equal(t, models.ContractDiff{Name: "bar", Address: addrB, Type: models.ContractDeleted}, result[1])
	assert.Equal(t, models.ContractDiff{Name: "baz", Address: addrC, Type: models.ContractCreated}, result[2])
}

func TestComputeDiff_UnchangedContractOmitted(t *testing.T) {
	records := []models.ContractParameters{
		contract("foo", addrA, map[string]any{"owners": []any{"a", "b"}, "delay": 10}),
	}
	assert.Empty(t, ComputeDiff(records, records, nil))
	assert.Empty(t, ComputeDiff(nil, nil, nil))
}

func TestComputeDiff_NestedPaths(t *testing.T) {
	previous := []models.ContractParameters{
		contract("safe", addrA, map[string]any{
			"owners":    []any{"0x1", "0x2"},
			"threshold": 1,
			"config":    map[string]any{"paused": false, "limit": 5},
		}),
	}
	current := []models.ContractParameters{
		contract("safe", addrA, map[string]any{
			"owners":    []any{"0x1", "0x3", "0x4"},
			"threshold": 2,
			"config":    map[string]any{"paused": true},
			"guardian":  map[string]any{"addr": "0x9"},
		}),
	}

	result := ComputeDiff(previous, current, nil)
	require.Len(t, result, 1)

	expected := []models.FieldDiff{
		{Key: models.Some("values.config.limit"), Before: models.Some("5")},
		{Key: models.Some("values.config.paused"), Before: models.Some("false"), After: models.Some("true")},
		{Key: models.Some("values.guardian"), After: models.Some(`{"addr":"0x9"}`)},
		{Key: models.Some("values.owners.1"), Before: models.Some("0x2"), After: models.Some("0x3")},
		{Key: models.Some("values.owners.2"), After: models.Some("0x4")},
		{Key: models.Some("values.threshold"), Before: models.Some("1"), After: models.Some("2")},
	}
	assert.Equal(t, expected, result[0].Diff)
}

func TestComputeDiff_UpgradeabilityAndName(t *testing.T) {
	previous := []models.ContractParameters{{
		Name:           "Bridge",
		Address:        addrA,
		Upgradeability: models.EIP1967Proxy{Admin: addrB, Implementation: addrC},
	}}
	current := []models.ContractParameters{{
		Name:           "BridgeV2",
		Address:        addrA,
		Upgradeability: models.EIP1967Proxy{Admin: addrB, Implementation: addrB},
	}}

	result := ComputeDiff(previous, current, nil)
	require.Len(t, result, 1)
	assert.Equal(t, "BridgeV2", result[0].Name)
	assert.Equal(t, []models.FieldDiff{
		{Key: models.Some("name"), Before: models.Some("Bridge"), After: models.Some("BridgeV2")},
		{Key: models.Some("upgradeability.implementation"), Before: models.Some(addrC.Hex()), After: models.Some(addrB.Hex())},
	}, result[0].Diff)
}

func TestComputeDiff_IgnoreInWatchMode(t *testing.T) {
	previous := []models.ContractParameters{
		contract("oracle", addrA, map[string]any{"latestAnswer": 100, "latestRound": map[string]any{"id": 1}, "owner": "0x1"}),
	}
	current := []models.ContractParameters{
		contract("oracle", addrA, map[string]any{"latestAnswer": 101, "latestRound": map[string]any{"id": 2}, "owner": "0x1"}),
	}
	opts := &Options{IgnoreInWatchMode: map[models.Address][]string{addrA: {"latestAnswer", "latestRound"}}}

	assert.Empty(t, ComputeDiff(previous, current, opts))

	current[0].Values["owner"] = "0x2"
	result := ComputeDiff(previous, current, opts)
	require.Len(t, result, 1)
	require.Len(t, result[0].Diff, 1)
	assert.Equal(t, models.Some("values.owner"), result[0].Diff[0].Key)
}

func TestComputeDiff_DoesNotMutateInputs(t *testing.T) {
	prevValues := map[string]any{"a": []any{"x"}}
	currValues := map[string]any{"a": []any{"y"}}
	previous := []models.ContractParameters{contract("foo", addrA, prevValues)}
	current := []models.ContractParameters{contract("foo", addrA, currValues)}

	before, _ := json.Marshal(previous)
	after, _ := json.Marshal(current)

	ComputeDiff(previous, current, nil)

	b2, _ := json.Marshal(previous)
	a2, _ := json.Marshal(current)
	assert.Equal(t, before, b2)
	assert.Equal(t, after, a2)
}

func TestComputeDiff_NumberTypesCompareByValue(t *testing.T) {
	previous := []models.ContractParameters{contract("foo", addrA, map[string]any{"delay": 10})}
	current := []models.ContractParameters{contract("foo", addrA, map[string]any{"delay": float64(10)})}
	assert.Empty(t, ComputeDiff(previous, current, nil))
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "plain", stringify("plain"))
	assert.Equal(t, "42", stringify(json.Number("42")))
	assert.Equal(t, "true", stringify(true))
	assert.Equal(t, "null", stringify(nil))
	assert.Equal(t, `["a",1]`, stringify([]any{"a", json.Number("1")}))
}

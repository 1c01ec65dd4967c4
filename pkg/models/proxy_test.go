package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveProxyDetails(t *testing.T) {
	tests := []struct {
		name            string
		upgradeability  Upgradeability
		implementations []Address
		relatives       []Address
	}{
		{
			name:           "immutable",
			upgradeability: Immutable{},
		},
		{
			name:            "EIP1967",
			upgradeability:  EIP1967Proxy{Admin: testAdmin, Implementation: testImpl},
			implementations: []Address{testImpl},
			relatives:       []Address{testAdmin},
		},
		{
			name:            "ZeppelinOS without admin",
			upgradeability:  ZeppelinOSProxy{Owner: &testOther, Implementation: testImpl},
			implementations: []Address{testImpl},
			relatives:       []Address{testOther},
		},
		{
			name:            "diamond facets",
			upgradeability:  EIP2535DiamondProxy{Facets: []Address{testImpl, testOther, testImpl}},
			implementations: []Address{testImpl, testOther},
		},
		{
			name: "axelar roles deduplicated",
			upgradeability: AxelarProxy{
				Admins:         []Address{testAdmin},
				Owners:         []Address{testAdmin, testOther},
				Operators:      []Address{testOther},
				Implementation: testImpl,
			},
			implementations: []Address{testImpl},
			relatives:       []Address{testAdmin, testOther},
		},
		{
			name:            "zero address ignored",
			upgradeability:  EIP1967Proxy{Implementation: testImpl},
			implementations: []Address{testImpl},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			details := DeriveProxyDetails(tt.upgradeability)
			assert.Equal(t, tt.upgradeability, details.Upgradeability)
			assert.Equal(t, tt.implementations, details.Implementations)
			assert.Equal(t, tt.relatives, details.Relatives)
		})
	}
}

func TestProxyDetails_JSON(t *testing.T) {
	details := DeriveProxyDetails(OpticsBeaconProxy{
		UpgradeBeacon:    testAdmin,
		BeaconController: testOther,
		Implementation:   testImpl,
	})

	data, err := json.Marshal(details)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"upgradeability":{"type":"Optics Beacon proxy"`)

	var decoded ProxyDetails
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, details, decoded)
}

func TestDiscoveryMeta_Lookup(t *testing.T) {
	input := `{"contracts":[
		{"name":"bar","description":"The contract getting deleted","values":{}},
		{"name":"foo","values":{"baz":{"type":"L2","description":"The foo value","severity":"LOW"}}}
	]}`

	var meta DiscoveryMeta
	require.NoError(t, json.Unmarshal([]byte(input), &meta))

	bar := meta.Contract("bar")
	require.NotNil(t, bar)
	assert.Equal(t, Some("The contract getting deleted"), bar.Description)

	foo := meta.Contract("foo")
	require.NotNil(t, foo)
	assert.True(t, foo.Description.IsAbsent())
	require.NotNil(t, foo.Value("baz"))
	assert.Equal(t, "LOW", foo.Value("baz").Severity)
	assert.Nil(t, foo.Value("missing"))

	assert.Nil(t, meta.Contract("missing"))

	var nilMeta *DiscoveryMeta
	assert.Nil(t, nilMeta.Contract("foo"))
}

func TestDiffReport_Summary(t *testing.T) {
	report := &DiffReport{
		Chain:   "ethereum",
		Project: "arbitrum",
		Diffs: []ContractDiff{
			{Name: "a", Type: ContractCreated},
			{Name: "b", Type: ContractDeleted},
			{Name: "c", Diff: []FieldDiff{{Key: Some("values.x")}}},
		},
	}

	created, deleted, modified := report.Summary()
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, deleted)
	assert.Equal(t, 1, modified)

	msg := report.ToKafkaMessage()
	assert.Equal(t, "discovery_diff", msg["type"])
	assert.Equal(t, "ethereum", msg["chain"])
	assert.Equal(t, 1, msg["modified"])
}

package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testAdmin = MustParseAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	testImpl  = MustParseAddress("0xde0B295669a9FD93d5F28D9Ec85E40f4cb697BAe")
	testOther = MustParseAddress("0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359")
)

func TestMarshalUpgradeability_TypeFirst(t *testing.T) {
	data, err := MarshalUpgradeability(EIP1967Proxy{Admin: testAdmin, Implementation: testImpl})
	require.NoError(t, err)

	expected := `{"type":"EIP1967 proxy","admin":"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed","implementation":"0xde0B295669a9FD93d5F28D9Ec85E40f4cb697BAe"}`
	assert.Equal(t, expected, string(data))
}

func TestMarshalUpgradeability_Immutable(t *testing.T) {
	data, err := MarshalUpgradeability(Immutable{})
	require.NoError(t, err)
	assert.Equal(t, `{"type":"immutable"}`, string(data))
}

func TestMarshalUpgradeability_OptionalFieldsAbsent(t *testing.T) {
	data, err := MarshalUpgradeability(ZeppelinOSProxy{Admin: &testAdmin, Implementation: testImpl})
	require.NoError(t, err)

	assert.Contains(t, string(data), `"admin"`)
	assert.NotContains(t, string(data), `"owner"`)
	assert.NotContains(t, string(data), `null`)
}

func TestUnmarshalUpgradeability_Variants(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Upgradeability
	}{
		{
			name:     "immutable",
			input:    `{"type":"immutable"}`,
			expected: Immutable{},
		},
		{
			name:  "EIP1967",
			input: `{"type":"EIP1967 proxy","admin":"0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed","implementation":"0xde0b295669a9fd93d5f28d9ec85e40f4cb697bae"}`,
			expected: EIP1967Proxy{
				Admin:          testAdmin,
				Implementation: testImpl,
			},
		},
		{
			name:  "ZeppelinOS with owner",
			input: `{"type":"ZeppelinOS proxy","owner":"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed","implementation":"0xde0B295669a9FD93d5F28D9Ec85E40f4cb697BAe"}`,
			expected: ZeppelinOSProxy{
				Owner:          &testAdmin,
				Implementation: testImpl,
			},
		},
		{
			name:  "StarkWare diamond",
			input: `{"type":"StarkWare diamond","implementation":"0xde0B295669a9FD93d5F28D9Ec85E40f4cb697BAe","upgradeDelay":604800,"isFinal":false,"facets":{"AllVerifiers":"0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"}}`,
			expected: StarkWareDiamond{
				Implementation: testImpl,
				UpgradeDelay:   604800,
				Facets:         map[string]Address{"AllVerifiers": testOther},
			},
		},
		{
			name:  "resolved delegate",
			input: `{"type":"resolved delegate proxy","addressManager":"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed","implementationName":"OVM_L1CrossDomainMessenger","implementation":"0xde0B295669a9FD93d5F28D9Ec85E40f4cb697BAe"}`,
			expected: ResolvedDelegateProxy{
				AddressManager:     testAdmin,
				ImplementationName: "OVM_L1CrossDomainMessenger",
				Implementation:     testImpl,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := UnmarshalUpgradeability([]byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, u)
			assert.Equal(t, tt.expected.Type(), u.Type())
		})
	}
}

func TestUnmarshalUpgradeability_UnknownType(t *testing.T) {
	_, err := UnmarshalUpgradeability([]byte(`{"type":"magic proxy"}`))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "magic proxy")

	_, err = UnmarshalUpgradeability([]byte(`{"admin":"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"}`))
	assert.Error(t, err)
}

func TestUpgradeability_RoundTrip(t *testing.T) {
	useConstant := true
	variants := []Upgradeability{
		GnosisSafe{MasterCopy: testImpl, Modules: []Address{testOther}},
		StarkWareProxy{Implementation: testImpl, UpgradeDelay: 0, IsFinal: true, UseConstantDelay: &useConstant},
		AxelarProxy{
			Admins:            []Address{testAdmin},
			AdminThreshold:    1,
			Owners:            []Address{testOther},
			OwnerThreshold:    1,
			Operators:         []Address{testAdmin, testOther},
			OperatorThreshold: 2,
			Implementation:    testImpl,
		},
		ZkSpaceProxy{Admin: testAdmin, Implementation: testImpl, Additional: []Address{testOther}},
	}

	for _, v := range variants {
		data, err := MarshalUpgradeability(v)
		require.NoError(t, err)

		decoded, err := UnmarshalUpgradeability(data)
		require.NoError(t, err)
		assert.Equal(t, v, decoded, string(v.Type()))
	}
}

func TestIsManualProxyType(t *testing.T) {
	assert.True(t, IsManualProxyType(TypeCallImplementationProxy))
	assert.True(t, IsManualProxyType(TypeImmutable))
	assert.False(t, IsManualProxyType(TypeEIP1967Proxy))
}

func TestContractParameters_JSON(t *testing.T) {
	input := `{
		"name": "L1StandardBridge",
		"address": "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed",
		"upgradeability": {"type": "call implementation proxy", "implementation": "0xde0B295669a9FD93d5F28D9Ec85E40f4cb697BAe"},
		"values": {"owner": "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359", "paused": false}
	}`

	var c ContractParameters
	require.NoError(t, json.Unmarshal([]byte(input), &c))

	assert.Equal(t, "L1StandardBridge", c.Name)
	assert.Equal(t, testAdmin, c.Address)
	assert.Equal(t, CallImplementationProxy{Implementation: testImpl}, c.Upgradeability)
	assert.Equal(t, false, c.Values["paused"])

	details := c.ProxyDetails()
	require.NotNil(t, details)
	assert.Equal(t, []Address{testImpl}, details.Implementations)

	out, err := json.Marshal(c)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"upgradeability":{"type":"call implementation proxy"`)
	assert.Contains(t, string(out), `"address":"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"`)
}

func TestContractParameters_NoUpgradeability(t *testing.T) {
	var c ContractParameters
	require.NoError(t, json.Unmarshal([]byte(`{"name":"Token","address":"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"}`), &c))

	assert.Nil(t, c.Upgradeability)
	assert.Nil(t, c.ProxyDetails())

	out, err := json.Marshal(c)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "upgradeability")
}

func TestContractParameters_InvalidUpgradeability(t *testing.T) {
	var c ContractParameters
	err := json.Unmarshal([]byte(`{"name":"X","address":"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed","upgradeability":{"type":"nope"}}`), &c)
	assert.Error(t, err)
}

package markdown

import (
	"strings"
	"testing"

	"updatemonitor/pkg/models"

	"github.com/stretchr/testify/assert"
)

var (
	address       = models.MustParseAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	secondAddress = models.MustParseAddress("0xde0B295669a9FD93d5F28D9Ec85E40f4cb697BAe")
)

func lines(parts ...string) string {
	return strings.Join(parts, "\n")
}

var (
	fooContractDiff = models.ContractDiff{
		Name:    "foo",
		Address: address,
		Diff: []models.FieldDiff{
			{Key: models.Some("values.baz"), Before: models.Some("quax"), After: models.Some("quox")},
		},
	}
	barContractDiff = models.ContractDiff{
		Name:    "bar",
		Address: secondAddress,
		Type:    models.ContractDeleted,
	}
	discoveryMeta = &models.DiscoveryMeta{
		Contracts: []models.ContractMeta{
			{
				Name:        "bar",
				Description: models.Some("The contract getting deleted"),
				Values:      map[string]models.ValueMeta{},
			},
			{
				Name: "foo",
				Values: map[string]models.ValueMeta{
					"baz": {Type: "L2", Description: models.Some("The foo value"), Severity: "LOW"},
				},
			},
		},
	}
	twoFieldDiff = models.ContractDiff{
		Name:    "foo",
		Address: address,
		Diff: []models.FieldDiff{
			{Key: models.Some("values.bar"), Before: models.Some("oldValue"), After: models.Some("newValue")},
			{Key: models.Some("values.baz"), Before: models.Some("bad"), After: models.Some("good")},
		},
	}
	barField = models.FieldDiff{
		Key:    models.Some("values.bar"),
		Before: models.Some("oldValue"),
		After:  models.Some("newValue"),
	}
)

func TestDiscoveryDiffToMarkdown_MultiContractWithMeta(t *testing.T) {
	result := DiscoveryDiffToMarkdown([]models.ContractDiff{fooContractDiff, barContractDiff}, discoveryMeta, NoLimit)

	expected := lines(
		"```diff",
		"    contract foo ("+address.String()+") {",
		"    +++ description: None",
		"+++ description: The foo value",
		"+++ type: L2",
		"+++ severity: LOW",
		"      values.baz:",
		"-        quax",
		"+        quox",
		"    }",
		"```",
		"",
		"```diff",
		"-   Status: DELETED",
		"    contract bar ("+secondAddress.String()+")",
		"    +++ description: The contract getting deleted",
		"```",
	)
	assert.Equal(t, expected, result)
}

func TestDiscoveryDiffToMarkdown_TruncatingMultipleContracts(t *testing.T) {
	maxLength := 128
	result := DiscoveryDiffToMarkdown([]models.ContractDiff{fooContractDiff, barContractDiff}, discoveryMeta, maxLength)

	assert.LessOrEqual(t, len(result), maxLength)
	assert.Equal(t, lines(
		"```diff",
		"    contract foo ("+address.String()+") {",
		"    +++ description: None",
		"++... (message too long)",
		"```",
	), result)
	assert.NotContains(t, result, "bar")
}

func TestDiscoveryDiffToMarkdown_TruncatingSingleContract(t *testing.T) {
	maxLength := 48
	result := DiscoveryDiffToMarkdown([]models.ContractDiff{fooContractDiff}, discoveryMeta, maxLength)

	assert.LessOrEqual(t, len(result), maxLength)
	assert.Equal(t, lines("```diff", "    contract f... (message too long)", "```"), result)
}

func TestDiscoveryDiffToMarkdown_NoMeta(t *testing.T) {
	result := DiscoveryDiffToMarkdown([]models.ContractDiff{fooContractDiff, barContractDiff}, nil, NoLimit)

	expected := lines(
		"```diff",
		"    contract foo ("+address.String()+") {",
		"    +++ description: None",
		"      values.baz:",
		"-        quax",
		"+        quox",
		"    }",
		"```",
		"",
		"```diff",
		"-   Status: DELETED",
		"    contract bar ("+secondAddress.String()+")",
		"    +++ description: None",
		"```",
	)
	assert.Equal(t, expected, result)
	assert.NotContains(t, result, "+++ type")
}

func TestDiscoveryDiffToMarkdown_SingleContractNoMeta(t *testing.T) {
	result := DiscoveryDiffToMarkdown([]models.ContractDiff{fooContractDiff}, nil, NoLimit)

	assert.Equal(t, lines(
		"```diff",
		"    contract foo ("+address.String()+") {",
		"    +++ description: None",
		"      values.baz:",
		"-        quax",
		"+        quox",
		"    }",
		"```",
	), result)
}

func TestDiscoveryDiffToMarkdown_Empty(t *testing.T) {
	assert.Equal(t, "", DiscoveryDiffToMarkdown(nil, nil, NoLimit))
	assert.Equal(t, "", DiscoveryDiffToMarkdown([]models.ContractDiff{}, discoveryMeta, 10))
	assert.Equal(t, "", DiscoveryDiffToMarkdown(nil, discoveryMeta, 0))
}

func TestDiscoveryDiffToMarkdown_WholeBlocksFitBeforeBoundary(t *testing.T) {
	full := DiscoveryDiffToMarkdown([]models.ContractDiff{barContractDiff, fooContractDiff}, discoveryMeta, NoLimit)
	barBlock := ContractDiffToMarkdown(barContractDiff, discoveryMeta.Contract("bar"), NoLimit)

	// bar 完整放入，foo 被截断
	maxLength := len(barBlock) + 2 + 60
	result := DiscoveryDiffToMarkdown([]models.ContractDiff{barContractDiff, fooContractDiff}, discoveryMeta, maxLength)

	assert.LessOrEqual(t, len(result), maxLength)
	assert.True(t, strings.HasPrefix(result, barBlock+"\n\n```diff\n"))
	assert.True(t, strings.HasSuffix(result, OverflowSuffix+"\n```"))
	assert.NotEqual(t, full, result)
}

func TestDiscoveryDiffToMarkdown_BoundaryTooSmallIsDropped(t *testing.T) {
	barBlock := ContractDiffToMarkdown(barContractDiff, discoveryMeta.Contract("bar"), NoLimit)

	// foo 的截断形式也放不下时只保留 bar
	maxLength := len(barBlock) + 2 + 20
	result := DiscoveryDiffToMarkdown([]models.ContractDiff{barContractDiff, fooContractDiff}, discoveryMeta, maxLength)

	assert.Equal(t, barBlock, result)
}

func TestDiscoveryDiffToMarkdown_NeverExceedsBudget(t *testing.T) {
	diffs := []models.ContractDiff{fooContractDiff, barContractDiff, twoFieldDiff}
	for maxLength := 0; maxLength <= 600; maxLength++ {
		result := DiscoveryDiffToMarkdown(diffs, discoveryMeta, maxLength)
		assert.LessOrEqual(t, len(result), maxLength, "maxLength=%d", maxLength)
	}
}

func TestContractDiffToMarkdown_Created(t *testing.T) {
	result := ContractDiffToMarkdown(models.ContractDiff{Name: "foo", Address: address, Type: models.ContractCreated}, nil, NoLimit)

	assert.Equal(t, lines(
		"```diff",
		"+   Status: CREATED",
		"    contract foo ("+address.String()+")",
		"    +++ description: None",
		"```",
	), result)
}

func TestContractDiffToMarkdown_Deleted(t *testing.T) {
	result := ContractDiffToMarkdown(models.ContractDiff{Name: "foo", Address: address, Type: models.ContractDeleted}, nil, NoLimit)

	assert.Equal(t, lines(
		"```diff",
		"-   Status: DELETED",
		"    contract foo ("+address.String()+")",
		"    +++ description: None",
		"```",
	), result)
}

func TestContractDiffToMarkdown_KnownDiffNoMeta(t *testing.T) {
	result := ContractDiffToMarkdown(twoFieldDiff, nil, NoLimit)

	assert.Equal(t, lines(
		"```diff",
		"    contract foo ("+address.String()+") {",
		"    +++ description: None",
		"      values.bar:",
		"-        oldValue",
		"+        newValue",
		"      values.baz:",
		"-        bad",
		"+        good",
		"    }",
		"```",
	), result)
}

func TestContractDiffToMarkdown_Truncating(t *testing.T) {
	maxLength := 48
	result := ContractDiffToMarkdown(twoFieldDiff, nil, maxLength)

	assert.LessOrEqual(t, len(result), maxLength)
	assert.Equal(t, lines("```diff", "    contract f... (message too long)", "```"), result)
}

func TestContractDiffToMarkdown_KnownDiffWithMeta(t *testing.T) {
	meta := &models.ContractMeta{
		Name:        "foo",
		Description: models.Some("The foo contract"),
		Values: map[string]models.ValueMeta{
			"baz": {Type: "L2", Description: models.Some("The baz value"), Severity: "LOW"},
		},
	}

	result := ContractDiffToMarkdown(twoFieldDiff, meta, NoLimit)

	assert.Equal(t, lines(
		"```diff",
		"    contract foo ("+address.String()+") {",
		"    +++ description: The foo contract",
		"      values.bar:",
		"-        oldValue",
		"+        newValue",
		"+++ description: The baz value",
		"+++ type: L2",
		"+++ severity: LOW",
		"      values.baz:",
		"-        bad",
		"+        good",
		"    }",
		"```",
	), result)
}

func TestContractDiffToMarkdown_NullDescriptionRendersNone(t *testing.T) {
	meta := &models.ContractMeta{Name: "foo", Description: models.Null()}
	result := ContractDiffToMarkdown(models.ContractDiff{Name: "foo", Address: address, Type: models.ContractCreated}, meta, NoLimit)

	assert.Contains(t, result, "    +++ description: None")
}

func TestContractDiffToMarkdown_TooSmallForMarker(t *testing.T) {
	assert.Equal(t, "", ContractDiffToMarkdown(twoFieldDiff, nil, 20))
	assert.Equal(t, "", ContractDiffToMarkdown(twoFieldDiff, nil, 0))
	assert.Equal(t, "```diff\n"+OverflowSuffix+"\n```", ContractDiffToMarkdown(twoFieldDiff, nil, 34))
}

func TestFieldDiffToMarkdown_FullNoMeta(t *testing.T) {
	assert.Equal(t, lines(
		"      values.bar:",
		"-        oldValue",
		"+        newValue",
	), FieldDiffToMarkdown(barField, nil, NoLimit))
}

func TestFieldDiffToMarkdown_KeyUnset(t *testing.T) {
	diff := models.FieldDiff{Before: models.Some("oldValue"), After: models.Some("newValue")}

	assert.Equal(t, lines(
		"      unknown:",
		"-        oldValue",
		"+        newValue",
	), FieldDiffToMarkdown(diff, nil, NoLimit))
}

func TestFieldDiffToMarkdown_BeforeUnset(t *testing.T) {
	diff := models.FieldDiff{Key: models.Some("values.bar"), After: models.Some("newValue")}

	assert.Equal(t, lines(
		"      values.bar:",
		"+        newValue",
	), FieldDiffToMarkdown(diff, nil, NoLimit))
}

func TestFieldDiffToMarkdown_AfterUnset(t *testing.T) {
	diff := models.FieldDiff{Key: models.Some("values.bar"), Before: models.Some("oldValue")}

	assert.Equal(t, lines(
		"      values.bar:",
		"-        oldValue",
	), FieldDiffToMarkdown(diff, nil, NoLimit))
}

func TestFieldDiffToMarkdown_TruncatingNoMeta(t *testing.T) {
	maxLength := 32
	result := FieldDiffToMarkdown(barField, nil, maxLength)

	assert.Equal(t, "      valu... (message too long)", result)
	assert.Len(t, result, maxLength)
}

func TestFieldDiffToMarkdown_AllMeta(t *testing.T) {
	meta := &models.ValueMeta{Type: "L2", Description: models.Some("The bar value"), Severity: "LOW"}

	assert.Equal(t, lines(
		"+++ description: The bar value",
		"+++ type: L2",
		"+++ severity: LOW",
		"      values.bar:",
		"-        oldValue",
		"+        newValue",
	), FieldDiffToMarkdown(barField, meta, NoLimit))
}

func TestFieldDiffToMarkdown_NullDescription(t *testing.T) {
	meta := &models.ValueMeta{Type: "L2", Description: models.Null(), Severity: "LOW"}

	assert.Equal(t, lines(
		"+++ type: L2",
		"+++ severity: LOW",
		"      values.bar:",
		"-        oldValue",
		"+        newValue",
	), FieldDiffToMarkdown(barField, meta, NoLimit))
}

func TestFieldDiffToMarkdown_TruncatingAllMeta(t *testing.T) {
	meta := &models.ValueMeta{Type: "L2", Description: models.Some("The bar value"), Severity: "LOW"}
	maxLength := 48
	result := FieldDiffToMarkdown(barField, meta, maxLength)

	assert.LessOrEqual(t, len(result), maxLength)
	assert.Equal(t, "+++ description: The bar v... (message too long)", result)
}

func TestFieldDiffToMarkdown_BudgetSmallerThanMarker(t *testing.T) {
	assert.Equal(t, "", FieldDiffToMarkdown(barField, nil, 10))
}

func TestTruncate_RuneBoundary(t *testing.T) {
	s := strings.Repeat("界", 20) // 60 bytes
	result := truncate(s, 30)

	assert.LessOrEqual(t, len(result), 30)
	assert.True(t, strings.HasSuffix(result, OverflowSuffix))
	assert.Equal(t, "界界"+OverflowSuffix, result)
}

func TestTruncate_FitsUnchanged(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 5))
	assert.Equal(t, "short", truncate("short", NoLimit))
}

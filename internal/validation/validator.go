package validation

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"updatemonitor/internal/errors"
	"updatemonitor/pkg/models"
)

// Validator 快照与变更数据验证器
type Validator struct {
	logger     *logrus.Logger
	strictMode bool // 严格模式下警告也视为错误
	rules      map[string]ValidationRule
}

// ValidationRule 验证规则接口
type ValidationRule interface {
	Validate(data interface{}) error
	Name() string
	Description() string
}

// ValidationResult 验证结果
type ValidationResult struct {
	Valid    bool                   `json:"valid"`
	Errors   []*errors.MonitorError `json:"errors,omitempty"`
	Warnings []string               `json:"warnings,omitempty"`
	DataType string                 `json:"data_type"`
}

// Err 合并为单个错误，验证通过时返回nil
func (r *ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Message)
	}
	return errors.ErrSnapshotInvalid.WithCause(fmt.Errorf("%s: %s", r.DataType, strings.Join(msgs, "; ")))
}

func (r *ValidationResult) addError(code, message string) {
	r.Valid = false
	r.Errors = append(r.Errors, errors.NewMonitorError(errors.ErrorTypeValidation, errors.SeverityMedium, code, message))
}

// NewValidator 创建数据验证器
func NewValidator(logger *logrus.Logger, strictMode bool) *Validator {
	v := &Validator{
		logger:     logger,
		strictMode: strictMode,
		rules:      make(map[string]ValidationRule),
	}

	v.AddRule(NewSnapshotValidationRule())
	v.AddRule(NewContractDiffValidationRule())
	v.AddRule(NewAddressValidationRule())

	return v
}

// AddRule 添加验证规则
func (v *Validator) AddRule(rule ValidationRule) {
	v.rules[rule.Name()] = rule
	v.logger.Debugf("已注册验证规则: %s", rule.Name())
}

// Rule 按名称获取规则
func (v *Validator) Rule(name string) (ValidationRule, bool) {
	rule, ok := v.rules[name]
	return rule, ok
}

// finish 严格模式下把警告提升为错误
func (v *Validator) finish(result *ValidationResult) *ValidationResult {
	if v.strictMode && len(result.Warnings) > 0 {
		for _, w := range result.Warnings {
			result.addError("STRICT_WARNING", w)
		}
	}
	if !result.Valid {
		v.logger.Debugf("%s 验证失败: %d 个错误", result.DataType, len(result.Errors))
	}
	return result
}

// ValidateSnapshot 验证快照：链名项目名非空，合约名非空，地址非零且不重复，升级参数类型已知
func (v *Validator) ValidateSnapshot(snap *models.Snapshot) *ValidationResult {
	result := &ValidationResult{Valid: true, DataType: "snapshot"}
	if snap == nil {
		result.addError("NULL_SNAPSHOT", "快照为空")
		return result
	}

	if snap.Chain == "" {
		result.addError("MISSING_CHAIN", "快照缺少链名")
	}
	if snap.Project == "" {
		result.addError("MISSING_PROJECT", "快照缺少项目名")
	}

	addresses := make(map[models.Address]int, len(snap.Contracts))
	names := make(map[string]int, len(snap.Contracts))
	for i, c := range snap.Contracts {
		if c.Name == "" {
			result.addError("MISSING_NAME", fmt.Sprintf("第 %d 个合约缺少名称", i))
		}
		if c.Address.IsZero() {
			result.addError("ZERO_ADDRESS", fmt.Sprintf("合约 %s 地址为零地址", c.Name))
		}
		if j, dup := addresses[c.Address]; dup {
			result.addError("DUPLICATE_ADDRESS", fmt.Sprintf("合约地址 %s 重复 (第 %d 和第 %d 个)", c.Address.Hex(), j, i))
		} else {
			addresses[c.Address] = i
		}
		if c.Name != "" {
			if _, dup := names[c.Name]; dup {
				result.Warnings = append(result.Warnings, fmt.Sprintf("合约名称 %s 重复", c.Name))
			}
			names[c.Name] = i
		}

		if c.Upgradeability == nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("合约 %s 缺少升级参数", c.Name))
		} else if !models.IsKnownType(c.Upgradeability.Type()) {
			result.addError("UNKNOWN_UPGRADEABILITY", fmt.Sprintf("合约 %s 升级参数类型未知: %s", c.Name, c.Upgradeability.Type()))
		}
	}

	return v.finish(result)
}

// ValidateContractDiff 验证变更结构：created、deleted、字段变更三者恰好其一
func (v *Validator) ValidateContractDiff(d *models.ContractDiff) *ValidationResult {
	result := &ValidationResult{Valid: true, DataType: "contract_diff"}
	if d == nil {
		result.addError("NULL_DIFF", "合约变更为空")
		return result
	}

	switch d.Type {
	case models.ContractCreated, models.ContractDeleted:
		if len(d.Diff) > 0 {
			result.addError("UNEXPECTED_FIELDS", fmt.Sprintf("%s 类型的合约变更不应包含字段变更", d.Type))
		}
	case "":
		if len(d.Diff) == 0 {
			result.addError("EMPTY_DIFF", "合约变更既不是新建/删除也没有字段变更")
		}
	default:
		result.addError("INVALID_TYPE", fmt.Sprintf("未知的合约变更类型: %s", d.Type))
	}

	if d.Address.IsZero() {
		result.Warnings = append(result.Warnings, "合约变更地址为零地址")
	}
	if d.Name == "" {
		result.Warnings = append(result.Warnings, "合约变更缺少名称")
	}
	for i, f := range d.Diff {
		if !f.Key.IsPresent() {
			result.Warnings = append(result.Warnings, fmt.Sprintf("第 %d 个字段变更缺少key", i))
		}
		if f.Before.IsAbsent() && f.After.IsAbsent() {
			result.Warnings = append(result.Warnings, fmt.Sprintf("第 %d 个字段变更没有前后值", i))
		}
	}

	return v.finish(result)
}

// ValidateDiffs 逐个验证变更列表，返回第一个不合法的结果
func (v *Validator) ValidateDiffs(diffs []models.ContractDiff) *ValidationResult {
	for i := range diffs {
		if result := v.ValidateContractDiff(&diffs[i]); !result.Valid {
			return result
		}
	}
	return &ValidationResult{Valid: true, DataType: "contract_diff"}
}

// GetValidationStats 获取验证器信息
func (v *Validator) GetValidationStats() map[string]interface{} {
	rules := make(map[string]string, len(v.rules))
	for name, rule := range v.rules {
		rules[name] = rule.Description()
	}
	return map[string]interface{}{
		"strict_mode": v.strictMode,
		"rules":       rules,
	}
}

// isValidAddress 检查十六进制地址格式
func isValidAddress(addr string) bool {
	return common.IsHexAddress(addr)
}

// SnapshotValidationRule 快照验证规则
type SnapshotValidationRule struct{}

func NewSnapshotValidationRule() *SnapshotValidationRule {
	return &SnapshotValidationRule{}
}

func (r *SnapshotValidationRule) Name() string {
	return "snapshot"
}

func (r *SnapshotValidationRule) Description() string {
	return "验证快照的基本字段"
}

func (r *SnapshotValidationRule) Validate(data interface{}) error {
	snap, ok := data.(*models.Snapshot)
	if !ok {
		return fmt.Errorf("数据类型错误，期望 *models.Snapshot")
	}
	if snap == nil || snap.Chain == "" || snap.Project == "" {
		return fmt.Errorf("快照缺少链名或项目名")
	}
	return nil
}

// ContractDiffValidationRule 合约变更验证规则
type ContractDiffValidationRule struct{}

func NewContractDiffValidationRule() *ContractDiffValidationRule {
	return &ContractDiffValidationRule{}
}

func (r *ContractDiffValidationRule) Name() string {
	return "contract_diff"
}

func (r *ContractDiffValidationRule) Description() string {
	return "验证合约变更的结构"
}

func (r *ContractDiffValidationRule) Validate(data interface{}) error {
	d, ok := data.(*models.ContractDiff)
	if !ok || d == nil {
		return fmt.Errorf("数据类型错误，期望 *models.ContractDiff")
	}
	created, deleted, changed := d.IsCreated(), d.IsDeleted(), len(d.Diff) > 0
	count := 0
	for _, b := range []bool{created, deleted, changed} {
		if b {
			count++
		}
	}
	if count != 1 {
		return fmt.Errorf("合约变更必须且只能是新建、删除或字段变更之一")
	}
	return nil
}

// AddressValidationRule 地址验证规则
type AddressValidationRule struct{}

func NewAddressValidationRule() *AddressValidationRule {
	return &AddressValidationRule{}
}

func (r *AddressValidationRule) Name() string {
	return "address"
}

func (r *AddressValidationRule) Description() string {
	return "验证以太坊地址格式"
}

func (r *AddressValidationRule) Validate(data interface{}) error {
	addr, ok := data.(string)
	if !ok {
		return fmt.Errorf("数据类型错误，期望 string")
	}
	if !isValidAddress(addr) {
		return fmt.Errorf("无效的地址格式: %s", addr)
	}
	return nil
}

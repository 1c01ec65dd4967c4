package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ContractParameters 单个合约的发现结果（快照中的基本单元）
type ContractParameters struct {
	Name           string         `json:"name"`
	Address        Address        `json:"address"`
	Upgradeability Upgradeability `json:"-"`
	Values         map[string]any `json:"values,omitempty"`
}

type contractParametersJSON struct {
	Name           string          `json:"name"`
	Address        Address         `json:"address"`
	Upgradeability json.RawMessage `json:"upgradeability,omitempty"`
	Values         map[string]any  `json:"values,omitempty"`
}

// MarshalJSON 实现json.Marshaler
func (c ContractParameters) MarshalJSON() ([]byte, error) {
	out := contractParametersJSON{
		Name:    c.Name,
		Address: c.Address,
		Values:  c.Values,
	}
	if c.Upgradeability != nil {
		u, err := MarshalUpgradeability(c.Upgradeability)
		if err != nil {
			return nil, err
		}
		out.Upgradeability = u
	}
	return json.Marshal(out)
}

// UnmarshalJSON 实现json.Unmarshaler
func (c *ContractParameters) UnmarshalJSON(data []byte) error {
	var raw contractParametersJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("解析合约参数失败: %w", err)
	}

	c.Name = raw.Name
	c.Address = raw.Address
	c.Values = raw.Values
	c.Upgradeability = nil
	if len(raw.Upgradeability) > 0 && string(raw.Upgradeability) != "null" {
		u, err := UnmarshalUpgradeability(raw.Upgradeability)
		if err != nil {
			return fmt.Errorf("合约 %s 升级参数无效: %w", raw.Name, err)
		}
		c.Upgradeability = u
	}
	return nil
}

// ProxyDetails 返回合约的代理详情，无升级参数时返回nil
func (c ContractParameters) ProxyDetails() *ProxyDetails {
	if c.Upgradeability == nil {
		return nil
	}
	details := DeriveProxyDetails(c.Upgradeability)
	return &details
}

// Snapshot 某条链上某个项目在某一时刻的完整发现结果，保存后不可修改
type Snapshot struct {
	ID          uint64               `json:"id"`
	Chain       string               `json:"chain"`
	Project     string               `json:"project"`
	BlockNumber uint64               `json:"block_number"`
	Timestamp   time.Time            `json:"timestamp"`
	Contracts   []ContractParameters `json:"contracts"`
}

// ContractByAddress 按地址查找合约
func (s *Snapshot) ContractByAddress(addr Address) (ContractParameters, bool) {
	for _, c := range s.Contracts {
		if c.Address == addr {
			return c, true
		}
	}
	return ContractParameters{}, false
}

// DiscoveryOutput discovered.json 文件格式
type DiscoveryOutput struct {
	Name        string               `json:"name"`
	Chain       string               `json:"chain"`
	BlockNumber uint64               `json:"blockNumber"`
	Contracts   []ContractParameters `json:"contracts"`
	Eoas        []Address            `json:"eoas,omitempty"`
}

// ToSnapshot 转换为快照，合约列表被复制，之后对输出的修改不会影响快照
func (d *DiscoveryOutput) ToSnapshot(chain string, blockNumber uint64, now time.Time) *Snapshot {
	if chain == "" {
		chain = d.Chain
	}
	if blockNumber == 0 {
		blockNumber = d.BlockNumber
	}
	contracts := make([]ContractParameters, len(d.Contracts))
	copy(contracts, d.Contracts)
	return &Snapshot{
		Chain:       chain,
		Project:     d.Name,
		BlockNumber: blockNumber,
		Timestamp:   now.UTC(),
		Contracts:   contracts,
	}
}

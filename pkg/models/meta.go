package models

// ValueMeta 单个字段的人工注释
//
// Description 为 null 时只隐藏描述行，type/severity 仍然输出。
type ValueMeta struct {
	Type        string         `json:"type"`
	Description OptionalString `json:"description,omitzero"`
	Severity    string         `json:"severity"`
}

// ContractMeta 合约的人工注释
type ContractMeta struct {
	Name        string               `json:"name"`
	Description OptionalString       `json:"description,omitzero"`
	Values      map[string]ValueMeta `json:"values,omitempty"`
}

// Value 查找字段注释，未找到返回nil
func (m *ContractMeta) Value(name string) *ValueMeta {
	if m == nil {
		return nil
	}
	v, ok := m.Values[name]
	if !ok {
		return nil
	}
	return &v
}

// DiscoveryMeta 一个项目的全部合约注释
type DiscoveryMeta struct {
	Contracts []ContractMeta `json:"contracts"`
}

// Contract 按合约名查找注释，未找到返回nil
func (m *DiscoveryMeta) Contract(name string) *ContractMeta {
	if m == nil {
		return nil
	}
	for i := range m.Contracts {
		if m.Contracts[i].Name == name {
			return &m.Contracts[i]
		}
	}
	return nil
}

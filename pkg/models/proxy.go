package models

import (
	"encoding/json"
	"fmt"
	"sort"
)

// ProxyDetails 代理详情：升级参数以及派生出的实现地址和关联地址
type ProxyDetails struct {
	Upgradeability  Upgradeability `json:"-"`
	Implementations []Address      `json:"implementations"`
	Relatives       []Address      `json:"relatives"`
}

// MarshalJSON 实现json.Marshaler
func (p ProxyDetails) MarshalJSON() ([]byte, error) {
	u, err := MarshalUpgradeability(p.Upgradeability)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Upgradeability  json.RawMessage `json:"upgradeability"`
		Implementations []Address       `json:"implementations"`
		Relatives       []Address       `json:"relatives"`
	}{u, nonNil(p.Implementations), nonNil(p.Relatives)})
}

// UnmarshalJSON 实现json.Unmarshaler
func (p *ProxyDetails) UnmarshalJSON(data []byte) error {
	var raw struct {
		Upgradeability  json.RawMessage `json:"upgradeability"`
		Implementations []Address       `json:"implementations"`
		Relatives       []Address       `json:"relatives"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("解析代理详情失败: %w", err)
	}
	u, err := UnmarshalUpgradeability(raw.Upgradeability)
	if err != nil {
		return err
	}
	p.Upgradeability = u
	p.Implementations = raw.Implementations
	p.Relatives = raw.Relatives
	return nil
}

// DeriveProxyDetails 从升级参数派生实现地址和关联地址
//
// 实现地址为逻辑合约（implementation、facet等），关联地址为管理角色
// （admin、owner、治理、信标、模块等）。结果按字段顺序去重，零地址被忽略。
func DeriveProxyDetails(u Upgradeability) ProxyDetails {
	var impls, rels addressSet

	switch v := u.(type) {
	case Immutable:
	case GnosisSafe:
		impls.add(v.MasterCopy)
		rels.add(v.Modules...)
	case GnosisSafeZodiacModule:
		rels.add(v.Avatar, v.Target, v.Guard)
		rels.add(v.Modules...)
	case EIP1967Proxy:
		impls.add(v.Implementation)
		rels.add(v.Admin)
	case PolygonProxy:
		impls.add(v.Implementation)
		rels.add(v.Admin)
	case ZeppelinOSProxy:
		impls.add(v.Implementation)
		if v.Admin != nil {
			rels.add(*v.Admin)
		}
		if v.Owner != nil {
			rels.add(*v.Owner)
		}
	case StarkWareProxy:
		impls.add(v.Implementation)
		if v.CallImplementation != nil {
			impls.add(*v.CallImplementation)
		}
		rels.add(v.ProxyGovernance...)
	case StarkWareDiamond:
		impls.add(v.Implementation)
		names := make([]string, 0, len(v.Facets))
		for name := range v.Facets {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			impls.add(v.Facets[name])
		}
		rels.add(v.ProxyGovernance...)
	case ArbitrumProxy:
		impls.add(v.AdminImplementation, v.UserImplementation)
		rels.add(v.Admin)
	case NewArbitrumProxy:
		impls.add(v.Implementation, v.AdminImplementation, v.UserImplementation)
		rels.add(v.Admin)
	case ResolvedDelegateProxy:
		impls.add(v.Implementation)
		rels.add(v.AddressManager)
	case EIP897Proxy:
		impls.add(v.Implementation)
	case CallImplementationProxy:
		impls.add(v.Implementation)
	case EIP2535DiamondProxy:
		impls.add(v.Facets...)
	case ZkSyncLiteProxy:
		impls.add(v.Implementation, v.Additional)
		rels.add(v.Admin)
	case EternalStorageProxy:
		impls.add(v.Implementation)
		rels.add(v.Admin)
	case PolygonExtensionProxy:
		impls.add(v.Implementation, v.Extension)
		rels.add(v.Admin)
	case ZkSpaceProxy:
		impls.add(v.Implementation)
		impls.add(v.Additional...)
		rels.add(v.Admin)
	case OpticsBeaconProxy:
		impls.add(v.Implementation)
		rels.add(v.UpgradeBeacon, v.BeaconController)
	case AxelarProxy:
		impls.add(v.Implementation)
		rels.add(v.Admins...)
		rels.add(v.Owners...)
		rels.add(v.Operators...)
	}

	return ProxyDetails{
		Upgradeability:  u,
		Implementations: impls.list,
		Relatives:       rels.list,
	}
}

// addressSet 保持插入顺序的地址集合
type addressSet struct {
	seen map[Address]struct{}
	list []Address
}

func (s *addressSet) add(addrs ...Address) {
	if s.seen == nil {
		s.seen = make(map[Address]struct{})
	}
	for _, a := range addrs {
		if a.IsZero() {
			continue
		}
		if _, ok := s.seen[a]; ok {
			continue
		}
		s.seen[a] = struct{}{}
		s.list = append(s.list, a)
	}
}

func nonNil(addrs []Address) []Address {
	if addrs == nil {
		return []Address{}
	}
	return addrs
}

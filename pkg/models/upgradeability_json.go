package models

import (
	"encoding/json"
	"fmt"
)

// MarshalUpgradeability 序列化升级参数，type 字段放在最前
func MarshalUpgradeability(u Upgradeability) ([]byte, error) {
	if u == nil {
		return []byte("null"), nil
	}

	tag, err := json.Marshal(string(u.Type()))
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("序列化升级参数失败: %w", err)
	}

	out := make([]byte, 0, len(body)+len(tag)+10)
	out = append(out, `{"type":`...)
	out = append(out, tag...)
	if len(body) > 2 {
		out = append(out, ',')
		out = append(out, body[1:]...)
	} else {
		out = append(out, '}')
	}
	return out, nil
}

// UnmarshalUpgradeability 根据 type 字段反序列化为对应变体
func UnmarshalUpgradeability(data []byte) (Upgradeability, error) {
	var header struct {
		Type UpgradeabilityType `json:"type"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("解析升级参数失败: %w", err)
	}

	switch header.Type {
	case TypeImmutable:
		return Immutable{}, nil
	case TypeGnosisSafe:
		return decodeVariant[GnosisSafe](data)
	case TypeGnosisSafeZodiacModule:
		return decodeVariant[GnosisSafeZodiacModule](data)
	case TypeEIP1967Proxy:
		return decodeVariant[EIP1967Proxy](data)
	case TypePolygonProxy:
		return decodeVariant[PolygonProxy](data)
	case TypeZeppelinOSProxy:
		return decodeVariant[ZeppelinOSProxy](data)
	case TypeStarkWareProxy:
		return decodeVariant[StarkWareProxy](data)
	case TypeStarkWareDiamond:
		return decodeVariant[StarkWareDiamond](data)
	case TypeArbitrumProxy:
		return decodeVariant[ArbitrumProxy](data)
	case TypeNewArbitrumProxy:
		return decodeVariant[NewArbitrumProxy](data)
	case TypeResolvedDelegateProxy:
		return decodeVariant[ResolvedDelegateProxy](data)
	case TypeEIP897Proxy:
		return decodeVariant[EIP897Proxy](data)
	case TypeCallImplementationProxy:
		return decodeVariant[CallImplementationProxy](data)
	case TypeEIP2535DiamondProxy:
		return decodeVariant[EIP2535DiamondProxy](data)
	case TypeZkSyncLiteProxy:
		return decodeVariant[ZkSyncLiteProxy](data)
	case TypeEternalStorageProxy:
		return decodeVariant[EternalStorageProxy](data)
	case TypePolygonExtensionProxy:
		return decodeVariant[PolygonExtensionProxy](data)
	case TypeZkSpaceProxy:
		return decodeVariant[ZkSpaceProxy](data)
	case TypeOpticsBeaconProxy:
		return decodeVariant[OpticsBeaconProxy](data)
	case TypeAxelarProxy:
		return decodeVariant[AxelarProxy](data)
	case "":
		return nil, fmt.Errorf("升级参数缺少type字段")
	default:
		return nil, fmt.Errorf("未知的升级参数类型: %s", header.Type)
	}
}

func decodeVariant[T Upgradeability](data []byte) (Upgradeability, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("解析升级参数失败: %w", err)
	}
	return v, nil
}

package models

import "slices"

// UpgradeabilityType 代理升级模式类型标签
type UpgradeabilityType string

const (
	TypeImmutable               UpgradeabilityType = "immutable"
	TypeGnosisSafe              UpgradeabilityType = "gnosis safe"
	TypeGnosisSafeZodiacModule  UpgradeabilityType = "gnosis safe zodiac module"
	TypeEIP1967Proxy            UpgradeabilityType = "EIP1967 proxy"
	TypePolygonProxy            UpgradeabilityType = "Polygon proxy"
	TypeZeppelinOSProxy         UpgradeabilityType = "ZeppelinOS proxy"
	TypeStarkWareProxy          UpgradeabilityType = "StarkWare proxy"
	TypeStarkWareDiamond        UpgradeabilityType = "StarkWare diamond"
	TypeArbitrumProxy           UpgradeabilityType = "Arbitrum proxy"
	TypeNewArbitrumProxy        UpgradeabilityType = "new Arbitrum proxy"
	TypeResolvedDelegateProxy   UpgradeabilityType = "resolved delegate proxy"
	TypeEIP897Proxy             UpgradeabilityType = "EIP897 proxy"
	TypeCallImplementationProxy UpgradeabilityType = "call implementation proxy"
	TypeEIP2535DiamondProxy     UpgradeabilityType = "EIP2535 diamond proxy"
	TypeZkSyncLiteProxy         UpgradeabilityType = "zkSync Lite proxy"
	TypeEternalStorageProxy     UpgradeabilityType = "Eternal Storage proxy"
	TypePolygonExtensionProxy   UpgradeabilityType = "Polygon Extension proxy"
	TypeZkSpaceProxy            UpgradeabilityType = "zkSpace proxy"
	TypeOpticsBeaconProxy       UpgradeabilityType = "Optics Beacon proxy"
	TypeAxelarProxy             UpgradeabilityType = "Axelar proxy"
)

// KnownTypes 所有已知的升级参数类型
var KnownTypes = []UpgradeabilityType{
	TypeImmutable,
	TypeGnosisSafe,
	TypeGnosisSafeZodiacModule,
	TypeEIP1967Proxy,
	TypePolygonProxy,
	TypeZeppelinOSProxy,
	TypeStarkWareProxy,
	TypeStarkWareDiamond,
	TypeArbitrumProxy,
	TypeNewArbitrumProxy,
	TypeResolvedDelegateProxy,
	TypeEIP897Proxy,
	TypeCallImplementationProxy,
	TypeEIP2535DiamondProxy,
	TypeZkSyncLiteProxy,
	TypeEternalStorageProxy,
	TypePolygonExtensionProxy,
	TypeZkSpaceProxy,
	TypeOpticsBeaconProxy,
	TypeAxelarProxy,
}

// IsKnownType 判断类型标签是否已知
func IsKnownType(t UpgradeabilityType) bool {
	return slices.Contains(KnownTypes, t)
}

// ManualProxyTypes 可以在发现配置中手动声明的代理类型
var ManualProxyTypes = []UpgradeabilityType{
	TypeNewArbitrumProxy,
	TypeCallImplementationProxy,
	TypeZkSyncLiteProxy,
	TypeZkSpaceProxy,
	TypeEternalStorageProxy,
	TypePolygonExtensionProxy,
	TypeOpticsBeaconProxy,
	TypeImmutable,
}

// IsManualProxyType 判断类型是否允许手动声明
func IsManualProxyType(t UpgradeabilityType) bool {
	return slices.Contains(ManualProxyTypes, t)
}

// Upgradeability 已解析的代理升级参数（封闭的和类型）
//
// 只有本包内的变体类型可以实现该接口。使用方通过 type switch 分派。
type Upgradeability interface {
	Type() UpgradeabilityType
	isUpgradeability()
}

// Immutable 不可升级合约
type Immutable struct{}

// GnosisSafe Gnosis Safe多签
type GnosisSafe struct {
	MasterCopy Address   `json:"masterCopy"`
	Modules    []Address `json:"modules"`
}

// GnosisSafeZodiacModule Zodiac模块
type GnosisSafeZodiacModule struct {
	Avatar  Address   `json:"avatar"`
	Target  Address   `json:"target"`
	Guard   Address   `json:"guard"`
	Modules []Address `json:"modules,omitempty"`
}

// EIP1967Proxy EIP-1967透明代理
type EIP1967Proxy struct {
	Admin          Address `json:"admin"`
	Implementation Address `json:"implementation"`
}

// PolygonProxy Polygon代理
type PolygonProxy struct {
	Admin          Address `json:"admin"`
	Implementation Address `json:"implementation"`
}

// ZeppelinOSProxy ZeppelinOS代理，admin和owner二选一
type ZeppelinOSProxy struct {
	Admin          *Address `json:"admin,omitempty"`
	Owner          *Address `json:"owner,omitempty"`
	Implementation Address  `json:"implementation"`
}

// StarkWareProxy StarkWare代理
type StarkWareProxy struct {
	Implementation     Address   `json:"implementation"`
	CallImplementation *Address  `json:"callImplementation,omitempty"`
	UpgradeDelay       uint64    `json:"upgradeDelay"`
	IsFinal            bool      `json:"isFinal"`
	UseConstantDelay   *bool     `json:"useConstantDelay,omitempty"`
	ProxyGovernance    []Address `json:"proxyGovernance,omitempty"`
}

// StarkWareDiamond StarkWare钻石代理
type StarkWareDiamond struct {
	Implementation  Address            `json:"implementation"`
	UpgradeDelay    uint64             `json:"upgradeDelay"`
	IsFinal         bool               `json:"isFinal"`
	Facets          map[string]Address `json:"facets"`
	ProxyGovernance []Address          `json:"proxyGovernance,omitempty"`
}

// ArbitrumProxy Arbitrum代理（admin/user两套实现）
type ArbitrumProxy struct {
	Admin               Address `json:"admin"`
	AdminImplementation Address `json:"adminImplementation"`
	UserImplementation  Address `json:"userImplementation"`
}

// NewArbitrumProxy 新版Arbitrum代理
type NewArbitrumProxy struct {
	Admin               Address `json:"admin"`
	Implementation      Address `json:"implementation"`
	AdminImplementation Address `json:"adminImplementation"`
	UserImplementation  Address `json:"userImplementation"`
}

// ResolvedDelegateProxy 通过AddressManager解析实现的代理
type ResolvedDelegateProxy struct {
	AddressManager     Address `json:"addressManager"`
	ImplementationName string  `json:"implementationName"`
	Implementation     Address `json:"implementation"`
}

// EIP897Proxy EIP-897代理
type EIP897Proxy struct {
	IsUpgradable   bool    `json:"isUpgradable"`
	Implementation Address `json:"implementation"`
}

// CallImplementationProxy 通过implementation()调用获取实现的代理
type CallImplementationProxy struct {
	Implementation Address `json:"implementation"`
}

// EIP2535DiamondProxy EIP-2535钻石代理
type EIP2535DiamondProxy struct {
	Facets []Address `json:"facets"`
}

// ZkSyncLiteProxy zkSync Lite代理
type ZkSyncLiteProxy struct {
	Admin          Address `json:"admin"`
	Implementation Address `json:"implementation"`
	Additional     Address `json:"additional"`
}

// EternalStorageProxy Eternal Storage代理
type EternalStorageProxy struct {
	Admin          Address `json:"admin"`
	Implementation Address `json:"implementation"`
}

// PolygonExtensionProxy 带扩展合约的Polygon代理
type PolygonExtensionProxy struct {
	Admin          Address `json:"admin"`
	Implementation Address `json:"implementation"`
	Extension      Address `json:"extension"`
}

// ZkSpaceProxy zkSpace代理
type ZkSpaceProxy struct {
	Admin          Address   `json:"admin"`
	Implementation Address   `json:"implementation"`
	Additional     []Address `json:"additional"`
}

// OpticsBeaconProxy Optics信标代理
type OpticsBeaconProxy struct {
	UpgradeBeacon    Address `json:"upgradeBeacon"`
	BeaconController Address `json:"beaconController"`
	Implementation   Address `json:"implementation"`
}

// AxelarProxy Axelar代理，admins/owners/operators三组独立门限
type AxelarProxy struct {
	Admins            []Address `json:"admins"`
	AdminThreshold    uint64    `json:"adminThreshold"`
	Owners            []Address `json:"owners"`
	OwnerThreshold    uint64    `json:"ownerThreshold"`
	Operators         []Address `json:"operators"`
	OperatorThreshold uint64    `json:"operatorThreshold"`
	Implementation    Address   `json:"implementation"`
}

func (Immutable) Type() UpgradeabilityType               { return TypeImmutable }
func (GnosisSafe) Type() UpgradeabilityType              { return TypeGnosisSafe }
func (GnosisSafeZodiacModule) Type() UpgradeabilityType  { return TypeGnosisSafeZodiacModule }
func (EIP1967Proxy) Type() UpgradeabilityType            { return TypeEIP1967Proxy }
func (PolygonProxy) Type() UpgradeabilityType            { return TypePolygonProxy }
func (ZeppelinOSProxy) Type() UpgradeabilityType         { return TypeZeppelinOSProxy }
func (StarkWareProxy) Type() UpgradeabilityType          { return TypeStarkWareProxy }
func (StarkWareDiamond) Type() UpgradeabilityType        { return TypeStarkWareDiamond }
func (ArbitrumProxy) Type() UpgradeabilityType           { return TypeArbitrumProxy }
func (NewArbitrumProxy) Type() UpgradeabilityType        { return TypeNewArbitrumProxy }
func (ResolvedDelegateProxy) Type() UpgradeabilityType   { return TypeResolvedDelegateProxy }
func (EIP897Proxy) Type() UpgradeabilityType             { return TypeEIP897Proxy }
func (CallImplementationProxy) Type() UpgradeabilityType { return TypeCallImplementationProxy }
func (EIP2535DiamondProxy) Type() UpgradeabilityType     { return TypeEIP2535DiamondProxy }
func (ZkSyncLiteProxy) Type() UpgradeabilityType         { return TypeZkSyncLiteProxy }
func (EternalStorageProxy) Type() UpgradeabilityType     { return TypeEternalStorageProxy }
func (PolygonExtensionProxy) Type() UpgradeabilityType   { return TypePolygonExtensionProxy }
func (ZkSpaceProxy) Type() UpgradeabilityType            { return TypeZkSpaceProxy }
func (OpticsBeaconProxy) Type() UpgradeabilityType       { return TypeOpticsBeaconProxy }
func (AxelarProxy) Type() UpgradeabilityType             { return TypeAxelarProxy }

func (Immutable) isUpgradeability()               {}
func (GnosisSafe) isUpgradeability()              {}
func (GnosisSafeZodiacModule) isUpgradeability()  {}
func (EIP1967Proxy) isUpgradeability()            {}
func (PolygonProxy) isUpgradeability()            {}
func (ZeppelinOSProxy) isUpgradeability()         {}
func (StarkWareProxy) isUpgradeability()          {}
func (StarkWareDiamond) isUpgradeability()        {}
func (ArbitrumProxy) isUpgradeability()           {}
func (NewArbitrumProxy) isUpgradeability()        {}
func (ResolvedDelegateProxy) isUpgradeability()   {}
func (EIP897Proxy) isUpgradeability()             {}
func (CallImplementationProxy) isUpgradeability() {}
func (EIP2535DiamondProxy) isUpgradeability()     {}
func (ZkSyncLiteProxy) isUpgradeability()         {}
func (EternalStorageProxy) isUpgradeability()     {}
func (PolygonExtensionProxy) isUpgradeability()   {}
func (ZkSpaceProxy) isUpgradeability()            {}
func (OpticsBeaconProxy) isUpgradeability()       {}
func (AxelarProxy) isUpgradeability()             {}

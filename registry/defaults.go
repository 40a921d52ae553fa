package registry

// defaultNetworks lists the apps known to work over the generic substrate protocol and the
// Ethereum app. Substrate entries must stay ahead of the EVM one, see Lookup.
var defaultNetworks = []Network{
	{Slug: "polkadot", AppName: "Polkadot", Family: FamilySubstrate, Cla: 0x90, CoinType: 354},
	{Slug: "polymesh", AppName: "Polymesh", Family: FamilySubstrate, Cla: 0x91, CoinType: 595},
	{Slug: "dock", AppName: "Dock", Family: FamilySubstrate, Cla: 0x92, CoinType: 594},
	{Slug: "centrifuge", AppName: "Centrifuge", Family: FamilySubstrate, Cla: 0x93, CoinType: 747},
	{Slug: "edgeware", AppName: "Edgeware", Family: FamilySubstrate, Cla: 0x94, CoinType: 523},
	{Slug: "statemint", AppName: "Statemint", Family: FamilySubstrate, Cla: 0x96, CoinType: 354},
	{Slug: "statemine", AppName: "Statemine", Family: FamilySubstrate, Cla: 0x97, CoinType: 434},
	{Slug: "nodle", AppName: "Nodle", Family: FamilySubstrate, Cla: 0x98, CoinType: 1003},
	{Slug: "kusama", AppName: "Kusama", Family: FamilySubstrate, Cla: 0x99, CoinType: 434},
	{Slug: "karura", AppName: "Karura", Family: FamilySubstrate, Cla: 0x9A, CoinType: 686},
	{Slug: "acala", AppName: "Acala", Family: FamilySubstrate, Cla: 0x9B, CoinType: 787},
	{Slug: "ethereum", AppName: "Ethereum", Family: FamilyEVM, Cla: 0xE0, CoinType: 60, ChainID: "1"},
}

var defaultRegistry = mustNew(defaultNetworks...)

// Default returns the built-in registry.
func Default() *Registry {
	return defaultRegistry
}

func mustNew(networks ...Network) *Registry {
	r, err := New(networks...)
	if err != nil {
		panic(err)
	}

	return r
}

package upstream

// Resource paths within each service family. Tool handlers combine these with
// the generic verbs on Client; IDs are appended by the caller.
const (
	// DDI: IPAM
	ResIPSpace      = "ipam/ip_space"
	ResAddressBlock = "ipam/address_block"
	ResSubnet       = "ipam/subnet"
	ResAddress      = "ipam/address"
	ResRange        = "ipam/range"
	ResFixedAddress = "dhcp/fixed_address"
	ResHost         = "ipam/host"

	// DDI: DNS
	ResDNSRecord      = "dns/record"
	ResAuthZone       = "dns/auth_zone"
	ResForwardZone    = "dns/forward_zone"
	ResDNSView        = "dns/view"
	ResDNSHost        = "dns/host"
	ResDNSServer      = "dns/server"
	ResDelegationZone = "dns/delegation"

	// DDI: DHCP
	ResDHCPHost           = "dhcp/host"
	ResHAGroup            = "dhcp/ha_group"
	ResOptionCode         = "dhcp/option_code"
	ResOptionSpace        = "dhcp/option_space"
	ResHardwareFilter     = "dhcp/hardware_filter"
	ResOptionFilter       = "dhcp/option_filter"
	ResDHCPGlobal         = "dhcp/global"
	ResDHCPServer         = "dhcp/server"
	ResDHCPOptionGroup    = "dhcp/option_group"
	ResDHCPFingerprint    = "dhcp/filter"
	ResLeases             = "dhcp/lease"
	ResDHCPHostAssignment = "dhcp/host_assignment"

	// DDI: federation
	ResFederatedRealm      = "federation/federated_realm"
	ResFederatedBlock      = "federation/federated_block"
	ResDelegation          = "federation/delegation"
	ResOverlappingBlock    = "federation/overlapping_block"
	ResReservedFederated   = "federation/reserved_federated_block"
	ResNextAvailableSuffix = "nextavailablefederatedblock"

	// Universal infrastructure (VPN)
	ResUniversalService = "universalservices"
	ResEndpoint         = "endpoints"
	ResAccessLocation   = "accesslocations"
	ResConsolidated     = "consolidated/configure"

	// ATCFW (threat defense)
	ResSecurityPolicy  = "security_policies"
	ResNamedList       = "named_lists"
	ResContentCategory = "content_categories"
	ResInternalDomain  = "internal_domain_lists"
	ResPoPRegion       = "pop_regions"

	// IAM
	ResKeys = "keys"

	// Insights
	ResInsights         = "insights"
	ResInsightStatus    = "insights/status"
	ResAnalyticsInsight = "config-insights/analytics"
)

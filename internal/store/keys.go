package store

// Key layout shared with existing deployments of the service.
const (
	KeyAllowlist = "ti:whitelist"
	KeyDenylist  = "ti:blacklist"

	KeyLocalPrefix = "ti:local:"
	KeyOSINTPrefix = "ti:osint:"

	KeyAPIKeys   = "ti:api_keys"
	KeyAPIKeysV2 = "ti:api_keys_v2"

	KeyLocalTotal       = "ti:stats:local_total"
	KeyOSINTTotal       = "ti:stats:osint_total"
	KeyLocalWindow      = "ti:stats:local_new_24h"
	KeyOSINTLastCycle   = "ti:stats:osint_last_cycle"
	KeyAllowlistIPCount = "ti:stats:whitelist_ip_count"
	KeyDenylistIPCount  = "ti:stats:blacklist_ip_count"
)

func LocalKey(ip string) string {
	return KeyLocalPrefix + ip
}

func OSINTKey(ip string) string {
	return KeyOSINTPrefix + ip
}

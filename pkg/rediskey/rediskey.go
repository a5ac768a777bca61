package rediskey

import "fmt"

// Key prefixes shared by every service touching redis.
const (
	PolicyPrefix   = "policy"
	SequencePrefix = "seq"
	LockPrefix     = "lock"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildPolicyTimeoutKey returns "policy:timeout:{missionType}"
func BuildPolicyTimeoutKey(missionType string) string {
	return NamespaceKey(PolicyPrefix, "timeout:"+missionType)
}

// BuildPolicyMinPayoutKey returns "policy:min_payout"
func BuildPolicyMinPayoutKey() string {
	return NamespaceKey(PolicyPrefix, "min_payout")
}

// BuildSequenceKey returns "seq:{prefix}:{day}"
func BuildSequenceKey(prefix, day string) string {
	return fmt.Sprintf("%s:%s:%s", SequencePrefix, prefix, day)
}

// BuildLockKey returns "lock:{name}"
func BuildLockKey(name string) string {
	return NamespaceKey(LockPrefix, name)
}

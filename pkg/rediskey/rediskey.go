package rediskey

import "fmt"

const (
	SequencePrefix  = "seq:cert"
	RateLimitPrefix = "ratelimit"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildCertificateSequenceKey returns "seq:cert:{licenseeCode}:{yearMonth}"
func BuildCertificateSequenceKey(licenseeCode, yearMonth string) string {
	return NamespaceKey(SequencePrefix, fmt.Sprintf("%s:%s", licenseeCode, yearMonth))
}

// BuildRateLimitKey returns "ratelimit:{action}:{callerKey}:{windowStart}"
func BuildRateLimitKey(action, callerKey string, windowStart int64) string {
	return NamespaceKey(RateLimitPrefix, fmt.Sprintf("%s:%s:%d", action, callerKey, windowStart))
}

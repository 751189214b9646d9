package store

import "time"

// Counter key layout. Day buckets use the UTC date, hour buckets the UTC hour.
const (
	dayLayout  = "2006-01-02"
	hourLayout = "2006-01-02-15"
)

// Retention of counter buckets in the fast store.
const (
	DayBucketTTL  = 8 * 24 * time.Hour
	HourBucketTTL = 48 * time.Hour
)

// DayBucket formats t as a daily bucket suffix.
func DayBucket(t time.Time) string {
	return t.UTC().Format(dayLayout)
}

// HourBucket formats t as an hourly bucket suffix.
func HourBucket(t time.Time) string {
	return t.UTC().Format(hourLayout)
}

// DailyKey counts every event of a day.
func DailyKey(day string) string {
	return "errors:daily:" + day
}

// HourlyKey counts every event of an hour.
func HourlyKey(hour string) string {
	return "errors:hourly:" + hour
}

// TypeKey counts the events of one failure type per day.
func TypeKey(typ, day string) string {
	return "errors:type:" + typ + ":" + day
}

// TypeKeyPattern matches every type key of a day.
func TypeKeyPattern(day string) string {
	return "errors:type:*:" + day
}

// ComponentKey counts the events of one component per day.
func ComponentKey(component, day string) string {
	return "errors:component:" + component + ":" + day
}

// ComponentKeyPattern matches every component key of a day.
func ComponentKeyPattern(day string) string {
	return "errors:component:*:" + day
}

// UniqueKey is the set of distinct hashes seen in a day.
func UniqueKey(day string) string {
	return "errors:unique:" + day
}

// RecentKey is the rolling recent-occurrence counter of a hash.
func RecentKey(hash string) string {
	return "errors:recent:" + hash
}

// DimensionFromKey extracts the dimension value from a type or component key
// built for the given day. Returns false if key does not have that shape.
func DimensionFromKey(key, prefix, day string) (string, bool) {
	head := prefix
	tail := ":" + day
	if len(key) <= len(head)+len(tail) || key[:len(head)] != head || key[len(key)-len(tail):] != tail {
		return "", false
	}
	return key[len(head) : len(key)-len(tail)], true
}

// Prefixes of the dimension keys, for DimensionFromKey.
const (
	TypeKeyPrefix      = "errors:type:"
	ComponentKeyPrefix = "errors:component:"
)

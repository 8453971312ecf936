package worker

import "sort"

// Version names the cache partitions owned by one cache generation
type Version struct {
	Tag     string
	Static  string
	Dynamic string
}

// NewVersion derives the partition names for a version tag
func NewVersion(tag string) Version {
	return Version{
		Tag:     tag,
		Static:  "static-" + tag,
		Dynamic: "dynamic-" + tag,
	}
}

// Owns reports whether the partition belongs to this version
func (v Version) Owns(partition string) bool {
	return partition == v.Static || partition == v.Dynamic
}

// StalePartitions returns the existing partitions the version does not own, sorted
func StalePartitions(existing []string, v Version) []string {
	var stale []string
	for _, name := range existing {
		if !v.Owns(name) {
			stale = append(stale, name)
		}
	}
	sort.Strings(stale)
	return stale
}

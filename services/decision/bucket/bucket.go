// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bucket implements deterministic traffic bucketing.
//
// Bucketing is a pure function of (bucketing ID, entity ID): the same
// pair always lands in the same bucket, on any instance, with no
// stored state. Entities divide the bucket space [0, 10000) among
// their variations via half-open endOfRange markers.
package bucket

import (
	"hash/fnv"

	"github.com/AleutianAI/AleutianDecide/services/decision/datafile"
)

// Value hashes a bucketing ID against an entity ID and scales the
// result into the bucket space [0, MaxBucketValue).
func Value(bucketingID, entityID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(bucketingID + entityID))
	return int(h.Sum32() % uint32(datafile.MaxBucketValue))
}

// Bucket assigns a bucketing ID to an allocation entity.
//
// Allocations are scanned in order; the first range whose endOfRange
// exceeds the hashed bucket value wins. Falling through past the last
// range means the user is not allocated.
//
// Parameters:
//   - bucketingID: User ID (or explicit bucketing attribute)
//   - entityID: Experiment, layer or holdout ID salting the hash
//   - allocs: Ordered traffic allocation ranges
//
// Returns:
//   - string: Winning entity (variation) ID, or "" when unallocated
func Bucket(bucketingID, entityID string, allocs []datafile.TrafficAllocation) string {
	v := Value(bucketingID, entityID)
	for _, a := range allocs {
		if v < a.EndOfRange {
			return a.EntityID
		}
	}
	return ""
}

// InRange reports whether the bucketing ID falls inside a single
// percentage gate of the bucket space, as used by bandit traffic
// allocation.
func InRange(bucketingID, entityID string, endOfRange int) bool {
	return Value(bucketingID, entityID) < endOfRange
}

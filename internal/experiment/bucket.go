package experiment

import (
	"hash/fnv"
	"time"
)

// variantSalt keeps the variant-selection hash independent of the
// participation hash for the same (user, experiment) pair.
const variantSalt = "variant"

// Choose deterministically decides participation and variant for one user.
// It is a pure function of its inputs: no randomness, no external state.
// Malformed configuration never fails the call; an empty variant list means
// "not participating" and weights short of 100 fall back to the first
// variant once the bucket passes the total.
func Choose(exp Experiment, userID string, now time.Time) Decision {
	d := Decision{ExperimentID: exp.ID, UserID: userID}

	if !exp.Active || len(exp.Variants) == 0 {
		return d
	}
	if exp.StartsAt != nil && now.Before(*exp.StartsAt) {
		return d
	}
	if exp.EndsAt != nil && now.After(*exp.EndsAt) {
		return d
	}
	if gateBucket(userID, exp.ID) > exp.TrafficAllocation {
		return d
	}

	d.Participating = true
	d.VariantID = pickVariant(exp, userID)
	return d
}

// pickVariant walks the variant list in declaration order, accumulating
// weights until the bucket falls inside a variant's share.
func pickVariant(exp Experiment, userID string) string {
	b := variantBucket(userID, exp.ID)
	total := 0
	for _, v := range exp.Variants {
		total += v.Weight
		if b < total {
			return v.ID
		}
	}
	// Weights summing below 100 can leave the bucket past the total.
	return exp.Variants[0].ID
}

// gateBucket maps (userID, experimentID) to [1,100] for the traffic gate.
func gateBucket(userID, experimentID string) int {
	return int(bucketHash(userID, experimentID, "")%100) + 1
}

// variantBucket maps (userID, experimentID) to [0,100) for variant
// selection, salted so it does not correlate with the gate.
func variantBucket(userID, experimentID string) int {
	return int(bucketHash(userID, experimentID, variantSalt) % 100)
}

func bucketHash(userID, experimentID, salt string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(userID))
	h.Write([]byte{':'})
	h.Write([]byte(experimentID))
	if salt != "" {
		h.Write([]byte{':'})
		h.Write([]byte(salt))
	}
	return h.Sum32()
}

package domain

// RecognizedIntent is one atomic unit of user meaning. OriginalFragment is a
// byte-exact substring of the utterance it came from.
type RecognizedIntent struct {
	Kind             IntentKind `json:"type"`
	Summary          string     `json:"summary"`
	OriginalFragment string     `json:"original_fragment"`
}

// SecurityBucketing partitions a set of intents into three disjoint buckets.
type SecurityBucketing struct {
	Valid            []RecognizedIntent `json:"valid_queries"`
	NeedsAccessCheck []RecognizedIntent `json:"needs_access_check"`
	Dangerous        []RecognizedIntent `json:"dangerous_queries"`
}

// Len returns the total number of bucketed intents.
func (b SecurityBucketing) Len() int {
	return len(b.Valid) + len(b.NeedsAccessCheck) + len(b.Dangerous)
}

// Add appends the intent to the named bucket.
func (b *SecurityBucketing) Add(bucket Bucket, in RecognizedIntent) {
	switch bucket {
	case BucketValid:
		b.Valid = append(b.Valid, in)
	case BucketNeedsAccessCheck:
		b.NeedsAccessCheck = append(b.NeedsAccessCheck, in)
	default:
		b.Dangerous = append(b.Dangerous, in)
	}
}

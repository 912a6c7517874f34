package memory

import "sort"

// MergeStrategy combines the authoritative primary-store results with the
// best-effort index matches into one ranked result set.
type MergeStrategy interface {
	Merge(primary []*Memory, matches []IndexMatch, count int) []*Memory
}

// ScoreMerge is the default strategy: results are keyed by id, the primary
// store wins on collision (its row may carry fresher content than the index
// mirror), and the merged set is sorted by descending similarity and
// truncated to count.
type ScoreMerge struct{}

// Merge implements MergeStrategy
func (ScoreMerge) Merge(primary []*Memory, matches []IndexMatch, count int) []*Memory {
	seen := make(map[string]*Memory, len(primary)+len(matches))
	merged := make([]*Memory, 0, len(primary)+len(matches))

	for _, mem := range primary {
		if _, ok := seen[mem.ID]; ok {
			continue
		}
		seen[mem.ID] = mem
		merged = append(merged, mem)
	}

	for _, match := range matches {
		if existing, ok := seen[match.ID]; ok {
			// Authoritative row wins; keep the better score
			if match.Score > existing.Similarity {
				existing.Similarity = match.Score
			}
			continue
		}
		if match.Metadata == nil {
			continue
		}
		mem := match.Metadata.ToMemory(match.ID, match.Score)
		seen[match.ID] = mem
		merged = append(merged, mem)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Similarity > merged[j].Similarity
	})

	if count > 0 && len(merged) > count {
		merged = merged[:count]
	}

	return merged
}

package join

// Summary counts records per relation type. SuccessRate is the share of
// source features that found any target, or 0 for an empty run.
type Summary struct {
	Total       int     `json:"total"`
	Contained   int     `json:"contained"`
	Partial     int     `json:"partial_overlap"`
	None        int     `json:"no_intersection"`
	SuccessRate float64 `json:"success_rate"`
}

func Summarize(records []MatchRecord) Summary {
	s := Summary{Total: len(records)}
	matched := 0
	for _, r := range records {
		switch r.Relation {
		case Contained:
			s.Contained++
		case PartialOverlap:
			s.Partial++
		default:
			s.None++
		}
		if r.Matched() {
			matched++
		}
	}
	if s.Total > 0 {
		s.SuccessRate = float64(matched) / float64(s.Total)
	}
	return s
}

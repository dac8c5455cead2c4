package engine

// summarize computes trajectory statistics. Ties on the minimum resolve to
// the earliest occurrence.
func summarize(series []Point) Summary {
	if len(series) == 0 {
		return Summary{}
	}

	min := series[0]
	max := series[0]
	for _, p := range series[1:] {
		if p.BG < min.BG {
			min = p
		}
		if p.BG > max.BG {
			max = p
		}
	}

	return Summary{
		MinBG:            min.BG,
		MaxBG:            max.BG,
		EndingBG:         series[len(series)-1].BG,
		TimeToMinMinutes: min.TMinutes,
	}
}

package hybrid

// BorderlinePolicy decides when the ML predictor is worth consulting: a rich
// history window, or readings inside the ambiguous moisture/temperature band
// (both bounds exclusive)
type BorderlinePolicy struct {
	HistoryMin  int
	MoistureMin float64
	MoistureMax float64
	TempMin     float64
	TempMax     float64
}

func DefaultBorderline() BorderlinePolicy {
	return BorderlinePolicy{
		HistoryMin:  5,
		MoistureMin: 40,
		MoistureMax: 60,
		TempMin:     20,
		TempMax:     30,
	}
}

func (p BorderlinePolicy) IsBorderline(in Input) bool {
	if p.HistoryMin > 0 && len(in.History) >= p.HistoryMin {
		return true
	}
	r := in.Reading
	return r.Moisture > p.MoistureMin && r.Moisture < p.MoistureMax &&
		r.Temperature > p.TempMin && r.Temperature < p.TempMax
}

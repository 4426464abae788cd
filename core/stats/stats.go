// Package stats accumulates per-direction SNR samples for the amplifier-off
// and amplifier-on phases of a test run.
package stats

// ChannelStats is a running sum over the SNR samples of one link direction.
// The average is undefined while Count is zero.
type ChannelStats struct {
	Count int
	Sum   float64
}

// Add records one sample.
func (c *ChannelStats) Add(v float64) {
	c.Count++
	c.Sum += v
}

// Average returns Sum/Count, or false if no samples have been recorded.
func (c ChannelStats) Average() (float64, bool) {
	if c.Count == 0 {
		return 0, false
	}
	return c.Sum / float64(c.Count), true
}

// PhaseStats holds the samples accepted while the amplifier was in one state.
type PhaseStats struct {
	Samples        int
	RoofToMountain ChannelStats
	MountainToRoof ChannelStats
}

// AddSample records an accepted traceroute sample. Either direction may be
// missing (nil) when the response did not carry that hop's reading; the
// sample still counts towards Samples.
func (p *PhaseStats) AddSample(roofToMountain, mountainToRoof *float64) {
	p.Samples++
	if roofToMountain != nil {
		p.RoofToMountain.Add(*roofToMountain)
	}
	if mountainToRoof != nil {
		p.MountainToRoof.Add(*mountainToRoof)
	}
}

// AverageStats is a reporting snapshot of both phases. Nil averages are
// undefined (no samples in that direction).
type AverageStats struct {
	OffSamples          int      `json:"lna_off_samples"`
	OffRoofToMountain   *float64 `json:"lna_off_roof_to_mtn"`
	OffMountainToRoof   *float64 `json:"lna_off_mtn_to_roof"`
	OnSamples           int      `json:"lna_on_samples"`
	OnRoofToMountain    *float64 `json:"lna_on_roof_to_mtn"`
	OnMountainToRoof    *float64 `json:"lna_on_mtn_to_roof"`
	DeltaRoofToMountain *float64 `json:"delta_roof_to_mtn"`
	DeltaMountainToRoof *float64 `json:"delta_mtn_to_roof"`
}

// Snapshot builds an AverageStats from the off and on phase accumulators.
// Each delta is on minus off and is defined only if both averages are.
func Snapshot(off, on PhaseStats) AverageStats {
	s := AverageStats{
		OffSamples:        off.Samples,
		OffRoofToMountain: avg(off.RoofToMountain),
		OffMountainToRoof: avg(off.MountainToRoof),
		OnSamples:         on.Samples,
		OnRoofToMountain:  avg(on.RoofToMountain),
		OnMountainToRoof:  avg(on.MountainToRoof),
	}
	s.DeltaRoofToMountain = delta(s.OnRoofToMountain, s.OffRoofToMountain)
	s.DeltaMountainToRoof = delta(s.OnMountainToRoof, s.OffMountainToRoof)
	return s
}

func avg(c ChannelStats) *float64 {
	v, ok := c.Average()
	if !ok {
		return nil
	}
	return &v
}

func delta(on, off *float64) *float64 {
	if on == nil || off == nil {
		return nil
	}
	d := *on - *off
	return &d
}

package scan

// Data holds one sweep's ascending-leg voltages and the two photodiode traces
// sampled over it. It is allocated per sweep and never shared between sweeps.
type Data struct {
	Voltages []float64 `json:"voltages"`
	P1       []float64 `json:"p1"` // cavity reference photodiode
	P2       []float64 `json:"p2"` // laser photodiode
}

// NewData allocates zeroed traces sized for p.
func NewData(p *Parameters) *Data {
	return &Data{
		Voltages: p.Voltages(),
		P1:       make([]float64, p.Steps()),
		P2:       make([]float64, p.Steps()),
	}
}

// Len returns the number of samples.
func (d *Data) Len() int { return len(d.Voltages) }

package toxicity

import "context"

// Sample is a human-labeled text used to measure classifier quality.
type Sample struct {
	Text  string `json:"text" yaml:"text"`
	Toxic bool   `json:"toxic" yaml:"toxic"`
}

type Evaluation struct {
	TruePositives     int     `json:"true_positives"`
	FalsePositives    int     `json:"false_positives"`
	TrueNegatives     int     `json:"true_negatives"`
	FalseNegatives    int     `json:"false_negatives"`
	Precision         float64 `json:"precision"`
	Recall            float64 `json:"recall"`
	FalsePositiveRate float64 `json:"false_positive_rate"`
}

// Evaluate classifies every sample and compares the outcome with its label.
func (c *Classifier) Evaluate(ctx context.Context, samples []Sample) (*Evaluation, error) {
	var ev Evaluation
	for _, s := range samples {
		score, err := c.Classify(ctx, s.Text)
		if err != nil {
			return nil, err
		}
		switch {
		case score.Toxic && s.Toxic:
			ev.TruePositives++
		case score.Toxic && !s.Toxic:
			ev.FalsePositives++
		case !score.Toxic && s.Toxic:
			ev.FalseNegatives++
		default:
			ev.TrueNegatives++
		}
	}
	if n := ev.TruePositives + ev.FalsePositives; n > 0 {
		ev.Precision = float64(ev.TruePositives) / float64(n)
	}
	if n := ev.TruePositives + ev.FalseNegatives; n > 0 {
		ev.Recall = float64(ev.TruePositives) / float64(n)
	}
	if n := ev.FalsePositives + ev.TrueNegatives; n > 0 {
		ev.FalsePositiveRate = float64(ev.FalsePositives) / float64(n)
	}
	return &ev, nil
}

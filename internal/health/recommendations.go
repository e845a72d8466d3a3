package health

import "fmt"

// Recommendation is an advisory message attached to a health snapshot.
// Recommendations never trigger behavior changes on their own.
type Recommendation struct {
	Priority string `json:"priority"` // high, medium, low
	Message  string `json:"message"`
}

// recommendations derives the advisory list from the current snapshot
// inputs. Rules fire independently; an empty list means no action needed.
func (s *Scorer) recommendations(score, errorRate, avgLatencyMS, pressure float64) []Recommendation {
	recs := []Recommendation{}

	for provider, status := range s.tracker.Status() {
		if status.Limit > 0 && status.UsageFraction >= 0.9 {
			recs = append(recs, Recommendation{
				Priority: "high",
				Message: fmt.Sprintf("%s is near its rate limit (%d/%d), consider relying on cached data",
					provider, status.Current, status.Limit),
			})
		}
	}

	if pressure > 0.8 {
		recs = append(recs, Recommendation{
			Priority: "medium",
			Message:  "overall quota pressure is high, increase cache TTLs or reduce refresh frequency",
		})
	}

	if errorRate > 0.3 {
		recs = append(recs, Recommendation{
			Priority: "high",
			Message:  fmt.Sprintf("request error rate is %.0f%%, check provider connectivity", errorRate*100),
		})
	}

	thresholdMS := float64(s.weights.LatencyThreshold.Milliseconds())
	if thresholdMS > 0 && avgLatencyMS > thresholdMS {
		recs = append(recs, Recommendation{
			Priority: "medium",
			Message:  fmt.Sprintf("average response time is %.0fms, upstream providers are slow", avgLatencyMS),
		})
	}

	if score < 60 {
		recs = append(recs, Recommendation{
			Priority: "high",
			Message:  "system health is critical, review provider usage and recent failures",
		})
	}

	return recs
}

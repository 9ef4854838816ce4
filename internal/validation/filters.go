package validation

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/accafreeze-engine/internal/model"
)

// Rejection records why a market was not published
type Rejection struct {
	FixtureID string         `json:"fixture_id"`
	MarketID  model.MarketID `json:"market_id"`
	Rule      string         `json:"rule"`
	Reason    string         `json:"reason"`
}

// concurrentThreshold is the batch size from which Filter fans out
const concurrentThreshold = 100

// Filter reviews every market and splits them into approved markets and
// rejections. The input order is preserved in both outputs. Risk assessments
// are written back into the slice.
func (g *Gate) Filter(ctx context.Context, markets []model.EvaluatedMarket) ([]model.EvaluatedMarket, []Rejection) {
	decisions := make([]Decision, len(markets))

	if len(markets) < concurrentThreshold {
		for i := range markets {
			decisions[i] = g.Review(ctx, &markets[i])
		}
	} else {
		workerCount := 4
		chunkSize := (len(markets) + workerCount - 1) / workerCount
		var wg sync.WaitGroup

		for start := 0; start < len(markets); start += chunkSize {
			end := start + chunkSize
			if end > len(markets) {
				end = len(markets)
			}
			wg.Add(1)
			go func(start, end int) {
				defer wg.Done()
				for i := start; i < end; i++ {
					decisions[i] = g.Review(ctx, &markets[i])
				}
			}(start, end)
		}
		wg.Wait()
	}

	var approved []model.EvaluatedMarket
	var rejected []Rejection
	for i, d := range decisions {
		m := markets[i]
		if d.Approved() {
			approved = append(approved, m)
			continue
		}
		rejected = append(rejected, Rejection{
			FixtureID: m.FixtureID,
			MarketID:  m.MarketID,
			Rule:      d.Rule,
			Reason:    d.Reason,
		})
		logrus.WithFields(logrus.Fields{
			"fixture": m.FixtureID,
			"market":  m.MarketID,
			"rule":    d.Rule,
		}).Debug("Market rejected")
	}

	logrus.WithFields(logrus.Fields{
		"total":    len(markets),
		"approved": len(approved),
		"rejected": len(rejected),
	}).Debug("Validation complete")

	return approved, rejected
}

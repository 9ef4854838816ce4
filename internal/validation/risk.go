package validation

import (
	"context"
	"fmt"
	"strings"

	"github.com/yourorg/accafreeze-engine/internal/model"
)

// BookmakerRiskAssessor rejects prices from blocklisted bookmakers and
// prices above an exposure cap.
type BookmakerRiskAssessor struct {
	blocked map[string]bool

	// MaxExposureOdds caps the accepted price; zero disables the cap
	MaxExposureOdds float64
}

// NewBookmakerRiskAssessor creates an assessor. Bookmaker names are matched
// case-insensitively.
func NewBookmakerRiskAssessor(blocklist []string, maxExposureOdds float64) *BookmakerRiskAssessor {
	blocked := make(map[string]bool, len(blocklist))
	for _, b := range blocklist {
		if b = strings.ToLower(strings.TrimSpace(b)); b != "" {
			blocked[b] = true
		}
	}
	return &BookmakerRiskAssessor{blocked: blocked, MaxExposureOdds: maxExposureOdds}
}

// Assess implements RiskAssessor
func (r *BookmakerRiskAssessor) Assess(ctx context.Context, m model.EvaluatedMarket) (*model.RiskAssessment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.blocked[strings.ToLower(m.Bookmaker)] {
		return &model.RiskAssessment{
			IsApproved:      false,
			RejectionReason: fmt.Sprintf("bookmaker %s is blocklisted", m.Bookmaker),
		}, nil
	}
	if r.MaxExposureOdds > 0 && m.Odds > r.MaxExposureOdds {
		return &model.RiskAssessment{
			IsApproved:      false,
			RejectionReason: fmt.Sprintf("odds %.2f exceed exposure cap %.2f", m.Odds, r.MaxExposureOdds),
		}, nil
	}
	return &model.RiskAssessment{IsApproved: true}, nil
}

package security

import (
	"context"
	"fmt"
	"net/url"
)

type rugCheckRisk struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Level       string `json:"level"`
}

type rugCheckSummary struct {
	Score float64        `json:"score"`
	Risks []rugCheckRisk `json:"risks"`
}

func (s *Scanner) scanRugCheck(ctx context.Context, mint string) (Result, error) {
	var summary rugCheckSummary
	path := "/v1/tokens/" + url.PathEscape(mint) + "/report/summary"
	if err := s.rugcheck.GetJSON(ctx, path, nil, &summary); err != nil {
		return Result{}, fmt.Errorf("rugcheck summary %s: %w", mint, err)
	}

	var risks []Risk
	for _, r := range summary.Risks {
		name := r.Name
		if name == "" {
			name = r.Description
		}
		if name == "" {
			name = "Unknown risk"
		}
		switch r.Level {
		case "danger", "critical":
			risks = append(risks, Risk{Name: name, Critical: true})
		case "warn", "warning":
			risks = append(risks, Risk{Name: name})
		}
	}
	return judge("rugcheck", risks), nil
}

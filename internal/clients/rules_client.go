package clients

import (
	"context"
	"net/http"
	"net/url"

	"circulus/internal/result"
	"circulus/internal/rules"
)

// RulesClient asks the circulation rules engine which loan policy applies.
type RulesClient struct {
	baseClient
}

func NewRulesClient(baseURL string, httpClient *http.Client) *RulesClient {
	return &RulesClient{baseClient: newBaseClient("circulation-rules", baseURL, httpClient)}
}

func (c *RulesClient) ResolveLoanPolicyID(ctx context.Context, criteria rules.Criteria) (string, error) {
	query := url.Values{
		"item_type_id":         []string{criteria.MaterialTypeID},
		"loan_type_id":         []string{criteria.LoanTypeID},
		"patron_type_id":       []string{criteria.PatronGroupID},
		"shelving_location_id": []string{criteria.LocationID},
	}

	var resolved struct {
		LoanPolicyID string `json:"loanPolicyId"`
	}
	if err := c.getJSON(ctx, "/circulation/rules/loan-policy", query, "loan policy rule", criteria.Key(), &resolved); err != nil {
		return "", err
	}
	if resolved.LoanPolicyID == "" {
		return "", result.Server("circulation rules did not resolve a loan policy for %s", criteria.Key())
	}
	return resolved.LoanPolicyID, nil
}

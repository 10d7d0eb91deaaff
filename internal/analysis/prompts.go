package analysis

import (
	"fmt"
	"strings"

	"RegScanner/internal/domain"
)

const systemPrompt = `You are a regulatory compliance analyst for a US wealth management firm (RIA, broker-dealer and retirement plan businesses).
Respond with a single JSON object and nothing else.`

func relevancePrompt(item domain.RawItem) string {
	return fmt.Sprintf(`Is this regulatory item relevant to wealth management (RIA, Broker-Dealer, Retirement)?
Source: %s (%s)
Title: %s
Summary: %s
Return JSON: {"relevant": true|false, "business_area": "RIA|Broker-Dealer|Retirement|AML|Other", "reason": "short reason"}`,
		item.Source, item.Type, clip(item.Title, 200), clip(item.SummaryRaw, 500))
}

func impactPrompt(item domain.RawItem, area domain.BusinessArea) string {
	return fmt.Sprintf(`Score the business impact of this item for the %s business on a 1-5 scale.
Title: %s
Summary: %s
Dimensions: severity, time_sensitivity, operational_effort, customer_impact, enforcement_risk
Return JSON: {"severity": 1-5, "time_sensitivity": 1-5, "operational_effort": 1-5, "customer_impact": 1-5, "enforcement_risk": 1-5, "overall": "Low|Medium|High|Critical"}`,
		area, clip(item.Title, 100), clip(item.SummaryRaw, 500))
}

func summaryPrompt(item domain.RawItem, impact domain.Impact) string {
	return fmt.Sprintf(`Write an executive summary of at most 5 bullets for: %s
Impact tier: %s
Cover: what happened, who is affected, what changes, timing, evidence needed.
Return JSON: {"summary": ["bullet1", "bullet2", "bullet3", "bullet4", "bullet5"]}`,
		clip(item.Title, 100), impact.Overall)
}

func tasksPrompt(item domain.RawItem, area domain.BusinessArea, impact domain.Impact) string {
	return fmt.Sprintf(`Generate 3-5 actionable compliance tasks for: %s
Business area: %s. Impact tier: %s.
Return JSON: {"tasks": [{"task": "action", "owner_role": "Compliance|Legal|Ops|Tech", "due_window": "Now|30|60|90", "evidence_artifact": "policy|training|comms", "dependency": "none"}]}`,
		clip(item.Title, 100), area, impact.Overall)
}

// clip cuts s to at most n runes.
func clip(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

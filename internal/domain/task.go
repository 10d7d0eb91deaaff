package domain

import (
	"fmt"
	"strings"
)

// BusinessArea is the line of business an item applies to.
type BusinessArea string

const (
	AreaRIA          BusinessArea = "RIA"
	AreaBrokerDealer BusinessArea = "Broker-Dealer"
	AreaRetirement   BusinessArea = "Retirement"
	AreaAML          BusinessArea = "AML"
	AreaOther        BusinessArea = "Other"
)

var businessAreas = []BusinessArea{AreaRIA, AreaBrokerDealer, AreaRetirement, AreaAML, AreaOther}

// NormalizeBusinessArea maps free-form model output onto a known area.
func NormalizeBusinessArea(value string) BusinessArea {
	v := normalizeKey(value)
	for _, area := range businessAreas {
		if normalizeKey(string(area)) == v {
			return area
		}
	}
	switch v {
	case "brokerdealer", "bd", "broker":
		return AreaBrokerDealer
	case "investmentadviser", "investmentadvisor", "ria":
		return AreaRIA
	}
	return AreaOther
}

// OwnerRole is the team accountable for a task.
type OwnerRole string

const (
	OwnerCompliance OwnerRole = "Compliance"
	OwnerLegal      OwnerRole = "Legal"
	OwnerOps        OwnerRole = "Ops"
	OwnerTech       OwnerRole = "Tech"
)

var ownerRoles = []OwnerRole{OwnerCompliance, OwnerLegal, OwnerOps, OwnerTech}

// NormalizeOwnerRole maps free-form model output onto a known role.
func NormalizeOwnerRole(value string) OwnerRole {
	v := normalizeKey(value)
	for _, role := range ownerRoles {
		if normalizeKey(string(role)) == v {
			return role
		}
	}
	switch v {
	case "operations":
		return OwnerOps
	case "technology", "it", "engineering":
		return OwnerTech
	}
	return OwnerCompliance
}

// DueWindow is the number of days (or Now) a task should be done within.
type DueWindow string

const (
	DueNow DueWindow = "Now"
	Due30  DueWindow = "30"
	Due60  DueWindow = "60"
	Due90  DueWindow = "90"
)

// NormalizeDueWindow accepts "30", "30 days", "now", etc.
func NormalizeDueWindow(value string) DueWindow {
	v := normalizeKey(value)
	v = strings.TrimSuffix(v, "days")
	v = strings.TrimSuffix(v, "d")
	switch v {
	case "now", "immediate", "immediately", "0":
		return DueNow
	case "30":
		return Due30
	case "60":
		return Due60
	case "90":
		return Due90
	}
	return Due30
}

// Task is one actionable follow-up derived from an item.
type Task struct {
	Task             string    `json:"task"`
	OwnerRole        OwnerRole `json:"owner_role"`
	DueWindow        DueWindow `json:"due_window"`
	EvidenceArtifact string    `json:"evidence_artifact"`
	Dependency       string    `json:"dependency"`
}

// FallbackTask is the single task emitted when task generation fails.
func FallbackTask(title string) Task {
	return Task{
		Task:             fmt.Sprintf("Review %s", truncate(title, 50)),
		OwnerRole:        OwnerCompliance,
		DueWindow:        Due30,
		EvidenceArtifact: "memo",
		Dependency:       "none",
	}
}

func normalizeKey(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	replacer := strings.NewReplacer("-", "", "_", "", " ", "", "/", "")
	return replacer.Replace(value)
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}

// Package content holds the editable body of each planning-document kind.
// The workflow engine treats a body as opaque; everything that understands
// its shape lives here.
package content

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// SchemaVersion is the current shape of all three kinds. Older persisted
// bodies are upgraded on load, see Upgrade.
const SchemaVersion = 2

const (
	KindYouthPlan         = "youth-development-plan"
	KindInvestmentProgram = "investment-program"
	KindBudget            = "budget"
)

type YouthPlan struct {
	SchemaVersion int       `json:"schemaVersion"`
	Sections      []Section `json:"sections"`
}

type Section struct {
	Title   string       `json:"title"`
	Actions []PlanAction `json:"actions"`
}

type PlanAction struct {
	Name        string `json:"name"`
	Responsible string `json:"responsible"`
	Deadline    string `json:"deadline"`
	Status      string `json:"status"`
}

type InvestmentProgram struct {
	SchemaVersion int      `json:"schemaVersion"`
	Centers       []Center `json:"centers"`
}

type Center struct {
	Name     string    `json:"name"`
	Projects []Project `json:"projects"`
}

type Project struct {
	Name     string          `json:"name"`
	Expenses []Expense       `json:"expenses"`
	Total    decimal.Decimal `json:"total"`
}

type Expense struct {
	Item string          `json:"item"`
	Cost decimal.Decimal `json:"cost"`
}

type Budget struct {
	SchemaVersion int       `json:"schemaVersion"`
	Chapters      []Chapter `json:"chapters"`
}

type Chapter struct {
	Title string       `json:"title"`
	Lines []BudgetLine `json:"lines"`
}

type BudgetLine struct {
	Item   string          `json:"item"`
	Amount decimal.Decimal `json:"amount"`
}

// Default returns the empty body a freshly initiated document starts from.
func Default(kind string) (json.RawMessage, error) {
	var body any
	switch kind {
	case KindYouthPlan:
		body = YouthPlan{SchemaVersion: SchemaVersion, Sections: []Section{}}
	case KindInvestmentProgram:
		body = InvestmentProgram{SchemaVersion: SchemaVersion, Centers: []Center{}}
	case KindBudget:
		body = Budget{SchemaVersion: SchemaVersion, Chapters: []Chapter{}}
	default:
		return nil, fmt.Errorf("unknown document kind %q", kind)
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal default content: %w", err)
	}
	return raw, nil
}

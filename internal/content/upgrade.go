package content

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Upgrade migrates a persisted body to the current schema version. It
// returns the (possibly rewritten) body and whether it changed. Version 1
// bodies carried no schemaVersion field and no project totals; the total
// was recomputed from the expense list wherever it was displayed. The
// upgrade derives it once, here, so readers never default it ad hoc.
func Upgrade(kind string, raw json.RawMessage) (json.RawMessage, bool, error) {
	if len(raw) == 0 {
		fresh, err := Default(kind)
		return fresh, true, err
	}

	var probe struct {
		SchemaVersion int `json:"schemaVersion"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, false, fmt.Errorf("inspect content version: %w", err)
	}
	if probe.SchemaVersion >= SchemaVersion {
		return raw, false, nil
	}

	switch kind {
	case KindInvestmentProgram:
		var program InvestmentProgram
		if err := json.Unmarshal(raw, &program); err != nil {
			return nil, false, fmt.Errorf("decode v1 investment program: %w", err)
		}
		for ci := range program.Centers {
			for pi := range program.Centers[ci].Projects {
				project := &program.Centers[ci].Projects[pi]
				total := decimal.Zero
				for _, expense := range project.Expenses {
					total = total.Add(expense.Cost)
				}
				project.Total = total
			}
		}
		program.SchemaVersion = SchemaVersion
		upgraded, err := json.Marshal(program)
		if err != nil {
			return nil, false, fmt.Errorf("marshal upgraded investment program: %w", err)
		}
		return upgraded, true, nil
	case KindYouthPlan:
		var plan YouthPlan
		if err := json.Unmarshal(raw, &plan); err != nil {
			return nil, false, fmt.Errorf("decode v1 youth plan: %w", err)
		}
		plan.SchemaVersion = SchemaVersion
		upgraded, err := json.Marshal(plan)
		if err != nil {
			return nil, false, fmt.Errorf("marshal upgraded youth plan: %w", err)
		}
		return upgraded, true, nil
	case KindBudget:
		var budget Budget
		if err := json.Unmarshal(raw, &budget); err != nil {
			return nil, false, fmt.Errorf("decode v1 budget: %w", err)
		}
		budget.SchemaVersion = SchemaVersion
		upgraded, err := json.Marshal(budget)
		if err != nil {
			return nil, false, fmt.Errorf("marshal upgraded budget: %w", err)
		}
		return upgraded, true, nil
	default:
		return nil, false, fmt.Errorf("unknown document kind %q", kind)
	}
}

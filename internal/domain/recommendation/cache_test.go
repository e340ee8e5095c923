package recommendation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/complyhub/guidance-core/internal/domain/guidance"
)

func TestInputsHash(t *testing.T) {
	base := Inputs{UserID: "u1", Completed: guidance.NewStepSet("b", "a"), CurrentCategory: "finance", CompanyAgeDays: 10}

	same := Inputs{UserID: "u1", Completed: guidance.NewStepSet("a", "b"), CurrentCategory: "finance", CompanyAgeDays: 10}
	assert.Equal(t, base.Hash(), same.Hash(), "completed order does not matter")
	assert.Len(t, base.Hash(), 32)

	variants := []Inputs{
		{UserID: "u2", Completed: base.Completed, CurrentCategory: "finance", CompanyAgeDays: 10},
		{UserID: "u1", Completed: guidance.NewStepSet("a"), CurrentCategory: "finance", CompanyAgeDays: 10},
		{UserID: "u1", Completed: base.Completed, CurrentCategory: "tax-vat", CompanyAgeDays: 10},
		{UserID: "u1", Completed: base.Completed, CurrentCategory: "finance", CompanyAgeDays: 11},
	}
	for _, v := range variants {
		assert.NotEqual(t, base.Hash(), v.Hash())
	}

	neg := Inputs{UserID: "u1", CompanyAgeDays: -5}
	zero := Inputs{UserID: "u1"}
	assert.Equal(t, zero.Hash(), neg.Hash())
}

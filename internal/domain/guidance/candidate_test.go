package guidance

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complyhub/guidance-core/internal/domain/shared"
)

func catalog() []Step {
	return []Step{
		{ID: "register-company", SectionID: "company-setup", Difficulty: DifficultyMedium, DeadlineOffsetDays: IntPtr(14)},
		{ID: "open-bank-account", SectionID: "company-setup", Difficulty: DifficultyEasy, PrerequisiteIDs: []string{"register-company"}},
		{ID: "vat-register", SectionID: "tax-vat", Difficulty: DifficultyComplex, PrerequisiteIDs: []string{"register-company", "open-bank-account"}, DeadlineOffsetDays: IntPtr(30)},
		{ID: "privacy-policy", SectionID: "data-protection", Difficulty: DifficultyEasy, QuickWin: true},
	}
}

func TestAnnotate_DropsCompletedAndResolvesPrerequisites(t *testing.T) {
	got := Annotate(catalog(), NewStepSet("register-company"), 10)

	require.Len(t, got, 3)
	ids := []string{got[0].ID, got[1].ID, got[2].ID}
	assert.Equal(t, []string{"open-bank-account", "vat-register", "privacy-policy"}, ids)

	assert.True(t, got[0].PrerequisitesMet)
	assert.False(t, got[1].PrerequisitesMet, "open-bank-account still pending")
	assert.True(t, got[2].PrerequisitesMet, "no prerequisites means met")
}

func TestAnnotate_DeadlineDays(t *testing.T) {
	got := Annotate(catalog(), NewStepSet(), 20)

	if diff := cmp.Diff(IntPtr(-6), got[0].DeadlineDays); diff != "" {
		t.Errorf("overdue deadline mismatch (-want +got):\n%s", diff)
	}
	assert.Nil(t, got[1].DeadlineDays)
	require.NotNil(t, got[2].DeadlineDays)
	assert.Equal(t, 10, *got[2].DeadlineDays)
}

func TestAnnotate_NegativeCompanyAgeTreatedAsZero(t *testing.T) {
	got := Annotate(catalog()[:1], nil, -3)
	require.Len(t, got, 1)
	assert.Equal(t, 14, *got[0].DeadlineDays)
}

func TestStepValidate(t *testing.T) {
	ok := catalog()[0]
	assert.NoError(t, ok.Validate())

	bad := ok
	bad.Difficulty = "hard"
	assert.True(t, errors.Is(bad.Validate(), shared.ErrInvalidInput))

	self := ok
	self.PrerequisiteIDs = []string{ok.ID}
	assert.Error(t, self.Validate())

	neg := ok
	neg.EstimatedMinutes = -1
	assert.True(t, errors.Is(neg.Validate(), shared.ErrNegativeValue))
}

func TestSortSteps(t *testing.T) {
	sections := []Section{{ID: "tax-vat", Position: 2}, {ID: "company-setup", Position: 1}}
	steps := []Step{
		{ID: "b", SectionID: "tax-vat", Position: 1},
		{ID: "c", SectionID: "company-setup", Position: 2},
		{ID: "a", SectionID: "company-setup", Position: 1},
	}
	SortSteps(steps, sections)
	assert.Equal(t, "a", steps[0].ID)
	assert.Equal(t, "c", steps[1].ID)
	assert.Equal(t, "b", steps[2].ID)
}

func TestParseDifficulty(t *testing.T) {
	d, err := ParseDifficulty(" Easy ")
	require.NoError(t, err)
	assert.Equal(t, DifficultyEasy, d)

	_, err = ParseDifficulty("trivial")
	assert.Error(t, err)
}

package document

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complyhub/guidance-core/internal/domain/shared"
)

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory(" Tax-VAT ")
	require.NoError(t, err)
	assert.Equal(t, CategoryTaxVAT, c)

	_, err = ParseCategory("marketing")
	assert.True(t, errors.Is(err, shared.ErrInvalidInput))
}

func TestAllCategories(t *testing.T) {
	cats := AllCategories()
	assert.Len(t, cats, 6)
	for _, c := range cats {
		assert.True(t, c.IsValid(), c)
	}
}

func TestProgress_IsCompleted(t *testing.T) {
	now := time.Now()
	var zero time.Time

	assert.True(t, Progress{CompletedAt: &now}.IsCompleted())
	assert.False(t, Progress{}.IsCompleted())
	assert.False(t, Progress{CompletedAt: &zero}.IsCompleted())
}

func TestDocumentValidate(t *testing.T) {
	assert.NoError(t, Document{ID: "articles-of-association", Category: CategoryCompanySetup}.Validate())
	assert.Error(t, Document{ID: "gdpr-notice", Category: "privacy"}.Validate())
	assert.Error(t, Document{ID: "", Category: CategoryFinance}.Validate())
}

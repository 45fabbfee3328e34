package catalog_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"chessrelay/internal/catalog"
)

func TestSetLanguageWrapsModulo(t *testing.T) {
	defer catalog.SetLanguage(int(catalog.EN))

	catalog.SetLanguage(1)
	assert.Equal(t, catalog.DE, catalog.Language())

	catalog.SetLanguage(2) // 2 mod 2 == 0
	assert.Equal(t, catalog.EN, catalog.Language())

	catalog.SetLanguage(-1) // negative wraps to DE
	assert.Equal(t, catalog.DE, catalog.Language())
}

func TestKeyResolvesActiveLanguage(t *testing.T) {
	defer catalog.SetLanguage(int(catalog.EN))

	catalog.SetLanguage(int(catalog.EN))
	assert.Equal(t, "Authentication failed", catalog.AuthError.String())

	catalog.SetLanguage(int(catalog.DE))
	assert.Equal(t, "Fehler bei der Authentifizierung", catalog.AuthError.String())
}

func TestStringFallsBackToDefaultForm(t *testing.T) {
	assert.Equal(t, "42", catalog.String(42))
	assert.Equal(t, fmt.Sprint("plain"), catalog.String("plain"))
}

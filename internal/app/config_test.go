package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anfrage-erp/anfrage/internal/document"
	_ "github.com/anfrage-erp/anfrage/testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, StoreMemory, cfg.StoreDriver)
	assert.Equal(t, 2.0, cfg.ExportScale)
	assert.Equal(t, "requests", cfg.S3Prefix)
	assert.False(t, cfg.IsProduction())
	assert.True(t, InTestMode())
}

func TestLoadConfigRejectsUnknownDriver(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	_, err := LoadConfig()
	assert.ErrorContains(t, err, "unknown store driver")
}

func TestValidateExportScale(t *testing.T) {
	cfg := &Config{SessionSecret: "s", CSRFSecret: "c", StoreDriver: StoreMemory, ExportScale: 8}
	assert.Error(t, cfg.Validate())
	cfg.ExportScale = 2
	assert.NoError(t, cfg.Validate())
}

func TestCompanyFallsBackToDefault(t *testing.T) {
	cfg := &Config{CompanyName: "Beispiel AG"}
	company := cfg.Company()
	assert.Equal(t, "Beispiel AG", company.Name)
	assert.Equal(t, document.DefaultCompany.Street, company.Street)
}

func TestAllowedOrigins(t *testing.T) {
	cfg := &Config{CORSAllowedOrigins: " https://a.example , ,https://b.example"}
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins())
	assert.Nil(t, (&Config{}).AllowedOrigins())
}

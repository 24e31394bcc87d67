package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "memory", cfg.StorageDriver)
	assert.Equal(t, DefaultAllowedTypes(), cfg.AllowedTypes)
	assert.Equal(t, int64(DefaultMaxFileSize), cfg.MaxUploadBytes)
	assert.True(t, cfg.ResumeLatest)
	assert.NoError(t, cfg.WidgetFileErr)
	assert.Equal(t, "InnovaQuest", cfg.Widget.Branding.Name)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("STORAGE_DRIVER", "bolt")
	t.Setenv("RATE_LIMIT_WINDOW", "2m")
	t.Setenv("ALLOWED_FILE_TYPES", "image/png, text/csv ,")
	t.Setenv("RESUME_LATEST", "false")
	t.Setenv("RATE_LIMIT_REQUESTS", "not-a-number")

	cfg := Load()

	assert.Equal(t, "9999", cfg.ServerPort)
	assert.Equal(t, "bolt", cfg.StorageDriver)
	assert.Equal(t, 2*time.Minute, cfg.RateLimitWindow)
	assert.Equal(t, []string{"image/png", "text/csv"}, cfg.AllowedTypes)
	assert.False(t, cfg.ResumeLatest)
	assert.Equal(t, 60, cfg.RateLimitRequests)
}

func TestWidgetMergeKeepsDefaultsForEmptyFields(t *testing.T) {
	merged := DefaultWidget().Merge(WidgetConfig{
		Webhook:  WebhookConfig{Route: "sales"},
		Branding: BrandingConfig{Name: "Acme Support"},
		Style:    StyleConfig{Position: "left"},
	})

	assert.Equal(t, "sales", merged.Webhook.Route)
	assert.Equal(t, DefaultWidget().Webhook.URL, merged.Webhook.URL)
	assert.Equal(t, "Acme Support", merged.Branding.Name)
	assert.Equal(t, "Powered by InnovaQuest", merged.Branding.PoweredBy.Text)
	assert.Equal(t, "left", merged.Style.Position)
	assert.Equal(t, "#854fff", merged.Style.PrimaryColor)
}

func TestLoadWidgetFileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "widget.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"webhook": {"url": "https://hooks.example.com/chat", "timeout": "5s"},
		"branding": {"name": "File Brand", "poweredBy": {"link": "https://example.com"}}
	}`), 0o600))
	t.Setenv("WIDGET_BRAND_NAME", "Env Brand")

	cfg, err := LoadWidget(path)
	require.NoError(t, err)

	assert.Equal(t, "https://hooks.example.com/chat", cfg.Webhook.URL)
	assert.Equal(t, Duration(5*time.Second), cfg.Webhook.Timeout)
	assert.Equal(t, "Env Brand", cfg.Branding.Name)
	assert.Equal(t, "https://example.com", cfg.Branding.PoweredBy.Link)
	assert.Equal(t, DefaultAttachmentField, cfg.Webhook.AttachmentField)
}

func TestLoadWidgetBadFileFallsBackToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "widget.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o600))

	cfg, err := LoadWidget(path)

	assert.Error(t, err)
	assert.Equal(t, DefaultWidget(), cfg)
}

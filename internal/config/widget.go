package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// DefaultMaxFileSize is the largest attachment accepted, in bytes.
const DefaultMaxFileSize = 10 * 1024 * 1024

// DefaultAttachmentField is the multipart field name used for file parts.
const DefaultAttachmentField = "file_attachments"

// DefaultAllowedTypes returns the attachment content types accepted by default.
func DefaultAllowedTypes() []string {
	return []string{"image/png", "image/jpeg", "application/pdf", "text/csv"}
}

// WidgetConfig is the embedding page's configuration for one widget.
type WidgetConfig struct {
	Webhook  WebhookConfig  `json:"webhook"`
	Branding BrandingConfig `json:"branding"`
	Style    StyleConfig    `json:"style"`
}

// WebhookConfig locates the automation backend.
type WebhookConfig struct {
	URL             string   `json:"url"`
	Route           string   `json:"route"`
	AttachmentField string   `json:"attachmentField,omitempty"`
	Timeout         Duration `json:"timeout,omitempty"`
}

// BrandingConfig holds the strings shown by the widget.
type BrandingConfig struct {
	Logo             string          `json:"logo"`
	Name             string          `json:"name"`
	WelcomeText      string          `json:"welcomeText"`
	ResponseTimeText string          `json:"responseTimeText"`
	PoweredBy        PoweredByConfig `json:"poweredBy"`
}

// PoweredByConfig is the footer credit.
type PoweredByConfig struct {
	Text string `json:"text"`
	Link string `json:"link"`
}

// StyleConfig holds the style tokens handed to the presentation layer.
type StyleConfig struct {
	PrimaryColor    string `json:"primaryColor"`
	SecondaryColor  string `json:"secondaryColor"`
	Position        string `json:"position"`
	BackgroundColor string `json:"backgroundColor"`
	FontColor       string `json:"fontColor"`
}

// Duration is a time.Duration that reads "30s" style strings from JSON.
type Duration time.Duration

// UnmarshalJSON accepts either a duration string or nanoseconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid duration %s", b)
	}
	*d = Duration(n)
	return nil
}

// MarshalJSON writes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// DefaultWidget returns the built-in widget configuration.
func DefaultWidget() WidgetConfig {
	return WidgetConfig{
		Webhook: WebhookConfig{
			URL:             "https://n8n.innovaquest.solutions/webhook/bd6697b2-4dc2-4943-a4d4-f3bc38d15092",
			Route:           "general",
			AttachmentField: DefaultAttachmentField,
			Timeout:         Duration(60 * time.Second),
		},
		Branding: BrandingConfig{
			Logo:             "https://play-lh.googleusercontent.com/h61OpMEtKOlyfeGsub4-rSDxsNdFtBLVtBpHSVdO-dma43qBVTuj2bsWkUcDuItc",
			Name:             "InnovaQuest",
			WelcomeText:      "Hi 👋, how can we help?",
			ResponseTimeText: "Find out how we can help you",
			PoweredBy: PoweredByConfig{
				Text: "Powered by InnovaQuest",
				Link: "https://innovaquest.ai",
			},
		},
		Style: StyleConfig{
			PrimaryColor:    "#854fff",
			SecondaryColor:  "#6b3fd4",
			Position:        "right",
			BackgroundColor: "#16131c",
			FontColor:       "#ffffff",
		},
	}
}

// Merge returns c with every non-empty field of override applied on top.
func (c WidgetConfig) Merge(override WidgetConfig) WidgetConfig {
	out := c

	setString(&out.Webhook.URL, override.Webhook.URL)
	setString(&out.Webhook.Route, override.Webhook.Route)
	setString(&out.Webhook.AttachmentField, override.Webhook.AttachmentField)
	if override.Webhook.Timeout > 0 {
		out.Webhook.Timeout = override.Webhook.Timeout
	}

	setString(&out.Branding.Logo, override.Branding.Logo)
	setString(&out.Branding.Name, override.Branding.Name)
	setString(&out.Branding.WelcomeText, override.Branding.WelcomeText)
	setString(&out.Branding.ResponseTimeText, override.Branding.ResponseTimeText)
	setString(&out.Branding.PoweredBy.Text, override.Branding.PoweredBy.Text)
	setString(&out.Branding.PoweredBy.Link, override.Branding.PoweredBy.Link)

	setString(&out.Style.PrimaryColor, override.Style.PrimaryColor)
	setString(&out.Style.SecondaryColor, override.Style.SecondaryColor)
	setString(&out.Style.Position, override.Style.Position)
	setString(&out.Style.BackgroundColor, override.Style.BackgroundColor)
	setString(&out.Style.FontColor, override.Style.FontColor)

	return out
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// LoadWidget builds the widget configuration: defaults, then the JSON file at
// path (if any), then WIDGET_* environment variables. A file that cannot be
// read or parsed is reported but never prevents startup.
func LoadWidget(path string) (WidgetConfig, error) {
	cfg := DefaultWidget()

	var fileErr error
	if path != "" {
		override, err := readWidgetFile(path)
		if err != nil {
			fileErr = err
		} else {
			cfg = cfg.Merge(override)
		}
	}

	cfg = cfg.Merge(WidgetConfig{
		Webhook: WebhookConfig{
			URL:             getEnv("WIDGET_WEBHOOK_URL", ""),
			Route:           getEnv("WIDGET_WEBHOOK_ROUTE", ""),
			AttachmentField: getEnv("WIDGET_ATTACHMENT_FIELD", ""),
			Timeout:         Duration(getDurationEnv("WIDGET_WEBHOOK_TIMEOUT", 0)),
		},
		Branding: BrandingConfig{
			Logo:             getEnv("WIDGET_BRAND_LOGO", ""),
			Name:             getEnv("WIDGET_BRAND_NAME", ""),
			WelcomeText:      getEnv("WIDGET_WELCOME_TEXT", ""),
			ResponseTimeText: getEnv("WIDGET_RESPONSE_TIME_TEXT", ""),
		},
		Style: StyleConfig{
			PrimaryColor: getEnv("WIDGET_PRIMARY_COLOR", ""),
			Position:     getEnv("WIDGET_POSITION", ""),
		},
	})

	return cfg, fileErr
}

func readWidgetFile(path string) (WidgetConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return WidgetConfig{}, fmt.Errorf("failed to read widget config: %w", err)
	}
	var override WidgetConfig
	if err := json.Unmarshal(data, &override); err != nil {
		return WidgetConfig{}, fmt.Errorf("failed to parse widget config: %w", err)
	}
	return override, nil
}

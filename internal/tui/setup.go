package tui

import (
	"errors"
	"net/url"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/theirongolddev/devcost/internal/accumulator"
	"github.com/theirongolddev/devcost/internal/config"
	"github.com/theirongolddev/devcost/internal/tui/theme"
)

// SetupValues holds the answers collected by the setup wizard.
type SetupValues struct {
	URL            string
	Token          string
	EnergyConfig   string
	Currency       string
	DecreasePolicy string
	Theme          string
}

// SetupValuesFrom seeds the wizard from an existing config.
func SetupValuesFrom(cfg config.Config) SetupValues {
	return SetupValues{
		URL:            cfg.HomeAssistant.URL,
		EnergyConfig:   cfg.General.EnergyConfig,
		Currency:       cfg.General.Currency,
		DecreasePolicy: cfg.Accumulator.DecreasePolicy,
		Theme:          cfg.Appearance.Theme,
	}
}

// Apply writes the answers into cfg. An empty token keeps the existing one.
func (v SetupValues) Apply(cfg *config.Config) {
	cfg.HomeAssistant.URL = strings.TrimSpace(v.URL)
	if tok := strings.TrimSpace(v.Token); tok != "" {
		cfg.HomeAssistant.Token = tok
	}
	cfg.General.EnergyConfig = strings.TrimSpace(v.EnergyConfig)
	cfg.General.Currency = strings.ToUpper(strings.TrimSpace(v.Currency))
	cfg.Accumulator.DecreasePolicy = v.DecreasePolicy
	cfg.Appearance.Theme = v.Theme
}

// NewSetupForm builds the first-run wizard bound to vals.
func NewSetupForm(vals *SetupValues) *huh.Form {
	themeOpts := make([]huh.Option[string], 0, len(theme.All))
	for _, t := range theme.All {
		themeOpts = append(themeOpts, huh.NewOption(t.Name, t.Name))
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Home Assistant URL").
				Description("Base URL of the REST API.").
				Value(&vals.URL).
				Validate(validateURL),
			huh.NewInput().
				Title("Long-lived access token").
				Description("Leave blank to keep the current token or use HASS_TOKEN.").
				EchoMode(huh.EchoModePassword).
				Value(&vals.Token),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Energy configuration").
				Description("Path to the energy dashboard document (.storage/energy).").
				Value(&vals.EnergyConfig).
				Validate(notEmpty("energy configuration path")),
			huh.NewInput().
				Title("Fallback currency").
				Description("Used when Home Assistant does not report one.").
				CharLimit(3).
				Value(&vals.Currency).
				Validate(validateCurrency),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("When an energy meter goes backwards").
				Options(
					huh.NewOption("Freeze until it exceeds the old reading", string(accumulator.PolicyFreeze)),
					huh.NewOption("Rebase on the new reading", string(accumulator.PolicyRebase)),
				).
				Value(&vals.DecreasePolicy),
			huh.NewSelect[string]().
				Title("Color theme").
				Options(themeOpts...).
				Value(&vals.Theme),
		),
	)
}

func validateURL(s string) error {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return errors.New("enter an http(s) URL, e.g. http://homeassistant.local:8123")
	}
	return nil
}

func validateCurrency(s string) error {
	s = strings.TrimSpace(s)
	if len(s) != 3 {
		return errors.New("use a 3-letter currency code")
	}
	return nil
}

func notEmpty(what string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return errors.New(what + " is required")
		}
		return nil
	}
}

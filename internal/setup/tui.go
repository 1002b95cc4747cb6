package setup

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/autotrade/config"
	"github.com/vadiminshakov/autotrade/internal/scheduler"
	"gopkg.in/yaml.v3"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

const title = "AUTOTRADE CONFIG WIZARD"

// Answers wizard input, all kept as typed.
type Answers struct {
	Exchange       string
	Instruments    string
	Excluded       string
	InvestFraction string
	Schedule       string
	Timezone       string
	LLMURL         string
	LLMModel       string
	SlackChannel   string
	LedgerDriver   string
}

// DefaultAnswers prefilled form values.
func DefaultAnswers() Answers {
	return Answers{
		Exchange:       config.ExchangeSimulate,
		Instruments:    "BTC_KRW, ETH_KRW",
		InvestFraction: "10",
		Schedule:       "23:01, 07:01, 15:01",
		Timezone:       "Asia/Seoul",
		LLMURL:         config.DefaultLLMURL,
		LLMModel:       config.DefaultLLMModel,
		LedgerDriver:   "wal",
	}
}

// ConfigTmp converts answers to the YAML layout and validates the result.
func (a Answers) ConfigTmp() (config.ConfigTmp, error) {
	var tmp config.ConfigTmp
	tmp.Exchange = strings.TrimSpace(a.Exchange)
	tmp.Instruments = splitList(a.Instruments)
	tmp.Excluded = splitList(a.Excluded)
	tmp.Schedule = splitList(a.Schedule)
	tmp.Timezone = strings.TrimSpace(a.Timezone)
	tmp.LLM.APIURL = strings.TrimSpace(a.LLMURL)
	tmp.LLM.Model = strings.TrimSpace(a.LLMModel)
	tmp.Slack.Channel = strings.TrimSpace(a.SlackChannel)
	tmp.Ledger.Driver = strings.TrimSpace(a.LedgerDriver)

	if s := strings.TrimSpace(a.InvestFraction); s != "" {
		pct, err := decimal.NewFromString(strings.TrimSuffix(s, "%"))
		if err != nil {
			return config.ConfigTmp{}, errors.Wrapf(err, "invalid invest fraction %q", s)
		}
		tmp.InvestFraction = pct.Div(decimal.NewFromInt(100)).String()
	}

	if _, err := tmp.Convert(); err != nil {
		return config.ConfigTmp{}, err
	}
	return tmp, nil
}

// Write stores answers as YAML at path.
func Write(path string, a Answers) error {
	tmp, err := a.ConfigTmp()
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(tmp)
	if err != nil {
		return errors.Wrap(err, "failed to generate yaml")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, "failed to save config file")
	}
	return nil
}

// RunTUI launches the terminal configuration wizard and writes path.
func RunTUI(path string) error {
	a := DefaultAnswers()
	var confirm bool

	header()
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Answer a few questions to generate " + path + ".\n"))

	fmt.Println(stepStyle.Render("STEP 1: EXCHANGE"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Select exchange").
				Options(
					huh.NewOption("Binance", config.ExchangeBinance),
					huh.NewOption("Simulation", config.ExchangeSimulate),
				).
				Value(&a.Exchange),
		),
	).Run()
	if err != nil {
		return err
	}

	header()
	fmt.Println(stepStyle.Render("STEP 2: INSTRUMENTS"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Instruments").
				Description("Comma separated BASE_QUOTE pairs sharing one quote (e.g. BTC_KRW, ETH_KRW)").
				Value(&a.Instruments).
				Validate(validateInstruments),
			huh.NewInput().
				Title("Excluded assets").
				Description("Base assets kept out of trading and valuation (e.g. SOL)").
				Value(&a.Excluded),
			huh.NewInput().
				Title("Invest fraction %").
				Description("Share of the portfolio one full-intensity buy targets (1-100)").
				Value(&a.InvestFraction).
				Validate(validatePercent),
		),
	).Run()
	if err != nil {
		return err
	}

	header()
	fmt.Println(stepStyle.Render("STEP 3: SCHEDULE"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Cycle times").
				Description("Comma separated HH:MM clock times").
				Value(&a.Schedule).
				Validate(validateSchedule),
			huh.NewInput().
				Title("Timezone").
				Value(&a.Timezone).
				Validate(func(s string) error {
					_, err := time.LoadLocation(strings.TrimSpace(s))
					return err
				}),
		),
	).Run()
	if err != nil {
		return err
	}

	header()
	fmt.Println(stepStyle.Render("STEP 4: REASONING AND NOTIFICATIONS"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("LLM API URL").
				Value(&a.LLMURL),
			huh.NewInput().
				Title("Model name").
				Value(&a.LLMModel),
			huh.NewInput().
				Title("Slack channel").
				Description("Leave empty to only log notifications; SLACK_BOT_TOKEN is read from the environment").
				Value(&a.SlackChannel),
			huh.NewSelect[string]().
				Title("Decision ledger storage").
				Options(
					huh.NewOption("Write-ahead log", "wal"),
					huh.NewOption("SQLite", "sqlite"),
				).
				Value(&a.LedgerDriver),
		),
	).Run()
	if err != nil {
		return err
	}

	header()
	fmt.Println(stepStyle.Render("FINAL CONFIRMATION"))
	summary := fmt.Sprintf(
		"Exchange: %s\nInstruments: %s\nExcluded: %s\nInvest: %s%%\nSchedule: %s (%s)\nModel: %s\nLedger: %s\n",
		a.Exchange, a.Instruments, a.Excluded, a.InvestFraction, a.Schedule, a.Timezone, a.LLMModel, a.LedgerDriver,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save configuration?").
				Affirmative("Yes, save and start").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}
	if !confirm {
		return errors.New("setup cancelled by user")
	}

	if err := Write(path, a); err != nil {
		return err
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\nConfiguration saved to %s\nStarting bot...", path)))
	time.Sleep(1500 * time.Millisecond)
	return nil
}

func header() {
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render(title))
}

func validateInstruments(s string) error {
	list := splitList(s)
	if len(list) == 0 {
		return errors.New("at least one instrument is required")
	}
	for _, p := range list {
		if !strings.Contains(p, "_") {
			return errors.Errorf("invalid format %q: must be BASE_QUOTE (e.g. BTC_KRW)", p)
		}
	}
	return nil
}

func validatePercent(s string) error {
	d, err := decimal.NewFromString(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	if err != nil {
		return errors.New("must be a valid number")
	}
	if d.LessThan(decimal.NewFromInt(1)) || d.GreaterThan(decimal.NewFromInt(100)) {
		return errors.New("must be between 1 and 100")
	}
	return nil
}

func validateSchedule(s string) error {
	list := splitList(s)
	if len(list) == 0 {
		return errors.New("at least one time is required")
	}
	for _, c := range list {
		if _, err := scheduler.ParseClock(c); err != nil {
			return err
		}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

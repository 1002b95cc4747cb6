// Package promptbuilder assembles the request sent to the reasoning service:
// the policy instructions plus JSON-serialised market data, news, recent
// decisions, sentiment and current account status.
package promptbuilder

import (
	_ "embed"
	"encoding/json"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/autotrade/internal/domain"
	"go.uber.org/zap"
)

//go:embed instructions.md
var DefaultInstructions string

const (
	RoleSystem = "system"
	RoleUser   = "user"

	noNews      = "No news data available."
	noFearGreed = "No fear and greed data available."
)

// Message one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LoadInstructions reads the policy instructions from path, or returns the
// embedded default when path is empty.
func LoadInstructions(path string) (string, error) {
	if path == "" {
		return DefaultInstructions, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read instructions %s", path)
	}

	text := strings.TrimSpace(string(raw))
	if text == "" {
		return "", errors.Errorf("instructions file %s is empty", path)
	}

	return text, nil
}

// Context all inputs of one decision request.
type Context struct {
	News      []domain.NewsItem
	Markets   []domain.MarketSnapshot
	History   map[string][]domain.LedgerEntry
	FearGreed []domain.FearGreedReading
	Status    domain.StatusSnapshot
}

// PromptBuilder constructs the ordered request messages.
type PromptBuilder struct {
	instructions string
	logger       *zap.Logger
}

// NewPromptBuilder creates a builder using the given policy instructions.
func NewPromptBuilder(instructions string, logger *zap.Logger) *PromptBuilder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(instructions) == "" {
		instructions = DefaultInstructions
	}
	return &PromptBuilder{instructions: instructions, logger: logger}
}

// Instructions returns the system instructions.
func (pb *PromptBuilder) Instructions() string {
	return pb.instructions
}

// Build returns the messages in order: system instructions, news, market
// data, recent decisions, fear and greed, current status.
func (pb *PromptBuilder) Build(c Context) ([]Message, error) {
	market, err := marshal(pb.marketData(c.Markets))
	if err != nil {
		return nil, errors.Wrap(err, "failed to serialize market data")
	}
	history, err := marshal(pb.history(c))
	if err != nil {
		return nil, errors.Wrap(err, "failed to serialize decision history")
	}
	status, err := marshal(currentStatus(c.Status))
	if err != nil {
		return nil, errors.Wrap(err, "failed to serialize current status")
	}

	news := noNews
	if len(c.News) > 0 {
		if news, err = marshal(c.News); err != nil {
			return nil, errors.Wrap(err, "failed to serialize news")
		}
	}

	fearGreed := noFearGreed
	if len(c.FearGreed) > 0 {
		if fearGreed, err = marshal(c.FearGreed); err != nil {
			return nil, errors.Wrap(err, "failed to serialize fear and greed index")
		}
	}

	messages := []Message{
		{Role: RoleSystem, Content: pb.instructions},
		{Role: RoleUser, Content: news},
		{Role: RoleUser, Content: market},
		{Role: RoleUser, Content: history},
		{Role: RoleUser, Content: fearGreed},
		{Role: RoleUser, Content: status},
	}

	pb.logger.Debug("prompt built",
		zap.Int("instruments", len(c.Markets)),
		zap.Int("news", len(c.News)),
		zap.Int("fear_greed", len(c.FearGreed)),
		zap.Int("market_bytes", len(market)))

	return messages, nil
}

type marketView struct {
	Instrument string           `json:"instrument"`
	Ticker     string           `json:"ticker"`
	Timestamp  int64            `json:"timestamp_ms"`
	Book       domain.OrderBook `json:"order_book"`
	Daily      []domain.Bar     `json:"daily"`
	Hourly     []domain.Bar     `json:"hourly"`
}

func (pb *PromptBuilder) marketData(markets []domain.MarketSnapshot) []marketView {
	views := make([]marketView, 0, len(markets))
	for _, m := range markets {
		views = append(views, marketView{
			Instrument: m.Instrument.ID,
			Ticker:     m.Instrument.Ticker(),
			Timestamp:  m.Timestamp.UnixMilli(),
			Book:       m.Book,
			Daily:      m.Daily.Bars(),
			Hourly:     m.Hourly.Bars(),
		})
	}
	return views
}

type decisionView struct {
	Timestamp        int64           `json:"timestamp_ms"`
	Time             string          `json:"time"`
	Action           domain.Action   `json:"decision"`
	Percentage       decimal.Decimal `json:"percentage"`
	Reason           string          `json:"reason"`
	PositionQuantity decimal.Decimal `json:"position_quantity"`
	CashBalance      decimal.Decimal `json:"cash_balance"`
	AvgPrice         decimal.Decimal `json:"avg_acquisition_price"`
	MarketPrice      decimal.Decimal `json:"market_price"`
	Skipped          string          `json:"skipped,omitempty"`
}

// history keeps the store order of entries, newest first.
func (pb *PromptBuilder) history(c Context) map[string][]decisionView {
	out := make(map[string][]decisionView, len(c.History))
	for id, entries := range c.History {
		views := make([]decisionView, 0, len(entries))
		for _, e := range entries {
			views = append(views, decisionView{
				Timestamp:        e.EpochMillis(),
				Time:             e.HumanTime(),
				Action:           e.Action,
				Percentage:       e.Intensity.Mul(decimal.NewFromInt(100)),
				Reason:           e.Rationale,
				PositionQuantity: e.PositionQuantity,
				CashBalance:      e.CashBalance,
				AvgPrice:         e.AvgAcquisitionPrice,
				MarketPrice:      e.MarketPrice,
				Skipped:          string(e.NoOp),
			})
		}
		out[id] = views
	}
	return out
}

type statusView struct {
	Timestamp   int64                  `json:"timestamp_ms"`
	Cash        decimal.Decimal        `json:"cash_balance"`
	Instruments []instrumentStatusView `json:"instruments"`
}

type instrumentStatusView struct {
	Instrument    string          `json:"instrument"`
	Quantity      decimal.Decimal `json:"quantity"`
	AvgPrice      decimal.Decimal `json:"avg_acquisition_price"`
	Price         decimal.Decimal `json:"current_price"`
	Value         decimal.Decimal `json:"value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

func currentStatus(s domain.StatusSnapshot) statusView {
	view := statusView{
		Timestamp:   s.Taken.UnixMilli(),
		Cash:        s.Cash,
		Instruments: make([]instrumentStatusView, 0, len(s.Instruments)),
	}
	for _, st := range s.Instruments {
		price := st.Price()
		view.Instruments = append(view.Instruments, instrumentStatusView{
			Instrument:    st.Position.Instrument.ID,
			Quantity:      st.Position.Quantity,
			AvgPrice:      st.Position.AvgPrice,
			Price:         price,
			Value:         st.Position.Value(price),
			UnrealizedPnL: st.Position.UnrealizedPnL(price),
		})
	}
	return view
}

func marshal(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

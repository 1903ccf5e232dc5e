package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// 颜色与原有通知保持一致
const (
	colorProfit  = 0x00ff00
	colorLoss    = 0xff0000
	colorInfo    = 0x0099ff
	colorWarning = 0xffaa00
	colorError   = 0xff0000
)

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields,omitempty"`
	Timestamp   string         `json:"timestamp"`
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

// DiscordNotifier 通过 webhook 发送 embed 消息，按 Discord 的限速要求节流
type DiscordNotifier struct {
	webhookURL string
	client     *http.Client
	limiter    *rate.Limiter
}

func NewDiscordNotifier(webhookURL string) *DiscordNotifier {
	return &DiscordNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		// webhook 大约每 2 秒 5 次
		limiter: rate.NewLimiter(rate.Every(400*time.Millisecond), 5),
	}
}

func (n *DiscordNotifier) Name() string { return "discord" }

func (n *DiscordNotifier) Notify(ctx context.Context, e Event) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(discordPayload{Embeds: []discordEmbed{buildEmbed(e)}})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("discord webhook: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}

func field(name, value string) discordField {
	return discordField{Name: name, Value: value, Inline: true}
}

func fmtPrice(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func buildEmbed(e Event) discordEmbed {
	embed := discordEmbed{
		Title:     e.Title(),
		Color:     colorInfo,
		Timestamp: e.Time.UTC().Format(time.RFC3339),
	}

	switch e.Type {
	case EventSignalDetected:
		if s := e.Signal; s != nil {
			embed.Fields = []discordField{
				field("Instrument", s.Instrument),
				field("Direction", s.Direction.String()),
				field("Candles", strconv.Itoa(s.ConsecutiveCount)),
				field("Confidence", fmt.Sprintf("%.2f", s.Confidence)),
				field("Price", fmtPrice(s.Price)),
			}
		}
	case EventSignalRejected:
		embed.Color = colorWarning
		embed.Description = e.Text()
	case EventPositionOpened:
		if p := e.Position; p != nil {
			embed.Fields = []discordField{
				field("Instrument", p.Instrument),
				field("Direction", p.Direction.String()),
				field("Size", fmtPrice(p.Size)),
				field("Entry", fmtPrice(p.EntryPrice)),
				field("Stop loss", fmtPrice(p.Plan.StopLossPrice)),
				field("Take profit", fmtPrice(p.Plan.TakeProfitPrice)),
			}
		}
	case EventPositionClosed:
		if t := e.Trade; t != nil {
			embed.Color = colorProfit
			if t.IsLoss() {
				embed.Color = colorLoss
			}
			embed.Fields = []discordField{
				field("Instrument", t.Instrument),
				field("Direction", t.Direction.String()),
				field("Entry", fmtPrice(t.EntryPrice)),
				field("Exit", fmtPrice(t.ExitPrice)),
				field("PnL", fmt.Sprintf("%.4f%%", t.PnLPct)),
				field("Reason", string(t.ExitReason)),
				field("Hold", t.HoldDuration.String()),
			}
		}
	case EventDailySummary:
		if s := e.Summary; s != nil {
			embed.Color = colorProfit
			if s.TotalPnL <= 0 {
				embed.Color = colorLoss
			}
			embed.Fields = []discordField{
				field("Day", s.Day.Format("2006-01-02")),
				field("Trades", strconv.Itoa(s.Trades)),
				field("Win rate", fmt.Sprintf("%.1f%%", s.WinRate*100)),
				field("PnL", fmt.Sprintf("%.4f%%", s.TotalPnL)),
			}
		}
	case EventBacktestResult:
		for _, k := range reportKeys {
			if v, ok := e.Report[k]; ok {
				embed.Fields = append(embed.Fields, field(k, v))
			}
		}
	case EventStatus:
		embed.Description = e.Text()
	default:
		embed.Color = colorError
		embed.Description = e.Text()
	}
	return embed
}

// reportKeys 回测报告字段的展示顺序
var reportKeys = []string{"Instrument", "Trades", "Win rate", "Total PnL", "Profit factor", "Max drawdown", "Final equity"}

package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"promo-planner/internal/promo"
)

// Summary 封装一次规划运行的推送内容。
type Summary struct {
	RunID           string
	GeneratedAt     time.Time
	SlotBudget      int
	Candidates      int
	Recommended     int
	Excluded        int
	TotalUplift     decimal.Decimal
	AverageDiscount decimal.Decimal
	ArmCounts       []promo.ArmCount
	LowSupportArms  []promo.Arm
	Top             []promo.Recommendation
	Channels        []string
	AdditionalMsg   string
}

// NewSummary builds a Summary from run metadata and the ordered recommendations,
// keeping the first topN rows.
func NewSummary(meta promo.RunMetadata, recs []promo.Recommendation, topN int, channels []string) Summary {
	top := recs
	if topN >= 0 && len(top) > topN {
		top = top[:topN]
	}

	var low []promo.Arm
	for arm, s := range meta.ArmSupport {
		if !s.Sufficient {
			low = append(low, arm)
		}
	}
	promo.SortArms(low)

	return Summary{
		RunID:           meta.RunID,
		GeneratedAt:     meta.GeneratedAt,
		SlotBudget:      meta.SlotBudget,
		Candidates:      meta.Candidates,
		Recommended:     meta.Recommended,
		Excluded:        len(meta.Excluded),
		TotalUplift:     meta.TotalEstimatedUplift,
		AverageDiscount: meta.AverageDiscount,
		ArmCounts:       meta.SortedArmCounts(),
		LowSupportArms:  low,
		Top:             top,
		Channels:        channels,
	}
}

// Notifier 定义运行摘要推送接口。
type Notifier interface {
	Notify(ctx context.Context, summary Summary) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 推送器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, summary Summary) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(summary),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Str("run_id", summary.RunID).
		Int("recommended", summary.Recommended).
		Str("channels", strings.Join(summary.Channels, ",")).
		Msg("运行摘要已发送 (Telegram)")
	return nil
}

func renderMessage(s Summary) string {
	builder := strings.Builder{}
	builder.WriteString("[Promo Plan]\n")
	builder.WriteString(fmt.Sprintf("Run: %s\n", s.RunID))
	builder.WriteString(fmt.Sprintf("Generated: %s UTC\n", s.GeneratedAt.UTC().Format(time.RFC3339)))
	builder.WriteString(fmt.Sprintf("Recommended: %d of %d slots (%d candidates)\n", s.Recommended, s.SlotBudget, s.Candidates))
	builder.WriteString(fmt.Sprintf("Estimated uplift: %s\n", s.TotalUplift.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Average discount: %s%%\n", s.AverageDiscount.Mul(decimal.NewFromInt(100)).StringFixed(1)))
	if len(s.ArmCounts) > 0 {
		parts := make([]string, 0, len(s.ArmCounts))
		for _, c := range s.ArmCounts {
			parts = append(parts, fmt.Sprintf("%s=%d", c.Arm, c.Count))
		}
		builder.WriteString(fmt.Sprintf("Strategies: %s\n", strings.Join(parts, ", ")))
	}
	if s.Excluded > 0 {
		builder.WriteString(fmt.Sprintf("Excluded records: %d\n", s.Excluded))
	}
	if len(s.LowSupportArms) > 0 {
		names := make([]string, len(s.LowSupportArms))
		for i, arm := range s.LowSupportArms {
			names[i] = arm.String()
		}
		builder.WriteString(fmt.Sprintf("Low support: %s\n", strings.Join(names, ", ")))
	}
	for i, rec := range s.Top {
		label := rec.Name
		if label == "" {
			label = rec.ProductID
		}
		builder.WriteString(fmt.Sprintf("%d. %s: %s %s (uplift %.2f)\n", i+1, label, rec.Arm, rec.DiscountPercent(), rec.EstimatedUplift))
	}
	if s.AdditionalMsg != "" {
		builder.WriteString(s.AdditionalMsg)
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)

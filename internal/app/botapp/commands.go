package botapp

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mikiyas9815-glitch/Telegram-bot/internal/domain/model"
	"github.com/mikiyas9815-glitch/Telegram-bot/internal/infra/chapa"
	tginfra "github.com/mikiyas9815-glitch/Telegram-bot/internal/infra/telegram"
	exportsvc "github.com/mikiyas9815-glitch/Telegram-bot/internal/services/export"
	paymentsvc "github.com/mikiyas9815-glitch/Telegram-bot/internal/services/payments"
	payoutsvc "github.com/mikiyas9815-glitch/Telegram-bot/internal/services/payouts"
	ratesvc "github.com/mikiyas9815-glitch/Telegram-bot/internal/services/rate"
	userssvc "github.com/mikiyas9815-glitch/Telegram-bot/internal/services/users"
)

const (
	pendingListLimit    = 30
	genericFailureReply = "Something went wrong. Please try again later."
	adminHelpReply      = "Admin cmds: /admin pending | /admin payout <id> paid | /admin payout <id> reject | /admin export | /admin stats"
)

type Messenger interface {
	Username() string
	SendText(ctx context.Context, chatID int64, text string) error
	SendLinkButton(ctx context.Context, chatID int64, text, label, link string) error
}

type UserService interface {
	Ensure(ctx context.Context, userID int64) (string, error)
	Start(ctx context.Context, userID int64, startArg string) (userssvc.StartResult, error)
	Profile(ctx context.Context, userID int64) (userssvc.Profile, error)
}

type CheckoutService interface {
	StartCheckout(ctx context.Context, in paymentsvc.CheckoutInput) (paymentsvc.Checkout, error)
}

type PayoutService interface {
	RequestPayout(ctx context.Context, userID, amountMinor int64) (model.PayoutRequest, error)
	SetPhone(ctx context.Context, userID int64, raw string) (string, error)
	ListPending(ctx context.Context, limit int) ([]model.PayoutRequest, error)
	MarkPaid(ctx context.Context, id int64) (model.PayoutRequest, bool, error)
	Reject(ctx context.Context, id int64) (model.PayoutRequest, bool, error)
}

type PayoutExporter interface {
	PendingPayouts(ctx context.Context) (exportsvc.Result, error)
}

type StatsReader interface {
	Stats(ctx context.Context, now time.Time) (model.LedgerStats, error)
}

type Billing struct {
	Currency         string
	PlanPriceMinor   int64
	BonusMinor       int64
	MinWithdrawMinor int64
	SubscriptionDays int
}

type CommandDeps struct {
	Messenger Messenger
	Users     UserService
	Checkout  CheckoutService
	Payouts   PayoutService
	Exporter  PayoutExporter
	Stats     StatsReader
	Billing   Billing
	AdminID   int64
	Logger    *zap.Logger
}

// Commands routes chat commands to the services and formats the replies.
type Commands struct {
	deps CommandDeps
	now  func() time.Time
}

func NewCommands(deps CommandDeps) *Commands {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Billing.Currency == "" {
		deps.Billing.Currency = "ETB"
	}
	return &Commands{deps: deps, now: time.Now}
}

// Handle never returns service failures: they are logged and answered with a
// generic reply so one bad update cannot stop the listener.
func (c *Commands) Handle(ctx context.Context, update tginfra.CommandUpdate) error {
	if c.deps.Messenger == nil {
		return nil
	}

	err := c.dispatch(ctx, update)
	if err == nil {
		return nil
	}

	c.deps.Logger.Warn("bot command failed",
		zap.String("command", update.Command),
		zap.Int64("user_id", update.UserID),
		zap.Error(err),
	)
	if sendErr := c.reply(ctx, update, genericFailureReply); sendErr != nil {
		c.deps.Logger.Warn("bot failure reply not delivered", zap.Error(sendErr), zap.Int64("chat_id", update.ChatID))
	}
	return nil
}

func (c *Commands) dispatch(ctx context.Context, update tginfra.CommandUpdate) error {
	switch strings.ToLower(strings.TrimSpace(update.Command)) {
	case "start":
		return c.start(ctx, update)
	case "terms":
		return c.terms(ctx, update)
	case "referral":
		return c.referral(ctx, update)
	case "subscribe":
		return c.subscribe(ctx, update)
	case "balance":
		return c.balance(ctx, update)
	case "withdraw":
		return c.withdraw(ctx, update)
	case "phone":
		return c.phone(ctx, update)
	case "requestwithdraw":
		return c.requestWithdraw(ctx, update)
	case "admin":
		return c.admin(ctx, update)
	default:
		return nil
	}
}

func (c *Commands) start(ctx context.Context, update tginfra.CommandUpdate) error {
	result, err := c.deps.Users.Start(ctx, update.UserID, update.Args)
	if err != nil {
		return err
	}

	b := c.deps.Billing
	text := "👋 <b>Welcome!</b>\n\n" +
		fmt.Sprintf("• Subscription: <b>%s/%d days</b>\n", c.money(b.PlanPriceMinor), b.SubscriptionDays) +
		fmt.Sprintf("• Referral bonus: <b>%s</b> per friend who subscribes\n", c.money(b.BonusMinor)) +
		fmt.Sprintf("• Withdraw when balance ≥ <b>%s</b>\n\n", c.money(b.MinWithdrawMinor)) +
		"Use /subscribe to pay, /referral to invite friends, /balance to check earnings."
	if result.Referred {
		text += "\n\nYou joined with a friend's referral link."
	}
	return c.reply(ctx, update, text)
}

func (c *Commands) terms(ctx context.Context, update tginfra.CommandUpdate) error {
	text := "<b>Terms</b>\n" +
		"- Referral is single-level only. You earn a one-time bonus when your friend pays.\n" +
		"- No guaranteed returns or investments.\n" +
		fmt.Sprintf("- Minimum withdrawal: %s.\n", c.money(c.deps.Billing.MinWithdrawMinor)) +
		"- Payouts via telebirr (processed periodically).\n" +
		"- Abuse/fraud leads to account closure."
	return c.reply(ctx, update, text)
}

func (c *Commands) referral(ctx context.Context, update tginfra.CommandUpdate) error {
	profile, err := c.deps.Users.Profile(ctx, update.UserID)
	if err != nil {
		return err
	}

	link := userssvc.ReferralLink(c.deps.Messenger.Username(), profile.User.ReferralCode)
	text := "🔗 <b>Your referral link</b>\n" + link + "\n\n" +
		fmt.Sprintf("Earn %s when each friend subscribes.\n", c.money(c.deps.Billing.BonusMinor)) +
		fmt.Sprintf("Friends rewarded so far: <b>%d</b> (%s)", profile.ReferralCount, c.money(profile.ReferralEarned))
	return c.reply(ctx, update, text)
}

func (c *Commands) subscribe(ctx context.Context, update tginfra.CommandUpdate) error {
	if c.deps.Checkout == nil {
		return c.reply(ctx, update, "Payments are temporarily unavailable.")
	}

	checkout, err := c.deps.Checkout.StartCheckout(ctx, paymentsvc.CheckoutInput{
		UserID:      update.UserID,
		FirstName:   update.FirstName,
		BotUsername: c.deps.Messenger.Username(),
	})
	if err != nil {
		var limited *ratesvc.LimitedError
		switch {
		case errors.As(err, &limited):
			return c.reply(ctx, update, fmt.Sprintf("Too many payment attempts. Try again in %d seconds.", limited.RetryAfter))
		case errors.Is(err, paymentsvc.ErrCheckoutFailed):
			c.deps.Logger.Warn("checkout init failed", zap.Int64("user_id", update.UserID), zap.Error(err))
			return c.reply(ctx, update, "❌ Payment init failed. Please try again later.")
		default:
			return err
		}
	}

	b := c.deps.Billing
	text := fmt.Sprintf("💳 Pay <b>%s</b> to activate %d days. After paying, you'll be redirected back here.\n", c.money(checkout.AmountMinor), b.SubscriptionDays) +
		"If payment succeeds, you'll receive a confirmation in minutes."
	label := fmt.Sprintf("Pay %s (telebirr)", c.money(checkout.AmountMinor))
	return c.deps.Messenger.SendLinkButton(ctx, update.ChatID, text, label, checkout.CheckoutURL)
}

func (c *Commands) balance(ctx context.Context, update tginfra.CommandUpdate) error {
	profile, err := c.deps.Users.Profile(ctx, update.UserID)
	if err != nil {
		return err
	}

	subText := "Inactive"
	if profile.SubscriptionActive {
		subText = fmt.Sprintf("Active (%d days left)", profile.DaysLeft)
	}
	phone := profile.User.Phone
	if phone == "" {
		phone = "not set"
	}

	text := fmt.Sprintf("🧾 <b>Subscription:</b> %s\n", subText) +
		fmt.Sprintf("💰 <b>Referral balance:</b> %s\n", c.money(profile.User.BalanceMinor)) +
		fmt.Sprintf("👥 <b>Friends rewarded:</b> %d\n", profile.ReferralCount) +
		fmt.Sprintf("📞 <b>Phone for payout:</b> %s\n\n", phone) +
		fmt.Sprintf("Use /withdraw to cash out when balance ≥ %s.", c.money(c.deps.Billing.MinWithdrawMinor))
	return c.reply(ctx, update, text)
}

func (c *Commands) withdraw(ctx context.Context, update tginfra.CommandUpdate) error {
	profile, err := c.deps.Users.Profile(ctx, update.UserID)
	if err != nil {
		return err
	}

	if profile.User.BalanceMinor < c.deps.Billing.MinWithdrawMinor {
		return c.reply(ctx, update, fmt.Sprintf("Your balance is below %s. Keep inviting friends!", c.money(c.deps.Billing.MinWithdrawMinor)))
	}
	if profile.User.HasPhone() {
		return c.reply(ctx, update, fmt.Sprintf("Payouts go to %s. Send <code>/requestwithdraw &lt;amount&gt;</code> to cash out, or /phone to change the number.", profile.User.Phone))
	}
	return c.reply(ctx, update, "Send your <b>telebirr phone number</b> in the format: \n<code>/phone 09XXXXXXXX</code>")
}

func (c *Commands) phone(ctx context.Context, update tginfra.CommandUpdate) error {
	if strings.TrimSpace(update.Args) == "" {
		return c.reply(ctx, update, "Usage: /phone 09XXXXXXXX")
	}
	if _, err := c.deps.Users.Ensure(ctx, update.UserID); err != nil {
		return err
	}

	phone, err := c.deps.Payouts.SetPhone(ctx, update.UserID, update.Args)
	if err != nil {
		if errors.Is(err, payoutsvc.ErrInvalidPhone) {
			return c.reply(ctx, update, "Invalid phone number. Use 09XXXXXXXX or 07XXXXXXXX.")
		}
		return err
	}
	return c.reply(ctx, update, fmt.Sprintf("✅ Phone set to %s. Now send /requestwithdraw &lt;amount&gt;", phone))
}

func (c *Commands) requestWithdraw(ctx context.Context, update tginfra.CommandUpdate) error {
	minimum := c.money(c.deps.Billing.MinWithdrawMinor)
	fields := strings.Fields(update.Args)
	if len(fields) != 1 {
		return c.reply(ctx, update, fmt.Sprintf("Usage: /requestwithdraw &lt;amount_%s&gt; (≥%s)", strings.ToLower(c.deps.Billing.Currency), minimum))
	}
	amountMinor, err := chapa.ParseMajorToMinor(fields[0])
	if err != nil {
		return c.reply(ctx, update, "Amount must be a number.")
	}
	if _, err := c.deps.Users.Ensure(ctx, update.UserID); err != nil {
		return err
	}

	payout, err := c.deps.Payouts.RequestPayout(ctx, update.UserID, amountMinor)
	if err != nil {
		var limited *ratesvc.LimitedError
		switch {
		case errors.Is(err, payoutsvc.ErrBelowMinimum):
			return c.reply(ctx, update, fmt.Sprintf("Minimum is %s.", minimum))
		case errors.Is(err, payoutsvc.ErrNoPhoneOnFile):
			return c.reply(ctx, update, "Set your payout phone first: /phone 09XXXXXXXX")
		case errors.Is(err, model.ErrInsufficientBalance):
			return c.reply(ctx, update, "Insufficient balance.")
		case errors.As(err, &limited):
			return c.reply(ctx, update, fmt.Sprintf("Too many withdrawal requests. Try again in %d seconds.", limited.RetryAfter))
		default:
			return err
		}
	}

	return c.reply(ctx, update, fmt.Sprintf("✅ Payout request created (ID: %d). You'll be paid %s to %s.", payout.ID, c.money(payout.AmountMinor), payout.Phone))
}

func (c *Commands) admin(ctx context.Context, update tginfra.CommandUpdate) error {
	if c.deps.AdminID == 0 || update.UserID != c.deps.AdminID {
		return nil
	}

	fields := strings.Fields(update.Args)
	if len(fields) == 0 {
		return c.reply(ctx, update, adminHelpReply)
	}

	switch strings.ToLower(fields[0]) {
	case "pending":
		return c.adminPending(ctx, update)
	case "payout":
		if len(fields) != 3 {
			return c.reply(ctx, update, "Usage: /admin payout &lt;id&gt; paid|reject")
		}
		id, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil || id <= 0 {
			return c.reply(ctx, update, "Invalid payout id.")
		}
		return c.adminPayout(ctx, update, id, strings.ToLower(fields[2]))
	case "export":
		return c.adminExport(ctx, update)
	case "stats":
		return c.adminStats(ctx, update)
	default:
		return c.reply(ctx, update, "Unknown admin command.")
	}
}

func (c *Commands) adminPending(ctx context.Context, update tginfra.CommandUpdate) error {
	items, err := c.deps.Payouts.ListPending(ctx, pendingListLimit)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return c.reply(ctx, update, "No pending payouts.")
	}

	var sb strings.Builder
	sb.WriteString("Pending payouts:\n")
	for _, p := range items {
		fmt.Fprintf(&sb, "#%d user:%d amount:%s phone:%s since:%s\n",
			p.ID, p.UserID, c.money(p.AmountMinor), p.Phone, p.CreatedAt.UTC().Format("2006-01-02 15:04"))
	}
	return c.reply(ctx, update, sb.String())
}

func (c *Commands) adminPayout(ctx context.Context, update tginfra.CommandUpdate, id int64, action string) error {
	var (
		payout  model.PayoutRequest
		changed bool
		err     error
		label   string
	)
	switch action {
	case "paid":
		payout, changed, err = c.deps.Payouts.MarkPaid(ctx, id)
		label = "PAID"
	case "reject":
		payout, changed, err = c.deps.Payouts.Reject(ctx, id)
		label = "REJECTED"
	default:
		return c.reply(ctx, update, "Usage: /admin payout &lt;id&gt; paid|reject")
	}

	if err != nil {
		switch {
		case errors.Is(err, model.ErrPayoutNotFound):
			return c.reply(ctx, update, fmt.Sprintf("Payout #%d not found.", id))
		case errors.Is(err, model.ErrPayoutNotPending):
			return c.reply(ctx, update, fmt.Sprintf("Payout #%d is already closed.", id))
		default:
			return err
		}
	}

	if !changed {
		return c.reply(ctx, update, fmt.Sprintf("Payout #%d was already %s.", payout.ID, label))
	}
	return c.reply(ctx, update, fmt.Sprintf("Payout #%d marked as %s.", payout.ID, label))
}

func (c *Commands) adminExport(ctx context.Context, update tginfra.CommandUpdate) error {
	if c.deps.Exporter == nil {
		return c.reply(ctx, update, "Export storage is not configured.")
	}
	result, err := c.deps.Exporter.PendingPayouts(ctx)
	if err != nil {
		if errors.Is(err, exportsvc.ErrNothingToExport) {
			return c.reply(ctx, update, "No pending payouts.")
		}
		return err
	}
	return c.reply(ctx, update, fmt.Sprintf("Exported %d payouts:\n%s", result.Rows, result.URL))
}

func (c *Commands) adminStats(ctx context.Context, update tginfra.CommandUpdate) error {
	if c.deps.Stats == nil {
		return c.reply(ctx, update, "Stats are unavailable.")
	}
	stats, err := c.deps.Stats.Stats(ctx, c.now().UTC())
	if err != nil {
		return err
	}

	text := fmt.Sprintf("Users: %d\n", stats.Users) +
		fmt.Sprintf("Active subscriptions: %d\n", stats.ActiveSubscriptions) +
		fmt.Sprintf("Successful payments: %d\n", stats.SuccessfulPayments) +
		fmt.Sprintf("Referral credits: %d (%s)\n", stats.ReferralCredits, c.money(stats.ReferralMinor)) +
		fmt.Sprintf("Pending payouts: %d (%s)", stats.PendingPayouts, c.money(stats.PendingPayoutMinor))
	return c.reply(ctx, update, text)
}

func (c *Commands) reply(ctx context.Context, update tginfra.CommandUpdate, text string) error {
	return c.deps.Messenger.SendText(ctx, update.ChatID, text)
}

func (c *Commands) money(minor int64) string {
	return chapa.FormatMinor(minor) + " " + c.deps.Billing.Currency
}

package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"edu-tracker/internal/model"
	"edu-tracker/internal/service"
)

func (b *Bot) handleRewards(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	rewards, err := b.deps.Rewards.List(ctx)
	if err != nil {
		return b.sendText(msg.Chat.ID, userMessage(err))
	}
	points, err := b.deps.Tasks.Points(ctx)
	if err != nil {
		return b.sendText(msg.Chat.ID, userMessage(err))
	}
	if len(rewards) == 0 {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("⭐ %d points. No rewards defined yet.", points))
	}

	var buttons [][]tgbotapi.InlineKeyboardButton
	for _, r := range rewards {
		row := []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("🎁 %s · %d", shortTitle(r.Name, 20), r.Cost), callbackData(cbClaim, r.ID)),
		}
		if user.IsParent() {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData("🗑", callbackData(cbDelReward, r.ID)))
		}
		buttons = append(buttons, row)
	}
	text := fmt.Sprintf("🎁 <b>Rewards</b>\n⭐ You have <b>%d</b> points. Tap a reward to claim it.", points)
	return b.sendWithReplyMarkup(msg.Chat.ID, text, tgbotapi.NewInlineKeyboardMarkup(buttons...))
}

// handleAddReward parses /addreward <cost> <name>.
func (b *Bot) handleAddReward(ctx context.Context, msg *tgbotapi.Message) error {
	costRaw, name, _ := strings.Cut(strings.TrimSpace(msg.CommandArguments()), " ")
	cost, err := strconv.Atoi(costRaw)
	if err != nil {
		return b.sendText(msg.Chat.ID, "Use: /addreward 300 Cinema night")
	}
	reward, err := b.deps.Rewards.AddReward(ctx, service.RewardInput{Name: name, Cost: cost})
	if err != nil {
		return b.sendText(msg.Chat.ID, userMessage(err))
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("✅ Reward «%s» added for %d points.", escape(reward.Name), reward.Cost))
}

func (b *Bot) askDeleteReward(ctx context.Context, chatID, userID int64, rewardID string) error {
	rewards, err := b.deps.Rewards.List(ctx)
	if err != nil {
		return b.sendText(chatID, userMessage(err))
	}
	for _, r := range rewards {
		if r.ID == rewardID {
			return b.askConfirmation(chatID, userID,
				confirmationRequest{id: r.ID, label: r.Name, action: actionDeleteReward},
				fmt.Sprintf("Delete reward «%s»?", escape(r.Name)))
		}
	}
	return b.sendText(chatID, userMessage(service.ErrRewardNotFound))
}

func (b *Bot) claimReward(ctx context.Context, chatID int64, rewardID string) error {
	reward, balance, err := b.deps.Rewards.ClaimReward(ctx, rewardID)
	if err != nil {
		return b.sendText(chatID, userMessage(err))
	}
	text := fmt.Sprintf("🎉 Enjoy «%s»! %d points left.", escape(reward.Name), balance)
	if err := b.sendText(chatID, text); err != nil {
		return err
	}
	return b.broadcast(ctx, model.RoleParent, fmt.Sprintf("🎁 Reward «%s» claimed. %d points left.", escape(reward.Name), balance))
}

func (b *Bot) handleBadges(ctx context.Context, msg *tgbotapi.Message) error {
	badges, err := b.deps.Badges.List(ctx)
	if err != nil {
		return b.sendText(msg.Chat.ID, userMessage(err))
	}
	if len(badges) == 0 {
		return b.sendText(msg.Chat.ID, "🏅 No badges yet. Finish a task to earn your first one!")
	}
	var builder strings.Builder
	builder.WriteString("🏅 <b>Badges</b>\n")
	for _, badge := range badges {
		builder.WriteString(fmt.Sprintf("• <b>%s</b> — %s (%s)\n",
			escape(badge.Name), escape(badge.Description), badge.AwardedAt.Format("2006-01-02")))
	}
	return b.sendText(msg.Chat.ID, strings.TrimSpace(builder.String()))
}

func (b *Bot) handlePoints(ctx context.Context, msg *tgbotapi.Message) error {
	points, err := b.deps.Tasks.Points(ctx)
	if err != nil {
		return b.sendText(msg.Chat.ID, userMessage(err))
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("⭐ <b>%d</b> success points.", points))
}

package messages

import (
	"fmt"
	"strings"
	"time"

	"github.com/fluxvpn/flux-bot/internal/i18n"
)

const ParseModeHTML = "HTML"

func Escape(s string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\"", "&quot;",
		"'", "&#39;",
	)
	return replacer.Replace(strings.TrimSpace(s))
}

// Rubles renders kopeks as "199.00 ₽".
func Rubles(kopeks int64) string {
	sign := ""
	if kopeks < 0 {
		sign = "-"
		kopeks = -kopeks
	}
	return fmt.Sprintf("%s%d.%02d ₽", sign, kopeks/100, kopeks%100)
}

func Date(t time.Time) string {
	return t.UTC().Format("02.01.2006 15:04")
}

func StartWelcome(lang i18n.Lang) string {
	if lang == i18n.RU {
		return "👋 <b>Привет!</b>\nЭто FluxVPN.\n\n" +
			"🔑 Подписка открывает доступ ко всем серверам.\n" +
			"💳 Оплата: карта, крипта, Telegram Stars."
	}
	return "👋 <b>Hi!</b>\nThis is FluxVPN.\n\n" +
		"🔑 A subscription unlocks every server.\n" +
		"💳 Pay by card, crypto or Telegram Stars."
}

func TrialStarted(lang i18n.Lang, until time.Time) string {
	if lang == i18n.RU {
		return fmt.Sprintf("🎁 <b>Пробный период активирован</b>\nДоступ до: %s", Date(until))
	}
	return fmt.Sprintf("🎁 <b>Trial activated</b>\nAccess until: %s", Date(until))
}

func TrialAlreadyUsed(lang i18n.Lang) string {
	if lang == i18n.RU {
		return "⚠️ <b>Пробный период уже использован</b>"
	}
	return "⚠️ <b>Trial already used</b>"
}

func PaymentProcessed(lang i18n.Lang, amountKopeks int64, until time.Time) string {
	if lang == i18n.RU {
		return fmt.Sprintf("✅ <b>Оплата получена:</b> %s\nПодписка активна до: %s", Rubles(amountKopeks), Date(until))
	}
	return fmt.Sprintf("✅ <b>Payment received:</b> %s\nSubscription active until: %s", Rubles(amountKopeks), Date(until))
}

func SubscriptionExpiring(lang i18n.Lang, until time.Time) string {
	if lang == i18n.RU {
		return fmt.Sprintf("⏳ <b>Подписка скоро закончится</b>\nДоступ до: %s\nПродлите, чтобы не потерять доступ.", Date(until))
	}
	return fmt.Sprintf("⏳ <b>Subscription is about to expire</b>\nAccess until: %s\nRenew to keep your access.", Date(until))
}

func SubscriptionExpired(lang i18n.Lang) string {
	if lang == i18n.RU {
		return "🚫 <b>Подписка закончилась</b>\nПродлите её, чтобы восстановить доступ."
	}
	return "🚫 <b>Subscription expired</b>\nRenew it to restore access."
}

func RenewalFailed(lang i18n.Lang) string {
	if lang == i18n.RU {
		return "⚠️ <b>Не удалось продлить подписку</b>\nНедостаточно средств на балансе."
	}
	return "⚠️ <b>Automatic renewal failed</b>\nNot enough funds on your balance."
}

func BonusApplied(lang i18n.Lang, days int, reason string) string {
	if lang == i18n.RU {
		return fmt.Sprintf("🎉 <b>Бонус:</b> +%d дн.\n%s", days, Escape(reason))
	}
	return fmt.Sprintf("🎉 <b>Bonus:</b> +%d days\n%s", days, Escape(reason))
}

func BalanceToppedUp(lang i18n.Lang, amountKopeks, balanceKopeks int64) string {
	if lang == i18n.RU {
		return fmt.Sprintf("💰 <b>Баланс пополнен:</b> %s\nТекущий баланс: %s", Rubles(amountKopeks), Rubles(balanceKopeks))
	}
	return fmt.Sprintf("💰 <b>Balance topped up:</b> %s\nCurrent balance: %s", Rubles(amountKopeks), Rubles(balanceKopeks))
}

func PaymentRefunded(lang i18n.Lang, amountKopeks int64) string {
	if lang == i18n.RU {
		return fmt.Sprintf("↩️ <b>Возврат оформлен:</b> %s", Rubles(amountKopeks))
	}
	return fmt.Sprintf("↩️ <b>Refund issued:</b> %s", Rubles(amountKopeks))
}

func Balance(lang i18n.Lang, balanceKopeks int64) string {
	if lang == i18n.RU {
		return fmt.Sprintf("💼 <b>Баланс:</b> %s", Rubles(balanceKopeks))
	}
	return fmt.Sprintf("💼 <b>Balance:</b> %s", Rubles(balanceKopeks))
}

func SubscriptionStatus(lang i18n.Lang, status string, until time.Time) string {
	if lang == i18n.RU {
		return fmt.Sprintf("📡 <b>Подписка:</b> %s\nДо: %s", Escape(status), Date(until))
	}
	return fmt.Sprintf("📡 <b>Subscription:</b> %s\nUntil: %s", Escape(status), Date(until))
}

func NoSubscription(lang i18n.Lang) string {
	if lang == i18n.RU {
		return "📡 <b>Подписки нет</b>\nОформите её командой /buy."
	}
	return "📡 <b>No subscription</b>\nGet one with /buy."
}

func GiftSent(lang i18n.Lang, amountKopeks int64, toUserID int64) string {
	if lang == i18n.RU {
		return fmt.Sprintf("🎁 <b>Подарок отправлен:</b> %s пользователю %d", Rubles(amountKopeks), toUserID)
	}
	return fmt.Sprintf("🎁 <b>Gift sent:</b> %s to user %d", Rubles(amountKopeks), toUserID)
}

func GiftReceived(lang i18n.Lang, amountKopeks int64) string {
	if lang == i18n.RU {
		return fmt.Sprintf("🎁 <b>Вам подарок:</b> %s", Rubles(amountKopeks))
	}
	return fmt.Sprintf("🎁 <b>You received a gift:</b> %s", Rubles(amountKopeks))
}

func GiftUsage(lang i18n.Lang) string {
	if lang == i18n.RU {
		return "✍️ Использование: /gift &lt;user_id&gt; &lt;сумма в рублях&gt;"
	}
	return "✍️ Usage: /gift &lt;user_id&gt; &lt;amount in rubles&gt;"
}

func InsufficientBalance(lang i18n.Lang) string {
	if lang == i18n.RU {
		return "🚫 <b>Недостаточно средств на балансе</b>"
	}
	return "🚫 <b>Not enough funds on your balance</b>"
}

func HistoryHeader(lang i18n.Lang) string {
	if lang == i18n.RU {
		return "🧾 <b>Последние операции</b>"
	}
	return "🧾 <b>Recent operations</b>"
}

func HistoryLine(t time.Time, amountKopeks int64, reason string) string {
	return fmt.Sprintf("%s  %s  %s", Date(t), Rubles(amountKopeks), Escape(reason))
}

func HistoryEmpty(lang i18n.Lang) string {
	if lang == i18n.RU {
		return "🧾 <b>Операций пока нет</b>"
	}
	return "🧾 <b>No operations yet</b>"
}

func PromoInfo(lang i18n.Lang, code string, bonusDays int, bonusKopeks int64) string {
	if lang == i18n.RU {
		s := fmt.Sprintf("🏷 <b>Промокод %s действителен</b>", Escape(code))
		if bonusDays > 0 {
			s += fmt.Sprintf("\n+%d дн. к подписке", bonusDays)
		}
		if bonusKopeks > 0 {
			s += fmt.Sprintf("\n+%s на баланс", Rubles(bonusKopeks))
		}
		return s + "\nУкажите его при оплате."
	}
	s := fmt.Sprintf("🏷 <b>Promo code %s is valid</b>", Escape(code))
	if bonusDays > 0 {
		s += fmt.Sprintf("\n+%d days of subscription", bonusDays)
	}
	if bonusKopeks > 0 {
		s += fmt.Sprintf("\n+%s to your balance", Rubles(bonusKopeks))
	}
	return s + "\nAttach it to your payment."
}

func PromoInvalid(lang i18n.Lang) string {
	if lang == i18n.RU {
		return "🏷 <b>Промокод недействителен</b>"
	}
	return "🏷 <b>Promo code is not valid</b>"
}

func PromoUsage(lang i18n.Lang) string {
	if lang == i18n.RU {
		return "✍️ Использование: /promo &lt;код&gt;"
	}
	return "✍️ Usage: /promo &lt;code&gt;"
}

func ErrorDefault(lang i18n.Lang) string {
	if lang == i18n.RU {
		return "🚫 <b>Ошибка</b>\nПопробуйте ещё раз."
	}
	return "🚫 <b>Error</b>\nPlease try again."
}

func ErrorUnknownCommand(lang i18n.Lang) string {
	if lang == i18n.RU {
		return "❓ <b>Команда не найдена</b>"
	}
	return "❓ <b>Unknown command</b>"
}

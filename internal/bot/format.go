package bot

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zulandar/breakdown/internal/chat"
	"github.com/zulandar/breakdown/internal/mirror"
	"github.com/zulandar/breakdown/internal/models"
)

// User-facing texts.
const (
	textGreeting        = "Привет! Этот бот предназначен для отправки отчетов о поломках. Используй /report, чтобы начать."
	textHelp            = "Команды:\n/report - сообщить о поломке\n/fix - закрыть поломку\n/cancel - отменить текущее действие"
	textChooseMachine   = "Выберите станок из меню:"
	textCancelled       = "Отменено."
	textAskPhoto        = "Прикрепите фото поломки:"
	textSaved           = "Данные сохранены и обработаны!"
	textNoOpen          = "В данный момент нет открытых поломок."
	textChooseFix       = "Выберите станок для закрытия поломки:"
	textSheetNotFound   = "Станок не найден в таблице. Возможно, он уже был закрыт."
	textSheetError      = "Произошла ошибка при закрытии поломки. Попробуйте еще раз."
	textAlreadyClosed   = "Эта поломка уже закрыта другим пользователем."
	textRecordNotFound  = "Поломка с таким номером не найдена."
	textPrivateOnly     = "Эта команда доступна только в личных сообщениях боту."
	textNotAllowed      = "У вас нет доступа к этому боту."
	textFailure         = "Не удалось выполнить действие. Попробуйте позже."
	textNothingToCancel = "Нет активного действия."
	labelCancel         = "Отмена"
)

// Selection value prefixes and the cancel choice.
const (
	machinePrefix = "machine_"
	fixPrefix     = "fix_"
	cancelChoice  = "cancel"
)

// machineColumns is the number of machine buttons per menu row.
const machineColumns = 3

// fixLabelLen bounds the reason part of a fix menu label.
const fixLabelLen = 60

// askReasonText is the prompt sent after a machine is chosen.
func askReasonText(machine string) string {
	return fmt.Sprintf("Вы выбрали: %s. Укажите причину поломки:", machine)
}

// machineMenu builds the machine selection menu, three per row, with a
// cancel row at the bottom.
func machineMenu(machines []string) *chat.Menu {
	opts := make([]chat.MenuOption, 0, len(machines))
	for _, m := range machines {
		opts = append(opts, chat.MenuOption{Label: m, Value: machinePrefix + m})
	}
	return &chat.Menu{
		Options: opts,
		Columns: machineColumns,
		Footer:  []chat.MenuOption{{Label: labelCancel, Value: machinePrefix + cancelChoice}},
	}
}

// fixMenu builds the open-breakdown selection menu, one per row.
func fixMenu(open []models.Breakdown) *chat.Menu {
	opts := make([]chat.MenuOption, 0, len(open))
	for _, b := range open {
		opts = append(opts, chat.MenuOption{
			Label: fmt.Sprintf("%s - %s", b.MachineName, truncate(b.Reason, fixLabelLen)),
			Value: fixPrefix + strconv.FormatUint(uint64(b.ID), 10),
		})
	}
	return &chat.Menu{
		Options: opts,
		Columns: 1,
		Footer:  []chat.MenuOption{{Label: labelCancel, Value: fixPrefix + cancelChoice}},
	}
}

// openCaption is the notice sent when a breakdown is reported.
func openCaption(b *models.Breakdown, userName, displayName string) string {
	return fmt.Sprintf("Поломка \n\nСтанок: %s\nПричина: %s\nОтправил: %s  %s\nВремя открытия: %s",
		b.MachineName, b.Reason, userName, displayName, mirror.FormatTime(b.CreatedAt))
}

// closeCaption is the notice sent when a breakdown is closed.
func closeCaption(b *models.Breakdown, userName, displayName string, closedAt time.Time) string {
	return fmt.Sprintf("Поломка закрыта\n\nСтанок: %s\nПричина: %s\nОтправил: %s  %s\nВремя закрытия: %s",
		b.MachineName, b.Reason, userName, displayName, mirror.FormatTime(closedAt))
}

// digestText lists open breakdowns for the scheduled digest. Empty when
// there is nothing open.
func digestText(open []models.Breakdown, now time.Time) string {
	if len(open) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Открытые поломки (%d):\n", len(open))
	for _, rec := range open {
		fmt.Fprintf(&b, "\n#%d %s - %s (открыта %s, %s)",
			rec.ID, rec.MachineName, truncate(rec.Reason, fixLabelLen),
			mirror.FormatTime(rec.CreatedAt), formatAge(now.Sub(rec.CreatedAt)))
	}
	return b.String()
}

// formatAge renders a duration as days and hours, or minutes when short.
func formatAge(d time.Duration) string {
	if d < time.Hour {
		return fmt.Sprintf("%d мин", int(d.Minutes()))
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	if days == 0 {
		return fmt.Sprintf("%d ч", hours)
	}
	return fmt.Sprintf("%d д %d ч", days, hours)
}

// truncate shortens s to at most n runes, adding an ellipsis when cut.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

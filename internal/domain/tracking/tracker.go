package tracking

// ══════════════════════════════════════════════════════════════════════════════
// SCORING RULES
// Чистые функции без состояния: одинаковый вход всегда даёт одинаковый выход.
// ══════════════════════════════════════════════════════════════════════════════

// Пороговые значения оценки модели.
// Оценки 0..2 - ученик отвлёкся, 3 - нейтральная зона, 4..5 - работает.
const (
	distractedCeiling = RawScore(2)
	focusedFloor      = RawScore(4)
)

// Пороговые значения накопленного показателя для метки учителя.
const (
	onTaskThreshold   = FocusScore(7)
	reminderThreshold = FocusScore(3)
)

// ApplyObservation вычисляет новый показатель концентрации по текущему
// значению и оценке одного наблюдения:
//
//	raw <= 2 - показатель уменьшается на 1, но не ниже 0;
//	raw >= 4 - показатель увеличивается на 1, но не выше 10;
//	raw == 3 - показатель не меняется.
//
// Функция зависит только от (current, raw) и никогда от истории.
func ApplyObservation(current FocusScore, raw RawScore) FocusScore {
	switch {
	case raw <= distractedCeiling:
		return (current - 1).Clamp()
	case raw >= focusedFloor:
		return (current + 1).Clamp()
	default:
		return current
	}
}

// PushHistory добавляет описание в начало истории и обрезает её
// до MaxHistoryEntries элементов. Исходный слайс не изменяется.
func PushHistory(history []string, description string) []string {
	updated := make([]string, 0, len(history)+1)
	updated = append(updated, description)
	updated = append(updated, history...)

	if len(updated) > MaxHistoryEntries {
		updated = updated[:MaxHistoryEntries]
	}

	return updated
}

// DeriveSuggestion вычисляет метку для учителя из накопленного показателя:
//
//	score >= 7 - on-task;
//	score <= 3 - needs-reminder;
//	иначе      - sussy.
//
// Именно накопленный показатель, а не оценка отдельного наблюдения,
// определяет классификацию: одна оценка слишком шумная.
func DeriveSuggestion(score FocusScore) Suggestion {
	switch {
	case score >= onTaskThreshold:
		return SuggestionOnTask
	case score <= reminderThreshold:
		return SuggestionNeedsReminder
	default:
		return SuggestionAmbiguous
	}
}

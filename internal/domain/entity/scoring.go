package entity

// Параметры начисления очков: базовые очки за верный ответ плюс бонус за скорость,
// линейно убывающий от максимума при мгновенном ответе до нуля при исчерпании лимита.
const (
	BaseScore    = 100
	MaxTimeBonus = 50
)

// CalculateScore рассчитывает очки за один ответ.
// Неверный ответ (включая сентинел "ответ не дан") дает 0 очков. Верный дает
// BaseScore + floor((1 - taken/budget) * MaxTimeBonus), бонус ограничен [0, MaxTimeBonus].
// Время в миллисекундах; целочисленная арифметика, деления на ноль нет
// (лимит <= 0 означает отсутствие бонуса).
func CalculateScore(isCorrect bool, timeTakenMs, timeBudgetMs int64) int {
	if !isCorrect {
		return 0
	}
	if timeBudgetMs <= 0 {
		return BaseScore
	}

	bonus := MaxTimeBonus * (timeBudgetMs - timeTakenMs) / timeBudgetMs
	if bonus < 0 {
		bonus = 0
	}
	if bonus > MaxTimeBonus {
		bonus = MaxTimeBonus
	}
	return BaseScore + int(bonus)
}

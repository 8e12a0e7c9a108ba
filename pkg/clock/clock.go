package clock

import "time"

// Clock отдает серверное время. Все решения о времени (старт вопроса, дедлайны,
// подсчет бонуса) принимаются через этот интерфейс, клиентское время не учитывается.
type Clock interface {
	Now() time.Time
}

// SystemClock использует системные часы.
type SystemClock struct{}

func NewSystemClock() *SystemClock {
	return &SystemClock{}
}

func (SystemClock) Now() time.Time {
	return time.Now()
}

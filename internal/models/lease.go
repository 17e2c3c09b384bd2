package models

import "time"

// SchedulerLease представляет арендную запись планового задания.
// Взаимное исключение между процессами: держатель с истёкшим сроком
// может быть перехвачен, упавший процесс не блокирует задание навсегда
type SchedulerLease struct {
	Name      string    `json:"name" db:"name"`
	Holder    string    `json:"holder" db:"holder"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
}

// Expired сообщает, истекла ли аренда к моменту now
func (l *SchedulerLease) Expired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}

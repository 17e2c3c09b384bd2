package utils

import (
	"time"
)

// time.go - утилиты для работы со временем
//
// Назначение:
// Границы календарных периодов для агрегации доходности (TWRR)
// по бакетам day/month/quarter/year и для ежедневного снимка стоимости.
//
// Все функции работают в UTC.

// ============================================================
// Границы периодов
// ============================================================

// GetDayStart возвращает начало текущего дня (00:00:00) в UTC
//
// Пример:
//
//	// Сейчас: 2024-01-15 14:30:45 UTC
//	start := GetDayStart()
//	// start: 2024-01-15 00:00:00 UTC
func GetDayStart() time.Time {
	return GetDayStartFrom(time.Now().UTC())
}

// GetDayStartFrom возвращает начало дня для указанного времени в UTC
func GetDayStartFrom(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// GetDayEnd возвращает конец текущего дня (23:59:59.999999999) в UTC
func GetDayEnd() time.Time {
	return GetDayEndFrom(time.Now().UTC())
}

// GetDayEndFrom возвращает конец дня для указанного времени
func GetDayEndFrom(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 999999999, time.UTC)
}

// GetMonthStart возвращает начало текущего месяца (1-е число 00:00:00) в UTC
func GetMonthStart() time.Time {
	return GetMonthStartFrom(time.Now().UTC())
}

// GetMonthStartFrom возвращает начало месяца для указанного времени
func GetMonthStartFrom(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// GetMonthEnd возвращает конец текущего месяца в UTC
func GetMonthEnd() time.Time {
	return GetMonthEndFrom(time.Now().UTC())
}

// GetMonthEndFrom возвращает конец месяца для указанного времени
func GetMonthEndFrom(t time.Time) time.Time {
	t = t.UTC()
	// Переходим к первому числу следующего месяца и отнимаем наносекунду
	firstOfNextMonth := time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
	return firstOfNextMonth.Add(-time.Nanosecond)
}

// GetQuarterStartFrom возвращает начало квартала для указанного времени
//
// Кварталы: Q1 = янв-мар, Q2 = апр-июн, Q3 = июл-сен, Q4 = окт-дек
//
// Пример:
//
//	// t: 2024-05-20 10:00:00 UTC
//	start := GetQuarterStartFrom(t)
//	// start: 2024-04-01 00:00:00 UTC
func GetQuarterStartFrom(t time.Time) time.Time {
	t = t.UTC()
	quarterMonth := time.Month(((int(t.Month())-1)/3)*3 + 1)
	return time.Date(t.Year(), quarterMonth, 1, 0, 0, 0, 0, time.UTC)
}

// GetQuarterEndFrom возвращает конец квартала для указанного времени
func GetQuarterEndFrom(t time.Time) time.Time {
	start := GetQuarterStartFrom(t)
	return start.AddDate(0, 3, 0).Add(-time.Nanosecond)
}

// GetYearStart возвращает начало текущего года (1 января 00:00:00) в UTC
func GetYearStart() time.Time {
	return GetYearStartFrom(time.Now().UTC())
}

// GetYearStartFrom возвращает начало года для указанного времени
func GetYearStartFrom(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
}

// GetYearEnd возвращает конец текущего года в UTC
func GetYearEnd() time.Time {
	return GetYearEndFrom(time.Now().UTC())
}

// GetYearEndFrom возвращает конец года для указанного времени
func GetYearEndFrom(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), time.December, 31, 23, 59, 59, 999999999, time.UTC)
}

// SameDay возвращает true если оба времени приходятся на один день UTC.
// Используется ежедневным снимком для дедупликации (update-if-exists-for-today)
func SameDay(a, b time.Time) bool {
	return GetDayStartFrom(a).Equal(GetDayStartFrom(b))
}

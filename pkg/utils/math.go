package utils

import (
	"github.com/shopspring/decimal"
)

// math.go - decimal-утилиты для работы с количествами и суммами
//
// Назначение:
// Вспомогательные функции для ledger-арифметики.
// Все функции являются чистыми (pure functions) без побочных эффектов.
// Количества НИКОГДА не проходят через float64 - только decimal,
// иначе накопленная ошибка округления ломает инвариант сохранения.
//
// Функции:
// - QuantizeToStep: усечение количества до шага биржи (вниз)
// - QuantizeToStepUp: округление количества до шага биржи (вверх)
// - StepFromDecimals: шаг из количества знаков после запятой
// - ClampNonNegative: прижатие к нулю мелкого отрицательного остатка

// QuantizeToStep усекает значение ВНИЗ до ближайшего кратного step.
//
// Используется перед отправкой ордера: усечение вниз гарантирует,
// что мы не запросим больше, чем позволяет аллокация.
//
// Примеры:
//   - QuantizeToStep(0.123456, 0.001) = 0.123
//   - QuantizeToStep(1.999, 0.01) = 1.99
//   - QuantizeToStep(100.5, 1) = 100
//
// Если step <= 0, возвращает исходное значение
func QuantizeToStep(value, step decimal.Decimal) decimal.Decimal {
	if step.LessThanOrEqual(decimal.Zero) {
		return value
	}
	return value.Div(step).Floor().Mul(step)
}

// QuantizeToStepUp округляет значение ВВЕРХ до ближайшего кратного step.
//
// Используется когда нужно гарантировать минимальный объём (minQty)
func QuantizeToStepUp(value, step decimal.Decimal) decimal.Decimal {
	if step.LessThanOrEqual(decimal.Zero) {
		return value
	}
	return value.Div(step).Ceil().Mul(step)
}

// StepFromDecimals возвращает шаг для заданного количества знаков.
//
// Примеры:
//   - StepFromDecimals(8) = 0.00000001
//   - StepFromDecimals(2) = 0.01
//   - StepFromDecimals(0) = 1
func StepFromDecimals(places int32) decimal.Decimal {
	return decimal.New(1, -places)
}

// ClampNonNegative прижимает к нулю отрицательное значение,
// чей модуль не превышает epsilon.
//
// Используется при списании после сделки: комиссия плюс усечение
// могут дать остаток вида -0.00000001, который должен стать нулём.
// Отрицательное значение глубже epsilon НЕ исправляется -
// возвращается как есть вместе с clamped=false, решение за вызывающим.
//
// Возвращает:
//   - скорректированное значение
//   - clamped=true если прижатие произошло
func ClampNonNegative(value, epsilon decimal.Decimal) (decimal.Decimal, bool) {
	if value.Sign() >= 0 {
		return value, false
	}
	if value.Abs().LessThanOrEqual(epsilon) {
		return decimal.Zero, true
	}
	return value, false
}

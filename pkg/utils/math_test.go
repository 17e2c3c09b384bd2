package utils

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	dec, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return dec
}

func TestQuantizeToStep(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		step     string
		expected string
	}{
		{"обычное усечение", "0.123456", "0.001", "0.123"},
		{"усечение вниз, не округление", "1.999", "0.01", "1.99"},
		{"целый шаг", "100.5", "1", "100"},
		{"значение уже кратно шагу", "0.5", "0.1", "0.5"},
		{"значение меньше шага", "0.0004", "0.001", "0"},
		{"нулевой шаг возвращает исходное", "0.123456", "0", "0.123456"},
		{"отрицательный шаг возвращает исходное", "0.123456", "-1", "0.123456"},
		{"сатоши-шаг", "0.123456789", "0.00000001", "0.12345678"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := QuantizeToStep(d(tt.value), d(tt.step))
			if !result.Equal(d(tt.expected)) {
				t.Errorf("QuantizeToStep(%s, %s) = %s, want %s",
					tt.value, tt.step, result.String(), tt.expected)
			}
		})
	}
}

func TestQuantizeToStepUp(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		step     string
		expected string
	}{
		{"округление вверх", "0.123456", "0.001", "0.124"},
		{"значение кратно шагу", "0.123", "0.001", "0.123"},
		{"значение меньше шага", "0.0004", "0.001", "0.001"},
		{"нулевой шаг возвращает исходное", "0.123456", "0", "0.123456"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := QuantizeToStepUp(d(tt.value), d(tt.step))
			if !result.Equal(d(tt.expected)) {
				t.Errorf("QuantizeToStepUp(%s, %s) = %s, want %s",
					tt.value, tt.step, result.String(), tt.expected)
			}
		})
	}
}

func TestStepFromDecimals(t *testing.T) {
	tests := []struct {
		places   int32
		expected string
	}{
		{8, "0.00000001"},
		{2, "0.01"},
		{0, "1"},
	}

	for _, tt := range tests {
		result := StepFromDecimals(tt.places)
		if !result.Equal(d(tt.expected)) {
			t.Errorf("StepFromDecimals(%d) = %s, want %s", tt.places, result.String(), tt.expected)
		}
	}
}

func TestClampNonNegative(t *testing.T) {
	epsilon := d("0.00000001")

	tests := []struct {
		name        string
		value       string
		expected    string
		wantClamped bool
	}{
		{"положительное не меняется", "1.5", "1.5", false},
		{"ноль не меняется", "0", "0", false},
		{"мелкий минус прижимается", "-0.000000005", "0", true},
		{"минус ровно epsilon прижимается", "-0.00000001", "0", true},
		{"глубокий минус не исправляется", "-0.5", "-0.5", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, clamped := ClampNonNegative(d(tt.value), epsilon)
			if !result.Equal(d(tt.expected)) {
				t.Errorf("ClampNonNegative(%s) = %s, want %s", tt.value, result.String(), tt.expected)
			}
			if clamped != tt.wantClamped {
				t.Errorf("ClampNonNegative(%s) clamped = %v, want %v", tt.value, clamped, tt.wantClamped)
			}
		})
	}
}

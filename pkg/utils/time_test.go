package utils

import (
	"testing"
	"time"
)

func TestGetDayStartFrom(t *testing.T) {
	tests := []struct {
		name     string
		input    time.Time
		expected time.Time
	}{
		{
			name:     "middle of day",
			input:    time.Date(2024, 1, 15, 14, 30, 45, 123456789, time.UTC),
			expected: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "start of day",
			input:    time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
			expected: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "end of day",
			input:    time.Date(2024, 1, 15, 23, 59, 59, 999999999, time.UTC),
			expected: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "leap year",
			input:    time.Date(2024, 2, 29, 12, 0, 0, 0, time.UTC),
			expected: time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := GetDayStartFrom(tt.input)
			if !result.Equal(tt.expected) {
				t.Errorf("GetDayStartFrom(%v) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestGetDayEndFrom(t *testing.T) {
	input := time.Date(2024, 1, 15, 14, 30, 45, 0, time.UTC)
	expected := time.Date(2024, 1, 15, 23, 59, 59, 999999999, time.UTC)

	result := GetDayEndFrom(input)
	if !result.Equal(expected) {
		t.Errorf("GetDayEndFrom(%v) = %v, want %v", input, result, expected)
	}
}

func TestGetMonthStartFrom(t *testing.T) {
	input := time.Date(2024, 3, 15, 14, 30, 45, 0, time.UTC)
	expected := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	result := GetMonthStartFrom(input)
	if !result.Equal(expected) {
		t.Errorf("GetMonthStartFrom(%v) = %v, want %v", input, result, expected)
	}
}

func TestGetMonthEndFrom(t *testing.T) {
	tests := []struct {
		name     string
		input    time.Time
		expected time.Time
	}{
		{
			name:     "31-day month",
			input:    time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
			expected: time.Date(2024, 1, 31, 23, 59, 59, 999999999, time.UTC),
		},
		{
			name:     "february leap year",
			input:    time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC),
			expected: time.Date(2024, 2, 29, 23, 59, 59, 999999999, time.UTC),
		},
		{
			name:     "december rolls into next year",
			input:    time.Date(2023, 12, 5, 0, 0, 0, 0, time.UTC),
			expected: time.Date(2023, 12, 31, 23, 59, 59, 999999999, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := GetMonthEndFrom(tt.input)
			if !result.Equal(tt.expected) {
				t.Errorf("GetMonthEndFrom(%v) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestGetQuarterStartFrom(t *testing.T) {
	tests := []struct {
		name     string
		input    time.Time
		expected time.Time
	}{
		{
			name:     "Q1",
			input:    time.Date(2024, 2, 15, 10, 0, 0, 0, time.UTC),
			expected: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "Q2",
			input:    time.Date(2024, 5, 20, 10, 0, 0, 0, time.UTC),
			expected: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "Q3 boundary start",
			input:    time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC),
			expected: time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "Q4 end of year",
			input:    time.Date(2024, 12, 31, 23, 59, 59, 0, time.UTC),
			expected: time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := GetQuarterStartFrom(tt.input)
			if !result.Equal(tt.expected) {
				t.Errorf("GetQuarterStartFrom(%v) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestGetQuarterEndFrom(t *testing.T) {
	input := time.Date(2024, 5, 20, 10, 0, 0, 0, time.UTC)
	expected := time.Date(2024, 6, 30, 23, 59, 59, 999999999, time.UTC)

	result := GetQuarterEndFrom(input)
	if !result.Equal(expected) {
		t.Errorf("GetQuarterEndFrom(%v) = %v, want %v", input, result, expected)
	}
}

func TestGetYearStartFrom(t *testing.T) {
	input := time.Date(2024, 7, 15, 14, 30, 45, 0, time.UTC)
	expected := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	result := GetYearStartFrom(input)
	if !result.Equal(expected) {
		t.Errorf("GetYearStartFrom(%v) = %v, want %v", input, result, expected)
	}
}

func TestSameDay(t *testing.T) {
	a := time.Date(2024, 1, 15, 0, 0, 1, 0, time.UTC)
	b := time.Date(2024, 1, 15, 23, 59, 59, 0, time.UTC)
	c := time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)

	if !SameDay(a, b) {
		t.Error("SameDay(a, b) = false, want true")
	}
	if SameDay(b, c) {
		t.Error("SameDay(b, c) = true, want false")
	}
}

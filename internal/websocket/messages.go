package websocket

import (
	"time"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeAllocationUpdate - изменение выделений стратегии.
	// Отправляется после каждого перевода и каждого расчёта сделки
	MessageTypeAllocationUpdate MessageType = "allocationUpdate"

	// MessageTypeSettlement - итог обработки вебхук-сигнала
	MessageTypeSettlement MessageType = "settlement"

	// MessageTypeDriftAlarm - сумма выделений разошлась с живым
	// балансом сверх допуска
	MessageTypeDriftAlarm MessageType = "driftAlarm"
)

// BaseMessage - базовая структура для всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// AllocationUpdateMessage - сообщение об изменении выделений стратегии.
// Количества передаются строками: клиент не должен терять точность
// decimal на float64
type AllocationUpdateMessage struct {
	BaseMessage
	StrategyID     int    `json:"strategy_id"`
	AllocatedBase  string `json:"allocated_base"`
	AllocatedQuote string `json:"allocated_quote"`
}

// SettlementMessage - сообщение об итоге расчёта сигнала
type SettlementMessage struct {
	BaseMessage
	StrategyID int    `json:"strategy_id"`
	Status     string `json:"status"`
	OrderID    string `json:"order_id,omitempty"`
}

// DriftAlarmMessage - тревога расхождения леджера с биржей
type DriftAlarmMessage struct {
	BaseMessage
	CredentialID int    `json:"credential_id"`
	Asset        string `json:"asset"`
	Drift        string `json:"drift"`
}

// NewAllocationUpdateMessage создает сообщение обновления выделений
func NewAllocationUpdateMessage(strategyID int, base, quote string) *AllocationUpdateMessage {
	return &AllocationUpdateMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeAllocationUpdate,
			Timestamp: time.Now(),
		},
		StrategyID:     strategyID,
		AllocatedBase:  base,
		AllocatedQuote: quote,
	}
}

// NewSettlementMessage создает сообщение итога расчёта
func NewSettlementMessage(strategyID int, status, orderID string) *SettlementMessage {
	return &SettlementMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeSettlement,
			Timestamp: time.Now(),
		},
		StrategyID: strategyID,
		Status:     status,
		OrderID:    orderID,
	}
}

// NewDriftAlarmMessage создает сообщение тревоги дрейфа
func NewDriftAlarmMessage(credentialID int, asset, drift string) *DriftAlarmMessage {
	return &DriftAlarmMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeDriftAlarm,
			Timestamp: time.Now(),
		},
		CredentialID: credentialID,
		Asset:        asset,
		Drift:        drift,
	}
}

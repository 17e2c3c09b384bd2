package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AssetTransferLog представляет одно движение виртуального баланса.
// Append-only: строки никогда не обновляются и не удаляются. Журнал
// служит одновременно write-ahead записью леджера и источником
// денежных потоков для расчёта доходности
type AssetTransferLog struct {
	ID             int             `json:"id" db:"id"`
	UserID         int             `json:"user_id" db:"user_id"`
	SourceID       string          `json:"source_id" db:"source_id"` // main::<credId>::<asset> | strategy::<id>
	DestinationID  string          `json:"destination_id" db:"destination_id"`
	Asset          string          `json:"asset" db:"asset"`
	Amount         decimal.Decimal `json:"amount" db:"amount"`
	StrategyIDFrom *int            `json:"strategy_id_from,omitempty" db:"strategy_id_from"`
	StrategyIDTo   *int            `json:"strategy_id_to,omitempty" db:"strategy_id_to"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// Виды конечных точек перевода
const (
	EndpointMain     = "main"
	EndpointStrategy = "strategy"
)

// Ошибки разбора идентификаторов
var (
	ErrMalformedEndpoint = errors.New("malformed transfer endpoint identifier")
)

// TransferEndpoint - разобранная сторона перевода.
// Kind определяет, какие поля заполнены: для main - CredentialID и
// Asset, для strategy - StrategyID
type TransferEndpoint struct {
	Kind         string
	CredentialID int
	Asset        string
	StrategyID   int
}

// IsMain сообщает, ссылается ли точка на основной счёт
func (e TransferEndpoint) IsMain() bool {
	return e.Kind == EndpointMain
}

// String возвращает каноническую строковую форму идентификатора
func (e TransferEndpoint) String() string {
	if e.Kind == EndpointMain {
		return fmt.Sprintf("main::%d::%s", e.CredentialID, e.Asset)
	}
	return fmt.Sprintf("strategy::%d", e.StrategyID)
}

// ParseTransferEndpoint разбирает идентификатор стороны перевода.
// Форматы: "main::<credentialId>::<asset>" или "strategy::<strategyId>"
func ParseTransferEndpoint(raw string) (TransferEndpoint, error) {
	parts := strings.Split(raw, "::")

	switch {
	case len(parts) == 3 && parts[0] == EndpointMain:
		credID, err := strconv.Atoi(parts[1])
		if err != nil || credID <= 0 {
			return TransferEndpoint{}, fmt.Errorf("%w: bad credential id in %q", ErrMalformedEndpoint, raw)
		}
		asset := strings.ToUpper(strings.TrimSpace(parts[2]))
		if asset == "" {
			return TransferEndpoint{}, fmt.Errorf("%w: empty asset in %q", ErrMalformedEndpoint, raw)
		}
		return TransferEndpoint{Kind: EndpointMain, CredentialID: credID, Asset: asset}, nil

	case len(parts) == 2 && parts[0] == EndpointStrategy:
		stratID, err := strconv.Atoi(parts[1])
		if err != nil || stratID <= 0 {
			return TransferEndpoint{}, fmt.Errorf("%w: bad strategy id in %q", ErrMalformedEndpoint, raw)
		}
		return TransferEndpoint{Kind: EndpointStrategy, StrategyID: stratID}, nil
	}

	return TransferEndpoint{}, fmt.Errorf("%w: %q", ErrMalformedEndpoint, raw)
}

package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"vledger/internal/models"
	"vledger/pkg/crypto"
	"vledger/pkg/utils"
)

var ErrStrategyNameRequired = errors.New("strategy name is required")

// StrategyService - управление стратегиями: создание, пауза,
// ротация вебхук-токена, мягкое удаление.
//
// Токен вебхука хранится только SHA-256 дайджестом; открытый текст
// показывается один раз при создании или ротации
type StrategyService struct {
	db         *sql.DB
	strategies StrategyRepositoryInterface
	creds      CredentialRepositoryInterface
	transfers  TransferRepositoryInterface
	snapshots  SnapshotRepositoryInterface

	log *utils.Logger
}

// NewStrategyService создает новый экземпляр сервиса
func NewStrategyService(
	db *sql.DB,
	strategies StrategyRepositoryInterface,
	creds CredentialRepositoryInterface,
	transfers TransferRepositoryInterface,
	snapshots SnapshotRepositoryInterface,
) *StrategyService {
	return &StrategyService{
		db:         db,
		strategies: strategies,
		creds:      creds,
		transfers:  transfers,
		snapshots:  snapshots,
		log:        utils.L().WithComponent("strategy"),
	}
}

// CreateStrategy создает стратегию с нулевыми выделениями.
// Возвращает стратегию и открытый вебхук-токен - единственный момент,
// когда токен доступен в открытом виде
func (s *StrategyService) CreateStrategy(ctx context.Context, userID, credentialID int, name, pair string) (*models.Strategy, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, "", ErrStrategyNameRequired
	}

	normalized, err := utils.NormalizeTicker(pair)
	if err != nil {
		return nil, "", err
	}
	base, quote := splitPair(normalized)

	cred, err := s.creds.GetByID(credentialID)
	if err != nil {
		return nil, "", err
	}
	if cred.UserID != userID {
		return nil, "", ErrAccessDenied
	}

	token, err := crypto.GenerateToken()
	if err != nil {
		return nil, "", err
	}
	digest, err := crypto.TokenDigest(token)
	if err != nil {
		return nil, "", err
	}

	strategy := &models.Strategy{
		UserID:       userID,
		CredentialID: credentialID,
		Name:         name,
		Pair:         normalized,
		BaseSymbol:   base,
		QuoteSymbol:  quote,
		IsActive:     true,
		TokenDigest:  digest,
	}
	if err := s.strategies.Create(strategy); err != nil {
		return nil, "", err
	}

	s.log.Info("strategy created",
		utils.StrategyID(strategy.ID),
		utils.UserID(userID),
		utils.Symbol(normalized))
	return strategy, token, nil
}

// GetStrategy возвращает стратегию с проверкой владельца
func (s *StrategyService) GetStrategy(userID, id int) (*models.Strategy, error) {
	st, err := s.strategies.GetByID(id)
	if err != nil {
		return nil, err
	}
	if st.UserID != userID {
		return nil, ErrAccessDenied
	}
	return st, nil
}

// GetStrategies возвращает все стратегии пользователя
func (s *StrategyService) GetStrategies(userID int) ([]*models.Strategy, error) {
	return s.strategies.GetByUser(userID)
}

// Pause ставит стратегию на паузу: дальнейшие вебхуки игнорируются
// до повторной активации, выделения не меняются
func (s *StrategyService) Pause(userID, id int) error {
	return s.setActive(userID, id, false)
}

// Activate снимает стратегию с паузы
func (s *StrategyService) Activate(userID, id int) error {
	return s.setActive(userID, id, true)
}

func (s *StrategyService) setActive(userID, id int, active bool) error {
	st, err := s.strategies.GetByID(id)
	if err != nil {
		return err
	}
	if st.UserID != userID {
		return ErrAccessDenied
	}
	if err := s.strategies.UpdateStatus(id, active); err != nil {
		return err
	}
	s.log.Info("strategy status changed",
		utils.StrategyID(id), zap.Bool("is_active", active))
	return nil
}

// Rename переименовывает стратегию; прочие поля неизменяемы,
// кроме ротации токена
func (s *StrategyService) Rename(userID, id int, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrStrategyNameRequired
	}

	st, err := s.strategies.GetByID(id)
	if err != nil {
		return err
	}
	if st.UserID != userID {
		return ErrAccessDenied
	}
	if err := s.strategies.UpdateName(id, name); err != nil {
		return err
	}

	s.log.Info("strategy renamed", utils.StrategyID(id), zap.String("name", name))
	return nil
}

// RotateToken генерирует новый вебхук-токен; старый перестаёт
// действовать немедленно
func (s *StrategyService) RotateToken(userID, id int) (string, error) {
	st, err := s.strategies.GetByID(id)
	if err != nil {
		return "", err
	}
	if st.UserID != userID {
		return "", ErrAccessDenied
	}

	token, err := crypto.GenerateToken()
	if err != nil {
		return "", err
	}
	digest, err := crypto.TokenDigest(token)
	if err != nil {
		return "", err
	}
	if err := s.strategies.UpdateTokenDigest(id, digest); err != nil {
		return "", err
	}

	s.log.Info("webhook token rotated", utils.StrategyID(id))
	return token, nil
}

// DeleteStrategy мягко удаляет стратегию: выделенные активы
// возвращаются на основной счёт через журнал переводов, аудиторский
// след остаётся. Вся операция - одна транзакция
func (s *StrategyService) DeleteStrategy(ctx context.Context, userID, id int) error {
	st, err := s.strategies.GetByID(id)
	if err != nil {
		return err
	}
	if st.UserID != userID {
		return ErrAccessDenied
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	locked, err := s.strategies.GetForUpdate(tx, id)
	if err != nil {
		return translateConflict(err)
	}

	// Возврат остатков фиксируется строками журнала, чтобы
	// переводы оставались единственным источником изменений суммы
	// выделений
	for _, leg := range []struct {
		asset  string
		amount decimal.Decimal
	}{
		{locked.BaseSymbol, locked.AllocatedBase},
		{locked.QuoteSymbol, locked.AllocatedQuote},
	} {
		if !leg.amount.IsPositive() {
			continue
		}
		src := models.TransferEndpoint{Kind: models.EndpointStrategy, StrategyID: locked.ID}
		dst := models.TransferEndpoint{Kind: models.EndpointMain, CredentialID: locked.CredentialID, Asset: leg.asset}
		entry := &models.AssetTransferLog{
			UserID:         userID,
			SourceID:       src.String(),
			DestinationID:  dst.String(),
			Asset:          leg.asset,
			Amount:         leg.amount,
			StrategyIDFrom: &locked.ID,
		}
		if err := s.transfers.Create(tx, entry); err != nil {
			return err
		}
	}

	if err := s.strategies.SoftDelete(tx, id); err != nil {
		return err
	}

	// Финальный снимок с нулевыми остатками закрывает ряд стоимости
	if err := s.snapshots.Create(tx, &models.StrategyValueSnapshot{StrategyID: id}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return translateConflict(err)
	}

	s.log.Info("strategy deleted", utils.StrategyID(id), utils.UserID(userID))
	return nil
}

// splitPair разбирает нормализованную пару BASE/QUOTE
func splitPair(pair string) (string, string) {
	if i := strings.IndexByte(pair, '/'); i >= 0 {
		return pair[:i], pair[i+1:]
	}
	return pair, ""
}

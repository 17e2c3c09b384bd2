package websocket

import (
	"bytes"
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"vledger/pkg/utils"
)

// jsonCodec - кодек событий hub'а, общий с API слоем
var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

// jsonBufferPool переиспользует буферы сериализации: broadcast идет
// после каждого перевода и расчета, аллокации на горячем пути не нужны
var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

// Hub управляет всеми активными WebSocket соединениями
//
// Назначение:
// Центральный менеджер для broadcast сообщений всем подключенным клиентам.
// Обеспечивает real-time обновления данных на frontend без необходимости polling.
//
// Функции:
// - Регистрация новых WebSocket клиентов
// - Отмена регистрации отключенных клиентов
// - Broadcast сообщений всем активным клиентам
// - Очистка отключенных соединений
// - Потокобезопасная работа с клиентами (sync.RWMutex)
//
// Типы сообщений:
// - allocationUpdate: изменение выделений стратегии (перевод, расчёт)
// - settlement: итог обработки вебхук-сигнала
// - driftAlarm: расхождение леджера с живым балансом
//
// Использование:
// 1. Создать hub: hub := NewHub()
// 2. Запустить в горутине: go hub.Run()
// 3. Отправлять сообщения: hub.Broadcast(message)
type Hub struct {
	// Зарегистрированные клиенты
	clients map[*Client]bool

	// Broadcast канал для отправки сообщений всем клиентам
	broadcast chan []byte

	// Регистрация нового клиента
	register chan *Client

	// Отмена регистрации клиента
	unregister chan *Client

	// Остановка главного цикла
	done     chan struct{}
	stopOnce sync.Once

	// Счётчик сообщений, отброшенных при переполненном канале
	droppedMessages uint64

	// Mutex для потокобезопасного доступа к clients
	mu sync.RWMutex
}

// NewHub создает новый Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run запускает главный цикл Hub
//
// Должен запускаться в отдельной горутине: go hub.Run()
// Обрабатывает регистрацию, отмену регистрации и broadcast.
// Рассылка идёт без блокировки: список клиентов копируется под
// коротким RLock, медленные клиенты удаляются под Write Lock
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			utils.L().WithComponent("websocket").Debug("client connected", zap.Int("clients", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			utils.L().WithComponent("websocket").Debug("client disconnected", zap.Int("clients", total))

		case message := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			// Отправляем сообщения БЕЗ блокировки (не блокируем register/unregister)
			var toRemove []*Client
			for _, client := range clients {
				select {
				case client.send <- message:
					// Сообщение отправлено успешно
				default:
					// Клиент не успевает обрабатывать сообщения - помечаем для удаления
					toRemove = append(toRemove, client)
				}
			}

			// Удаляем медленных клиентов под Write Lock
			if len(toRemove) > 0 {
				h.mu.Lock()
				for _, client := range toRemove {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
				}
				total := len(h.clients)
				h.mu.Unlock()
				utils.L().WithComponent("websocket").Warn("removed slow clients",
					zap.Int("removed", len(toRemove)), zap.Int("clients", total))
			}
		}
	}
}

// Broadcast отправляет сообщение всем подключенным клиентам
// Использует sync.Pool для буферов (убирает аллокации)
func (h *Hub) Broadcast(message interface{}) {
	// Получаем буфер из пула
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()

	// Сериализуем в буфер
	if err := jsonCodec.NewEncoder(buf).Encode(message); err != nil {
		utils.L().WithComponent("websocket").Error("cannot marshal broadcast message", zap.Error(err))
		jsonBufferPool.Put(buf)
		return
	}

	// Убираем trailing newline от Encode
	data := buf.Bytes()
	if len(data) > 0 && data[len(data)-1] == '\n' {
		data = data[:len(data)-1]
	}

	// Копируем данные (буфер вернётся в пул)
	msgCopy := make([]byte, len(data))
	copy(msgCopy, data)

	// Возвращаем буфер в пул
	jsonBufferPool.Put(buf)

	h.BroadcastRaw(msgCopy)
}

// BroadcastRaw отправляет уже сериализованное сообщение.
// Не блокируется: при переполненном канале сообщение отбрасывается
// со счётчиком - медленный frontend не должен тормозить расчёты
func (h *Hub) BroadcastRaw(data []byte) {
	select {
	case h.broadcast <- data:
	default:
		atomic.AddUint64(&h.droppedMessages, 1)
	}
}

// Stop останавливает главный цикл и закрывает всех клиентов
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// DroppedMessages возвращает число отброшенных сообщений
func (h *Hub) DroppedMessages() uint64 {
	return atomic.LoadUint64(&h.droppedMessages)
}

// BroadcastAllocationUpdate отправляет изменение выделений стратегии.
// Вызывается леджером после перевода и движком после расчёта сделки
func (h *Hub) BroadcastAllocationUpdate(strategyID int, base, quote string) {
	h.Broadcast(NewAllocationUpdateMessage(strategyID, base, quote))
}

// BroadcastSettlement отправляет итог обработки вебхук-сигнала
func (h *Hub) BroadcastSettlement(strategyID int, status string, orderID string) {
	h.Broadcast(NewSettlementMessage(strategyID, status, orderID))
}

// BroadcastDriftAlarm отправляет тревогу расхождения леджера с биржей
func (h *Hub) BroadcastDriftAlarm(credentialID int, asset string, drift string) {
	h.Broadcast(NewDriftAlarmMessage(credentialID, asset, drift))
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

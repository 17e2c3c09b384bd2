package repository

import "database/sql"

// Querier - общий интерфейс *sql.DB и *sql.Tx.
// Мутации леджера выполняются в транзакции вызывающей стороны
// (сервисный слой открывает tx, репозитории пишут через него),
// чтение вне транзакций идёт напрямую через *sql.DB
type Querier interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	QueryRow(query string, args ...interface{}) *sql.Row
	Query(query string, args ...interface{}) (*sql.Rows, error)
}

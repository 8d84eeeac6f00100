package ledger

import (
	"context"
	"strconv"
	"sync"

	"telegram-receipt-bot/internal/model"
)

// Memory is an in-process ledger for tests and credential-less runs.
// Unlike the sheets adapter it serializes appends, so ids never collide.
type Memory struct {
	mu   sync.Mutex
	rows []model.Transaction
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Append(ctx context.Context, t model.Transaction) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, len(m.rows))
	for i, r := range m.rows {
		ids[i] = strconv.FormatInt(r.ID, 10)
	}
	t.ID = nextID(ids)
	m.rows = append(m.rows, t)
	return t.ID, nil
}

func (m *Memory) All(ctx context.Context) ([]model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.Transaction, len(m.rows))
	copy(out, m.rows)
	return out, nil
}

// Seed inserts rows as-is, keeping their ids. Test helper.
func (m *Memory) Seed(rows ...model.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, rows...)
}

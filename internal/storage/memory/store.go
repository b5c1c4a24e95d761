package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/vladislavdragonenkov/bazaar/internal/domain"
)

// state хранит всё содержимое in-memory базы. Транзакция работает с живым state
// и при ошибке подменяет его снимком, снятым до начала.
type state struct {
	profiles map[int64]domain.Profile
	couriers map[int64]domain.Courier
	offers   map[int64]domain.Offer
	orders   map[int64]domain.Order
	outbox   map[string]outboxRecord
	roles    map[string][]domain.Role

	profileSeq int64
	courierSeq int64
	offerSeq   int64
	orderSeq   int64
}

func newState() *state {
	return &state{
		profiles: make(map[int64]domain.Profile),
		couriers: make(map[int64]domain.Courier),
		offers:   make(map[int64]domain.Offer),
		orders:   make(map[int64]domain.Order),
		outbox:   make(map[string]outboxRecord),
		roles:    make(map[string][]domain.Role),
	}
}

func (s *state) clone() *state {
	cp := newState()
	for k, v := range s.profiles {
		cp.profiles[k] = v
	}
	for k, v := range s.couriers {
		cp.couriers[k] = v
	}
	for k, v := range s.offers {
		cp.offers[k] = v
	}
	for k, v := range s.orders {
		cp.orders[k] = v
	}
	for k, v := range s.outbox {
		cp.outbox[k] = v
	}
	for k, v := range s.roles {
		cp.roles[k] = append([]domain.Role(nil), v...)
	}
	cp.profileSeq = s.profileSeq
	cp.courierSeq = s.courierSeq
	cp.offerSeq = s.offerSeq
	cp.orderSeq = s.orderSeq
	return cp
}

// Store реализует in-memory хранилище рынка. Все транзакции выполняются строго по очереди,
// поэтому блокировки строк сводятся к одному мьютексу.
type Store struct {
	mu sync.Mutex
	st *state
}

// NewStore создаёт пустое in-memory хранилище.
func NewStore() *Store {
	return &Store{st: newState()}
}

// binding выполняет операцию либо внутри уже открытой транзакции, либо под мьютексом.
type binding struct {
	store *Store
	tx    *state
}

func (b binding) run(fn func(st *state) error) error {
	if b.tx != nil {
		return fn(b.tx)
	}
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	return fn(b.store.st)
}

type repositories struct {
	b binding
}

func (r repositories) Profiles() domain.ProfileRepository { return profileRepository{b: r.b} }
func (r repositories) Couriers() domain.CourierRepository { return courierRepository{b: r.b} }
func (r repositories) Offers() domain.OfferRepository     { return offerRepository{b: r.b} }
func (r repositories) Orders() domain.OrderRepository     { return orderRepository{b: r.b} }
func (r repositories) Outbox() domain.OutboxRepository    { return outboxRepository{b: r.b} }

// Do выполняет fn атомарно: при ошибке или отмене ctx состояние откатывается к снимку.
func (s *Store) Do(ctx context.Context, fn func(ctx context.Context, tx domain.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(ctx, repositories{b: binding{store: s, tx: s.st}}); err != nil {
		s.st = snapshot
		return err
	}
	if err := ctx.Err(); err != nil {
		s.st = snapshot
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Profiles возвращает репозиторий профилей вне транзакции.
func (s *Store) Profiles() domain.ProfileRepository { return profileRepository{b: binding{store: s}} }

// Couriers возвращает репозиторий курьеров вне транзакции.
func (s *Store) Couriers() domain.CourierRepository { return courierRepository{b: binding{store: s}} }

// Offers возвращает репозиторий предложений вне транзакции.
func (s *Store) Offers() domain.OfferRepository { return offerRepository{b: binding{store: s}} }

// Orders возвращает репозиторий заказов вне транзакции.
func (s *Store) Orders() domain.OrderRepository { return orderRepository{b: binding{store: s}} }

// Outbox возвращает outbox-репозиторий вне транзакции.
func (s *Store) Outbox() domain.OutboxRepository { return outboxRepository{b: binding{store: s}} }

// Roles возвращает хранилище ролей.
func (s *Store) Roles() domain.RoleRepository { return roleRepository{b: binding{store: s}} }

// GrantRole выдаёт пользователю роль. Используется для локального запуска и тестов.
func (s *Store) GrantRole(userID string, role domain.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.st.roles[userID] {
		if r == role {
			return
		}
	}
	s.st.roles[userID] = append(s.st.roles[userID], role)
}

type roleRepository struct {
	b binding
}

func (r roleRepository) RolesOf(ctx context.Context, userID string) ([]domain.Role, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var roles []domain.Role
	err := r.b.run(func(st *state) error {
		roles = append([]domain.Role(nil), st.roles[userID]...)
		return nil
	})
	return roles, err
}

var (
	_ domain.UnitOfWork     = (*Store)(nil)
	_ domain.Repositories   = repositories{}
	_ domain.RoleRepository = roleRepository{}
)

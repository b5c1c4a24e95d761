package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/bazaar/internal/domain"
)

type courierRepository struct {
	b binding
}

func (r courierRepository) Create(_ context.Context, courier domain.Courier) (domain.Courier, error) {
	err := r.b.run(func(st *state) error {
		for _, c := range st.couriers {
			if c.Name == courier.Name {
				return domain.ErrCourierNameTaken
			}
		}
		st.courierSeq++
		courier.ID = st.courierSeq
		st.couriers[courier.ID] = courier
		return nil
	})
	if err != nil {
		return domain.Courier{}, err
	}
	return courier, nil
}

func (r courierRepository) Get(_ context.Context, id int64) (domain.Courier, error) {
	var found domain.Courier
	err := r.b.run(func(st *state) error {
		c, ok := st.couriers[id]
		if !ok {
			return domain.ErrCourierNotFound
		}
		found = c
		return nil
	})
	return found, err
}

// LockShared в памяти не отличается от Get: транзакции и так идут по очереди.
func (r courierRepository) LockShared(ctx context.Context, id int64) (domain.Courier, error) {
	return r.Get(ctx, id)
}

func (r courierRepository) List(_ context.Context, page domain.Page) ([]domain.Courier, error) {
	page = page.Normalize()
	var result []domain.Courier
	err := r.b.run(func(st *state) error {
		all := make([]domain.Courier, 0, len(st.couriers))
		for _, c := range st.couriers {
			all = append(all, c)
		}
		sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
		result = paginate(all, page)
		return nil
	})
	return result, err
}

func (r courierRepository) Delete(_ context.Context, id int64) error {
	return r.b.run(func(st *state) error {
		if _, ok := st.couriers[id]; !ok {
			return domain.ErrCourierNotFound
		}
		for _, o := range st.orders {
			if o.CourierID == id {
				return domain.ErrCourierInUse
			}
		}
		// profiles.default_courier_id: ON DELETE SET NULL
		for pid, p := range st.profiles {
			if p.DefaultCourierID != nil && *p.DefaultCourierID == id {
				p.DefaultCourierID = nil
				st.profiles[pid] = p
			}
		}
		delete(st.couriers, id)
		return nil
	})
}

func paginate[T any](items []T, page domain.Page) []T {
	if page.Offset >= len(items) {
		return []T{}
	}
	end := page.Offset + page.Limit
	if end > len(items) {
		end = len(items)
	}
	return append([]T(nil), items[page.Offset:end]...)
}

var _ domain.CourierRepository = courierRepository{}

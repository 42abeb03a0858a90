package daemon

import (
	"cardtelemetryd/internal/datagroup"
	"cardtelemetryd/internal/wire"
)

// wireGroup adapts a *datagroup.Cache[T] to the handler.Group
// interface by marshaling the cached value to wire bytes on demand.
type wireGroup[T any] struct {
	cache *datagroup.Cache[T]
}

func newWireGroup[T any](ttl uint64, refresh datagroup.RefreshFunc[T]) *wireGroup[T] {
	return &wireGroup[T]{cache: datagroup.New[T](msToDuration(ttl), refresh)}
}

func (g *wireGroup[T]) Raw(force bool) ([]byte, error) {
	v, err := g.cache.Get(force)
	if err != nil {
		return nil, err
	}
	return wire.Marshal(v)
}

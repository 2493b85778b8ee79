package idcache

// Set groups the three independent caches a run shares between its
// virtual users. It is created once by the orchestrating command and passed
// by reference; nothing else holds the caches.
type Set struct {
	Products *Cache
	Users    *Cache
	Carts    *Cache
}

func NewSet() *Set {
	return &Set{
		Products: New(Products),
		Users:    New(Users),
		Carts:    New(Carts),
	}
}

// Stats returns the current size of every cache, keyed by kind.
func (s *Set) Stats() map[Kind]int {
	return map[Kind]int{
		Products: s.Products.Len(),
		Users:    s.Users.Len(),
		Carts:    s.Carts.Len(),
	}
}

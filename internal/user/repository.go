package user

import (
	"context"
	"sync"
)

// Repository manages user data
type Repository interface {
	// GetUser returns nil when the username is unknown.
	GetUser(ctx context.Context, username string) (*User, error)
}

// InMemoryRepository implements Repository using in-memory storage
type InMemoryRepository struct {
	users map[string]User
	mutex sync.RWMutex
}

// NewInMemoryRepository creates a new in-memory user repository
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		users: make(map[string]User),
	}
}

// NewSeededRepository creates an in-memory repository holding one account
// per entry of plain, hashing each password with bcrypt.
func NewSeededRepository(plain map[string]string) (*InMemoryRepository, error) {
	repo := NewInMemoryRepository()
	for name, password := range plain {
		hash, err := HashPassword(password)
		if err != nil {
			return nil, err
		}
		repo.Put(User{Username: name, Password: hash})
	}
	return repo, nil
}

// Put stores or replaces u
func (r *InMemoryRepository) Put(u User) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.users[u.Username] = u
}

// GetUser finds a user by username
func (r *InMemoryRepository) GetUser(ctx context.Context, username string) (*User, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	u, ok := r.users[username]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

package firestore

import (
	"context"
	"errors"

	"github.com/VengurlekarMayuresh/CCL/internal/domain"
	pfirestore "github.com/VengurlekarMayuresh/CCL/internal/platform/firestore"
	"github.com/VengurlekarMayuresh/CCL/internal/repositories"
)

const userCollection = "users"

// UserRepository reads user profiles keyed by Firebase uid.
type UserRepository struct {
	users *pfirestore.Collection[userDocument]
}

var _ repositories.UserRepository = (*UserRepository)(nil)

// NewUserRepository binds the repository to provider.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}
	return &UserRepository{users: pfirestore.NewCollection[userDocument](provider, userCollection)}, nil
}

func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	doc, err := r.users.Get(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	return domain.User{ID: userID, UserName: doc.UserName, Email: doc.Email, Role: doc.Role}, nil
}

type userDocument struct {
	UserName string `firestore:"userName"`
	Email    string `firestore:"email"`
	Role     string `firestore:"role"`
}

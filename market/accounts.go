package market

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// PasswordHasher hashes and verifies passwords. auth.BcryptHasher implements it.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

// Registration is a new customer's sign-up data.
type Registration struct {
	Username        string
	Password        string
	ConfirmPassword string
	Email           string
	FirstName       string
	LastName        string
	PhoneNumber     string
}

// ProfilePatch carries a partial profile update. Nil fields are untouched;
// an empty Password is ignored.
type ProfilePatch struct {
	FirstName   *string
	LastName    *string
	Email       *string
	PhoneNumber *string
	Password    *string
}

// Accounts manages user records other than their balance.
type Accounts struct {
	Store  TxStore
	Hasher PasswordHasher
	Log    zerolog.Logger
}

func NewAccounts(store TxStore, hasher PasswordHasher) *Accounts {
	return &Accounts{Store: store, Hasher: hasher, Log: zerolog.Nop()}
}

// Register creates an active CUSTOMER with a zero balance.
func (a *Accounts) Register(ctx context.Context, r Registration) (*User, error) {
	if r.Password != r.ConfirmPassword {
		return nil, ErrPasswordMismatch
	}
	hash, err := a.Hasher.Hash(r.Password)
	if err != nil {
		return nil, err
	}

	user := User{
		ID:           uuid.New(),
		Username:     r.Username,
		PasswordHash: hash,
		Email:        strings.TrimSpace(r.Email),
		FirstName:    capitalize(r.FirstName),
		LastName:     capitalize(r.LastName),
		PhoneNumber:  r.PhoneNumber,
		Role:         RoleCustomer,
		Balance:      decimal.Zero,
		Active:       true,
	}

	err = a.Store.WithTx(ctx, func(tx Store) error {
		taken, err := tx.ExistsByUsername(ctx, user.Username)
		if err != nil {
			return err
		}
		if taken {
			return ErrDuplicateUsername
		}
		if user.Email != "" {
			taken, err := tx.ExistsByEmail(ctx, user.Email)
			if err != nil {
				return err
			}
			if taken {
				return ErrDuplicateEmail
			}
		}
		return tx.SaveUser(ctx, user)
	})
	if err != nil {
		return nil, err
	}

	a.Log.Info().Str("user", user.Username).Msg("registered")
	return &user, nil
}

// EnsureAdmin creates an ADMIN account unless the username already exists.
func (a *Accounts) EnsureAdmin(ctx context.Context, username, password string) (*User, error) {
	hash, err := a.Hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	var result *User
	err = a.Store.WithTx(ctx, func(tx Store) error {
		existing, err := tx.GetUserByUsername(ctx, username)
		if err != nil {
			return err
		}
		if existing != nil {
			result = existing
			return nil
		}
		admin := User{
			ID:           uuid.New(),
			Username:     username,
			PasswordHash: hash,
			Role:         RoleAdmin,
			Balance:      decimal.Zero,
			Active:       true,
		}
		if err := tx.SaveUser(ctx, admin); err != nil {
			return err
		}
		result = &admin
		return nil
	})
	return result, err
}

// Authenticate verifies a username/password pair.
func (a *Accounts) Authenticate(ctx context.Context, username, password string) (*User, error) {
	user, err := a.Store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}
	if err := a.Hasher.Compare(user.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// ChangeUserActive toggles whether the user may buy hot vouchers.
func (a *Accounts) ChangeUserActive(ctx context.Context, userID string, active bool) (*User, error) {
	id, err := ParseID(userID)
	if err != nil {
		return nil, err
	}

	var result *User
	err = a.Store.WithTx(ctx, func(tx Store) error {
		user, err := loadUser(ctx, tx, id)
		if err != nil {
			return err
		}
		user.Active = active
		if err := tx.SaveUser(ctx, *user); err != nil {
			return err
		}
		result = user
		return nil
	})
	if err != nil {
		return nil, err
	}

	a.Log.Info().Str("user", result.Username).Bool("active", active).Msg("active flag changed")
	return result, nil
}

// UpdateProfile applies the non-nil fields of patch.
func (a *Accounts) UpdateProfile(ctx context.Context, username string, patch ProfilePatch) (*User, error) {
	var newHash string
	if patch.Password != nil && *patch.Password != "" {
		hash, err := a.Hasher.Hash(*patch.Password)
		if err != nil {
			return nil, err
		}
		newHash = hash
	}

	var result *User
	err := a.Store.WithTx(ctx, func(tx Store) error {
		user, err := loadUserByUsername(ctx, tx, username)
		if err != nil {
			return err
		}

		if patch.FirstName != nil {
			user.FirstName = capitalize(*patch.FirstName)
		}
		if patch.LastName != nil {
			user.LastName = capitalize(*patch.LastName)
		}
		if patch.Email != nil {
			email := strings.TrimSpace(*patch.Email)
			if email != "" && !strings.EqualFold(email, user.Email) {
				taken, err := tx.ExistsByEmail(ctx, email)
				if err != nil {
					return err
				}
				if taken {
					return ErrDuplicateEmail
				}
			}
			user.Email = email
		}
		if patch.PhoneNumber != nil {
			user.PhoneNumber = *patch.PhoneNumber
		}
		if newHash != "" {
			user.PasswordHash = newHash
		}

		if err := tx.SaveUser(ctx, *user); err != nil {
			return err
		}
		result = user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ChangePassword replaces the password after verifying the current one.
func (a *Accounts) ChangePassword(ctx context.Context, username, current, newPassword, confirm string) error {
	if newPassword != confirm {
		return ErrPasswordMismatch
	}
	hash, err := a.Hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	return a.Store.WithTx(ctx, func(tx Store) error {
		user, err := loadUserByUsername(ctx, tx, username)
		if err != nil {
			return err
		}
		if err := a.Hasher.Compare(user.PasswordHash, current); err != nil {
			return ErrWrongPassword
		}
		user.PasswordHash = hash
		return tx.SaveUser(ctx, *user)
	})
}

// GetByUsername returns the user or a NotFoundError.
func (a *Accounts) GetByUsername(ctx context.Context, username string) (*User, error) {
	return loadUserByUsername(ctx, a.Store, username)
}

// GetByID returns the user or a NotFoundError.
func (a *Accounts) GetByID(ctx context.Context, userID string) (*User, error) {
	id, err := ParseID(userID)
	if err != nil {
		return nil, err
	}
	return loadUser(ctx, a.Store, id)
}

// ListUsers returns every account.
func (a *Accounts) ListUsers(ctx context.Context) ([]User, error) {
	return a.Store.ListUsers(ctx)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

package api

import (
	"regexp"
	"strings"
)

// Field rules for request bodies. The market package re-checks everything
// that matters for consistency; these only reject malformed input early.
var (
	usernamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]{2,}$`)
	namePattern     = regexp.MustCompile(`^[A-Za-z]{2,}$`)
	emailPattern    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern    = regexp.MustCompile(`^\+?[0-9]{9,15}$`)
)

const minPasswordLength = 5

// fieldErrors maps a JSON field name to its message.
type fieldErrors map[string]string

func (f fieldErrors) check(ok bool, field, message string) {
	if !ok {
		if _, exists := f[field]; !exists {
			f[field] = message
		}
	}
}

func (f fieldErrors) empty() bool { return len(f) == 0 }

func validateRegister(req RegisterRequest) fieldErrors {
	errs := fieldErrors{}
	errs.check(usernamePattern.MatchString(req.Username), "username",
		"Username must start with a letter and contain at least 3 letters or digits")
	errs.check(len(req.Password) >= minPasswordLength, "password", "Password must be at least 5 characters")
	errs.check(req.ConfirmPassword != "", "confirmPassword", "Password confirmation is required")
	errs.check(emailPattern.MatchString(req.Email), "email", "Email is invalid")
	errs.check(namePattern.MatchString(req.FirstName), "firstName", "First name must contain only letters")
	errs.check(namePattern.MatchString(req.LastName), "lastName", "Last name must contain only letters")
	errs.check(phonePattern.MatchString(req.PhoneNumber), "phoneNumber", "Phone number is invalid")
	return errs
}

func validateLogin(req LoginRequest) fieldErrors {
	errs := fieldErrors{}
	errs.check(strings.TrimSpace(req.Username) != "", "username", "Username is required")
	errs.check(req.Password != "", "password", "Password is required")
	return errs
}

func validateUpdateUser(req UpdateUserRequest) fieldErrors {
	errs := fieldErrors{}
	if req.FirstName != nil {
		errs.check(namePattern.MatchString(*req.FirstName), "firstName", "First name must contain only letters")
	}
	if req.LastName != nil {
		errs.check(namePattern.MatchString(*req.LastName), "lastName", "Last name must contain only letters")
	}
	if req.Email != nil {
		errs.check(emailPattern.MatchString(*req.Email), "email", "Email is invalid")
	}
	if req.PhoneNumber != nil {
		errs.check(phonePattern.MatchString(*req.PhoneNumber), "phoneNumber", "Phone number is invalid")
	}
	return errs
}

func validatePasswordChange(req UpdatePasswordRequest) fieldErrors {
	errs := fieldErrors{}
	errs.check(req.CurrentPassword != "", "currentPassword", "Current password is required")
	errs.check(len(req.NewPassword) >= minPasswordLength, "newPassword", "Password must be at least 5 characters")
	errs.check(req.ConfirmPassword != "", "confirmPassword", "Password confirmation is required")
	return errs
}

// validateVoucher checks a create body. Every descriptive field is required.
func validateVoucher(req VoucherRequest) fieldErrors {
	errs := fieldErrors{}
	errs.check(req.Title != nil && strings.TrimSpace(*req.Title) != "", "title", "Title is required")
	errs.check(req.Description != nil && strings.TrimSpace(*req.Description) != "", "description", "Description is required")
	errs.check(req.Price != nil, "price", "Price is required")
	errs.check(req.TourType != nil, "tourType", "Tour type is required")
	errs.check(req.TransferType != nil, "transferType", "Transfer type is required")
	errs.check(req.HotelType != nil, "hotelType", "Hotel type is required")
	errs.check(req.ArrivalDate != nil && !req.ArrivalDate.IsZero(), "arrivalDate", "Arrival date is required")
	errs.check(req.EvictionDate != nil && !req.EvictionDate.IsZero(), "evictionDate", "Eviction date is required")
	return errs
}

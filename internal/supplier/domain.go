// Package supplier maintains the supplier directory.
package supplier

import "errors"

// Supplier is a directory entry.
type Supplier struct {
	ID            string `json:"id"`
	Name          string `json:"name" validate:"required,min=2,max=200"`
	ContactPerson string `json:"contactPerson" validate:"required,min=2,max=200"`
	Email         string `json:"email" validate:"required,email"`
	Phone         string `json:"phone" validate:"required,min=10,max=50"`
	Address       string `json:"address" validate:"required,min=5,max=500"`
	Country       string `json:"country" validate:"required,min=2,max=100"`
}

// ErrNotFound indicates the supplier does not exist.
var ErrNotFound = errors.New("supplier not found")

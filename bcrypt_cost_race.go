//go:build race

package tenancy

import "golang.org/x/crypto/bcrypt"

func secretHashCost() int {
	return bcrypt.DefaultCost
}

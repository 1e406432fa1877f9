//go:build !race

package tenancy

func secretHashCost() int {
	return 12
}

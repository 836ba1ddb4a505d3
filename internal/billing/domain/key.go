package domain

import "fmt"

// DeriveKey builds the deterministic aggregate key for a grouping triple.
// The key doubles as the aggregate's primary key in storage, so it must be
// stable across processes and restarts.
func DeriveKey(customerID, siteID, billingDate string) string {
	return fmt.Sprintf("%s-%s-%s", customerID, siteID, billingDate)
}

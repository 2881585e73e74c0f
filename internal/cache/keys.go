package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func LicenseKey(licenseKey string) string {
	return fmt.Sprintf("license:%s", licenseKey)
}

func MasterLicenseKey(licenseKey string) string {
	return fmt.Sprintf("license:master:%s", licenseKey)
}

func RateLimitKey(customerID uuid.UUID) string {
	return fmt.Sprintf("ratelimit:%s", customerID)
}

package asset

import (
	"fmt"
	"strings"

	"github.com/openctemio/secmon/pkg/domain/shared"
)

// Category classifies what kind of device an asset is.
type Category string

const (
	CategoryServer        Category = "server"
	CategoryWorkstation   Category = "workstation"
	CategoryNetworkDevice Category = "network_device"
	CategoryIoTDevice     Category = "iot_device"
	CategoryMobileDevice  Category = "mobile_device"
)

// AllCategories returns all valid asset categories.
func AllCategories() []Category {
	return []Category{
		CategoryServer,
		CategoryWorkstation,
		CategoryNetworkDevice,
		CategoryIoTDevice,
		CategoryMobileDevice,
	}
}

// IsValid checks if the category is valid.
func (c Category) IsValid() bool {
	for _, v := range AllCategories() {
		if c == v {
			return true
		}
	}
	return false
}

// ParseCategory parses a category, accepting "Network Device" style input.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_"))
	if !c.IsValid() {
		return "", fmt.Errorf("%w: invalid asset category %q", shared.ErrValidation, s)
	}
	return c, nil
}

// Status is the reachability of an asset as last observed.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusUnknown Status = "unknown"
)

// IsValid checks if the status is valid.
func (s Status) IsValid() bool {
	switch s {
	case StatusOnline, StatusOffline, StatusUnknown:
		return true
	}
	return false
}

// ParseStatus parses a status string.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid asset status %q", shared.ErrValidation, s)
	}
	return st, nil
}

func (s Status) String() string {
	return string(s)
}

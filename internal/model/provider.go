// Package model holds value types shared by the biz and data layers.
package model

import (
	"database/sql/driver"
	"fmt"
)

// Provider identifies a cloud-storage backend.
type Provider string

// Supported providers.
const (
	ProviderGoogleDrive Provider = "google-drive"
	ProviderDropbox     Provider = "dropbox"
	ProviderOneDrive    Provider = "onedrive"
	ProviderAmazonS3    Provider = "amazon-s3"
)

// String implements fmt.Stringer.
func (p Provider) String() string {
	return string(p)
}

// Scan implements sql.Scanner interface for Provider.
func (p *Provider) Scan(value interface{}) error {
	if value == nil {
		*p = ""
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*p = Provider(v)
	case string:
		*p = Provider(v)
	default:
		return fmt.Errorf("cannot scan type %T into Provider", value)
	}
	return nil
}

// Value implements driver.Valuer interface for Provider.
func (p Provider) Value() (driver.Value, error) {
	return string(p), nil
}

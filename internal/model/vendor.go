package model

import (
	"fmt"
	"strings"
)

// Vendor identifies a hardware vendor with its own driver script.
type Vendor string

const (
	VendorDell   Vendor = "Dell"
	VendorLenovo Vendor = "Lenovo"
	VendorHP     Vendor = "HP"
)

// Vendors lists all supported vendors in a stable order.
func Vendors() []Vendor {
	return []Vendor{VendorDell, VendorLenovo, VendorHP}
}

// ParseVendor is case-insensitive: "dell", "DELL" and "Dell" are all VendorDell.
func ParseVendor(s string) (Vendor, error) {
	for _, v := range Vendors() {
		if strings.EqualFold(string(v), strings.TrimSpace(s)) {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownVendor, s)
}

func (v Vendor) String() string {
	return string(v)
}

// Field is a key of a vendor profile.
type Field int

const (
	FieldScriptName Field = iota
	FieldDownloadPath
	FieldNetworkPath
	FieldCatalogPath
	FieldDaysToRefresh
	FieldExecutable
)

func (f Field) String() string {
	switch f {
	case FieldScriptName:
		return "DriverScriptName"
	case FieldDownloadPath:
		return "DownloadPath"
	case FieldNetworkPath:
		return "NetworkPath"
	case FieldCatalogPath:
		return "CatalogPath"
	case FieldDaysToRefresh:
		return "DaysToRefresh"
	case FieldExecutable:
		return "PowerShellExe"
	default:
		return fmt.Sprintf("Field(%d)", int(f))
	}
}

// ParseField accepts the document key of a field, case-insensitively. HP's
// LocalPath is an alias of DownloadPath.
func ParseField(s string) (Field, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "LocalPath") {
		return FieldDownloadPath, nil
	}
	for f := FieldScriptName; f <= FieldExecutable; f++ {
		if strings.EqualFold(f.String(), s) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKey, s)
}

// schemas is the fixed set of fields each vendor record carries.
var schemas = map[Vendor][]Field{
	VendorDell:   {FieldScriptName, FieldDownloadPath, FieldNetworkPath, FieldExecutable},
	VendorLenovo: {FieldScriptName, FieldDownloadPath, FieldNetworkPath, FieldCatalogPath, FieldDaysToRefresh, FieldExecutable},
	VendorHP:     {FieldScriptName, FieldDownloadPath, FieldNetworkPath, FieldExecutable},
}

// Fields returns the field schema of a vendor.
func (v Vendor) Fields() []Field {
	return append([]Field(nil), schemas[v]...)
}

// HasField reports whether f belongs to the vendor's schema.
func (v Vendor) HasField(f Field) bool {
	for _, x := range schemas[v] {
		if x == f {
			return true
		}
	}
	return false
}

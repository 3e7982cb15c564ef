package usbid

import (
	"fmt"
	"io"
	"os"

	"github.com/google/gousb"
	gusbid "github.com/google/gousb/usbid"

	"github.com/ardnew/microscpi/pkg"
)

// DefaultPaths lists the standard locations of usb.ids.
var DefaultPaths = []string{
	"/usr/share/hwdata/usb.ids",
	"/var/lib/usbutils/usb.ids",
	"/usr/share/misc/usb.ids",
	"/usr/share/usb.ids",
}

// Database holds vendor and product names. It is immutable once loaded and
// safe for concurrent lookups.
type Database struct {
	vendors map[gousb.ID]*gusbid.Vendor
}

// Open loads the first readable database in paths, or in [DefaultPaths]
// when none are given.
func Open(paths ...string) (*Database, error) {
	if len(paths) == 0 {
		paths = DefaultPaths
	}
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		db, err := Parse(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		v, p := db.Len()
		pkg.LogDebug(pkg.ComponentHost, "usb id database loaded",
			"path", path, "vendors", v, "products", p)
		return db, nil
	}
	return nil, fmt.Errorf("%w: no usb.ids database found", os.ErrNotExist)
}

// OpenOrEmbedded loads a system database, falling back to the snapshot
// compiled into gousb.
func OpenOrEmbedded(paths ...string) *Database {
	db, err := Open(paths...)
	if err != nil {
		pkg.LogDebug(pkg.ComponentHost, "using embedded usb id database", "error", err)
		return Embedded()
	}
	return db
}

// Embedded returns the database compiled into gousb.
func Embedded() *Database {
	return &Database{vendors: gusbid.Vendors}
}

// Parse reads the usb.ids format.
func Parse(r io.Reader) (*Database, error) {
	vendors, _, err := gusbid.ParseIDs(r)
	if err != nil {
		return nil, err
	}
	return &Database{vendors: vendors}, nil
}

// Vendor returns the vendor name, or "".
func (db *Database) Vendor(vid uint16) string {
	if db == nil {
		return ""
	}
	if v := db.vendors[gousb.ID(vid)]; v != nil {
		return v.Name
	}
	return ""
}

// Product returns the product name, or "".
func (db *Database) Product(vid, pid uint16) string {
	if db == nil {
		return ""
	}
	v := db.vendors[gousb.ID(vid)]
	if v == nil {
		return ""
	}
	if p := v.Product[gousb.ID(pid)]; p != nil {
		return p.Name
	}
	return ""
}

// Describe joins the known vendor and product names.
func (db *Database) Describe(vid, pid uint16) string {
	v, p := db.Vendor(vid), db.Product(vid, pid)
	switch {
	case v == "":
		return p
	case p == "":
		return v
	}
	return v + " " + p
}

// Len returns the number of vendors and products.
func (db *Database) Len() (vendors, products int) {
	if db == nil {
		return 0, 0
	}
	for _, v := range db.vendors {
		products += len(v.Product)
	}
	return len(db.vendors), products
}

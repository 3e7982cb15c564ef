// Package usbid names USB vendors and products from the usb.ids database
// shipped by usbutils and hwdata, parsed with gousb/usbid.
//
// Load the system database once, then look up IDs:
//
//	db := usbid.OpenOrEmbedded()
//	fmt.Println(db.Describe(0x0957, 0x1755))
//
// Lookups on a nil *Database return empty names.
package usbid

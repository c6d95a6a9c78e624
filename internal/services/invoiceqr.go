package services

import (
	"errors"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// InvoiceQR renders a BOLT11 invoice as a PNG QR code for the manual
// payment path (no connected wallet). Uppercasing the invoice keeps the QR
// in alphanumeric mode, which scans better at small sizes.
func InvoiceQR(invoice string, size int) ([]byte, error) {
	if invoice == "" {
		return nil, errors.New("empty invoice")
	}
	if size <= 0 {
		size = 256
	}
	return qrcode.Encode("lightning:"+strings.ToUpper(invoice), qrcode.Medium, size)
}

package provider

import (
	"encoding/base64"

	qrcode "github.com/skip2/go-qrcode"
)

// pixQRCodePNG renders a PIX copy-and-paste payload as a base64 PNG data URL.
// Rendering failures degrade to an empty string; the textual copy-and-paste
// code is always present and sufficient to pay.
func pixQRCodePNG(copyAndPaste string) string {
	png, err := qrcode.Encode(copyAndPaste, qrcode.Medium, 256)
	if err != nil {
		return ""
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}

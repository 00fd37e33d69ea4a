package qr

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"
)

func TestEncode(t *testing.T) {
	dataURL, err := Encode("2024-05-01")
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	const prefix = "data:image/png;base64,"
	if !strings.HasPrefix(dataURL, prefix) {
		t.Fatalf("missing data URL prefix: %.40s", dataURL)
	}
	raw, err := base64.StdEncoding.DecodeString(dataURL[len(prefix):])
	if err != nil {
		t.Fatalf("payload not base64: %v", err)
	}
	if !bytes.HasPrefix(raw, []byte("\x89PNG\r\n\x1a\n")) {
		t.Fatal("payload is not a PNG")
	}
}

func TestEncodeEmpty(t *testing.T) {
	if _, err := Encode(""); err == nil {
		t.Fatal("Encode(\"\") succeeded")
	}
}

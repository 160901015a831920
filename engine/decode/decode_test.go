package decode

import (
	"bytes"
	"compress/flate"
	"encoding/base64"
	"errors"
	"testing"
)

func deflateB64(t *testing.T, payload []byte) string {
	t.Helper()
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(payload); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestDecode_PlainJSON(t *testing.T) {
	v, err := Decode(`{"AirTemp":"24.1","Rainfall":"0"}`)
	if err != nil {
		t.Fatal(err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("expected map, got %T", v)
	}
	if m["AirTemp"] != "24.1" {
		t.Errorf("AirTemp = %v", m["AirTemp"])
	}
}

func TestDecode_QuotedJSON(t *testing.T) {
	v, err := Decode(`"[1,2,3]"`)
	if err != nil {
		t.Fatal(err)
	}
	s, ok := v.([]any)
	if !ok || len(s) != 3 {
		t.Fatalf("expected 3-element array, got %#v", v)
	}
}

func TestDecode_Compressed(t *testing.T) {
	raw := deflateB64(t, []byte(`{"Entries":[{"Utc":"2023-09-15T13:08:19.923Z"}]}`))
	v, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("expected map, got %T", v)
	}
	if _, ok := m["Entries"]; !ok {
		t.Error("missing Entries")
	}
}

func TestDecode_QuotedCompressed(t *testing.T) {
	// Archived .z stream lines carry the base64 payload as a JSON string,
	// quotes included.
	raw := `"` + deflateB64(t, []byte(`{"Position":[{"Timestamp":"2023-09-16T13:00:10.000Z"}]}`)) + `"`
	v, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("expected map, got %T", v)
	}
	if _, ok := m["Position"]; !ok {
		t.Error("missing Position")
	}
}

func TestDecode_CompressedWithBOM(t *testing.T) {
	payload := append([]byte{0xEF, 0xBB, 0xBF}, []byte(`{"a":1}`)...)
	v, err := Decode(deflateB64(t, payload))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := v.(map[string]any)["a"]; !ok {
		t.Errorf("got %#v", v)
	}
}

func TestDecode_Malformed(t *testing.T) {
	for _, in := range []string{"!!not base64!!", base64.StdEncoding.EncodeToString([]byte("not deflate"))} {
		_, err := Decode(in)
		if err == nil {
			t.Fatalf("Decode(%q): expected error", in)
		}
		var derr *Error
		if !errors.As(err, &derr) {
			t.Errorf("Decode(%q): expected *Error, got %T", in, err)
		}
	}
}

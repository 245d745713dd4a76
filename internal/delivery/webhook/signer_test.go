package webhook

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSign(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		payload string
		want    string
	}{
		{
			name:    "known vector",
			secret:  "my-secret-key",
			payload: "hello world",
			want:    "sha256=734cc62f32841568f45715aeb9f4d7891324e6d948e4c6c60c0621cdac48623a",
		},
		{
			name:    "empty payload still has prefix",
			secret:  "s",
			payload: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Sign(tt.secret, []byte(tt.payload))
			if !strings.HasPrefix(got, "sha256=") || len(got) != len("sha256=")+64 {
				t.Fatalf("Sign() = %q, want sha256=<64 hex>", got)
			}
			if tt.want != "" && got != tt.want {
				t.Errorf("Sign() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestVerify(t *testing.T) {
	payload := []byte(`{"type":"earthquake_alert"}`)
	sig := Sign("secret", payload)

	tests := []struct {
		name      string
		secret    string
		payload   []byte
		signature string
		want      bool
	}{
		{"valid", "secret", payload, sig, true},
		{"wrong secret", "other", payload, sig, false},
		{"tampered payload", "secret", []byte(`{"type":"x"}`), sig, false},
		{"missing prefix", "secret", payload, strings.TrimPrefix(sig, "sha256="), false},
		{"empty signature", "secret", payload, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Verify(tt.secret, tt.payload, tt.signature); got != tt.want {
				t.Errorf("Verify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReadSigned(t *testing.T) {
	body := `{"magnitude":4.1}`

	tests := []struct {
		name       string
		body       string
		signature  string
		limit      int64
		wantErr    error
		wantAnyErr bool
	}{
		{name: "valid", body: body, signature: Sign("k", []byte(body)), limit: 1024},
		{name: "missing signature", body: body, limit: 1024, wantErr: ErrBadSignature},
		{name: "bad signature", body: body, signature: Sign("other", []byte(body)), limit: 1024, wantErr: ErrBadSignature},
		{name: "too large", body: body, signature: Sign("k", []byte(body)), limit: 4, wantAnyErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/events/ingest", strings.NewReader(tt.body))
			if tt.signature != "" {
				req.Header.Set(SignatureHeader, tt.signature)
			}

			got, err := ReadSigned(req, "k", tt.limit)
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("ReadSigned() error = %v, want %v", err, tt.wantErr)
				}
			case tt.wantAnyErr:
				if err == nil {
					t.Error("ReadSigned() expected error")
				}
			default:
				if err != nil {
					t.Fatalf("ReadSigned() error = %v", err)
				}
				if string(got) != tt.body {
					t.Errorf("ReadSigned() = %q, want %q", got, tt.body)
				}
			}
		})
	}
}

func TestSecrets(t *testing.T) {
	a, err := GenerateSecret()
	if err != nil {
		t.Fatal(err)
	}
	b, _ := GenerateSecret()
	if a == b {
		t.Error("secrets should be unique")
	}
	if !strings.HasPrefix(a, SecretPrefix) || len(a) != len(SecretPrefix)+2*SecretLength {
		t.Errorf("GenerateSecret() = %q", a)
	}

	if got := MaskSecret("short"); got != "****" {
		t.Errorf("MaskSecret(short) = %q", got)
	}
	if got := MaskSecret("qc_0123456789abcdef"); got != "qc_0123...cdef" {
		t.Errorf("MaskSecret() = %q", got)
	}
}

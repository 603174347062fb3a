package trust

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandpolis/sandpolis/internal/testutil"
)

var quiet = WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

func TestAcceptAll(t *testing.T) {
	assert.True(t, AcceptAll(nil))
	assert.True(t, AcceptAll(testutil.SelfSignedCertificate(t, "anyone").Certificate))
}

func TestParseEngine(t *testing.T) {
	tests := []struct {
		in      string
		want    Engine
		wantErr bool
	}{
		{"", EngineNone, false},
		{"none", EngineNone, false},
		{"CEL", EngineCEL, false},
		{" expr ", EngineExpr, false},
		{"js", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseEngine(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownEngine)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompile_None(t *testing.T) {
	v, err := Compile(EngineNone, "ignored", quiet)
	require.NoError(t, err)
	assert.True(t, v(nil))
}

func TestCompile_Policies(t *testing.T) {
	trusted := testutil.SelfSignedCertificate(t, "sandpolis.com").Certificate
	stranger := testutil.SelfSignedCertificate(t, "example.org").Certificate
	now := testutil.Epoch

	for _, engine := range []Engine{EngineCEL, EngineExpr} {
		t.Run(string(engine), func(t *testing.T) {
			tests := []struct {
				name       string
				expression string
				cert       bool
				want       map[string]bool
			}{
				{
					name:       "common name",
					expression: `cert.common_name == "sandpolis.com"`,
					want:       map[string]bool{"trusted": true, "stranger": false, "missing": false},
				},
				{
					name:       "present",
					expression: `cert.present`,
					want:       map[string]bool{"trusted": true, "stranger": true, "missing": false},
				},
				{
					name:       "reject self signed",
					expression: `cert.present && !cert.self_signed`,
					want:       map[string]bool{"trusted": false, "stranger": false, "missing": false},
				},
				{
					name:       "validity window",
					expression: `cert.present && cert.not_before < now && now < cert.not_after`,
					want:       map[string]bool{"trusted": true, "stranger": true, "missing": false},
				},
			}

			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					v, err := Compile(engine, tt.expression, quiet, WithNow(func() time.Time { return now }))
					require.NoError(t, err)

					assert.Equal(t, tt.want["trusted"], v(trusted), "trusted")
					assert.Equal(t, tt.want["stranger"], v(stranger), "stranger")
					assert.Equal(t, tt.want["missing"], v(nil), "missing")
				})
			}
		})
	}
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name       string
		engine     Engine
		expression string
	}{
		{"empty cel", EngineCEL, "  "},
		{"cel syntax", EngineCEL, "cert.present &&"},
		{"cel not bool", EngineCEL, `"yes"`},
		{"expr syntax", EngineExpr, "cert.present &&"},
		{"expr not bool", EngineExpr, `"yes"`},
		{"unknown engine", Engine("lua"), "true"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.engine, tt.expression, quiet)
			assert.Error(t, err)
		})
	}
}

func TestFacts(t *testing.T) {
	generated := testutil.SelfSignedCertificate(t, "facts.test")
	facts := Facts(generated.Certificate)

	assert.Equal(t, true, facts["present"])
	assert.Equal(t, "facts.test", facts["common_name"])
	assert.Equal(t, []string{"facts.test"}, facts["dns_names"])
	assert.Equal(t, true, facts["self_signed"])
	sum := sha256.Sum256(generated.Certificate.Raw)
	assert.Equal(t, hex.EncodeToString(sum[:]), facts["fingerprint"])

	missing := Facts(nil)
	assert.Equal(t, false, missing["present"])
}

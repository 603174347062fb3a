package trust

import (
	"bytes"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Verifier reports whether cert is trusted. cert is nil when the plugin
// carries no certificate.
type Verifier func(cert *x509.Certificate) bool

// AcceptAll trusts every certificate. INSECURE.
func AcceptAll(*x509.Certificate) bool { return true }

// Engine names an expression language.
type Engine string

const (
	// EngineNone selects AcceptAll.
	EngineNone Engine = "none"
	EngineCEL  Engine = "cel"
	EngineExpr Engine = "expr"
)

// ErrUnknownEngine is returned by ParseEngine and Compile.
var ErrUnknownEngine = errors.New("trust: unknown policy engine")

// ParseEngine maps a configuration value to an Engine. The empty string
// selects EngineNone.
func ParseEngine(name string) (Engine, error) {
	switch e := Engine(strings.ToLower(strings.TrimSpace(name))); e {
	case "", EngineNone:
		return EngineNone, nil
	case EngineCEL, EngineExpr:
		return e, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEngine, name)
	}
}

// Option configures a compiled Verifier.
type Option func(*options)

type options struct {
	now    func() time.Time
	logger *slog.Logger
}

// WithNow sets the clock bound to the now variable.
func WithNow(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithLogger sets the logger used to report evaluation errors.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Compile builds a Verifier from a policy expression. EngineNone ignores
// expression and returns AcceptAll. A policy that fails to evaluate
// rejects the certificate.
func Compile(engine Engine, expression string, opts ...Option) (Verifier, error) {
	o := options{now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	if engine == "" || engine == EngineNone {
		o.logger.Warn("plugin certificate verification disabled; every plugin is trusted")
		return AcceptAll, nil
	}
	if strings.TrimSpace(expression) == "" {
		return nil, fmt.Errorf("trust: %s policy expression must not be empty", engine)
	}

	var (
		eval func(facts map[string]any, now time.Time) (bool, error)
		err  error
	)
	switch engine {
	case EngineCEL:
		eval, err = compileCEL(expression)
	case EngineExpr:
		eval, err = compileExpr(expression)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, engine)
	}
	if err != nil {
		return nil, fmt.Errorf("trust: compile %s policy: %w", engine, err)
	}

	return func(cert *x509.Certificate) bool {
		ok, err := eval(Facts(cert), o.now())
		if err != nil {
			o.logger.Error("trust policy evaluation failed",
				"engine", string(engine),
				"error", err)
			return false
		}
		return ok
	}, nil
}

// Facts returns the certificate fields exposed to policies:
//
//	present      bool
//	subject      string
//	issuer       string
//	common_name  string
//	organization list of string
//	dns_names    list of string
//	serial       string, lowercase hex
//	not_before   timestamp
//	not_after    timestamp
//	fingerprint  string, lowercase hex SHA-256 of the DER encoding
//	self_signed  bool
func Facts(cert *x509.Certificate) map[string]any {
	if cert == nil {
		return map[string]any{
			"present":      false,
			"subject":      "",
			"issuer":       "",
			"common_name":  "",
			"organization": []string{},
			"dns_names":    []string{},
			"serial":       "",
			"not_before":   time.Unix(0, 0).UTC(),
			"not_after":    time.Unix(0, 0).UTC(),
			"fingerprint":  "",
			"self_signed":  false,
		}
	}

	sum := sha256.Sum256(cert.Raw)
	serial := ""
	if cert.SerialNumber != nil {
		serial = cert.SerialNumber.Text(16)
	}
	return map[string]any{
		"present":      true,
		"subject":      cert.Subject.String(),
		"issuer":       cert.Issuer.String(),
		"common_name":  cert.Subject.CommonName,
		"organization": nonNil(cert.Subject.Organization),
		"dns_names":    nonNil(cert.DNSNames),
		"serial":       serial,
		"not_before":   cert.NotBefore.UTC(),
		"not_after":    cert.NotAfter.UTC(),
		"fingerprint":  hex.EncodeToString(sum[:]),
		"self_signed":  selfSigned(cert),
	}
}

func selfSigned(cert *x509.Certificate) bool {
	if !bytes.Equal(cert.RawSubject, cert.RawIssuer) {
		return false
	}
	return cert.CheckSignatureFrom(cert) == nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Package settings serves the store-wide values every pricing operation reads
// once: the local currency, its exchange rate against USD and the payment
// methods customers can pick at checkout.
package settings

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"storefront/backend/internal/currency"
)

type PaymentMethod struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Instructions    string          `json:"instructions"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
}

// Snapshot is an immutable copy of the settings taken at one instant.
type Snapshot struct {
	LocalCurrency  string
	ExchangeRate   decimal.Decimal
	PaymentMethods []PaymentMethod
}

func (s Snapshot) PaymentMethod(id string) (PaymentMethod, bool) {
	for _, m := range s.PaymentMethods {
		if m.ID == id {
			return m, true
		}
	}
	return PaymentMethod{}, false
}

// AcceptsCurrency reports whether code is USD or the local currency.
func (s Snapshot) AcceptsCurrency(code string) bool {
	code = currency.Normalize(code)
	return code == currency.USD || code == currency.Normalize(s.LocalCurrency)
}

// RateFor returns local units per USD for code; one for USD.
func (s Snapshot) RateFor(code string) decimal.Decimal {
	return currency.RateFor(code, s.ExchangeRate)
}

type Provider interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// PaymentDiscount is the amount method takes off base, rounded to cents.
func PaymentDiscount(method PaymentMethod, base decimal.Decimal) decimal.Decimal {
	if !method.DiscountPercent.IsPositive() || !base.IsPositive() {
		return decimal.Zero
	}
	return currency.Round(base.Mul(method.DiscountPercent).Div(decimal.NewFromInt(100)))
}

func DefaultSnapshot() Snapshot {
	return Snapshot{
		LocalCurrency: "VES",
		ExchangeRate:  decimal.RequireFromString("36.50"),
		PaymentMethods: []PaymentMethod{
			{ID: "zelle", Name: "Zelle", Instructions: "Send the total in USD to pagos@example.com", DiscountPercent: decimal.Zero},
			{ID: "mobile-pay", Name: "Pago Movil", Instructions: "Pay the total in VES at the day's rate", DiscountPercent: decimal.Zero},
			{ID: "cash-usd", Name: "Cash USD", Instructions: "Pay on pickup", DiscountPercent: decimal.NewFromInt(5)},
		},
	}
}

// Static always returns the same snapshot.
type Static Snapshot

func (s Static) Snapshot(_ context.Context) (Snapshot, error) {
	snap := Snapshot(s)
	snap.PaymentMethods = append([]PaymentMethod(nil), s.PaymentMethods...)
	return snap, nil
}

type fileMethod struct {
	ID              string `yaml:"id"`
	Name            string `yaml:"name"`
	Instructions    string `yaml:"instructions"`
	DiscountPercent string `yaml:"discount_percent"`
}

type fileSettings struct {
	LocalCurrency  string       `yaml:"local_currency"`
	ExchangeRate   string       `yaml:"exchange_rate"`
	PaymentMethods []fileMethod `yaml:"payment_methods"`
}

// FileProvider reads a YAML settings file and re-reads it whenever its
// modification time changes.
type FileProvider struct {
	path string

	mu      sync.Mutex
	modTime time.Time
	current Snapshot
}

func NewFileProvider(path string) (*FileProvider, error) {
	if !filepath.IsAbs(path) {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		path = filepath.Join(wd, path)
	}

	p := &FileProvider{path: path}
	if _, err := p.Snapshot(context.Background()); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *FileProvider) Snapshot(_ context.Context) (Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	info, err := os.Stat(p.path)
	if err != nil {
		if !p.modTime.IsZero() {
			zap.L().Warn("settings file unavailable, serving last snapshot", zap.String("path", p.path), zap.Error(err))
			return p.current.clone(), nil
		}
		return Snapshot{}, fmt.Errorf("unable to stat %s: %w", p.path, err)
	}
	if info.ModTime().Equal(p.modTime) {
		return p.current.clone(), nil
	}

	snap, err := Load(p.path)
	if err != nil {
		if !p.modTime.IsZero() {
			zap.L().Warn("settings reload failed, serving last snapshot", zap.String("path", p.path), zap.Error(err))
			return p.current.clone(), nil
		}
		return Snapshot{}, err
	}
	p.current = snap
	p.modTime = info.ModTime()
	zap.L().Info("settings loaded",
		zap.String("path", p.path),
		zap.String("local_currency", snap.LocalCurrency),
		zap.String("exchange_rate", snap.ExchangeRate.String()),
		zap.Int("payment_methods", len(snap.PaymentMethods)),
	)
	return snap.clone(), nil
}

// Load parses and validates a settings file.
func Load(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("unable to read %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (Snapshot, error) {
	var raw fileSettings
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Snapshot{}, fmt.Errorf("unable to parse settings: %w", err)
	}

	snap := Snapshot{LocalCurrency: currency.Normalize(raw.LocalCurrency)}
	if snap.LocalCurrency == "" {
		return Snapshot{}, fmt.Errorf("settings: local_currency is required")
	}
	rate, err := decimal.NewFromString(strings.TrimSpace(raw.ExchangeRate))
	if err != nil || !rate.IsPositive() {
		return Snapshot{}, fmt.Errorf("settings: exchange_rate must be a positive number, got %q", raw.ExchangeRate)
	}
	snap.ExchangeRate = rate

	seen := make(map[string]struct{}, len(raw.PaymentMethods))
	for i, m := range raw.PaymentMethods {
		if m.ID == "" {
			return Snapshot{}, fmt.Errorf("payment method at index %d missing id", i)
		}
		if _, dup := seen[m.ID]; dup {
			return Snapshot{}, fmt.Errorf("payment method %q declared twice", m.ID)
		}
		seen[m.ID] = struct{}{}

		pct := decimal.Zero
		if s := strings.TrimSpace(m.DiscountPercent); s != "" {
			pct, err = decimal.NewFromString(s)
			if err != nil || pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(100)) {
				return Snapshot{}, fmt.Errorf("payment method %q: discount_percent must be between 0 and 100", m.ID)
			}
		}
		snap.PaymentMethods = append(snap.PaymentMethods, PaymentMethod{
			ID:              m.ID,
			Name:            m.Name,
			Instructions:    m.Instructions,
			DiscountPercent: pct,
		})
	}
	return snap, nil
}

func (s Snapshot) clone() Snapshot {
	out := s
	out.PaymentMethods = append([]PaymentMethod(nil), s.PaymentMethods...)
	return out
}

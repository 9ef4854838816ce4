package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/yourorg/accafreeze-engine/internal/model"
)

// Algorithm names a checksum hash function
type Algorithm string

// Supported checksum algorithms
const (
	SHA256    Algorithm = "sha256"
	Keccak256 Algorithm = "keccak256"
)

// DefaultAlgorithm is used for new checksums
const DefaultAlgorithm = SHA256

// ParseAlgorithm validates an algorithm name
func ParseAlgorithm(s string) (Algorithm, error) {
	switch a := Algorithm(strings.ToLower(strings.TrimSpace(s))); a {
	case SHA256, Keccak256:
		return a, nil
	case "":
		return DefaultAlgorithm, nil
	default:
		return "", fmt.Errorf("unsupported checksum algorithm %q", s)
	}
}

// Fields are the published values covered by the checksum
type Fields struct {
	FixtureID   string
	LambdaHome  float64
	LambdaAway  float64
	MarketID    model.MarketID
	Probability float64
	Odds        float64
	EVAdjusted  float64
	Confidence  float64
	PublishedAt time.Time
}

// FieldsOf extracts the checksummed fields of a prediction
func FieldsOf(p model.PublishedPrediction) Fields {
	return Fields{
		FixtureID:   p.FixtureID,
		LambdaHome:  p.LambdaHome,
		LambdaAway:  p.LambdaAway,
		MarketID:    p.MarketID,
		Probability: p.Probability,
		Odds:        p.Odds,
		EVAdjusted:  p.EVAdjusted,
		Confidence:  p.Confidence,
		PublishedAt: p.PublishedAt,
	}
}

// Canonical returns the pipe-joined, fixed-precision representation that is
// hashed. Changing it invalidates every stored checksum.
func (f Fields) Canonical() string {
	return strings.Join([]string{
		f.FixtureID,
		fixed(f.LambdaHome, 4),
		fixed(f.LambdaAway, 4),
		string(f.MarketID),
		fixed(f.Probability, 4),
		fixed(f.Odds, 3),
		fixed(f.EVAdjusted, 4),
		fixed(f.Confidence, 2),
		f.PublishedAt.UTC().Format(time.RFC3339),
	}, "|")
}

// Checksum hashes the canonical fields and returns "<algo>:<hex>"
func Checksum(f Fields, algo Algorithm) (string, error) {
	digest, err := hash(algo, []byte(f.Canonical()))
	if err != nil {
		return "", err
	}
	return string(algo) + ":" + digest, nil
}

// IntegrityError reports a stored checksum that no longer matches the data
type IntegrityError struct {
	FixtureID string
	Stored    string
	Computed  string
	Reason    string
}

func (e *IntegrityError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("integrity violation for fixture %s: %s", e.FixtureID, e.Reason)
	}
	return fmt.Sprintf("integrity violation for fixture %s: stored %s, computed %s", e.FixtureID, e.Stored, e.Computed)
}

// Verify recomputes the checksum with the algorithm named in stored and
// compares in constant time. Mismatches return *IntegrityError.
func Verify(stored string, f Fields) error {
	prefix, _, ok := strings.Cut(stored, ":")
	if !ok {
		return &IntegrityError{FixtureID: f.FixtureID, Stored: stored, Reason: "malformed checksum"}
	}
	algo, err := ParseAlgorithm(prefix)
	if err != nil {
		return &IntegrityError{FixtureID: f.FixtureID, Stored: stored, Reason: err.Error()}
	}

	computed, err := Checksum(f, algo)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(computed)) != 1 {
		return &IntegrityError{FixtureID: f.FixtureID, Stored: stored, Computed: computed}
	}
	return nil
}

func hash(algo Algorithm, data []byte) (string, error) {
	switch algo {
	case SHA256:
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:]), nil
	case Keccak256:
		return hex.EncodeToString(crypto.Keccak256(data)), nil
	default:
		return "", fmt.Errorf("unsupported checksum algorithm %q", algo)
	}
}

func fixed(v float64, places int32) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return decimal.NewFromFloat(v).StringFixed(places)
}

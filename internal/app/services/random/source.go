package random

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/crypto/sha3"

	domain "github.com/R3E-Network/raffle_layer/internal/app/domain/random"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
)

// WordSource produces the random words delivered for a request.
type WordSource interface {
	Words(ctx context.Context, id domain.RequestID, n uint32) ([]*big.Int, error)
}

const wordSize = 32

// CryptoSource draws words from crypto/rand.
type CryptoSource struct {
	log *logger.Logger
}

var _ WordSource = (*CryptoSource)(nil)

// NewCryptoSource constructs a crypto/rand backed source.
func NewCryptoSource(log *logger.Logger) *CryptoSource {
	if log == nil {
		log = logger.NewDefault("random")
	}
	return &CryptoSource{log: log}
}

// Words returns n independent 256-bit words.
func (s *CryptoSource) Words(ctx context.Context, id domain.RequestID, n uint32) ([]*big.Int, error) {
	if n == 0 {
		return nil, fmt.Errorf("word count must be positive")
	}
	buf := make([]byte, wordSize)
	words := make([]*big.Int, 0, n)
	for i := uint32(0); i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("request %s word %d: read randomness: %w", id, i, err)
		}
		words = append(words, new(big.Int).SetBytes(buf))
	}
	s.log.WithField("request_id", id.String()).Debugf("generated %d random words", n)
	return words, nil
}

// BeaconSource derives words from a public randomness beacon. The beacon
// response is JSON; the hex randomness is read from Field (default
// "randomness"). Word i is keccak256(randomness || request id || i).
type BeaconSource struct {
	client   *http.Client
	endpoint string
	field    string
	log      *logger.Logger
}

var _ WordSource = (*BeaconSource)(nil)

// NewBeaconSource constructs a beacon source polling endpoint.
func NewBeaconSource(client *http.Client, endpoint, field string, log *logger.Logger) (*BeaconSource, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("beacon endpoint required")
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if strings.TrimSpace(field) == "" {
		field = "randomness"
	}
	if log == nil {
		log = logger.NewDefault("random-beacon")
	}
	return &BeaconSource{client: client, endpoint: endpoint, field: field, log: log}, nil
}

func (b *BeaconSource) Words(ctx context.Context, id domain.RequestID, n uint32) ([]*big.Int, error) {
	if n == 0 {
		return nil, fmt.Errorf("word count must be positive")
	}
	seed, err := b.fetch(ctx)
	if err != nil {
		return nil, err
	}

	words := make([]*big.Int, 0, n)
	buf := make([]byte, len(seed)+12)
	copy(buf, seed)
	binary.BigEndian.PutUint64(buf[len(seed):], uint64(id))
	for i := uint32(0); i < n; i++ {
		binary.BigEndian.PutUint32(buf[len(seed)+8:], i)
		h := sha3.NewLegacyKeccak256()
		h.Write(buf)
		words = append(words, new(big.Int).SetBytes(h.Sum(nil)))
	}
	return words, nil
}

func (b *BeaconSource) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build beacon request: %w", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("beacon request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("read beacon response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("beacon returned status %d", resp.StatusCode)
	}

	value := gjson.GetBytes(body, b.field)
	if !value.Exists() || value.String() == "" {
		return nil, fmt.Errorf("beacon response missing %q", b.field)
	}
	seed, err := hex.DecodeString(strings.TrimPrefix(value.String(), "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode beacon randomness: %w", err)
	}
	if round := gjson.GetBytes(body, "round"); round.Exists() {
		b.log.WithField("round", round.Uint()).Debug("beacon randomness fetched")
	}
	return seed, nil
}

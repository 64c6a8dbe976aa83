package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopforge/fulfillment/internal/gateways/shipping"
	"github.com/shopforge/fulfillment/internal/platform/cache"
)

const (
	referenceCouriersKey   = "reference:couriers"
	referenceAreasKeyFmt   = "reference:areas:%s"
	defaultReferenceTTL    = 10 * time.Minute
	maxAreaSearchKeyLength = 64
)

// referenceGateway is the slice of the shipping gateway the reference
// service needs.
type referenceGateway interface {
	Couriers(ctx context.Context) ([]shipping.Courier, error)
	Areas(ctx context.Context, query string) ([]shipping.Area, error)
}

// ReferenceServiceDeps wires the dependencies required by the reference service.
type ReferenceServiceDeps struct {
	Gateway referenceGateway
	Cache   cache.Store
	TTL     time.Duration
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type referenceService struct {
	gateway referenceGateway
	cache   cache.Store
	ttl     time.Duration
	logger  func(ctx context.Context, event string, fields map[string]any)
}

// NewReferenceService constructs a ReferenceService validating required dependencies.
func NewReferenceService(deps ReferenceServiceDeps) (ReferenceService, error) {
	if deps.Gateway == nil {
		return nil, errors.New("reference service: shipping gateway is required")
	}

	store := deps.Cache
	if store == nil {
		store = cache.NewMemoryStore()
	}
	ttl := deps.TTL
	if ttl <= 0 {
		ttl = defaultReferenceTTL
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &referenceService{
		gateway: deps.Gateway,
		cache:   store,
		ttl:     ttl,
		logger:  logger,
	}, nil
}

// Couriers lists the shipping options offered by the gateway. Results are
// cached; a stale-but-present entry is always preferred over a gateway call.
func (s *referenceService) Couriers(ctx context.Context) ([]Courier, error) {
	var cached []Courier
	if ok := s.readCache(ctx, referenceCouriersKey, &cached); ok {
		return cached, nil
	}

	raw, err := s.gateway.Couriers(ctx)
	if err != nil {
		return nil, err
	}

	couriers := make([]Courier, 0, len(raw))
	for _, c := range raw {
		couriers = append(couriers, Courier{
			Code:    c.Code,
			Name:    c.Name,
			Service: c.Service,
		})
	}

	s.writeCache(ctx, referenceCouriersKey, couriers)
	return couriers, nil
}

// Areas lists destination areas matching the search term.
func (s *referenceService) Areas(ctx context.Context, query AreaQuery) ([]Area, error) {
	search := strings.ToLower(strings.TrimSpace(query.Search))
	if len(search) > maxAreaSearchKeyLength {
		search = search[:maxAreaSearchKeyLength]
	}
	key := fmt.Sprintf(referenceAreasKeyFmt, search)

	var cached []Area
	if ok := s.readCache(ctx, key, &cached); ok {
		return cached, nil
	}

	raw, err := s.gateway.Areas(ctx, search)
	if err != nil {
		return nil, err
	}

	areas := make([]Area, 0, len(raw))
	for _, a := range raw {
		areas = append(areas, Area{
			ID:         a.ID,
			Name:       a.Name,
			PostalCode: a.PostalCode,
		})
	}

	s.writeCache(ctx, key, areas)
	return areas, nil
}

func (s *referenceService) readCache(ctx context.Context, key string, out any) bool {
	data, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger(ctx, "reference.cache_read_failed", map[string]any{
			"key":   key,
			"error": err.Error(),
		})
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		s.logger(ctx, "reference.cache_decode_failed", map[string]any{
			"key":   key,
			"error": err.Error(),
		})
		return false
	}
	return true
}

func (s *referenceService) writeCache(ctx context.Context, key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
		s.logger(ctx, "reference.cache_write_failed", map[string]any{
			"key":   key,
			"error": err.Error(),
		})
	}
}

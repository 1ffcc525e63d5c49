package oracle

import "context"

// Waiter blocks until a request for key may proceed
type Waiter interface {
	Wait(ctx context.Context, key string) error
}

type rateLimitedGeocoder struct {
	next   Geocoder
	waiter Waiter
	key    string
}

// RateLimitedGeocoder waits on w under key before each call to g
func RateLimitedGeocoder(g Geocoder, w Waiter, key string) Geocoder {
	if g == nil || w == nil {
		return g
	}
	return &rateLimitedGeocoder{next: g, waiter: w, key: key}
}

func (r *rateLimitedGeocoder) Geocode(ctx context.Context, name string) (*GeocodeResult, error) {
	if err := r.waiter.Wait(ctx, r.key); err != nil {
		return nil, err
	}
	return r.next.Geocode(ctx, name)
}

type rateLimitedValidator struct {
	next   Validator
	waiter Waiter
	key    string
}

// RateLimitedValidator waits on w under key before each call to v
func RateLimitedValidator(v Validator, w Waiter, key string) Validator {
	if v == nil || w == nil {
		return v
	}
	return &rateLimitedValidator{next: v, waiter: w, key: key}
}

func (r *rateLimitedValidator) Validate(ctx context.Context, name, sentence string) (*Validation, error) {
	if err := r.waiter.Wait(ctx, r.key); err != nil {
		return nil, err
	}
	return r.next.Validate(ctx, name, sentence)
}

// GeocoderFunc adapts a function to Geocoder
type GeocoderFunc func(ctx context.Context, name string) (*GeocodeResult, error)

func (f GeocoderFunc) Geocode(ctx context.Context, name string) (*GeocodeResult, error) {
	return f(ctx, name)
}

// ValidatorFunc adapts a function to Validator
type ValidatorFunc func(ctx context.Context, name, sentence string) (*Validation, error)

func (f ValidatorFunc) Validate(ctx context.Context, name, sentence string) (*Validation, error) {
	return f(ctx, name, sentence)
}

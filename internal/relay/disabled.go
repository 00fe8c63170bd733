package relay

import "context"

// Disabled is a real variant, not an absence of call: Put succeeds
// trivially and Get reports nothing stored. It keeps a channel's
// configuration in place while turned off.
type Disabled struct{}

func (Disabled) Kind() Kind                               { return KindDisabled }
func (Disabled) Put(ctx context.Context, p Payload) error { return nil }
func (Disabled) Get(ctx context.Context) (Payload, error) {
	return Payload{}, ErrNotFound
}

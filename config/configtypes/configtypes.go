package configtypes

type contextKey struct {
	name string
}

func (k *contextKey) String() string { return "relay context value " + k.name }

// DryRunContextKey is a context key. It tells the relay to log which targets
// would be updated without contacting any provider.
var DryRunContextKey = &contextKey{"dry-run"}

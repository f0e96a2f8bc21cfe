package driven

// ProviderBuilder creates a fresh Provider instance. Providers hold
// per-session state (API clients, rate limiters), so each sync session
// gets its own instance.
type ProviderBuilder func() Provider

// ProviderFactory creates providers from connector configuration.
// It maintains a registry of provider types and their builders.
type ProviderFactory interface {
	// Create returns a Provider for the given provider type.
	// Returns a provider-not-found error for an unknown type.
	Create(providerType string) (Provider, error)

	// Register adds a provider builder for the given type.
	Register(providerType string, builder ProviderBuilder)

	// SupportedTypes returns all registered provider types.
	SupportedTypes() []string
}

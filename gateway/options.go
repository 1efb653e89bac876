package gateway

// ClientOptions configures the gateway client.
type ClientOptions struct {
	// MaxResponseSize is the maximum allowed size of response bodies.
	MaxResponseSize int64

	// UserAgent is sent with every request when non-empty.
	UserAgent string
}

// DefaultClientOptions returns production-safe defaults.
func DefaultClientOptions() *ClientOptions {
	return &ClientOptions{
		MaxResponseSize: 10 * 1024 * 1024, // 10 MB
		UserAgent:       "shopsync-client",
	}
}

// ClientOption configures a ClientOptions struct.
type ClientOption func(*ClientOptions)

// WithMaxResponseSize sets the maximum allowed size of response bodies.
func WithMaxResponseSize(size int64) ClientOption {
	return func(opts *ClientOptions) {
		opts.MaxResponseSize = size
	}
}

// WithUserAgent sets the User-Agent header value.
func WithUserAgent(ua string) ClientOption {
	return func(opts *ClientOptions) {
		opts.UserAgent = ua
	}
}

// NewClientOptions builds ClientOptions from defaults plus options.
func NewClientOptions(opts ...ClientOption) *ClientOptions {
	options := DefaultClientOptions()
	for _, opt := range opts {
		opt(options)
	}
	return options
}

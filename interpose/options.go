package interpose

// Option configures an Interposer or ObjectHook.
type Option func(*options)

type options struct {
	strategy      IsolationStrategy
	generateSuper bool
	prefix        string
}

func newOptions(opts []Option) options {
	o := options{
		strategy:      ClassPairStrategy{},
		generateSuper: true,
		prefix:        DefaultSubclassPrefix,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithStrategy selects how objects are isolated. The default is
// ClassPairStrategy.
func WithStrategy(s IsolationStrategy) Option {
	return func(o *options) {
		if s != nil {
			o.strategy = s
		}
	}
}

// WithGenerateSuper controls whether object hooks install a super
// trampoline before their first replacement. Without one an object hook
// cannot be reverted. Defaults to true.
func WithGenerateSuper(enabled bool) Option {
	return func(o *options) { o.generateSuper = enabled }
}

// WithSubclassPrefix sets the name prefix of per-object classes.
func WithSubclassPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.prefix = prefix
		}
	}
}

package engine

// Config controls where packages are found and how they are opened.
type Config struct {
	// SearchPaths are scanned in order; the first directory holding a
	// package name wins.
	SearchPaths []string

	// Extensions are the file extensions treated as packages.
	Extensions []string

	// StreamsPerPackage bounds the pool of open file handles kept per
	// package for payload reads.
	StreamsPerPackage int

	// CorePackage names the package whose meta class imports resolve to the
	// built-in intrinsic classes.
	CorePackage string
}

// Default configuration values.
const (
	DefaultStreamsPerPackage = 2
	DefaultCorePackage       = "Core"
)

// DefaultExtensions lists the package file extensions recognized when none
// are configured.
var DefaultExtensions = []string{".u", ".utx", ".uax", ".umx", ".unr"}

func (c Config) withDefaults() Config {
	if len(c.Extensions) == 0 {
		c.Extensions = DefaultExtensions
	}
	if c.StreamsPerPackage <= 0 {
		c.StreamsPerPackage = DefaultStreamsPerPackage
	}
	if c.CorePackage == "" {
		c.CorePackage = DefaultCorePackage
	}
	return c
}

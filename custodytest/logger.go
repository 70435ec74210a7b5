package custodytest

import "github.com/ChainSafe/log15"

// Logger returns a logger that discards everything, keeping test output
// clean.
func Logger() log15.Logger {
	log := log15.New()
	log.SetHandler(log15.DiscardHandler())
	return log
}

package domain

// Symbol describes one tradable currency pair. Immutable for the process
// lifetime.
type Symbol struct {
	ID       int64   // Feed-assigned symbol identifier
	Name     string  // Display name (e.g., "EURUSD")
	PipValue float64 // Smallest meaningful price increment (e.g., 0.0001)
}

// SymbolSet is the static set of configured symbols keyed by feed id.
type SymbolSet map[int64]Symbol

// Names returns the display names of all symbols, for logging.
func (s SymbolSet) Names() []string {
	names := make([]string, 0, len(s))
	for _, sym := range s {
		names = append(names, sym.Name)
	}
	return names
}

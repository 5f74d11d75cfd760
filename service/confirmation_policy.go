package service

// StaticConfirmationPolicy is a fixed currency-to-threshold mapping, built
// from configuration at startup
type StaticConfirmationPolicy map[string]int32

// RequiredConfirmations returns the confirmation threshold for the currency
func (p StaticConfirmationPolicy) RequiredConfirmations(currency string) (int32, bool) {
	required, ok := p[currency]
	return required, ok
}

package core

// Environment selects which BlinkTrade deployment a transport talks to.
type Environment int

// Environment constants.
const (
	// EnvironmentSandbox is the public testnet.
	EnvironmentSandbox Environment = iota
	// EnvironmentProduction is the live exchange.
	EnvironmentProduction
)

// String returns the string representation of the environment ("sandbox" or "production").
func (e Environment) String() string {
	return [...]string{
		"sandbox",
		"production",
	}[e]
}

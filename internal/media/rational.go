package media

import "fmt"

// Rational is a time base expressed as Num/Den seconds per tick.
type Rational struct {
	Num int64 `json:"num"`
	Den int64 `json:"den"`
}

// NewRational creates a new rational number
func NewRational(num, den int64) Rational {
	if den == 0 {
		den = 1
	}
	return Rational{Num: num, Den: den}
}

// Valid reports whether both terms are positive.
func (r Rational) Valid() bool {
	return r.Num > 0 && r.Den > 0
}

// Float64 returns the floating point representation
func (r Rational) Float64() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

// Invert returns the inverted rational (den/num)
func (r Rational) Invert() Rational {
	return Rational{Num: r.Den, Den: r.Num}
}

func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// Common time bases
var (
	TimeBase90kHz = Rational{Num: 1, Den: 90000}
	TimeBase1kHz  = Rational{Num: 1, Den: 1000}
	TimeBaseMicro = Rational{Num: 1, Den: 1000000}
	TimeBase48kHz = Rational{Num: 1, Den: 48000}
)

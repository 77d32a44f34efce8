package promo

// Observation is one historical outcome: the arm actually applied to a product and the profit
// that followed, together with the features the product had at the time.
type Observation struct {
	ProductID      string
	Features       map[string]float64
	Arm            Arm
	RealizedProfit float64
}
